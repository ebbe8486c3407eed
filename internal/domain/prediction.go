package domain

import (
	"time"
)

// Risk level buckets derived from the numeric risk score.
const (
	RiskLow    = "LOW"
	RiskMedium = "MEDIUM"
	RiskHigh   = "HIGH"
)

// Recommendations attached to each risk level.
const (
	RecommendHigh   = "Block transaction and investigate immediately"
	RecommendMedium = "Require additional verification before processing"
	RecommendLow    = "Process normally, continue monitoring"
)

// SubScores holds the individual sub-model scores, each in [0,1].
type SubScores struct {
	Anomaly  float64 `json:"anomaly"`
	Rule     float64 `json:"rule_based"`
	Velocity float64 `json:"velocity_model"`
}

// FeatureContribution attributes a signed percentage of the final score
// to a single input feature.
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"` // signed percentage, 2dp
}

// Prediction is the complete output of a scoring call. It is a
// request-scoped value: produced fresh every call, no identity, no
// lifecycle beyond the response.
type Prediction struct {
	ID       string `json:"id,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	TxID     string `json:"txId,omitempty"`

	RiskScore        float64 `json:"riskScore"`        // 0-100, 2dp
	FraudProbability float64 `json:"fraudProbability"` // 0-1, 3dp
	RiskLevel        string  `json:"riskLevel"`        // LOW/MEDIUM/HIGH
	ModelConfidence  float64 `json:"modelConfidence"`  // 1 - stddev of sub-scores

	SubScores      SubScores             `json:"modelScores"`
	TriggeredRules []string              `json:"triggeredRules"`
	Contributions  []FeatureContribution `json:"featureContributions"` // top-5 by |value|
	Recommendation string                `json:"recommendation"`

	// OverlayFlags are tenant-authored rule results. They annotate the
	// prediction and never feed back into the score.
	OverlayFlags []RuleFlag `json:"overlayFlags,omitempty"`

	// Degraded is set when the full ensemble failed and the prediction
	// fell back to the rule-based sub-scorer alone.
	Degraded bool `json:"degraded,omitempty"`

	ModelVersion string    `json:"modelVersion,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Explanation is a Prediction plus its rendered narrative.
type Explanation struct {
	Prediction
	ExplanationText  string   `json:"explanationText"`
	ExplanationParts []string `json:"explanationParts"`
}

// RuleFlag is the result of one custom overlay rule evaluation.
type RuleFlag struct {
	RuleID    string  `json:"ruleId"`
	Name      string  `json:"name,omitempty"`
	Triggered bool    `json:"triggered"`
	Score     float64 `json:"score"`
	Reason    string  `json:"reason,omitempty"`
	ProcessMs int64   `json:"processMs,omitempty"`
}
