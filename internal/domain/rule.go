package domain

// RuleConfig defines a custom overlay rule: a tenant-authored CEL
// expression evaluated against the feature vector. Overlay rules add
// flags and reasons to a prediction; they never change the ensemble score.
type RuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over the feature variables; must return bool.
	Expression string `json:"expression"`

	// Reason is the human-readable message attached when the rule fires.
	Reason string `json:"reason"`

	// Whether rule is active
	Enabled bool `json:"enabled"`
}
