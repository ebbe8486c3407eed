package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// explainContributionFloor is the minimum absolute contribution, in
// score points, for a feature to appear in the narrative.
const explainContributionFloor = 5.0

// explainTopFeatures caps how many contributing factors the narrative lists.
const explainTopFeatures = 3

// Explainer renders a human-readable narrative for a prediction. It is
// stateless and safe for concurrent use.
type Explainer struct{}

// NewExplainer creates an explainer.
func NewExplainer() *Explainer {
	return &Explainer{}
}

// Explain builds the narrative for a prediction. The narrative is
// derived entirely from the prediction itself, so explaining never
// re-scores.
func (e *Explainer) Explain(pred *domain.Prediction) *domain.Explanation {
	parts := []string{
		fmt.Sprintf("**%s RISK** (Score: %.1f/100)", pred.RiskLevel, pred.RiskScore),
	}

	agreement := "show some disagreement"
	if pred.ModelConfidence > 0.8 {
		agreement = "agree strongly"
	}
	parts = append(parts, fmt.Sprintf("Model confidence: %.1f%% - models %s",
		pred.ModelConfidence*100, agreement))

	if pred.Degraded {
		parts = append(parts, "Note: degraded scoring mode, rule-based model only")
	}

	if len(pred.TriggeredRules) > 0 {
		var b strings.Builder
		b.WriteString("Triggered rules:")
		for _, r := range pred.TriggeredRules {
			b.WriteString("\n  - ")
			b.WriteString(r)
		}
		parts = append(parts, b.String())
	}

	if factors := topFactors(pred.Contributions); len(factors) > 0 {
		var b strings.Builder
		b.WriteString("Top contributing factors:")
		for _, c := range factors {
			b.WriteString(fmt.Sprintf("\n  - %s: %+.1f points", c.Feature, c.Contribution))
		}
		parts = append(parts, b.String())
	}

	parts = append(parts, fmt.Sprintf("Recommendation: %s", pred.Recommendation))

	return &domain.Explanation{
		Prediction:       *pred,
		ExplanationText:  strings.Join(parts, "\n"),
		ExplanationParts: parts,
	}
}

// topFactors keeps contributions that materially moved the score.
// Input is already sorted by absolute value.
func topFactors(contribs []domain.FeatureContribution) []domain.FeatureContribution {
	out := make([]domain.FeatureContribution, 0, explainTopFeatures)
	for _, c := range contribs {
		if math.Abs(c.Contribution) <= explainContributionFloor {
			continue
		}
		out = append(out, c)
		if len(out) == explainTopFeatures {
			break
		}
	}
	return out
}
