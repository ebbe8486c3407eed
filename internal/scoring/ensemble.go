package scoring

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// maxContributions is the number of feature contributions reported per
// prediction.
const maxContributions = 5

// combine mixes the three sub-scores into the fraud probability using
// the configured ensemble weights. The result is clamped to [0,1].
func combine(sub domain.SubScores, w domain.EnsembleWeights) float64 {
	p := w.Anomaly*sub.Anomaly + w.Rule*sub.Rule + w.Velocity*sub.Velocity
	return clamp01(p)
}

// riskLevel buckets a 0-100 risk score using the configured thresholds.
func riskLevel(score float64, cfg *domain.ModelConfig) (level, recommendation string) {
	switch {
	case score >= cfg.HighThreshold:
		return domain.RiskHigh, domain.RecommendHigh
	case score >= cfg.MediumThreshold:
		return domain.RiskMedium, domain.RecommendMedium
	default:
		return domain.RiskLow, domain.RecommendLow
	}
}

// confidence measures sub-model agreement: 1 minus the population
// standard deviation of the three sub-scores, rounded to 3dp. Equal
// sub-scores give exactly 1.0.
func confidence(sub domain.SubScores) float64 {
	mean := (sub.Anomaly + sub.Rule + sub.Velocity) / 3
	variance := (sq(sub.Anomaly-mean) + sq(sub.Rule-mean) + sq(sub.Velocity-mean)) / 3
	return round3(1 - math.Sqrt(variance))
}

func sq(v float64) float64 { return v * v }

// contributions attributes the final score across the input features:
// importance x saturated feature value x score, as a signed percentage.
// The top entries by absolute value are returned, largest first; ties
// keep feature-vector order so output is deterministic.
func contributions(fv domain.FeatureVector, probability float64, importance map[string]float64) []domain.FeatureContribution {
	vals := fv.Values()
	out := make([]domain.FeatureContribution, 0, domain.FeatureCount)
	for i, name := range domain.FeatureNames {
		v := vals[i]
		saturated := v / (math.Abs(v) + 1)
		c := importance[name] * saturated * probability * 100
		out = append(out, domain.FeatureContribution{
			Feature:      name,
			Contribution: round2(c),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].Contribution) > math.Abs(out[j].Contribution)
	})
	if len(out) > maxContributions {
		out = out[:maxContributions]
	}
	return out
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
