package domain

import (
	"fmt"
	"math"
	"time"
)

// EnsembleWeights are the fixed mixing weights for the three sub-models.
// They must sum to exactly 1.0.
type EnsembleWeights struct {
	Anomaly  float64 `json:"anomaly"`
	Rule     float64 `json:"rule_based"`
	Velocity float64 `json:"velocity_model"`
}

// ModelConfig holds every tunable constant of the scoring ensemble:
// sub-model weights, the per-feature importance table and the risk-level
// thresholds. A config is immutable after construction; callers hold
// their own instance or share one behind a read-only handle. There is
// no package-level singleton.
type ModelConfig struct {
	Version string `json:"version"`

	Weights EnsembleWeights `json:"weights"`

	// FeatureImportance maps each of the ten feature names to its
	// importance weight. The table must cover every feature and sum to 1.0.
	FeatureImportance map[string]float64 `json:"featureImportance"`

	// Risk-level thresholds on the 0-100 risk score.
	HighThreshold   float64 `json:"highThreshold"`
	MediumThreshold float64 `json:"mediumThreshold"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// DefaultModelConfig returns the production scoring constants.
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		Version: "kestrel-1.0",
		Weights: EnsembleWeights{
			Anomaly:  0.4,
			Rule:     0.3,
			Velocity: 0.3,
		},
		FeatureImportance: map[string]float64{
			"amount":          0.18,
			"velocity":        0.25,
			"amount_zscore":   0.15,
			"time_since_last": 0.12,
			"location_change": 0.08,
			"merchant_risk":   0.07,
			"hour_of_day":     0.05,
			"is_weekend":      0.03,
			"device_change":   0.04,
			"ip_reputation":   0.03,
		},
		HighThreshold:   70,
		MediumThreshold: 40,
	}
}

// weightSumTolerance absorbs float accumulation error when checking
// that weight tables sum to 1.0.
const weightSumTolerance = 1e-9

// Validate checks the structural invariants of the config.
func (c *ModelConfig) Validate() error {
	wsum := c.Weights.Anomaly + c.Weights.Rule + c.Weights.Velocity
	if math.Abs(wsum-1.0) > weightSumTolerance {
		return fmt.Errorf("ensemble weights must sum to 1.0, got %v", wsum)
	}
	if c.Weights.Anomaly < 0 || c.Weights.Rule < 0 || c.Weights.Velocity < 0 {
		return fmt.Errorf("ensemble weights must be non-negative")
	}

	var isum float64
	for _, name := range FeatureNames {
		w, ok := c.FeatureImportance[name]
		if !ok {
			return fmt.Errorf("feature importance missing entry for %q", name)
		}
		if w < 0 {
			return fmt.Errorf("feature importance for %q must be non-negative", name)
		}
		isum += w
	}
	if len(c.FeatureImportance) != FeatureCount {
		return fmt.Errorf("feature importance must have exactly %d entries, got %d",
			FeatureCount, len(c.FeatureImportance))
	}
	if math.Abs(isum-1.0) > weightSumTolerance {
		return fmt.Errorf("feature importance must sum to 1.0, got %v", isum)
	}

	if c.HighThreshold <= c.MediumThreshold {
		return fmt.Errorf("high threshold (%v) must exceed medium threshold (%v)",
			c.HighThreshold, c.MediumThreshold)
	}
	return nil
}
