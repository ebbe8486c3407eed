// Package scoring implements the multi-model fraud risk ensemble:
// three independent sub-scorers, a weighted combiner and a narrative
// explainer. All scoring is pure computation over the feature vector;
// no I/O happens inside this package.
package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// anomalyScore approximates an isolation-forest style outlier measure
// as a weighted blend of five normalised anomaly signals. The result
// is clamped to [0,1].
func anomalyScore(fv domain.FeatureVector) float64 {
	zsev := math.Min(1, math.Abs(fv.AmountZScore)/3)
	vsev := math.Min(1, fv.Velocity/20)
	tsev := math.Max(0, 1-fv.TimeSinceLast/60)
	chg := 0.3 * (fv.LocationChange + fv.DeviceChange)
	ext := 0.4 * (fv.MerchantRisk + (1 - fv.IPReputation))

	score := 0.25*zsev + 0.30*vsev + 0.15*tsev + 0.15*chg + 0.15*ext
	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
