package scoring

import (
	"github.com/opensource-finance/kestrel/internal/domain"
)

// velocityModelScore rates transaction pacing: a step function of the
// hourly count blended 70/30 with a step function of the gap since the
// previous transaction.
func velocityModelScore(fv domain.FeatureVector) float64 {
	var velRisk float64
	switch {
	case fv.Velocity <= 1:
		velRisk = 0.1
	case fv.Velocity <= 3:
		velRisk = 0.3
	case fv.Velocity <= 5:
		velRisk = 0.5
	case fv.Velocity <= 10:
		velRisk = 0.7
	default:
		velRisk = 0.9
	}

	var timeRisk float64
	switch {
	case fv.TimeSinceLast >= 60:
		timeRisk = 0.1
	case fv.TimeSinceLast >= 30:
		timeRisk = 0.3
	case fv.TimeSinceLast >= 10:
		timeRisk = 0.5
	case fv.TimeSinceLast >= 5:
		timeRisk = 0.7
	default:
		timeRisk = 0.9
	}

	return clamp01(0.7*velRisk + 0.3*timeRisk)
}
