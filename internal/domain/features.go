package domain

// FeatureVector is the fixed, ordered set of numeric features derived
// from a transaction and its historical context. Exactly ten features,
// always in the same order.
type FeatureVector struct {
	Amount         float64 `json:"amount"`
	Velocity       float64 `json:"velocity"`
	AmountZScore   float64 `json:"amount_zscore"`
	TimeSinceLast  float64 `json:"time_since_last"`
	LocationChange float64 `json:"location_change"` // 0 or 1
	MerchantRisk   float64 `json:"merchant_risk"`
	HourOfDay      float64 `json:"hour_of_day"` // 0-23
	IsWeekend      float64 `json:"is_weekend"`  // 0 or 1
	DeviceChange   float64 `json:"device_change"` // 0 or 1
	IPReputation   float64 `json:"ip_reputation"`
}

// FeatureNames lists the feature names in vector order.
var FeatureNames = []string{
	"amount",
	"velocity",
	"amount_zscore",
	"time_since_last",
	"location_change",
	"merchant_risk",
	"hour_of_day",
	"is_weekend",
	"device_change",
	"ip_reputation",
}

// FeatureCount is the fixed vector length.
const FeatureCount = 10

// Values returns the feature values in the order of FeatureNames.
func (f FeatureVector) Values() [FeatureCount]float64 {
	return [FeatureCount]float64{
		f.Amount,
		f.Velocity,
		f.AmountZScore,
		f.TimeSinceLast,
		f.LocationChange,
		f.MerchantRisk,
		f.HourOfDay,
		f.IsWeekend,
		f.DeviceChange,
		f.IPReputation,
	}
}
