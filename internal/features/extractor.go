// Package features derives the fixed feature vector consumed by the
// scoring ensemble.
package features

import (
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Extractor builds feature vectors from a transaction amount and its
// historical context. The clock is injectable so tests can freeze it;
// hour-of-day and is-weekend are derived from the time of scoring, not
// the transaction timestamp.
type Extractor struct {
	now func() time.Time
}

// NewExtractor creates an extractor using the wall clock.
func NewExtractor() *Extractor {
	return &Extractor{now: time.Now}
}

// NewExtractorWithClock creates an extractor with a custom clock.
func NewExtractorWithClock(now func() time.Time) *Extractor {
	if now == nil {
		now = time.Now
	}
	return &Extractor{now: now}
}

// Extract derives the ten-feature vector. There are no error paths:
// inputs are pre-validated and every context field carries a safe default.
func (e *Extractor) Extract(amount float64, hc domain.HistoricalContext) domain.FeatureVector {
	std := hc.StdAmount
	if std <= 0 {
		std = domain.DefaultStdAmount
	}

	now := e.now()
	weekend := 0.0
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		weekend = 1.0
	}

	return domain.FeatureVector{
		Amount:         amount,
		Velocity:       float64(hc.TransactionsLastHour),
		AmountZScore:   (amount - hc.AvgAmount) / std,
		TimeSinceLast:  hc.MinutesSinceLast,
		LocationChange: boolToFloat(hc.LocationChanged),
		MerchantRisk:   hc.MerchantRisk,
		HourOfDay:      float64(now.Hour()),
		IsWeekend:      weekend,
		DeviceChange:   boolToFloat(hc.DeviceChanged),
		IPReputation:   hc.IPReputation,
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}
