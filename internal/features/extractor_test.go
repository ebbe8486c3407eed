package features

import (
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// tuesdayNoon is a fixed weekday clock: 2026-03-03 12:00 UTC.
func tuesdayNoon() time.Time {
	return time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
}

// saturdayNight is a fixed weekend clock: 2026-03-07 23:00 UTC.
func saturdayNight() time.Time {
	return time.Date(2026, 3, 7, 23, 0, 0, 0, time.UTC)
}

func TestExtract(t *testing.T) {
	ex := NewExtractorWithClock(tuesdayNoon)

	hc := domain.HistoricalContext{
		TransactionsLastHour: 4,
		AvgAmount:            100,
		StdAmount:            50,
		MinutesSinceLast:     12.5,
		LocationChanged:      true,
		DeviceChanged:        false,
		MerchantRisk:         0.3,
		IPReputation:         0.9,
	}

	fv := ex.Extract(250, hc)

	if fv.Amount != 250 {
		t.Errorf("Amount = %v, want 250", fv.Amount)
	}
	if fv.Velocity != 4 {
		t.Errorf("Velocity = %v, want 4", fv.Velocity)
	}
	if got, want := fv.AmountZScore, (250.0-100.0)/50.0; got != want {
		t.Errorf("AmountZScore = %v, want %v", got, want)
	}
	if fv.TimeSinceLast != 12.5 {
		t.Errorf("TimeSinceLast = %v, want 12.5", fv.TimeSinceLast)
	}
	if fv.LocationChange != 1 {
		t.Errorf("LocationChange = %v, want 1", fv.LocationChange)
	}
	if fv.DeviceChange != 0 {
		t.Errorf("DeviceChange = %v, want 0", fv.DeviceChange)
	}
	if fv.MerchantRisk != 0.3 {
		t.Errorf("MerchantRisk = %v, want 0.3", fv.MerchantRisk)
	}
	if fv.IPReputation != 0.9 {
		t.Errorf("IPReputation = %v, want 0.9", fv.IPReputation)
	}
	if fv.HourOfDay != 12 {
		t.Errorf("HourOfDay = %v, want 12", fv.HourOfDay)
	}
	if fv.IsWeekend != 0 {
		t.Errorf("IsWeekend = %v, want 0", fv.IsWeekend)
	}
}

func TestExtractWeekend(t *testing.T) {
	ex := NewExtractorWithClock(saturdayNight)

	fv := ex.Extract(100, domain.HistoricalContext{AvgAmount: 100, StdAmount: 50})

	if fv.IsWeekend != 1 {
		t.Errorf("IsWeekend = %v, want 1", fv.IsWeekend)
	}
	if fv.HourOfDay != 23 {
		t.Errorf("HourOfDay = %v, want 23", fv.HourOfDay)
	}
}

func TestExtractZeroStdFallback(t *testing.T) {
	ex := NewExtractorWithClock(tuesdayNoon)

	for _, std := range []float64{0, -1} {
		hc := domain.HistoricalContext{AvgAmount: 100, StdAmount: std}
		fv := ex.Extract(200, hc)
		want := (200.0 - 100.0) / domain.DefaultStdAmount
		if fv.AmountZScore != want {
			t.Errorf("std=%v: AmountZScore = %v, want %v", std, fv.AmountZScore, want)
		}
		if math.IsNaN(fv.AmountZScore) || math.IsInf(fv.AmountZScore, 0) {
			t.Errorf("std=%v: z-score not finite: %v", std, fv.AmountZScore)
		}
	}
}

func TestExtractDeterministic(t *testing.T) {
	ex := NewExtractorWithClock(tuesdayNoon)
	hc := domain.HistoricalContext{
		TransactionsLastHour: 7,
		AvgAmount:            80,
		StdAmount:            20,
		MinutesSinceLast:     3,
		MerchantRisk:         0.6,
		IPReputation:         0.4,
	}

	a := ex.Extract(499.99, hc)
	b := ex.Extract(499.99, hc)
	if a != b {
		t.Errorf("same input produced different vectors:\n%+v\n%+v", a, b)
	}
}

func TestFeatureOrder(t *testing.T) {
	ex := NewExtractorWithClock(tuesdayNoon)
	fv := ex.Extract(250, domain.HistoricalContext{
		TransactionsLastHour: 4,
		AvgAmount:            100,
		StdAmount:            50,
		MinutesSinceLast:     12.5,
		LocationChanged:      true,
		MerchantRisk:         0.3,
		DeviceChanged:        true,
		IPReputation:         0.9,
	})

	vals := fv.Values()
	want := [domain.FeatureCount]float64{250, 4, 3, 12.5, 1, 0.3, 12, 0, 1, 0.9}
	if vals != want {
		t.Errorf("Values() = %v, want %v", vals, want)
	}
	if len(domain.FeatureNames) != domain.FeatureCount {
		t.Fatalf("FeatureNames has %d entries, want %d", len(domain.FeatureNames), domain.FeatureCount)
	}
}
