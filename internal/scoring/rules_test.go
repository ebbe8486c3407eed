package scoring

import (
	"strings"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestRuleScoreAmountTiers(t *testing.T) {
	tests := []struct {
		name       string
		amount     float64
		wantScore  float64
		wantReason string
	}{
		{"below all tiers", 1000, 0, ""},
		{"just above 1000", 1000.01, 0.15, "Above average amount"},
		{"exactly 5000 stays mid tier", 5000, 0.15, "Above average amount"},
		{"above 5000", 5000.01, 0.3, "Large transaction"},
		{"exactly 10000 stays large tier", 10000, 0.3, "Large transaction"},
		{"above 10000", 10000.01, 0.4, "Very large transaction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := neutralVector()
			fv.Amount = tt.amount
			score, reasons := ruleScore(fv)
			if score != tt.wantScore {
				t.Errorf("score = %v, want %v", score, tt.wantScore)
			}
			if tt.wantReason == "" {
				if len(reasons) != 0 {
					t.Errorf("reasons = %v, want none", reasons)
				}
				return
			}
			if len(reasons) != 1 || !strings.Contains(reasons[0], tt.wantReason) {
				t.Errorf("reasons = %v, want one containing %q", reasons, tt.wantReason)
			}
		})
	}
}

func TestRuleScoreVelocityTiers(t *testing.T) {
	tests := []struct {
		velocity  float64
		wantScore float64
	}{
		{0, 0}, {2, 0}, {3, 0.10}, {4, 0.10}, {5, 0.20},
		{9, 0.20}, {10, 0.35}, {19, 0.35}, {20, 0.4}, {100, 0.4},
	}
	for _, tt := range tests {
		fv := neutralVector()
		fv.Velocity = tt.velocity
		score, _ := ruleScore(fv)
		if score != tt.wantScore {
			t.Errorf("velocity %v: score = %v, want %v", tt.velocity, score, tt.wantScore)
		}
	}
}

func TestRuleScoreZScoreTiers(t *testing.T) {
	tests := []struct {
		zscore    float64
		wantScore float64
	}{
		{0, 0}, {2, 0}, {2.01, 0.15}, {3, 0.15},
		{3.01, 0.25}, {5, 0.25}, {5.01, 0.3}, {-6, 0.3},
	}
	for _, tt := range tests {
		fv := neutralVector()
		fv.AmountZScore = tt.zscore
		score, _ := ruleScore(fv)
		if score != tt.wantScore {
			t.Errorf("zscore %v: score = %v, want %v", tt.zscore, score, tt.wantScore)
		}
	}
}

func TestRuleScoreRapidSuccessionTiers(t *testing.T) {
	tests := []struct {
		minutes   float64
		wantScore float64
	}{
		{0.5, 0.2}, {1, 0.15}, {1.9, 0.15}, {2, 0.10},
		{4.9, 0.10}, {5, 0.05}, {9.9, 0.05}, {10, 0}, {60, 0},
	}
	for _, tt := range tests {
		fv := neutralVector()
		fv.TimeSinceLast = tt.minutes
		score, _ := ruleScore(fv)
		if score != tt.wantScore {
			t.Errorf("minutes %v: score = %v, want %v", tt.minutes, score, tt.wantScore)
		}
	}
}

func TestRuleScoreIPReputationTiers(t *testing.T) {
	tests := []struct {
		ip        float64
		wantScore float64
	}{
		{0.1, 0.2}, {0.2, 0.12}, {0.39, 0.12}, {0.4, 0}, {0.9, 0},
	}
	for _, tt := range tests {
		fv := neutralVector()
		fv.IPReputation = tt.ip
		score, _ := ruleScore(fv)
		if score != tt.wantScore {
			t.Errorf("ip %v: score = %v, want %v", tt.ip, score, tt.wantScore)
		}
	}
}

func TestRuleScoreClampAndOrder(t *testing.T) {
	fv := domain.FeatureVector{
		Amount:         15000,
		Velocity:       25,
		AmountZScore:   298,
		TimeSinceLast:  0.5,
		LocationChange: 1,
		MerchantRisk:   0.9,
		DeviceChange:   1,
		IPReputation:   0.1,
	}
	score, reasons := ruleScore(fv)
	if score != 1.0 {
		t.Errorf("score = %v, want clamp at 1.0", score)
	}

	// Reasons must follow fixed evaluation order: amount, velocity,
	// z-score, succession, location, merchant, device, ip.
	wantPrefixes := []string{
		"Very large transaction",
		"Very high velocity",
		"Extreme amount anomaly",
		"Extremely rapid",
		"Unusual location",
		"Very high-risk merchant",
		"Device change",
		"Low IP reputation",
	}
	if len(reasons) != len(wantPrefixes) {
		t.Fatalf("got %d reasons %v, want %d", len(reasons), reasons, len(wantPrefixes))
	}
	for i, p := range wantPrefixes {
		if !strings.HasPrefix(reasons[i], p) {
			t.Errorf("reason[%d] = %q, want prefix %q", i, reasons[i], p)
		}
	}
}

func TestRuleScoreTierLabels(t *testing.T) {
	// Each tier carries its own label; the middle tiers are easy to
	// mislabel because the wording does not follow severity order.
	tests := []struct {
		name      string
		mutate    func(*domain.FeatureVector)
		wantLabel string
	}{
		{"velocity 5", func(fv *domain.FeatureVector) { fv.Velocity = 5 }, "Moderate velocity"},
		{"velocity 3", func(fv *domain.FeatureVector) { fv.Velocity = 3 }, "Elevated velocity"},
		{"zscore above 3", func(fv *domain.FeatureVector) { fv.AmountZScore = 3.5 }, "Unusual amount"},
		{"zscore above 2", func(fv *domain.FeatureVector) { fv.AmountZScore = 2.5 }, "Above average amount deviation"},
		{"under 2 minutes", func(fv *domain.FeatureVector) { fv.TimeSinceLast = 1.5 }, "Rapid transaction"},
		{"under 5 minutes", func(fv *domain.FeatureVector) { fv.TimeSinceLast = 3 }, "Quick transaction"},
		{"under 10 minutes", func(fv *domain.FeatureVector) { fv.TimeSinceLast = 8 }, "Short interval"},
		{"merchant above 0.5", func(fv *domain.FeatureVector) { fv.MerchantRisk = 0.6 }, "Moderate-risk merchant"},
		{"ip below 0.2", func(fv *domain.FeatureVector) { fv.IPReputation = 0.1 }, "Low IP reputation"},
		{"ip below 0.4", func(fv *domain.FeatureVector) { fv.IPReputation = 0.3 }, "Poor IP reputation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fv := neutralVector()
			tt.mutate(&fv)
			_, reasons := ruleScore(fv)
			if len(reasons) != 1 || !strings.HasPrefix(reasons[0], tt.wantLabel) {
				t.Errorf("reasons = %v, want one with prefix %q", reasons, tt.wantLabel)
			}
		})
	}
}

func TestRuleScoreTierExclusivity(t *testing.T) {
	// One tier per family: a 20000 transaction triggers only the top
	// amount tier, never the lower ones as well.
	fv := neutralVector()
	fv.Amount = 20000
	score, reasons := ruleScore(fv)
	if score != 0.4 {
		t.Errorf("score = %v, want 0.4 from a single tier", score)
	}
	if len(reasons) != 1 {
		t.Errorf("reasons = %v, want exactly one", reasons)
	}
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{50, "50.00"},
		{999.5, "999.50"},
		{1000, "1,000.00"},
		{15000, "15,000.00"},
		{1234567.891, "1,234,567.89"},
		{-2500.5, "-2,500.50"},
	}
	for _, tt := range tests {
		if got := formatAmount(tt.in); got != tt.want {
			t.Errorf("formatAmount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// neutralVector is a feature vector that triggers no rules.
func neutralVector() domain.FeatureVector {
	return domain.FeatureVector{
		Amount:        50,
		Velocity:      1,
		AmountZScore:  -1,
		TimeSinceLast: 60,
		MerchantRisk:  0.1,
		HourOfDay:     12,
		IPReputation:  0.5,
	}
}
