package scoring

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestCombine(t *testing.T) {
	w := domain.EnsembleWeights{Anomaly: 0.4, Rule: 0.3, Velocity: 0.3}

	tests := []struct {
		name string
		sub  domain.SubScores
		want float64
	}{
		{"all zero", domain.SubScores{}, 0},
		{"all one", domain.SubScores{Anomaly: 1, Rule: 1, Velocity: 1}, 1},
		{"anomaly only", domain.SubScores{Anomaly: 1}, 0.4},
		{"mixed", domain.SubScores{Anomaly: 0.5, Rule: 0.5, Velocity: 0.5}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := combine(tt.sub, w)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("combine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRiskLevelThresholds(t *testing.T) {
	cfg := domain.DefaultModelConfig()

	tests := []struct {
		score     float64
		wantLevel string
		wantRec   string
	}{
		{0, domain.RiskLow, domain.RecommendLow},
		{39.99, domain.RiskLow, domain.RecommendLow},
		{40, domain.RiskMedium, domain.RecommendMedium},
		{69.99, domain.RiskMedium, domain.RecommendMedium},
		{70, domain.RiskHigh, domain.RecommendHigh},
		{100, domain.RiskHigh, domain.RecommendHigh},
	}
	for _, tt := range tests {
		level, rec := riskLevel(tt.score, cfg)
		if level != tt.wantLevel || rec != tt.wantRec {
			t.Errorf("score %v: got (%s, %q), want (%s, %q)",
				tt.score, level, rec, tt.wantLevel, tt.wantRec)
		}
	}
}

func TestConfidenceEqualSubScoresIsExactlyOne(t *testing.T) {
	for _, v := range []float64{0, 0.25, 0.5, 1} {
		sub := domain.SubScores{Anomaly: v, Rule: v, Velocity: v}
		if got := confidence(sub); got != 1.0 {
			t.Errorf("confidence with equal sub-scores %v = %v, want exactly 1.0", v, got)
		}
	}
}

func TestConfidenceDisagreement(t *testing.T) {
	// population stddev of {0, 0.5, 1} is sqrt(1/6) ~= 0.40825
	sub := domain.SubScores{Anomaly: 0, Rule: 0.5, Velocity: 1}
	if got, want := confidence(sub), 0.592; got != want {
		t.Errorf("confidence = %v, want %v", got, want)
	}
}

func TestContributionsOrderAndCap(t *testing.T) {
	fv := domain.FeatureVector{
		Amount:        15000,
		Velocity:      25,
		AmountZScore:  298,
		TimeSinceLast: 0.5,
		MerchantRisk:  0.9,
		HourOfDay:     12,
		IPReputation:  0.1,
	}
	cfg := domain.DefaultModelConfig()
	got := contributions(fv, 0.9, cfg.FeatureImportance)

	if len(got) != maxContributions {
		t.Fatalf("len = %d, want %d", len(got), maxContributions)
	}
	for i := 1; i < len(got); i++ {
		if math.Abs(got[i].Contribution) > math.Abs(got[i-1].Contribution) {
			t.Errorf("contributions not sorted by |value|: %v", got)
		}
	}
	known := map[string]bool{}
	for _, n := range domain.FeatureNames {
		known[n] = true
	}
	for _, c := range got {
		if !known[c.Feature] {
			t.Errorf("unknown feature name %q", c.Feature)
		}
	}
}

func TestContributionsZeroProbability(t *testing.T) {
	fv := domain.FeatureVector{Amount: 100, Velocity: 5}
	got := contributions(fv, 0, domain.DefaultModelConfig().FeatureImportance)
	for _, c := range got {
		if c.Contribution != 0 {
			t.Errorf("contribution %v should be zero when probability is zero", c)
		}
	}
}
