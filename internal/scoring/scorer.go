package scoring

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

// Scorer runs the full ensemble: feature extraction, the three
// sub-models, the weighted combiner and risk bucketing. A Scorer is
// immutable after construction and safe for concurrent use; callers
// construct and own their instances, there is no shared global.
type Scorer struct {
	cfg       *domain.ModelConfig
	extractor *features.Extractor
	logger    *slog.Logger
	now       func() time.Time
}

// NewScorer creates a scorer with the given model configuration.
// A nil extractor defaults to the wall-clock extractor.
func NewScorer(cfg *domain.ModelConfig, extractor *features.Extractor, logger *slog.Logger) (*Scorer, error) {
	if cfg == nil {
		cfg = domain.DefaultModelConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model config: %w", err)
	}
	if extractor == nil {
		extractor = features.NewExtractor()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		cfg:       cfg,
		extractor: extractor,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Config returns the scorer's model configuration.
func (s *Scorer) Config() *domain.ModelConfig {
	return s.cfg
}

// Features exposes the extracted feature vector for a scoring input.
// Overlay rule evaluation runs against the same vector the ensemble saw.
func (s *Scorer) Features(amount float64, hc domain.HistoricalContext) domain.FeatureVector {
	return s.extractor.Extract(amount, hc)
}

// Predict validates the request, applies context defaults and scores it.
func (s *Scorer) Predict(req *domain.ScoreRequest) (*domain.Prediction, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", domain.ErrInput)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.PredictContext(req.Amount, req.Context())
}

// PredictContext scores an amount against an already-materialised
// historical context. Used by the async pipeline, where the context
// comes from the history provider rather than the request body.
func (s *Scorer) PredictContext(amount float64, hc domain.HistoricalContext) (*domain.Prediction, error) {
	fv := s.extractor.Extract(amount, hc)

	sub := domain.SubScores{
		Anomaly:  anomalyScore(fv),
		Velocity: velocityModelScore(fv),
	}
	ruleP, reasons := ruleScore(fv)
	sub.Rule = ruleP

	for _, v := range []float64{sub.Anomaly, sub.Rule, sub.Velocity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("sub-model produced non-finite score: %v", sub)
		}
	}

	p := combine(sub, s.cfg.Weights)
	score := p * 100
	level, recommendation := riskLevel(score, s.cfg)

	pred := &domain.Prediction{
		RiskScore:        round2(score),
		FraudProbability: round3(p),
		RiskLevel:        level,
		ModelConfidence:  confidence(sub),
		SubScores: domain.SubScores{
			Anomaly:  round3(sub.Anomaly),
			Rule:     round3(sub.Rule),
			Velocity: round3(sub.Velocity),
		},
		TriggeredRules: reasons,
		Contributions:  contributions(fv, p, s.cfg.FeatureImportance),
		Recommendation: recommendation,
		ModelVersion:   s.cfg.Version,
		Timestamp:      s.now().UTC(),
	}

	s.logger.Debug("prediction computed",
		"risk_score", pred.RiskScore,
		"risk_level", pred.RiskLevel,
		"confidence", pred.ModelConfidence,
		"triggered_rules", len(pred.TriggeredRules))
	return pred, nil
}

// PredictSafe scores with graceful degradation: invalid input still
// fails, but any internal ensemble failure falls back to the rule-based
// sub-scorer alone, with Degraded set so callers can tell.
func (s *Scorer) PredictSafe(req *domain.ScoreRequest) (*domain.Prediction, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: request is nil", domain.ErrInput)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	return s.PredictContextSafe(req.Amount, req.Context()), nil
}

// PredictContextSafe is the degradation-aware variant of PredictContext.
func (s *Scorer) PredictContextSafe(amount float64, hc domain.HistoricalContext) *domain.Prediction {
	pred, err := s.PredictContext(amount, hc)
	if err == nil {
		return pred
	}

	s.logger.Warn("ensemble failed, degrading to rule-based score", "error", err)
	return s.degraded(amount, hc)
}

// degraded builds a rule-only prediction. Confidence is zero: with a
// single sub-model there is no agreement to measure.
func (s *Scorer) degraded(amount float64, hc domain.HistoricalContext) *domain.Prediction {
	fv := s.extractor.Extract(amount, hc)
	p, reasons := ruleScore(fv)
	score := clamp01(p) * 100
	level, recommendation := riskLevel(score, s.cfg)

	return &domain.Prediction{
		RiskScore:        round2(score),
		FraudProbability: round3(p),
		RiskLevel:        level,
		ModelConfidence:  0,
		SubScores:        domain.SubScores{Rule: round3(p)},
		TriggeredRules:   reasons,
		Recommendation:   recommendation,
		Degraded:         true,
		ModelVersion:     s.cfg.Version,
		Timestamp:        s.now().UTC(),
	}
}

// InputHash returns a stable digest of a scoring input, used as the
// memoisation key for the prediction cache.
func InputHash(amount float64, hc domain.HistoricalContext) string {
	h := sha256.New()
	fmt.Fprintf(h, "%v|%d|%v|%v|%v|%t|%t|%v|%v",
		amount,
		hc.TransactionsLastHour,
		hc.AvgAmount,
		hc.StdAmount,
		hc.MinutesSinceLast,
		hc.LocationChanged,
		hc.DeviceChanged,
		hc.MerchantRisk,
		hc.IPReputation)
	return hex.EncodeToString(h.Sum(nil))
}
