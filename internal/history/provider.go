// Package history builds per-account historical context for scoring.
package history

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
)

// Lookback windows for the history queries.
const (
	velocityWindow = time.Hour
	statsWindow    = 30 * 24 * time.Hour
)

// Baseline values used when an account has no usable history or a
// query fails. These are population priors, deliberately different
// from the per-request defaults the API applies to omitted fields.
const (
	baselineAvgAmount    = 150.0
	baselineStdAmount    = 50.0
	baselineMinutes      = 60.0
	baselineMerchantRisk = 0.2
	baselineIPReputation = 0.8
)

// Provider derives an account's historical context from the repository,
// with an optional cache-backed velocity counter for the hot path. Any
// query failure degrades to the full baseline context rather than
// failing the scoring call.
type Provider struct {
	repo   domain.Repository
	cache  domain.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewProvider creates a history provider. The cache may be nil; the
// velocity counter is then served from the repository alone.
func NewProvider(repo domain.Repository, cache domain.Cache, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    time.Now,
	}
}

// Observe bumps the account's velocity counter. Called on ingestion so
// the counter leads the repository during bursts.
func (p *Provider) Observe(ctx context.Context, tenantID, accountID string) {
	if p.cache == nil {
		return
	}
	if _, err := p.cache.IncrementCounter(ctx, tenantID, "velocity:"+accountID, velocityWindow); err != nil {
		p.logger.Debug("velocity counter increment failed", "account_id", accountID, "error", err)
	}
}

// Context assembles the historical context for scoring a transaction.
// The transaction itself is excluded from the aggregates only insofar
// as it has not been persisted yet; callers score before saving or
// accept the self-inclusion.
func (p *Provider) Context(ctx context.Context, tenantID string, tx *domain.Transaction) domain.HistoricalContext {
	hc := baselineContext()

	now := p.now().UTC()

	count, err := p.repo.CountTransactionsSince(ctx, tenantID, tx.AccountID, now.Add(-velocityWindow))
	if err != nil {
		p.logger.Warn("history query failed, using baseline context",
			"account_id", tx.AccountID, "error", err)
		return hc
	}
	hc.TransactionsLastHour = int(count)
	if hc.TransactionsLastHour < 1 {
		hc.TransactionsLastHour = domain.DefaultVelocity
	}

	avg, std, n, err := p.repo.AmountStats(ctx, tenantID, tx.AccountID, now.Add(-statsWindow))
	if err != nil {
		p.logger.Warn("history query failed, using baseline context",
			"account_id", tx.AccountID, "error", err)
		return baselineContext()
	}
	if n > 0 {
		hc.AvgAmount = avg
		if std > 0 {
			hc.StdAmount = std
		}
	}

	last, err := p.repo.LastTransaction(ctx, tenantID, tx.AccountID)
	switch {
	case err == nil:
		hc.MinutesSinceLast = now.Sub(last.Timestamp).Minutes()
		if hc.MinutesSinceLast < 0 {
			hc.MinutesSinceLast = 0
		}
		hc.LocationChanged = locationChanged(last, tx)
		hc.DeviceChanged = last.DeviceID != "" && tx.DeviceID != "" && last.DeviceID != tx.DeviceID
	case errors.Is(err, repository.ErrNotFound):
		// First transaction for the account, keep baselines.
	default:
		p.logger.Warn("history query failed, using baseline context",
			"account_id", tx.AccountID, "error", err)
		return baselineContext()
	}

	return hc
}

func baselineContext() domain.HistoricalContext {
	return domain.HistoricalContext{
		TransactionsLastHour: domain.DefaultVelocity,
		AvgAmount:            baselineAvgAmount,
		StdAmount:            baselineStdAmount,
		MinutesSinceLast:     baselineMinutes,
		MerchantRisk:         baselineMerchantRisk,
		IPReputation:         baselineIPReputation,
	}
}

func locationChanged(prev, cur *domain.Transaction) bool {
	if cur.Country != "" && prev.Country != "" && cur.Country != prev.Country {
		return true
	}
	return cur.City != "" && prev.City != "" && cur.City != prev.City
}
