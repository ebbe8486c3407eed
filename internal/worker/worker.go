// Package worker provides async scoring of ingested transactions.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Worker scores ingested transactions from the EventBus: it builds the
// account's historical context, runs the ensemble with degradation,
// persists the prediction and publishes the result.
type Worker struct {
	bus     domain.EventBus
	repo    domain.Repository
	scorer  *scoring.Scorer
	overlay *rules.Engine
	hist    *history.Provider

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string
}

// NewWorker creates a new async worker. The overlay engine may be nil.
func NewWorker(bus domain.EventBus, repo domain.Repository, scorer *scoring.Scorer, overlay *rules.Engine, hist *history.Provider) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		repo:    repo,
		scorer:  scorer,
		overlay: overlay,
		hist:    hist,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants via the
// bus's wildcard subscription. This is the default when no tenant list
// is configured.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TenantWildcard, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
		return w.scoreTransaction(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionIngested,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.scoreTransaction(ctx, msg.TenantID, msg)
}

// scoreTransaction runs the full scoring pipeline for one transaction.
func (w *Worker) scoreTransaction(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if tx.TenantID != "" {
		tenantID = tx.TenantID
	}
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	slog.Debug("scoring transaction",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
	)

	// 1. Build historical context, scoring before this transaction is
	// counted against itself.
	hc := w.hist.Context(ctx, tenantID, &tx)

	// 2. Run the ensemble with degradation.
	pred := w.scorer.PredictContextSafe(tx.Amount, hc)
	pred.ID = uuid.New().String()
	pred.TenantID = tenantID
	pred.TxID = tx.ID

	// 3. Overlay rules annotate but never change the score.
	if w.overlay != nil && w.overlay.RulesCount() > 0 {
		fv := w.scorer.Features(tx.Amount, hc)
		flags, err := w.overlay.EvaluateAll(ctx, tenantID, fv)
		if err != nil {
			slog.Error("overlay rule evaluation failed",
				"tx_id", tx.ID,
				"error", err,
			)
		} else {
			for _, f := range flags {
				if f.Triggered {
					pred.OverlayFlags = append(pred.OverlayFlags, f)
				}
			}
		}
	}

	// 4. Persist the prediction.
	if w.repo != nil {
		if err := w.repo.SavePrediction(ctx, tenantID, pred); err != nil {
			slog.Error("failed to save prediction",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	// 5. Publish the result, and an alert for HIGH risk.
	payload, _ := json.Marshal(pred)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicPrediction, payload); err != nil {
		slog.Error("failed to publish prediction",
			"tx_id", tx.ID,
			"error", err,
		)
	}

	if pred.RiskLevel == domain.RiskHigh {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
			slog.Error("failed to publish alert",
				"tx_id", tx.ID,
				"error", err,
			)
		}
	}

	// Bump the velocity counter after scoring.
	w.hist.Observe(ctx, tenantID, tx.AccountID)

	slog.Info("transaction scored",
		"tx_id", tx.ID,
		"tenant_id", tenantID,
		"risk_level", pred.RiskLevel,
		"risk_score", pred.RiskScore,
		"degraded", pred.Degraded,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
