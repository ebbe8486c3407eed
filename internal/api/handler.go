package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// maxBatchSize bounds POST /predict/batch.
const maxBatchSize = 100

// Handler holds dependencies for API handlers.
type Handler struct {
	repo      domain.Repository
	cache     domain.Cache
	bus       domain.EventBus
	scorer    *scoring.Scorer
	explainer *scoring.Explainer
	overlay   *rules.Engine
	hist      *history.Provider
	version   string

	// asyncIngest defers scoring of ingested transactions to the
	// worker pipeline instead of scoring inline.
	asyncIngest bool
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, scorer *scoring.Scorer, overlay *rules.Engine, hist *history.Provider, version string, asyncIngest bool) *Handler {
	return &Handler{
		repo:        repo,
		cache:       cache,
		bus:         bus,
		scorer:      scorer,
		explainer:   scoring.NewExplainer(),
		overlay:     overlay,
		hist:        hist,
		version:     version,
		asyncIngest: asyncIngest,
	}
}

// PredictResponse is the response for POST /predict.
type PredictResponse struct {
	*domain.Prediction
	Metadata struct {
		TraceID   string `json:"traceId"`
		ProcessMs int64  `json:"processMs"`
		Version   string `json:"version"`
		Cached    bool   `json:"cached"`
	} `json:"metadata"`
}

// Predict handles POST /predict: synchronous scoring of a
// caller-supplied amount and historical context.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	hc := req.Context()
	hash := scoring.InputHash(req.Amount, hc)

	// Memoised path: identical inputs within the TTL return the same
	// prediction without re-scoring.
	if h.cache != nil {
		if cached, err := h.cache.GetPrediction(ctx, tenantID, hash); err == nil && cached != nil {
			resp := PredictResponse{Prediction: cached}
			resp.Metadata.TraceID = traceID
			resp.Metadata.ProcessMs = time.Since(start).Milliseconds()
			resp.Metadata.Version = h.version
			resp.Metadata.Cached = true
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}

	pred := h.scorer.PredictContextSafe(req.Amount, hc)
	pred.TenantID = tenantID
	h.attachOverlayFlags(r, &req, hc, pred)

	if h.cache != nil && !pred.Degraded {
		if err := h.cache.SetPrediction(ctx, tenantID, hash, pred, domain.PredictionCacheTTL); err != nil {
			slog.Debug("failed to cache prediction", "error", err)
		}
	}

	resp := PredictResponse{Prediction: pred}
	resp.Metadata.TraceID = traceID
	resp.Metadata.ProcessMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// attachOverlayFlags evaluates the tenant's custom rules against the
// same feature vector the ensemble scored. Only triggered flags are
// attached.
func (h *Handler) attachOverlayFlags(r *http.Request, req *domain.ScoreRequest, hc domain.HistoricalContext, pred *domain.Prediction) {
	if h.overlay == nil || h.overlay.RulesCount() == 0 {
		return
	}
	fv := h.scorer.Features(req.Amount, hc)
	flags, err := h.overlay.EvaluateAll(r.Context(), GetTenantID(r.Context()), fv)
	if err != nil {
		slog.Error("overlay rule evaluation failed", "error", err)
		return
	}
	for _, f := range flags {
		if f.Triggered {
			pred.OverlayFlags = append(pred.OverlayFlags, f)
		}
	}
}

// Explain handles POST /explain: scores the request and renders the
// narrative explanation alongside the prediction.
func (h *Handler) Explain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.ScoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	hc := req.Context()
	pred := h.scorer.PredictContextSafe(req.Amount, hc)
	pred.TenantID = tenantID
	h.attachOverlayFlags(r, &req, hc, pred)

	writeJSON(w, http.StatusOK, h.explainer.Explain(pred))
}

// BatchPredictRequest is the request body for POST /predict/batch.
type BatchPredictRequest struct {
	Requests []domain.ScoreRequest `json:"requests"`
}

// BatchResult is one entry of the batch response; exactly one of
// Prediction and Error is set.
type BatchResult struct {
	Prediction *domain.Prediction `json:"prediction,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// BatchPredict handles POST /predict/batch: scores up to maxBatchSize
// requests, preserving order. Invalid entries produce per-entry errors
// rather than failing the batch.
func (h *Handler) BatchPredict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BatchPredictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(req.Requests) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "requests must not be empty",
		})
		return
	}
	if len(req.Requests) > maxBatchSize {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "batch size exceeds maximum of 100",
		})
		return
	}

	results := make([]BatchResult, len(req.Requests))
	for i := range req.Requests {
		sr := &req.Requests[i]
		if err := sr.Validate(); err != nil {
			results[i] = BatchResult{Error: err.Error()}
			continue
		}
		pred := h.scorer.PredictContextSafe(sr.Amount, sr.Context())
		pred.TenantID = tenantID
		results[i] = BatchResult{Prediction: pred}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

// ModelInfo handles GET /model: the scoring constants in effect.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	cfg := h.scorer.Config()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"version":           cfg.Version,
		"weights":           cfg.Weights,
		"featureImportance": cfg.FeatureImportance,
		"featureNames":      domain.FeatureNames,
		"thresholds": map[string]float64{
			"high":   cfg.HighThreshold,
			"medium": cfg.MediumThreshold,
		},
		"serviceVersion": h.version,
	})
}

// IngestResponse is the response for POST /ingest.
type IngestResponse struct {
	TxID       string             `json:"txId"`
	Status     string             `json:"status"`
	Prediction *domain.Prediction `json:"prediction,omitempty"`
}

// Ingest handles POST /ingest: persists the transaction, derives the
// account's historical context and either scores inline or hands off to
// the worker pipeline.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "accountId is required",
		})
		return
	}
	if req.Amount <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "amount must be positive",
		})
		return
	}
	if len(req.Currency) != 3 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "currency must be a 3-letter code",
		})
		return
	}

	tx := req.ToTransaction(tenantID)
	tx.ID = uuid.New().String()

	// Context is derived before this transaction lands in the
	// aggregates, so it never counts against itself.
	hc := h.hist.Context(ctx, tenantID, tx)

	if h.repo != nil {
		if err := h.repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			slog.Error("failed to save transaction", "tx_id", tx.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save transaction",
			})
			return
		}
	}

	if h.asyncIngest {
		payload, _ := json.Marshal(tx)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicTransactionIngested, payload); err != nil {
			slog.Error("failed to publish transaction", "tx_id", tx.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to queue transaction",
			})
			return
		}
		writeJSON(w, http.StatusAccepted, IngestResponse{
			TxID:   tx.ID,
			Status: "queued",
		})
		return
	}

	pred := h.scorer.PredictContextSafe(tx.Amount, hc)
	pred.ID = uuid.New().String()
	pred.TenantID = tenantID
	pred.TxID = tx.ID

	if h.overlay != nil && h.overlay.RulesCount() > 0 {
		fv := h.scorer.Features(tx.Amount, hc)
		if flags, err := h.overlay.EvaluateAll(ctx, tenantID, fv); err == nil {
			for _, f := range flags {
				if f.Triggered {
					pred.OverlayFlags = append(pred.OverlayFlags, f)
				}
			}
		} else {
			slog.Error("overlay rule evaluation failed", "tx_id", tx.ID, "error", err)
		}
	}

	if h.repo != nil {
		if err := h.repo.SavePrediction(ctx, tenantID, pred); err != nil {
			slog.Error("failed to save prediction", "tx_id", tx.ID, "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(pred)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicPrediction, payload); err != nil {
			slog.Error("failed to publish prediction", "tx_id", tx.ID, "error", err)
		}
		if pred.RiskLevel == domain.RiskHigh {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicAlert, payload); err != nil {
				slog.Error("failed to publish alert", "tx_id", tx.ID, "error", err)
			}
		}
	}

	h.hist.Observe(ctx, tenantID, tx.AccountID)

	writeJSON(w, http.StatusOK, IngestResponse{
		TxID:       tx.ID,
		Status:     "scored",
		Prediction: pred,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetPrediction retrieves a stored prediction by ID.
func (h *Handler) GetPrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	predID := chi.URLParam(r, "id")

	if predID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "prediction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	pred, err := h.repo.GetPrediction(ctx, tenantID, predID)
	if err != nil {
		slog.Error("failed to get prediction", "id", predID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "prediction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, pred)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transaction id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	tx, err := h.repo.GetTransaction(ctx, tenantID, txID)
	if err != nil {
		slog.Error("failed to get transaction", "id", txID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "transaction not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListRules returns the caller tenant's rules currently loaded in the
// overlay engine. Rules are loaded from the database at startup and can
// be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.overlay == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	loadedRules := h.overlay.GetLoadedRules(GetTenantID(r.Context()))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves one of the caller tenant's rules by ID from the
// loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if h.overlay == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	for _, rule := range h.overlay.GetLoadedRules(GetTenantID(r.Context())) {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating an overlay rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Reason      string `json:"reason,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// CreateRule creates a new overlay rule for the caller's tenant and
// saves it to the database. After saving, call POST /rules/reload to
// hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    tenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Reason:      req.Reason,
		Enabled:     req.Enabled,
	}

	if h.overlay != nil {
		if err := h.overlay.ValidateRule(ruleConfig); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid CEL expression: " + err.Error(),
			})
			return
		}
	}

	if h.repo != nil {
		if err := h.repo.SaveRuleConfig(ctx, tenantID, ruleConfig); err != nil {
			slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name, "tenant_id", tenantID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ValidateRuleRequest is the request body for POST /rules/validate.
type ValidateRuleRequest struct {
	Expression string `json:"expression"`
}

// ValidateRule compiles a CEL expression without loading it, so rule
// authors can check syntax before saving.
func (h *Handler) ValidateRule(w http.ResponseWriter, r *http.Request) {
	if h.overlay == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	var req ValidateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "expression is required",
		})
		return
	}

	candidate := &domain.RuleConfig{
		ID:         "validate-only",
		Expression: req.Expression,
	}
	if err := h.overlay.ValidateRule(candidate); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid": true,
	})
}

// ReloadRules reloads the caller tenant's rules from the database into
// the engine. This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}
	if h.overlay == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "rule engine not available",
		})
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx, tenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.overlay.ReloadRules(tenantID, dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules), "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
