// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, tenant_id, account_id, merchant, channel,
			amount, currency, city, country, device_id, ip,
			timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.AccountID,
		tx.Merchant, tx.Channel,
		tx.Amount, tx.Currency,
		tx.City, tx.Country, tx.DeviceID, tx.IP,
		tx.Timestamp, tx.CreatedAt,
		string(metadata),
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, account_id, merchant, channel,
			   amount, currency, city, country, device_id, ip,
			   timestamp, created_at, metadata
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	return r.scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID))
}

// CountTransactionsSince counts an account's transactions since a cutoff.
func (r *SQLRepository) CountTransactionsSince(ctx context.Context, tenantID, accountID string, since time.Time) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*)
		FROM transactions
		WHERE tenant_id = ? AND account_id = ? AND timestamp >= ?
	`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, accountID, since).Scan(&count)
	return count, err
}

// AmountStats returns the mean and population standard deviation of an
// account's transaction amounts since a cutoff. The deviation is derived
// from AVG(amount) and AVG(amount*amount) so the same SQL works on both
// SQLite and PostgreSQL.
func (r *SQLRepository) AmountStats(ctx context.Context, tenantID, accountID string, since time.Time) (avg, std float64, n int64, err error) {
	if tenantID == "" {
		return 0, 0, 0, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT COUNT(*), AVG(amount), AVG(amount * amount)
		FROM transactions
		WHERE tenant_id = ? AND account_id = ? AND timestamp >= ?
	`

	var mean, meanSq sql.NullFloat64
	err = r.db.QueryRowContext(ctx, r.rebind(query), tenantID, accountID, since).Scan(&n, &mean, &meanSq)
	if err != nil {
		return 0, 0, 0, err
	}
	if n == 0 || !mean.Valid {
		return 0, 0, 0, nil
	}

	variance := meanSq.Float64 - mean.Float64*mean.Float64
	if variance < 0 {
		variance = 0
	}
	return mean.Float64, math.Sqrt(variance), n, nil
}

// LastTransaction retrieves an account's most recent transaction.
func (r *SQLRepository) LastTransaction(ctx context.Context, tenantID, accountID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, account_id, merchant, channel,
			   amount, currency, city, country, device_id, ip,
			   timestamp, created_at, metadata
		FROM transactions
		WHERE tenant_id = ? AND account_id = ?
		ORDER BY timestamp DESC
		LIMIT 1
	`

	return r.scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, accountID))
}

func (r *SQLRepository) scanTransaction(row *sql.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var metadata string

	err := row.Scan(
		&tx.ID, &tx.TenantID, &tx.AccountID,
		&tx.Merchant, &tx.Channel,
		&tx.Amount, &tx.Currency,
		&tx.City, &tx.Country, &tx.DeviceID, &tx.IP,
		&tx.Timestamp, &tx.CreatedAt,
		&metadata,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if metadata != "" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}

	return &tx, nil
}

// SavePrediction stores a prediction result with tenant isolation.
func (r *SQLRepository) SavePrediction(ctx context.Context, tenantID string, pred *domain.Prediction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	subScores, _ := json.Marshal(pred.SubScores)
	triggered, _ := json.Marshal(pred.TriggeredRules)
	contributions, _ := json.Marshal(pred.Contributions)
	flags, _ := json.Marshal(pred.OverlayFlags)

	degraded := 0
	if pred.Degraded {
		degraded = 1
	}

	query := `
		INSERT INTO predictions (
			id, tenant_id, tx_id, risk_score, fraud_probability, risk_level,
			confidence, sub_scores, triggered_rules, contributions,
			recommendation, overlay_flags, degraded, model_version, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		pred.ID, tenantID, pred.TxID,
		pred.RiskScore, pred.FraudProbability, pred.RiskLevel,
		pred.ModelConfidence,
		string(subScores), string(triggered), string(contributions),
		pred.Recommendation, string(flags), degraded, pred.ModelVersion, pred.Timestamp,
	)
	return err
}

// GetPrediction retrieves a prediction by ID with tenant isolation.
func (r *SQLRepository) GetPrediction(ctx context.Context, tenantID string, predID string) (*domain.Prediction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tx_id, risk_score, fraud_probability, risk_level,
			   confidence, sub_scores, triggered_rules, contributions,
			   recommendation, overlay_flags, degraded, model_version, timestamp
		FROM predictions
		WHERE tenant_id = ? AND id = ?
	`

	var pred domain.Prediction
	var subScores, triggered, contributions string
	var flags sql.NullString
	var degraded int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, predID).Scan(
		&pred.ID, &pred.TenantID, &pred.TxID,
		&pred.RiskScore, &pred.FraudProbability, &pred.RiskLevel,
		&pred.ModelConfidence,
		&subScores, &triggered, &contributions,
		&pred.Recommendation, &flags, &degraded, &pred.ModelVersion, &pred.Timestamp,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	pred.Degraded = degraded == 1
	json.Unmarshal([]byte(subScores), &pred.SubScores)
	json.Unmarshal([]byte(triggered), &pred.TriggeredRules)
	json.Unmarshal([]byte(contributions), &pred.Contributions)
	if flags.Valid && flags.String != "" {
		json.Unmarshal([]byte(flags.String), &pred.OverlayFlags)
	}

	return &pred, nil
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Reason, enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration with tenant isolation.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, reason, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.RuleConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &cfg.Reason, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1

	return &cfg, nil
}

// ListRuleConfigs retrieves all active rule configurations for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, reason, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &cfg.Reason, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// SaveModelConfig stores a versioned model configuration with tenant isolation.
func (r *SQLRepository) SaveModelConfig(ctx context.Context, tenantID string, cfg *domain.ModelConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	weights, _ := json.Marshal(cfg.Weights)
	importance, _ := json.Marshal(cfg.FeatureImportance)

	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO model_configs (
			version, tenant_id, weights, feature_importance,
			high_threshold, medium_threshold, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(version, tenant_id) DO UPDATE SET
			weights = excluded.weights,
			feature_importance = excluded.feature_importance,
			high_threshold = excluded.high_threshold,
			medium_threshold = excluded.medium_threshold
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		cfg.Version, tenantID, string(weights), string(importance),
		cfg.HighThreshold, cfg.MediumThreshold, createdAt,
	)
	return err
}

// GetModelConfig retrieves a model configuration by version with tenant isolation.
func (r *SQLRepository) GetModelConfig(ctx context.Context, tenantID string, version string) (*domain.ModelConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT version, weights, feature_importance, high_threshold, medium_threshold, created_at
		FROM model_configs
		WHERE tenant_id = ? AND version = ?
	`

	var cfg domain.ModelConfig
	var weights, importance string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, version).Scan(
		&cfg.Version, &weights, &importance,
		&cfg.HighThreshold, &cfg.MediumThreshold, &cfg.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(weights), &cfg.Weights); err != nil {
		return nil, fmt.Errorf("failed to parse model weights: %w", err)
	}
	if err := json.Unmarshal([]byte(importance), &cfg.FeatureImportance); err != nil {
		return nil, fmt.Errorf("failed to parse feature importance: %w", err)
	}

	return &cfg, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
