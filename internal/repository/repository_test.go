package repository

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetTransaction", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:        "tx-001",
			AccountID: "acct-001",
			Merchant:  "grocery-mart",
			Channel:   "POS",
			Amount:    1000.00,
			Currency:  "USD",
			City:      "Boston",
			Country:   "US",
			DeviceID:  "dev-1",
			IP:        "203.0.113.7",
			Timestamp: time.Now().UTC(),
			CreatedAt: time.Now().UTC(),
			Metadata:  map[string]any{"source": "api"},
		}

		if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
			t.Fatalf("SaveTransaction failed: %v", err)
		}

		retrieved, err := repo.GetTransaction(ctx, tenantID, tx.ID)
		if err != nil {
			t.Fatalf("GetTransaction failed: %v", err)
		}

		if retrieved.ID != tx.ID {
			t.Errorf("expected ID %s, got %s", tx.ID, retrieved.ID)
		}
		if retrieved.Amount != tx.Amount {
			t.Errorf("expected Amount %.2f, got %.2f", tx.Amount, retrieved.Amount)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
		if retrieved.City != tx.City {
			t.Errorf("expected City %s, got %s", tx.City, retrieved.City)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		otherTenant := "tenant-002"

		_, err := repo.GetTransaction(ctx, otherTenant, "tx-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}

		count, err := repo.CountTransactionsSince(ctx, otherTenant, "acct-001", time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("CountTransactionsSince failed: %v", err)
		}
		if count != 0 {
			t.Errorf("expected 0 transactions for other tenant, got %d", count)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		tx := &domain.Transaction{ID: "tx-test"}

		if err := repo.SaveTransaction(ctx, "", tx); err == nil {
			t.Error("expected error for empty tenantID")
		}

		if _, err := repo.GetTransaction(ctx, "", "tx-001"); err == nil {
			t.Error("expected error for empty tenantID")
		}

		if _, _, _, err := repo.AmountStats(ctx, "", "acct-001", time.Now()); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("HistoryAggregates", func(t *testing.T) {
		base := time.Now().UTC()
		amounts := []float64{100, 200, 300}
		for i, amount := range amounts {
			tx := &domain.Transaction{
				ID:        "agg-tx-" + string(rune('a'+i)),
				AccountID: "acct-agg",
				Amount:    amount,
				Currency:  "USD",
				City:      "Boston",
				DeviceID:  "dev-1",
				Timestamp: base.Add(time.Duration(i-3) * time.Minute),
				CreatedAt: base,
			}
			if err := repo.SaveTransaction(ctx, tenantID, tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}
		}

		count, err := repo.CountTransactionsSince(ctx, tenantID, "acct-agg", base.Add(-time.Hour))
		if err != nil {
			t.Fatalf("CountTransactionsSince failed: %v", err)
		}
		if count != 3 {
			t.Errorf("expected 3 transactions, got %d", count)
		}

		avg, std, n, err := repo.AmountStats(ctx, tenantID, "acct-agg", base.Add(-time.Hour))
		if err != nil {
			t.Fatalf("AmountStats failed: %v", err)
		}
		if n != 3 {
			t.Errorf("expected n=3, got %d", n)
		}
		if avg != 200 {
			t.Errorf("expected avg 200, got %v", avg)
		}
		// population stddev of {100,200,300} is sqrt(20000/3)
		wantStd := math.Sqrt(20000.0 / 3.0)
		if math.Abs(std-wantStd) > 1e-6 {
			t.Errorf("expected std %v, got %v", wantStd, std)
		}

		last, err := repo.LastTransaction(ctx, tenantID, "acct-agg")
		if err != nil {
			t.Fatalf("LastTransaction failed: %v", err)
		}
		if last.Amount != 300 {
			t.Errorf("expected most recent amount 300, got %v", last.Amount)
		}
	})

	t.Run("AmountStatsEmptyAccount", func(t *testing.T) {
		avg, std, n, err := repo.AmountStats(ctx, tenantID, "acct-empty", time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("AmountStats failed: %v", err)
		}
		if n != 0 || avg != 0 || std != 0 {
			t.Errorf("expected zero stats for empty account, got avg=%v std=%v n=%d", avg, std, n)
		}

		_, err = repo.LastTransaction(ctx, tenantID, "acct-empty")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})

	t.Run("SaveAndGetPrediction", func(t *testing.T) {
		pred := &domain.Prediction{
			ID:               "pred-001",
			TxID:             "tx-001",
			RiskScore:        72.15,
			FraudProbability: 0.722,
			RiskLevel:        domain.RiskHigh,
			ModelConfidence:  0.884,
			SubScores:        domain.SubScores{Anomaly: 0.7, Rule: 0.8, Velocity: 0.65},
			TriggeredRules:   []string{"Very large transaction: $15,000.00"},
			Contributions: []domain.FeatureContribution{
				{Feature: "velocity", Contribution: 16.3},
			},
			Recommendation: domain.RecommendHigh,
			ModelVersion:   "kestrel-1.0",
			Timestamp:      time.Now().UTC(),
		}

		if err := repo.SavePrediction(ctx, tenantID, pred); err != nil {
			t.Fatalf("SavePrediction failed: %v", err)
		}

		retrieved, err := repo.GetPrediction(ctx, tenantID, pred.ID)
		if err != nil {
			t.Fatalf("GetPrediction failed: %v", err)
		}

		if retrieved.RiskScore != pred.RiskScore {
			t.Errorf("expected RiskScore %v, got %v", pred.RiskScore, retrieved.RiskScore)
		}
		if retrieved.RiskLevel != domain.RiskHigh {
			t.Errorf("expected RiskLevel HIGH, got %s", retrieved.RiskLevel)
		}
		if retrieved.SubScores != pred.SubScores {
			t.Errorf("expected SubScores %+v, got %+v", pred.SubScores, retrieved.SubScores)
		}
		if len(retrieved.TriggeredRules) != 1 {
			t.Errorf("expected 1 triggered rule, got %d", len(retrieved.TriggeredRules))
		}
		if retrieved.Degraded {
			t.Error("expected Degraded false")
		}
	})

	t.Run("SaveAndGetRuleConfig", func(t *testing.T) {
		rule := &domain.RuleConfig{
			ID:         "rule-001",
			Name:       "Night Velocity",
			Version:    "1.0.0",
			Expression: "velocity >= 5 && hour_of_day < 6",
			Reason:     "High velocity outside business hours",
			Enabled:    true,
		}

		if err := repo.SaveRuleConfig(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveRuleConfig failed: %v", err)
		}

		retrieved, err := repo.GetRuleConfig(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetRuleConfig failed: %v", err)
		}
		if retrieved.Expression != rule.Expression {
			t.Errorf("expected Expression %q, got %q", rule.Expression, retrieved.Expression)
		}
		if !retrieved.Enabled {
			t.Error("expected Enabled true")
		}

		configs, err := repo.ListRuleConfigs(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListRuleConfigs failed: %v", err)
		}
		if len(configs) != 1 {
			t.Errorf("expected 1 config, got %d", len(configs))
		}
	})

	t.Run("SaveAndGetModelConfig", func(t *testing.T) {
		cfg := domain.DefaultModelConfig()

		if err := repo.SaveModelConfig(ctx, tenantID, cfg); err != nil {
			t.Fatalf("SaveModelConfig failed: %v", err)
		}

		retrieved, err := repo.GetModelConfig(ctx, tenantID, cfg.Version)
		if err != nil {
			t.Fatalf("GetModelConfig failed: %v", err)
		}
		if retrieved.Weights != cfg.Weights {
			t.Errorf("expected Weights %+v, got %+v", cfg.Weights, retrieved.Weights)
		}
		if retrieved.HighThreshold != cfg.HighThreshold {
			t.Errorf("expected HighThreshold %v, got %v", cfg.HighThreshold, retrieved.HighThreshold)
		}
		if err := retrieved.Validate(); err != nil {
			t.Errorf("retrieved config fails validation: %v", err)
		}
	})

	t.Run("SaveModelConfigRejectsInvalid", func(t *testing.T) {
		bad := domain.DefaultModelConfig()
		bad.Weights.Anomaly = 0.9

		if err := repo.SaveModelConfig(ctx, tenantID, bad); err == nil {
			t.Error("expected error for invalid model config")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetPrediction(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
		if _, err := repo.GetModelConfig(ctx, tenantID, "nonexistent"); err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
