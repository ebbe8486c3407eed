// Package rules provides the CEL-Go overlay rule engine. Overlay rules
// are tenant-authored boolean expressions over the scoring feature
// vector; they attach flags to a prediction but never change its score.
package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the CEL-based overlay rule engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates an overlay rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	// CEL environment exposing the feature vector, one variable per
	// feature plus the combined map for forward compatibility.
	env, err := cel.NewEnv(
		cel.Variable("features", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("velocity", cel.IntType),
		cel.Variable("amount_zscore", cel.DoubleType),
		cel.Variable("time_since_last", cel.DoubleType),
		cel.Variable("location_changed", cel.BoolType),
		cel.Variable("merchant_risk", cel.DoubleType),
		cel.Variable("hour_of_day", cel.IntType),
		cel.Variable("is_weekend", cel.BoolType),
		cel.Variable("device_changed", cel.BoolType),
		cel.Variable("ip_reputation", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine. Rules are keyed
// by tenant and rule ID, so identical IDs under different tenants do
// not collide.
func (e *Engine) LoadRule(cfg *domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[ruleKey(cfg.TenantID, cfg.ID)] = compiled

	return nil
}

func ruleKey(tenantID, ruleID string) string {
	return tenantID + "/" + ruleID
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// EvaluateAll evaluates the tenant's loaded rules against a feature
// vector in parallel and returns one flag per rule. Flags never alter
// the ensemble score; callers attach the triggered ones to a
// prediction. Rules belonging to other tenants are never evaluated.
func (e *Engine) EvaluateAll(ctx context.Context, tenantID string, fv domain.FeatureVector) ([]domain.RuleFlag, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		if rule.Config.TenantID == tenantID {
			rules = append(rules, rule)
		}
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	activation := activationFor(fv)

	results := make([]domain.RuleFlag, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			results[idx] = e.evaluateRule(r, activation)
		}(i, rule)
	}

	wg.Wait()

	return results, nil
}

// activationFor maps the feature vector into CEL variables.
func activationFor(fv domain.FeatureVector) map[string]any {
	vars := map[string]any{
		"amount":           fv.Amount,
		"velocity":         int64(fv.Velocity),
		"amount_zscore":    fv.AmountZScore,
		"time_since_last":  fv.TimeSinceLast,
		"location_changed": fv.LocationChange >= 1,
		"merchant_risk":    fv.MerchantRisk,
		"hour_of_day":      int64(fv.HourOfDay),
		"is_weekend":       fv.IsWeekend >= 1,
		"device_changed":   fv.DeviceChange >= 1,
		"ip_reputation":    fv.IPReputation,
	}

	features := make(map[string]any, len(vars))
	for k, v := range vars {
		features[k] = v
	}
	vars["features"] = features
	return vars
}

// evaluateRule evaluates a single rule and returns its flag.
func (e *Engine) evaluateRule(rule *CompiledRule, activation map[string]any) domain.RuleFlag {
	start := time.Now()

	flag := domain.RuleFlag{
		RuleID: rule.Config.ID,
		Name:   rule.Config.Name,
	}

	out, _, err := rule.Program.Eval(activation)
	if err != nil {
		flag.Reason = fmt.Sprintf("evaluation error: %v", err)
		flag.ProcessMs = time.Since(start).Milliseconds()
		return flag
	}

	flag.Score = toScore(out)
	flag.Triggered = flag.Score >= 1
	if flag.Triggered {
		flag.Reason = rule.Config.Reason
	}
	flag.ProcessMs = time.Since(start).Milliseconds()

	return flag
}

// toScore converts a CEL value to a numeric score.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1.0
		}
		return 0.0
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	default:
		return 0.0
	}
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules replaces one tenant's rules with the given set. Other
// tenants' rules are untouched. This enables hot-reloading of rules
// from the database without restarting the server.
func (e *Engine) ReloadRules(tenantID string, configs []*domain.RuleConfig) error {
	// Compile first so a bad config leaves the loaded set unchanged.
	newRules := make(map[string]*CompiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		if cfg.TenantID == "" {
			cfg.TenantID = tenantID
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[ruleKey(tenantID, cfg.ID)] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for key, rule := range e.compiledRules {
		if rule.Config.TenantID == tenantID {
			delete(e.compiledRules, key)
		}
	}
	for key, rule := range newRules {
		e.compiledRules[key] = rule
	}

	return nil
}

// GetLoadedRules returns the tenant's currently loaded rule
// configurations.
func (e *Engine) GetLoadedRules(tenantID string) []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		if compiled.Config.TenantID == tenantID {
			rules = append(rules, compiled.Config)
		}
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if outputType := ast.OutputType(); outputType != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
