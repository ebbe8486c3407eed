package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrInput indicates a required numeric field was missing or invalid
// after defaulting. It is never retried.
var ErrInput = errors.New("invalid scoring input")

// HistoricalContext is the per-scoring-call snapshot of an account's
// recent activity. It is built fresh for every call and never persisted
// by the scorer; the history provider owns the underlying queries.
type HistoricalContext struct {
	// TransactionsLastHour is the velocity: transactions in the trailing hour.
	TransactionsLastHour int `json:"transactionsLastHour"`

	// AvgAmount and StdAmount are rolling statistics over recent history.
	// StdAmount is never zero; the extractor substitutes DefaultStdAmount.
	AvgAmount float64 `json:"historicalAvgAmount"`
	StdAmount float64 `json:"historicalStdAmount"`

	// MinutesSinceLast is the time since the account's previous transaction.
	MinutesSinceLast float64 `json:"minutesSinceLastTransaction"`

	// Change flags relative to the previous transaction.
	LocationChanged bool `json:"locationChanged"`
	DeviceChanged   bool `json:"deviceChanged"`

	// External risk signals in [0,1]. Higher IPReputation = more trustworthy.
	MerchantRisk float64 `json:"merchantRiskScore"`
	IPReputation float64 `json:"ipReputationScore"`
}

// Default context values applied when a field is absent or history is empty.
const (
	DefaultVelocity         = 1
	DefaultAvgAmount        = 100.0
	DefaultStdAmount        = 50.0
	DefaultMinutesSinceLast = 60.0
	DefaultMerchantRisk     = 0.1
	DefaultIPReputation     = 0.5
)

// ScoreRequest is the flat scoring payload accepted by the API: the
// transaction amount plus its historical context, with every context
// field optional. Zero-valued numeric fields take the documented defaults.
type ScoreRequest struct {
	Amount               float64  `json:"amount"`
	MerchantID           string   `json:"merchantId,omitempty"`
	TransactionsLastHour *int     `json:"transactionsLastHour,omitempty"`
	AvgAmount            *float64 `json:"historicalAvgAmount,omitempty"`
	StdAmount            *float64 `json:"historicalStdAmount,omitempty"`
	MinutesSinceLast     *float64 `json:"minutesSinceLastTransaction,omitempty"`
	LocationChanged      bool     `json:"locationChanged,omitempty"`
	DeviceChanged        bool     `json:"deviceChanged,omitempty"`
	MerchantRisk         *float64 `json:"merchantRiskScore,omitempty"`
	IPReputation         *float64 `json:"ipReputationScore,omitempty"`
}

// Validate checks the request's required numeric fields.
func (r *ScoreRequest) Validate() error {
	if math.IsNaN(r.Amount) || math.IsInf(r.Amount, 0) {
		return fmt.Errorf("%w: amount is not a finite number", ErrInput)
	}
	if r.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInput)
	}
	checks := []struct {
		name string
		v    *float64
	}{
		{"historicalAvgAmount", r.AvgAmount},
		{"historicalStdAmount", r.StdAmount},
		{"minutesSinceLastTransaction", r.MinutesSinceLast},
		{"merchantRiskScore", r.MerchantRisk},
		{"ipReputationScore", r.IPReputation},
	}
	for _, c := range checks {
		if c.v != nil && (math.IsNaN(*c.v) || math.IsInf(*c.v, 0)) {
			return fmt.Errorf("%w: %s is not a finite number", ErrInput, c.name)
		}
	}
	return nil
}

// Context materialises the historical context, applying defaults for
// any field the caller omitted.
func (r *ScoreRequest) Context() HistoricalContext {
	hc := HistoricalContext{
		TransactionsLastHour: DefaultVelocity,
		AvgAmount:            DefaultAvgAmount,
		StdAmount:            DefaultStdAmount,
		MinutesSinceLast:     DefaultMinutesSinceLast,
		LocationChanged:      r.LocationChanged,
		DeviceChanged:        r.DeviceChanged,
		MerchantRisk:         DefaultMerchantRisk,
		IPReputation:         DefaultIPReputation,
	}
	if r.TransactionsLastHour != nil {
		hc.TransactionsLastHour = *r.TransactionsLastHour
	}
	if r.AvgAmount != nil {
		hc.AvgAmount = *r.AvgAmount
	}
	if r.StdAmount != nil {
		hc.StdAmount = *r.StdAmount
	}
	if r.MinutesSinceLast != nil {
		hc.MinutesSinceLast = *r.MinutesSinceLast
	}
	if r.MerchantRisk != nil {
		hc.MerchantRisk = *r.MerchantRisk
	}
	if r.IPReputation != nil {
		hc.IPReputation = *r.IPReputation
	}
	return hc
}
