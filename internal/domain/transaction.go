package domain

import (
	"time"
)

// Transaction represents an incoming transaction to be scored.
type Transaction struct {
	// Core identifiers
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`

	// Account that originated the transaction
	AccountID string `json:"accountId"`

	// Counterparty details
	Merchant string `json:"merchant,omitempty"`
	Channel  string `json:"channel,omitempty"` // e.g., "POS", "ONLINE", "ATM"

	// Financial details
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	// Optional context used for change detection
	City     string `json:"city,omitempty"`
	Country  string `json:"country,omitempty"`
	DeviceID string `json:"deviceId,omitempty"`
	IP       string `json:"ip,omitempty"`

	// Temporal
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// IngestRequest is the API request payload for transaction ingestion.
type IngestRequest struct {
	AccountID string                 `json:"accountId" validate:"required"`
	Merchant  string                 `json:"merchant,omitempty"`
	Channel   string                 `json:"channel,omitempty"`
	Amount    float64                `json:"amount" validate:"required,gt=0"`
	Currency  string                 `json:"currency" validate:"required,len=3"`
	City      string                 `json:"city,omitempty"`
	Country   string                 `json:"country,omitempty"`
	DeviceID  string                 `json:"deviceId,omitempty"`
	IP        string                 `json:"ip,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToTransaction converts a request to a Transaction domain object.
func (r *IngestRequest) ToTransaction(tenantID string) *Transaction {
	now := time.Now().UTC()
	return &Transaction{
		TenantID:  tenantID,
		AccountID: r.AccountID,
		Merchant:  r.Merchant,
		Channel:   r.Channel,
		Amount:    r.Amount,
		Currency:  r.Currency,
		City:      r.City,
		Country:   r.Country,
		DeviceID:  r.DeviceID,
		IP:        r.IP,
		Timestamp: now,
		CreatedAt: now,
		Metadata:  r.Metadata,
	}
}
