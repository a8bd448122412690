package domain

import (
	"math"
	"time"
)

// Transaction represents a mobile-money transaction to be assessed.
// Phone numbers and device identifiers are only ever carried as hashes.
type Transaction struct {
	// Core identifiers
	TxID     string `json:"tx_id"`
	TenantID string `json:"tenant_id,omitempty"`

	// Parties (hashed fingerprints)
	SenderPhoneHash   string `json:"sender_phone_hash"`
	ReceiverPhoneHash string `json:"receiver_phone_hash"`
	DeviceIDHash      string `json:"device_id_hash"`

	// Financial details
	Amount float64 `json:"amount"`
	TxType string  `json:"tx_type"` // open category: send, withdraw, deposit, payment, cash, buy ...

	Location   string `json:"location"`
	MerchantID string `json:"merchant_id,omitempty"`

	// Account history
	AccountAgeDays   int `json:"account_age_days"`
	PreviousDisputes int `json:"previous_disputes"`

	// Temporal. Zero means the timestamp was not supplied.
	Timestamp time.Time `json:"timestamp"`
}

// Transaction lifecycle status, derived from the assessment action.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusHeld      = "held"
	TxStatusFailed    = "failed"
)

// StoredTransaction is a transaction as persisted by the repository.
type StoredTransaction struct {
	Transaction
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// LabeledTransaction is one training sample.
type LabeledTransaction struct {
	Transaction
	IsFraud bool `json:"is_fraud"`
}

// Validate checks the fields the engine depends on.
// The returned error wraps ErrMalformedInput and names the offending field.
func (t *Transaction) Validate() error {
	switch {
	case t.TxID == "":
		return &InputError{Field: "tx_id", Reason: "is required"}
	case math.IsNaN(t.Amount) || math.IsInf(t.Amount, 0):
		return &InputError{Field: "amount", Reason: "must be a finite number"}
	case t.Amount <= 0:
		return &InputError{Field: "amount", Reason: "must be positive"}
	case t.AccountAgeDays < 0:
		return &InputError{Field: "account_age_days", Reason: "must not be negative"}
	case t.PreviousDisputes < 0:
		return &InputError{Field: "previous_disputes", Reason: "must not be negative"}
	case t.TxType == "":
		return &InputError{Field: "tx_type", Reason: "is required"}
	case t.Location == "":
		return &InputError{Field: "location", Reason: "is required"}
	}
	return nil
}

// StatusForAction maps an assessment action onto the transaction status.
func StatusForAction(a Action) string {
	switch a {
	case ActionAllow:
		return TxStatusCompleted
	case ActionHold:
		return TxStatusHeld
	case ActionBlock:
		return TxStatusFailed
	default:
		return TxStatusPending
	}
}
