// Package ledger submits blocked assessments to an external audit ledger.
package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Submission status values.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

// Receipt is the ledger's acknowledgement of one submission.
type Receipt struct {
	TxHash      string    `json:"tx_hash"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Submitter records an assessment on the ledger.
type Submitter interface {
	Submit(ctx context.Context, rec *domain.AssessmentRecord) (*Receipt, error)
}

// StubSubmitter derives a deterministic transaction hash without contacting
// any network. It stands in until a real chain client is configured.
type StubSubmitter struct {
	now func() time.Time
}

// NewStubSubmitter creates a stub submitter.
func NewStubSubmitter() *StubSubmitter {
	return &StubSubmitter{now: time.Now}
}

// Submit hashes the record and returns a pending receipt.
func (s *StubSubmitter) Submit(ctx context.Context, rec *domain.AssessmentRecord) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hash, err := Hash(rec)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		TxHash:      hash,
		Status:      StatusPending,
		SubmittedAt: s.now().UTC(),
	}, nil
}

// Hash returns the 0x-prefixed keccak256 of the record's canonical JSON.
// Any previously assigned ledger hash is excluded.
func Hash(rec *domain.AssessmentRecord) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("ledger: nil record")
	}
	c := *rec
	c.LedgerTxHash = ""
	c.CreatedAt = c.CreatedAt.UTC()

	// encoding/json emits struct fields in declaration order and map keys sorted.
	data, err := json.Marshal(&c)
	if err != nil {
		return "", fmt.Errorf("ledger: encode record: %w", err)
	}
	return "0x" + hex.EncodeToString(crypto.Keccak256(data)), nil
}
