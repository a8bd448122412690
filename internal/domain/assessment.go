package domain

import (
	"time"
)

// RiskLabel is the coarse risk bucket derived from the fraud probability.
type RiskLabel string

const (
	RiskLow    RiskLabel = "low"
	RiskMedium RiskLabel = "medium"
	RiskHigh   RiskLabel = "high"
)

// Action is the enforced consequence of a risk label.
type Action string

const (
	ActionAllow Action = "allow"
	ActionHold  Action = "hold_for_2fa"
	ActionBlock Action = "block"
)

// RiskAssessment is the engine output for one transaction.
// It carries no wall-clock or random fields, so repeated predictions
// against the same model are identical.
type RiskAssessment struct {
	TxID               string             `json:"tx_id"`
	RiskScore          float64            `json:"risk_score"`
	RiskLabel          RiskLabel          `json:"risk_label"`
	Action             Action             `json:"action"`
	Explanation        string             `json:"explanation"`
	FeatureImportances map[string]float64 `json:"feature_importances,omitempty"`
	ModelVersion       string             `json:"model_version"`
}

// AssessmentRecord is a persisted assessment with its service metadata.
type AssessmentRecord struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	RiskAssessment
	LedgerTxHash string    `json:"blockchain_tx_hash,omitempty"`
	CreatedAt    time.Time `json:"created_at"`

	// InputHash fingerprints the submitted transaction. Only the cache keeps it.
	InputHash string `json:"input_hash,omitempty"`
}

// TrainingResult summarizes one fit.
type TrainingResult struct {
	ModelVersion     string    `json:"model_version"`
	Samples          int       `json:"samples"`
	FraudSamples     int       `json:"fraud_samples"`
	Features         []string  `json:"features"`
	TrainingAccuracy float64   `json:"training_accuracy"`
	TrainedAt        time.Time `json:"trained_at"`
	DurationMs       int64     `json:"duration_ms"`
}

// ModelArtifact is a serialized model stored by the repository.
type ModelArtifact struct {
	Version      string    `json:"version"`
	Data         []byte    `json:"-"`
	Samples      int       `json:"samples"`
	FraudSamples int       `json:"fraud_samples"`
	CreatedAt    time.Time `json:"created_at"`
}

// BlockedAccount is a sender blocked after a high-risk assessment.
type BlockedAccount struct {
	PhoneHash   string     `json:"phone_hash"`
	TenantID    string     `json:"tenant_id"`
	Reason      string     `json:"reason"`
	BlockedBy   string     `json:"blocked_by"`
	IsPermanent bool       `json:"is_permanent"`
	BlockedAt   time.Time  `json:"blocked_at"`
	UnblockAt   *time.Time `json:"unblock_at,omitempty"`
}
