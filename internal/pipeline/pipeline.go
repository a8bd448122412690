// Package pipeline runs one transaction through assessment, persistence and
// enforcement. The HTTP API and the async worker share this path.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/fraudguard/internal/assess"
	"github.com/opensource-finance/fraudguard/internal/bus"
	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/ledger"
	"github.com/opensource-finance/fraudguard/internal/metrics"
	"github.com/opensource-finance/fraudguard/internal/policy"
)

var tracer = otel.Tracer("fraudguard-pipeline")

// DefaultBlockDuration is how long a sender stays blocked after a block action.
const DefaultBlockDuration = 24 * time.Hour

// Result is the outcome of processing one transaction.
type Result struct {
	Transaction *domain.StoredTransaction
	Assessment  *domain.AssessmentRecord
	// Cached is true when the assessment was replayed from the cache.
	Cached bool
}

// Processor wires the assessor to storage, cache, bus and ledger.
// Only the assessor is required; the rest are skipped when nil.
type Processor struct {
	assessor      *assess.Assessor
	repo          domain.Repository
	cache         domain.Cache
	bus           domain.EventBus
	ledger        ledger.Submitter
	cacheTTL      time.Duration
	blockDuration time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithRepository persists transactions, assessments and blocks.
func WithRepository(r domain.Repository) Option {
	return func(p *Processor) { p.repo = r }
}

// WithCache enables idempotent replays of the same tx_id.
func WithCache(c domain.Cache, ttl time.Duration) Option {
	return func(p *Processor) {
		p.cache = c
		p.cacheTTL = ttl
	}
}

// WithBus publishes assessment and alert events.
func WithBus(b domain.EventBus) Option {
	return func(p *Processor) { p.bus = b }
}

// WithLedger submits blocked assessments to the ledger.
func WithLedger(s ledger.Submitter) Option {
	return func(p *Processor) { p.ledger = s }
}

// WithBlockDuration sets the sender block duration. Zero blocks permanently.
func WithBlockDuration(d time.Duration) Option {
	return func(p *Processor) { p.blockDuration = d }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) { p.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

// New creates a Processor around an assessor.
func New(a *assess.Assessor, opts ...Option) *Processor {
	p := &Processor{
		assessor:      a,
		cacheTTL:      5 * time.Minute,
		blockDuration: DefaultBlockDuration,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process assesses tx for tenantID and applies the decided action.
// Engine errors (not trained, malformed input) are returned unchanged.
// Storage, bus and ledger failures are logged and do not fail the call.
//
// A resubmission of an identical transaction (same tx_id and body) within
// the cache TTL replays the earlier assessment. A resubmitted tx_id with a
// different body is assessed again and replaces the cached result.
func (p *Processor) Process(ctx context.Context, tenantID string, tx domain.Transaction) (*Result, error) {
	ctx, span := tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("tx_id", tx.TxID),
		),
	)
	defer span.End()

	start := time.Now()
	tx.TenantID = tenantID
	fp := fingerprint(tx)
	if tx.Timestamp.IsZero() {
		tx.Timestamp = p.now().UTC()
	}

	if res := p.replay(ctx, tenantID, tx, fp); res != nil {
		span.SetAttributes(attribute.Bool("cached", true))
		return res, nil
	}

	ra, err := p.assessor.Predict(ctx, tx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := p.now().UTC()
	rec := &domain.AssessmentRecord{
		ID:             uuid.NewString(),
		TenantID:       tenantID,
		RiskAssessment: *ra,
		CreatedAt:      now,
		InputHash:      fp,
	}
	stored := &domain.StoredTransaction{
		Transaction: tx,
		Status:      domain.StatusForAction(ra.Action),
		CreatedAt:   now,
	}

	if policy.ShouldAlert(ra) {
		p.submitToLedger(ctx, rec)
	}

	if p.repo != nil {
		if err := p.repo.SaveTransaction(ctx, tenantID, stored); err != nil {
			p.logger.Error("failed to save transaction", "tx_id", tx.TxID, "tenant_id", tenantID, "error", err)
		}
		if err := p.repo.SaveAssessment(ctx, tenantID, rec); err != nil {
			p.logger.Error("failed to save assessment", "tx_id", tx.TxID, "tenant_id", tenantID, "error", err)
		}
	}

	if p.cache != nil {
		if err := p.cache.SetAssessment(ctx, tenantID, tx.TxID, rec, p.cacheTTL); err != nil {
			p.logger.Warn("failed to cache assessment", "tx_id", tx.TxID, "error", err)
		}
	}

	p.publish(ctx, tenantID, domain.TopicAssessment, rec)

	if policy.ShouldAlert(ra) {
		p.blockSender(ctx, tenantID, tx, rec)
		p.publish(ctx, tenantID, domain.TopicHighRisk, rec)
	}

	elapsed := time.Since(start)
	metrics.ObserveAssessment(string(ra.RiskLabel), string(ra.Action), elapsed)
	span.SetAttributes(
		attribute.Float64("risk_score", ra.RiskScore),
		attribute.String("action", string(ra.Action)),
	)

	p.logger.Info("transaction assessed",
		"tx_id", tx.TxID,
		"tenant_id", tenantID,
		"risk_score", ra.RiskScore,
		"action", ra.Action,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &Result{Transaction: stored, Assessment: rec}, nil
}

// replay returns the cached result for tx when the same body was assessed
// by the serving model version.
func (p *Processor) replay(ctx context.Context, tenantID string, tx domain.Transaction, fp string) *Result {
	if p.cache == nil {
		return nil
	}
	m := p.assessor.Model()
	if m == nil {
		return nil
	}

	rec, err := p.cache.GetAssessment(ctx, tenantID, tx.TxID)
	switch {
	case err != nil:
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		p.logger.Warn("assessment cache lookup failed", "tx_id", tx.TxID, "error", err)
		return nil
	case rec == nil:
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil
	case rec.ModelVersion != m.Version:
		metrics.CacheLookupsTotal.WithLabelValues("stale").Inc()
		return nil
	case fp == "" || rec.InputHash != fp:
		metrics.CacheLookupsTotal.WithLabelValues("changed").Inc()
		p.logger.Info("tx_id resubmitted with a different body, reassessing", "tx_id", tx.TxID, "tenant_id", tenantID)
		return nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()

	return &Result{
		Transaction: &domain.StoredTransaction{
			Transaction: tx,
			Status:      domain.StatusForAction(rec.Action),
			CreatedAt:   rec.CreatedAt,
		},
		Assessment: rec,
		Cached:     true,
	}
}

func (p *Processor) submitToLedger(ctx context.Context, rec *domain.AssessmentRecord) {
	if p.ledger == nil {
		return
	}
	receipt, err := p.ledger.Submit(ctx, rec)
	if err != nil {
		metrics.LedgerSubmissionsTotal.WithLabelValues(ledger.StatusFailed).Inc()
		p.logger.Error("ledger submission failed", "tx_id", rec.TxID, "error", err)
		return
	}
	metrics.LedgerSubmissionsTotal.WithLabelValues(receipt.Status).Inc()
	rec.LedgerTxHash = receipt.TxHash
}

func (p *Processor) blockSender(ctx context.Context, tenantID string, tx domain.Transaction, rec *domain.AssessmentRecord) {
	if p.repo == nil || tx.SenderPhoneHash == "" {
		return
	}
	acct := &domain.BlockedAccount{
		PhoneHash: tx.SenderPhoneHash,
		TenantID:  tenantID,
		Reason:    fmt.Sprintf("tx %s: %s", tx.TxID, rec.Explanation),
		BlockedBy: "system",
		BlockedAt: rec.CreatedAt,
	}
	if p.blockDuration > 0 {
		until := rec.CreatedAt.Add(p.blockDuration)
		acct.UnblockAt = &until
	} else {
		acct.IsPermanent = true
	}
	if err := p.repo.BlockAccount(ctx, tenantID, acct); err != nil {
		p.logger.Error("failed to block sender", "tx_id", tx.TxID, "tenant_id", tenantID, "error", err)
		return
	}
	metrics.BlockedAccountsTotal.Inc()
}

func (p *Processor) publish(ctx context.Context, tenantID, topic string, rec *domain.AssessmentRecord) {
	if p.bus == nil {
		return
	}
	if err := bus.PublishJSON(ctx, p.bus, tenantID, topic, rec); err != nil {
		p.logger.Error("failed to publish event", "topic", topic, "tenant_id", tenantID, "error", err)
	}
}

// fingerprint hashes tx as submitted. It is empty when tx cannot be encoded,
// which disables replay for that request.
func fingerprint(tx domain.Transaction) string {
	data, err := json.Marshal(tx)
	if err != nil {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}
