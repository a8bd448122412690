// Package worker assesses transactions published to the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
	"github.com/opensource-finance/fraudguard/internal/pipeline"
)

// Worker processes transactions asynchronously from the EventBus.
type Worker struct {
	bus       domain.EventBus
	processor *pipeline.Processor

	mu            sync.Mutex
	subscriptions []domain.Subscription
	closing       bool
	wg            sync.WaitGroup // in-flight handlers; Add only under mu while !closing
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all tenants)
	TenantIDs []string
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, processor *pipeline.Processor) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:       bus,
		processor: processor,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// TransactionMessage is the payload published to
// fraudguard.transaction.received.
type TransactionMessage struct {
	TraceID string `json:"trace_id,omitempty"`
	domain.Transaction
}

func (m *TransactionMessage) UnmarshalJSON(data []byte) error {
	var rest struct {
		TraceID string `json:"trace_id"`
	}
	if err := domain.DecodeEmbedded(data, &m.Transaction, &rest); err != nil {
		return err
	}
	m.TraceID = rest.TraceID
	return nil
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.subscribe(domain.GlobalTenantID)
	}

	started := 0
	for _, tenantID := range cfg.TenantIDs {
		if err := w.subscribe(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
		started++
	}
	if started == 0 {
		return fmt.Errorf("no tenant worker could be started")
	}

	slog.Info("workers started",
		"tenant_count", started,
	)

	return nil
}

// subscribe listens on the received topic for one tenant, or for every
// tenant when tenantID is the global tenant.
func (w *Worker) subscribe(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicTransactionReceived, func(ctx context.Context, msg *domain.Message) error {
		if !w.track() {
			slog.Debug("worker stopping, message skipped", "message_id", msg.ID)
			return nil
		}
		defer w.wg.Done()

		target := tenantID
		if target == domain.GlobalTenantID {
			target = msg.TenantID
		}
		return w.processTransaction(ctx, target, msg)
	})
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicTransactionReceived,
	)
	return nil
}

// track registers an in-flight handler. It reports false once Stop has begun.
func (w *Worker) track() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing {
		return false
	}
	w.wg.Add(1)
	return true
}

// processTransaction runs one received transaction through the pipeline.
func (w *Worker) processTransaction(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var txMsg TransactionMessage
	if err := json.Unmarshal(msg.Payload, &txMsg); err != nil {
		slog.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// Use message tenant if provided
	if txMsg.TenantID != "" {
		tenantID = txMsg.TenantID
	}

	traceID := txMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	res, err := w.processor.Process(ctx, tenantID, txMsg.Transaction)
	if err != nil {
		slog.Error("transaction assessment failed",
			"tx_id", txMsg.TxID,
			"tenant_id", tenantID,
			"trace_id", traceID,
			"field", domain.FieldOf(err),
			"error", err,
		)
		return err
	}

	slog.Debug("transaction processed",
		"tx_id", txMsg.TxID,
		"tenant_id", tenantID,
		"trace_id", traceID,
		"action", res.Assessment.Action,
		"cached", res.Cached,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	w.closing = true
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
