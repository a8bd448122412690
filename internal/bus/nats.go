package bus

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Envelope fields travel as NATS headers; the message body is the payload
// unchanged.
const (
	headerID        = "Fraudguard-Id"
	headerTenant    = "Fraudguard-Tenant"
	headerTopic     = "Fraudguard-Topic"
	headerTimestamp = "Fraudguard-Timestamp"
	headerMetaPfx   = "Fraudguard-Meta-"
)

// NATSBus implements EventBus on a NATS connection. Subjects are
// "fraudguard.<tenant>.<topic>"; the global tenant subscribes with a
// wildcard tenant token.
type NATSBus struct {
	conn  *nats.Conn
	queue string

	mu   sync.Mutex
	subs map[*natsSubscription]struct{}
}

type natsSubscription struct {
	bus   *NATSBus
	topic string
	sub   *nats.Subscription
}

// NewNATSBus dials cfg.NATSUrl, retrying up to cfg.NATSMaxReconnects times.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	cfg = natsDefaults(cfg)
	conn, err := dialNATS(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("NATS connected",
		"url", conn.ConnectedUrl(),
		"server_id", conn.ConnectedServerId(),
		"queue", cfg.NATSQueue,
	)
	return &NATSBus{
		conn:  conn,
		queue: cfg.NATSQueue,
		subs:  make(map[*natsSubscription]struct{}),
	}, nil
}

func natsDefaults(cfg domain.EventBusConfig) domain.EventBusConfig {
	if cfg.NATSUrl == "" {
		cfg.NATSUrl = nats.DefaultURL
	}
	if cfg.NATSMaxReconnects <= 0 {
		cfg.NATSMaxReconnects = 10
	}
	if cfg.NATSReconnectWait <= 0 {
		cfg.NATSReconnectWait = 5
	}
	return cfg
}

func natsOptions(cfg domain.EventBusConfig) []nats.Option {
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	opts := []nats.Option{
		nats.Name("fraudguard"),
		nats.MaxReconnects(cfg.NATSMaxReconnects),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 << 20),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("NATS async error", "subject", subject, "error", err)
		}),
	}
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}
	return opts
}

func dialNATS(cfg domain.EventBusConfig) (*nats.Conn, error) {
	opts := natsOptions(cfg)
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second

	var lastErr error
	for attempt := 1; attempt <= cfg.NATSMaxReconnects; attempt++ {
		conn, err := nats.Connect(cfg.NATSUrl, opts...)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		slog.Warn("NATS connection attempt failed",
			"attempt", attempt,
			"max_attempts", cfg.NATSMaxReconnects,
			"error", err,
		)
		if attempt < cfg.NATSMaxReconnects {
			time.Sleep(wait)
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", cfg.NATSMaxReconnects, lastErr)
}

// natsSubject maps a tenant and topic onto a subject.
func natsSubject(tenantID, topic string) string {
	return "fraudguard." + tenantID + "." + topic
}

// checkTenantToken rejects tenants that would alter the subject hierarchy.
func checkTenantToken(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	if strings.ContainsAny(tenantID, ".*> \t") {
		return fmt.Errorf("tenantID %q is not a valid subject token", tenantID)
	}
	return nil
}

// toNATSMsg wraps msg for subject.
func toNATSMsg(subject string, msg *domain.Message) *nats.Msg {
	m := nats.NewMsg(subject)
	m.Header.Set(headerID, msg.ID)
	m.Header.Set(headerTenant, msg.TenantID)
	m.Header.Set(headerTopic, msg.Topic)
	m.Header.Set(headerTimestamp, strconv.FormatInt(msg.Timestamp, 10))
	for k, v := range msg.Metadata {
		m.Header.Set(headerMetaPfx+k, v)
	}
	m.Data = msg.Payload
	return m
}

// fromNATSMsg restores the envelope. The tenant falls back to the subject's
// tenant token when the header is absent.
func fromNATSMsg(m *nats.Msg) (*domain.Message, error) {
	msg := &domain.Message{
		ID:       m.Header.Get(headerID),
		TenantID: m.Header.Get(headerTenant),
		Topic:    m.Header.Get(headerTopic),
		Payload:  m.Data,
		Metadata: make(map[string]string),
	}

	parts := strings.SplitN(m.Subject, ".", 3)
	if len(parts) != 3 || parts[0] != "fraudguard" {
		return nil, fmt.Errorf("unexpected subject %q", m.Subject)
	}
	if msg.TenantID == "" {
		msg.TenantID = parts[1]
	}
	if msg.Topic == "" {
		msg.Topic = parts[2]
	}

	if ts := m.Header.Get(headerTimestamp); ts != "" {
		n, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad %s header: %w", headerTimestamp, err)
		}
		msg.Timestamp = n
	}
	for k, vs := range m.Header {
		if name, ok := strings.CutPrefix(k, headerMetaPfx); ok && len(vs) > 0 {
			msg.Metadata[name] = vs[0]
		}
	}
	return msg, nil
}

// Publish sends payload to the tenant's topic subject.
func (b *NATSBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if err := checkTenantToken(tenantID); err != nil {
		return err
	}
	msg := &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
	}
	return b.conn.PublishMsg(toNATSMsg(natsSubject(tenantID, topic), msg))
}

// Subscribe delivers the tenant's topic to handler, or every tenant's when
// tenantID is the global tenant. With a queue group configured, instances
// in the group split the deliveries.
func (b *NATSBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	subject := ""
	if tenantID == domain.GlobalTenantID {
		subject = natsSubject("*", topic)
	} else {
		if err := checkTenantToken(tenantID); err != nil {
			return nil, err
		}
		subject = natsSubject(tenantID, topic)
	}

	deliver := func(m *nats.Msg) {
		msg, err := fromNATSMsg(m)
		if err != nil {
			slog.Error("dropping NATS message", "subject", m.Subject, "error", err)
			return
		}
		if err := handler(ctx, msg); err != nil {
			slog.Error("handler error",
				"subject", m.Subject,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}

	var (
		ns  *nats.Subscription
		err error
	)
	if b.queue != "" {
		ns, err = b.conn.QueueSubscribe(subject, b.queue, deliver)
	} else {
		ns, err = b.conn.Subscribe(subject, deliver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	s := &natsSubscription{bus: b, topic: topic, sub: ns}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s, nil
}

// Ping reports whether the connection is up and the server answers a flush.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return fmt.Errorf("NATS not connected: %s", b.conn.Status())
	}
	return b.conn.FlushWithContext(ctx)
}

// Close unsubscribes everything and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for s := range b.subs {
		_ = s.sub.Unsubscribe()
	}
	clear(b.subs)
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Stats returns connection counters.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

// Unsubscribe stops delivery and forgets the subscription.
func (s *natsSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()
	return s.sub.Unsubscribe()
}

// Topic returns the subscribed topic.
func (s *natsSubscription) Topic() string {
	return s.topic
}
