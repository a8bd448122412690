package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// New creates a new event bus based on configuration.
// For Community tier: returns ChannelBus.
// For Pro tier: returns NATSBus.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON encodes v and publishes it. Nothing is published when v
// cannot be encoded.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}
