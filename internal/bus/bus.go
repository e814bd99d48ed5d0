package bus

import (
	"fmt"

	"github.com/opensource-security/shrike/internal/domain"
)

// New creates a new event bus based on configuration: in-process
// channels for single-node deployments, NATS when running distributed.
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
