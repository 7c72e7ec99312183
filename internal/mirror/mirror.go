package mirror

import (
	"context"

	"github.com/parlorhq/parlor/internal/config"
	"github.com/parlorhq/parlor/pkg/log"
)

// New builds the publisher named by the config. Unknown drivers fall
// back to the disabled publisher so a typo degrades to no mirroring
// instead of a crash loop.
func New(cfg config.MirrorConfig) (Publisher, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedisPublisher(cfg.Redis)
	case "kafka":
		return NewKafkaPublisher(cfg.Kafka)
	case "", "disabled":
		return NewDisabledPublisher(), nil
	default:
		log.L().Warn().
			Str("driver", cfg.Driver).
			Msg("unknown mirror driver, mirroring disabled")
		return NewDisabledPublisher(), nil
	}
}

// DisabledPublisher drops every event.
type DisabledPublisher struct{}

// NewDisabledPublisher returns the no-op publisher.
func NewDisabledPublisher() *DisabledPublisher {
	return &DisabledPublisher{}
}

// Publish discards the event.
func (d *DisabledPublisher) Publish(ctx context.Context, channel string, event *Event) error {
	return nil
}

// Enabled reports that nothing is mirrored.
func (d *DisabledPublisher) Enabled() bool {
	return false
}

// Close is a no-op.
func (d *DisabledPublisher) Close() error {
	return nil
}
