// Package bus carries pipeline events between the API, the ingestion worker
// and alert sinks. The community tier uses in-process channels; the pro tier
// uses NATS.
package bus

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New creates an event bus based on configuration.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "", "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Subject maps a tenant topic onto a NATS subject. The process-wide tenant
// becomes "_global" since "*" is a subject wildcard.
func Subject(tenantID, topic string) string {
	if tenantID == domain.GlobalTenantID {
		tenantID = "_global"
	}
	return "kestrel." + tenantID + "." + topic
}

// workQueue reports whether a topic is work to be shared between instances
// rather than an event every subscriber must see.
func workQueue(topic string) bool {
	return topic == domain.TopicTransactionIngested || topic == domain.TopicBiometricIngested
}

func envelope(tenantID, topic string, payload []byte) (*domain.Message, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantRequired
	}
	return domain.NewMessage(uuid.NewString(), tenantID, topic, payload), nil
}
