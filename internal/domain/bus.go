package domain

import (
	"context"
	"errors"
	"time"
)

// Topics used by the scoring pipeline. Buses scope them per tenant.
const (
	TopicTransactionIngested = "transaction.ingested"
	TopicBiometricIngested   = "biometric.ingested"
	TopicResultScored        = "result.scored"
	TopicAlert               = "alert.raised"
	TopicMetricSample        = "metric.sample"
)

// ErrBusClosed is returned by every bus operation after Close.
var ErrBusClosed = errors.New("event bus closed")

// EventBus moves pipeline events between components. Delivery is scoped to
// (tenant, topic); a subscriber never sees another tenant's messages.
type EventBus interface {
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error
	// Subscribe starts delivering messages to handler until the returned
	// subscription is cancelled or ctx is done.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes one delivery. A returned error is logged by the bus;
// the message is not redelivered.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope every bus delivers. Timestamp is unix nanoseconds
// at publish time.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// NewMessage stamps an envelope with the publish time.
func NewMessage(id, tenantID, topic string, payload []byte) *Message {
	return &Message{
		ID:        id,
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UnixNano(),
	}
}

// Lag is the time since the message was published.
func (m *Message) Lag() time.Duration {
	if m.Timestamp == 0 {
		return 0
	}
	return time.Since(time.Unix(0, m.Timestamp))
}

// Subscription is an active registration on a bus.
type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the bus. Type is "channel" or "nats".
type EventBusConfig struct {
	Type string `json:"type" yaml:"type"`

	// ChannelBufferSize bounds each in-process subscriber's queue.
	ChannelBufferSize int `json:"channelBufferSize" yaml:"channelBufferSize"`

	NATSUrl           string `json:"natsUrl" yaml:"natsUrl"`
	NATSToken         string `json:"-" yaml:"natsToken"`
	NATSMaxReconnects int    `json:"natsMaxReconnects" yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `json:"natsReconnectWait" yaml:"natsReconnectWait"` // seconds
	// NATSQueueGroup load-balances ingest topics across instances.
	NATSQueueGroup string `json:"natsQueueGroup" yaml:"natsQueueGroup"`
}
