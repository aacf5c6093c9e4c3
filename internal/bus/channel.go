package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ChannelBus delivers messages in process. Every subscriber owns a bounded
// queue drained by its own goroutine; when a queue is full the message is
// dropped for that subscriber alone, so a slow consumer never stalls Publish.
type ChannelBus struct {
	queueSize int

	mu     sync.RWMutex
	routes map[string]map[string]*channelSub
	closed bool

	dropped atomic.Int64
}

type channelSub struct {
	id     string
	route  string
	topic  string
	queue  chan *domain.Message
	cancel context.CancelFunc
	bus    *ChannelBus
	once   sync.Once
}

// NewChannelBus creates a bus whose subscribers buffer up to queueSize messages.
func NewChannelBus(queueSize int) *ChannelBus {
	if queueSize <= 0 {
		queueSize = 1000
	}
	return &ChannelBus{
		queueSize: queueSize,
		routes:    make(map[string]map[string]*channelSub),
	}
}

func route(tenantID, topic string) string {
	return tenantID + "\x00" + topic
}

func (b *ChannelBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	msg, err := envelope(tenantID, topic, payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return domain.ErrBusClosed
	}

	for _, sub := range b.routes[route(tenantID, topic)] {
		select {
		case sub.queue <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("subscriber queue full, message dropped",
				"tenant_id", tenantID,
				"topic", topic,
				"subscription_id", sub.id,
			)
		}
	}
	return nil
}

func (b *ChannelBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, domain.ErrTenantRequired
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, domain.ErrBusClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &channelSub{
		id:     uuid.NewString(),
		route:  route(tenantID, topic),
		topic:  topic,
		queue:  make(chan *domain.Message, b.queueSize),
		cancel: cancel,
		bus:    b,
	}
	if b.routes[sub.route] == nil {
		b.routes[sub.route] = make(map[string]*channelSub)
	}
	b.routes[sub.route][sub.id] = sub

	go sub.drain(subCtx, handler)
	context.AfterFunc(subCtx, func() { _ = sub.Unsubscribe() })
	return sub, nil
}

func (s *channelSub) drain(ctx context.Context, handler domain.MessageHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			if err := handler(ctx, msg); err != nil {
				slog.Error("message handler failed",
					"topic", msg.Topic,
					"tenant_id", msg.TenantID,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}
	}
}

// Dropped counts messages discarded on full subscriber queues.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribers returns the live subscription count for a tenant's topic.
func (b *ChannelBus) Subscribers(tenantID, topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.routes[route(tenantID, topic)])
}

func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return domain.ErrBusClosed
	}
	return nil
}

// Close cancels every subscription. Queued messages are discarded.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.routes {
		for _, sub := range subs {
			sub.cancel()
		}
	}
	b.routes = nil
	return nil
}

func (s *channelSub) Unsubscribe() error {
	s.once.Do(func() {
		s.cancel()
		b := s.bus
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.routes[s.route]; ok {
			delete(subs, s.id)
			if len(subs) == 0 {
				delete(b.routes, s.route)
			}
		}
	})
	return nil
}

func (s *channelSub) Topic() string {
	return s.topic
}
