package bus

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func waitFor(t *testing.T, ch <-chan *domain.Message) *domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return nil
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, tenantID, domain.TopicTransactionIngested, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, tenantID, domain.TopicTransactionIngested, []byte(`{"id":"tx-1"}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		msg := waitFor(t, got)
		if string(msg.Payload) != `{"id":"tx-1"}` {
			t.Errorf("unexpected payload %q", msg.Payload)
		}
		if msg.TenantID != tenantID || msg.Topic != domain.TopicTransactionIngested {
			t.Errorf("unexpected envelope %+v", msg)
		}
		if msg.ID == "" || msg.Timestamp == 0 {
			t.Error("expected message id and timestamp")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		got1 := make(chan *domain.Message, 4)
		var received2 atomic.Int32

		bus.Subscribe(ctx, "tenant-001", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			got1 <- msg
			return nil
		})
		bus.Subscribe(ctx, "tenant-002", domain.TopicAlert, func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-001", domain.TopicAlert, []byte("a1"))
		waitFor(t, got1)
		time.Sleep(20 * time.Millisecond)

		if received2.Load() != 0 {
			t.Errorf("tenant-002 should receive nothing, got %d", received2.Load())
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); !errors.Is(err, domain.ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}
		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error { return nil })
		if !errors.Is(err, domain.ErrTenantRequired) {
			t.Errorf("expected ErrTenantRequired, got %v", err)
		}
	})

	t.Run("ContextCancelUnsubscribes", func(t *testing.T) {
		subCtx, cancel := context.WithCancel(ctx)
		bus.Subscribe(subCtx, tenantID, "ctx.topic", func(ctx context.Context, msg *domain.Message) error { return nil })
		if n := bus.Subscribers(tenantID, "ctx.topic"); n != 1 {
			t.Fatalf("expected 1 subscriber, got %d", n)
		}
		cancel()

		deadline := time.Now().Add(time.Second)
		for bus.Subscribers(tenantID, "ctx.topic") != 0 {
			if time.Now().After(deadline) {
				t.Fatal("subscription outlived its context")
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 4)
		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg1"))
		waitFor(t, got)

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}
		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("second unsubscribe failed: %v", err)
		}

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg2"))
		select {
		case msg := <-got:
			t.Errorf("unexpected delivery after unsubscribe: %q", msg.Payload)
		case <-time.After(50 * time.Millisecond):
		}

		if n := bus.Subscribers(tenantID, "unsub.topic"); n != 0 {
			t.Errorf("expected subscription to be removed, %d left", n)
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		got1 := make(chan *domain.Message, 1)
		got2 := make(chan *domain.Message, 1)
		bus.Subscribe(ctx, tenantID, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			got1 <- msg
			return nil
		})
		bus.Subscribe(ctx, tenantID, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			got2 <- msg
			return nil
		})

		bus.Publish(ctx, tenantID, "multi.topic", []byte("broadcast"))
		waitFor(t, got1)
		waitFor(t, got2)
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, tenantID, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusDropsOnFullBuffer(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()

	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)

	bus.Subscribe(ctx, "t", "slow", func(ctx context.Context, msg *domain.Message) error {
		started <- struct{}{}
		<-release
		return nil
	})

	bus.Publish(ctx, "t", "slow", []byte("1"))
	<-started
	bus.Publish(ctx, "t", "slow", []byte("2")) // buffered
	bus.Publish(ctx, "t", "slow", []byte("3")) // dropped
	close(release)

	if bus.Dropped() != 1 {
		t.Errorf("expected 1 dropped message, got %d", bus.Dropped())
	}
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "tenant-001", "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if err := bus.Publish(ctx, "tenant-001", "close.topic", []byte("data")); !errors.Is(err, domain.ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "tenant-001", "close.topic", func(context.Context, *domain.Message) error { return nil }); !errors.Is(err, domain.ErrBusClosed) {
		t.Errorf("expected ErrBusClosed on subscribe, got %v", err)
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestSubject(t *testing.T) {
	if got := Subject("tenant-001", domain.TopicResultScored); got != "kestrel.tenant-001.result.scored" {
		t.Errorf("unexpected subject %q", got)
	}
	if got := Subject(domain.GlobalTenantID, domain.TopicMetricSample); got != "kestrel._global.metric.sample" {
		t.Errorf("unexpected global subject %q", got)
	}
}

func TestWorkQueue(t *testing.T) {
	for _, topic := range []string{domain.TopicTransactionIngested, domain.TopicBiometricIngested} {
		if !workQueue(topic) {
			t.Errorf("expected %s to be load balanced", topic)
		}
	}
	for _, topic := range []string{domain.TopicResultScored, domain.TopicAlert, domain.TopicMetricSample} {
		if workQueue(topic) {
			t.Errorf("expected %s to fan out", topic)
		}
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	const messageCount = 100

	var received atomic.Int32
	done := make(chan struct{})
	bus.Subscribe(ctx, "tenant-load", "load.topic", func(ctx context.Context, msg *domain.Message) error {
		if received.Add(1) == messageCount {
			close(done)
		}
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "tenant-load", "load.topic", []byte("msg"))
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("timeout: received %d/%d messages", received.Load(), messageCount)
	}
}
