package bus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openresale/harrier/internal/domain"
)

func TestChannelBusPublishSubscribe(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	received := make(chan *domain.Message, 1)
	sub, err := b.Subscribe(ctx, domain.TopicListingRevalued, func(ctx context.Context, msg *domain.Message) error {
		received <- msg
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	if err := b.Publish(ctx, domain.TopicListingRevalued, []byte(`{"listingId":"l1"}`)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Topic != domain.TopicListingRevalued {
			t.Errorf("topic = %q, want %q", msg.Topic, domain.TopicListingRevalued)
		}
		if string(msg.Payload) != `{"listingId":"l1"}` {
			t.Errorf("payload = %s", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestChannelBusTopicIsolation(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var count atomic.Int64
	sub, _ := b.Subscribe(ctx, domain.TopicRecalcRequested, func(ctx context.Context, msg *domain.Message) error {
		count.Add(1)
		return nil
	})
	defer sub.Unsubscribe()

	b.Publish(ctx, domain.TopicBaselineAdopted, []byte("other"))
	time.Sleep(50 * time.Millisecond)

	if count.Load() != 0 {
		t.Error("subscriber received a message from a different topic")
	}
}

func TestChannelBusMultipleSubscribers(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()
	ctx := context.Background()

	var count atomic.Int64
	for i := 0; i < 3; i++ {
		sub, err := b.Subscribe(ctx, "fanout", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe failed: %v", err)
		}
		defer sub.Unsubscribe()
	}

	b.Publish(ctx, "fanout", []byte("hello"))

	deadline := time.After(2 * time.Second)
	for count.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d of 3 subscribers received the message", count.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestChannelBusRequestTimeout(t *testing.T) {
	b := NewChannelBus(10)
	defer b.Close()

	reqCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	// No responder: the request fails when the context expires.
	if _, err := b.Request(reqCtx, "echo", []byte("ping")); err == nil {
		t.Fatal("expected timeout error without a responder")
	}
}

func TestChannelBusClosed(t *testing.T) {
	b := NewChannelBus(10)
	b.Close()
	ctx := context.Background()

	if err := b.Publish(ctx, "t", []byte("x")); err == nil {
		t.Error("publish on closed bus should fail")
	}
	if _, err := b.Subscribe(ctx, "t", func(context.Context, *domain.Message) error { return nil }); err == nil {
		t.Error("subscribe on closed bus should fail")
	}
	if err := b.Ping(ctx); err == nil {
		t.Error("ping on closed bus should fail")
	}
	if err := b.Close(); err != nil {
		t.Errorf("double close should be a no-op, got %v", err)
	}
}

func TestNewFactory(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("channel config should produce a ChannelBus, got %T", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unknown bus type")
	}
}
