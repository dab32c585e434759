package broker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestMemoryBrokerDeliversInOrder(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()

	sub, err := b.Subscribe(context.Background(), "t1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	for i := 0; i < 5; i++ {
		if err := b.Publish(context.Background(), "t1", []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	for i := 0; i < 5; i++ {
		select {
		case payload := <-sub.Messages():
			if want := fmt.Sprintf("m%d", i); string(payload) != want {
				t.Fatalf("out of order: got %s, want %s", payload, want)
			}
		case <-time.After(time.Second):
			t.Fatal("delivery stalled")
		}
	}
}

func TestMemoryBrokerNoDeliveryBeforeSubscribe(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()

	if err := b.Publish(context.Background(), "t1", []byte("early")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	sub, err := b.Subscribe(context.Background(), "t1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	select {
	case payload := <-sub.Messages():
		t.Fatalf("received payload published before subscribe: %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBrokerDropTerminatesSubscribers(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()

	sub, err := b.Subscribe(context.Background(), "t1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	b.Drop("t1")

	select {
	case _, ok := <-sub.Messages():
		if ok {
			t.Fatal("expected the channel to close")
		}
	case <-time.After(time.Second):
		t.Fatal("channel did not close after drop")
	}
	if !errors.Is(sub.Err(), ErrSubscriptionLost) {
		t.Fatalf("expected ErrSubscriptionLost, got %v", sub.Err())
	}

	// Publishing after the drop reaches nobody and must not panic.
	if err := b.Publish(context.Background(), "t1", []byte("into the void")); err != nil {
		t.Fatalf("publish after drop: %v", err)
	}
}

func TestMemoryBrokerSlowConsumerIsTerminated(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()

	sub, err := b.Subscribe(context.Background(), "t1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Overflow the subscription buffer without draining.
	for i := 0; i < 100; i++ {
		if err := b.Publish(context.Background(), "t1", []byte("x")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.Messages():
			if !ok {
				if !errors.Is(sub.Err(), ErrSubscriptionLost) {
					t.Fatalf("expected ErrSubscriptionLost, got %v", sub.Err())
				}
				return
			}
		case <-deadline:
			t.Fatal("slow consumer was never terminated")
		}
	}
}

func TestMemoryBrokerCloseDetachesSubscriber(t *testing.T) {
	t.Parallel()
	b := NewMemoryBroker()

	sub, err := b.Subscribe(context.Background(), "t1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	if err := b.Publish(context.Background(), "t1", []byte("x")); err != nil {
		t.Fatalf("publish after close: %v", err)
	}
}
