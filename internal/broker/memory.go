package broker

import (
	"context"
	"sync"
)

// MemoryBroker is an in-process Broker used when Redis is not configured and
// throughout the test suite. Drop simulates transport loss for every
// subscriber of a topic.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string][]*memorySubscription
}

// NewMemoryBroker builds an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string][]*memorySubscription)}
}

// Publish delivers the payload, in order, to every current subscriber.
func (b *MemoryBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	subs := append([]*memorySubscription(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.deliver(payload)
	}
	return nil
}

// Subscribe attaches to the topic; only payloads published afterwards are
// delivered.
func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	sub := &memorySubscription{
		broker: b,
		topic:  topic,
		out:    make(chan []byte, 64),
	}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return sub, nil
}

// Drop terminates every subscription on the topic as if the transport had
// failed. Subscribers see their channel close with ErrSubscriptionLost.
func (b *MemoryBroker) Drop(topic string) {
	b.mu.Lock()
	subs := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.terminate(ErrSubscriptionLost)
	}
}

func (b *MemoryBroker) remove(topic string, target *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, sub := range subs {
		if sub == target {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

type memorySubscription struct {
	broker *MemoryBroker
	topic  string
	out    chan []byte

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *memorySubscription) deliver(payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// Buffered; a consumer that stops draining loses its slot rather than
	// blocking publishers, and recovers via gap-fill on resubscribe.
	select {
	case s.out <- payload:
	default:
		s.closed = true
		s.err = ErrSubscriptionLost
		close(s.out)
	}
}

func (s *memorySubscription) terminate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.out)
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.out
}

func (s *memorySubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *memorySubscription) Close() error {
	s.broker.remove(s.topic, s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.out)
	return nil
}
