package broker

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrSubscriptionLost marks a subscription terminated by the transport
// rather than by its owner.
var ErrSubscriptionLost = errors.New("broker: subscription lost")

// RedisBroker implements Broker on top of redis pub/sub. Redis delivers
// messages in publish order per channel, which satisfies the ordered-topic
// contract.
type RedisBroker struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisBroker wraps an existing go-redis client.
func NewRedisBroker(client *redis.Client, logger *zap.Logger) *RedisBroker {
	return &RedisBroker{client: client, logger: logger}
}

// Publish sends the payload to every current subscriber of the topic.
func (b *RedisBroker) Publish(ctx context.Context, topic string, payload []byte) error {
	return b.client.Publish(ctx, topic, payload).Err()
}

// Subscribe attaches to the topic. Receive errors close the subscription;
// callers reconnect with their own backoff.
func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.client.Subscribe(ctx, topic)

	// Force the SUBSCRIBE round-trip so establishment failures surface here
	// instead of as an immediately dead subscription.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan []byte, 64),
		done:   make(chan struct{}),
	}
	go sub.pump(b.logger, topic)
	return sub, nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan []byte
	done   chan struct{}

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *redisSubscription) pump(logger *zap.Logger, topic string) {
	defer close(s.out)
	for msg := range s.pubsub.Channel() {
		select {
		case s.out <- []byte(msg.Payload):
		case <-s.done:
			return
		}
	}
	// The underlying channel closes on connection loss or Close; the
	// consumer sees out close and decides whether to resubscribe.
	s.mu.Lock()
	if !s.closed && s.err == nil {
		s.err = ErrSubscriptionLost
	}
	s.mu.Unlock()
	logger.Debug("pubsub channel closed", zap.String("topic", topic))
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.out
}

func (s *redisSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()
	return s.pubsub.Close()
}
