package broker

import "context"

// Broker is the abstract transport collaborator: a topic-based publish/
// subscribe primitive with ordered delivery within a topic and disconnect
// notification. The messaging core depends only on this contract, not on a
// concrete protocol.
type Broker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe delivers payloads published strictly after the subscription
	// is established. The returned subscription terminates on transport loss
	// and must be re-established by the caller.
	Subscribe(ctx context.Context, topic string) (Subscription, error)
}

// Subscription is one live attachment to a topic. Messages closes when the
// transport is lost or the subscription is closed; Err reports why.
type Subscription interface {
	Messages() <-chan []byte
	Err() error
	Close() error
}
