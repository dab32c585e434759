package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/internal/observability"
	"github.com/spec-kit/case-messaging/pkg/util"
)

// ErrCoordinatorClosed rejects sends after teardown.
var ErrCoordinatorClosed = errors.New("messaging: coordinator closed")

// Envelope is the transient record of a send awaiting server confirmation,
// keyed by correlation id. Owned by the coordinator until it resolves to a
// persisted message or a failed state.
type Envelope struct {
	CorrelationID string
	Body          string
	State         domain.DeliveryState
	Attempts      int
	CreatedAt     time.Time
	LastErr       error
}

// CoordinatorEventKind distinguishes coordinator events.
type CoordinatorEventKind int

const (
	// EnvelopeAccepted is emitted when a send (or retry) enters the pending
	// state and should appear optimistically at the tail of the sequence.
	EnvelopeAccepted CoordinatorEventKind = iota
	// EnvelopeDelivered carries the authoritative message that replaces the
	// optimistic entry sharing its correlation id.
	EnvelopeDelivered
	// EnvelopeFailed marks the envelope failed-terminal; the entry stays
	// visible as retryable.
	EnvelopeFailed
)

// CoordinatorEvent is one outbound-delivery state change.
type CoordinatorEvent struct {
	Kind     CoordinatorEventKind
	Envelope Envelope
	Message  *domain.Message
}

// CoordinatorConfig bundles dependencies for a delivery coordinator.
type CoordinatorConfig struct {
	Store         Store
	Caller        domain.Identity
	ThreadID      string
	MaxAttempts   int
	Backoff       Backoff
	AppendTimeout time.Duration
	Logger        *zap.Logger
	Metrics       *observability.Metrics
}

// Coordinator sequences outbound sends for one thread view. Envelopes are
// delivered strictly in send order by a single dispatch goroutine, which
// preserves the causal order of a user's own successive sends; retries use
// capped jittered backoff up to a bounded attempt count.
type Coordinator struct {
	store         Store
	caller        domain.Identity
	threadID      string
	maxAttempts   int
	backoff       Backoff
	appendTimeout time.Duration
	logger        *zap.Logger
	metrics       *observability.Metrics

	events chan CoordinatorEvent
	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	mu        sync.Mutex
	envelopes map[string]*Envelope
}

// NewCoordinator builds the coordinator and starts its dispatch loop.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:         cfg.Store,
		caller:        cfg.Caller,
		threadID:      cfg.ThreadID,
		maxAttempts:   cfg.MaxAttempts,
		backoff:       cfg.Backoff,
		appendTimeout: cfg.AppendTimeout,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		events:        make(chan CoordinatorEvent, 256),
		queue:         make(chan string, 256),
		ctx:           ctx,
		cancel:        cancel,
		envelopes:     make(map[string]*Envelope),
	}
	go c.dispatch()
	return c
}

// Events reports envelope state changes. The channel is never closed; stop
// reading after Close.
func (c *Coordinator) Events() <-chan CoordinatorEvent {
	return c.events
}

// Send queues an optimistic send and returns its correlation id.
func (c *Coordinator) Send(body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", util.NewValidationError("body required", nil)
	}
	if c.ctx.Err() != nil {
		return "", ErrCoordinatorClosed
	}

	env := &Envelope{
		CorrelationID: uuid.NewString(),
		Body:          body,
		State:         domain.DeliveryPending,
		CreatedAt:     time.Now(),
	}
	c.mu.Lock()
	c.envelopes[env.CorrelationID] = env
	c.mu.Unlock()

	c.emit(CoordinatorEvent{Kind: EnvelopeAccepted, Envelope: *env})
	return env.CorrelationID, c.enqueue(env.CorrelationID)
}

// Retry re-queues a failed envelope. The delivery state moves back to
// pending; attempts start over.
func (c *Coordinator) Retry(correlationID string) error {
	if c.ctx.Err() != nil {
		return ErrCoordinatorClosed
	}
	c.mu.Lock()
	env, ok := c.envelopes[correlationID]
	if !ok || env.State != domain.DeliveryFailed {
		c.mu.Unlock()
		return util.NewNotFound("retryable envelope", map[string]any{"correlation_id": correlationID})
	}
	env.State = domain.DeliveryPending
	env.Attempts = 0
	env.LastErr = nil
	snapshot := *env
	c.mu.Unlock()

	c.emit(CoordinatorEvent{Kind: EnvelopeAccepted, Envelope: snapshot})
	return c.enqueue(correlationID)
}

// Resolve discharges an envelope whose message arrived through the
// subscription before the append acknowledgment. The coordinator must not
// produce a second visible entry for it.
func (c *Coordinator) Resolve(correlationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.envelopes, correlationID)
}

// Pending returns a copy of the unresolved envelope, if any.
func (c *Coordinator) Pending(correlationID string) (Envelope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	env, ok := c.envelopes[correlationID]
	if !ok {
		return Envelope{}, false
	}
	return *env, true
}

// Close stops retry timers and further dispatch. An append already handed to
// the store is not cancelled; its outcome is simply discarded.
func (c *Coordinator) Close() {
	c.closeOnce.Do(c.cancel)
}

func (c *Coordinator) enqueue(correlationID string) error {
	select {
	case c.queue <- correlationID:
		return nil
	case <-c.ctx.Done():
		return ErrCoordinatorClosed
	}
}

func (c *Coordinator) dispatch() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case correlationID := <-c.queue:
			c.deliver(correlationID)
		}
	}
}

func (c *Coordinator) deliver(correlationID string) {
	c.mu.Lock()
	env, ok := c.envelopes[correlationID]
	if !ok || env.State != domain.DeliveryPending {
		// Resolved via subscription echo, or already failed.
		c.mu.Unlock()
		return
	}
	body := env.Body
	c.mu.Unlock()

	for {
		// The append itself runs detached from the coordinator context: once
		// dispatched, a send is never cancelled mid-write.
		appendCtx, cancel := context.WithTimeout(context.Background(), c.appendTimeout)
		msg, err := c.store.Append(appendCtx, c.caller, c.threadID, body, correlationID)
		cancel()

		if err == nil {
			c.settle(correlationID, msg)
			return
		}

		c.mu.Lock()
		env, ok := c.envelopes[correlationID]
		if !ok || env.State != domain.DeliveryPending {
			c.mu.Unlock()
			return
		}
		env.Attempts++
		env.LastErr = err
		attempts := env.Attempts
		c.mu.Unlock()

		if util.IsTerminalSend(err) || attempts >= c.maxAttempts {
			c.fail(correlationID, err)
			return
		}

		c.metrics.RecordSend("retried")
		c.logger.Warn("send retry",
			zap.String("thread_id", c.threadID),
			zap.String("correlation_id", correlationID),
			zap.Int("attempt", attempts),
			zap.Error(err),
		)
		timer := time.NewTimer(c.backoff.Delay(attempts - 1))
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// settle marks the envelope sent. Delivery state is monotonic: once settled
// the envelope leaves the table and can never regress.
func (c *Coordinator) settle(correlationID string, msg *domain.Message) {
	c.mu.Lock()
	env, ok := c.envelopes[correlationID]
	if !ok {
		// Echo already reconciled this send.
		c.mu.Unlock()
		return
	}
	env.State = domain.DeliverySent
	snapshot := *env
	delete(c.envelopes, correlationID)
	c.mu.Unlock()

	c.metrics.RecordSend("sent")
	c.emit(CoordinatorEvent{Kind: EnvelopeDelivered, Envelope: snapshot, Message: msg})
}

func (c *Coordinator) fail(correlationID string, cause error) {
	c.mu.Lock()
	env, ok := c.envelopes[correlationID]
	if !ok {
		c.mu.Unlock()
		return
	}
	env.State = domain.DeliveryFailed
	env.LastErr = cause
	snapshot := *env
	c.mu.Unlock()

	c.metrics.RecordSend("failed")
	c.logger.Warn("send failed",
		zap.String("thread_id", c.threadID),
		zap.String("correlation_id", correlationID),
		zap.Error(cause),
	)
	c.emit(CoordinatorEvent{Kind: EnvelopeFailed, Envelope: snapshot})
}

func (c *Coordinator) emit(ev CoordinatorEvent) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}
