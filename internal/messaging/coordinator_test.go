package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/pkg/util"
)

// scriptedStore wraps a real store and fails the next N appends with a
// transient error, recording the order of successful writes.
type scriptedStore struct {
	Store

	mu       sync.Mutex
	failures int
	appended []string
}

func (s *scriptedStore) Append(ctx context.Context, caller domain.Identity, threadID, body, correlationID string) (*domain.Message, error) {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return nil, util.NewTransientStore(errors.New("append unavailable"))
	}
	s.mu.Unlock()

	msg, err := s.Store.Append(ctx, caller, threadID, body, correlationID)
	if err == nil {
		s.mu.Lock()
		s.appended = append(s.appended, body)
		s.mu.Unlock()
	}
	return msg, err
}

func (s *scriptedStore) setFailures(n int) {
	s.mu.Lock()
	s.failures = n
	s.mu.Unlock()
}

func (s *scriptedStore) failuresLeft() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

func (s *scriptedStore) appendedBodies() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.appended...)
}

func newTestCoordinator(f *fixture, store Store, maxAttempts int) *Coordinator {
	return NewCoordinator(CoordinatorConfig{
		Store:       store,
		Caller:      f.client,
		ThreadID:    f.thread.ID,
		MaxAttempts: maxAttempts,
		Backoff:     fastBackoff(),
		Logger:      zap.NewNop(),
		Metrics:     testMetrics(),
	})
}

func TestCoordinatorDeliversSend(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	coord := newTestCoordinator(f, f.store, 4)
	defer coord.Close()

	corr, err := coord.Send("hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	accepted := nextEvent(t, coord.Events(), EnvelopeAccepted)
	if accepted.Envelope.CorrelationID != corr || accepted.Envelope.State != domain.DeliveryPending {
		t.Fatalf("unexpected accepted event: %+v", accepted.Envelope)
	}

	delivered := nextEvent(t, coord.Events(), EnvelopeDelivered)
	if delivered.Message == nil || delivered.Message.ID <= 0 {
		t.Fatalf("delivered event missing the persisted message: %+v", delivered)
	}
	if delivered.Message.CorrelationID != corr {
		t.Fatalf("correlation id lost: %s vs %s", delivered.Message.CorrelationID, corr)
	}
	if _, pending := coord.Pending(corr); pending {
		t.Fatal("envelope must leave the table after delivery")
	}
}

func TestCoordinatorPreservesSendOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	store := &scriptedStore{Store: f.store, failures: 1}
	coord := newTestCoordinator(f, store, 4)
	defer coord.Close()

	for _, body := range []string{"first", "second", "third"} {
		if _, err := coord.Send(body); err != nil {
			t.Fatalf("send %q: %v", body, err)
		}
	}

	for i := 0; i < 3; i++ {
		nextEvent(t, coord.Events(), EnvelopeDelivered)
	}

	got := store.appendedBodies()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sends persisted out of order: %v", got)
		}
	}
}

func TestCoordinatorTerminalErrorFailsImmediately(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	if err := f.threads.Archive(context.Background(), f.thread.ID); err != nil {
		t.Fatalf("archive: %v", err)
	}
	coord := newTestCoordinator(f, f.store, 4)
	defer coord.Close()

	corr, err := coord.Send("too late")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	failed := nextEvent(t, coord.Events(), EnvelopeFailed)
	if failed.Envelope.CorrelationID != corr || failed.Envelope.State != domain.DeliveryFailed {
		t.Fatalf("unexpected failed event: %+v", failed.Envelope)
	}
	if failed.Envelope.Attempts != 1 {
		t.Fatalf("terminal errors must not be retried, attempts=%d", failed.Envelope.Attempts)
	}
}

func TestCoordinatorRetryAfterExhaustion(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	store := &scriptedStore{Store: f.store, failures: 100}
	coord := newTestCoordinator(f, store, 2)
	defer coord.Close()

	corr, err := coord.Send("flaky")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	nextEvent(t, coord.Events(), EnvelopeFailed)

	env, ok := coord.Pending(corr)
	if !ok || env.State != domain.DeliveryFailed {
		t.Fatalf("failed envelope must stay retryable: %+v ok=%v", env, ok)
	}

	store.setFailures(0)
	if err := coord.Retry(corr); err != nil {
		t.Fatalf("retry: %v", err)
	}
	delivered := nextEvent(t, coord.Events(), EnvelopeDelivered)
	if delivered.Message == nil || delivered.Message.Body != "flaky" {
		t.Fatalf("retry did not deliver: %+v", delivered)
	}
}

func TestCoordinatorRetryRequiresFailedEnvelope(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	coord := newTestCoordinator(f, f.store, 4)
	defer coord.Close()

	if err := coord.Retry("unknown"); err == nil {
		t.Fatal("retry of an unknown envelope must fail")
	}
}

func TestCoordinatorResolveDischargesEnvelope(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	store := &scriptedStore{Store: f.store, failures: 100}
	coord := newTestCoordinator(f, store, 2)
	defer coord.Close()

	corr, err := coord.Send("echoed")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	nextEvent(t, coord.Events(), EnvelopeFailed)

	coord.Resolve(corr)
	if _, ok := coord.Pending(corr); ok {
		t.Fatal("resolved envelope must leave the table")
	}
	if err := coord.Retry(corr); err == nil {
		t.Fatal("resolved envelope must not be retryable")
	}
}

func TestCoordinatorSendValidation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	coord := newTestCoordinator(f, f.store, 4)

	if _, err := coord.Send("   "); err == nil {
		t.Fatal("blank body must be rejected")
	}

	coord.Close()
	if _, err := coord.Send("after close"); !errors.Is(err, ErrCoordinatorClosed) {
		t.Fatalf("expected ErrCoordinatorClosed, got %v", err)
	}
}

func TestCoordinatorCloseStopsRetries(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	store := &scriptedStore{Store: f.store, failures: 100}
	coord := NewCoordinator(CoordinatorConfig{
		Store:       store,
		Caller:      f.client,
		ThreadID:    f.thread.ID,
		MaxAttempts: 100,
		Backoff:     Backoff{Base: 50 * time.Millisecond, Max: time.Second},
		Logger:      zap.NewNop(),
		Metrics:     testMetrics(),
	})

	if _, err := coord.Send("doomed"); err != nil {
		t.Fatalf("send: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	coord.Close()

	// Each append attempt consumes one scripted failure; the count must stop
	// moving once the coordinator is closed.
	time.Sleep(100 * time.Millisecond)
	before := store.failuresLeft()
	time.Sleep(200 * time.Millisecond)
	if after := store.failuresLeft(); after != before {
		t.Fatal("dispatch continued after close")
	}
}
