package messaging

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-messaging/internal/broker"
	"github.com/spec-kit/case-messaging/internal/config"
	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/internal/observability"
	"github.com/spec-kit/case-messaging/internal/repository"
)

// fixture wires a store over in-memory repositories and broker with one open
// thread between client-1 and lawyer-1.
type fixture struct {
	threads  repository.ThreadRepository
	messages repository.MessageRepository
	broker   *broker.MemoryBroker
	store    Store
	thread   *domain.Thread
	client   domain.Identity
	lawyer   domain.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		threads:  repository.NewMemoryThreadRepository(),
		messages: repository.NewMemoryMessageRepository(),
		broker:   broker.NewMemoryBroker(),
		client:   domain.Identity{UserID: "client-1", Role: domain.RoleClient},
		lawyer:   domain.Identity{UserID: "lawyer-1", Role: domain.RoleLawyer},
	}
	f.store = NewStore(f.threads, f.messages, f.broker, zap.NewNop())

	f.thread = &domain.Thread{ClientID: f.client.UserID, LawyerID: f.lawyer.UserID, CaseRef: "case-9"}
	if err := f.threads.Create(context.Background(), f.thread); err != nil {
		t.Fatalf("create thread: %v", err)
	}
	return f
}

func (f *fixture) append(t *testing.T, sender domain.Identity, body, correlationID string) *domain.Message {
	t.Helper()
	msg, err := f.store.Append(context.Background(), sender, f.thread.ID, body, correlationID)
	if err != nil {
		t.Fatalf("append %q: %v", body, err)
	}
	return msg
}

func testMessagingConfig() config.MessagingConfig {
	return config.MessagingConfig{
		HistoryPageSize:          50,
		SendMaxAttempts:          4,
		SendBackoffMS:            1,
		SendBackoffMaxMS:         5,
		ReconnectBackoffMS:       1,
		ReconnectBackoffMaxMS:    5,
		AppendTimeoutSeconds:     5,
		TypingTTLSeconds:         1,
		HeartbeatIntervalSeconds: 60,
		HeartbeatTimeoutSeconds:  60,
	}
}

func fastBackoff() Backoff {
	return Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond}
}

func testMetrics() *observability.Metrics {
	return observability.NewMetrics()
}

// nextMessage drains the session stream until the next message event.
func nextMessage(t *testing.T, events <-chan SessionEvent) domain.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("event stream closed while waiting for a message")
			}
			if ev.Kind == SessionEventMessage {
				return ev.Message
			}
		case <-deadline:
			t.Fatal("timed out waiting for a message event")
		}
	}
}

// nextEvent drains the coordinator stream until the next event of the given
// kind.
func nextEvent(t *testing.T, events <-chan CoordinatorEvent, kind CoordinatorEventKind) CoordinatorEvent {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for coordinator event kind %d", kind)
		}
	}
}
