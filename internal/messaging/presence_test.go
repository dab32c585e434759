package messaging

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-messaging/internal/domain"
)

func newTestTracker(f *fixture, self domain.Identity, typingTTL, heartbeatTimeout time.Duration) *PresenceTracker {
	return NewPresenceTracker(PresenceConfig{
		Broker:           f.broker,
		Self:             self,
		TypingTTL:        typingTTL,
		HeartbeatTimeout: heartbeatTimeout,
		Backoff:          fastBackoff(),
		Logger:           zap.NewNop(),
		Metrics:          testMetrics(),
	})
}

func waitPresence(t *testing.T, ch <-chan domain.PresenceUpdate, cond func(domain.PresenceUpdate) bool) domain.PresenceUpdate {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case update, ok := <-ch:
			if !ok {
				t.Fatal("presence stream closed")
			}
			if cond(update) {
				return update
			}
		case <-deadline:
			t.Fatal("timed out waiting for a presence update")
		}
	}
}

func TestPresenceTypingExpiresWithoutStopEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	clientSide := newTestTracker(f, f.client, 40*time.Millisecond, time.Second)
	lawyerSide := newTestTracker(f, f.lawyer, 40*time.Millisecond, time.Second)

	updates, stop := clientSide.Observe(f.thread.ID)
	defer stop()

	// Give the observer a moment to attach before announcing.
	time.Sleep(20 * time.Millisecond)
	lawyerSide.Announce(context.Background(), f.thread.ID, domain.PresenceState{Online: true, Typing: true})

	got := waitPresence(t, updates, func(u domain.PresenceUpdate) bool { return u.Typing })
	if got.UserID != f.lawyer.UserID || !got.Online {
		t.Fatalf("unexpected typing update: %+v", got)
	}

	// No further announcements: typing must clear on its own.
	got = waitPresence(t, updates, func(u domain.PresenceUpdate) bool { return !u.Typing })
	if !got.Online {
		t.Fatalf("typing expiry must not mark the peer offline: %+v", got)
	}
}

func TestPresenceTypingRefreshExtendsTTL(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	clientSide := newTestTracker(f, f.client, 60*time.Millisecond, time.Second)
	lawyerSide := newTestTracker(f, f.lawyer, 60*time.Millisecond, time.Second)

	updates, stop := clientSide.Observe(f.thread.ID)
	defer stop()

	time.Sleep(20 * time.Millisecond)
	lawyerSide.Announce(context.Background(), f.thread.ID, domain.PresenceState{Online: true, Typing: true})
	waitPresence(t, updates, func(u domain.PresenceUpdate) bool { return u.Typing })

	// Refresh twice within the TTL, then watch it expire once refreshes stop.
	for i := 0; i < 2; i++ {
		time.Sleep(30 * time.Millisecond)
		lawyerSide.Announce(context.Background(), f.thread.ID, domain.PresenceState{Online: true, Typing: true})
	}
	got := waitPresence(t, updates, func(u domain.PresenceUpdate) bool { return !u.Typing })
	if !got.Online {
		t.Fatalf("unexpected update after expiry: %+v", got)
	}
}

func TestPresenceHeartbeatTimeoutMarksOffline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	clientSide := newTestTracker(f, f.client, 20*time.Millisecond, 60*time.Millisecond)
	lawyerSide := newTestTracker(f, f.lawyer, 20*time.Millisecond, 60*time.Millisecond)

	updates, stop := clientSide.Observe(f.thread.ID)
	defer stop()

	time.Sleep(20 * time.Millisecond)
	lawyerSide.Announce(context.Background(), f.thread.ID, domain.PresenceState{Online: true})
	waitPresence(t, updates, func(u domain.PresenceUpdate) bool { return u.Online })

	got := waitPresence(t, updates, func(u domain.PresenceUpdate) bool { return !u.Online })
	if got.Typing {
		t.Fatalf("offline peer cannot be typing: %+v", got)
	}
}

func TestPresenceIgnoresOwnAnnouncements(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	clientSide := newTestTracker(f, f.client, time.Second, time.Second)
	lawyerSide := newTestTracker(f, f.lawyer, time.Second, time.Second)

	updates, stop := clientSide.Observe(f.thread.ID)
	defer stop()

	// Give the observer a moment to attach before announcing.
	time.Sleep(20 * time.Millisecond)
	clientSide.Announce(context.Background(), f.thread.ID, domain.PresenceState{Online: true, Typing: true})
	lawyerSide.Announce(context.Background(), f.thread.ID, domain.PresenceState{Online: true})

	got := waitPresence(t, updates, func(u domain.PresenceUpdate) bool { return u.UserID != "" })
	if got.UserID != f.lawyer.UserID {
		t.Fatalf("own announcement leaked through: %+v", got)
	}
}

func TestPresenceTransportLossReportsStaleOffline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	clientSide := newTestTracker(f, f.client, time.Second, time.Second)
	lawyerSide := newTestTracker(f, f.lawyer, time.Second, time.Second)

	updates, stop := clientSide.Observe(f.thread.ID)
	defer stop()

	time.Sleep(20 * time.Millisecond)
	lawyerSide.Announce(context.Background(), f.thread.ID, domain.PresenceState{Online: true})
	waitPresence(t, updates, func(u domain.PresenceUpdate) bool { return u.Online })

	f.broker.Drop(presenceTopic(f.thread.ID))
	waitPresence(t, updates, func(u domain.PresenceUpdate) bool { return !u.Online })

	// The observer resubscribes on its own; fresh announcements get through
	// again. Announce until the new subscription is attached.
	deadline := time.After(2 * time.Second)
	for {
		lawyerSide.Announce(context.Background(), f.thread.ID, domain.PresenceState{Online: true})
		select {
		case update := <-updates:
			if update.Online {
				return
			}
		case <-time.After(10 * time.Millisecond):
		}
		select {
		case <-deadline:
			t.Fatal("observer never recovered after transport loss")
		default:
		}
	}
}
