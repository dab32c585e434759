package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-messaging/internal/broker"
	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/internal/observability"
)

// PresenceConfig bundles dependencies for a presence tracker.
type PresenceConfig struct {
	Broker           broker.Broker
	Self             domain.Identity
	TypingTTL        time.Duration
	HeartbeatTimeout time.Duration
	Backoff          Backoff
	Logger           *zap.Logger
	Metrics          *observability.Metrics
}

// PresenceTracker maintains per-thread ephemeral presence for the two
// participants. Announcements are fire-and-forget; observation infers
// offline peers from missed heartbeats and expires stale typing indicators
// without needing explicit stop events. Nothing here is persisted: presence
// is rebuilt from scratch on every session start.
type PresenceTracker struct {
	broker           broker.Broker
	self             domain.Identity
	typingTTL        time.Duration
	heartbeatTimeout time.Duration
	backoff          Backoff
	logger           *zap.Logger
	metrics          *observability.Metrics
}

// NewPresenceTracker builds a tracker for one participant.
func NewPresenceTracker(cfg PresenceConfig) *PresenceTracker {
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = 6 * time.Second
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 45 * time.Second
	}
	return &PresenceTracker{
		broker:           cfg.Broker,
		self:             cfg.Self,
		typingTTL:        cfg.TypingTTL,
		heartbeatTimeout: cfg.HeartbeatTimeout,
		backoff:          cfg.Backoff,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
	}
}

// Announce broadcasts the caller's state on the thread. Best-effort: a
// failure is logged and counted, never escalated.
func (t *PresenceTracker) Announce(ctx context.Context, threadID string, state domain.PresenceState) {
	update := domain.PresenceUpdate{
		ThreadID: threadID,
		UserID:   t.self.UserID,
		Online:   state.Online,
		Typing:   state.Typing,
		LastSeen: time.Now(),
	}
	payload, err := json.Marshal(update)
	if err == nil {
		err = t.broker.Publish(ctx, presenceTopic(threadID), payload)
	}
	if err != nil {
		t.metrics.RecordPresenceFailure()
		t.logger.Warn("presence announce failed",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
	}
}

// Observe watches the other participant's presence on the thread. The
// returned channel delivers updates until stop is called; the tracker
// resubscribes quietly when the transport drops, reporting the peer offline
// in the meantime.
func (t *PresenceTracker) Observe(threadID string) (<-chan domain.PresenceUpdate, func()) {
	out := make(chan domain.PresenceUpdate, 16)
	done := make(chan struct{})
	var stopOnce sync.Once

	go t.observe(threadID, out, done)

	return out, func() {
		stopOnce.Do(func() { close(done) })
	}
}

func (t *PresenceTracker) observe(threadID string, out chan<- domain.PresenceUpdate, done <-chan struct{}) {
	defer close(out)

	// Watch granularity for typing expiry and heartbeat timeout.
	tick := t.typingTTL / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	if tick > time.Second {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var (
		peer           domain.PresenceUpdate
		typingDeadline time.Time
		peerDeadline   time.Time
	)

	emit := func() {
		select {
		case out <- peer:
		case <-done:
		}
	}

	for {
		sub, err := t.broker.Subscribe(context.Background(), presenceTopic(threadID))
		if err != nil {
			t.logger.Warn("presence subscribe failed",
				zap.String("thread_id", threadID),
				zap.Error(err),
			)
			if peer.UserID != "" && peer.Online {
				peer.Online = false
				peer.Typing = false
				emit()
			}
			timer := time.NewTimer(t.backoff.Delay(0))
			select {
			case <-done:
				timer.Stop()
				return
			case <-timer.C:
				continue
			}
		}

	recv:
		for {
			select {
			case <-done:
				_ = sub.Close()
				return
			case payload, ok := <-sub.Messages():
				if !ok {
					_ = sub.Close()
					// Transport lost: the peer goes stale-offline until the
					// stream is back.
					if peer.UserID != "" && peer.Online {
						peer.Online = false
						peer.Typing = false
						emit()
					}
					break recv
				}
				var update domain.PresenceUpdate
				if err := json.Unmarshal(payload, &update); err != nil {
					continue
				}
				if update.UserID == t.self.UserID {
					continue
				}
				now := time.Now()
				peer = update
				peer.LastSeen = now
				peerDeadline = now.Add(t.heartbeatTimeout)
				if peer.Typing {
					typingDeadline = now.Add(t.typingTTL)
				} else {
					typingDeadline = time.Time{}
				}
				emit()
			case <-ticker.C:
				now := time.Now()
				changed := false
				if peer.Typing && !typingDeadline.IsZero() && now.After(typingDeadline) {
					peer.Typing = false
					typingDeadline = time.Time{}
					changed = true
				}
				if peer.Online && !peerDeadline.IsZero() && now.After(peerDeadline) {
					peer.Online = false
					peer.Typing = false
					changed = true
				}
				if changed {
					emit()
				}
			}
		}
	}
}
