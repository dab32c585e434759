package messaging

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-messaging/internal/broker"
	"github.com/spec-kit/case-messaging/internal/config"
	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/internal/observability"
)

// Entry is one row of the visible sequence: either a persisted message
// (ID > 0, state sent) or an unresolved optimistic send (ID == 0, state
// pending or failed). Mine is the only role-derived field; both presentation
// shells consume the identical contract.
type Entry struct {
	ID            int64
	CorrelationID string
	SenderID      string
	SenderRole    domain.Role
	Body          string
	CreatedAt     time.Time
	State         domain.DeliveryState
	Mine          bool
}

// Snapshot is a consistent copy of the view state.
type Snapshot struct {
	Entries    []Entry
	Peer       domain.PresenceUpdate
	Connection SessionState
}

// ViewConfig bundles dependencies for a thread view.
type ViewConfig struct {
	Store     Store
	Broker    broker.Broker
	Caller    domain.Identity
	ThreadID  string
	Messaging config.MessagingConfig
	Logger    *zap.Logger
	Metrics   *observability.Metrics
}

// ThreadView is the role-agnostic façade consumed by both presentation
// shells. It owns one channel session, one delivery coordinator, and one
// presence observation, and serializes all of their events onto a single
// loop so consumers never need cross-goroutine coordination: they read
// Snapshot and wait on Updates.
type ThreadView struct {
	self     domain.Identity
	threadID string
	logger   *zap.Logger

	session  *Session
	coord    *Coordinator
	presence *PresenceTracker

	presenceCh   <-chan domain.PresenceUpdate
	presenceStop func()

	heartbeatEvery time.Duration
	ctx            context.Context
	cancel         context.CancelFunc
	closeOnce      sync.Once

	mu      sync.Mutex
	entries []Entry
	peer    domain.PresenceUpdate
	conn    SessionState
	typing  bool

	updates chan struct{}
}

// NewThreadView opens the view: history fetch plus live subscription via the
// session, outbound delivery via the coordinator, and presence observation.
// Callers must Close the view when the presentation surface unmounts.
func NewThreadView(cfg ViewConfig) *ThreadView {
	sendBase, sendMax := cfg.Messaging.SendBackoff()
	reconnBase, reconnMax := cfg.Messaging.ReconnectBackoff()

	ctx, cancel := context.WithCancel(context.Background())
	v := &ThreadView{
		self:           cfg.Caller,
		threadID:       cfg.ThreadID,
		logger:         cfg.Logger,
		heartbeatEvery: cfg.Messaging.HeartbeatInterval(),
		ctx:            ctx,
		cancel:         cancel,
		conn:           StateConnecting,
		updates:        make(chan struct{}, 1),
	}

	v.session = NewSession(SessionConfig{
		Store:    cfg.Store,
		Caller:   cfg.Caller,
		ThreadID: cfg.ThreadID,
		PageSize: cfg.Messaging.HistoryPageSize,
		Backoff:  Backoff{Base: reconnBase, Max: reconnMax},
		Logger:   cfg.Logger,
		Metrics:  cfg.Metrics,
	})
	v.coord = NewCoordinator(CoordinatorConfig{
		Store:         cfg.Store,
		Caller:        cfg.Caller,
		ThreadID:      cfg.ThreadID,
		MaxAttempts:   cfg.Messaging.SendMaxAttempts,
		Backoff:       Backoff{Base: sendBase, Max: sendMax},
		AppendTimeout: cfg.Messaging.AppendTimeout(),
		Logger:        cfg.Logger,
		Metrics:       cfg.Metrics,
	})
	v.presence = NewPresenceTracker(PresenceConfig{
		Broker:           cfg.Broker,
		Self:             cfg.Caller,
		TypingTTL:        cfg.Messaging.TypingTTL(),
		HeartbeatTimeout: cfg.Messaging.HeartbeatTimeout(),
		Backoff:          Backoff{Base: reconnBase, Max: reconnMax},
		Logger:           cfg.Logger,
		Metrics:          cfg.Metrics,
	})
	v.presenceCh, v.presenceStop = v.presence.Observe(cfg.ThreadID)

	go v.loop()
	return v
}

// Updates signals that the snapshot changed. Coalesced: one pending signal
// at most.
func (v *ThreadView) Updates() <-chan struct{} {
	return v.updates
}

// Snapshot returns a consistent copy of the visible state: the ordered,
// de-duplicated sequence with pending/failed markers, the peer's presence,
// and the connection state.
func (v *ThreadView) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	entries := make([]Entry, len(v.entries))
	copy(entries, v.entries)
	return Snapshot{Entries: entries, Peer: v.peer, Connection: v.conn}
}

// ConnectionState returns the current session state.
func (v *ThreadView) ConnectionState() SessionState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conn
}

// Err reports the terminal session error, if any.
func (v *ThreadView) Err() error {
	return v.session.Err()
}

// Send queues an optimistic send; the entry appears immediately at the tail
// as pending and resolves asynchronously.
func (v *ThreadView) Send(body string) (string, error) {
	return v.coord.Send(body)
}

// Retry re-queues a failed entry.
func (v *ThreadView) Retry(correlationID string) error {
	return v.coord.Retry(correlationID)
}

// SetTyping announces the caller's typing state. Best-effort.
func (v *ThreadView) SetTyping(typing bool) {
	v.mu.Lock()
	v.typing = typing
	v.mu.Unlock()
	v.presence.Announce(v.ctx, v.threadID, domain.PresenceState{Online: true, Typing: typing})
}

// LoadOlder pulls the next older history page into the view. The
// presentation layer drives paging (on scroll); the view never buffers
// unbounded history.
func (v *ThreadView) LoadOlder(ctx context.Context) (int, error) {
	msgs, err := v.session.LoadOlder(ctx)
	if err != nil {
		return 0, err
	}
	if len(msgs) > 0 {
		v.mu.Lock()
		for _, msg := range msgs {
			v.insertMessageLocked(msg, domain.DeliverySent)
		}
		v.mu.Unlock()
		v.notify()
	}
	return len(msgs), nil
}

// Close tears the view down: the subscription and presence observation are
// released, retry timers stop, and any send already handed to the store is
// left to complete server-side with its outcome discarded.
func (v *ThreadView) Close() {
	v.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		v.presence.Announce(ctx, v.threadID, domain.PresenceState{Online: false})
		cancel()

		v.cancel()
		v.session.Close()
		v.coord.Close()
		v.presenceStop()
	})
}

func (v *ThreadView) loop() {
	v.presence.Announce(v.ctx, v.threadID, domain.PresenceState{Online: true})

	heartbeat := time.NewTicker(v.heartbeatEvery)
	defer heartbeat.Stop()

	for {
		select {
		case <-v.ctx.Done():
			return
		case ev, ok := <-v.session.Events():
			if !ok {
				v.mu.Lock()
				v.conn = StateClosed
				v.mu.Unlock()
				v.notify()
				v.Close()
				return
			}
			v.applySessionEvent(ev)
		case ev := <-v.coord.Events():
			v.applyCoordEvent(ev)
		case update, ok := <-v.presenceCh:
			if !ok {
				continue
			}
			v.mu.Lock()
			v.peer = update
			v.mu.Unlock()
			v.notify()
		case <-heartbeat.C:
			v.mu.Lock()
			typing := v.typing
			v.mu.Unlock()
			v.presence.Announce(v.ctx, v.threadID, domain.PresenceState{Online: true, Typing: typing})
		}
	}
}

func (v *ThreadView) applySessionEvent(ev SessionEvent) {
	switch ev.Kind {
	case SessionEventState:
		v.mu.Lock()
		v.conn = ev.State
		v.mu.Unlock()
		v.notify()
	case SessionEventMessage:
		v.applyIncoming(ev.Message)
	}
}

// applyIncoming merges a subscription or history message into the visible
// sequence, reconciling it against any optimistic entry it confirms.
func (v *ThreadView) applyIncoming(msg domain.Message) {
	v.mu.Lock()

	if v.indexByID(msg.ID) >= 0 {
		v.mu.Unlock()
		return
	}

	resolved := ""
	if i := v.indexByCorrelation(msg.CorrelationID); i >= 0 {
		// Exact reconciliation: the echo carries the correlation id of an
		// optimistic entry. Replace in place; ordering follows the server id.
		resolved = msg.CorrelationID
		v.entries = append(v.entries[:i], v.entries[i+1:]...)
	} else if msg.CorrelationID == "" && msg.SenderID == v.self.UserID {
		// Fallback heuristic for transports that cannot carry the
		// correlation id: same sender, same body, recent pending entry.
		// Best-effort, not guaranteed.
		if i := v.indexPendingByBody(msg.Body); i >= 0 {
			resolved = v.entries[i].CorrelationID
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
		}
	}

	v.insertMessageLocked(msg, domain.DeliverySent)
	v.mu.Unlock()

	if resolved != "" {
		v.coord.Resolve(resolved)
	}
	v.notify()
}

func (v *ThreadView) applyCoordEvent(ev CoordinatorEvent) {
	v.mu.Lock()
	switch ev.Kind {
	case EnvelopeAccepted:
		if i := v.indexByCorrelation(ev.Envelope.CorrelationID); i >= 0 {
			v.entries[i].State = domain.DeliveryPending
		} else {
			v.entries = append(v.entries, Entry{
				CorrelationID: ev.Envelope.CorrelationID,
				SenderID:      v.self.UserID,
				SenderRole:    v.self.Role,
				Body:          ev.Envelope.Body,
				CreatedAt:     ev.Envelope.CreatedAt,
				State:         domain.DeliveryPending,
				Mine:          true,
			})
		}
	case EnvelopeDelivered:
		if ev.Message != nil && v.indexByID(ev.Message.ID) < 0 {
			if i := v.indexByCorrelation(ev.Envelope.CorrelationID); i >= 0 {
				v.entries = append(v.entries[:i], v.entries[i+1:]...)
			}
			v.insertMessageLocked(*ev.Message, domain.DeliverySent)
		} else if i := v.indexByCorrelation(ev.Envelope.CorrelationID); i >= 0 && v.entries[i].ID == 0 {
			// Subscription echo landed first; drop the optimistic duplicate.
			v.entries = append(v.entries[:i], v.entries[i+1:]...)
		}
	case EnvelopeFailed:
		if i := v.indexByCorrelation(ev.Envelope.CorrelationID); i >= 0 && v.entries[i].ID == 0 {
			v.entries[i].State = domain.DeliveryFailed
		}
	}
	v.mu.Unlock()
	v.notify()
}

// insertMessageLocked places a persisted message at its server-id position:
// within the sorted persisted prefix, ahead of the optimistic tail.
func (v *ThreadView) insertMessageLocked(msg domain.Message, state domain.DeliveryState) {
	entry := Entry{
		ID:            msg.ID,
		CorrelationID: msg.CorrelationID,
		SenderID:      msg.SenderID,
		SenderRole:    msg.SenderRole,
		Body:          msg.Body,
		CreatedAt:     msg.CreatedAt,
		State:         state,
		Mine:          msg.SenderID == v.self.UserID,
	}

	prefix := 0
	for prefix < len(v.entries) && v.entries[prefix].ID > 0 {
		prefix++
	}
	pos := sort.Search(prefix, func(i int) bool {
		return v.entries[i].ID > msg.ID
	})
	v.entries = append(v.entries, Entry{})
	copy(v.entries[pos+1:], v.entries[pos:])
	v.entries[pos] = entry
}

func (v *ThreadView) indexByID(id int64) int {
	if id <= 0 {
		return -1
	}
	for i := range v.entries {
		if v.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (v *ThreadView) indexByCorrelation(correlationID string) int {
	if correlationID == "" {
		return -1
	}
	for i := range v.entries {
		if v.entries[i].CorrelationID == correlationID {
			return i
		}
	}
	return -1
}

// indexPendingByBody finds the oldest unresolved own entry with the given
// body, within a short reconciliation window.
func (v *ThreadView) indexPendingByBody(body string) int {
	cutoff := time.Now().Add(-10 * time.Second)
	for i := range v.entries {
		e := &v.entries[i]
		if e.ID == 0 && e.State == domain.DeliveryPending && e.Body == body && e.CreatedAt.After(cutoff) {
			return i
		}
	}
	return -1
}

func (v *ThreadView) notify() {
	select {
	case v.updates <- struct{}{}:
	default:
	}
}
