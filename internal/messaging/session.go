package messaging

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/internal/observability"
	"github.com/spec-kit/case-messaging/pkg/util"
)

// SessionState is the channel session's connection state.
type SessionState string

const (
	StateConnecting   SessionState = "CONNECTING"
	StateLive         SessionState = "LIVE"
	StateDegraded     SessionState = "DEGRADED"
	StateReconnecting SessionState = "RECONNECTING"
	StateClosed       SessionState = "CLOSED"
)

// SessionEventKind distinguishes session events.
type SessionEventKind int

const (
	// SessionEventMessage carries a newly visible message. The stream is
	// de-duplicated: each server id is delivered at most once per session.
	SessionEventMessage SessionEventKind = iota
	// SessionEventState carries a connection state transition.
	SessionEventState
)

// SessionEvent is one item on the session's event stream.
type SessionEvent struct {
	Kind    SessionEventKind
	Message domain.Message
	State   SessionState
}

// SessionConfig bundles dependencies for a channel session.
type SessionConfig struct {
	Store    Store
	Caller   domain.Identity
	ThreadID string
	PageSize int
	Backoff  Backoff
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// Session owns one live subscription to a thread. It merges the initial
// history page, live subscription events, and gap-fill fetches into a single
// de-duplicated stream, and drives reconnection with backoff when the
// transport drops.
//
// State machine: Connecting -> Live -> Degraded -> Reconnecting -> Live,
// with Closed terminal on teardown or a terminal store error.
type Session struct {
	store    Store
	caller   domain.Identity
	threadID string
	pageSize int
	backoff  Backoff
	logger   *zap.Logger
	metrics  *observability.Metrics

	events chan SessionEvent
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	mu       sync.Mutex
	seen     map[int64]struct{}
	lastID   int64
	oldestID int64
	err      error
}

// NewSession opens the session and starts its event loop. The caller must
// drain Events until it closes, and call Close on teardown.
func NewSession(cfg SessionConfig) *Session {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		store:    cfg.Store,
		caller:   cfg.Caller,
		threadID: cfg.ThreadID,
		pageSize: cfg.PageSize,
		backoff:  cfg.Backoff,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		events:   make(chan SessionEvent, 256),
		ctx:      ctx,
		cancel:   cancel,
		seen:     make(map[int64]struct{}),
	}
	go s.run()
	return s
}

// Events is the session's de-duplicated stream. It closes once the session
// reaches Closed; the close is the deterministic release signal on every
// exit path.
func (s *Session) Events() <-chan SessionEvent {
	return s.events
}

// Err reports the terminal error, if the session closed because of one.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastID returns the highest server id observed so far.
func (s *Session) LastID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastID
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(s.cancel)
}

// LoadOlder fetches the next older history page and returns the previously
// unseen messages, oldest-first. Paging is caller-driven: the session never
// buffers unbounded history on its own.
func (s *Session) LoadOlder(ctx context.Context) ([]domain.Message, error) {
	s.mu.Lock()
	before := s.oldestID
	s.mu.Unlock()

	msgs, err := s.store.FetchHistory(ctx, s.caller, s.threadID, before, s.pageSize)
	if err != nil {
		return nil, err
	}
	loaded := make([]domain.Message, 0, len(msgs))
	for _, msg := range msgs {
		if s.admit(msg) {
			loaded = append(loaded, msg)
		}
	}
	return loaded, nil
}

func (s *Session) run() {
	defer close(s.events)

	sub := s.establish(true)
	for sub != nil {
		select {
		case <-s.ctx.Done():
			_ = sub.Close()
			s.emitState(StateClosed)
			return
		case msg, ok := <-sub.Events():
			if !ok {
				cause := sub.Err()
				_ = sub.Close()
				s.logger.Warn("subscription lost",
					zap.String("thread_id", s.threadID),
					zap.Error(cause),
				)
				s.emitState(StateDegraded)
				sub = s.establish(false)
				continue
			}
			if s.admit(msg) {
				s.emit(SessionEvent{Kind: SessionEventMessage, Message: msg})
			}
		}
	}
	s.emitState(StateClosed)
}

// establish connects (or reconnects) the subscription and synchronizes the
// message sequence. On the initial attempt it fetches the most recent
// history page; on reconnects it gap-fills everything after the last known
// id so the visible sequence has no holes, however long the outage lasted.
// Returns nil when the session is done.
func (s *Session) establish(initial bool) MessageSubscription {
	if initial {
		s.emitState(StateConnecting)
	} else {
		s.emitState(StateReconnecting)
	}

	for attempt := 0; ; attempt++ {
		if s.ctx.Err() != nil {
			return nil
		}
		if attempt > 0 {
			s.metrics.RecordReconnect(s.threadID)
			timer := time.NewTimer(s.backoff.Delay(attempt - 1))
			select {
			case <-s.ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}

		sub, err := s.sync(initial)
		if err == nil {
			s.emitState(StateLive)
			return sub
		}
		if util.IsTerminalSend(err) {
			// Unauthorized or vanished thread: retrying cannot help.
			s.setErr(err)
			s.logger.Error("session terminated",
				zap.String("thread_id", s.threadID),
				zap.Error(err),
			)
			return nil
		}
		s.logger.Warn("session establish failed",
			zap.String("thread_id", s.threadID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == 0 && initial {
			s.emitState(StateDegraded)
			s.emitState(StateReconnecting)
		}
	}
}

func (s *Session) sync(initial bool) (MessageSubscription, error) {
	// Subscribe first so nothing appended between fetch and subscribe can be
	// missed; the overlap is resolved by id de-duplication.
	sub, err := s.store.Subscribe(s.ctx, s.caller, s.threadID)
	if err != nil {
		return nil, err
	}

	var msgs []domain.Message
	if initial {
		msgs, err = s.store.FetchHistory(s.ctx, s.caller, s.threadID, 0, s.pageSize)
	} else {
		msgs, err = s.store.FetchSince(s.ctx, s.caller, s.threadID, s.LastID())
	}
	if err != nil {
		_ = sub.Close()
		return nil, err
	}

	for _, msg := range msgs {
		if s.admit(msg) {
			s.emit(SessionEvent{Kind: SessionEventMessage, Message: msg})
		}
	}
	return sub, nil
}

// admit records a message in the de-duplication table. It returns false when
// the server id was already seen.
func (s *Session) admit(msg domain.Message) bool {
	if msg.ID <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[msg.ID]; dup {
		return false
	}
	s.seen[msg.ID] = struct{}{}
	if msg.ID > s.lastID {
		s.lastID = msg.ID
	}
	if s.oldestID == 0 || msg.ID < s.oldestID {
		s.oldestID = msg.ID
	}
	return true
}

// emit delivers an event without outliving cancellation. Only the run
// goroutine sends on the events channel.
func (s *Session) emit(ev SessionEvent) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func (s *Session) emitState(state SessionState) {
	s.emit(SessionEvent{Kind: SessionEventState, State: state})
}

func (s *Session) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
