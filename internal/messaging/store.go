package messaging

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/spec-kit/case-messaging/internal/broker"
	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/internal/repository"
	"github.com/spec-kit/case-messaging/pkg/util"
)

// Store is the message store adapter: the only component touching durable
// message state. Every call authorizes the caller against the thread's
// participants.
type Store interface {
	// Thread returns the thread after verifying the caller participates.
	Thread(ctx context.Context, caller domain.Identity, threadID string) (*domain.Thread, error)
	// FetchHistory returns up to limit messages older than beforeID,
	// oldest-first within the page. beforeID <= 0 requests the most recent
	// page.
	FetchHistory(ctx context.Context, caller domain.Identity, threadID string, beforeID int64, limit int) ([]domain.Message, error)
	// FetchSince returns every message newer than afterID, in id order.
	// Used for gap-fill after a reconnect.
	FetchSince(ctx context.Context, caller domain.Identity, threadID string, afterID int64) ([]domain.Message, error)
	// Append persists the message and fans it out to subscribers. Idempotent
	// per (thread, correlation id): a retried append returns the original
	// message instead of creating a duplicate.
	Append(ctx context.Context, caller domain.Identity, threadID, body, correlationID string) (*domain.Message, error)
	// Subscribe delivers messages appended strictly after establishment.
	// The subscription terminates on transport loss and must be
	// re-established by the caller.
	Subscribe(ctx context.Context, caller domain.Identity, threadID string) (MessageSubscription, error)
}

// MessageSubscription is one live attachment to a thread's message stream.
type MessageSubscription interface {
	Events() <-chan domain.Message
	Err() error
	Close() error
}

func messageTopic(threadID string) string {
	return "thread:" + threadID + ":messages"
}

func presenceTopic(threadID string) string {
	return "thread:" + threadID + ":presence"
}

type store struct {
	threads  repository.ThreadRepository
	messages repository.MessageRepository
	broker   broker.Broker
	logger   *zap.Logger
}

// NewStore builds the store adapter over the repositories and the transport
// broker.
func NewStore(threads repository.ThreadRepository, messages repository.MessageRepository, b broker.Broker, logger *zap.Logger) Store {
	return &store{threads: threads, messages: messages, broker: b, logger: logger}
}

func (s *store) Thread(ctx context.Context, caller domain.Identity, threadID string) (*domain.Thread, error) {
	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.Participant(caller.UserID) {
		return nil, util.NewUnauthorized("not a thread participant")
	}
	return thread, nil
}

func (s *store) FetchHistory(ctx context.Context, caller domain.Identity, threadID string, beforeID int64, limit int) ([]domain.Message, error) {
	if _, err := s.Thread(ctx, caller, threadID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.messages.ListBefore(ctx, threadID, beforeID, limit)
}

func (s *store) FetchSince(ctx context.Context, caller domain.Identity, threadID string, afterID int64) ([]domain.Message, error) {
	if _, err := s.Thread(ctx, caller, threadID); err != nil {
		return nil, err
	}
	return s.messages.ListAfter(ctx, threadID, afterID)
}

func (s *store) Append(ctx context.Context, caller domain.Identity, threadID, body, correlationID string) (*domain.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, util.NewValidationError("body required", nil)
	}
	if correlationID == "" {
		return nil, util.NewValidationError("correlation_id required", nil)
	}

	thread, err := s.Thread(ctx, caller, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Archived {
		return nil, util.NewThreadArchived(threadID)
	}

	msg := &domain.Message{
		ThreadID:      threadID,
		SenderID:      caller.UserID,
		SenderRole:    roleInThread(thread, caller),
		Body:          body,
		CorrelationID: correlationID,
	}
	if err := s.messages.Append(ctx, msg); err != nil {
		return nil, err
	}

	// Fan-out is best-effort: a missed publish is recovered by gap-fill on
	// the subscriber side, never by blocking the append.
	payload, err := json.Marshal(msg)
	if err == nil {
		err = s.broker.Publish(ctx, messageTopic(threadID), payload)
	}
	if err != nil {
		s.logger.Warn("message fan-out failed",
			zap.String("thread_id", threadID),
			zap.Int64("message_id", msg.ID),
			zap.Error(err),
		)
	}
	return msg, nil
}

func (s *store) Subscribe(ctx context.Context, caller domain.Identity, threadID string) (MessageSubscription, error) {
	if _, err := s.Thread(ctx, caller, threadID); err != nil {
		return nil, err
	}
	sub, err := s.broker.Subscribe(ctx, messageTopic(threadID))
	if err != nil {
		return nil, util.NewTransientStore(err)
	}

	msub := &messageSubscription{
		sub:  sub,
		out:  make(chan domain.Message, 64),
		done: make(chan struct{}),
	}
	go msub.pump(s.logger)
	return msub, nil
}

// roleInThread derives the sender's role label from the thread itself rather
// than trusting the token's role claim for labeling.
func roleInThread(thread *domain.Thread, caller domain.Identity) domain.Role {
	if thread.ClientID == caller.UserID {
		return domain.RoleClient
	}
	return domain.RoleLawyer
}

type messageSubscription struct {
	sub       broker.Subscription
	out       chan domain.Message
	done      chan struct{}
	closeOnce sync.Once
}

func (s *messageSubscription) pump(logger *zap.Logger) {
	defer close(s.out)
	for payload := range s.sub.Messages() {
		var msg domain.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			logger.Warn("dropping undecodable broker payload", zap.Error(err))
			continue
		}
		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *messageSubscription) Events() <-chan domain.Message {
	return s.out
}

func (s *messageSubscription) Err() error {
	return s.sub.Err()
}

func (s *messageSubscription) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.sub.Close()
}
