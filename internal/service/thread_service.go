package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/internal/repository"
	"github.com/spec-kit/case-messaging/pkg/util"
)

// ThreadService coordinates the thread lifecycle: opening a conversation
// when a case starts, listing a participant's threads, and archiving when
// the case closes. Message flow itself lives in the messaging core.
type ThreadService struct {
	threads repository.ThreadRepository
	logger  *zap.Logger
}

// ThreadOpenInput describes thread creation payload.
type ThreadOpenInput struct {
	ClientID string
	LawyerID string
	CaseRef  string
}

// NewThreadService constructs the service.
func NewThreadService(threads repository.ThreadRepository, logger *zap.Logger) *ThreadService {
	return &ThreadService{threads: threads, logger: logger}
}

// OpenThread creates (or returns) the thread for a (client, lawyer, case)
// triple. Idempotent: the triple invariant guarantees at most one thread.
// The caller must be one of the two participants, on its own side.
func (s *ThreadService) OpenThread(ctx context.Context, caller domain.Identity, input ThreadOpenInput) (*domain.Thread, error) {
	input.ClientID = strings.TrimSpace(input.ClientID)
	input.LawyerID = strings.TrimSpace(input.LawyerID)
	input.CaseRef = strings.TrimSpace(input.CaseRef)
	if input.ClientID == "" || input.LawyerID == "" || input.CaseRef == "" {
		return nil, util.NewValidationError("client_id, lawyer_id, case_ref required", nil)
	}

	switch caller.Role {
	case domain.RoleClient:
		if caller.UserID != input.ClientID {
			return nil, util.NewForbidden("clients can only open their own threads")
		}
	case domain.RoleLawyer:
		if caller.UserID != input.LawyerID {
			return nil, util.NewForbidden("lawyers can only open their own threads")
		}
	default:
		return nil, util.NewUnauthorized("unknown role")
	}

	thread := &domain.Thread{
		ClientID: input.ClientID,
		LawyerID: input.LawyerID,
		CaseRef:  input.CaseRef,
	}
	if err := s.threads.Create(ctx, thread); err != nil {
		return nil, err
	}
	s.logger.Info("thread opened",
		zap.String("thread_id", thread.ID),
		zap.String("case_ref", thread.CaseRef),
	)
	return thread, nil
}

// ListThreads returns every thread the caller participates in.
func (s *ThreadService) ListThreads(ctx context.Context, caller domain.Identity) ([]domain.Thread, error) {
	return s.threads.ListForUser(ctx, caller.UserID)
}

// GetThread fetches a thread ensuring the caller participates.
func (s *ThreadService) GetThread(ctx context.Context, caller domain.Identity, threadID string) (*domain.Thread, error) {
	thread, err := s.threads.GetByID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.Participant(caller.UserID) {
		return nil, util.NewUnauthorized("not a thread participant")
	}
	return thread, nil
}

// ArchiveThread marks the thread archived. Sends become terminal afterwards;
// history remains readable. Called by the case lifecycle.
func (s *ThreadService) ArchiveThread(ctx context.Context, caller domain.Identity, threadID string) (*domain.Thread, error) {
	thread, err := s.GetThread(ctx, caller, threadID)
	if err != nil {
		return nil, err
	}
	if thread.Archived {
		return thread, nil
	}
	if err := s.threads.Archive(ctx, threadID); err != nil {
		return nil, err
	}
	thread.Archived = true
	s.logger.Info("thread archived", zap.String("thread_id", thread.ID))
	return thread, nil
}
