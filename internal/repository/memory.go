package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/pkg/util"
)

// In-memory repositories back the service when no POSTGRES_DSN is configured
// and carry the unit tests. They honor the same contracts as the pgx
// implementations: idempotent thread creation per triple and idempotent
// message append per (thread, correlation id).

type memoryThreadRepository struct {
	mu      sync.Mutex
	threads map[string]*domain.Thread
}

// NewMemoryThreadRepository builds an empty in-memory thread repository.
func NewMemoryThreadRepository() ThreadRepository {
	return &memoryThreadRepository{threads: make(map[string]*domain.Thread)}
}

func (r *memoryThreadRepository) Create(ctx context.Context, thread *domain.Thread) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.threads {
		if existing.ClientID == thread.ClientID &&
			existing.LawyerID == thread.LawyerID &&
			existing.CaseRef == thread.CaseRef {
			*thread = *existing
			return nil
		}
	}
	thread.ID = uuid.NewString()
	thread.Archived = false
	thread.CreatedAt = time.Now()
	copied := *thread
	r.threads[thread.ID] = &copied
	return nil
}

func (r *memoryThreadRepository) GetByID(ctx context.Context, threadID string) (*domain.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	thread, ok := r.threads[threadID]
	if !ok {
		return nil, util.NewNotFound("thread", map[string]any{"thread_id": threadID})
	}
	copied := *thread
	return &copied, nil
}

func (r *memoryThreadRepository) ListForUser(ctx context.Context, userID string) ([]domain.Thread, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Thread
	for _, thread := range r.threads {
		if thread.Participant(userID) {
			result = append(result, *thread)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *memoryThreadRepository) Archive(ctx context.Context, threadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	thread, ok := r.threads[threadID]
	if !ok {
		return util.NewNotFound("thread", map[string]any{"thread_id": threadID})
	}
	thread.Archived = true
	return nil
}

type memoryMessageRepository struct {
	mu       sync.Mutex
	nextID   int64
	byThread map[string][]domain.Message
}

// NewMemoryMessageRepository builds an empty in-memory message repository.
func NewMemoryMessageRepository() MessageRepository {
	return &memoryMessageRepository{byThread: make(map[string][]domain.Message)}
}

func (r *memoryMessageRepository) Append(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byThread[msg.ThreadID] {
		if existing.CorrelationID == msg.CorrelationID {
			*msg = existing
			return nil
		}
	}
	r.nextID++
	msg.ID = r.nextID
	msg.CreatedAt = time.Now()
	r.byThread[msg.ThreadID] = append(r.byThread[msg.ThreadID], *msg)
	return nil
}

func (r *memoryMessageRepository) ListBefore(ctx context.Context, threadID string, beforeID int64, limit int) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	msgs := r.byThread[threadID]
	var page []domain.Message
	for i := len(msgs) - 1; i >= 0 && len(page) < limit; i-- {
		if beforeID > 0 && msgs[i].ID >= beforeID {
			continue
		}
		page = append(page, msgs[i])
	}
	// Collected newest-first; the contract is oldest-first within the page.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func (r *memoryMessageRepository) ListAfter(ctx context.Context, threadID string, afterID int64) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.Message
	for _, msg := range r.byThread[threadID] {
		if msg.ID > afterID {
			result = append(result, msg)
		}
	}
	return result, nil
}
