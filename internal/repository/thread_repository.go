package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/pkg/util"
)

// ThreadRepository manages conversation threads.
type ThreadRepository interface {
	// Create opens the thread for a (client, lawyer, case) triple. The call
	// is idempotent: when the triple already has a thread, the existing one
	// is returned.
	Create(ctx context.Context, thread *domain.Thread) error
	GetByID(ctx context.Context, threadID string) (*domain.Thread, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Thread, error)
	Archive(ctx context.Context, threadID string) error
}

type threadRepository struct {
	pool *pgxpool.Pool
}

// NewThreadRepository builds repository.
func NewThreadRepository(pool *pgxpool.Pool) ThreadRepository {
	return &threadRepository{pool: pool}
}

func (r *threadRepository) Create(ctx context.Context, thread *domain.Thread) error {
	const insert = `
        INSERT INTO threads (client_id, lawyer_id, case_ref)
        VALUES ($1,$2,$3)
        ON CONFLICT (client_id, lawyer_id, case_ref) DO NOTHING
        RETURNING id, archived, created_at`
	err := r.pool.QueryRow(ctx, insert,
		thread.ClientID,
		thread.LawyerID,
		thread.CaseRef,
	).Scan(&thread.ID, &thread.Archived, &thread.CreatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return util.NewTransientStore(err)
	}

	const existing = `
        SELECT id, archived, created_at
        FROM threads WHERE client_id=$1 AND lawyer_id=$2 AND case_ref=$3`
	err = r.pool.QueryRow(ctx, existing,
		thread.ClientID,
		thread.LawyerID,
		thread.CaseRef,
	).Scan(&thread.ID, &thread.Archived, &thread.CreatedAt)
	if err != nil {
		return util.NewTransientStore(err)
	}
	return nil
}

func (r *threadRepository) GetByID(ctx context.Context, threadID string) (*domain.Thread, error) {
	const query = `
        SELECT id, client_id, lawyer_id, case_ref, archived, created_at
        FROM threads WHERE id=$1`
	var thread domain.Thread
	err := r.pool.QueryRow(ctx, query, threadID).Scan(
		&thread.ID,
		&thread.ClientID,
		&thread.LawyerID,
		&thread.CaseRef,
		&thread.Archived,
		&thread.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, util.NewNotFound("thread", map[string]any{"thread_id": threadID})
		}
		return nil, util.NewTransientStore(err)
	}
	return &thread, nil
}

func (r *threadRepository) ListForUser(ctx context.Context, userID string) ([]domain.Thread, error) {
	const query = `
        SELECT id, client_id, lawyer_id, case_ref, archived, created_at
        FROM threads WHERE client_id=$1 OR lawyer_id=$1
        ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, util.NewTransientStore(err)
	}
	defer rows.Close()

	var result []domain.Thread
	for rows.Next() {
		var thread domain.Thread
		if err := rows.Scan(
			&thread.ID,
			&thread.ClientID,
			&thread.LawyerID,
			&thread.CaseRef,
			&thread.Archived,
			&thread.CreatedAt,
		); err != nil {
			return nil, util.NewTransientStore(err)
		}
		result = append(result, thread)
	}
	if rows.Err() != nil {
		return nil, util.NewTransientStore(rows.Err())
	}
	return result, nil
}

func (r *threadRepository) Archive(ctx context.Context, threadID string) error {
	const query = `UPDATE threads SET archived=TRUE WHERE id=$1`
	tag, err := r.pool.Exec(ctx, query, threadID)
	if err != nil {
		return util.NewTransientStore(err)
	}
	if tag.RowsAffected() == 0 {
		return util.NewNotFound("thread", map[string]any{"thread_id": threadID})
	}
	return nil
}
