package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/pkg/util"
)

// MessageRepository persists thread messages. Append is the sole mutator of
// message state and is idempotent per (thread, correlation id).
type MessageRepository interface {
	// Append stores the message and fills in the server-assigned id and
	// creation time. Re-submitting a correlation id already used on the
	// thread returns the originally persisted message instead of creating a
	// duplicate.
	Append(ctx context.Context, msg *domain.Message) error
	// ListBefore returns up to limit messages older than beforeID,
	// oldest-first within the page. beforeID <= 0 means the most recent page.
	ListBefore(ctx context.Context, threadID string, beforeID int64, limit int) ([]domain.Message, error)
	// ListAfter returns every message newer than afterID in id order; used
	// for gap-fill after a reconnect.
	ListAfter(ctx context.Context, threadID string, afterID int64) ([]domain.Message, error)
}

type messageRepository struct {
	pool *pgxpool.Pool
}

// NewMessageRepository builds repository.
func NewMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &messageRepository{pool: pool}
}

func (r *messageRepository) Append(ctx context.Context, msg *domain.Message) error {
	const insert = `
        INSERT INTO messages (thread_id, sender_id, sender_role, body, correlation_id)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (thread_id, correlation_id) DO NOTHING
        RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, insert,
		msg.ThreadID,
		msg.SenderID,
		msg.SenderRole,
		msg.Body,
		msg.CorrelationID,
	).Scan(&msg.ID, &msg.CreatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return util.NewTransientStore(err)
	}

	// Conflict: a retry of an append that already landed. Return the
	// original row, including its original body and sender.
	const existing = `
        SELECT id, sender_id, sender_role, body, created_at
        FROM messages WHERE thread_id=$1 AND correlation_id=$2`
	err = r.pool.QueryRow(ctx, existing, msg.ThreadID, msg.CorrelationID).Scan(
		&msg.ID,
		&msg.SenderID,
		&msg.SenderRole,
		&msg.Body,
		&msg.CreatedAt,
	)
	if err != nil {
		return util.NewTransientStore(err)
	}
	return nil
}

func (r *messageRepository) ListBefore(ctx context.Context, threadID string, beforeID int64, limit int) ([]domain.Message, error) {
	const query = `
        SELECT id, thread_id, sender_id, sender_role, body, correlation_id, created_at
        FROM (
            SELECT id, thread_id, sender_id, sender_role, body, correlation_id, created_at
            FROM messages
            WHERE thread_id=$1 AND ($2 <= 0 OR id < $2)
            ORDER BY id DESC
            LIMIT $3
        ) page ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, threadID, beforeID, limit)
	if err != nil {
		return nil, util.NewTransientStore(err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (r *messageRepository) ListAfter(ctx context.Context, threadID string, afterID int64) ([]domain.Message, error) {
	const query = `
        SELECT id, thread_id, sender_id, sender_role, body, correlation_id, created_at
        FROM messages WHERE thread_id=$1 AND id > $2 ORDER BY id ASC`
	rows, err := r.pool.Query(ctx, query, threadID, afterID)
	if err != nil {
		return nil, util.NewTransientStore(err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]domain.Message, error) {
	var result []domain.Message
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(
			&msg.ID,
			&msg.ThreadID,
			&msg.SenderID,
			&msg.SenderRole,
			&msg.Body,
			&msg.CorrelationID,
			&msg.CreatedAt,
		); err != nil {
			return nil, util.NewTransientStore(err)
		}
		result = append(result, msg)
	}
	if rows.Err() != nil {
		return nil, util.NewTransientStore(rows.Err())
	}
	return result, nil
}
