package dto

import (
	"time"

	"github.com/spec-kit/case-messaging/internal/domain"
)

// SendMessageRequest payload. CorrelationID is client-generated; resending
// the same id is safe and returns the original message.
type SendMessageRequest struct {
	Body          string `json:"body"`
	CorrelationID string `json:"correlation_id"`
}

// MessageResponse represents one thread message.
type MessageResponse struct {
	ID            int64       `json:"id"`
	SenderID      string      `json:"sender_id"`
	SenderRole    domain.Role `json:"sender_role"`
	Body          string      `json:"body"`
	CorrelationID string      `json:"correlation_id"`
	CreatedAt     time.Time   `json:"created_at"`
	Mine          bool        `json:"mine"`
}

// NewMessageResponse maps a message for the given caller.
func NewMessageResponse(msg *domain.Message, caller domain.Identity) MessageResponse {
	return MessageResponse{
		ID:            msg.ID,
		SenderID:      msg.SenderID,
		SenderRole:    msg.SenderRole,
		Body:          msg.Body,
		CorrelationID: msg.CorrelationID,
		CreatedAt:     msg.CreatedAt,
		Mine:          msg.SenderID == caller.UserID,
	}
}

// HistoryResponse is one page of history, oldest-first. NextBeforeID feeds
// the next page request; zero means the beginning of the thread was reached.
type HistoryResponse struct {
	Messages     []MessageResponse `json:"messages"`
	NextBeforeID int64             `json:"next_before_id"`
}

// TypingRequest payload.
type TypingRequest struct {
	Typing bool `json:"typing"`
}
