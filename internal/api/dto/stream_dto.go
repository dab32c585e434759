package dto

import (
	"time"

	"github.com/spec-kit/case-messaging/internal/domain"
	"github.com/spec-kit/case-messaging/internal/messaging"
)

// StreamEntry is one row of the live view: a persisted message or an
// unresolved optimistic send.
type StreamEntry struct {
	ID            int64                `json:"id,omitempty"`
	CorrelationID string               `json:"correlation_id"`
	SenderID      string               `json:"sender_id"`
	SenderRole    domain.Role          `json:"sender_role"`
	Body          string               `json:"body"`
	CreatedAt     time.Time            `json:"created_at"`
	State         domain.DeliveryState `json:"state"`
	Mine          bool                 `json:"mine"`
}

// StreamSnapshot is the full view state pushed on every change.
type StreamSnapshot struct {
	Entries    []StreamEntry          `json:"entries"`
	Peer       domain.PresenceUpdate  `json:"peer"`
	Connection messaging.SessionState `json:"connection"`
}

// NewStreamSnapshot maps a view snapshot.
func NewStreamSnapshot(snap messaging.Snapshot) StreamSnapshot {
	entries := make([]StreamEntry, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		entries = append(entries, StreamEntry{
			ID:            e.ID,
			CorrelationID: e.CorrelationID,
			SenderID:      e.SenderID,
			SenderRole:    e.SenderRole,
			Body:          e.Body,
			CreatedAt:     e.CreatedAt,
			State:         e.State,
			Mine:          e.Mine,
		})
	}
	return StreamSnapshot{Entries: entries, Peer: snap.Peer, Connection: snap.Connection}
}
