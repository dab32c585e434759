package dto

import (
	"time"

	"github.com/spec-kit/case-messaging/internal/domain"
)

// OpenThreadRequest payload.
type OpenThreadRequest struct {
	ClientID string `json:"client_id"`
	LawyerID string `json:"lawyer_id"`
	CaseRef  string `json:"case_ref"`
}

// ThreadResponse describes one conversation thread.
type ThreadResponse struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	LawyerID  string    `json:"lawyer_id"`
	CaseRef   string    `json:"case_ref"`
	PeerID    string    `json:"peer_id"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"created_at"`
}

// NewThreadResponse maps a thread for the given caller; PeerID is the other
// participant.
func NewThreadResponse(thread *domain.Thread, caller domain.Identity) ThreadResponse {
	return ThreadResponse{
		ID:        thread.ID,
		ClientID:  thread.ClientID,
		LawyerID:  thread.LawyerID,
		CaseRef:   thread.CaseRef,
		PeerID:    thread.PeerOf(caller.UserID),
		Archived:  thread.Archived,
		CreatedAt: thread.CreatedAt,
	}
}
