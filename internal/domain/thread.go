package domain

import "time"

// Thread is a persistent conversation between exactly one client and one
// lawyer for a specific case. At most one thread exists per
// (client, lawyer, case) triple. Threads are never deleted, only archived
// by the case lifecycle.
type Thread struct {
	ID        string
	ClientID  string
	LawyerID  string
	CaseRef   string
	Archived  bool
	CreatedAt time.Time
}

// Participant reports whether the given user belongs to the thread.
func (t *Thread) Participant(userID string) bool {
	return t.ClientID == userID || t.LawyerID == userID
}

// PeerOf returns the other participant's id, or "" when userID is not a
// participant.
func (t *Thread) PeerOf(userID string) string {
	switch userID {
	case t.ClientID:
		return t.LawyerID
	case t.LawyerID:
		return t.ClientID
	}
	return ""
}
