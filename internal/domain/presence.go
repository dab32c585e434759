package domain

import "time"

// PresenceState is what a participant announces about itself.
type PresenceState struct {
	Online bool `json:"online"`
	Typing bool `json:"typing"`
}

// PresenceUpdate is an observed change in a peer's ephemeral state. Not
// persisted; rebuilt on every session start.
type PresenceUpdate struct {
	ThreadID string    `json:"thread_id"`
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	Typing   bool      `json:"typing"`
	LastSeen time.Time `json:"last_seen"`
}
