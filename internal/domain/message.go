package domain

import "time"

// Role labels which side of the thread a participant is on. The messaging
// core uses it only to mark messages as "mine" vs "theirs"; any behavioral
// asymmetry belongs to the external authorization layer.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleLawyer Role = "LAWYER"
)

// Valid reports whether the role is one of the two known participants.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleLawyer
}

// DeliveryState tracks a message on its way to the store. The state is
// monotonic: pending moves to sent or failed and never reverses.
type DeliveryState string

const (
	DeliveryPending DeliveryState = "PENDING"
	DeliverySent    DeliveryState = "SENT"
	DeliveryFailed  DeliveryState = "FAILED"
)

// Message is one persisted chat entry. ID is server-assigned and defines the
// total order within a thread; CreatedAt is advisory, display-only.
// CorrelationID is the client-generated token that links an optimistic send
// to this authoritative record.
type Message struct {
	ID            int64     `json:"id"`
	ThreadID      string    `json:"thread_id"`
	SenderID      string    `json:"sender_id"`
	SenderRole    Role      `json:"sender_role"`
	Body          string    `json:"body"`
	CorrelationID string    `json:"correlation_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Identity is the authenticated caller as supplied by the external
// identity/session collaborator. The messaging core trusts it.
type Identity struct {
	UserID string
	Role   Role
}
