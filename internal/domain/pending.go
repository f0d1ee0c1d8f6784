package domain

import "time"

// PendingKind is the kind of operation awaiting the user's reply.
type PendingKind string

const (
	PendingReservation     PendingKind = "reservation"
	PendingClassList       PendingKind = "class_list"
	PendingMarketingOptOut PendingKind = "marketing_optout"
	PendingMarketingOptIn  PendingKind = "marketing_optin"
)

// PendingOperation is the single staged operation of a user. Writing a new
// one replaces the previous.
type PendingOperation struct {
	ConversationID string        `json:"-"`
	Kind           PendingKind   `json:"kind"`
	ClassID        string        `json:"class_id,omitempty"`
	ClassName      string        `json:"class_name,omitempty"`
	StartsAt       string        `json:"starts_at,omitempty"`
	MemberID       string        `json:"member_id,omitempty"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	Options        []ClassOption `json:"options,omitempty"`
	CreatedAt      int64         `json:"created_at"`
	ExpiresAt      int64         `json:"expires_at"`
}

// Expired reports whether the pending operation is too old to be confirmed.
func (p PendingOperation) Expired(now time.Time) bool {
	return p.ExpiresAt > 0 && p.ExpiresAt <= now.Unix()
}
