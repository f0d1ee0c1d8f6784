package domain

import (
	"errors"
	"time"
)

// State is the conversation state machine status.
type State string

const (
	StateAwaitingMessage        State = "awaiting_message"
	StateAwaitingConfirmation   State = "awaiting_confirmation"
	StateAwaitingChallenge      State = "awaiting_challenge"
	StateAwaitingClassSelection State = "awaiting_class_selection"
	StateAwaitingVerification   State = "awaiting_verification"
)

// VerificationLevel is the identity assurance held by a conversation.
type VerificationLevel string

const (
	VerificationNone   VerificationLevel = "none"
	VerificationStrong VerificationLevel = "strong"
)

// Challenge types stored in Conversation.ChallengeType.
const (
	ChallengeEmailOTP = "email_otp"
	ChallengeLink     = "link"
)

// Channel identifies the messaging channel a conversation lives on.
type Channel string

const (
	ChannelWhatsApp Channel = "whatsapp"
	ChannelSMS      Channel = "sms"
	ChannelWeb      Channel = "web"
	ChannelMatrix   Channel = "matrix"
)

// IsWeb reports whether the channel is the anonymous web widget, which cannot
// receive e-mail challenges and links to a primary channel instead.
func (c Channel) IsWeb() bool {
	return c == ChannelWeb
}

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyClaimed = errors.New("already claimed")
)

// Conversation is the durable per-user dialogue state for one tenant and
// channel. ID is a keyed hash and never contains raw identifiers.
type Conversation struct {
	ID       string
	TenantID string
	Channel  Channel

	State        State
	LastIntent   string
	LastUserText string
	LanguageCode string

	CRMMemberID       string
	VerificationLevel VerificationLevel
	VerifiedUntil     int64

	ChallengeType            string
	OTPHash                  string
	OTPExpiresAt             int64
	OTPAttemptsLeft          int
	OTPLastSentAt            int64
	OTPEmail                 string
	LinkCode                 string
	VerificationBlockedUntil int64

	PostIntent      string
	PostIntentSlots map[string]string

	OptOut    bool
	UpdatedAt int64
	TTL       int64
}

// NewConversation returns the default state for a conversation never seen before.
func NewConversation(id, tenantID string, channel Channel) Conversation {
	return Conversation{
		ID:                id,
		TenantID:          tenantID,
		Channel:           channel,
		State:             StateAwaitingMessage,
		VerificationLevel: VerificationNone,
	}
}

// IsVerified fails closed: a strong level without a future expiry is not verified.
func (c Conversation) IsVerified(now time.Time) bool {
	return c.VerificationLevel == VerificationStrong && c.VerifiedUntil > now.Unix()
}

// IsLocked reports whether a verification lockout is active.
func (c Conversation) IsLocked(now time.Time) bool {
	return c.VerificationBlockedUntil > now.Unix()
}

// PostIntent is the operation that triggered verification and is resumed
// once verification succeeds.
type PostIntent struct {
	Intent string
	Slots  map[string]string
}

// ConversationUpdate is a partial update of a Conversation. Unchanged fields
// are left untouched by the store.
type ConversationUpdate struct {
	State        Field[State]
	LastIntent   Field[string]
	LastUserText Field[string]
	LanguageCode Field[string]

	CRMMemberID       Field[string]
	VerificationLevel Field[VerificationLevel]
	VerifiedUntil     Field[int64]

	ChallengeType            Field[string]
	OTPHash                  Field[string]
	OTPExpiresAt             Field[int64]
	OTPAttemptsLeft          Field[int]
	OTPLastSentAt            Field[int64]
	OTPEmail                 Field[string]
	LinkCode                 Field[string]
	VerificationBlockedUntil Field[int64]

	PostIntent      Field[string]
	PostIntentSlots Field[map[string]string]

	OptOut Field[bool]
}

// ClearChallenge marks every challenge field for removal. OTPLastSentAt is
// kept so the resend cooldown survives a failed challenge.
func (u *ConversationUpdate) ClearChallenge() {
	u.ChallengeType = Clear[string]()
	u.OTPHash = Clear[string]()
	u.OTPExpiresAt = Clear[int64]()
	u.OTPAttemptsLeft = Clear[int]()
	u.OTPEmail = Clear[string]()
	u.LinkCode = Clear[string]()
}

// ClearPostIntent marks the staged post-verification intent for removal.
func (u *ConversationUpdate) ClearPostIntent() {
	u.PostIntent = Clear[string]()
	u.PostIntentSlots = Clear[map[string]string]()
}

// ApplyTo returns c with the update applied.
func (u ConversationUpdate) ApplyTo(c Conversation) Conversation {
	c.State = u.State.Apply(c.State)
	if c.State == "" {
		c.State = StateAwaitingMessage
	}
	c.LastIntent = u.LastIntent.Apply(c.LastIntent)
	c.LastUserText = u.LastUserText.Apply(c.LastUserText)
	c.LanguageCode = u.LanguageCode.Apply(c.LanguageCode)
	c.CRMMemberID = u.CRMMemberID.Apply(c.CRMMemberID)
	c.VerificationLevel = u.VerificationLevel.Apply(c.VerificationLevel)
	c.VerifiedUntil = u.VerifiedUntil.Apply(c.VerifiedUntil)
	c.ChallengeType = u.ChallengeType.Apply(c.ChallengeType)
	c.OTPHash = u.OTPHash.Apply(c.OTPHash)
	c.OTPExpiresAt = u.OTPExpiresAt.Apply(c.OTPExpiresAt)
	c.OTPAttemptsLeft = u.OTPAttemptsLeft.Apply(c.OTPAttemptsLeft)
	c.OTPLastSentAt = u.OTPLastSentAt.Apply(c.OTPLastSentAt)
	c.OTPEmail = u.OTPEmail.Apply(c.OTPEmail)
	c.LinkCode = u.LinkCode.Apply(c.LinkCode)
	c.VerificationBlockedUntil = u.VerificationBlockedUntil.Apply(c.VerificationBlockedUntil)
	c.PostIntent = u.PostIntent.Apply(c.PostIntent)
	c.PostIntentSlots = u.PostIntentSlots.Apply(c.PostIntentSlots)
	c.OptOut = u.OptOut.Apply(c.OptOut)
	return c
}

// TurnCommit is everything a single router turn persists. The pending
// operation change, the conversation update, the linked conversation and the
// outbox are written atomically.
type TurnCommit struct {
	ConversationID string
	TenantID       string
	Channel        Channel
	Update         ConversationUpdate
	PutPending     *PendingOperation
	DeletePending  bool

	// EventID names the inbound event of the turn. A non-empty EventID stores
	// Outbox under the conversation, and a second commit for the same event
	// fails with ErrAlreadyClaimed.
	EventID string
	Outbox  []Action

	// Linked is the web conversation a link code verified during this turn.
	Linked *TurnCommit
}
