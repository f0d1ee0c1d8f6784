package domain

import "time"

// InboundEvent is the queue payload produced by the webhook for one channel
// message.
type InboundEvent struct {
	EventID          string  `json:"event_id"`
	ChannelMessageID string  `json:"channel_message_id,omitempty"`
	TenantID         string  `json:"tenant_id" validate:"required"`
	Channel          Channel `json:"channel" validate:"required,oneof=whatsapp sms web matrix"`
	ChannelUserID    string  `json:"channel_user_id" validate:"required"`
	ConversationID   string  `json:"conversation_id" validate:"required"`
	Body             string  `json:"body"`
	Timestamp        int64   `json:"timestamp" validate:"required,gt=0"`
}

// DedupID is the event id, falling back to the channel's native message id.
func (e InboundEvent) DedupID() string {
	if e.EventID != "" {
		return e.EventID
	}
	return e.ChannelMessageID
}

// Message is the normalized inbound message handed to the router.
type Message struct {
	EventID        string
	TenantID       string
	Channel        Channel
	UserID         string
	ConversationID string
	Body           string
	ReceivedAt     time.Time
}

// LinkCode is a cross-channel linking code minted for a web conversation.
type LinkCode struct {
	Code              string
	TenantID          string
	WebConversationID string
	WebUserID         string
	PostIntent        string
	PostIntentSlots   map[string]string
	ExpiresAt         int64
}
