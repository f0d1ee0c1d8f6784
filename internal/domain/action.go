package domain

// ActionKind is the kind of side effect requested by a router turn.
type ActionKind string

const (
	ActionReply        ActionKind = "reply"
	ActionCreateTicket ActionKind = "ticket_create"
)

// Action is a side effect produced by the router. The router never performs
// these itself; the outbound dispatcher does.
type Action struct {
	Kind           ActionKind `json:"kind" validate:"required,oneof=reply ticket_create"`
	TenantID       string     `json:"tenant_id" validate:"required"`
	Channel        Channel    `json:"channel" validate:"required"`
	To             string     `json:"to" validate:"required"`
	ConversationID string     `json:"conversation_id"`
	Body           string     `json:"body,omitempty"`
	Campaign       bool       `json:"campaign,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	Ticket         *Ticket    `json:"ticket,omitempty"`
}

// Ticket is the payload of a ticket_create action.
type Ticket struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	MemberID    string `json:"member_id,omitempty"`
	Contact     string `json:"contact"`
}

// OutboundEnvelope carries one action on the outbound queue together with the
// inbound event that produced it and its position among that turn's actions.
type OutboundEnvelope struct {
	EventID  string `json:"event_id"`
	Position int    `json:"position"`
	Action   Action `json:"action"`
}
