package usecase

import (
	"maps"
	"strings"
	"time"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/tenant"
)

// turn accumulates everything one inbound message changes. Nothing is
// written until the router commits the turn as a whole.
type turn struct {
	msg  domain.Message
	body string
	cfg  tenant.Config
	conv domain.Conversation
	now  time.Time

	upd           domain.ConversationUpdate
	putPending    *domain.PendingOperation
	deletePending bool
	actions       []domain.Action

	// skipCommit leaves the stored conversation untouched.
	skipCommit bool
	// linked is set when this turn consumed a link code for a web conversation.
	linked *linkedWeb
}

type linkedWeb struct {
	link   domain.LinkCode
	member domain.Member
}

func newTurn(msg domain.Message, cfg tenant.Config, conv domain.Conversation, now time.Time) *turn {
	return &turn{
		msg:  msg,
		body: strings.TrimSpace(msg.Body),
		cfg:  cfg,
		conv: conv,
		now:  now,
	}
}

// view is the conversation as it will be stored after this turn.
func (t *turn) view() domain.Conversation {
	return t.upd.ApplyTo(t.conv)
}

func (t *turn) lang() string {
	if lang := t.view().LanguageCode; supportedLanguage(lang) {
		return lang
	}
	if supportedLanguage(t.cfg.DefaultLanguage) {
		return t.cfg.DefaultLanguage
	}
	return fallbackLanguage
}

func (t *turn) reply(key replyKey, args ...string) {
	t.replyText(render(t.lang(), key, args...))
}

func (t *turn) replyText(body string) {
	t.actions = append(t.actions, domain.Action{
		Kind:           domain.ActionReply,
		TenantID:       t.msg.TenantID,
		Channel:        t.msg.Channel,
		To:             t.msg.UserID,
		ConversationID: t.msg.ConversationID,
		Body:           body,
	})
}

func (t *turn) createTicket(ticket domain.Ticket) {
	t.actions = append(t.actions, domain.Action{
		Kind:           domain.ActionCreateTicket,
		TenantID:       t.msg.TenantID,
		Channel:        t.msg.Channel,
		To:             t.msg.UserID,
		ConversationID: t.msg.ConversationID,
		Ticket:         &ticket,
	})
}

func (t *turn) setState(s domain.State) {
	t.upd.State = domain.Set(s)
}

// stagePending replaces whatever pending operation the user had.
func (t *turn) stagePending(op domain.PendingOperation) {
	op.ConversationID = t.msg.ConversationID
	op.CreatedAt = t.now.Unix()
	op.ExpiresAt = t.now.Add(t.cfg.PendingTTL).Unix()
	t.putPending = &op
	t.deletePending = false
}

func (t *turn) dropPending() {
	t.putPending = nil
	t.deletePending = true
}

// stashPostIntent records the operation to resume after verification.
func (t *turn) stashPostIntent(post domain.PostIntent) {
	slots := maps.Clone(post.Slots)
	if slots == nil {
		slots = map[string]string{}
	}
	t.upd.PostIntent = domain.Set(post.Intent)
	t.upd.PostIntentSlots = domain.Set(slots)
}

// reset returns the conversation to awaiting_message with no challenge and
// nothing to resume.
func (t *turn) reset() {
	t.upd.ClearChallenge()
	t.upd.ClearPostIntent()
	t.setState(domain.StateAwaitingMessage)
}

func (t *turn) commit() domain.TurnCommit {
	return domain.TurnCommit{
		ConversationID: t.msg.ConversationID,
		TenantID:       t.msg.TenantID,
		Channel:        t.msg.Channel,
		Update:         t.upd,
		PutPending:     t.putPending,
		DeletePending:  t.deletePending,
	}
}
