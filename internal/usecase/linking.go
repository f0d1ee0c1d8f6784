package usecase

import (
	"context"
	"errors"
	"log/slog"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/hashing"
)

// link consumes a code minted for a web conversation. The primary channel
// proves the phone number; the web conversation is then verified for the
// member registered under it.
func (r *Router) link(ctx context.Context, t *turn, code string) error {
	if !r.secrets.VerifyLinkCode(code) {
		slog.WarnContext(ctx, "security: link code signature rejected", "tenant", t.msg.TenantID, "event_id", t.msg.EventID)
		t.skipCommit = true
		t.reply(replyLinkInvalid)
		return nil
	}

	link, err := r.store.ConsumeLinkCode(ctx, hashing.NormalizeCode(code))
	if errors.Is(err, domain.ErrNotFound) {
		t.reply(replyLinkInvalid)
		return nil
	}
	if err != nil {
		return newError(ErrorInternal, "link_consume_error", err)
	}
	if link.TenantID != t.msg.TenantID {
		slog.WarnContext(ctx, "security: link code used across tenants", "tenant", t.msg.TenantID, "event_id", t.msg.EventID)
		t.reply(replyLinkInvalid)
		return nil
	}

	member, found, err := r.crm.FindMemberByPhone(ctx, t.msg.TenantID, t.msg.UserID)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "member lookup failed", "tenant", t.msg.TenantID, "event_id", t.msg.EventID, "err", err)
		t.reply(replyVerifyUnavailable)
		return nil
	case !found:
		t.reply(replyNoMember)
		return nil
	}

	t.linked = &linkedWeb{link: link, member: member}
	t.reply(replyLinkOK)
	return nil
}

// completeLink prepares a second turn on the linked web conversation: it
// becomes strongly verified and the operation that asked for verification
// resumes there. The caller commits it together with the primary turn.
func (r *Router) completeLink(ctx context.Context, primary *turn) (*turn, error) {
	link := primary.linked.link
	webConv, found, err := r.store.GetConversation(ctx, link.WebConversationID)
	if err != nil {
		return nil, newError(ErrorInternal, "conversation_load_error", err)
	}
	if !found {
		webConv = domain.NewConversation(link.WebConversationID, link.TenantID, domain.ChannelWeb)
	}

	msg := domain.Message{
		EventID:        primary.msg.EventID + "#link",
		TenantID:       link.TenantID,
		Channel:        domain.ChannelWeb,
		UserID:         link.WebUserID,
		ConversationID: link.WebConversationID,
		ReceivedAt:     primary.msg.ReceivedAt,
	}
	t := newTurn(msg, primary.cfg, webConv, primary.now)
	t.upd.VerificationLevel = domain.Set(domain.VerificationStrong)
	t.upd.VerifiedUntil = domain.Set(t.now.Add(t.cfg.Verification.VerifiedFor).Unix())
	t.upd.CRMMemberID = domain.Set(primary.linked.member.ID)
	t.reset()
	t.reply(replyVerified)

	if link.PostIntent != "" {
		if err := r.resume(ctx, t, domain.PostIntent{Intent: link.PostIntent, Slots: link.PostIntentSlots}); err != nil {
			return nil, err
		}
	}
	return t, nil
}
