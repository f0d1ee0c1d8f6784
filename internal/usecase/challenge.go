package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"studio-assistant/internal/domain"
)

type linkStore interface {
	PutLinkCode(ctx context.Context, l domain.LinkCode) error
}

// ChallengeEngine gates CRM operations behind strong verification: an e-mail
// OTP on primary channels, a signed cross-channel link on the web widget.
type ChallengeEngine struct {
	crm     CRM
	mailer  Mailer
	links   linkStore
	secrets Secrets
}

func NewChallengeEngine(crm CRM, mailer Mailer, links linkStore, secrets Secrets) (*ChallengeEngine, error) {
	if crm == nil {
		return nil, errors.New("usecase: crm must not be nil")
	}
	if mailer == nil {
		return nil, errors.New("usecase: mailer must not be nil")
	}
	if links == nil {
		return nil, errors.New("usecase: link store must not be nil")
	}
	if secrets == nil {
		return nil, errors.New("usecase: secrets must not be nil")
	}
	return &ChallengeEngine{crm: crm, mailer: mailer, links: links, secrets: secrets}, nil
}

// require reports whether the conversation may proceed with post. When it
// may not, the turn carries the reply and state change that starts (or
// refuses) verification, and post is stashed for resumption.
func (e *ChallengeEngine) require(ctx context.Context, t *turn, post domain.PostIntent) (bool, error) {
	v := t.view()
	if v.IsVerified(t.now) {
		return true, nil
	}
	if v.IsLocked(t.now) {
		t.reset()
		t.reply(replyHandover)
		return false, nil
	}

	t.stashPostIntent(post)
	if t.msg.Channel.IsWeb() {
		return false, e.startLink(ctx, t, post)
	}

	vc := t.cfg.Verification
	now := t.now.Unix()
	if v.OTPLastSentAt > 0 && now-v.OTPLastSentAt < int64(vc.ResendCooldown.Seconds()) {
		if v.ChallengeType == domain.ChallengeEmailOTP && v.OTPHash != "" && v.OTPExpiresAt > now && v.OTPAttemptsLeft > 0 {
			t.setState(domain.StateAwaitingChallenge)
			t.reply(replyOTPAlreadySent, "email", v.OTPEmail)
			return false, nil
		}
		t.reset()
		t.reply(replyOTPCooldown)
		return false, nil
	}

	member, found, err := e.crm.FindMemberByPhone(ctx, t.msg.TenantID, t.msg.UserID)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "member lookup failed", "tenant", t.msg.TenantID, "event_id", t.msg.EventID, "err", err)
		t.reset()
		t.reply(replyVerifyUnavailable)
		return false, nil
	case !found:
		t.reset()
		t.reply(replyNoMember)
		return false, nil
	case strings.TrimSpace(member.Email) == "":
		t.reset()
		t.reply(replyNoEmail)
		return false, nil
	}

	code, err := e.secrets.NewOTP()
	if err != nil {
		return false, newError(ErrorInternal, "otp_generation_error", err)
	}
	t.upd.ChallengeType = domain.Set(domain.ChallengeEmailOTP)
	t.upd.OTPHash = domain.Set(e.secrets.HashOTP(v.ID, code))
	t.upd.OTPExpiresAt = domain.Set(t.now.Add(vc.OTPTTL).Unix())
	t.upd.OTPAttemptsLeft = domain.Set(vc.MaxAttempts)
	t.upd.OTPEmail = domain.Set(maskEmail(member.Email))
	t.upd.CRMMemberID = domain.Set(member.ID)

	if err := e.mailer.SendOTP(ctx, member.Email, code, t.lang()); err != nil {
		slog.WarnContext(ctx, "otp mail failed", "tenant", t.msg.TenantID, "event_id", t.msg.EventID, "err", err)
		t.reset()
		t.reply(replyMailFailed)
		return false, nil
	}
	t.upd.OTPLastSentAt = domain.Set(now)
	t.setState(domain.StateAwaitingChallenge)
	t.reply(replyOTPSent, "email", maskEmail(member.Email))
	return false, nil
}

func (e *ChallengeEngine) startLink(ctx context.Context, t *turn, post domain.PostIntent) error {
	code, err := e.secrets.NewLinkCode()
	if err != nil {
		return newError(ErrorInternal, "link_generation_error", err)
	}
	expires := t.now.Add(t.cfg.Verification.LinkTTL).Unix()
	err = e.links.PutLinkCode(ctx, domain.LinkCode{
		Code:              code,
		TenantID:          t.msg.TenantID,
		WebConversationID: t.msg.ConversationID,
		WebUserID:         t.msg.UserID,
		PostIntent:        post.Intent,
		PostIntentSlots:   post.Slots,
		ExpiresAt:         expires,
	})
	if err != nil {
		return newError(ErrorInternal, "link_store_error", err)
	}
	t.upd.ChallengeType = domain.Set(domain.ChallengeLink)
	t.upd.LinkCode = domain.Set(code)
	t.upd.OTPExpiresAt = domain.Set(expires)
	t.setState(domain.StateAwaitingVerification)
	t.reply(replyLinkPrompt, "link", linkFor(t.cfg.WebLinkTemplate, code))
	return nil
}

// answer treats the message as an OTP answer. Every exit other than a wrong
// code with attempts left returns the conversation to awaiting_message. On
// success it returns the stashed post-intent, if any.
func (e *ChallengeEngine) answer(_ context.Context, t *turn) *domain.PostIntent {
	v := t.view()
	now := t.now.Unix()

	switch {
	case v.IsLocked(t.now):
		t.reset()
		t.reply(replyHandover)
		return nil
	case v.ChallengeType != domain.ChallengeEmailOTP || v.OTPHash == "" || v.OTPAttemptsLeft <= 0:
		t.reset()
		t.reply(replyChallengeReset)
		return nil
	case v.OTPExpiresAt <= now:
		t.reset()
		t.reply(replyOTPExpired)
		return nil
	}

	if e.secrets.VerifyOTP(v.ID, t.body, v.OTPHash) {
		t.upd.VerificationLevel = domain.Set(domain.VerificationStrong)
		t.upd.VerifiedUntil = domain.Set(t.now.Add(t.cfg.Verification.VerifiedFor).Unix())
		t.reset()
		t.reply(replyVerified)
		if v.PostIntent == "" {
			return nil
		}
		return &domain.PostIntent{Intent: v.PostIntent, Slots: v.PostIntentSlots}
	}

	left := v.OTPAttemptsLeft - 1
	if left <= 0 {
		t.upd.VerificationBlockedUntil = domain.Set(t.now.Add(t.cfg.Verification.Lockout).Unix())
		t.reset()
		t.reply(replyHandover)
		return nil
	}
	t.upd.OTPAttemptsLeft = domain.Set(left)
	t.reply(replyOTPInvalid, "attempts", strconv.Itoa(left))
	return nil
}

// linkFor renders the web link template; without one the bare instruction
// "LINK <code>" is shown.
func linkFor(template, code string) string {
	if strings.Contains(template, "{code}") {
		return strings.ReplaceAll(template, "{code}", code)
	}
	return "LINK " + code
}
