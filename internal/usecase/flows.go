package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"studio-assistant/internal/domain"
)

func (r *Router) answerFAQ(ctx context.Context, t *turn, key string) error {
	lang := t.lang()
	if key != "" {
		answer, found, err := r.kb.AnswerByKey(ctx, t.msg.TenantID, key, lang)
		if err != nil {
			slog.WarnContext(ctx, "faq lookup failed", "tenant", t.msg.TenantID, "event_id", t.msg.EventID, "err", err)
		}
		if found {
			t.replyText(answer)
			return nil
		}
	}

	var history []domain.ChatMessage
	if t.conv.LastIntent == domain.IntentFAQ && t.conv.LastUserText != "" {
		history = append(history, domain.ChatMessage{Role: "user", Content: t.conv.LastUserText})
	}
	answer, ok, err := r.kb.AnswerAI(ctx, t.msg.TenantID, t.body, history, lang)
	if err != nil {
		slog.WarnContext(ctx, "knowledge answer failed", "tenant", t.msg.TenantID, "event_id", t.msg.EventID, "err", err)
	}
	if err != nil || !ok {
		t.reply(replyFAQUnknown)
		return nil
	}
	t.replyText(answer)
	return nil
}

func (r *Router) booking(ctx context.Context, t *turn, filter domain.ClassFilter) error {
	ok, err := r.challenge.require(ctx, t, domain.PostIntent{
		Intent: domain.IntentBooking,
		Slots:  map[string]string{domain.SlotClassType: filter.Type, domain.SlotDate: filter.Date},
	})
	if err != nil || !ok {
		return err
	}
	r.listClasses(ctx, t, filter)
	return nil
}

// listClasses presents a numbered list and stages it as a class_list pending
// operation.
func (r *Router) listClasses(ctx context.Context, t *turn, filter domain.ClassFilter) {
	classes, err := r.crm.ListClasses(ctx, t.msg.TenantID, filter)
	if err != nil {
		slog.WarnContext(ctx, "list classes failed", "tenant", t.msg.TenantID, "event_id", t.msg.EventID, "err", err)
		t.dropPending()
		t.setState(domain.StateAwaitingMessage)
		t.reply(replyCRMUnavailable)
		return
	}
	if len(classes) == 0 {
		t.dropPending()
		t.setState(domain.StateAwaitingMessage)
		t.reply(replyClassesNone)
		return
	}
	if limit := t.cfg.MaxClassOptions; limit > 0 && len(classes) > limit {
		classes = classes[:limit]
	}

	lang := t.lang()
	var b strings.Builder
	b.WriteString(render(lang, replyClassesHeader))
	for i, c := range classes {
		fmt.Fprintf(&b, "\n%d. %s, %s", i+1, c.Name, c.StartsAt)
	}
	b.WriteString("\n")
	b.WriteString(render(lang, replyClassesFooter))

	t.stagePending(domain.PendingOperation{Kind: domain.PendingClassList, Options: classes})
	t.setState(domain.StateAwaitingClassSelection)
	t.replyText(b.String())
}

// handlePending resolves the staged operation. It reports false when the
// message is not an answer to it and should be classified normally.
func (r *Router) handlePending(ctx context.Context, t *turn, op domain.PendingOperation) (bool, error) {
	if op.Kind == domain.PendingClassList {
		sel, ok := parseSelection(t.body, len(op.Options), t.now, t.cfg.Location())
		switch {
		case ok && sel.index > 0:
			return true, r.selectClass(ctx, t, op.Options[sel.index-1])
		case ok && sel.date != "":
			t.dropPending()
			return true, r.booking(ctx, t, domain.ClassFilter{Date: sel.date})
		default:
			t.dropPending()
			t.setState(domain.StateAwaitingMessage)
			return false, nil
		}
	}

	// Every other kind is a yes/no confirmation, resolved in this turn
	// whatever the outcome.
	t.dropPending()
	t.setState(domain.StateAwaitingMessage)
	if !isAffirmative(t.body, t.cfg.Words) {
		switch op.Kind {
		case domain.PendingReservation:
			t.reply(replyReserveDeclined)
		default:
			t.reply(replyConsentDeclined)
		}
		return true, nil
	}

	switch op.Kind {
	case domain.PendingReservation:
		return true, r.reserve(ctx, t, map[string]string{
			domain.SlotClassID:   op.ClassID,
			domain.SlotClassName: op.ClassName,
			domain.SlotStartsAt:  op.StartsAt,
			domain.SlotIdemKey:   op.IdempotencyKey,
		})
	case domain.PendingMarketingOptOut:
		return true, r.applyConsent(ctx, t, false)
	case domain.PendingMarketingOptIn:
		return true, r.applyConsent(ctx, t, true)
	default:
		slog.WarnContext(ctx, "unknown pending kind dropped", "tenant", t.msg.TenantID, "kind", op.Kind)
		return false, nil
	}
}

func (r *Router) selectClass(ctx context.Context, t *turn, opt domain.ClassOption) error {
	t.dropPending()
	ok, err := r.challenge.require(ctx, t, domain.PostIntent{
		Intent: domain.IntentSelectClass,
		Slots: map[string]string{
			domain.SlotClassID:   opt.ClassID,
			domain.SlotClassName: opt.Name,
			domain.SlotStartsAt:  opt.StartsAt,
		},
	})
	if err != nil || !ok {
		return err
	}

	memberID := t.view().CRMMemberID
	t.stagePending(domain.PendingOperation{
		Kind:           domain.PendingReservation,
		ClassID:        opt.ClassID,
		ClassName:      opt.Name,
		StartsAt:       opt.StartsAt,
		MemberID:       memberID,
		IdempotencyKey: idempotencyKey(t, "reserve", memberID, opt.ClassID),
	})
	t.setState(domain.StateAwaitingConfirmation)
	t.reply(replyReserveConfirm, "class", opt.Name, "starts", opt.StartsAt)
	return nil
}

func (r *Router) reserve(ctx context.Context, t *turn, slots map[string]string) error {
	ok, err := r.challenge.require(ctx, t, domain.PostIntent{Intent: domain.IntentReserve, Slots: slots})
	if err != nil || !ok {
		return err
	}
	memberID := t.view().CRMMemberID
	if memberID == "" {
		t.reply(replyNoMember)
		return nil
	}
	key := slots[domain.SlotIdemKey]
	if key == "" {
		key = idempotencyKey(t, "reserve", memberID, slots[domain.SlotClassID])
	}

	res, err := r.crm.Reserve(ctx, t.msg.TenantID, slots[domain.SlotClassID], memberID, key)
	if err != nil {
		slog.WarnContext(ctx, "reserve failed", "tenant", t.msg.TenantID, "event_id", t.msg.EventID, "err", err)
		t.reply(replyCRMUnavailable)
		return nil
	}
	switch {
	case res.OK:
		t.reply(replyReserveOK, "class", slots[domain.SlotClassName], "starts", slots[domain.SlotStartsAt])
	case res.Error == domain.ReserveAlreadyBooked:
		t.reply(replyReserveBooked)
	case res.Error == domain.ReserveClassFull:
		t.reply(replyReserveFull)
	case res.Error == domain.ReserveNotFound:
		t.reply(replyReserveNotFound)
	default:
		t.reply(replyReserveFailed)
	}
	return nil
}

func (r *Router) balance(ctx context.Context, t *turn) error {
	ok, err := r.challenge.require(ctx, t, domain.PostIntent{Intent: domain.IntentBalance})
	if err != nil || !ok {
		return err
	}
	memberID := t.view().CRMMemberID
	if memberID == "" {
		t.reply(replyNoMember)
		return nil
	}
	bal, err := r.crm.Balance(ctx, t.msg.TenantID, memberID)
	if err != nil {
		slog.WarnContext(ctx, "balance lookup failed", "tenant", t.msg.TenantID, "event_id", t.msg.EventID, "err", err)
		t.reply(replyCRMUnavailable)
		return nil
	}
	validUntil := bal.ValidUntil
	if validUntil == "" {
		validUntil = "-"
	}
	t.reply(replyBalance, "credits", strconv.Itoa(bal.Credits), "valid_until", validUntil)
	return nil
}

func (r *Router) contracts(ctx context.Context, t *turn) error {
	ok, err := r.challenge.require(ctx, t, domain.PostIntent{Intent: domain.IntentContract})
	if err != nil || !ok {
		return err
	}
	memberID := t.view().CRMMemberID
	if memberID == "" {
		t.reply(replyNoMember)
		return nil
	}
	list, err := r.crm.Contracts(ctx, t.msg.TenantID, memberID)
	if err != nil {
		slog.WarnContext(ctx, "contracts lookup failed", "tenant", t.msg.TenantID, "event_id", t.msg.EventID, "err", err)
		t.reply(replyCRMUnavailable)
		return nil
	}
	if len(list) == 0 {
		t.reply(replyContractsNone)
		return nil
	}
	var b strings.Builder
	b.WriteString(render(t.lang(), replyContractsHeader))
	for _, c := range list {
		fmt.Fprintf(&b, "\n- %s (%s)", c.Name, c.Status)
		if c.EndsAt != "" {
			fmt.Fprintf(&b, ", %s", c.EndsAt)
		}
	}
	t.replyText(b.String())
	return nil
}

// ticket is always allowed; verification only adds the member id.
func (r *Router) ticket(t *turn) {
	v := t.view()
	memberID := ""
	if v.IsVerified(t.now) {
		memberID = v.CRMMemberID
	}
	t.createTicket(domain.Ticket{
		Subject:     render(t.lang(), ticketSubject),
		Description: t.body,
		MemberID:    memberID,
		Contact:     t.msg.UserID,
	})
	t.reply(replyTicketCreated)
}

func (r *Router) stageConsent(t *turn, optIn bool) {
	kind, reply := domain.PendingMarketingOptOut, replyOptOutConfirm
	if optIn {
		kind, reply = domain.PendingMarketingOptIn, replyOptInConfirm
	}
	t.stagePending(domain.PendingOperation{Kind: kind, MemberID: t.view().CRMMemberID})
	t.setState(domain.StateAwaitingConfirmation)
	t.reply(reply)
}

func (r *Router) applyConsent(ctx context.Context, t *turn, optIn bool) error {
	intent := domain.IntentMarketingOptOut
	if optIn {
		intent = domain.IntentMarketingOptIn
	}
	ok, err := r.challenge.require(ctx, t, domain.PostIntent{
		Intent: intent,
		Slots:  map[string]string{domain.SlotConfirmed: "true"},
	})
	if err != nil || !ok {
		return err
	}
	memberID := t.view().CRMMemberID
	if memberID == "" {
		t.reply(replyNoMember)
		return nil
	}
	key := idempotencyKey(t, intent, memberID)
	if err := r.crm.SetMarketingConsent(ctx, t.msg.TenantID, memberID, optIn, key); err != nil {
		slog.WarnContext(ctx, "marketing consent update failed", "tenant", t.msg.TenantID, "event_id", t.msg.EventID, "err", err)
		t.reply(replyCRMUnavailable)
		return nil
	}
	t.upd.OptOut = domain.Set(!optIn)
	if optIn {
		t.reply(replyOptInDone)
	} else {
		t.reply(replyOptOutDone)
	}
	return nil
}
