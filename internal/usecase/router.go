package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"studio-assistant/internal/domain"
)

// keyNamespace scopes the name-based UUIDs used as CRM idempotency keys.
var keyNamespace = uuid.MustParse("8b0f3c2e-5d7a-4e61-9c3b-2a4f6e1d7c90")

// Deps are the collaborators of a Router.
type Deps struct {
	Store      ConversationStore
	Tenants    TenantConfigs
	Classifier Classifier
	Knowledge  KnowledgeBase
	CRM        CRM
	Challenge  *ChallengeEngine
	Secrets    Secrets
	Now        func() time.Time
}

// Router is the conversation state machine. It turns one inbound message
// into a list of actions and persists the resulting conversation state; it
// never talks to a channel transport itself.
type Router struct {
	store      ConversationStore
	tenants    TenantConfigs
	classifier Classifier
	kb         KnowledgeBase
	crm        CRM
	challenge  *ChallengeEngine
	secrets    Secrets
	now        func() time.Time
}

func NewRouter(d Deps) (*Router, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("usecase: store must not be nil")
	case d.Tenants == nil:
		return nil, errors.New("usecase: tenant configs must not be nil")
	case d.Classifier == nil:
		return nil, errors.New("usecase: classifier must not be nil")
	case d.Knowledge == nil:
		return nil, errors.New("usecase: knowledge base must not be nil")
	case d.CRM == nil:
		return nil, errors.New("usecase: crm must not be nil")
	case d.Challenge == nil:
		return nil, errors.New("usecase: challenge engine must not be nil")
	case d.Secrets == nil:
		return nil, errors.New("usecase: secrets must not be nil")
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		store:      d.Store,
		tenants:    d.Tenants,
		classifier: d.Classifier,
		kb:         d.Knowledge,
		crm:        d.CRM,
		challenge:  d.Challenge,
		secrets:    d.Secrets,
		now:        now,
	}, nil
}

// Route runs one turn for msg. Store failures are returned as INTERNAL_ERROR
// so the record is retried; collaborator failures become replies. The turn's
// actions are committed with the state as the outbox of msg.EventID, and a
// second Route for a committed event fails without touching the state.
func (r *Router) Route(ctx context.Context, msg domain.Message) ([]domain.Action, error) {
	if strings.TrimSpace(msg.TenantID) == "" || strings.TrimSpace(msg.ConversationID) == "" {
		return nil, newError(ErrorInvalidInput, "missing_identity", nil)
	}
	if strings.TrimSpace(msg.Body) == "" {
		return nil, nil
	}

	cfg, err := r.tenants.Get(ctx, msg.TenantID)
	if err != nil {
		return nil, newError(ErrorInternal, "tenant_config_error", err)
	}
	conv, found, err := r.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return nil, newError(ErrorInternal, "conversation_load_error", err)
	}
	if !found {
		conv = domain.NewConversation(msg.ConversationID, msg.TenantID, msg.Channel)
	}

	t := newTurn(msg, cfg, conv, r.now())
	if err := r.handle(ctx, t); err != nil {
		return nil, err
	}

	actions := t.actions
	var linked *domain.TurnCommit
	if t.linked != nil {
		web, err := r.completeLink(ctx, t)
		if err != nil {
			return nil, err
		}
		actions = append(actions, web.actions...)
		c := web.commit()
		linked = &c
	}
	if t.skipCommit {
		return actions, nil
	}

	commit := t.commit()
	commit.EventID = msg.EventID
	commit.Outbox = actions
	commit.Linked = linked
	if err := r.store.CommitTurn(ctx, commit); err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			return nil, newError(ErrorInternal, "turn_already_committed", err)
		}
		return nil, newError(ErrorInternal, "conversation_commit_error", err)
	}
	return actions, nil
}

func (r *Router) handle(ctx context.Context, t *turn) error {
	conv := t.conv

	switch {
	case isKeyword(t.body, t.cfg.Words.Stop):
		t.upd.OptOut = domain.Set(true)
		t.reply(replyStopped)
		return nil
	case isKeyword(t.body, t.cfg.Words.Start):
		t.upd.OptOut = domain.Set(false)
		t.reply(replyStarted)
		return nil
	}

	// A locked user typing another code gets the handover reply again and
	// no attempt is consumed.
	if conv.IsLocked(t.now) && looksLikeOTP(t.body) {
		t.reset()
		t.reply(replyHandover)
		return nil
	}

	switch conv.State {
	case domain.StateAwaitingChallenge:
		if post := r.challenge.answer(ctx, t); post != nil {
			return r.resume(ctx, t, *post)
		}
		return nil
	case domain.StateAwaitingVerification:
		if conv.ChallengeType == domain.ChallengeLink && conv.LinkCode != "" && conv.OTPExpiresAt > t.now.Unix() {
			t.reply(replyLinkPending, "link", linkFor(t.cfg.WebLinkTemplate, conv.LinkCode))
			return nil
		}
		t.reset()
	}

	op, found, err := r.store.GetPending(ctx, conv.ID)
	if err != nil {
		return newError(ErrorInternal, "pending_load_error", err)
	}
	if found {
		handled, err := r.handlePending(ctx, t, op)
		if err != nil || handled {
			return err
		}
	} else if conv.State == domain.StateAwaitingConfirmation || conv.State == domain.StateAwaitingClassSelection {
		t.setState(domain.StateAwaitingMessage)
	}

	// A bare code with a bad signature is ordinary text and goes to the
	// classifier; only the explicit LINK form is rejected as forged.
	if !t.msg.Channel.IsWeb() {
		if code, explicit := findLinkCode(t.body); code != "" && (explicit || r.secrets.VerifyLinkCode(code)) {
			return r.link(ctx, t, code)
		}
	}

	return r.classifyAndDispatch(ctx, t)
}

func (r *Router) classifyAndDispatch(ctx context.Context, t *turn) error {
	conv := t.conv
	cc := t.cfg.Classifier

	cls, err := r.classifier.Classify(ctx, t.body, t.lang())
	if err != nil {
		status, _ := upstreamStatusCode(err)
		slog.WarnContext(ctx, "classifier unavailable", "tenant", t.msg.TenantID, "event_id", t.msg.EventID, "status", status, "err", err)
		cls = domain.Classification{Intent: domain.IntentClarify}
	}
	if cls.Confidence < cc.MinConfidence {
		cls.Intent = domain.IntentClarify
	}

	sinceLast := t.now.Sub(time.Unix(conv.UpdatedAt, 0))
	followUp := conv.LastIntent == domain.IntentFAQ &&
		conv.UpdatedAt > 0 &&
		sinceLast < t.cfg.FAQSessionTimeout &&
		cls.Intent != domain.IntentFAQ &&
		(cls.Intent == domain.IntentClarify || cls.Confidence < cc.FollowUpConfidence)
	if followUp {
		cls = domain.Classification{Intent: domain.IntentFAQ, Confidence: cls.Confidence}
	}

	if lang := strings.ToLower(cls.Slot(domain.SlotLanguage)); supportedLanguage(lang) {
		t.upd.LanguageCode = domain.Set(lang)
	}
	t.upd.LastIntent = domain.Set(cls.Intent)
	t.upd.LastUserText = domain.Set(t.body)

	return r.dispatch(ctx, t, cls.Intent, cls.Slots)
}

// resume continues the operation that triggered verification.
func (r *Router) resume(ctx context.Context, t *turn, post domain.PostIntent) error {
	slots := post.Slots
	if slots == nil {
		slots = map[string]string{}
	}
	return r.dispatch(ctx, t, post.Intent, slots)
}

func (r *Router) dispatch(ctx context.Context, t *turn, intent string, slots map[string]string) error {
	switch intent {
	case domain.IntentFAQ:
		return r.answerFAQ(ctx, t, slots[domain.SlotFAQKey])
	case domain.IntentBooking:
		return r.booking(ctx, t, domain.ClassFilter{Type: slots[domain.SlotClassType], Date: slots[domain.SlotDate]})
	case domain.IntentSelectClass:
		return r.selectClass(ctx, t, domain.ClassOption{
			ClassID:  slots[domain.SlotClassID],
			Name:     slots[domain.SlotClassName],
			StartsAt: slots[domain.SlotStartsAt],
		})
	case domain.IntentReserve:
		return r.reserve(ctx, t, slots)
	case domain.IntentBalance:
		return r.balance(ctx, t)
	case domain.IntentContract:
		return r.contracts(ctx, t)
	case domain.IntentTicket:
		r.ticket(t)
		return nil
	case domain.IntentMarketingOptOut, domain.IntentMarketingOptIn:
		optIn := intent == domain.IntentMarketingOptIn
		if slots[domain.SlotConfirmed] == "true" {
			return r.applyConsent(ctx, t, optIn)
		}
		r.stageConsent(t, optIn)
		return nil
	default:
		t.reply(replyClarify)
		return nil
	}
}

// idempotencyKey derives a stable key for a CRM mutation from the turn that
// requested it, so a retried turn repeats the same key.
func idempotencyKey(t *turn, parts ...string) string {
	name := strings.Join(append([]string{t.msg.TenantID, t.msg.EventID}, parts...), "|")
	return uuid.NewSHA1(keyNamespace, []byte(name)).String()
}
