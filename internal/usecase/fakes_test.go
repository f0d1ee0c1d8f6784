package usecase

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/hashing"
	"studio-assistant/internal/tenant"
)

type fakeStore struct {
	now       func() time.Time
	convs     map[string]domain.Conversation
	pending   map[string]domain.PendingOperation
	links     map[string]domain.LinkCode
	outbox    map[string][]domain.Action
	commits   []domain.TurnCommit
	getErr    error
	commitErr error
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{
		now:     now,
		convs:   map[string]domain.Conversation{},
		pending: map[string]domain.PendingOperation{},
		links:   map[string]domain.LinkCode{},
		outbox:  map[string][]domain.Action{},
	}
}

func (f *fakeStore) GetConversation(_ context.Context, id string) (domain.Conversation, bool, error) {
	if f.getErr != nil {
		return domain.Conversation{}, false, f.getErr
	}
	c, ok := f.convs[id]
	return c, ok, nil
}

func (f *fakeStore) GetPending(_ context.Context, id string) (domain.PendingOperation, bool, error) {
	op, ok := f.pending[id]
	if ok && op.Expired(f.now()) {
		return domain.PendingOperation{}, false, nil
	}
	return op, ok, nil
}

func (f *fakeStore) CommitTurn(_ context.Context, commit domain.TurnCommit) error {
	if f.commitErr != nil {
		return f.commitErr
	}
	outboxKey := commit.ConversationID + "#" + commit.EventID
	if commit.EventID != "" {
		if _, ok := f.outbox[outboxKey]; ok {
			return domain.ErrAlreadyClaimed
		}
		f.outbox[outboxKey] = commit.Outbox
	}
	f.commits = append(f.commits, commit)
	f.apply(commit)
	if commit.Linked != nil {
		f.apply(*commit.Linked)
	}
	return nil
}

func (f *fakeStore) apply(commit domain.TurnCommit) {
	c, ok := f.convs[commit.ConversationID]
	if !ok {
		c = domain.NewConversation(commit.ConversationID, commit.TenantID, commit.Channel)
	}
	c = commit.Update.ApplyTo(c)
	c.PostIntentSlots = maps.Clone(c.PostIntentSlots)
	c.UpdatedAt = f.now().Unix()
	f.convs[commit.ConversationID] = c
	switch {
	case commit.PutPending != nil:
		f.pending[commit.ConversationID] = *commit.PutPending
	case commit.DeletePending:
		delete(f.pending, commit.ConversationID)
	}
}

func (f *fakeStore) PutLinkCode(_ context.Context, l domain.LinkCode) error {
	if _, ok := f.links[l.Code]; ok {
		return domain.ErrAlreadyClaimed
	}
	f.links[l.Code] = l
	return nil
}

func (f *fakeStore) ConsumeLinkCode(_ context.Context, code string) (domain.LinkCode, error) {
	l, ok := f.links[code]
	if !ok || l.ExpiresAt <= f.now().Unix() {
		return domain.LinkCode{}, domain.ErrNotFound
	}
	delete(f.links, code)
	return l, nil
}

type fakeTenants struct {
	cfg tenant.Config
	err error
}

func (f *fakeTenants) Get(_ context.Context, tenantID string) (tenant.Config, error) {
	if f.err != nil {
		return tenant.Config{}, f.err
	}
	cfg := f.cfg
	cfg.TenantID = tenantID
	return cfg, nil
}

type fakeClassifier struct {
	byText map[string]domain.Classification
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(_ context.Context, text, _ string) (domain.Classification, error) {
	f.calls++
	if f.err != nil {
		return domain.Classification{}, f.err
	}
	if c, ok := f.byText[text]; ok {
		return c, nil
	}
	return domain.Classification{Intent: domain.IntentClarify, Confidence: 0.9}, nil
}

type fakeKB struct {
	byKey       map[string]string
	aiAnswer    string
	aiErr       error
	lastHistory []domain.ChatMessage
	aiCalls     int
}

func (f *fakeKB) AnswerByKey(_ context.Context, _, key, _ string) (string, bool, error) {
	a, ok := f.byKey[key]
	return a, ok, nil
}

func (f *fakeKB) AnswerAI(_ context.Context, _, _ string, history []domain.ChatMessage, _ string) (string, bool, error) {
	f.aiCalls++
	f.lastHistory = history
	if f.aiErr != nil {
		return "", false, f.aiErr
	}
	return f.aiAnswer, f.aiAnswer != "", nil
}

type reserveCall struct {
	classID, memberID, key string
}

type fakeCRM struct {
	members     map[string]domain.Member
	lookupErr   error
	classes     []domain.ClassOption
	listFilters []domain.ClassFilter
	reserveRes  domain.ReserveResult
	reserveErr  error
	reserves    []reserveCall
	balance     domain.Balance
	contracts   []domain.Contract
	consents    []bool
	consentKeys []string
}

func (f *fakeCRM) FindMemberByPhone(_ context.Context, _, phone string) (domain.Member, bool, error) {
	if f.lookupErr != nil {
		return domain.Member{}, false, f.lookupErr
	}
	m, ok := f.members[phone]
	return m, ok, nil
}

func (f *fakeCRM) ListClasses(_ context.Context, _ string, filter domain.ClassFilter) ([]domain.ClassOption, error) {
	f.listFilters = append(f.listFilters, filter)
	return f.classes, nil
}

func (f *fakeCRM) Reserve(_ context.Context, _, classID, memberID, key string) (domain.ReserveResult, error) {
	f.reserves = append(f.reserves, reserveCall{classID: classID, memberID: memberID, key: key})
	return f.reserveRes, f.reserveErr
}

func (f *fakeCRM) Balance(context.Context, string, string) (domain.Balance, error) {
	return f.balance, nil
}

func (f *fakeCRM) Contracts(context.Context, string, string) ([]domain.Contract, error) {
	return f.contracts, nil
}

func (f *fakeCRM) SetMarketingConsent(_ context.Context, _, _ string, consent bool, key string) error {
	f.consents = append(f.consents, consent)
	f.consentKeys = append(f.consentKeys, key)
	return nil
}

type fakeMailer struct {
	codes []string
	err   error
}

func (f *fakeMailer) SendOTP(_ context.Context, _, code, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeMailer) last() string {
	if len(f.codes) == 0 {
		return ""
	}
	return f.codes[len(f.codes)-1]
}

const (
	testTenant = "loft"
	testPhone  = "+48500100200"
	testWebID  = "web-session-1"
)

type harness struct {
	t       *testing.T
	now     time.Time
	tenants *fakeTenants
	store   *fakeStore
	cls     *fakeClassifier
	kb      *fakeKB
	crm     *fakeCRM
	mailer  *fakeMailer
	hasher  *hashing.Hasher
	router  *Router
	eventNo int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	cfg := tenant.Defaults()
	cfg.DefaultLanguage = "en"
	cfg.Timezone = "UTC"
	h.tenants = &fakeTenants{cfg: cfg}
	h.store = newFakeStore(clock)
	h.cls = &fakeClassifier{byText: map[string]domain.Classification{}}
	h.kb = &fakeKB{byKey: map[string]string{}}
	h.crm = &fakeCRM{
		members:    map[string]domain.Member{testPhone: {ID: "m-1", Email: "ola@example.com", FirstName: "Ola"}},
		reserveRes: domain.ReserveResult{OK: true, ReservationID: "r-1"},
		classes: []domain.ClassOption{
			{ClassID: "c-1", Name: "Vinyasa", StartsAt: "2026-03-02 18:00"},
			{ClassID: "c-2", Name: "Yin", StartsAt: "2026-03-02 19:30"},
		},
		balance: domain.Balance{Credits: 4, ValidUntil: "2026-04-01"},
	}
	h.mailer = &fakeMailer{}

	var err error
	h.hasher, err = hashing.New("test-salt-0123456789abcdef")
	require.NoError(t, err)
	engine, err := NewChallengeEngine(h.crm, h.mailer, h.store, h.hasher)
	require.NoError(t, err)
	h.router, err = NewRouter(Deps{
		Store:      h.store,
		Tenants:    h.tenants,
		Classifier: h.cls,
		Knowledge:  h.kb,
		CRM:        h.crm,
		Challenge:  engine,
		Secrets:    h.hasher,
		Now:        clock,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) convID(channel domain.Channel, user string) string {
	return h.hasher.ConversationID(testTenant, channel, user)
}

func (h *harness) sendAs(channel domain.Channel, user, body string) ([]domain.Action, error) {
	h.eventNo++
	return h.router.Route(context.Background(), domain.Message{
		EventID:        fmt.Sprintf("evt-%d", h.eventNo),
		TenantID:       testTenant,
		Channel:        channel,
		UserID:         user,
		ConversationID: h.convID(channel, user),
		Body:           body,
		ReceivedAt:     h.now,
	})
}

func (h *harness) send(body string) []domain.Action {
	h.t.Helper()
	actions, err := h.sendAs(domain.ChannelWhatsApp, testPhone, body)
	require.NoError(h.t, err)
	return actions
}

func (h *harness) conv() domain.Conversation {
	return h.store.convs[h.convID(domain.ChannelWhatsApp, testPhone)]
}

func (h *harness) pending() (domain.PendingOperation, bool) {
	op, ok := h.store.pending[h.convID(domain.ChannelWhatsApp, testPhone)]
	return op, ok
}

// verify marks the primary conversation strongly verified for member m-1.
func (h *harness) verify() {
	id := h.convID(domain.ChannelWhatsApp, testPhone)
	c, ok := h.store.convs[id]
	if !ok {
		c = domain.NewConversation(id, testTenant, domain.ChannelWhatsApp)
	}
	c.VerificationLevel = domain.VerificationStrong
	c.VerifiedUntil = h.now.Add(time.Hour).Unix()
	c.CRMMemberID = "m-1"
	h.store.convs[id] = c
}

func (h *harness) intent(text, intent string, confidence float64, slots map[string]string) {
	h.cls.byText[text] = domain.Classification{Intent: intent, Confidence: confidence, Slots: slots}
}

func bodies(actions []domain.Action) []string {
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		if a.Kind == domain.ActionReply {
			out = append(out, a.Body)
		}
	}
	return out
}

func en(key replyKey, args ...string) string {
	return render("en", key, args...)
}

var errBoom = errors.New("boom")

func testConfig() tenant.Config {
	cfg := tenant.Defaults()
	cfg.TenantID = testTenant
	return cfg
}
