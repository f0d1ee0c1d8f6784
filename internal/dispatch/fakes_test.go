package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/hashing"
	"studio-assistant/internal/integrations/channel"
	"studio-assistant/internal/tenant"
	"studio-assistant/internal/usecase"
)

type fakeClaims struct {
	claimed   map[string]bool
	released  []string
	err       error
	outbox    map[string][]domain.Action
	outboxErr error
}

func newFakeClaims() *fakeClaims {
	return &fakeClaims{claimed: map[string]bool{}, outbox: map[string][]domain.Action{}}
}

func (f *fakeClaims) Claim(_ context.Context, key string, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	if f.claimed[key] {
		return domain.ErrAlreadyClaimed
	}
	f.claimed[key] = true
	return nil
}

func (f *fakeClaims) Release(_ context.Context, key string) error {
	delete(f.claimed, key)
	f.released = append(f.released, key)
	return nil
}

func (f *fakeClaims) GetOutbox(_ context.Context, conversationID, eventID string) ([]domain.Action, bool, error) {
	if f.outboxErr != nil {
		return nil, false, f.outboxErr
	}
	actions, ok := f.outbox[conversationID+"#"+eventID]
	return actions, ok, nil
}

// fakeRouter commits the actions of every successful turn into store's
// outbox, the way the conversation store does.
type fakeRouter struct {
	store   *fakeClaims
	seen    []domain.Message
	actions func(domain.Message) []domain.Action
	errs    map[string]error
}

func (f *fakeRouter) Route(_ context.Context, msg domain.Message) ([]domain.Action, error) {
	f.seen = append(f.seen, msg)
	if err := f.errs[msg.Body]; err != nil {
		return nil, err
	}
	var actions []domain.Action
	if f.actions == nil {
		actions = []domain.Action{{Kind: domain.ActionReply, TenantID: msg.TenantID, Channel: msg.Channel, To: msg.UserID, ConversationID: msg.ConversationID, Body: "re: " + msg.Body}}
	} else {
		actions = f.actions(msg)
	}
	if f.store != nil {
		key := msg.ConversationID + "#" + msg.EventID
		if _, ok := f.store.outbox[key]; ok {
			return nil, &usecase.Error{Code: usecase.ErrorInternal, Reason: "turn_already_committed", Err: domain.ErrAlreadyClaimed}
		}
		f.store.outbox[key] = actions
	}
	return actions, nil
}

func (f *fakeRouter) bodies() []string {
	out := make([]string, 0, len(f.seen))
	for _, m := range f.seen {
		out = append(out, m.Body)
	}
	return out
}

type fakePublisher struct {
	published []domain.OutboundEnvelope
	err       error
}

func (f *fakePublisher) PublishOutbound(_ context.Context, envs []domain.OutboundEnvelope) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, envs...)
	return nil
}

type countingResetter struct{ n int }

func (c *countingResetter) Reset() { c.n++ }

func testHasher(t *testing.T) *hashing.Hasher {
	t.Helper()
	h, err := hashing.New("test-salt-0123456789abcdef")
	require.NoError(t, err)
	return h
}

// inboundRecord builds a well-formed FIFO record for user on the sms channel.
func inboundRecord(t *testing.T, h *hashing.Hasher, msgID, eventID, user, body, seq string) Record {
	t.Helper()
	conv := h.ConversationID("studio-1", domain.ChannelSMS, user)
	raw, err := json.Marshal(domain.InboundEvent{
		EventID:        eventID,
		TenantID:       "studio-1",
		Channel:        domain.ChannelSMS,
		ChannelUserID:  user,
		ConversationID: conv,
		Body:           body,
		Timestamp:      1772359200,
	})
	require.NoError(t, err)
	return Record{MessageID: msgID, Body: string(raw), GroupID: conv, Sequence: seq}
}

type fakeSender struct {
	sent []string
	err  error
}

func (f *fakeSender) SendText(_ context.Context, to, body string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to+": "+body)
	return nil
}

type fakeSenders struct {
	sender *fakeSender
	err    error
}

func (f *fakeSenders) Sender(context.Context, string, domain.Channel) (channel.Sender, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.sender, nil
}

type fakeTickets struct {
	keys []string
	err  error
}

func (f *fakeTickets) CreateTicket(_ context.Context, _ string, _ domain.Channel, _ domain.Ticket, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "T-1", nil
}

type fakeConversations struct {
	conv  domain.Conversation
	found bool
	err   error
}

func (f *fakeConversations) GetConversation(context.Context, string) (domain.Conversation, bool, error) {
	return f.conv, f.found, f.err
}

type fakeTenants struct {
	cfg tenant.Config
	err error
}

func (f *fakeTenants) Get(context.Context, string) (tenant.Config, error) {
	return f.cfg, f.err
}

type fakeBuckets struct {
	allow  bool
	resets int
}

func (f *fakeBuckets) Allow(string, float64, int) bool { return f.allow }
func (f *fakeBuckets) Reset()                          { f.resets++ }

var errBoom = errors.New("boom")
