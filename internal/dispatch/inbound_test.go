package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/usecase"
)

type inboundHarness struct {
	claims *fakeClaims
	router *fakeRouter
	pub    *fakePublisher
	reset  *countingResetter
	d      *InboundDispatcher
}

func newInboundHarness(t *testing.T) *inboundHarness {
	t.Helper()
	h := &inboundHarness{
		claims: newFakeClaims(),
		pub:    &fakePublisher{},
		reset:  &countingResetter{},
	}
	h.router = &fakeRouter{store: h.claims, errs: map[string]error{}}
	d, err := NewInboundDispatcher(h.claims, h.router, h.pub, testHasher(t), h.reset)
	require.NoError(t, err)
	h.d = d
	return h
}

func TestNewInboundDispatcher_Validation(t *testing.T) {
	_, err := NewInboundDispatcher(nil, &fakeRouter{}, &fakePublisher{}, testHasher(t))
	require.Error(t, err)
	_, err = NewInboundDispatcher(newFakeClaims(), nil, &fakePublisher{}, testHasher(t))
	require.Error(t, err)
	_, err = NewInboundDispatcher(newFakeClaims(), &fakeRouter{}, nil, testHasher(t))
	require.Error(t, err)
	_, err = NewInboundDispatcher(newFakeClaims(), &fakeRouter{}, &fakePublisher{}, nil)
	require.Error(t, err)
}

func TestInbound_DuplicateEventProcessedOnce(t *testing.T) {
	h := newInboundHarness(t)
	hs := testHasher(t)
	rec := inboundRecord(t, hs, "m-1", "evt-1", "+48600111222", "hello", "1")
	dup := rec
	dup.MessageID = "m-2"
	dup.Sequence = "2"

	failed := h.d.Process(context.Background(), []Record{rec, dup})
	require.Empty(t, failed)
	require.Len(t, h.router.seen, 1)
	require.Len(t, h.pub.published, 1)

	failed = h.d.Process(context.Background(), []Record{rec})
	require.Empty(t, failed)
	require.Len(t, h.router.seen, 1)
	require.Equal(t, 2, h.reset.n)
}

func TestInbound_OrdersBySequenceWithinGroup(t *testing.T) {
	h := newInboundHarness(t)
	hs := testHasher(t)
	records := []Record{
		inboundRecord(t, hs, "m-3", "evt-3", "+48600111222", "third", "18446744073709551617"),
		inboundRecord(t, hs, "m-1", "evt-1", "+48600111222", "first", "9"),
		inboundRecord(t, hs, "m-2", "evt-2", "+48600111222", "second", "10"),
	}
	require.Empty(t, h.d.Process(context.Background(), records))
	require.Equal(t, []string{"first", "second", "third"}, h.router.bodies())
}

func TestInbound_GroupMismatchIsRejected(t *testing.T) {
	h := newInboundHarness(t)
	hs := testHasher(t)
	rec := inboundRecord(t, hs, "m-1", "evt-1", "+48600111222", "hello", "1")
	rec.GroupID = hs.ConversationID("studio-1", domain.ChannelSMS, "+48999999999")

	failed := h.d.Process(context.Background(), []Record{rec})
	require.Equal(t, []string{"m-1"}, failed)
	require.Empty(t, h.router.seen)
	require.Empty(t, h.claims.claimed)
}

func TestInbound_ForgedConversationIDIsRejected(t *testing.T) {
	h := newInboundHarness(t)
	hs := testHasher(t)
	victim := hs.ConversationID("studio-1", domain.ChannelSMS, "+48600111222")
	raw, err := json.Marshal(domain.InboundEvent{
		EventID: "evt-1", TenantID: "studio-1", Channel: domain.ChannelSMS,
		ChannelUserID: "+48999999999", ConversationID: victim, Body: "hi", Timestamp: 1,
	})
	require.NoError(t, err)

	failed := h.d.Process(context.Background(), []Record{{MessageID: "m-1", Body: string(raw), GroupID: victim, Sequence: "1"}})
	require.Equal(t, []string{"m-1"}, failed)
	require.Empty(t, h.router.seen)
}

func TestInbound_MalformedRecordsAreDropped(t *testing.T) {
	h := newInboundHarness(t)
	hs := testHasher(t)
	good := inboundRecord(t, hs, "m-3", "evt-3", "+48600111222", "ok", "3")

	failed := h.d.Process(context.Background(), []Record{
		{MessageID: "m-1", Body: "{not json", GroupID: good.GroupID, Sequence: "1"},
		{MessageID: "m-2", Body: `{"event_id":"evt-2"}`, GroupID: good.GroupID, Sequence: "2"},
		good,
	})
	require.Empty(t, failed)
	require.Equal(t, []string{"ok"}, h.router.bodies())
}

func TestInbound_TransientFailureReleasesClaimsAndFailsRestOfGroup(t *testing.T) {
	h := newInboundHarness(t)
	hs := testHasher(t)
	h.router.errs["first"] = &usecase.Error{Code: usecase.ErrorInternal, Reason: "conversation_commit_error", Err: errBoom}

	a1 := inboundRecord(t, hs, "a-1", "evt-a1", "+48600111222", "first", "1")
	a2 := inboundRecord(t, hs, "a-2", "evt-a2", "+48600111222", "second", "2")
	b1 := inboundRecord(t, hs, "b-1", "evt-b1", "+48600333444", "other", "1")

	failed := h.d.Process(context.Background(), []Record{a2, b1, a1})
	require.ElementsMatch(t, []string{"a-1", "a-2"}, failed)
	require.ElementsMatch(t, []string{"first", "other"}, h.router.bodies())
	require.Len(t, h.claims.released, 2)

	delete(h.router.errs, "first")
	failed = h.d.Process(context.Background(), []Record{a1, a2})
	require.Empty(t, failed)
	require.Equal(t, []string{"first", "other", "first", "second"}, h.router.bodies())
}

func TestInbound_InvalidInputFromRouterIsDropped(t *testing.T) {
	h := newInboundHarness(t)
	hs := testHasher(t)
	h.router.errs["x"] = &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "missing_identity"}

	failed := h.d.Process(context.Background(), []Record{inboundRecord(t, hs, "m-1", "evt-1", "+48600111222", "x", "1")})
	require.Empty(t, failed)
	require.Empty(t, h.claims.released)
}

func TestInbound_PublishFailureRepublishesCommittedTurn(t *testing.T) {
	h := newInboundHarness(t)
	hs := testHasher(t)
	h.pub.err = errBoom
	rec := inboundRecord(t, hs, "m-1", "evt-1", "+48600111222", "hi", "1")

	failed := h.d.Process(context.Background(), []Record{rec})
	require.Equal(t, []string{"m-1"}, failed)
	require.Empty(t, h.claims.claimed)

	h.pub.err = nil
	failed = h.d.Process(context.Background(), []Record{rec})
	require.Empty(t, failed)
	require.Len(t, h.router.seen, 1)
	require.Equal(t, envelopes("evt-1", []domain.Action{{
		Kind: domain.ActionReply, TenantID: "studio-1", Channel: domain.ChannelSMS,
		To: "+48600111222", ConversationID: rec.GroupID, Body: "re: hi",
	}}), h.pub.published)

	// Once published, redelivery is a plain duplicate.
	failed = h.d.Process(context.Background(), []Record{rec})
	require.Empty(t, failed)
	require.Len(t, h.router.seen, 1)
	require.Len(t, h.pub.published, 1)
}

func TestInbound_CommittedTurnIsNotRoutedAgain(t *testing.T) {
	h := newInboundHarness(t)
	hs := testHasher(t)
	rec := inboundRecord(t, hs, "m-1", "evt-1", "+48600111222", "hi", "1")
	committed := []domain.Action{{Kind: domain.ActionReply, TenantID: "studio-1", Channel: domain.ChannelSMS, To: "+48600111222", Body: "first"}}

	h.claims.outboxErr = errBoom
	require.Equal(t, []string{"m-1"}, h.d.Process(context.Background(), []Record{rec}))
	require.Empty(t, h.router.seen)
	require.Empty(t, h.claims.claimed)

	h.claims.outboxErr = nil
	h.claims.outbox[rec.GroupID+"#evt-1"] = committed
	require.Empty(t, h.d.Process(context.Background(), []Record{rec}))
	require.Empty(t, h.router.seen)
	require.Equal(t, envelopes("evt-1", committed), h.pub.published)
}

func TestInbound_ClaimStoreFailure(t *testing.T) {
	h := newInboundHarness(t)
	hs := testHasher(t)
	h.claims.err = errBoom

	failed := h.d.Process(context.Background(), []Record{inboundRecord(t, hs, "m-1", "evt-1", "+48600111222", "hi", "1")})
	require.Equal(t, []string{"m-1"}, failed)
	require.Empty(t, h.router.seen)
}

func TestInbound_EnvelopesCarryStableDistinctKeys(t *testing.T) {
	h := newInboundHarness(t)
	hs := testHasher(t)
	h.router.actions = func(msg domain.Message) []domain.Action {
		a := domain.Action{Kind: domain.ActionReply, TenantID: msg.TenantID, Channel: msg.Channel, To: msg.UserID, Body: "x"}
		return []domain.Action{a, a}
	}

	require.Empty(t, h.d.Process(context.Background(), []Record{inboundRecord(t, hs, "m-1", "evt-1", "+48600111222", "hi", "1")}))
	require.Len(t, h.pub.published, 2)
	first, second := h.pub.published[0], h.pub.published[1]
	require.NotEqual(t, first.Action.IdempotencyKey, second.Action.IdempotencyKey)
	require.Equal(t, OutboundKey("evt-1", 0), first.Action.IdempotencyKey)
	require.Equal(t, OutboundKey("evt-1", 1), second.Action.IdempotencyKey)
	require.Equal(t, 1, second.Position)
}

func TestOutboundKey_StableUnderReplay(t *testing.T) {
	require.Equal(t, OutboundKey("evt-1", 0), OutboundKey("evt-1", 0))
	require.NotEqual(t, OutboundKey("evt-1", 0), OutboundKey("evt-1", 1))
	require.NotEqual(t, OutboundKey("evt-1", 1), OutboundKey("evt-11", 0))
}

func TestSortRecords(t *testing.T) {
	got := sortRecords([]Record{
		{MessageID: "b2", GroupID: "b", Sequence: "20"},
		{MessageID: "a1", GroupID: "a", Sequence: "100"},
		{MessageID: "b1", GroupID: "b", Sequence: "3"},
		{MessageID: "a0", GroupID: "a", Sequence: "99"},
	})
	ids := make([]string, 0, len(got))
	for _, r := range got {
		ids = append(ids, r.MessageID)
	}
	require.Equal(t, []string{"a0", "a1", "b1", "b2"}, ids)
}
