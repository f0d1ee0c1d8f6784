package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/usecase"
)

const defaultClaimTTL = 7 * 24 * time.Hour

type claimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// inboundStore is the claim store together with the outbox the router
// commits every turn into.
type inboundStore interface {
	claimer
	GetOutbox(ctx context.Context, conversationID, eventID string) ([]domain.Action, bool, error)
}

type router interface {
	Route(ctx context.Context, msg domain.Message) ([]domain.Action, error)
}

type outboundPublisher interface {
	PublishOutbound(ctx context.Context, envelopes []domain.OutboundEnvelope) error
}

type conversationIDs interface {
	ConversationID(tenantID string, channel domain.Channel, userID string) string
}

// Resetter is a per-process cache cleared at the start of every batch.
type Resetter interface {
	Reset()
}

type InboundDispatcher struct {
	claims    inboundStore
	router    router
	publisher outboundPublisher
	ids       conversationIDs
	resetters []Resetter
	claimTTL  time.Duration
}

func NewInboundDispatcher(claims inboundStore, r router, publisher outboundPublisher, ids conversationIDs, resetters ...Resetter) (*InboundDispatcher, error) {
	switch {
	case claims == nil:
		return nil, errors.New("dispatch: claims store must not be nil")
	case r == nil:
		return nil, errors.New("dispatch: router must not be nil")
	case publisher == nil:
		return nil, errors.New("dispatch: publisher must not be nil")
	case ids == nil:
		return nil, errors.New("dispatch: conversation id deriver must not be nil")
	}
	return &InboundDispatcher{
		claims:    claims,
		router:    r,
		publisher: publisher,
		ids:       ids,
		resetters: resetters,
		claimTTL:  defaultClaimTTL,
	}, nil
}

// Process handles one batch in (group, sequence) order and returns the
// message ids that must be redelivered. After a record of a group fails,
// later records of that group are failed untouched so they are not applied
// ahead of it.
func (d *InboundDispatcher) Process(ctx context.Context, records []Record) []string {
	for _, r := range d.resetters {
		r.Reset()
	}

	var failed []string
	failedGroups := map[string]bool{}
	for _, rec := range sortRecords(records) {
		if rec.GroupID != "" && failedGroups[rec.GroupID] {
			failed = append(failed, rec.MessageID)
			continue
		}
		if err := d.processRecord(ctx, rec); err != nil {
			slog.ErrorContext(ctx, "inbound record failed", "message_id", rec.MessageID, "err", err)
			failed = append(failed, rec.MessageID)
			if rec.GroupID != "" {
				failedGroups[rec.GroupID] = true
			}
		}
	}
	return failed
}

func (d *InboundDispatcher) processRecord(ctx context.Context, rec Record) error {
	var ev domain.InboundEvent
	if err := json.Unmarshal([]byte(rec.Body), &ev); err != nil {
		slog.ErrorContext(ctx, "dropping malformed inbound record", "message_id", rec.MessageID, "err", err)
		return nil
	}
	if err := validate.Struct(ev); err != nil {
		slog.ErrorContext(ctx, "dropping invalid inbound record", "message_id", rec.MessageID, "err", err)
		return nil
	}
	if ev.DedupID() == "" {
		slog.ErrorContext(ctx, "dropping inbound record without event id", "message_id", rec.MessageID, "tenant", ev.TenantID)
		return nil
	}

	if err := d.checkIntegrity(rec, ev); err != nil {
		return usecaseSecurity(err)
	}

	eventKey := "in#" + ev.TenantID + "#" + ev.DedupID()
	convKey := "in#" + ev.TenantID + "#" + ev.ConversationID + "#" + ev.DedupID()
	claimed, err := d.claimBoth(ctx, eventKey, convKey)
	if err != nil {
		return err
	}
	if !claimed {
		slog.InfoContext(ctx, "duplicate inbound event skipped", "tenant", ev.TenantID, "event_id", ev.DedupID(), "message_id", rec.MessageID)
		return nil
	}

	actions, err := d.turnActions(ctx, ev)
	if err != nil {
		if code, ok := usecase.CodeOf(err); ok && code == usecase.ErrorInvalidInput {
			slog.ErrorContext(ctx, "dropping unroutable inbound event", "tenant", ev.TenantID, "event_id", ev.DedupID(), "err", err)
			return nil
		}
		d.release(ctx, eventKey, convKey)
		return fmt.Errorf("dispatch: route %s: %w", ev.DedupID(), err)
	}

	// The claims are released so the record can be redelivered; the turn is
	// already in the outbox and is published again, not routed again.
	if err := d.publisher.PublishOutbound(ctx, envelopes(ev.DedupID(), actions)); err != nil {
		d.release(ctx, eventKey, convKey)
		return fmt.Errorf("dispatch: publish actions for %s: %w", ev.DedupID(), err)
	}
	slog.InfoContext(ctx, "inbound event processed", "tenant", ev.TenantID, "event_id", ev.DedupID(), "message_id", rec.MessageID, "actions", len(actions))
	return nil
}

// turnActions returns the actions of the turn committed for ev, routing the
// event only when no turn was committed yet.
func (d *InboundDispatcher) turnActions(ctx context.Context, ev domain.InboundEvent) ([]domain.Action, error) {
	actions, committed, err := d.claims.GetOutbox(ctx, ev.ConversationID, ev.DedupID())
	if err != nil {
		return nil, fmt.Errorf("load outbox: %w", err)
	}
	if committed {
		slog.InfoContext(ctx, "republishing committed turn", "tenant", ev.TenantID, "event_id", ev.DedupID(), "actions", len(actions))
		return actions, nil
	}
	return d.router.Route(ctx, domain.Message{
		EventID:        ev.DedupID(),
		TenantID:       ev.TenantID,
		Channel:        ev.Channel,
		UserID:         ev.ChannelUserID,
		ConversationID: ev.ConversationID,
		Body:           ev.Body,
		ReceivedAt:     time.Unix(ev.Timestamp, 0),
	})
}

// checkIntegrity rejects records whose FIFO group or conversation id does not
// belong to the user they carry.
func (d *InboundDispatcher) checkIntegrity(rec Record, ev domain.InboundEvent) error {
	if rec.GroupID != "" && rec.GroupID != ev.ConversationID {
		return errors.New("message group does not match conversation id")
	}
	if d.ids.ConversationID(ev.TenantID, ev.Channel, ev.ChannelUserID) != ev.ConversationID {
		return errors.New("conversation id does not match channel user")
	}
	return nil
}

// claimBoth claims the event key and the conversation-scoped replay marker.
// It reports false when either was already taken.
func (d *InboundDispatcher) claimBoth(ctx context.Context, eventKey, convKey string) (bool, error) {
	if err := d.claims.Claim(ctx, eventKey, d.claimTTL); err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			return false, nil
		}
		return false, fmt.Errorf("dispatch: claim event: %w", err)
	}
	if err := d.claims.Claim(ctx, convKey, d.claimTTL); err != nil {
		if errors.Is(err, domain.ErrAlreadyClaimed) {
			return false, nil
		}
		d.release(ctx, eventKey)
		return false, fmt.Errorf("dispatch: claim conversation marker: %w", err)
	}
	return true, nil
}

func (d *InboundDispatcher) release(ctx context.Context, keys ...string) {
	for _, k := range keys {
		if err := d.claims.Release(ctx, k); err != nil {
			slog.WarnContext(ctx, "release claim failed", "key", k, "err", err)
		}
	}
}

// envelopes wraps actions for the outbound queue and keys every action the
// router left unkeyed by its position in the turn.
func envelopes(eventID string, actions []domain.Action) []domain.OutboundEnvelope {
	out := make([]domain.OutboundEnvelope, 0, len(actions))
	for i, a := range actions {
		if a.IdempotencyKey == "" {
			a.IdempotencyKey = OutboundKey(eventID, i)
		}
		out = append(out, domain.OutboundEnvelope{EventID: eventID, Position: i, Action: a})
	}
	return out
}

func usecaseSecurity(err error) error {
	return &usecase.Error{Code: usecase.ErrorSecurityViolation, Reason: "integrity_check_failed", Err: err}
}
