package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/integrations/channel"
	"studio-assistant/internal/retry"
	"studio-assistant/internal/tenant"
)

type senders interface {
	Sender(ctx context.Context, tenantID string, ch domain.Channel) (channel.Sender, error)
}

type ticketer interface {
	CreateTicket(ctx context.Context, tenantID string, ch domain.Channel, t domain.Ticket, idempotencyKey string) (string, error)
}

type conversations interface {
	GetConversation(ctx context.Context, conversationID string) (domain.Conversation, bool, error)
}

type tenantConfigs interface {
	Get(ctx context.Context, tenantID string) (tenant.Config, error)
}

type buckets interface {
	Allow(key string, perSecond float64, burst int) bool
	Reset()
}

// OutboundDeps are the collaborators of an OutboundDispatcher.
type OutboundDeps struct {
	Claims        claimer
	Senders       senders
	Tickets       ticketer
	Conversations conversations
	Tenants       tenantConfigs
	Buckets       buckets
	Resetters     []Resetter
}

type OutboundDispatcher struct {
	claims    claimer
	senders   senders
	tickets   ticketer
	convs     conversations
	tenants   tenantConfigs
	buckets   buckets
	resetters []Resetter
	claimTTL  time.Duration
}

func NewOutboundDispatcher(d OutboundDeps) (*OutboundDispatcher, error) {
	switch {
	case d.Claims == nil:
		return nil, errors.New("dispatch: claims store must not be nil")
	case d.Senders == nil:
		return nil, errors.New("dispatch: sender registry must not be nil")
	case d.Tickets == nil:
		return nil, errors.New("dispatch: ticketing must not be nil")
	case d.Conversations == nil:
		return nil, errors.New("dispatch: conversations must not be nil")
	case d.Tenants == nil:
		return nil, errors.New("dispatch: tenant configs must not be nil")
	case d.Buckets == nil:
		return nil, errors.New("dispatch: buckets must not be nil")
	}
	return &OutboundDispatcher{
		claims:    d.Claims,
		senders:   d.Senders,
		tickets:   d.Tickets,
		convs:     d.Conversations,
		tenants:   d.Tenants,
		buckets:   d.Buckets,
		resetters: d.Resetters,
		claimTTL:  defaultClaimTTL,
	}, nil
}

// Process executes each envelope at most once and returns the message ids
// that should be redelivered.
func (d *OutboundDispatcher) Process(ctx context.Context, records []Record) []string {
	d.buckets.Reset()
	for _, r := range d.resetters {
		r.Reset()
	}

	var failed []string
	for _, rec := range records {
		if err := d.processRecord(ctx, rec); err != nil {
			slog.ErrorContext(ctx, "outbound record failed", "message_id", rec.MessageID, "err", err)
			failed = append(failed, rec.MessageID)
		}
	}
	return failed
}

func (d *OutboundDispatcher) processRecord(ctx context.Context, rec Record) error {
	var env domain.OutboundEnvelope
	if err := json.Unmarshal([]byte(rec.Body), &env); err != nil {
		slog.ErrorContext(ctx, "dropping malformed outbound record", "message_id", rec.MessageID, "err", err)
		return nil
	}
	a := env.Action
	if err := validate.Struct(a); err != nil {
		slog.ErrorContext(ctx, "dropping invalid outbound action", "message_id", rec.MessageID, "err", err)
		return nil
	}
	if a.Kind == domain.ActionCreateTicket && a.Ticket == nil {
		slog.ErrorContext(ctx, "dropping ticket action without ticket", "message_id", rec.MessageID, "tenant", a.TenantID)
		return nil
	}

	key := a.IdempotencyKey
	if key == "" && env.EventID != "" {
		key = OutboundKey(env.EventID, env.Position)
		slog.WarnContext(ctx, "action without idempotency key, derived from event", "tenant", a.TenantID, "event_id", env.EventID, "position", env.Position)
	}
	if key == "" {
		slog.WarnContext(ctx, "action without idempotency key, duplicate delivery possible", "tenant", a.TenantID, "message_id", rec.MessageID)
	}

	if a.Campaign {
		optedOut, err := d.optedOut(ctx, a.ConversationID)
		if err != nil {
			return err
		}
		if optedOut {
			slog.InfoContext(ctx, "campaign message suppressed by opt-out", "tenant", a.TenantID, "event_id", env.EventID)
			return nil
		}
	}

	cfg, err := d.tenants.Get(ctx, a.TenantID)
	if err != nil {
		return fmt.Errorf("dispatch: tenant config: %w", err)
	}
	if !d.buckets.Allow(a.TenantID, cfg.Outbound.RatePerSecond, cfg.Outbound.Burst) {
		slog.WarnContext(ctx, "outbound rate limited, deferring", "tenant", a.TenantID, "event_id", env.EventID)
		return errors.New("dispatch: outbound rate limited")
	}

	claimKey := ""
	if key != "" {
		claimKey = "out#" + a.TenantID + "#" + key
		if err := d.claims.Claim(ctx, claimKey, d.claimTTL); err != nil {
			if errors.Is(err, domain.ErrAlreadyClaimed) {
				slog.InfoContext(ctx, "duplicate outbound action skipped", "tenant", a.TenantID, "event_id", env.EventID, "position", env.Position)
				return nil
			}
			return fmt.Errorf("dispatch: claim action: %w", err)
		}
	}

	if err := d.execute(ctx, a, key); err != nil {
		if !retry.IsRetryable(err) {
			slog.ErrorContext(ctx, "outbound action failed permanently", "tenant", a.TenantID, "event_id", env.EventID, "kind", a.Kind, "err", err)
			return nil
		}
		if claimKey != "" {
			if rerr := d.claims.Release(ctx, claimKey); rerr != nil {
				slog.WarnContext(ctx, "release claim failed", "key", claimKey, "err", rerr)
			}
		}
		return fmt.Errorf("dispatch: %s action: %w", a.Kind, err)
	}
	slog.InfoContext(ctx, "outbound action delivered", "tenant", a.TenantID, "event_id", env.EventID, "kind", a.Kind, "channel", a.Channel)
	return nil
}

func (d *OutboundDispatcher) optedOut(ctx context.Context, conversationID string) (bool, error) {
	if conversationID == "" {
		return false, nil
	}
	conv, found, err := d.convs.GetConversation(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("dispatch: load conversation for consent: %w", err)
	}
	return found && conv.OptOut, nil
}

func (d *OutboundDispatcher) execute(ctx context.Context, a domain.Action, key string) error {
	switch a.Kind {
	case domain.ActionReply:
		s, err := d.senders.Sender(ctx, a.TenantID, a.Channel)
		if err != nil {
			return err
		}
		return s.SendText(ctx, a.To, a.Body)
	case domain.ActionCreateTicket:
		id, err := d.tickets.CreateTicket(ctx, a.TenantID, a.Channel, *a.Ticket, key)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "ticket created", "tenant", a.TenantID, "ticket_id", id)
		return nil
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}
