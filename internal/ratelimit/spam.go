package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studio-assistant/internal/tenant"
)

// Rejection reasons reported by SpamGuard.
const (
	ReasonBlocked     = "blocked"
	ReasonPhoneLimit  = "phone_limit"
	ReasonTenantLimit = "tenant_limit"
)

type spamStore interface {
	IncrementSpamCounter(ctx context.Context, scope string, bucket int64, ttl time.Duration) (int64, error)
	SpamBlockedUntil(ctx context.Context, scope string) (int64, error)
	BlockSpam(ctx context.Context, scope string, until int64) error
}

// Decision is the outcome of SpamGuard.Admit.
type Decision struct {
	Admitted     bool
	Reason       string
	BlockedUntil int64
}

// SpamGuard is the durable inbound limiter. Counters live in the state table
// and survive worker restarts.
type SpamGuard struct {
	store spamStore
	now   func() time.Time
}

func NewSpamGuard(store spamStore) (*SpamGuard, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store must not be nil")
	}
	return &SpamGuard{store: store, now: time.Now}, nil
}

// Admit counts one inbound attempt from phoneKey (already a keyed hash) and
// decides whether it may enter the pipeline. Both counters are incremented
// before the decision, so rejected attempts still consume the bucket.
func (g *SpamGuard) Admit(ctx context.Context, tenantID, phoneKey string, limits tenant.SpamConfig) (Decision, error) {
	if limits.Bucket < time.Second {
		return Decision{}, errors.New("ratelimit: bucket must be at least one second")
	}
	now := g.now()
	bucket := now.Unix() / int64(limits.Bucket/time.Second)
	counterTTL := 2 * limits.Bucket
	phoneScope := tenantID + "#" + phoneKey

	phoneCount, err := g.store.IncrementSpamCounter(ctx, phoneScope, bucket, counterTTL)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: Admit: %w", err)
	}
	tenantCount, err := g.store.IncrementSpamCounter(ctx, tenantID, bucket, counterTTL)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: Admit: %w", err)
	}

	until, err := g.store.SpamBlockedUntil(ctx, phoneScope)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: Admit: %w", err)
	}
	if until > now.Unix() {
		return Decision{Reason: ReasonBlocked, BlockedUntil: until}, nil
	}

	if phoneCount > limits.PerPhone {
		until := now.Add(limits.BlockDuration).Unix()
		if err := g.store.BlockSpam(ctx, phoneScope, until); err != nil {
			return Decision{}, fmt.Errorf("ratelimit: Admit: %w", err)
		}
		return Decision{Reason: ReasonPhoneLimit, BlockedUntil: until}, nil
	}
	if tenantCount > limits.PerTenant {
		return Decision{Reason: ReasonTenantLimit}, nil
	}
	return Decision{Admitted: true}, nil
}
