package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/integrations/paramstore"
	"studio-assistant/internal/integrations/rest"
	"studio-assistant/internal/tenant"
)

type tenantConfigs interface {
	Get(ctx context.Context, tenantID string) (tenant.Config, error)
}

// Factory builds a Sender for one channel configuration.
type Factory func(ctx context.Context, ch domain.Channel, cfg tenant.ChannelConfig) (Sender, error)

type entry struct {
	sender  Sender
	builtAt time.Time
}

// Registry resolves and caches the Sender for each tenant and channel.
type Registry struct {
	tenants tenantConfigs
	build   Factory
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	senders map[string]entry
}

func NewRegistry(tenants tenantConfigs, build Factory, ttl time.Duration) (*Registry, error) {
	if tenants == nil {
		return nil, errors.New("channel: tenant configs must not be nil")
	}
	if build == nil {
		return nil, errors.New("channel: factory must not be nil")
	}
	return &Registry{tenants: tenants, build: build, ttl: ttl, now: time.Now, senders: map[string]entry{}}, nil
}

func (r *Registry) Sender(ctx context.Context, tenantID string, ch domain.Channel) (Sender, error) {
	key := tenantID + "#" + string(ch)
	r.mu.Lock()
	e, ok := r.senders[key]
	r.mu.Unlock()
	if ok && (r.ttl <= 0 || r.now().Sub(e.builtAt) < r.ttl) {
		return e.sender, nil
	}

	cfg, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("channel: tenant config: %w", err)
	}
	chCfg, ok := cfg.Channel(ch)
	if !ok {
		return nil, fmt.Errorf("channel: tenant %q has no transport for %q", tenantID, ch)
	}
	s, err := r.build(ctx, ch, chCfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.senders[key] = entry{sender: s, builtAt: r.now()}
	r.mu.Unlock()
	return s, nil
}

// Reset drops every cached sender.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.senders)
}

// ProviderFactory builds the production transports, reading credentials from
// params.
func ProviderFactory(params paramstore.Getter) Factory {
	return func(ctx context.Context, ch domain.Channel, cfg tenant.ChannelConfig) (Sender, error) {
		switch cfg.Provider {
		case "twilio":
			token, err := paramstore.Token(ctx, params, cfg.AuthTokenParam)
			if err != nil {
				return nil, fmt.Errorf("channel: twilio auth token: %w", err)
			}
			return NewTwilioSender(cfg.AccountSID, token, cfg.From, ch == domain.ChannelWhatsApp)
		case "matrix":
			token, err := paramstore.Token(ctx, params, cfg.AccessTokenParam)
			if err != nil {
				return nil, fmt.Errorf("channel: matrix access token: %w", err)
			}
			return NewMatrixSender(cfg.HomeserverURL, cfg.UserID, token)
		case "webhook":
			api, err := rest.New("webchannel", cfg.URL, rest.ParamToken(params, cfg.SecretParam))
			if err != nil {
				return nil, err
			}
			return NewWebhookSender(api)
		default:
			return nil, fmt.Errorf("channel: unknown provider %q", cfg.Provider)
		}
	}
}
