package tenant

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"studio-assistant/internal/domain"
)

// Config is one tenant's document, stored as YAML in Parameter Store.
type Config struct {
	TenantID        string `yaml:"-"`
	Name            string `yaml:"name"`
	DefaultLanguage string `yaml:"default_language" validate:"oneof=pl en"`
	Timezone        string `yaml:"timezone"`

	Words        Words              `yaml:"words"`
	Classifier   ClassifierConfig   `yaml:"classifier"`
	Verification VerificationConfig `yaml:"verification"`
	Spam         SpamConfig         `yaml:"spam"`
	Outbound     OutboundConfig     `yaml:"outbound"`

	FAQSessionTimeout time.Duration `yaml:"faq_session_timeout" validate:"gte=0"`
	PendingTTL        time.Duration `yaml:"pending_ttl" validate:"gt=0"`
	MaxClassOptions   int           `yaml:"max_class_options" validate:"gte=1,lte=9"`

	// Channels maps a channel name to the transport serving it.
	Channels map[string]ChannelConfig `yaml:"channels" validate:"dive"`

	// WebLinkTemplate renders the cross-channel link; {code} is replaced.
	WebLinkTemplate string `yaml:"web_link_template"`
	// WebhookSecretParam names the parameter holding the web widget secret.
	WebhookSecretParam string `yaml:"webhook_secret_param"`
}

// Words are the tenant's keyword sets, matched case-insensitively.
type Words struct {
	Affirmative []string `yaml:"affirmative"`
	Negative    []string `yaml:"negative"`
	Stop        []string `yaml:"stop"`
	Start       []string `yaml:"start"`
}

type ClassifierConfig struct {
	MinConfidence      float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	FollowUpConfidence float64 `yaml:"follow_up_confidence" validate:"gte=0,lte=1"`
}

type VerificationConfig struct {
	OTPTTL         time.Duration `yaml:"otp_ttl" validate:"gt=0"`
	MaxAttempts    int           `yaml:"max_attempts" validate:"gte=1"`
	ResendCooldown time.Duration `yaml:"resend_cooldown" validate:"gte=0"`
	Lockout        time.Duration `yaml:"lockout" validate:"gt=0"`
	VerifiedFor    time.Duration `yaml:"verified_for" validate:"gt=0"`
	LinkTTL        time.Duration `yaml:"link_ttl" validate:"gt=0"`
}

// SpamConfig bounds inbound traffic per phone and per tenant in fixed buckets.
type SpamConfig struct {
	Bucket        time.Duration `yaml:"bucket" validate:"gt=0"`
	PerPhone      int64         `yaml:"per_phone" validate:"gt=0"`
	PerTenant     int64         `yaml:"per_tenant" validate:"gt=0"`
	BlockDuration time.Duration `yaml:"block_duration" validate:"gt=0"`
}

// OutboundConfig sizes the per-tenant outbound token bucket.
type OutboundConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" validate:"gt=0"`
	Burst         int     `yaml:"burst" validate:"gte=1"`
}

// ChannelConfig selects a transport provider for one channel. Secrets are
// referenced by parameter name, never inlined.
type ChannelConfig struct {
	Provider string `yaml:"provider" validate:"required,oneof=twilio matrix webhook"`

	// twilio
	AccountSID     string `yaml:"account_sid"`
	AuthTokenParam string `yaml:"auth_token_param"`
	From           string `yaml:"from"`

	// matrix
	HomeserverURL    string `yaml:"homeserver_url"`
	UserID           string `yaml:"user_id"`
	AccessTokenParam string `yaml:"access_token_param"`

	// webhook
	URL         string `yaml:"url"`
	SecretParam string `yaml:"secret_param"`
}

// Defaults returns the configuration applied beneath every tenant document.
func Defaults() Config {
	return Config{
		DefaultLanguage: "pl",
		Timezone:        "Europe/Warsaw",
		Words: Words{
			Affirmative: []string{"tak", "yes", "ok", "okej", "potwierdzam", "confirm", "y", "t", "jasne", "sure"},
			Negative:    []string{"nie", "no", "not", "anuluj", "cancel"},
			Stop:        []string{"stop", "unsubscribe", "wypisz"},
			Start:       []string{"start", "subscribe", "zapisz"},
		},
		Classifier: ClassifierConfig{
			MinConfidence:      0.5,
			FollowUpConfidence: 0.75,
		},
		Verification: VerificationConfig{
			OTPTTL:         10 * time.Minute,
			MaxAttempts:    3,
			ResendCooldown: time.Minute,
			Lockout:        30 * time.Minute,
			VerifiedFor:    30 * time.Minute,
			LinkTTL:        15 * time.Minute,
		},
		Spam: SpamConfig{
			Bucket:        time.Minute,
			PerPhone:      20,
			PerTenant:     600,
			BlockDuration: 15 * time.Minute,
		},
		Outbound: OutboundConfig{
			RatePerSecond: 5,
			Burst:         10,
		},
		FAQSessionTimeout: 10 * time.Minute,
		PendingTTL:        15 * time.Minute,
		MaxClassOptions:   5,
	}
}

var validate = validator.New()

// Parse decodes a tenant YAML document on top of Defaults and validates it.
func Parse(tenantID string, doc []byte) (Config, error) {
	if strings.TrimSpace(tenantID) == "" {
		return Config{}, errors.New("tenant: tenant id must not be empty")
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(doc, &cfg); err != nil {
		return Config{}, fmt.Errorf("tenant: decode %q: %w", tenantID, err)
	}
	cfg.TenantID = tenantID
	cfg.DefaultLanguage = strings.ToLower(strings.TrimSpace(cfg.DefaultLanguage))
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("tenant: invalid config %q: %w", tenantID, err)
	}
	return cfg, nil
}

// Channel returns the transport config for ch.
func (c Config) Channel(ch domain.Channel) (ChannelConfig, bool) {
	cc, ok := c.Channels[string(ch)]
	return cc, ok
}

// Location returns the tenant's time zone, falling back to UTC.
func (c Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
