package handler

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	twclient "github.com/twilio/twilio-go/client"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/integrations/paramstore"
	"studio-assistant/internal/ratelimit"
	"studio-assistant/internal/tenant"
	"studio-assistant/internal/usecase"
)

const (
	twilioSignatureHeader = "X-Twilio-Signature"
	webSecretHeader       = "X-Webhook-Secret"
	emptyTwiML            = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// eventNamespace scopes event ids derived from provider message ids, so a
// provider retry of one message maps to the same event.
var eventNamespace = uuid.MustParse("c3d1e7a2-6f48-4b9e-a05d-7e2b91f4c836")

var validate = validator.New()

type tenantConfigs interface {
	Get(ctx context.Context, tenantID string) (tenant.Config, error)
}

type spamGuard interface {
	Admit(ctx context.Context, tenantID, phoneKey string, limits tenant.SpamConfig) (ratelimit.Decision, error)
}

type inboundPublisher interface {
	PublishInbound(ctx context.Context, ev domain.InboundEvent) error
}

type identities interface {
	ConversationID(tenantID string, channel domain.Channel, userID string) string
	PhoneKey(tenantID, phone string) string
}

// SignatureValidator checks a Twilio request signature.
type SignatureValidator func(authToken, url string, params map[string]string, signature string) bool

func twilioSignature(authToken, url string, params map[string]string, signature string) bool {
	v := twclient.NewRequestValidator(authToken)
	return v.Validate(url, params, signature)
}

// WebhookDeps are the collaborators of a WebhookHandler.
type WebhookDeps struct {
	Tenants   tenantConfigs
	Params    paramstore.Getter
	Spam      spamGuard
	Publisher inboundPublisher
	IDs       identities
	// PublicBaseURL is the externally visible origin Twilio signs against.
	PublicBaseURL string
	Signatures    SignatureValidator
	Now           func() time.Time
}

// WebhookHandler accepts channel webhooks on POST /webhook/{tenant}/{channel},
// authenticates them, applies the spam guard and enqueues admitted messages.
type WebhookHandler struct {
	tenants    tenantConfigs
	params     paramstore.Getter
	spam       spamGuard
	publisher  inboundPublisher
	ids        identities
	baseURL    string
	signatures SignatureValidator
	now        func() time.Time
}

func NewWebhookHandler(d WebhookDeps) (*WebhookHandler, error) {
	switch {
	case d.Tenants == nil:
		return nil, errors.New("handler: tenant configs must not be nil")
	case d.Params == nil:
		return nil, errors.New("handler: params must not be nil")
	case d.Spam == nil:
		return nil, errors.New("handler: spam guard must not be nil")
	case d.Publisher == nil:
		return nil, errors.New("handler: publisher must not be nil")
	case d.IDs == nil:
		return nil, errors.New("handler: identities must not be nil")
	case strings.TrimSpace(d.PublicBaseURL) == "":
		return nil, errors.New("handler: public base url must not be empty")
	}
	h := &WebhookHandler{
		tenants:    d.Tenants,
		params:     d.Params,
		spam:       d.Spam,
		publisher:  d.Publisher,
		ids:        d.IDs,
		baseURL:    strings.TrimRight(d.PublicBaseURL, "/"),
		signatures: d.Signatures,
		now:        d.Now,
	}
	if h.signatures == nil {
		h.signatures = twilioSignature
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h, nil
}

// incoming is a channel message after authentication.
type incoming struct {
	messageID string
	userID    string
	body      string
}

type webPayload struct {
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id" validate:"required,max=256"`
	Text      string `json:"text" validate:"max=4096"`
}

func (h *WebhookHandler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)

	tenantID := req.PathParameters["tenant"]
	ch := domain.Channel(req.PathParameters["channel"])
	if !tenant.ValidID(tenantID) || !knownChannel(ch) {
		return errorResult(ctx, corrID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "unknown_route"}), nil
	}
	body := req.Body
	if req.IsBase64Encoded {
		raw, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return errorResult(ctx, corrID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body_encoding", Err: err}), nil
		}
		body = string(raw)
	}

	cfg, err := h.tenants.Get(ctx, tenantID)
	if err != nil {
		return errorResult(ctx, corrID, &usecase.Error{Code: usecase.ErrorInternal, Reason: "tenant_config_error", Err: err}), nil
	}

	var in incoming
	switch ch {
	case domain.ChannelSMS, domain.ChannelWhatsApp:
		in, err = h.fromTwilio(ctx, req, cfg, ch, body)
	default:
		in, err = h.fromWeb(ctx, req, cfg, body)
	}
	if err != nil {
		return errorResult(ctx, corrID, err), nil
	}
	twilio := ch == domain.ChannelSMS || ch == domain.ChannelWhatsApp

	decision, err := h.spam.Admit(ctx, tenantID, h.ids.PhoneKey(tenantID, in.userID), cfg.Spam)
	if err != nil {
		return errorResult(ctx, corrID, &usecase.Error{Code: usecase.ErrorInternal, Reason: "spam_guard_error", Err: err}), nil
	}
	if !decision.Admitted {
		// 200 so the provider does not retry a rejected message.
		slog.WarnContext(ctx, "inbound message rejected by spam guard",
			"tenant", tenantID, "correlation_id", corrID, "reason", decision.Reason, "blocked_until", decision.BlockedUntil)
		return accepted(twilio, corrID, ""), nil
	}

	ev := domain.InboundEvent{
		EventID:          eventID(tenantID, ch, in.messageID),
		ChannelMessageID: in.messageID,
		TenantID:         tenantID,
		Channel:          ch,
		ChannelUserID:    in.userID,
		ConversationID:   h.ids.ConversationID(tenantID, ch, in.userID),
		Body:             in.body,
		Timestamp:        h.now().Unix(),
	}
	if err := h.publisher.PublishInbound(ctx, ev); err != nil {
		return errorResult(ctx, corrID, &usecase.Error{Code: usecase.ErrorInternal, Reason: "enqueue_error", Err: err}), nil
	}
	return accepted(twilio, corrID, ev.EventID), nil
}

func (h *WebhookHandler) fromTwilio(ctx context.Context, req events.APIGatewayProxyRequest, cfg tenant.Config, ch domain.Channel, body string) (incoming, error) {
	chCfg, ok := cfg.Channel(ch)
	if !ok || chCfg.Provider != "twilio" {
		return incoming{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "channel_not_configured"}
	}
	token, err := paramstore.Token(ctx, h.params, chCfg.AuthTokenParam)
	if err != nil {
		return incoming{}, &usecase.Error{Code: usecase.ErrorInternal, Reason: "twilio_token_error", Err: err}
	}
	form, err := url.ParseQuery(body)
	if err != nil {
		return incoming{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_form", Err: err}
	}
	params := make(map[string]string, len(form))
	for k := range form {
		params[k] = form.Get(k)
	}
	if !h.signatures(token, h.baseURL+req.Path, params, header(req.Headers, twilioSignatureHeader)) {
		return incoming{}, &usecase.Error{Code: usecase.ErrorSecurityViolation, Reason: "invalid_signature"}
	}

	phone, err := normalizePhone(strings.TrimPrefix(form.Get("From"), "whatsapp:"))
	if err != nil {
		return incoming{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_sender", Err: err}
	}
	return incoming{messageID: form.Get("MessageSid"), userID: phone, body: form.Get("Body")}, nil
}

func (h *WebhookHandler) fromWeb(ctx context.Context, req events.APIGatewayProxyRequest, cfg tenant.Config, body string) (incoming, error) {
	if cfg.WebhookSecretParam == "" {
		return incoming{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "channel_not_configured"}
	}
	secret, err := paramstore.Token(ctx, h.params, cfg.WebhookSecretParam)
	if err != nil {
		return incoming{}, &usecase.Error{Code: usecase.ErrorInternal, Reason: "webhook_secret_error", Err: err}
	}
	got := header(req.Headers, webSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		return incoming{}, &usecase.Error{Code: usecase.ErrorSecurityViolation, Reason: "invalid_secret"}
	}

	var p webPayload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return incoming{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
	}
	if err := validate.Struct(p); err != nil {
		return incoming{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err}
	}
	return incoming{messageID: p.MessageID, userID: strings.TrimSpace(p.UserID), body: p.Text}, nil
}

func knownChannel(ch domain.Channel) bool {
	switch ch {
	case domain.ChannelWhatsApp, domain.ChannelSMS, domain.ChannelWeb, domain.ChannelMatrix:
		return true
	}
	return false
}

// normalizePhone returns the E.164 form of an international number.
func normalizePhone(raw string) (string, error) {
	num, err := phonenumbers.Parse(strings.TrimSpace(raw), "")
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", errors.New("not a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

func eventID(tenantID string, ch domain.Channel, messageID string) string {
	if messageID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(eventNamespace, []byte(tenantID+"|"+string(ch)+"|"+messageID)).String()
}

func accepted(twilio bool, corrID, eventID string) events.APIGatewayProxyResponse {
	if twilio {
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusOK,
			Headers:    map[string]string{"Content-Type": "text/xml", correlationHeader: corrID},
			Body:       emptyTwiML,
		}
	}
	return jsonResponse(http.StatusOK, corrID, map[string]string{"status": "accepted", "event_id": eventID})
}
