// Package channel delivers text replies over the messaging transport a tenant
// configured for each channel.
package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"

	"studio-assistant/internal/integrations/rest"
	"studio-assistant/internal/retry"
)

// Sender sends one text message to a channel user.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
}

type twilioMessages interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

// TwilioSender covers SMS and WhatsApp. WhatsApp addresses carry the
// "whatsapp:" prefix on both ends.
type TwilioSender struct {
	api      twilioMessages
	from     string
	whatsapp bool
	policy   retry.Policy
}

func NewTwilioSender(accountSID, authToken, from string, whatsapp bool) (*TwilioSender, error) {
	if accountSID == "" || authToken == "" {
		return nil, errors.New("channel: twilio credentials must not be empty")
	}
	c := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioSender(c.Api, from, whatsapp)
}

func newTwilioSender(msgs twilioMessages, from string, whatsapp bool) (*TwilioSender, error) {
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("channel: twilio sender number must not be empty")
	}
	return &TwilioSender{api: msgs, from: from, whatsapp: whatsapp, policy: retry.DefaultPolicy}, nil
}

func (s *TwilioSender) address(number string) string {
	if s.whatsapp && !strings.HasPrefix(number, "whatsapp:") {
		return "whatsapp:" + number
	}
	return number
}

func (s *TwilioSender) SendText(ctx context.Context, to, body string) error {
	params := &api.CreateMessageParams{}
	params.SetBody(body)
	params.SetFrom(s.address(s.from))
	params.SetTo(s.address(to))

	_, err := retry.Do(ctx, s.policy, "channel: twilio send", func(context.Context) (struct{}, error) {
		_, err := s.api.CreateMessage(params)
		return struct{}{}, twilioStatus(err)
	})
	return err
}

func twilioStatus(err error) error {
	var twErr *twclient.TwilioRestError
	if errors.As(err, &twErr) && twErr.Status != 0 {
		return &retry.StatusError{StatusCode: twErr.Status, URL: "twilio", Body: fmt.Sprintf("%d %s", twErr.Code, twErr.Message)}
	}
	return err
}

type matrixAPI interface {
	SendText(ctx context.Context, roomID id.RoomID, text string) (*mautrix.RespSendEvent, error)
}

// MatrixSender posts into the user's direct room; the channel user id is the
// room id.
type MatrixSender struct {
	api    matrixAPI
	policy retry.Policy
}

func NewMatrixSender(homeserverURL, userID, accessToken string) (*MatrixSender, error) {
	mxc, err := mautrix.NewClient(homeserverURL, id.UserID(userID), accessToken)
	if err != nil {
		return nil, fmt.Errorf("channel: create matrix client: %w", err)
	}
	return &MatrixSender{api: mxc, policy: retry.DefaultPolicy}, nil
}

func (s *MatrixSender) SendText(ctx context.Context, to, body string) error {
	_, err := retry.Do(ctx, s.policy, "channel: matrix send", func(ctx context.Context) (struct{}, error) {
		_, err := s.api.SendText(ctx, id.RoomID(to), body)
		return struct{}{}, matrixStatus(err)
	})
	return err
}

func matrixStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mautrix.MLimitExceeded):
		return &retry.StatusError{StatusCode: 429, URL: "matrix", Body: err.Error()}
	case errors.Is(err, mautrix.MForbidden), errors.Is(err, mautrix.MUnknownToken), errors.Is(err, mautrix.MNotFound):
		return &retry.StatusError{StatusCode: 403, URL: "matrix", Body: err.Error()}
	default:
		return err
	}
}

type doer interface {
	Do(ctx context.Context, req rest.Request) error
}

// WebhookSender pushes replies to the tenant's web widget backend.
type WebhookSender struct {
	api doer
}

func NewWebhookSender(api doer) (*WebhookSender, error) {
	if api == nil {
		return nil, errors.New("channel: webhook api must not be nil")
	}
	return &WebhookSender{api: api}, nil
}

func (s *WebhookSender) SendText(ctx context.Context, to, body string) error {
	err := s.api.Do(ctx, rest.Request{
		Method: "POST",
		Path:   "/messages",
		Body:   map[string]string{"to": to, "text": body},
	})
	if err != nil {
		return fmt.Errorf("channel: webhook send: %w", err)
	}
	return nil
}
