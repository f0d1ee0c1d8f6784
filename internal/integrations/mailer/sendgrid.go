// Package mailer delivers verification codes by e-mail through SendGrid.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sgrest "github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"studio-assistant/internal/integrations/rest"
	"studio-assistant/internal/retry"
)

const defaultHost = "https://api.sendgrid.com"

type template struct {
	subject string
	body    string
}

var templates = map[string]template{
	"pl": {subject: "Twój kod weryfikacyjny", body: "Twój kod weryfikacyjny to: %s\nKod jest ważny przez kilka minut. Jeśli to nie Ty, zignoruj tę wiadomość."},
	"en": {subject: "Your verification code", body: "Your verification code is: %s\nIt is valid for a few minutes. If you did not ask for it, ignore this message."},
}

// SendGridMailer sends OTP messages. The API key comes from a TokenSource so
// it can live in SSM.
type SendGridMailer struct {
	token    rest.TokenSource
	fromName string
	fromMail string
	host     string
	client   *sgrest.Client
	policy   retry.Policy
}

type Option func(*SendGridMailer)

func WithHost(host string) Option {
	return func(m *SendGridMailer) {
		m.host = strings.TrimRight(host, "/")
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(m *SendGridMailer) {
		m.policy = p
	}
}

func NewSendGridMailer(token rest.TokenSource, fromName, fromMail string, opts ...Option) (*SendGridMailer, error) {
	if token == nil {
		return nil, errors.New("mailer: token source must not be nil")
	}
	if strings.TrimSpace(fromMail) == "" {
		return nil, errors.New("mailer: from address must not be empty")
	}
	m := &SendGridMailer{
		token:    token,
		fromName: fromName,
		fromMail: fromMail,
		host:     defaultHost,
		client:   &sgrest.Client{HTTPClient: &http.Client{Timeout: 10 * time.Second}},
		policy:   retry.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// SendOTP e-mails code to the member in lang, falling back to English.
func (m *SendGridMailer) SendOTP(ctx context.Context, to, code, lang string) error {
	tpl, ok := templates[lang]
	if !ok {
		tpl = templates["en"]
	}
	key, err := m.token(ctx)
	if err != nil {
		return fmt.Errorf("mailer: resolve api key: %w", err)
	}

	message := mail.NewV3MailInit(
		mail.NewEmail(m.fromName, m.fromMail),
		tpl.subject,
		mail.NewEmail("", to),
		mail.NewContent("text/plain", fmt.Sprintf(tpl.body, code)),
	)
	request := sendgrid.GetRequest(key, "/v3/mail/send", m.host)
	request.Method = sgrest.Post
	request.Body = mail.GetRequestBody(message)

	_, err = retry.Do(ctx, m.policy, "mailer: send otp", func(ctx context.Context) (struct{}, error) {
		resp, err := m.client.SendWithContext(ctx, request)
		if err != nil {
			return struct{}{}, err
		}
		if resp.StatusCode >= 300 {
			return struct{}{}, &retry.StatusError{StatusCode: resp.StatusCode, URL: m.host + "/v3/mail/send", Body: resp.Body}
		}
		return struct{}{}, nil
	})
	return err
}
