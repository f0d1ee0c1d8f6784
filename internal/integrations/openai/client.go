package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/integrations/paramstore"
	"studio-assistant/internal/retry"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	// tokenParameter is resolved under the parameter store prefix.
	tokenParameter = "open-ai-token"
)

// Schema is a named JSON schema the model output must follow.
type Schema struct {
	Name string
	Body json.RawMessage
}

// Client wraps the go-openai client. The API token is read from SSM on first
// use and kept for the lifetime of the process.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getter     paramstore.Getter
	policy     retry.Policy

	mu  sync.Mutex
	api *goopenai.Client
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) {
		c.policy = p
	}
}

// NewClient creates a Client that resolves its token from the open-ai-token
// parameter.
func NewClient(ps paramstore.Getter, opts ...Option) (*Client, error) {
	if ps == nil {
		return nil, errors.New("openai: paramstore getter must not be nil")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		getter:     ps,
		policy:     retry.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// resolveAPI builds the go-openai client on first use. Failures are not
// cached, so a transient SSM error does not poison the process.
func (c *Client) resolveAPI(ctx context.Context) (*goopenai.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.api != nil {
		return c.api, nil
	}
	token, err := paramstore.Token(ctx, c.getter, tokenParameter)
	if err != nil {
		return nil, fmt.Errorf("openai: fetch token: %w", err)
	}
	cfg := goopenai.DefaultConfig(token)
	if base := strings.TrimRight(c.baseURL, "/"); base != "" {
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		cfg.BaseURL = base
	}
	if c.httpClient != nil {
		cfg.HTTPClient = c.httpClient
	}
	c.api = goopenai.NewClientWithConfig(cfg)
	return c.api, nil
}

// Chat runs a chat completion constrained to schema and returns the raw
// content of the first choice.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage, schema Schema) (string, error) {
	if model == "" {
		return "", errors.New("openai: model must not be empty")
	}
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return "", err
	}

	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: toProviderMessages(messages),
	}
	if len(schema.Body) > 0 {
		req.ResponseFormat = &goopenai.ChatCompletionResponseFormat{
			Type: goopenai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &goopenai.ChatCompletionResponseFormatJSONSchema{
				Name:   schema.Name,
				Schema: schema.Body,
				Strict: true,
			},
		}
	}

	return retry.Do(ctx, c.policy, "openai: chat", func(ctx context.Context) (string, error) {
		resp, err := api.CreateChatCompletion(ctx, req)
		if err != nil {
			return "", statusError(err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("openai: no choices in response")
		}
		return resp.Choices[0].Message.Content, nil
	})
}

// Moderate reports whether input is flagged by the moderation endpoint.
func (c *Client) Moderate(ctx context.Context, input string) (bool, error) {
	api, err := c.resolveAPI(ctx)
	if err != nil {
		return false, err
	}
	return retry.Do(ctx, c.policy, "openai: moderate", func(ctx context.Context) (bool, error) {
		resp, err := api.Moderations(ctx, goopenai.ModerationRequest{Input: input})
		if err != nil {
			return false, statusError(err)
		}
		if len(resp.Results) == 0 {
			return false, errors.New("openai: no results in moderation response")
		}
		return resp.Results[0].Flagged, nil
	})
}

func toProviderMessages(messages []domain.ChatMessage) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, goopenai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// statusError converts go-openai errors into retry.StatusError so the retry
// package can tell 429/5xx from terminal 4xx responses.
func statusError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &retry.StatusError{StatusCode: apiErr.HTTPStatusCode, URL: "openai", Body: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &retry.StatusError{StatusCode: reqErr.HTTPStatusCode, URL: "openai", Body: body}
	}
	return err
}
