// Package rest is the JSON-over-HTTP client shared by the CRM, ticketing and
// web-channel integrations.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"studio-assistant/internal/integrations/paramstore"
	"studio-assistant/internal/retry"
)

// TokenSource returns the bearer token for a request.
type TokenSource func(ctx context.Context) (string, error)

// ParamToken reads the token from SSM once and reuses it. Failed reads are
// retried on the next call.
func ParamToken(g paramstore.Getter, name string) TokenSource {
	var (
		mu    sync.Mutex
		token string
	)
	return func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if token != "" {
			return token, nil
		}
		t, err := paramstore.Token(ctx, g, name)
		if err != nil {
			return "", err
		}
		token = t
		return token, nil
	}
}

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func(context.Context) (string, error) { return token, nil }
}

type Client struct {
	name       string
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	policy     retry.Policy
}

type Option func(*Client)

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

// New creates a client for baseURL. name prefixes errors and log lines.
func New(name, baseURL string, token TokenSource, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%s: base url must not be empty", name)
	}
	if token == nil {
		return nil, fmt.Errorf("%s: token source must not be nil", name)
	}
	c := &Client{
		name:       name,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		token:      token,
		policy:     retry.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request describes one call. Body and Out are JSON encoded and decoded when
// set.
type Request struct {
	Method         string
	Path           string
	Query          map[string]string
	Body           any
	IdempotencyKey string
	Out            any
}

// Do executes req with retries. Non-2xx responses surface as
// *retry.StatusError so callers can branch on the status code.
func (c *Client) Do(ctx context.Context, req Request) error {
	var payload []byte
	if req.Body != nil {
		b, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.name, err)
		}
		payload = b
	}
	token, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("%s: resolve token: %w", c.name, err)
	}

	_, err = retry.Do(ctx, c.policy, c.name+": "+req.Method+" "+req.Path, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.once(ctx, req, payload, token)
	})
	return err
}

func (c *Client) once(ctx context.Context, req Request, payload []byte, token string) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	url := c.baseURL + req.Path
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, url, body)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", c.name, err)
	}
	if len(req.Query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.Query {
			if v != "" {
				q.Set(k, v)
			}
		}
		httpReq.URL.RawQuery = q.Encode()
	}
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if req.IdempotencyKey != "" {
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
	}

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return &retry.StatusError{StatusCode: res.StatusCode, URL: url, Body: string(buf)}
	}
	if req.Out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return nil
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%s: read response body: %w", c.name, err)
	}
	if err := json.Unmarshal(buf, req.Out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}

// IsStatus reports whether err carries one of the given HTTP statuses.
func IsStatus(err error, codes ...int) bool {
	status, ok := retry.StatusCode(err)
	if !ok {
		return false
	}
	for _, c := range codes {
		if status == c {
			return true
		}
	}
	return false
}

// ErrorBody returns the response body of a status error, if any.
func ErrorBody(err error) string {
	var se *retry.StatusError
	if errors.As(err, &se) {
		return se.Body
	}
	return ""
}
