// Package ticketing opens front-desk tickets in the helpdesk system.
package ticketing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/integrations/rest"
)

type doer interface {
	Do(ctx context.Context, req rest.Request) error
}

type Client struct {
	api doer
}

func New(api doer) (*Client, error) {
	if api == nil {
		return nil, errors.New("ticketing: api must not be nil")
	}
	return &Client{api: api}, nil
}

type ticketRequest struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
	MemberID    string `json:"member_id,omitempty"`
	Contact     string `json:"contact"`
	Channel     string `json:"channel"`
}

// CreateTicket opens a ticket and returns its id. The idempotency key is
// forwarded so a retried outbound record does not open a second ticket.
func (c *Client) CreateTicket(ctx context.Context, tenantID string, channel domain.Channel, t domain.Ticket, idempotencyKey string) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	err := c.api.Do(ctx, rest.Request{
		Method: http.MethodPost,
		Path:   "/tenants/" + url.PathEscape(tenantID) + "/tickets",
		Body: ticketRequest{
			Subject:     t.Subject,
			Description: t.Description,
			MemberID:    t.MemberID,
			Contact:     t.Contact,
			Channel:     string(channel),
		},
		IdempotencyKey: idempotencyKey,
		Out:            &out,
	})
	if err != nil {
		return "", fmt.Errorf("ticketing: create ticket: %w", err)
	}
	return out.ID, nil
}
