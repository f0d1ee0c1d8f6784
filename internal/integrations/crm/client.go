// Package crm talks to the studio management system: member lookup, class
// schedule, reservations, balance, contracts and marketing consent.
package crm

import (
	"context"
	"encoding/json"
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
		return nil, errors.New("crm: api must not be nil")
	}
	return &Client{api: api}, nil
}

func tenantPath(tenantID string, parts ...string) string {
	p := "/tenants/" + url.PathEscape(tenantID)
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

type memberResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
}

func (c *Client) FindMemberByPhone(ctx context.Context, tenantID, phone string) (domain.Member, bool, error) {
	var out memberResponse
	err := c.api.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   tenantPath(tenantID, "members"),
		Query:  map[string]string{"phone": phone},
		Out:    &out,
	})
	if rest.IsStatus(err, http.StatusNotFound) {
		return domain.Member{}, false, nil
	}
	if err != nil {
		return domain.Member{}, false, fmt.Errorf("crm: find member: %w", err)
	}
	if out.ID == "" {
		return domain.Member{}, false, nil
	}
	return domain.Member{ID: out.ID, Email: out.Email, FirstName: out.FirstName}, true, nil
}

func (c *Client) ListClasses(ctx context.Context, tenantID string, filter domain.ClassFilter) ([]domain.ClassOption, error) {
	var out struct {
		Classes []domain.ClassOption `json:"classes"`
	}
	err := c.api.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   tenantPath(tenantID, "classes"),
		Query:  map[string]string{"type": filter.Type, "date": filter.Date, "available": "true"},
		Out:    &out,
	})
	if err != nil {
		return nil, fmt.Errorf("crm: list classes: %w", err)
	}
	return out.Classes, nil
}

type errorResponse struct {
	Code string `json:"code"`
}

// Reserve books classID for memberID. Business rejections come back in the
// result; only transport and unexpected failures are errors.
func (c *Client) Reserve(ctx context.Context, tenantID, classID, memberID, idempotencyKey string) (domain.ReserveResult, error) {
	var out struct {
		ReservationID string `json:"reservation_id"`
	}
	err := c.api.Do(ctx, rest.Request{
		Method:         http.MethodPost,
		Path:           tenantPath(tenantID, "reservations"),
		Body:           map[string]string{"class_id": classID, "member_id": memberID},
		IdempotencyKey: idempotencyKey,
		Out:            &out,
	})
	switch {
	case err == nil:
		return domain.ReserveResult{OK: true, ReservationID: out.ReservationID}, nil
	case rest.IsStatus(err, http.StatusNotFound, http.StatusGone):
		return domain.ReserveResult{Error: domain.ReserveNotFound}, nil
	case rest.IsStatus(err, http.StatusConflict, http.StatusUnprocessableEntity):
		return domain.ReserveResult{Error: mapReserveError(rest.ErrorBody(err))}, nil
	default:
		return domain.ReserveResult{}, fmt.Errorf("crm: reserve: %w", err)
	}
}

func mapReserveError(body string) domain.ReserveErrorCode {
	var e errorResponse
	if err := json.Unmarshal([]byte(body), &e); err != nil {
		return domain.ReserveUnknown
	}
	switch e.Code {
	case "already_booked", "duplicate_reservation":
		return domain.ReserveAlreadyBooked
	case "class_full", "no_spots":
		return domain.ReserveClassFull
	case "not_found", "class_cancelled":
		return domain.ReserveNotFound
	default:
		return domain.ReserveUnknown
	}
}

func (c *Client) Balance(ctx context.Context, tenantID, memberID string) (domain.Balance, error) {
	var out struct {
		Credits    int    `json:"credits"`
		ValidUntil string `json:"valid_until"`
	}
	err := c.api.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   tenantPath(tenantID, "members", memberID, "balance"),
		Out:    &out,
	})
	if err != nil {
		return domain.Balance{}, fmt.Errorf("crm: balance: %w", err)
	}
	return domain.Balance{Credits: out.Credits, ValidUntil: out.ValidUntil}, nil
}

func (c *Client) Contracts(ctx context.Context, tenantID, memberID string) ([]domain.Contract, error) {
	var out struct {
		Contracts []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
			EndsAt string `json:"ends_at"`
		} `json:"contracts"`
	}
	err := c.api.Do(ctx, rest.Request{
		Method: http.MethodGet,
		Path:   tenantPath(tenantID, "members", memberID, "contracts"),
		Out:    &out,
	})
	if err != nil {
		return nil, fmt.Errorf("crm: contracts: %w", err)
	}
	contracts := make([]domain.Contract, 0, len(out.Contracts))
	for _, ct := range out.Contracts {
		contracts = append(contracts, domain.Contract{Name: ct.Name, Status: ct.Status, EndsAt: ct.EndsAt})
	}
	return contracts, nil
}

func (c *Client) SetMarketingConsent(ctx context.Context, tenantID, memberID string, consent bool, idempotencyKey string) error {
	err := c.api.Do(ctx, rest.Request{
		Method:         http.MethodPut,
		Path:           tenantPath(tenantID, "members", memberID, "marketing-consent"),
		Body:           map[string]bool{"consent": consent},
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return fmt.Errorf("crm: marketing consent: %w", err)
	}
	return nil
}
