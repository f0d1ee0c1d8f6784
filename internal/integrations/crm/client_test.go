package crm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studio-assistant/internal/domain"
	"studio-assistant/internal/integrations/rest"
	"studio-assistant/internal/retry"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	api, err := rest.New("crm", srv.URL, rest.StaticToken("crm-token"), rest.WithRetryPolicy(retry.Policy{
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	}))
	require.NoError(t, err)
	c, err := New(api)
	require.NoError(t, err)
	return c
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestFindMemberByPhone(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tenants/loft/members", r.URL.Path)
		switch r.URL.Query().Get("phone") {
		case "+48500100200":
			_, _ = w.Write([]byte(`{"id":"m-1","email":"ola@example.com","first_name":"Ola"}`))
		case "+48999":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	m, found, err := c.FindMemberByPhone(context.Background(), "loft", "+48500100200")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, domain.Member{ID: "m-1", Email: "ola@example.com", FirstName: "Ola"}, m)

	_, found, err = c.FindMemberByPhone(context.Background(), "loft", "+48111")
	require.NoError(t, err)
	require.False(t, found)

	_, _, err = c.FindMemberByPhone(context.Background(), "loft", "+48999")
	require.ErrorContains(t, err, "crm: find member")
}

func TestListClasses_PassesFilter(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tenants/loft/classes", r.URL.Path)
		require.Equal(t, "yin", r.URL.Query().Get("type"))
		require.Equal(t, "2026-03-02", r.URL.Query().Get("date"))
		_, _ = w.Write([]byte(`{"classes":[{"class_id":"c-2","name":"Yin","starts_at":"2026-03-02 19:30","spots_left":3}]}`))
	})
	classes, err := c.ListClasses(context.Background(), "loft", domain.ClassFilter{Type: "yin", Date: "2026-03-02"})
	require.NoError(t, err)
	require.Equal(t, []domain.ClassOption{{ClassID: "c-2", Name: "Yin", StartsAt: "2026-03-02 19:30", SpotsLeft: 3}}, classes)
}

func TestReserve_MapsBusinessErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.ReserveResult
	}{
		{name: "ok", status: http.StatusCreated, body: `{"reservation_id":"r-9"}`, want: domain.ReserveResult{OK: true, ReservationID: "r-9"}},
		{name: "already booked", status: http.StatusConflict, body: `{"code":"already_booked"}`, want: domain.ReserveResult{Error: domain.ReserveAlreadyBooked}},
		{name: "class full", status: http.StatusConflict, body: `{"code":"class_full"}`, want: domain.ReserveResult{Error: domain.ReserveClassFull}},
		{name: "unknown code", status: http.StatusUnprocessableEntity, body: `{"code":"membership_frozen"}`, want: domain.ReserveResult{Error: domain.ReserveUnknown}},
		{name: "garbled body", status: http.StatusConflict, body: `<html>`, want: domain.ReserveResult{Error: domain.ReserveUnknown}},
		{name: "class gone", status: http.StatusNotFound, body: ``, want: domain.ReserveResult{Error: domain.ReserveNotFound}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				calls++
				require.Equal(t, http.MethodPost, r.Method)
				require.Equal(t, "/tenants/loft/reservations", r.URL.Path)
				require.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
				var in map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
				require.Equal(t, map[string]string{"class_id": "c-1", "member_id": "m-1"}, in)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			got, err := c.Reserve(context.Background(), "loft", "c-1", "m-1", "idem-1")
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.Equal(t, 1, calls)
		})
	}
}

func TestReserve_TransportFailure(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Reserve(context.Background(), "loft", "c-1", "m-1", "idem-1")
	require.ErrorContains(t, err, "crm: reserve")
	require.Equal(t, 2, calls)
}

func TestBalanceAndContracts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tenants/loft/members/m-1/balance":
			_, _ = w.Write([]byte(`{"credits":4,"valid_until":"2026-04-01"}`))
		case "/tenants/loft/members/m-1/contracts":
			_, _ = w.Write([]byte(`{"contracts":[{"name":"Open 12m","status":"active","ends_at":"2026-12-31"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	b, err := c.Balance(context.Background(), "loft", "m-1")
	require.NoError(t, err)
	require.Equal(t, domain.Balance{Credits: 4, ValidUntil: "2026-04-01"}, b)

	contracts, err := c.Contracts(context.Background(), "loft", "m-1")
	require.NoError(t, err)
	require.Equal(t, []domain.Contract{{Name: "Open 12m", Status: "active", EndsAt: "2026-12-31"}}, contracts)

	_, err = c.Balance(context.Background(), "loft", "m-2")
	require.ErrorContains(t, err, "crm: balance")
}

func TestSetMarketingConsent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.Equal(t, "/tenants/loft/members/m-1/marketing-consent", r.URL.Path)
		require.Equal(t, "idem-2", r.Header.Get("Idempotency-Key"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"consent":false}`, string(body))
		w.WriteHeader(http.StatusNoContent)
	})
	require.NoError(t, c.SetMarketingConsent(context.Background(), "loft", "m-1", false, "idem-2"))
}
