package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studio-assistant/internal/retry"
)

var fastPolicy = retry.Policy{
	MaxAttempts:     3,
	InitialInterval: time.Millisecond,
	MaxInterval:     2 * time.Millisecond,
	Timeout:         time.Second,
}

type fakeGetter struct {
	val   string
	err   error
	calls int
}

func (f *fakeGetter) GetParameter(context.Context, string) (string, error) {
	f.calls++
	return f.val, f.err
}

func TestNew_Validation(t *testing.T) {
	_, err := New("crm", " ", StaticToken("t"))
	require.ErrorContains(t, err, "crm: base url")
	_, err = New("crm", "http://x", nil)
	require.ErrorContains(t, err, "token source")
}

func TestClient_Do_RequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/things", r.URL.Path)
		require.Equal(t, "yoga", r.URL.Query().Get("type"))
		require.False(t, r.URL.Query().Has("date"))
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, map[string]string{"name": "x"}, in)
		_, _ = w.Write([]byte(`{"id":"t-1"}`))
	}))
	defer srv.Close()

	c, err := New("crm", srv.URL+"/api/", StaticToken("tok"), WithRetryPolicy(fastPolicy))
	require.NoError(t, err)

	var out struct {
		ID string `json:"id"`
	}
	err = c.Do(context.Background(), Request{
		Method:         http.MethodPost,
		Path:           "/things",
		Query:          map[string]string{"type": "yoga", "date": ""},
		Body:           map[string]string{"name": "x"},
		IdempotencyKey: "key-1",
		Out:            &out,
	})
	require.NoError(t, err)
	require.Equal(t, "t-1", out.ID)
}

func TestClient_Do_RetriesOnlyTransientStatuses(t *testing.T) {
	tests := []struct {
		name   string
		status int
		hits   int32
	}{
		{name: "503 retried to budget", status: http.StatusServiceUnavailable, hits: 3},
		{name: "409 terminal", status: http.StatusConflict, hits: 1},
		{name: "404 terminal", status: http.StatusNotFound, hits: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"code":"x"}`))
			}))
			defer srv.Close()

			c, err := New("crm", srv.URL, StaticToken(""), WithRetryPolicy(fastPolicy))
			require.NoError(t, err)
			err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
			require.Error(t, err)
			require.True(t, IsStatus(err, tt.status))
			require.False(t, IsStatus(err, 200))
			require.Equal(t, `{"code":"x"}`, ErrorBody(err))
			require.Equal(t, tt.hits, hits.Load())
		})
	}
}

func TestClient_Do_RecoversAfterTransientFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c, err := New("crm", srv.URL, StaticToken(""), WithRetryPolicy(fastPolicy))
	require.NoError(t, err)
	require.NoError(t, c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x", Out: &struct{}{}}))
	require.Equal(t, int32(2), hits.Load())
}

func TestClient_Do_DecodeErrorIsTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	c, err := New("crm", srv.URL, StaticToken(""), WithRetryPolicy(fastPolicy))
	require.NoError(t, err)
	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x", Out: &struct{}{}})
	require.ErrorContains(t, err, "decode response")
	require.Equal(t, int32(1), hits.Load())
}

func TestParamToken_CachesSuccessOnly(t *testing.T) {
	g := &fakeGetter{err: errors.New("throttled")}
	src := ParamToken(g, "crm-token")

	_, err := src(context.Background())
	require.Error(t, err)

	g.err = nil
	g.val = `{"token":"secret"}`
	tok, err := src(context.Background())
	require.NoError(t, err)
	require.Equal(t, "secret", tok)
	_, _ = src(context.Background())
	require.Equal(t, 2, g.calls)
}

func TestClient_Do_TokenError(t *testing.T) {
	c, err := New("crm", "http://127.0.0.1:1", ParamToken(&fakeGetter{err: errors.New("denied")}, "n"))
	require.NoError(t, err)
	err = c.Do(context.Background(), Request{Method: http.MethodGet, Path: "/x"})
	require.ErrorContains(t, err, "resolve token")
}
