package paramstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a simple fake implementing ssmAPI for tests.
type fakeAPI struct {
	getOut   *ssm.GetParameterOutput
	getErr   error
	lastName string
}

func (f *fakeAPI) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.lastName = *in.Name
	return f.getOut, f.getErr
}

func strPtr(s string) *string { return &s }

func TestGetParameter_HappyPath(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{
		Name: strPtr("p"), Value: strPtr(`{"k":"v"}`), Type: types.ParameterTypeSecureString,
	}}}
	client, err := New(api, "/studio/")
	require.NoError(t, err)
	v, err := client.GetParameter(context.Background(), "hash-salt")
	require.NoError(t, err)
	require.Equal(t, `{"k":"v"}`, v)
	require.Equal(t, "/studio/hash-salt", api.lastName)
}

func TestName(t *testing.T) {
	client, err := New(&fakeAPI{}, "/studio")
	require.NoError(t, err)
	require.Equal(t, "/studio/tenants/t1", client.Name("tenants/t1"))
	require.Equal(t, "/other/key", client.Name("/other/key"))

	bare, err := New(&fakeAPI{}, "")
	require.NoError(t, err)
	require.Equal(t, "key", bare.Name("key"))
}

func TestGetParameter_MissingValue(t *testing.T) {
	api := &fakeAPI{getOut: &ssm.GetParameterOutput{Parameter: &types.Parameter{Name: strPtr("p"), Value: nil}}}
	client, err := New(api, "")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.Error(t, err)
	require.Contains(t, err.Error(), "missing value")
}

func TestGetParameter_ApiError(t *testing.T) {
	api := &fakeAPI{getErr: errors.New("boom")}
	client, err := New(api, "")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "boom")
}

func TestGetParameter_ClientNotInitialized(t *testing.T) {
	_, err := (&Client{}).GetParameter(context.Background(), "p")
	require.ErrorContains(t, err, "not initialized")
}

func TestGetParameter_EmptyName(t *testing.T) {
	client, err := New(&fakeAPI{}, "")
	require.NoError(t, err)
	_, err = client.GetParameter(context.Background(), "  ")
	require.ErrorContains(t, err, "required")
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "")
	require.ErrorContains(t, err, "must not be nil")
}

type fakeGetter struct {
	values map[string]string
	err    error
	calls  int
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	v, ok := f.values[name]
	if !ok {
		return "", errors.New("parameter not found")
	}
	return v, nil
}

func TestToken(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr string
	}{
		{name: "json", raw: `{"token":"sk-1"}`, want: "sk-1"},
		{name: "raw", raw: " sk-2\n", want: "sk-2"},
		{name: "empty json token", raw: `{"token":""}`, wantErr: "empty token"},
		{name: "bad json", raw: `{"token":`, wantErr: "decode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &fakeGetter{values: map[string]string{"k": tt.raw}}
			got, err := Token(context.Background(), g, "k")
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCache_TTLAndReset(t *testing.T) {
	g := &fakeGetter{values: map[string]string{"k": "v1"}}
	c, err := NewCache(g, time.Minute)
	require.NoError(t, err)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		v, err := c.GetParameter(context.Background(), "k")
		require.NoError(t, err)
		require.Equal(t, "v1", v)
	}
	require.Equal(t, 1, g.calls)

	g.values["k"] = "v2"
	now = now.Add(2 * time.Minute)
	v, err := c.GetParameter(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "v2", v)
	require.Equal(t, 2, g.calls)

	g.values["k"] = "v3"
	c.Reset()
	v, err = c.GetParameter(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "v3", v)
}

func TestCache_ErrorsAreNotCached(t *testing.T) {
	g := &fakeGetter{err: errors.New("throttled")}
	c, err := NewCache(g, time.Minute)
	require.NoError(t, err)
	_, err = c.GetParameter(context.Background(), "k")
	require.Error(t, err)

	g.err = nil
	g.values = map[string]string{"k": "v"}
	v, err := c.GetParameter(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, "v", v)
}
