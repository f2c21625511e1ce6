package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ASHISH26940/jsondb/internal/conflict"
	"github.com/ASHISH26940/jsondb/internal/server"
	"github.com/ASHISH26940/jsondb/internal/store"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	st := store.New(t.TempDir(), store.WithPolicy(conflict.VersionControl))
	require.NoError(t, st.Init())
	ts := httptest.NewServer(server.New(st))
	t.Cleanup(ts.Close)
	return New(ts.URL + "/").WithHTTPClient(ts.Client())
}

func v(n int64) *int64 { return &n }

func TestClientLifecycle(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	_, err := c.Get(ctx, "user1")
	assert.True(t, errors.Is(err, ErrNotFound), "got %v", err)

	require.NoError(t, c.Set(ctx, "user1", json.RawMessage(`{"name":"Alice"}`), SetOptions{Version: v(0)}))

	e, err := c.Get(ctx, "user1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Alice"}`, string(e.Value))
	assert.Equal(t, uint64(1), e.Version)
	assert.NotZero(t, e.Timestamp)

	err = c.Set(ctx, "user1", json.RawMessage(`{"name":"Bob"}`), SetOptions{Version: v(0)})
	assert.True(t, errors.Is(err, ErrConflict), "got %v", err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Message, "Conflict")

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"user1"}, keys)

	require.NoError(t, c.Delete(ctx, "user1"))
	assert.True(t, errors.Is(c.Delete(ctx, "user1"), ErrNotFound))

	keys, err = c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestClientWrapsObjectsWithValueMember(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	doc := json.RawMessage(`{"value":"inner","version":9}`)
	require.NoError(t, c.Set(ctx, "doc", doc, SetOptions{}))

	e, err := c.Get(ctx, "doc")
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(e.Value))
}

func TestClientEscapesKeys(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.Set(ctx, "a b&c=d", json.RawMessage(`true`), SetOptions{}))
	e, err := c.Get(ctx, "a b&c=d")
	require.NoError(t, err)
	assert.Equal(t, "true", string(e.Value))
}

func TestAPIErrorPlainBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := New(ts.URL).Keys(context.Background())
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "boom", apiErr.Message)
	assert.False(t, errors.Is(err, ErrNotFound))
}
