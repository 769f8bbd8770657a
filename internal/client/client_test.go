package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moforw/albaum/internal/engine"
	"github.com/moforw/albaum/internal/index"
	"github.com/moforw/albaum/internal/server"
	"github.com/moforw/albaum/internal/store"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	j, err := store.OpenJournal(store.BackendFile, filepath.Join(t.TempDir(), "albaum.log"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	trie := index.New()
	_, err = j.Load(context.Background(), trie)
	require.NoError(t, err)

	e := engine.New(trie, engine.Options{Workers: 2})
	t.Cleanup(e.Close)

	ts := httptest.NewServer(server.New(e, "test"))
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

func TestClient_RoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	require.True(t, c.Healthy(ctx))

	f, err := c.Store(ctx, "buy milk")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", f.Text)
	assert.Equal(t, 1, f.Version)

	got, err := c.Lookup(ctx, "buy milk")
	require.NoError(t, err)
	assert.Equal(t, f, got)

	groups, err := c.Search(ctx, "buy m")
	require.NoError(t, err)
	require.NotEmpty(t, groups)
	assert.Equal(t, "buy milk", groups[0].Facts[0].Text)

	g, err := c.Edit(ctx, "buy milk", "buy oat milk")
	require.NoError(t, err)
	assert.Equal(t, 2, g.Version)

	require.NoError(t, c.Delete(ctx, "buy oat milk"))
}

func TestClient_Errors(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	_, err := c.Lookup(ctx, "nothing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "fact not found", apiErr.Message)

	_, err = c.Store(ctx, "x")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestClient_Unreachable(t *testing.T) {
	c := New("http://127.0.0.1:1")
	assert.False(t, c.Healthy(context.Background()))
}

func TestNew_EnvFallback(t *testing.T) {
	t.Setenv("ALBAUM_URL", "http://example.invalid:1")
	assert.Equal(t, "http://example.invalid:1", New("").baseURL)

	t.Setenv("ALBAUM_URL", "")
	assert.Equal(t, DefaultURL, New("").baseURL)
}
