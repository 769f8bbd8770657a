package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moforw/albaum/internal/engine"
	"github.com/moforw/albaum/internal/index"
	"github.com/moforw/albaum/internal/metrics"
	"github.com/moforw/albaum/internal/store"
)

func testServer(t *testing.T) *Server {
	t.Helper()
	j, err := store.OpenJournal(store.BackendFile, filepath.Join(t.TempDir(), "albaum.log"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	trie := index.New()
	_, err = j.Load(context.Background(), trie)
	require.NoError(t, err)

	mc := metrics.NewCollector()
	e := engine.New(trie, engine.Options{Workers: 2, Metrics: mc})
	t.Cleanup(e.Close)
	return New(e, "test-version", WithRegistry(mc.Registry()))
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, gojson.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestHealthEndpoint(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decodeBody(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test-version", body["version"])
	assert.Equal(t, "Albaum test-version | Not your mother's todo list", body["title"])
}

func TestStoreAndLookup(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/facts", `{"text":"buy milk"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "buy milk", body["text"])
	assert.EqualValues(t, 1, body["version"])
	assert.NotEmpty(t, body["createdAt"])

	w = do(t, srv, "GET", "/api/facts?text=buy+milk", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "buy milk", decodeBody(t, w)["text"])

	w = do(t, srv, "GET", "/api/facts?text=nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStoreErrors(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/facts", `{"text":"a"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, srv, "POST", "/api/facts", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid json", decodeBody(t, w)["error"])
}

func TestListFacts(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/facts", "")
	require.Equal(t, http.StatusOK, w.Code)
	// seeded settings and markers
	assert.EqualValues(t, len(store.Seeds), decodeBody(t, w)["count"])
}

func TestEditAndDelete(t *testing.T) {
	srv := testServer(t)

	do(t, srv, "POST", "/api/facts", `{"text":"buy milk"}`)

	w := do(t, srv, "PUT", "/api/facts", `{"text":"buy milk","newText":"buy oat milk"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decodeBody(t, w)
	assert.Equal(t, "buy oat milk", body["text"])
	assert.EqualValues(t, 2, body["version"])

	w = do(t, srv, "DELETE", "/api/facts?text=buy+oat+milk", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, "DELETE", "/api/facts?text=buy+oat+milk", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, srv, "DELETE", "/api/facts", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchEndpoint(t *testing.T) {
	srv := testServer(t)

	for _, s := range []string{"buy milk", "buy bread", "call mom"} {
		w := do(t, srv, "POST", "/api/facts", `{"text":"`+s+`"}`)
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := do(t, srv, "GET", "/api/search?q=buy", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Query   string      `json:"query"`
		Results []groupView `json:"results"`
	}
	require.NoError(t, gojson.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "buy", resp.Query)

	var texts []string
	for _, g := range resp.Results {
		for _, f := range g.Facts {
			texts = append(texts, f.Text)
		}
	}
	assert.ElementsMatch(t, []string{"buy milk", "buy bread"}, texts)
}

func TestCompleteEndpoint(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/facts", `{"text":"buy milk"}`)

	w := do(t, srv, "GET", "/api/complete?input=buy+m", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "buy milk", body["extended"])
	assert.Nil(t, body["match"])

	w = do(t, srv, "GET", "/api/complete?input=buy+milk&backspacing=true", "")
	body = decodeBody(t, w)
	match, ok := body["match"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "buy milk", match["text"])
}

func TestPins(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/pins", `{"texts":["call mom"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, srv, "GET", "/api/pins", "")
	assert.Equal(t, []any{"call mom"}, decodeBody(t, w)["pinned"])

	w = do(t, srv, "DELETE", "/api/pins", `{"texts":["call mom"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decodeBody(t, w)["pinned"])

	w = do(t, srv, "POST", "/api/pins", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettingsEndpoints(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/settings", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "DejaVu Sans Mono", body["font"])
	assert.EqualValues(t, 10, body["fontSize"])
	assert.Equal(t, "yyyy-MM-dd HH:mm", body["timeFormat"])

	w = do(t, srv, "PUT", "/api/settings/font-size", `{"size":12}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 12, decodeBody(t, w)["fontSize"])

	w = do(t, srv, "PUT", "/api/settings/font-size", `{"size":0}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := testServer(t)
	do(t, srv, "POST", "/api/facts", `{"text":"buy milk"}`)

	w := do(t, srv, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "albaum_operations_total")
}

func TestStatsEndpoint(t *testing.T) {
	srv := testServer(t)
	w := do(t, srv, "GET", "/api/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decodeBody(t, w)["workers"])
}
