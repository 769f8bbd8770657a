package cli

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moforw/albaum/internal/engine"
	"github.com/moforw/albaum/internal/index"
	"github.com/moforw/albaum/internal/server"
	"github.com/moforw/albaum/internal/store"
)

// run executes the root command against journal with a config file that
// does not exist, so only defaults and flags apply.
func run(t *testing.T, journal string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)

	full := append([]string{}, args...)
	full = append(full,
		"--config", filepath.Join(filepath.Dir(journal), "missing.yaml"),
		"--journal", journal,
		"--backend", "",
		"--server", "",
		"--log-level", "error")
	rootCmd.SetArgs(full)
	err := rootCmd.Execute()
	return out.String(), err
}

func testJournal(t *testing.T) string {
	return filepath.Join(t.TempDir(), "albaum.log")
}

func TestVersion(t *testing.T) {
	out, err := run(t, testJournal(t), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "albaum dev")
}

func TestVersion_JSON(t *testing.T) {
	t.Cleanup(func() { versionJSON = false })
	out, err := run(t, testJournal(t), "version", "--json")
	require.NoError(t, err)

	var info buildInfo
	require.NoError(t, gojson.Unmarshal([]byte(out), &info))
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, runtime.Version(), info.Go)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
	assert.Equal(t, "dev", VersionString())
}

func TestAddSearchFind(t *testing.T) {
	j := testJournal(t)

	out, err := run(t, j, "add", "buy", "milk")
	require.NoError(t, err)
	assert.Contains(t, out, `stored "buy milk" (v1)`)

	_, err = run(t, j, "add", "buy bread")
	require.NoError(t, err)

	out, err = run(t, j, "search", "buy")
	require.NoError(t, err)
	assert.Contains(t, out, "buy milk")
	assert.Contains(t, out, "buy bread")

	out, err = run(t, j, "search", "zebra")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")

	out, err = run(t, j, "find", "buy milk")
	require.NoError(t, err)
	assert.Contains(t, out, "buy milk")
	assert.NotContains(t, out, "buy bread")
}

func TestAdd_TooShort(t *testing.T) {
	_, err := run(t, testJournal(t), "add", "x")
	assert.Error(t, err)
}

func TestEditAndRm(t *testing.T) {
	j := testJournal(t)

	_, err := run(t, j, "add", "buy milk")
	require.NoError(t, err)

	out, err := run(t, j, "edit", "buy milk", "--to", "buy oat milk")
	require.NoError(t, err)
	assert.Contains(t, out, `stored "buy oat milk" (v2)`)

	_, err = run(t, j, "rm", "buy milk")
	assert.ErrorContains(t, err, `no fact "buy milk"`)

	out, err = run(t, j, "rm", "buy oat milk")
	require.NoError(t, err)
	assert.Contains(t, out, `deleted "buy oat milk"`)

	out, err = run(t, j, "find", "buy oat milk")
	require.NoError(t, err)
	assert.Contains(t, out, "No facts found.")
}

func TestDump(t *testing.T) {
	j := testJournal(t)
	_, err := run(t, j, "add", "ab")
	require.NoError(t, err)

	out, err := run(t, j, "dump")
	require.NoError(t, err)
	assert.Contains(t, out, "a (")
	assert.Contains(t, out, "-b (")
}

func TestCompact(t *testing.T) {
	j := testJournal(t)
	for _, args := range [][]string{
		{"add", "buy milk"},
		{"add", "call mom"},
		{"rm", "buy milk"},
	} {
		_, err := run(t, j, args...)
		require.NoError(t, err)
	}

	out, err := run(t, j, "compact")
	require.NoError(t, err)
	assert.Contains(t, out, "compacted")

	archives, err := filepath.Glob(filepath.Join(filepath.Dir(j), "albaum.log.*.jsonl.zst"))
	require.NoError(t, err)
	assert.Len(t, archives, 1)

	out, err = run(t, j, "find", "call mom")
	require.NoError(t, err)
	assert.Contains(t, out, "call mom")
}

func TestSQLiteBackend(t *testing.T) {
	j := filepath.Join(t.TempDir(), "albaum.db")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"add", "buy milk",
		"--config", filepath.Join(filepath.Dir(j), "missing.yaml"),
		"--journal", j, "--backend", "sqlite", "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())

	out.Reset()
	rootCmd.SetArgs([]string{"find", "buy milk",
		"--config", filepath.Join(filepath.Dir(j), "missing.yaml"),
		"--journal", j, "--backend", "sqlite", "--log-level", "error"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "buy milk")
}

func TestArchivePath(t *testing.T) {
	now := time.Date(2024, 3, 9, 17, 45, 1, 0, time.UTC)
	assert.Equal(t, "/j/albaum.log.20240309-174501.jsonl.zst", archivePath("", "/j/albaum.log", now))
	assert.Equal(t, "/a/albaum.log.20240309-174501.jsonl.zst", archivePath("/a", "/j/albaum.log", now))
}

func TestRemoteCommands(t *testing.T) {
	j, err := store.OpenJournal(store.BackendFile, testJournal(t))
	require.NoError(t, err)
	defer j.Close()
	trie := index.New()
	_, err = j.Load(context.Background(), trie)
	require.NoError(t, err)
	e := engine.New(trie, engine.Options{Workers: 2})
	defer e.Close()
	ts := httptest.NewServer(server.New(e, "test"))
	defer ts.Close()

	remote := func(args ...string) (string, error) {
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetErr(&out)
		rootCmd.SetArgs(append(args, "--server", ts.URL, "--log-level", "error"))
		err := rootCmd.Execute()
		return out.String(), err
	}
	defer func() { serverURL = "" }()

	out, err := remote("add", "buy milk")
	require.NoError(t, err)
	assert.Contains(t, out, `stored "buy milk" (v1)`)

	out, err = remote("search", "buy")
	require.NoError(t, err)
	assert.Contains(t, out, "buy milk")

	out, err = remote("edit", "buy milk", "--to", "buy oat milk")
	require.NoError(t, err)
	assert.Contains(t, out, "(v2)")

	_, err = remote("rm", "buy oat milk")
	require.NoError(t, err)
	_, err = e.Lookup("buy oat milk")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}
