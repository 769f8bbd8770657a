package engine

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moforw/albaum/internal/index"
	"github.com/moforw/albaum/internal/store"
)

type opRecord struct {
	op, status string
}

type recordingCollector struct {
	mu     sync.Mutex
	ops    []opRecord
	errs   []string
	sizes  map[string]int64
	queued int
}

func (r *recordingCollector) RecordOperation(ctx context.Context, op, status string, durationMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, opRecord{op, status})
}

func (r *recordingCollector) RecordError(ctx context.Context, op, errorType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, op+":"+errorType)
}

func (r *recordingCollector) SetIndexSize(ctx context.Context, kind string, count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sizes == nil {
		r.sizes = make(map[string]int64)
	}
	r.sizes[kind] = count
}

func (r *recordingCollector) SetPoolQueue(ctx context.Context, depth int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued = depth
}

// testEngine opens a seeded journal in a temp dir, loads it and starts an
// engine over the result.
func testEngine(t *testing.T, opts Options) (*Engine, *store.Journal) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "albaum.log")
	j, err := store.OpenJournal(store.BackendFile, path)
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	trie := index.New()
	_, err = j.Load(context.Background(), trie)
	require.NoError(t, err)

	if opts.Workers == 0 {
		opts.Workers = 2
	}
	e := New(trie, opts)
	t.Cleanup(e.Close)
	return e, j
}

func groupTexts(groups []Group) []string {
	var res []string
	for _, g := range groups {
		for _, f := range g.Facts {
			res = append(res, f.Text)
		}
	}
	return res
}

func TestStore_ShowsFact(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	f, err := e.Store(ctx, "buy milk")
	require.NoError(t, err)
	assert.Equal(t, "buy milk", f.Text)
	assert.Equal(t, 1, f.Version)

	assert.Contains(t, groupTexts(e.Results("")), "buy milk")

	got, err := e.Lookup("buy milk")
	require.NoError(t, err)
	assert.Same(t, f, got)
}

func TestStore_TooShort(t *testing.T) {
	e, _ := testEngine(t, Options{})
	_, err := e.Store(context.Background(), "a")
	assert.ErrorIs(t, err, ErrInputTooShort)
}

func TestStore_Persists(t *testing.T) {
	e, j := testEngine(t, Options{})
	ctx := context.Background()

	_, err := e.Store(ctx, "call mom")
	require.NoError(t, err)

	facts, err := j.Facts(ctx)
	require.NoError(t, err)
	var texts []string
	for _, f := range facts {
		texts = append(texts, f.Text)
	}
	assert.Contains(t, texts, "call mom")
}

func TestSearch_ReplacesResults(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	for _, s := range []string{"buy milk", "call mom", "buy bread"} {
		_, err := e.Store(ctx, s)
		require.NoError(t, err)
	}

	groups, err := e.Search(ctx, "buy")
	require.NoError(t, err)
	texts := groupTexts(groups)
	assert.ElementsMatch(t, []string{"buy milk", "buy bread"}, texts)
	assert.Equal(t, "buy", e.Query())
}

func TestSearch_ShortQueryKeepsPinned(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	for _, s := range []string{"buy milk", "call mom"} {
		_, err := e.Store(ctx, s)
		require.NoError(t, err)
	}
	e.Pin("call mom")

	groups, err := e.Search(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"call mom"}, groupTexts(groups))
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Pinned)
	assert.True(t, groups[0].Single())

	e.Unpin("call mom")
	assert.Empty(t, e.Pinned())
	groups, err = e.Search(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestSearch_PinnedSurvivesMiss(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	for _, s := range []string{"buy milk", "call mom"} {
		_, err := e.Store(ctx, s)
		require.NoError(t, err)
	}
	e.Pin("buy milk")

	groups, err := e.Search(ctx, "call")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"buy milk", "call mom"}, groupTexts(groups))
	assert.Equal(t, []string{"buy milk"}, e.Pinned())
}

func TestSearch_Canceled(t *testing.T) {
	rec := &recordingCollector{}
	e, _ := testEngine(t, Options{Metrics: rec})

	_, err := e.Store(context.Background(), "buy milk")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Search(ctx, "milk")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "", e.Query())
	assert.Contains(t, groupTexts(e.Results("")), "buy milk")
}

func TestSearch_GroupsFactsOnce(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	for _, s := range []string{"milk one", "milk two"} {
		_, err := e.Store(ctx, s)
		require.NoError(t, err)
	}
	groups, err := e.Search(ctx, "milk")
	require.NoError(t, err)

	texts := groupTexts(groups)
	assert.Len(t, texts, 2)
	assert.ElementsMatch(t, []string{"milk one", "milk two"}, texts)
	for i := 1; i < len(groups); i++ {
		assert.GreaterOrEqual(t, groups[i-1].Score, groups[i].Score)
	}
}

func TestEdit(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	f, err := e.Store(ctx, "buy milk")
	require.NoError(t, err)

	g, err := e.Edit(ctx, f, "buy oat milk")
	require.NoError(t, err)
	assert.Equal(t, "buy oat milk", g.Text)
	assert.Equal(t, 2, g.Version)
	assert.Same(t, f, g.Previous)

	_, err = e.Lookup("buy milk")
	assert.ErrorIs(t, err, ErrNotFound)

	texts := groupTexts(e.Results(""))
	assert.Contains(t, texts, "buy oat milk")
	assert.NotContains(t, texts, "buy milk")

	same, err := e.Edit(ctx, g, "buy oat milk")
	require.NoError(t, err)
	assert.Same(t, g, same)
}

func TestDelete_ThroughScratchClone(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	f, err := e.Store(ctx, "buy milk")
	require.NoError(t, err)

	n := e.Scratch().Find("buy milk")
	require.NotNil(t, n)
	require.Len(t, n.Facts(), 1)
	clone := n.Facts()[0]
	assert.NotSame(t, f, clone)

	require.NoError(t, e.Delete(ctx, clone))
	_, err = e.Lookup("buy milk")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, e.Results(""))
}

func TestDelete_Unknown(t *testing.T) {
	rec := &recordingCollector{}
	e, _ := testEngine(t, Options{Metrics: rec})

	err := e.Delete(context.Background(), index.NewFact("never stored"))
	assert.ErrorIs(t, err, ErrNotFound)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.errs, "delete:not_found")
}

func TestStore_CompletesTodo(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	todo, err := e.Store(ctx, "#todo call mom")
	require.NoError(t, err)

	done, err := e.Store(ctx, "#done call mom")
	require.NoError(t, err)
	assert.Equal(t, "#done call mom", done.Text)
	assert.Equal(t, 2, done.Version)
	assert.Same(t, todo, done.Previous)

	_, err = e.Lookup("#todo call mom")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotContains(t, groupTexts(e.Results("")), "#todo call mom")
}

func TestCheck(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	f, err := e.Store(ctx, "buy milk")
	require.NoError(t, err)

	c := e.Check("BUY MILK", true)
	assert.Same(t, f, c.Match)
	assert.Empty(t, c.Extended)

	c = e.Check("buy m", false)
	assert.Nil(t, c.Match)
	assert.Equal(t, "buy milk", c.Extended)

	c = e.Check("buy m", true)
	assert.Empty(t, c.Extended)

	c = e.Check("nothing here", false)
	assert.Nil(t, c.Match)
	assert.Equal(t, "nothing here", c.Input)
}

func TestSettings_Seeded(t *testing.T) {
	e, _ := testEngine(t, Options{})

	assert.Equal(t, "Not your mother's todo list", e.Caption())
	assert.Equal(t, "Albaum v101 | Not your mother's todo list", e.Title("v101"))
	assert.Equal(t, "DejaVu Sans Mono", e.Font())
	assert.Equal(t, 10, e.FontSize())
	assert.Equal(t, "yyyy-MM-dd HH:mm", e.TimeFormat())
	assert.Equal(t, "", e.Flash())
}

func TestSettings_Update(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	require.NoError(t, e.SetFontSize(ctx, 14))
	assert.Equal(t, 14, e.FontSize())

	_, err := e.Store(ctx, "#font-size big")
	require.NoError(t, err)
	assert.Equal(t, DefaultFontSize, e.FontSize())

	_, err = e.Store(ctx, "#caption groceries")
	require.NoError(t, err)
	assert.Equal(t, "Albaum v1 | groceries", e.Title("v1"))
}

func TestSettings_TimeFormat(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	f, err := e.Store(ctx, "#time-format dd.MM.yyyy")
	require.NoError(t, err)
	assert.Equal(t, "dd.MM.yyyy", e.TimeFormat())

	require.NoError(t, e.Delete(ctx, f))
	assert.Equal(t, "yyyy-MM-dd HH:mm", e.TimeFormat())
}

func TestFlash(t *testing.T) {
	e, _ := testEngine(t, Options{})
	ctx := context.Background()

	assert.Equal(t, "", e.CurrentFlash())
	_, err := e.Store(ctx, "#flash call mom")
	require.NoError(t, err)
	assert.Equal(t, "call mom", e.CurrentFlash())
	assert.Equal(t, "call mom", e.Flash())

	e.StartFlashTimer(0)
	assert.Equal(t, "call mom", e.CurrentFlash())
}

func TestClose(t *testing.T) {
	rec := &recordingCollector{}
	e, _ := testEngine(t, Options{Metrics: rec})
	ctx := context.Background()

	_, err := e.Store(ctx, "buy milk")
	require.NoError(t, err)

	e.Close()
	_, err = e.Store(ctx, "call mom")
	assert.ErrorIs(t, err, ErrClosed)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.ops, opRecord{"store", "success"})
	assert.Contains(t, rec.ops, opRecord{"store", "error"})
	assert.Positive(t, rec.sizes["nodes"])
	assert.Equal(t, int64(1), rec.sizes["shown"])
}

func TestStats(t *testing.T) {
	e, _ := testEngine(t, Options{Workers: 3})
	_, err := e.Store(context.Background(), "buy milk")
	require.NoError(t, err)

	s := e.Stats()
	assert.Equal(t, 3, s.Workers)
	assert.Equal(t, 1, s.Shown)
	assert.Positive(t, s.Nodes)
}
