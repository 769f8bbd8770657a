// Package index is the in-memory fact index: a character trie in which each
// fact is anchored under its full text and every variant key of it, plus the
// batches that record and undo those mutations.
package index

import (
	"fmt"
	"io"
	"runtime"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moforw/albaum/internal/key"
	"github.com/moforw/albaum/internal/timefmt"
)

// Markers with special meaning when they appear in fact text.
const (
	TagTodo  = "#todo"
	TagDone  = "#done"
	TagFlash = "#flash"
	TagAt    = "#at"
)

// Settings keys. At most one fact per key is live at a time.
const (
	SettingCaption    = "#caption"
	SettingFont       = "#font"
	SettingFontSize   = "#font-size"
	SettingTimeFormat = "#time-format"
)

var settings = map[string]struct{}{
	SettingCaption:    {},
	SettingFont:       {},
	SettingFontSize:   {},
	SettingTimeFormat: {},
}

// IsSetting reports whether token is a settings key.
func IsSetting(token string) bool {
	_, ok := settings[token]
	return ok
}

var trieSeq atomic.Uint32

// Trie indexes facts by key path. It is safe for concurrent use.
type Trie struct {
	id      uint32
	nodes   *arena
	root    *Node
	clock   *timefmt.Formatter
	log     *zap.Logger
	journal atomic.Pointer[Journal]
}

// Option configures a Trie.
type Option func(*Trie)

// WithClock sets the formatter used for #at keys.
func WithClock(f *timefmt.Formatter) Option {
	return func(t *Trie) { t.clock = f }
}

// WithLogger sets the logger used for commit diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(t *Trie) { t.log = l }
}

// WithJournal attaches j from the start. Use SetJournal to attach one after
// replaying persisted facts.
func WithJournal(j Journal) Option {
	return func(t *Trie) { t.SetJournal(j) }
}

// New returns an empty trie.
func New(opts ...Option) *Trie {
	t := &Trie{
		id:    trieSeq.Add(1),
		nodes: newArena(),
		clock: timefmt.Default(),
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.root = &Node{trie: t, insertedAt: time.Now()}
	t.nodes.add(t.root)
	return t
}

// ID distinguishes t in node references.
func (t *Trie) ID() uint32 { return t.id }

// Root returns the node for the empty key.
func (t *Trie) Root() *Node { return t.root }

// Clock formats and parses the timestamps t writes into #at keys.
func (t *Trie) Clock() *timefmt.Formatter { return t.clock }

// NodeCount returns the number of nodes ever created, including any
// detached by Clear.
func (t *Trie) NodeCount() int {
	return t.nodes.len()
}

// SetJournal attaches j as the destination of committed canonical changes.
// A nil j detaches the current journal.
func (t *Trie) SetJournal(j Journal) {
	if j == nil {
		t.journal.Store(nil)
		return
	}
	t.journal.Store(&j)
}

// Journal returns the attached journal, or nil.
func (t *Trie) Journal() Journal {
	if p := t.journal.Load(); p != nil {
		return *p
	}
	return nil
}

func (t *Trie) newNode(parent *Node, path string) *Node {
	n := &Node{
		trie:       t,
		parent:     parent.id,
		key:        path,
		level:      parent.level + 1,
		insertedAt: time.Now(),
	}
	t.nodes.add(n)
	return n
}

// Find returns the node at the end of k's path, or nil. See Node.Find.
func (t *Trie) Find(k string) *Node {
	return t.root.Find(k)
}

// Clear detaches every node below the root.
func (t *Trie) Clear() {
	t.root.mu.Lock()
	t.root.children = nil
	t.root.mu.Unlock()
}

// Insert anchors f at the node for k, creating the path as needed, and
// returns that node.
func (t *Trie) Insert(k string, f *Fact, b *Batch) *Node {
	n := t.root
	var path strings.Builder
	for _, r := range k {
		path.WriteRune(r)
		n = n.childOrCreate(r, path.String())
	}
	n.InsertFact(f, b)
	return n
}

// InsertAll indexes f and returns the node of its full text. A #done fact
// whose #todo counterpart exists moves the matching todo items instead, and
// a settings fact replaces the current value of its setting.
func (t *Trie) InsertAll(f *Fact, b *Batch) *Node {
	if strings.Contains(f.Text, TagDone) {
		if n := t.completeTodos(f, b); n != nil {
			return n
		}
	}

	if lead := key.Next(f.Text, 0); IsSetting(lead) {
		if n := t.replaceSetting(lead, f, b); n != nil {
			return n
		}
	}

	return t.insertIndexed(f, b)
}

// DoneText turns todo item text into its completed form.
func DoneText(text string) string {
	text = strings.ReplaceAll(text, TagTodo, TagDone)
	text = strings.ReplaceAll(text, TagFlash, "")
	return strings.ReplaceAll(text, "  ", " ")
}

func (t *Trie) completeTodos(f *Fact, b *Batch) *Node {
	tk := strings.ReplaceAll(f.Text, TagDone, TagTodo)
	n := t.Find(tk)
	if n == nil || !key.EqualFold(n.key, tk) {
		return nil
	}

	var (
		mu    sync.Mutex
		moved = make(map[NodeID]*Node)
		g     errgroup.Group
	)
	for _, tt := range n.AllFacts() {
		g.Go(func() error {
			t.DeleteAll(tt, b)
			m := t.insertIndexed(tt.Derive(DoneText(tt.Text)), b)

			mu.Lock()
			moved[m.id] = m
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(moved) != 1 {
		return nil
	}
	for _, m := range moved {
		return m
	}
	return nil
}

func (t *Trie) replaceSetting(lead string, f *Fact, b *Batch) *Node {
	n := t.Find(lead)
	if n == nil || !key.EqualFold(n.key, lead) {
		return nil
	}

	var current []*Fact
	for _, tt := range n.AllFacts() {
		if key.Next(tt.Text, 0) != lead {
			continue
		}
		if tt.Text == f.Text {
			return n
		}
		current = append(current, tt)
	}

	if len(current) == 0 {
		return t.insertIndexed(f, b)
	}
	for _, tt := range current {
		t.DeleteAll(tt, b)
	}
	return t.insertIndexed(current[0].Derive(f.Text), b)
}

// Index anchors f under its full text, its variants and its #at key,
// without the todo and settings rules of InsertAll. Mirrors of another trie
// use it so their contents follow the source exactly.
func (t *Trie) Index(f *Fact, b *Batch) *Node {
	return t.insertIndexed(f, b)
}

func (t *Trie) insertIndexed(f *Fact, b *Batch) *Node {
	if !IsNullTime(f.CreatedAt) {
		t.insertVariants(TagAt+" "+t.clock.Format(f.CreatedAt), f, b)
	}
	return t.insertVariants(f.Text, f, b)
}

func (t *Trie) insertVariants(k string, f *Fact, b *Batch) *Node {
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, v := range key.Variants(k, false) {
		g.Go(func() error {
			t.Insert(v, f, b)
			return nil
		})
	}
	_ = g.Wait()
	return t.Insert(k, f, b)
}

// DeleteAll removes f from every node anchoring it. It panics if f is
// anchored in another trie; facts shared between tries must be cloned.
func (t *Trie) DeleteAll(f *Fact, b *Batch) {
	refs := f.Refs()
	for _, r := range refs {
		if r.Trie != t.id {
			panic(fmt.Sprintf("index: delete %v from trie %d, anchored in trie %d", f, t.id, r.Trie))
		}
	}

	var g errgroup.Group
	for _, r := range refs {
		g.Go(func() error {
			if n := t.nodes.get(r.Node); n != nil {
				n.DeleteFact(f, b)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// FindAll returns the facts below the best end node for q. Candidates are
// scored by how many facts they share with the other candidates, weighted by
// key overlap with q.
func (t *Trie) FindAll(q string, minMatch int) []*Fact {
	cands := t.root.FindEndNodes(q, minMatch)
	if len(cands) == 0 {
		return nil
	}

	ids := make([]*roaring.Bitmap, len(cands))
	var g errgroup.Group
	for i, c := range cands {
		g.Go(func() error {
			ids[i] = c.factIDs()
			return nil
		})
	}
	_ = g.Wait()

	for i, c := range cands {
		others := slices.Delete(slices.Clone(ids), i, i+1)
		c.updateScoreShared(q, ids[i], others)
	}

	best := cands[0]
	for _, c := range cands[1:] {
		if CompareScore(c, best) < 0 {
			best = c
		}
	}
	return best.AllFacts()
}

// Dump writes the trie structure to w.
func (t *Trie) Dump(w io.Writer) error {
	return t.root.Dump(w)
}
