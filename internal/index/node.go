package index

import (
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/moforw/albaum/internal/key"
)

type edge struct {
	r  rune
	id NodeID
}

// Node is one character position along a key path. Children are keyed by
// lowercased rune; facts are kept in fact order. Each node guards its own
// children and facts, so writers on different nodes never contend.
type Node struct {
	trie       *Trie
	id         NodeID
	parent     NodeID
	key        string
	level      int
	insertedAt time.Time

	mu       sync.RWMutex
	children []edge
	facts    []*Fact

	score atomic.Int64
}

// ID returns n's slot in its trie's arena.
func (n *Node) ID() NodeID { return n.id }

// Key returns the edge characters from the root to n.
func (n *Node) Key() string { return n.key }

// Level returns n's depth; the root is level 0.
func (n *Node) Level() int { return n.level }

// InsertedAt returns when n was created.
func (n *Node) InsertedAt() time.Time { return n.insertedAt }

// Score returns the rank set by the last UpdateScore or UpdateScoreAmong.
func (n *Node) Score() int { return int(n.score.Load()) }

// Ref returns the handle other tries and facts use for n.
func (n *Node) Ref() NodeRef {
	return NodeRef{Trie: n.trie.id, Node: n.id}
}

// Parent returns the node one level up, or nil at the root.
func (n *Node) Parent() *Node {
	if n.level == 0 {
		return nil
	}
	return n.trie.nodes.get(n.parent)
}

// Child returns the node reached from n along c, ignoring case.
func (n *Node) Child(c rune) *Node {
	n.mu.RLock()
	i, ok := n.edgeIndex(key.Edge(c))
	var id NodeID
	if ok {
		id = n.children[i].id
	}
	n.mu.RUnlock()

	if !ok {
		return nil
	}
	return n.trie.nodes.get(id)
}

// Children returns the child nodes in edge order.
func (n *Node) Children() []*Node {
	n.mu.RLock()
	ids := make([]NodeID, len(n.children))
	for i, e := range n.children {
		ids[i] = e.id
	}
	n.mu.RUnlock()

	res := make([]*Node, len(ids))
	for i, id := range ids {
		res[i] = n.trie.nodes.get(id)
	}
	return res
}

func (n *Node) childCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.children)
}

func (n *Node) edgeIndex(r rune) (int, bool) {
	i := sort.Search(len(n.children), func(i int) bool { return n.children[i].r >= r })
	return i, i < len(n.children) && n.children[i].r == r
}

// childOrCreate returns the child along c, creating it with key path if it
// does not exist yet. Concurrent callers racing on the same edge get the
// same node.
func (n *Node) childOrCreate(c rune, path string) *Node {
	if ch := n.Child(c); ch != nil {
		return ch
	}

	r := key.Edge(c)

	n.mu.Lock()
	defer n.mu.Unlock()

	i, ok := n.edgeIndex(r)
	if ok {
		return n.trie.nodes.get(n.children[i].id)
	}
	ch := n.trie.newNode(n, path)
	n.children = slices.Insert(n.children, i, edge{r: r, id: ch.id})
	return ch
}

// Facts returns the facts anchored exactly at n.
func (n *Node) Facts() []*Fact {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return slices.Clone(n.facts)
}

func (n *Node) factCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.facts)
}

// HasFact reports whether a fact equal to f by content is anchored at n.
func (n *Node) HasFact(f *Fact) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.factIndex(f)
	return ok
}

func (n *Node) factIndex(f *Fact) (int, bool) {
	i := sort.Search(len(n.facts), func(i int) bool { return CompareFacts(n.facts[i], f) >= 0 })
	return i, i < len(n.facts) && CompareFacts(n.facts[i], f) == 0
}

func (n *Node) link(f *Fact) bool {
	n.mu.Lock()
	i, ok := n.factIndex(f)
	if ok {
		n.mu.Unlock()
		return false
	}
	n.facts = slices.Insert(n.facts, i, f)
	n.mu.Unlock()

	f.addRef(n.Ref())
	return true
}

func (n *Node) unlink(f *Fact) *Fact {
	n.mu.Lock()
	i, ok := n.factIndex(f)
	if !ok {
		n.mu.Unlock()
		return nil
	}
	stored := n.facts[i]
	n.facts = slices.Delete(n.facts, i, i+1)
	n.mu.Unlock()

	ref := n.Ref()
	stored.removeRef(ref)
	if stored != f {
		f.removeRef(ref)
	}
	return stored
}

// InsertFact anchors f at n and records the change in b. It returns false
// if an equal fact is already anchored here.
func (n *Node) InsertFact(f *Fact, b *Batch) bool {
	if !n.link(f) {
		return false
	}
	b.add(Change{Op: OpInsert, Node: n, Fact: f})
	return true
}

// DeleteFact removes f from n and records the change in b. It returns false
// if f was not anchored here.
func (n *Node) DeleteFact(f *Fact, b *Batch) bool {
	stored := n.unlink(f)
	if stored == nil {
		return false
	}
	b.add(Change{Op: OpDelete, Node: n, Fact: stored})
	return true
}

// FirstFact returns the first fact at or below n in depth-first edge order.
func (n *Node) FirstFact() *Fact {
	n.mu.RLock()
	if len(n.facts) > 0 {
		f := n.facts[0]
		n.mu.RUnlock()
		return f
	}
	n.mu.RUnlock()

	for _, c := range n.Children() {
		if f := c.FirstFact(); f != nil {
			return f
		}
	}
	return nil
}

// Extend follows single-child chains down from n. It returns the end of the
// chain if anything at or below it carries a fact, otherwise n itself.
func (n *Node) Extend() *Node {
	m := n
	for {
		cs := m.Children()
		if len(cs) != 1 {
			break
		}
		m = cs[0]
	}
	if m.FirstFact() == nil {
		return n
	}
	return m
}

// Find walks the characters of k down from n. It returns nil on the first
// missing edge. Callers wanting an exact match compare Key() with k.
func (n *Node) Find(k string) *Node {
	m := n
	for _, r := range k {
		if m = m.Child(r); m == nil {
			return nil
		}
	}
	return m
}

// FindFirstFact returns the first fact at or below the node whose key path
// equals k, or nil.
func (n *Node) FindFirstFact(k string) *Fact {
	m := n.Find(k)
	if m == nil || !key.EqualFold(m.key, k) {
		return nil
	}
	return m.FirstFact()
}

// FindAllFacts returns every fact at or below the node whose key path
// equals k.
func (n *Node) FindAllFacts(k string) []*Fact {
	m := n.Find(k)
	if m == nil || !key.EqualFold(m.key, k) {
		return nil
	}
	return m.AllFacts()
}

type factSet struct {
	mu    sync.Mutex
	ids   *roaring.Bitmap
	facts []*Fact
}

func newFactSet() *factSet {
	return &factSet{ids: roaring.New()}
}

func (s *factSet) add(fs []*Fact) {
	if len(fs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range fs {
		if s.ids.CheckedAdd(f.id) {
			s.facts = append(s.facts, f)
		}
	}
}

// gather collects the facts at and below n, one goroutine per child subtree.
func (n *Node) gather(s *factSet) {
	s.add(n.Facts())

	var g errgroup.Group
	for _, c := range n.Children() {
		g.Go(func() error {
			c.walkFacts(s)
			return nil
		})
	}
	_ = g.Wait()
}

func (n *Node) walkFacts(s *factSet) {
	s.add(n.Facts())
	for _, c := range n.Children() {
		c.walkFacts(s)
	}
}

// AllFacts returns the facts anchored at or below n, each once, in fact order.
func (n *Node) AllFacts() []*Fact {
	s := newFactSet()
	n.gather(s)
	return SortFacts(s.facts)
}

func (n *Node) factIDs() *roaring.Bitmap {
	s := newFactSet()
	n.gather(s)
	return s.ids
}

// AllWithFacts returns the nodes at or below n that carry facts directly,
// in node order.
func (n *Node) AllWithFacts() []*Node {
	var res []*Node
	n.walk(func(m *Node) {
		if m.factCount() > 0 {
			res = append(res, m)
		}
	})
	sort.Slice(res, func(i, j int) bool { return compareNodes(res[i], res[j]) < 0 })
	return res
}

func (n *Node) walk(visit func(*Node)) {
	visit(n)
	for _, c := range n.Children() {
		c.walk(visit)
	}
}

// UpdateScore ranks n for display against query q.
func (n *Node) UpdateScore(q string) {
	n.score.Store(int64(n.factCount() * (1 + key.Score(n.key, q))))
}

// UpdateScoreAmong ranks n by how many of its facts it shares with the other
// candidates, weighted by overlap with q.
func (n *Node) UpdateScoreAmong(q string, candidates []*Node) {
	own := n.factIDs()
	others := make([]*roaring.Bitmap, 0, len(candidates))
	for _, c := range candidates {
		if c != n {
			others = append(others, c.factIDs())
		}
	}
	n.updateScoreShared(q, own, others)
}

// updateScoreShared is UpdateScoreAmong over precomputed fact id sets.
func (n *Node) updateScoreShared(q string, own *roaring.Bitmap, others []*roaring.Bitmap) {
	shared := 0
	for _, ids := range others {
		shared += int(own.AndCardinality(ids))
	}
	n.score.Store(int64(shared * (1 + key.Score(n.key, q))))
}

// compareNodes orders nodes by key path ignoring case, newest first on ties.
func compareNodes(a, b *Node) int {
	if res := key.CompareFold(a.key, b.key); res != 0 {
		return res
	}
	return b.insertedAt.Compare(a.insertedAt)
}

// CompareScore orders nodes by descending score, then by key path ignoring
// case, newest first on ties.
func CompareScore(a, b *Node) int {
	sa, sb := a.score.Load(), b.score.Load()
	switch {
	case sa > sb:
		return -1
	case sa < sb:
		return 1
	}
	return compareNodes(a, b)
}

// FindEndNodes returns every node at depth >= minMatch where some alignment
// of q against the trie stops. On a missing edge the walk records the
// current node, then retries the rest of q from n after backing up to the
// start of the unmatched token, and again after skipping that token.
func (n *Node) FindEndNodes(q string, minMatch int) []*Node {
	found := make(map[NodeID]*Node)
	n.findEndNodes([]rune(q), minMatch, found)

	res := make([]*Node, 0, len(found))
	for _, m := range found {
		res = append(res, m)
	}
	sort.Slice(res, func(i, j int) bool { return compareNodes(res[i], res[j]) < 0 })
	return res
}

func (n *Node) findEndNodes(q []rune, minMatch int, found map[NodeID]*Node) {
	m := n
	i := 0

	for i < len(q) {
		if c := m.Child(q[i]); c != nil {
			m = c
			i++
			continue
		}

		if m.level >= minMatch {
			found[m.id] = m
		}

		for i > 0 && !key.IsDelimiter(q[i]) {
			i--
			m = m.Parent()
		}
		i++

		if m != n {
			n.findEndNodes(q[i:], minMatch, found)
		}

		for i < len(q) && !key.IsDelimiter(q[i]) {
			i++
		}
		for i < len(q) && key.IsDelimiter(q[i]) {
			i++
		}

		if i < len(q) {
			q = q[i:]
			i = 0
			n.findEndNodes(q, minMatch, found)
		}
	}

	if m.level >= minMatch {
		found[m.id] = m
	}
}

// Dump writes the subtree below n, one edge per line, as
// "<depth dashes><edge> (<children>/<facts>)".
func (n *Node) Dump(w io.Writer) error {
	return n.dump(w, 0)
}

func (n *Node) dump(w io.Writer, level int) error {
	n.mu.RLock()
	edges := slices.Clone(n.children)
	n.mu.RUnlock()

	for _, e := range edges {
		c := n.trie.nodes.get(e.id)
		if _, err := fmt.Fprintf(w, "%s%c (%d/%d)\n",
			strings.Repeat("-", level), e.r, c.childCount(), c.factCount()); err != nil {
			return err
		}
		if err := c.dump(w, level+1); err != nil {
			return err
		}
	}
	return nil
}
