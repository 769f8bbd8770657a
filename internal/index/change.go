package index

import (
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moforw/albaum/internal/key"
)

// Op is the kind of a recorded change.
type Op uint8

const (
	OpInsert Op = iota + 1
	OpDelete
)

func (o Op) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Change is one fact anchored at or removed from one node.
type Change struct {
	Op   Op
	Node *Node
	Fact *Fact
}

// Canonical reports whether the change touches the fact's own text path, as
// opposed to one of its variant paths. Only canonical changes are persisted.
func (c Change) Canonical() bool {
	return key.EqualFold(key.Strip(c.Node.key), key.Strip(c.Fact.Text))
}

func (c Change) rollback() {
	switch c.Op {
	case OpInsert:
		c.Node.unlink(c.Fact)
	case OpDelete:
		c.Node.link(c.Fact)
	default:
		panic(fmt.Sprintf("index: rollback of unknown %v", c.Op))
	}
}

// Record is a persisted change.
type Record struct {
	Op   Op
	Fact *Fact
}

// Journal persists committed records. Append must write all of recs or
// return an error.
type Journal interface {
	Append(recs []Record) error
}

// Batch collects the changes of one logical action so they can be committed
// or rolled back together. Either call empties the batch. A nil *Batch
// records nothing.
type Batch struct {
	id uuid.UUID

	mu      sync.Mutex
	changes []Change
}

// NewBatch returns an empty batch with a fresh id.
func NewBatch() *Batch {
	return &Batch{id: uuid.New()}
}

// ID identifies b in logs.
func (b *Batch) ID() uuid.UUID {
	return b.id
}

// Len returns the number of pending changes.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.changes)
}

// Changes returns the pending changes in recording order.
func (b *Batch) Changes() []Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.changes)
}

func (b *Batch) add(c Change) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.changes = append(b.changes, c)
	b.mu.Unlock()
}

func (b *Batch) take() []Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	cs := b.changes
	b.changes = nil
	return cs
}

type journalGroup struct {
	trie *Trie
	j    Journal
	recs []Record
}

// Commit persists the canonical changes, one Append per journal, in
// recording order. If an append fails, every pending change is rolled back
// and the error is returned.
func (b *Batch) Commit() error {
	cs := b.take()
	if len(cs) == 0 {
		return nil
	}

	var (
		groups []*journalGroup
		byTrie = make(map[*Trie]*journalGroup)
	)
	for _, c := range cs {
		if !c.Canonical() {
			continue
		}
		t := c.Node.trie
		g, ok := byTrie[t]
		if !ok {
			j := t.Journal()
			if j == nil {
				continue
			}
			g = &journalGroup{trie: t, j: j}
			byTrie[t] = g
			groups = append(groups, g)
		}
		g.recs = append(g.recs, Record{Op: c.Op, Fact: c.Fact})
	}

	for _, g := range groups {
		if err := g.j.Append(g.recs); err != nil {
			rollback(cs)
			g.trie.log.Warn("batch rolled back",
				zap.String("batch", b.id.String()),
				zap.Int("changes", len(cs)),
				zap.Error(err))
			return fmt.Errorf("commit batch %s: %w", b.id, err)
		}
		g.trie.log.Debug("batch committed",
			zap.String("batch", b.id.String()),
			zap.Int("records", len(g.recs)))
	}
	return nil
}

// Rollback undoes the pending changes in reverse recording order.
func (b *Batch) Rollback() {
	rollback(b.take())
}

func rollback(cs []Change) {
	for i := len(cs) - 1; i >= 0; i-- {
		cs[i].rollback()
	}
}
