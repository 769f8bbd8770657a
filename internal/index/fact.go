package index

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/moforw/albaum/internal/key"
	"github.com/moforw/albaum/internal/timefmt"
)

// NullTime marks a fact that is not time-stamped; such facts are not
// indexed under #at.
var NullTime = timefmt.Null

// IsNullTime reports whether t is NullTime.
func IsNullTime(t time.Time) bool {
	return timefmt.IsNull(t)
}

// Now returns the current time truncated to the minute, the resolution of
// fact timestamps.
func Now() time.Time {
	return time.Now().Truncate(time.Minute)
}

var factSeq atomic.Uint32

// Fact is one stored version of a piece of user text. Its exported fields
// never change after construction; editing produces a new Fact via Derive.
type Fact struct {
	Text      string
	CreatedAt time.Time
	Version   int
	// Previous is the version this one replaced.
	Previous *Fact
	// Prototype is the fact this one was derived or cloned from. It only
	// correlates in-memory copies and is never persisted.
	Prototype *Fact

	id uint32

	mu   sync.Mutex
	refs map[NodeRef]struct{}
}

// NewFact creates version 1 of text, stamped now.
func NewFact(text string) *Fact {
	return NewFactAt(text, Now())
}

// NewFactAt creates version 1 of text with an explicit timestamp, which may
// be NullTime.
func NewFactAt(text string, at time.Time) *Fact {
	return &Fact{
		Text:      text,
		CreatedAt: at,
		Version:   1,
		id:        factSeq.Add(1),
	}
}

// RestoreFact rebuilds a persisted version with its lineage.
func RestoreFact(text string, at time.Time, version int, previous *Fact) *Fact {
	f := NewFactAt(text, at)
	f.Version = version
	f.Previous = previous
	return f
}

// Derive returns the next version of f carrying text.
func (f *Fact) Derive(text string) *Fact {
	return &Fact{
		Text:      text,
		CreatedAt: Now(),
		Version:   f.Version + 1,
		Previous:  f,
		Prototype: f,
		id:        factSeq.Add(1),
	}
}

// Clone returns a copy of f with the same content and lineage but its own
// node references, so the copy can be indexed by a second trie.
func (f *Fact) Clone() *Fact {
	return &Fact{
		Text:      f.Text,
		CreatedAt: f.CreatedAt,
		Version:   f.Version,
		Previous:  f.Previous,
		Prototype: f,
		id:        factSeq.Add(1),
	}
}

// ID is the process-unique handle of f.
func (f *Fact) ID() uint32 {
	return f.id
}

// Refs returns the nodes currently anchoring f.
func (f *Fact) Refs() []NodeRef {
	f.mu.Lock()
	res := make([]NodeRef, 0, len(f.refs))
	for r := range f.refs {
		res = append(res, r)
	}
	f.mu.Unlock()

	sort.Slice(res, func(i, j int) bool {
		if res[i].Trie != res[j].Trie {
			return res[i].Trie < res[j].Trie
		}
		return res[i].Node < res[j].Node
	})
	return res
}

func (f *Fact) addRef(r NodeRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refs == nil {
		f.refs = make(map[NodeRef]struct{})
	}
	f.refs[r] = struct{}{}
}

func (f *Fact) removeRef(r NodeRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refs, r)
}

func (f *Fact) String() string {
	return fmt.Sprintf("'%s':%d", f.Text, f.Version)
}

// CompareFacts orders facts by text ignoring case, newest first on ties.
// Facts comparing equal are the same entry in a node's fact set.
func CompareFacts(a, b *Fact) int {
	if res := key.CompareFold(a.Text, b.Text); res != 0 {
		return res
	}
	return b.CreatedAt.Compare(a.CreatedAt)
}

// SameFact reports whether a and b are the same entry by content.
func SameFact(a, b *Fact) bool {
	return CompareFacts(a, b) == 0
}

// SortFacts sorts fs in fact order and drops entries equal by content.
func SortFacts(fs []*Fact) []*Fact {
	sort.SliceStable(fs, func(i, j int) bool { return CompareFacts(fs[i], fs[j]) < 0 })
	out := fs[:0]
	for _, f := range fs {
		if len(out) > 0 && SameFact(out[len(out)-1], f) {
			continue
		}
		out = append(out, f)
	}
	return out
}
