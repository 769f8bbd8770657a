package index

import (
	"sync"
	"sync/atomic"
)

const (
	segmentBits = 12
	segmentSize = 1 << segmentBits
	segmentMask = segmentSize - 1
)

// NodeID addresses a node within the arena of the trie that owns it.
type NodeID uint32

// NodeRef addresses a node across tries.
type NodeRef struct {
	Trie uint32
	Node NodeID
}

type segment struct {
	items [segmentSize]atomic.Pointer[Node]
}

// arena is an append-only segmented store of nodes. Reads are lock-free;
// growth is serialized by mu.
type arena struct {
	segments atomic.Pointer[[]*segment]
	next     atomic.Uint32
	mu       sync.Mutex
}

func newArena() *arena {
	a := &arena{}
	segs := make([]*segment, 0)
	a.segments.Store(&segs)
	return a
}

// add stores n under a fresh id and returns it. n.id is set before n
// becomes visible.
func (a *arena) add(n *Node) NodeID {
	id := NodeID(a.next.Add(1) - 1)
	n.id = id
	a.segment(int(id >> segmentBits)).items[id&segmentMask].Store(n)
	return id
}

func (a *arena) get(id NodeID) *Node {
	segs := *a.segments.Load()
	idx := int(id >> segmentBits)
	if idx >= len(segs) || segs[idx] == nil {
		return nil
	}
	return segs[idx].items[id&segmentMask].Load()
}

func (a *arena) len() int {
	return int(a.next.Load())
}

func (a *arena) segment(idx int) *segment {
	segs := *a.segments.Load()
	if idx < len(segs) && segs[idx] != nil {
		return segs[idx]
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	segs = *a.segments.Load()
	if idx < len(segs) && segs[idx] != nil {
		return segs[idx]
	}

	grown := make([]*segment, max(idx+1, len(segs)))
	copy(grown, segs)
	if grown[idx] == nil {
		grown[idx] = &segment{}
	}
	a.segments.Store(&grown)
	return grown[idx]
}
