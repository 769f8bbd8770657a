package index

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 9, 17, 45, 0, 0, time.UTC)

func texts(fs []*Fact) []string {
	res := make([]string, len(fs))
	for i, f := range fs {
		res[i] = f.Text
	}
	return res
}

func TestNewFactTruncatesToMinute(t *testing.T) {
	f := NewFact("abc")
	assert.Equal(t, f.CreatedAt, f.CreatedAt.Truncate(time.Minute))
	assert.Equal(t, 1, f.Version)
	assert.Nil(t, f.Previous)
	assert.Nil(t, f.Prototype)
}

func TestDerive(t *testing.T) {
	f := NewFactAt("#caption one", NullTime)
	g := f.Derive("#caption two")

	assert.Equal(t, "#caption two", g.Text)
	assert.Equal(t, 2, g.Version)
	assert.Same(t, f, g.Previous)
	assert.Same(t, f, g.Prototype)
	assert.False(t, IsNullTime(g.CreatedAt))
	assert.NotEqual(t, f.ID(), g.ID())
}

func TestClone(t *testing.T) {
	f := NewFactAt("abc", t0).Derive("abd")
	c := f.Clone()

	assert.True(t, SameFact(f, c))
	assert.Equal(t, f.Version, c.Version)
	assert.Same(t, f.Previous, c.Previous)
	assert.Same(t, f, c.Prototype)
	assert.NotEqual(t, f.ID(), c.ID())

	f.addRef(NodeRef{Trie: 1, Node: 7})
	assert.Len(t, f.Refs(), 1)
	assert.Empty(t, c.Refs())
}

func TestCompareFacts(t *testing.T) {
	older := NewFactAt("abc", t0)
	newer := NewFactAt("ABC", t0.Add(time.Minute))

	assert.Equal(t, -1, CompareFacts(newer, older))
	assert.Equal(t, 1, CompareFacts(older, newer))
	assert.Equal(t, 0, CompareFacts(older, NewFactAt("aBc", t0)))
	assert.Equal(t, -1, CompareFacts(NewFactAt("abc", t0), NewFactAt("abd", t0)))
}

func TestSortFacts(t *testing.T) {
	fs := []*Fact{
		NewFactAt("def", t0),
		NewFactAt("abc", t0),
		NewFactAt("ABC", t0),
		NewFactAt("abc", t0.Add(time.Hour)),
	}
	res := SortFacts(fs)
	require.Len(t, res, 3)
	assert.Equal(t, []string{"abc", "abc", "def"}, texts(res))
	assert.True(t, res[0].CreatedAt.After(res[1].CreatedAt))
}

func TestFactString(t *testing.T) {
	assert.Equal(t, "'abc':1", NewFact("abc").String())
}
