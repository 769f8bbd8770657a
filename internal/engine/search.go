package engine

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/moforw/albaum/internal/index"
	"github.com/moforw/albaum/internal/key"
)

// Group is one row of a result list: the facts first shown under a scratch
// index node.
type Group struct {
	Key        string        `json:"key"`
	Score      int           `json:"score"`
	InsertedAt time.Time     `json:"insertedAt"`
	Pinned     bool          `json:"pinned"`
	Facts      []*index.Fact `json:"-"`
}

// Single reports whether the group stands for exactly one fact, which a
// result list shows as the fact itself rather than as a header.
func (g Group) Single() bool {
	return len(g.Facts) == 1
}

// Search finds the facts matching q, replaces the unpinned part of the
// scratch index with them and returns the regrouped results. Queries shorter
// than MinInputLength match nothing and so only drop unpinned results. A
// search whose context ends before it is published returns the context
// error and leaves the previous result set untouched.
func (e *Engine) Search(ctx context.Context, q string) ([]Group, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var found []*index.Fact
	if utf8.RuneCountInString(q) >= MinInputLength {
		found = e.main.FindAll(q, MinInputLength)
	}
	if err := ctx.Err(); err != nil {
		e.record(ctx, "search", start, err)
		return nil, err
	}

	e.mu.Lock()
	hit := make(map[*index.Fact]struct{}, len(found))
	for _, f := range found {
		hit[f] = struct{}{}
	}
	for f, clone := range e.shown {
		if _, ok := hit[f]; ok {
			continue
		}
		if _, ok := e.pinned[f.Text]; ok {
			continue
		}
		e.scratch.DeleteAll(clone, nil)
		delete(e.shown, f)
	}
	for _, f := range found {
		e.showLocked(f)
	}
	e.query = q
	groups := e.resultsLocked(q)
	e.mu.Unlock()

	e.log.Debug("search",
		zap.String("query", q),
		zap.Int("facts", len(found)),
		zap.Int("groups", len(groups)),
		zap.Duration("took", time.Since(start)))
	e.record(ctx, "search", start, nil)
	e.refreshSizes(ctx)
	return groups, nil
}

// Results regroups the current scratch index for q without searching again.
func (e *Engine) Results(q string) []Group {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.resultsLocked(q)
}

func (e *Engine) resultsLocked(q string) []Group {
	nodes := e.scratch.Root().AllWithFacts()
	for _, n := range nodes {
		n.UpdateScore(q)
	}
	slices.SortStableFunc(nodes, index.CompareScore)

	seen := make(map[*index.Fact]struct{})
	var groups []Group
	for _, n := range nodes {
		var fs []*index.Fact
		pinned := true
		for _, c := range n.Facts() {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			f := c.Prototype
			if f == nil {
				f = c
			}
			if _, ok := e.pinned[f.Text]; !ok {
				pinned = false
			}
			fs = append(fs, f)
		}
		if len(fs) == 0 {
			continue
		}
		groups = append(groups, Group{
			Key:        n.Key(),
			Score:      n.Score(),
			InsertedAt: n.InsertedAt(),
			Pinned:     pinned,
			Facts:      fs,
		})
	}
	return groups
}

// Query returns the text of the last search.
func (e *Engine) Query() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.query
}

// Pin keeps facts with the given texts in the result set across searches.
func (e *Engine) Pin(texts ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range texts {
		e.pinned[t] = struct{}{}
	}
}

// Unpin releases texts; they leave the result set on the next search that
// does not match them.
func (e *Engine) Unpin(texts ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range texts {
		delete(e.pinned, t)
	}
}

// Pinned returns the pinned texts in sorted order.
func (e *Engine) Pinned() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := make([]string, 0, len(e.pinned))
	for t := range e.pinned {
		res = append(res, t)
	}
	slices.Sort(res)
	return res
}

// Completion is what the input line should offer for the text typed so far.
type Completion struct {
	Input string `json:"input"`
	// Match is the shown fact the input already names, if any.
	Match *index.Fact `json:"-"`
	// Extended is the longer key the input can be completed to, or "".
	Extended string `json:"extended,omitempty"`
}

// Check looks input up in the result set. A fact whose text equals input
// ignoring case is a match; so is the only fact at input's node when its
// text contains input. Unless the user is deleting, input of at least
// MinInputLength runes is also extended along unambiguous keys.
func (e *Engine) Check(input string, backspacing bool) Completion {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := Completion{Input: input}
	n := e.scratch.Find(input)
	if n == nil {
		return res
	}

	facts := n.Facts()
	for _, f := range facts {
		if key.EqualFold(f.Text, input) {
			res.Match = f
			break
		}
	}
	if res.Match == nil && len(facts) == 1 && strings.Contains(facts[0].Text, input) {
		res.Match = facts[0]
	}
	if res.Match != nil && res.Match.Prototype != nil {
		res.Match = res.Match.Prototype
	}

	if !backspacing && utf8.RuneCountInString(input) >= MinInputLength {
		if en := n.Extend(); en != n {
			res.Extended = en.Key()
		}
	}
	return res
}
