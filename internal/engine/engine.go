// Package engine drives a main fact index and a scratch index holding the
// current result set, the way an interactive front end uses them: store,
// search, edit, delete, pin and complete.
package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/moforw/albaum/internal/index"
	"github.com/moforw/albaum/internal/key"
	"github.com/moforw/albaum/internal/metrics"
)

// MinInputLength is the shortest text that is searched for or stored.
const MinInputLength = 2

// Options configures an Engine. Zero values select defaults.
type Options struct {
	Workers int
	Logger  *zap.Logger
	Metrics metrics.Collector
}

// Engine orchestrates the main index, the scratch index and the worker pool
// that applies mutations.
type Engine struct {
	main    *index.Trie
	scratch *index.Trie
	pool    *WorkerPool
	log     *zap.Logger
	metrics metrics.Collector

	mu     sync.Mutex
	shown  map[*index.Fact]*index.Fact // main fact -> scratch clone
	pinned map[string]struct{}
	query  string

	flash    atomic.Pointer[string]
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates an Engine over main, which should already be loaded.
func New(main *index.Trie, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopCollector()
	}

	e := &Engine{
		main:    main,
		scratch: index.New(index.WithClock(main.Clock()), index.WithLogger(log.Named("scratch"))),
		pool:    NewWorkerPool(opts.Workers),
		log:     log,
		metrics: m,
		shown:   make(map[*index.Fact]*index.Fact),
		pinned:  make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}
	empty := ""
	e.flash.Store(&empty)
	e.reloadClock()
	e.refreshSizes(context.Background())
	return e
}

func (e *Engine) Main() *index.Trie    { return e.main }
func (e *Engine) Scratch() *index.Trie { return e.scratch }

// Close stops the flash timer and the worker pool. Queued mutations still
// run; later ones fail with ErrClosed.
func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.pool.Close()
}

func errorType(err error) string {
	switch {
	case errors.Is(err, ErrClosed):
		return "closed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "journal"
}

func (e *Engine) record(ctx context.Context, op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
		e.metrics.RecordError(ctx, op, errorType(err))
	}
	e.metrics.RecordOperation(ctx, op, status, time.Since(start).Milliseconds())
}

// run executes fn on the worker pool and records it under op.
func (e *Engine) run(ctx context.Context, op string, fn func() error) error {
	start := time.Now()
	err := e.pool.Do(ctx, fn)
	e.metrics.SetPoolQueue(ctx, e.pool.Queued())
	e.record(ctx, op, start, err)
	if err != nil {
		e.log.Warn("operation failed", zap.String("op", op), zap.Error(err))
	} else {
		e.refreshSizes(ctx)
	}
	return err
}

func (e *Engine) refreshSizes(ctx context.Context) {
	e.mu.Lock()
	shown := len(e.shown)
	e.mu.Unlock()
	e.metrics.SetIndexSize(ctx, "nodes", int64(e.main.NodeCount()))
	e.metrics.SetIndexSize(ctx, "shown", int64(shown))
}

// apply runs mutate against the main index in one batch, commits it, and
// then brings the scratch index in line with the committed changes.
func (e *Engine) apply(mutate func(b *index.Batch) *index.Node) (*index.Node, error) {
	b := index.NewBatch()
	n := mutate(b)
	changes := b.Changes()
	if err := b.Commit(); err != nil {
		return nil, err
	}
	e.mirror(changes)
	return n, nil
}

// mirror shows newly stored facts and hides removed ones.
func (e *Engine) mirror(changes []index.Change) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, c := range changes {
		if !c.Canonical() {
			continue
		}
		switch c.Op {
		case index.OpDelete:
			if clone, ok := e.shown[c.Fact]; ok {
				e.scratch.DeleteAll(clone, nil)
				delete(e.shown, c.Fact)
			}
		case index.OpInsert:
			e.showLocked(c.Fact)
		}
	}
}

func (e *Engine) showLocked(f *index.Fact) {
	if _, ok := e.shown[f]; ok {
		return
	}
	clone := f.Clone()
	e.scratch.Index(clone, nil)
	e.shown[f] = clone
}

// owned returns the main index fact f stands for: f itself, or the fact a
// scratch clone was made from.
func (e *Engine) owned(f *index.Fact) (*index.Fact, error) {
	for g := f; g != nil; g = g.Prototype {
		if refs := g.Refs(); len(refs) > 0 && refs[0].Trie == e.main.ID() {
			return g, nil
		}
	}
	return nil, ErrNotFound
}

// storedAt picks the fact a mutation left at n.
func storedAt(n *index.Node, text string, fallback *index.Fact) *index.Fact {
	fs := n.Facts()
	for _, f := range fs {
		if f.Text == text {
			return f
		}
	}
	if len(fs) > 0 {
		return fs[0]
	}
	if f := n.FirstFact(); f != nil {
		return f
	}
	return fallback
}

// Store indexes text as a new fact and returns the fact the index now holds
// for it. That is a new version of an existing fact when text completes a
// todo item or changes a setting.
func (e *Engine) Store(ctx context.Context, text string) (*index.Fact, error) {
	if utf8.RuneCountInString(text) < MinInputLength {
		return nil, ErrInputTooShort
	}

	var stored *index.Fact
	err := e.run(ctx, "store", func() error {
		f := index.NewFact(text)
		n, err := e.apply(func(b *index.Batch) *index.Node {
			return e.main.InsertAll(f, b)
		})
		if err != nil {
			return err
		}
		stored = storedAt(n, text, f)
		e.afterStore(stored.Text)
		return nil
	})
	return stored, err
}

// Edit replaces f with a new version carrying text.
func (e *Engine) Edit(ctx context.Context, f *index.Fact, text string) (*index.Fact, error) {
	if utf8.RuneCountInString(text) < MinInputLength {
		return nil, ErrInputTooShort
	}

	var stored *index.Fact
	err := e.run(ctx, "edit", func() error {
		cur, err := e.owned(f)
		if err != nil {
			return err
		}
		if cur.Text == text {
			stored = cur
			return nil
		}

		next := cur.Derive(text)
		n, err := e.apply(func(b *index.Batch) *index.Node {
			e.main.DeleteAll(cur, b)
			return e.main.InsertAll(next, b)
		})
		if err != nil {
			return err
		}
		stored = storedAt(n, text, next)
		e.afterStore(stored.Text)
		return nil
	})
	return stored, err
}

// Delete removes f from the main index.
func (e *Engine) Delete(ctx context.Context, f *index.Fact) error {
	return e.run(ctx, "delete", func() error {
		cur, err := e.owned(f)
		if err != nil {
			return err
		}
		_, err = e.apply(func(b *index.Batch) *index.Node {
			e.main.DeleteAll(cur, b)
			return nil
		})
		if err != nil {
			return err
		}
		if key.Next(cur.Text, 0) == index.SettingTimeFormat {
			e.reloadClock()
		}
		return nil
	})
}

// Lookup returns the newest stored fact whose text is exactly text.
func (e *Engine) Lookup(text string) (*index.Fact, error) {
	for _, f := range e.main.Root().FindAllFacts(text) {
		if f.Text == text {
			return f, nil
		}
	}
	return nil, ErrNotFound
}

// Facts returns every stored fact in fact order.
func (e *Engine) Facts() []*index.Fact {
	return e.main.Root().AllFacts()
}

// Stats is a snapshot of the engine state.
type Stats struct {
	Nodes   int    `json:"nodes"`
	Shown   int    `json:"shown"`
	Pinned  int    `json:"pinned"`
	Workers int    `json:"workers"`
	Queued  int    `json:"queued"`
	Query   string `json:"query"`
}

// Stats reports index and pool sizes.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Nodes:   e.main.NodeCount(),
		Shown:   len(e.shown),
		Pinned:  len(e.pinned),
		Workers: e.pool.Workers(),
		Queued:  e.pool.Queued(),
		Query:   e.query,
	}
}
