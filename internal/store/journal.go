package store

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	"github.com/moforw/albaum/internal/index"
	"github.com/moforw/albaum/internal/key"
	"github.com/moforw/albaum/internal/timefmt"
)

// Backend names accepted by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
)

// Seeds are written to a journal that has no records yet.
var Seeds = []string{
	"#caption Not your mother's todo list",
	"#done ",
	"#flash ",
	"#font DejaVu Sans Mono",
	"#font-size 10",
	"#time-format " + timefmt.DefaultPattern,
	"#todo ",
}

// Backend stores journal entries in append order.
type Backend interface {
	// Append writes all entries durably or none.
	Append(entries []Entry) error
	// Scan calls fn for every entry in append order. pos identifies the
	// entry in error messages.
	Scan(ctx context.Context, fn func(pos int, e Entry) error) error
	// Rewrite atomically replaces the stored entries.
	Rewrite(entries []Entry) error
	// Empty reports whether nothing has been stored yet.
	Empty() (bool, error)
	Close() error
}

// Journal persists committed index changes and replays them at startup.
// Timestamps are always written in the fixed default pattern, whatever
// #time-format says.
type Journal struct {
	backend Backend
	clock   *timefmt.Formatter
	log     *zap.Logger

	mu     sync.Mutex
	closed bool
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger for replay and compaction messages.
func WithLogger(l *zap.Logger) Option {
	return func(j *Journal) { j.log = l }
}

// WithClock overrides the formatter used for persisted timestamps.
func WithClock(f *timefmt.Formatter) Option {
	return func(j *Journal) { j.clock = f }
}

// New wraps b.
func New(b Backend, opts ...Option) *Journal {
	j := &Journal{
		backend: b,
		clock:   timefmt.Default(),
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// OpenBackend opens the named backend at path.
func OpenBackend(name, path string, log *zap.Logger) (Backend, error) {
	switch name {
	case BackendFile, "":
		return OpenFile(path)
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendBadger:
		return OpenBadger(path, log)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, name)
}

// OpenJournal opens the named backend and seeds it if it is new.
func OpenJournal(name, path string, opts ...Option) (*Journal, error) {
	j := New(nil, opts...)
	b, err := OpenBackend(name, path, j.log)
	if err != nil {
		return nil, err
	}
	j.backend = b

	seeded, err := j.Seed()
	if err != nil {
		b.Close()
		return nil, err
	}
	if seeded {
		j.log.Info("journal seeded", zap.String("backend", name), zap.String("path", path))
	}
	return j, nil
}

// Backend returns the underlying store.
func (j *Journal) Backend() Backend {
	return j.backend
}

// Seed writes the default settings if the journal is empty. It reports
// whether it wrote anything.
func (j *Journal) Seed() (bool, error) {
	empty, err := j.backend.Empty()
	if err != nil {
		return false, fmt.Errorf("check journal: %w", err)
	}
	if !empty {
		return false, nil
	}

	recs := make([]index.Record, len(Seeds))
	for i, s := range Seeds {
		recs[i] = index.Record{Op: index.OpInsert, Fact: index.NewFactAt(s, index.NullTime)}
	}
	if err := j.Append(recs); err != nil {
		return false, fmt.Errorf("seed journal: %w", err)
	}
	return true, nil
}

func (j *Journal) entry(f *index.Fact) Entry {
	return Entry{
		Key:       f.Text,
		CreatedAt: j.clock.Format(f.CreatedAt),
		Version:   f.Version,
	}
}

func (j *Journal) encode(r index.Record) Entry {
	e := j.entry(r.Fact)
	switch r.Op {
	case index.OpInsert:
		if p := r.Fact.Previous; p != nil {
			pe := j.entry(p)
			e.PreviousVersion = &pe
		}
	case index.OpDelete:
		e.Deleted = true
	default:
		panic(fmt.Sprintf("store: unknown record %v", r.Op))
	}
	return e
}

// Append implements index.Journal.
func (j *Journal) Append(recs []index.Record) error {
	entries := make([]Entry, len(recs))
	for i, r := range recs {
		entries[i] = j.encode(r)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if err := j.backend.Append(entries); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

func (j *Journal) fact(pos int, e Entry) (*index.Fact, error) {
	if e.Version < 1 {
		return nil, fmt.Errorf("%w: line %d: version %d", ErrMalformedRecord, pos, e.Version)
	}
	at, err := j.clock.Parse(e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedRecord, pos, err)
	}

	var prev *index.Fact
	if p := e.PreviousVersion; p != nil {
		pat, err := j.clock.Parse(p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: previous version: %v", ErrMalformedRecord, pos, err)
		}
		prev = index.RestoreFact(p.Key, pat, p.Version, nil)
	}
	return index.RestoreFact(e.Key, at, e.Version, prev), nil
}

type contentKey struct {
	text string
	at   int64
}

func contentKeyOf(f *index.Fact) contentKey {
	return contentKey{text: key.Fold(f.Text), at: f.CreatedAt.UnixNano()}
}

// replay folds the journal into the surviving facts. Later records replace
// earlier ones with equal content; delete records remove them.
func (j *Journal) replay(ctx context.Context, tee func(Entry) error) ([]*index.Fact, int, error) {
	live := make(map[contentKey]*index.Fact)
	records := 0

	err := j.backend.Scan(ctx, func(pos int, e Entry) error {
		if tee != nil {
			if err := tee(e); err != nil {
				return err
			}
		}
		f, err := j.fact(pos, e)
		if err != nil {
			return err
		}
		records++
		if e.Deleted {
			delete(live, contentKeyOf(f))
		} else {
			live[contentKeyOf(f)] = f
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	facts := make([]*index.Fact, 0, len(live))
	for _, f := range live {
		facts = append(facts, f)
	}
	return index.SortFacts(facts), records, nil
}

// Facts returns the facts that survive a replay, in fact order.
func (j *Journal) Facts(ctx context.Context) ([]*index.Fact, error) {
	facts, _, err := j.replay(ctx, nil)
	return facts, err
}

// LoadStats summarizes a Load.
type LoadStats struct {
	Records int
	Facts   int
	Took    time.Duration
}

// Load replays the journal into t and then attaches itself as t's journal,
// so replayed facts are not written back.
func (j *Journal) Load(ctx context.Context, t *index.Trie) (LoadStats, error) {
	start := time.Now()

	facts, records, err := j.replay(ctx, nil)
	if err != nil {
		return LoadStats{}, fmt.Errorf("load journal: %w", err)
	}

	t.SetJournal(nil)
	b := index.NewBatch()
	for _, f := range facts {
		t.InsertAll(f, b)
	}
	if err := b.Commit(); err != nil {
		return LoadStats{}, fmt.Errorf("load journal: %w", err)
	}
	t.SetJournal(j)

	stats := LoadStats{Records: records, Facts: len(facts), Took: time.Since(start)}
	j.log.Info("journal loaded",
		zap.Int("records", stats.Records),
		zap.Int("facts", stats.Facts),
		zap.Duration("took", stats.Took))
	return stats, nil
}

// CompactStats summarizes a Compact.
type CompactStats struct {
	Before int
	After  int
}

// Compact writes every stored entry to archive as zstd-compressed JSON
// lines, then rewrites the journal to one insert entry per surviving fact.
func (j *Journal) Compact(ctx context.Context, archive io.Writer) (CompactStats, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return CompactStats{}, ErrClosed
	}

	zw, err := zstd.NewWriter(archive, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return CompactStats{}, fmt.Errorf("create archive encoder: %w", err)
	}

	facts, records, err := j.replay(ctx, func(e Entry) error {
		line, err := encodeLines(nil, []Entry{e})
		if err != nil {
			return err
		}
		_, err = zw.Write(line)
		return err
	})
	if err != nil {
		zw.Close()
		return CompactStats{}, fmt.Errorf("compact journal: %w", err)
	}
	if err := zw.Close(); err != nil {
		return CompactStats{}, fmt.Errorf("finish archive: %w", err)
	}

	entries := make([]Entry, len(facts))
	for i, f := range facts {
		entries[i] = j.encode(index.Record{Op: index.OpInsert, Fact: f})
	}
	if err := j.backend.Rewrite(entries); err != nil {
		return CompactStats{}, fmt.Errorf("rewrite journal: %w", err)
	}

	j.log.Info("journal compacted", zap.Int("before", records), zap.Int("after", len(entries)))
	return CompactStats{Before: records, After: len(entries)}, nil
}

// Close closes the backend. Appends after Close fail with ErrClosed.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.backend.Close()
}
