package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Entries live under a generation prefix. Generation 0 uses "journal/",
// later ones "journal.<n>/". metaGenKey names the live generation.
const (
	badgerPrefix = "journal/"
	metaGenKey   = "meta/generation"
)

func generationPrefix(gen uint64) []byte {
	if gen == 0 {
		return []byte(badgerPrefix)
	}
	return []byte(fmt.Sprintf("journal.%d/", gen))
}

func badgerKey(prefix []byte, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016d", prefix, seq))
}

// zapBadgerLogger routes badger's internal logging to zap.
type zapBadgerLogger struct {
	s *zap.SugaredLogger
}

func (l zapBadgerLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l zapBadgerLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l zapBadgerLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l zapBadgerLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }

// Badger is a Backend keeping entries under zero-padded sequence keys.
type Badger struct {
	db  *badger.DB
	log *zap.Logger

	mu     sync.Mutex
	gen    uint64
	prefix []byte
	next   uint64

	// beforeSwitch runs after a rewrite is staged and before it goes live.
	beforeSwitch func() error
}

// OpenBadger opens (or creates) a badger journal in dir.
func OpenBadger(dir string, log *zap.Logger) (*Badger, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create badger dir %s: %w", dir, err)
	}
	return openBadger(badger.DefaultOptions(dir).WithSyncWrites(true), log)
}

// OpenBadgerMemory opens an in-memory badger journal for testing.
func OpenBadgerMemory() (*Badger, error) {
	return openBadger(badger.DefaultOptions("").WithInMemory(true), nil)
}

func openBadger(opts badger.Options, log *zap.Logger) (*Badger, error) {
	if log != nil {
		opts = opts.WithLogger(zapBadgerLogger{s: log.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}
	opts = opts.WithNumVersionsToKeep(1)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	b := &Badger{db: db, log: log, prefix: generationPrefix(0), next: 1}
	if err := b.initGeneration(); err != nil {
		db.Close()
		return nil, err
	}
	if err := b.initSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

// initGeneration reads the live generation, if a rewrite ever set one.
func (b *Badger) initGeneration() error {
	return b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaGenKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read journal generation: %w", err)
		}
		return item.Value(func(val []byte) error {
			gen, err := strconv.ParseUint(string(val), 10, 64)
			if err != nil {
				return fmt.Errorf("%w: generation %q", ErrMalformedRecord, val)
			}
			b.gen = gen
			b.prefix = generationPrefix(gen)
			return nil
		})
	})
}

// initSeq finds the highest stored sequence number.
func (b *Badger) initSeq() error {
	prefix := b.prefix
	return b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = true

		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(append(slices.Clone(prefix), 0xFF))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		k := it.Item().Key()
		seq, err := strconv.ParseUint(string(k[len(prefix):]), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: key %q", ErrMalformedRecord, k)
		}
		b.next = seq + 1
		return nil
	})
}

func (b *Badger) Append(entries []Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(entries)
}

func (b *Badger) appendLocked(entries []Entry) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for i, e := range entries {
			data, err := encodeEntry(e)
			if err != nil {
				return err
			}
			if err := txn.Set(badgerKey(b.prefix, b.next+uint64(i)), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger append: %w", err)
	}
	b.next += uint64(len(entries))
	return nil
}

func (b *Badger) Scan(ctx context.Context, fn func(pos int, e Entry) error) error {
	b.mu.Lock()
	prefix := b.prefix
	b.mu.Unlock()
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			k := item.Key()
			seq, err := strconv.ParseUint(string(k[len(prefix):]), 10, 64)
			if err != nil {
				return fmt.Errorf("%w: key %q", ErrMalformedRecord, k)
			}
			err = item.Value(func(val []byte) error {
				e, err := decodeEntry(int(seq), val)
				if err != nil {
					return err
				}
				return fn(int(seq), e)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Badger) Empty() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next == 1, nil
}

// Rewrite stages entries under the next generation prefix with a write
// batch, switches the generation key, and only then drops the old entries.
// A failure before the switch leaves the live generation untouched.
func (b *Badger) Rewrite(entries []Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	gen := b.gen + 1
	prefix := generationPrefix(gen)
	// Leftovers of an earlier failed rewrite.
	if err := b.db.DropPrefix(prefix); err != nil {
		return fmt.Errorf("badger clear generation %d: %w", gen, err)
	}

	if err := b.stage(prefix, entries); err != nil {
		b.discard(prefix)
		return err
	}
	if b.beforeSwitch != nil {
		if err := b.beforeSwitch(); err != nil {
			b.discard(prefix)
			return err
		}
	}
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaGenKey), []byte(strconv.FormatUint(gen, 10)))
	})
	if err != nil {
		b.discard(prefix)
		return fmt.Errorf("badger switch generation: %w", err)
	}

	old := b.prefix
	b.gen, b.prefix, b.next = gen, prefix, uint64(len(entries))+1
	if err := b.db.DropPrefix(old); err != nil {
		b.log.Warn("drop previous journal generation", zap.ByteString("prefix", old), zap.Error(err))
	}
	return nil
}

func (b *Badger) stage(prefix []byte, entries []Entry) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for i, e := range entries {
		data, err := encodeEntry(e)
		if err != nil {
			return err
		}
		if err := wb.Set(badgerKey(prefix, uint64(i)+1), data); err != nil {
			return fmt.Errorf("badger stage rewrite: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("badger stage rewrite: %w", err)
	}
	return nil
}

func (b *Badger) discard(prefix []byte) {
	if err := b.db.DropPrefix(prefix); err != nil {
		b.log.Warn("discard staged journal", zap.ByteString("prefix", prefix), zap.Error(err))
	}
}

func (b *Badger) Close() error {
	return b.db.Close()
}
