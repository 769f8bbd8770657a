package store

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const maxLineSize = 4 << 20

// File is a Backend writing one JSON entry per line to an append-only file.
// Every append is fsynced before it returns.
type File struct {
	Path string

	mu sync.Mutex
	f  appendFile
}

// appendFile is the part of *os.File an append needs.
type appendFile interface {
	io.Writer
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
	Sync() error
	Close() error
}

// DefaultPath returns the default journal path: ~/.albaum/albaum.log
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".albaum", "albaum.log"), nil
}

// OpenFile opens (or creates) the journal file at path.
func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &File{Path: path, f: f}, nil
}

func openAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return f, nil
}

func (fb *File) Append(entries []Entry) error {
	buf, err := encodeLines(nil, entries)
	if err != nil {
		return err
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.f == nil {
		return ErrClosed
	}

	st, err := fb.f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", fb.Path, err)
	}
	if _, err := fb.f.Write(buf); err != nil {
		return fb.truncate(st.Size(), fmt.Errorf("write %s: %w", fb.Path, err))
	}
	if err := fb.f.Sync(); err != nil {
		return fb.truncate(st.Size(), fmt.Errorf("sync %s: %w", fb.Path, err))
	}
	return nil
}

// truncate cuts a failed append back to size so no torn line survives.
func (fb *File) truncate(size int64, cause error) error {
	if err := fb.f.Truncate(size); err != nil {
		return fmt.Errorf("%w (truncate to %d: %v)", cause, size, err)
	}
	return cause
}

func (fb *File) Scan(ctx context.Context, fn func(pos int, e Entry) error) error {
	r, err := os.Open(fb.Path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer r.Close()

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for sc.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return err
		}
		data := sc.Bytes()
		if len(bytes.TrimSpace(data)) == 0 {
			continue
		}
		e, err := decodeEntry(line, data)
		if err != nil {
			return err
		}
		if err := fn(line, e); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: line %d: %w", fb.Path, line+1, err)
	}
	return nil
}

// Empty reports whether the file holds no bytes.
func (fb *File) Empty() (bool, error) {
	st, err := os.Stat(fb.Path)
	if err != nil {
		return false, fmt.Errorf("stat journal: %w", err)
	}
	return st.Size() == 0, nil
}

// Rewrite writes entries to a temporary file next to the journal and
// renames it into place.
func (fb *File) Rewrite(entries []Entry) error {
	buf, err := encodeLines(nil, entries)
	if err != nil {
		return err
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.f == nil {
		return ErrClosed
	}

	tmp, err := os.CreateTemp(filepath.Dir(fb.Path), filepath.Base(fb.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp journal: %w", err)
	}
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp journal: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync temp journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp journal: %w", err)
	}
	if err := os.Rename(tmp.Name(), fb.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace journal: %w", err)
	}

	fb.f.Close()
	f, err := openAppend(fb.Path)
	if err != nil {
		fb.f = nil
		return err
	}
	fb.f = f
	return nil
}

func (fb *File) Close() error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.f == nil {
		return nil
	}
	err := fb.f.Close()
	fb.f = nil
	return err
}
