package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB is a Backend keeping the journal in a SQLite table.
type DB struct {
	*sql.DB
	Path string
}

// OpenSQLite opens (or creates) the SQLite journal at the given path,
// configures pragmas, and runs migrations.
func OpenSQLite(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return initDB(sqlDB, path)
}

// OpenSQLiteMemory opens an in-memory SQLite journal for testing.
func OpenSQLiteMemory() (*DB, error) {
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// every pooled connection would get its own empty database
	sqlDB.SetMaxOpenConns(1)
	return initDB(sqlDB, ":memory:")
}

func initDB(sqlDB *sql.DB, path string) (*DB, error) {
	db := &DB{DB: sqlDB, Path: path}
	if err := db.configurePragmas(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) configurePragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

func (db *DB) Append(entries []Entry) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	if err := insertEntries(tx, entries); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}

func insertEntries(tx *sql.Tx, entries []Entry) error {
	stmt, err := tx.Prepare(`
		INSERT INTO journal (fact_key, deleted, record, written_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, e := range entries {
		data, err := encodeEntry(e)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(e.Key, e.Deleted, string(data), now); err != nil {
			return fmt.Errorf("append %q: %w", e.Key, err)
		}
	}
	return nil
}

func (db *DB) Scan(ctx context.Context, fn func(pos int, e Entry) error) error {
	rows, err := db.QueryContext(ctx, `SELECT seq, record FROM journal ORDER BY seq`)
	if err != nil {
		return fmt.Errorf("scan journal: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			data string
		)
		if err := rows.Scan(&seq, &data); err != nil {
			return fmt.Errorf("scan journal row: %w", err)
		}
		e, err := decodeEntry(seq, []byte(data))
		if err != nil {
			return err
		}
		if err := fn(seq, e); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (db *DB) Empty() (bool, error) {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM journal").Scan(&count); err != nil {
		return false, fmt.Errorf("count journal: %w", err)
	}
	return count == 0, nil
}

func (db *DB) Rewrite(entries []Entry) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin rewrite: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM journal"); err != nil {
		tx.Rollback()
		return fmt.Errorf("clear journal: %w", err)
	}
	if err := insertEntries(tx, entries); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rewrite: %w", err)
	}
	return nil
}

// CountKey returns how many journal rows mention text, deletes included.
func (db *DB) CountKey(text string) (int, error) {
	var n int
	err := db.QueryRow("SELECT COUNT(*) FROM journal WHERE fact_key = ?", text).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count key: %w", err)
	}
	return n, nil
}
