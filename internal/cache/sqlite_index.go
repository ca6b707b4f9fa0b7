package cache

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	// Registers the sqlite3 driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/book-expert/narrator/internal/core"
	"github.com/book-expert/narrator/internal/fsutil"
)

// IndexFileName is the sidecar database kept in the cache directory.
const IndexFileName = "index.db"

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint      TEXT PRIMARY KEY,
	engine           TEXT NOT NULL,
	size             INTEGER NOT NULL,
	sample_rate      INTEGER NOT NULL,
	channels         INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_accessed ON cache_entries(last_accessed_at);
`

// SQLiteIndex stores entry metadata in a sqlite database.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex opens (or creates) the index database at path.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	err := fsutil.EnsureDir(filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache index: %w", err)
	}

	_, err = db.Exec(schema)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to initialize cache index schema: %w", err)
	}

	return &SQLiteIndex{db: db}, nil
}

func (s *SQLiteIndex) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT fingerprint, engine, size, sample_rate, channels, created_at, last_accessed_at FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache index: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			entry              Entry
			fp                 string
			created, lastTouch int64
		)

		err = rows.Scan(&fp, &entry.Engine, &entry.Size, &entry.SampleRate, &entry.Channels, &created, &lastTouch)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache index row: %w", err)
		}

		entry.Fingerprint = core.Fingerprint(fp)
		entry.CreatedAt = time.Unix(0, created)
		entry.LastAccessedAt = time.Unix(0, lastTouch)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *SQLiteIndex) Upsert(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (fingerprint, engine, size, sample_rate, channels, created_at, last_accessed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			engine = excluded.engine,
			size = excluded.size,
			sample_rate = excluded.sample_rate,
			channels = excluded.channels,
			created_at = excluded.created_at,
			last_accessed_at = excluded.last_accessed_at`,
		string(entry.Fingerprint), entry.Engine, entry.Size, entry.SampleRate, entry.Channels,
		entry.CreatedAt.UnixNano(), entry.LastAccessedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert cache entry %s: %w", entry.Fingerprint, err)
	}

	return nil
}

func (s *SQLiteIndex) Touch(ctx context.Context, fp core.Fingerprint, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cache_entries SET last_accessed_at = ? WHERE fingerprint = ?`, at.UnixNano(), string(fp))
	if err != nil {
		return fmt.Errorf("failed to touch cache entry %s: %w", fp, err)
	}

	return nil
}

func (s *SQLiteIndex) Remove(ctx context.Context, fp core.Fingerprint) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE fingerprint = ?`, string(fp))
	if err != nil {
		return fmt.Errorf("failed to remove cache entry %s: %w", fp, err)
	}

	return nil
}

func (s *SQLiteIndex) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("failed to clear cache index: %w", err)
	}

	return nil
}

func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
