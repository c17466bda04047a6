// Package store provides the local record store for owned entries.
//
// The store is the single source of truth on-device. It runs over one of
// three backings:
//
//   - a local SQLite file (ncruces/go-sqlite3 embedded driver, WAL mode)
//   - an ephemeral in-memory database (tests, degraded production mode)
//   - a libSQL embedded replica handed in by the sync channel, in which
//     case replication to the cloud backend happens underneath us
//
// All mutation goes through the store; nothing else touches the database
// file. Remote-origin writes are applied through MergeEntry, which carries
// the record-granularity last-writer-wins policy.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/speaklife/declarations/internal/schema"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned when a lookup matches no entry.
var ErrNotFound = errors.New("entry not found")

type mode int

const (
	modeFile mode = iota
	modeMemory
	modeWrapped
)

// Store wraps the database connection for owned entries.
type Store struct {
	conn  *sql.DB
	path  string
	mode  mode
	dirty atomic.Int64
}

// Open creates or opens the store at the given file path using the
// embedded SQLite driver. The caller must Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, mode: modeFile}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return s, nil
}

// OpenMemory opens an ephemeral in-memory store. Used by tests and as the
// production fallback when the on-disk store cannot be opened.
func OpenMemory() (*Store, error) {
	conn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory store: %w", err)
	}
	// A pooled second connection would see a different empty database.
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping in-memory store: %w", err)
	}
	return &Store{conn: conn, mode: modeMemory}, nil
}

// Wrap builds a store over an externally-owned connection, typically the
// libSQL embedded replica opened by the sync channel. Close() does not
// close a wrapped connection; the channel owns its lifecycle.
func Wrap(conn *sql.DB, path string) (*Store, error) {
	if conn == nil {
		return nil, fmt.Errorf("conn cannot be nil")
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping replica: %w", err)
	}
	return &Store{conn: conn, path: path, mode: modeWrapped}, nil
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Path returns the on-disk location, empty for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// Close closes the store. File-backed stores checkpoint the WAL first.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if s.mode == modeFile {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
		}
	}
	if s.mode != modeWrapped {
		if err := s.conn.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	s.conn = nil
	return nil
}

// InitSchema creates the entries table and indexes. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		text TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT 'myOwn',
		bible_verse_text TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		last_modified TEXT NOT NULL,
		is_favorite INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_entries_kind ON entries(kind);
	CREATE INDEX IF NOT EXISTS idx_entries_kind_text ON entries(kind, text);
	CREATE INDEX IF NOT EXISTS idx_entries_modified ON entries(last_modified);

	-- Retrieval order for lists and the dedup scrub
	CREATE INDEX IF NOT EXISTS idx_entries_retrieval ON entries(kind, created_at, id);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// UpsertEntry writes a locally-edited entry unconditionally. Local writes
// are serialized by the owning process, so the incoming row is always the
// newest view of the record.
func (s *Store) UpsertEntry(e *schema.Entry) error {
	return s.UpsertEntryContext(context.Background(), e)
}

// UpsertEntryContext writes a local entry with context support.
func (s *Store) UpsertEntryContext(ctx context.Context, e *schema.Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	query := `
	INSERT INTO entries (
		id, kind, text, category, bible_verse_text,
		created_at, last_modified, is_favorite
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		text = excluded.text,
		category = excluded.category,
		bible_verse_text = excluded.bible_verse_text,
		last_modified = excluded.last_modified,
		is_favorite = excluded.is_favorite
	`

	_, err := s.conn.ExecContext(ctx, query,
		e.ID,
		string(e.Kind),
		e.Text,
		e.Category,
		e.BibleVerseText,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.LastModified.UTC().Format(time.RFC3339Nano),
		boolToInt(e.IsFavorite),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}

	s.dirty.Add(1)
	return nil
}

// MergeEntry applies a remote-origin (or migrated) entry under the
// last-writer-wins policy: the incoming row is dropped when a local row
// with the same id carries a later last_modified. Record granularity,
// not per-field.
func (s *Store) MergeEntry(ctx context.Context, e *schema.Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	query := `
	INSERT INTO entries (
		id, kind, text, category, bible_verse_text,
		created_at, last_modified, is_favorite
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		text = excluded.text,
		category = excluded.category,
		bible_verse_text = excluded.bible_verse_text,
		last_modified = excluded.last_modified,
		is_favorite = excluded.is_favorite
	WHERE excluded.last_modified >= entries.last_modified
	`

	_, err := s.conn.ExecContext(ctx, query,
		e.ID,
		string(e.Kind),
		e.Text,
		e.Category,
		e.BibleVerseText,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.LastModified.UTC().Format(time.RFC3339Nano),
		boolToInt(e.IsFavorite),
	)
	if err != nil {
		return fmt.Errorf("failed to merge entry: %w", err)
	}

	s.dirty.Add(1)
	return nil
}

// DeleteEntry removes an entry by id. Idempotent.
func (s *Store) DeleteEntry(id string) error {
	return s.DeleteEntryContext(context.Background(), id)
}

// DeleteEntryContext removes an entry with context support.
func (s *Store) DeleteEntryContext(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	s.dirty.Add(1)
	return nil
}

// DeleteEntries removes a batch of entries in one transaction.
func (s *Store) DeleteEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete entry %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletions: %w", err)
	}

	s.dirty.Add(1)
	return nil
}

// DeleteAllKind removes every entry of a kind and returns the deleted ids
// so in-memory projections can drop them.
func (s *Store) DeleteAllKind(ctx context.Context, kind schema.Kind) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id FROM entries WHERE kind = ?`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s entries: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ids: %w", err)
	}

	if _, err := s.conn.ExecContext(ctx, `DELETE FROM entries WHERE kind = ?`, string(kind)); err != nil {
		return nil, fmt.Errorf("failed to delete %s entries: %w", kind, err)
	}

	s.dirty.Add(1)
	return ids, nil
}

// GetEntryByID retrieves a single entry. Returns ErrNotFound when missing.
func (s *Store) GetEntryByID(ctx context.Context, id string) (*schema.Entry, error) {
	row := s.conn.QueryRowContext(ctx, selectColumns+` FROM entries WHERE id = ?`, id)
	e, err := scanEntryRow(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return e, err
}

// Filter configures ListEntries.
type Filter struct {
	// Kind restricts results to one entity kind (empty = both).
	Kind schema.Kind
	// Text restricts results to an exact text match.
	Text string
	// FavoritesOnly keeps only favorited entries.
	FavoritesOnly bool
	// Since keeps entries created at or after the given time.
	Since time.Time
	// Limit restricts the number of results (0 = no limit).
	Limit int
}

// ListEntries retrieves entries in retrieval order: created_at ASC, id ASC.
// The dedup scrub depends on this ordering being stable.
func (s *Store) ListEntries(ctx context.Context, f Filter) ([]*schema.Entry, error) {
	var conditions []string
	var args []interface{}

	if f.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(f.Kind))
	}
	if f.Text != "" {
		conditions = append(conditions, "text = ?")
		args = append(args, f.Text)
	}
	if f.FavoritesOnly {
		conditions = append(conditions, "is_favorite = 1")
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, f.Since.UTC().Format(time.RFC3339Nano))
	}

	query := selectColumns + ` FROM entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// CountEntries returns the number of entries of one kind, or all entries
// when kind is empty. The bootstrap check uses the total count to decide
// whether a fresh install still needs its import.
func (s *Store) CountEntries(ctx context.Context, kind schema.Kind) (int, error) {
	query := `SELECT COUNT(*) FROM entries`
	var args []interface{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}

	var count int
	if err := s.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return count, nil
}

// Dirty reports whether mutations happened since the last Flush.
func (s *Store) Dirty() bool {
	return s.dirty.Load() > 0
}

// Flush persists pending changes. For file-backed stores this checkpoints
// the WAL; it is a no-op when nothing changed since the last flush.
// Returns whether anything was flushed.
func (s *Store) Flush(ctx context.Context) (bool, error) {
	if s.dirty.Load() == 0 {
		return false, nil
	}
	if s.mode == modeFile {
		if _, err := s.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(PASSIVE)"); err != nil {
			return false, fmt.Errorf("failed to checkpoint WAL: %w", err)
		}
	}
	s.dirty.Store(0)
	return true, nil
}

const selectColumns = `SELECT id, kind, text, category, bible_verse_text,
	created_at, last_modified, is_favorite`

func scanEntries(rows *sql.Rows) ([]*schema.Entry, error) {
	var entries []*schema.Entry
	for rows.Next() {
		e, err := scanEntryRow(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

func scanEntryRow(scan func(...interface{}) error) (*schema.Entry, error) {
	var e schema.Entry
	var kind, createdAt, lastModified string
	var favorite int

	err := scan(
		&e.ID,
		&kind,
		&e.Text,
		&e.Category,
		&e.BibleVerseText,
		&createdAt,
		&lastModified,
		&favorite,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.Kind = schema.Kind(kind)
	e.IsFavorite = favorite != 0
	if t, perr := time.Parse(time.RFC3339Nano, createdAt); perr == nil {
		e.CreatedAt = t
	}
	if t, perr := time.Parse(time.RFC3339Nano, lastModified); perr == nil {
		e.LastModified = t
	}
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
