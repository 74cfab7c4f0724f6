package shortlist

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/c-answer-server/internal/domain"
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite shortlist store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS shortlist (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		scope TEXT NOT NULL,
		nct_id TEXT NOT NULL,
		title TEXT NOT NULL,
		summary TEXT DEFAULT '',
		verdict_status TEXT NOT NULL,
		verdict_rationale TEXT DEFAULT '',
		saved_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(scope, nct_id)
	);

	CREATE INDEX IF NOT EXISTS idx_shortlist_scope ON shortlist(scope);
	CREATE INDEX IF NOT EXISTS idx_shortlist_saved_at ON shortlist(saved_at);
	`

	_, err := db.Exec(schema)
	return err
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry scans a row into a ShortlistEntry.
func scanEntry(s scanner) (*domain.ShortlistEntry, error) {
	e := &domain.ShortlistEntry{}
	err := s.Scan(&e.NCTID, &e.Title, &e.Summary, &e.VerdictStatus, &e.VerdictRationale, &e.SavedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Save stores or updates a saved trial.
func (s *SQLiteStore) Save(ctx context.Context, scope string, entry *domain.ShortlistEntry) error {
	if entry.SavedAt.IsZero() {
		entry.SavedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shortlist (scope, nct_id, title, summary, verdict_status, verdict_rationale, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, nct_id) DO UPDATE SET
			title = excluded.title,
			summary = excluded.summary,
			verdict_status = excluded.verdict_status,
			verdict_rationale = excluded.verdict_rationale,
			saved_at = excluded.saved_at
	`,
		scope, entry.NCTID, entry.Title, entry.Summary,
		entry.VerdictStatus, entry.VerdictRationale, entry.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save shortlist entry: %w", err)
	}
	return nil
}

// Get retrieves a saved trial, or nil when it does not exist.
func (s *SQLiteStore) Get(ctx context.Context, scope, nctID string) (*domain.ShortlistEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT nct_id, title, summary, verdict_status, verdict_rationale, saved_at
		FROM shortlist
		WHERE scope = ? AND nct_id = ?
		LIMIT 1
	`, scope, nctID)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan: %w", err)
	}
	return entry, nil
}

// List returns all saved trials for a scope, oldest first.
func (s *SQLiteStore) List(ctx context.Context, scope string) ([]domain.ShortlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nct_id, title, summary, verdict_status, verdict_rationale, saved_at
		FROM shortlist
		WHERE scope = ?
		ORDER BY saved_at ASC, id ASC
	`, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []domain.ShortlistEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, *entry)
	}
	return result, rows.Err()
}

// Delete removes a saved trial.
func (s *SQLiteStore) Delete(ctx context.Context, scope, nctID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM shortlist WHERE scope = ? AND nct_id = ?", scope, nctID)
	return err
}

// Count returns the total number of saved trials across all scopes.
func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM shortlist").Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
