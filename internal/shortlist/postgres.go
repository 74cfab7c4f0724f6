package shortlist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/c-answer-server/internal/domain"
)

// PostgresStore implements the Store interface using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL shortlist store.
// It expects the database and schema to already exist (created via migrations).
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromURL creates a new PostgreSQL shortlist store from a connection URL.
func NewPostgresStoreFromURL(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store, err := NewPostgresStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Save stores or updates a saved trial.
func (s *PostgresStore) Save(ctx context.Context, scope string, entry *domain.ShortlistEntry) error {
	if entry.SavedAt.IsZero() {
		entry.SavedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO shortlist (
			scope, nct_id, title, summary, verdict_status, verdict_rationale, saved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (scope, nct_id) DO UPDATE SET
			title = EXCLUDED.title,
			summary = EXCLUDED.summary,
			verdict_status = EXCLUDED.verdict_status,
			verdict_rationale = EXCLUDED.verdict_rationale,
			saved_at = EXCLUDED.saved_at
	`

	_, err := s.db.ExecContext(ctx, query,
		scope, entry.NCTID, entry.Title, entry.Summary,
		entry.VerdictStatus, entry.VerdictRationale, entry.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save shortlist entry: %w", err)
	}
	return nil
}

// Get retrieves a saved trial, or nil when it does not exist.
func (s *PostgresStore) Get(ctx context.Context, scope, nctID string) (*domain.ShortlistEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT nct_id, title, summary, verdict_status, verdict_rationale, saved_at
		FROM shortlist
		WHERE scope = $1 AND nct_id = $2
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
func (s *PostgresStore) List(ctx context.Context, scope string) ([]domain.ShortlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nct_id, title, summary, verdict_status, verdict_rationale, saved_at
		FROM shortlist
		WHERE scope = $1
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
func (s *PostgresStore) Delete(ctx context.Context, scope, nctID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM shortlist WHERE scope = $1 AND nct_id = $2", scope, nctID)
	return err
}

// Count returns the total number of saved trials across all scopes.
func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM shortlist").Scan(&count)
	return count, err
}

// Close closes the store and releases resources.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
