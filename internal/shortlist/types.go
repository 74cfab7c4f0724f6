// Package shortlist provides durable storage for saved trials, so a patient
// can reload their shortlist later. The in-session shortlist is authoritative
// during a session; this store mirrors it.
package shortlist

import (
	"context"

	"github.com/c-answer-server/internal/domain"
)

// Store defines the interface for shortlist storage operations. Entries are
// scoped: one scope per session, so independent sessions never see each
// other's saved trials.
type Store interface {
	// Save stores or updates a saved trial. If an entry for the same
	// scope+NCT ID exists, it is updated with the new verdict snapshot.
	Save(ctx context.Context, scope string, entry *domain.ShortlistEntry) error

	// Get retrieves a saved trial, or nil when it does not exist.
	Get(ctx context.Context, scope, nctID string) (*domain.ShortlistEntry, error)

	// List returns all saved trials for a scope, oldest first.
	List(ctx context.Context, scope string) ([]domain.ShortlistEntry, error)

	// Delete removes a saved trial.
	Delete(ctx context.Context, scope, nctID string) error

	// Count returns the total number of saved trials across all scopes.
	Count(ctx context.Context) (int64, error)

	// Close closes the store and releases resources.
	Close() error
}
