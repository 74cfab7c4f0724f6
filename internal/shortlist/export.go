package shortlist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/c-answer-server/internal/domain"
)

// exportDocument is the portable JSON form of one scope's saved trials.
type exportDocument struct {
	Scope   string                  `json:"scope"`
	Entries []domain.ShortlistEntry `json:"entries"`
}

// ExportJSON serializes all saved trials for a scope. Works against any Store
// backend.
func ExportJSON(ctx context.Context, store Store, scope string) ([]byte, error) {
	entries, err := store.List(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("listing entries for export: %w", err)
	}

	doc := exportDocument{Scope: scope, Entries: entries}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling export: %w", err)
	}
	return data, nil
}

// ImportJSON loads previously exported trials into a scope, upserting entry by
// entry. Entries missing an NCT ID are skipped.
func ImportJSON(ctx context.Context, store Store, scope string, data []byte) (int, error) {
	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parsing import: %w", err)
	}

	imported := 0
	for i := range doc.Entries {
		if doc.Entries[i].NCTID == "" {
			continue
		}
		if err := store.Save(ctx, scope, &doc.Entries[i]); err != nil {
			return imported, fmt.Errorf("saving imported entry %s: %w", doc.Entries[i].NCTID, err)
		}
		imported++
	}
	return imported, nil
}
