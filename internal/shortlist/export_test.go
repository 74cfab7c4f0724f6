package shortlist

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImportRoundTrip(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "session-a", testEntry("NCT001")))
	require.NoError(t, store.Save(ctx, "session-a", testEntry("NCT002")))

	data, err := ExportJSON(ctx, store, "session-a")
	require.NoError(t, err)

	var doc exportDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "session-a", doc.Scope)
	require.Len(t, doc.Entries, 2)

	// Importing into a fresh scope reproduces the saved set.
	imported, err := ImportJSON(ctx, store, "session-b", data)
	require.NoError(t, err)
	assert.Equal(t, 2, imported)

	entries, err := store.List(ctx, "session-b")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "NCT001", entries[0].NCTID)
}

func TestImportSkipsEntriesWithoutID(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	data := []byte(`{"scope": "x", "entries": [{"nct_id": "", "title": "orphan"}, {"nct_id": "NCT003", "title": "kept"}]}`)

	imported, err := ImportJSON(context.Background(), store, "session-a", data)
	require.NoError(t, err)
	assert.Equal(t, 1, imported)

	got, err := store.Get(context.Background(), "session-a", "NCT003")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestImportRejectsMalformedJSON(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	_, err := ImportJSON(context.Background(), store, "session-a", []byte("not json"))
	assert.Error(t, err)
}

func TestExportEmptyScope(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	data, err := ExportJSON(context.Background(), store, "session-empty")
	require.NoError(t, err)

	var doc exportDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Empty(t, doc.Entries)
}
