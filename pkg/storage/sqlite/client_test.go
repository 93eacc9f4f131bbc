package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/localmem-go/pkg/storage"
	sqliteStore "github.com/oceanbase/localmem-go/pkg/storage/sqlite"
)

func setupSQLiteTest(t *testing.T) (storage.VectorIndex, func()) {
	config := &sqliteStore.Config{
		DBPath:         filepath.Join(t.TempDir(), "vectors.db"),
		CollectionName: "memories",
	}

	store, err := sqliteStore.NewClient(config)
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		_ = store.Close()
	}
	return store, cleanup
}

func TestSQLiteClient_AddAndGet(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()
	err := store.Add(ctx, &storage.Document{
		ID:        "m1",
		Text:      "Test memory content",
		Embedding: []float64{0.1, 0.2, 0.3},
		Metadata:  map[string]string{"category": "fact", "agent_id": "main"},
	})
	require.NoError(t, err)

	docs, err := store.Get(ctx, []string{"m1", "missing"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Test memory content", docs[0].Text)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, docs[0].Embedding)
	assert.Equal(t, "main", docs[0].Metadata["agent_id"])
}

func TestSQLiteClient_AddReplaces(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()
	for _, text := range []string{"first", "second"} {
		require.NoError(t, store.Add(ctx, &storage.Document{ID: "m1", Text: text, Embedding: []float64{1, 0}}))
	}

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	docs, err := store.Get(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, "second", docs[0].Text)
}

func TestSQLiteClient_Update(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.Add(ctx, &storage.Document{
		ID:        "m1",
		Text:      "Original content",
		Embedding: []float64{0.1, 0.2, 0.3},
		Metadata:  map[string]string{"confidence": "1"},
	}))

	require.NoError(t, store.Update(ctx, "m1", map[string]string{"confidence": "0.9"}))

	docs, err := store.Get(ctx, []string{"m1"})
	require.NoError(t, err)
	assert.Equal(t, "0.9", docs[0].Metadata["confidence"])

	assert.ErrorIs(t, store.Update(ctx, "nope", nil), storage.ErrNotFound)
}

func TestSQLiteClient_Delete(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.Add(ctx, &storage.Document{ID: "m1", Text: "a", Embedding: []float64{1, 0}}))
	require.NoError(t, store.Add(ctx, &storage.Document{ID: "m2", Text: "b", Embedding: []float64{0, 1}}))

	require.NoError(t, store.Delete(ctx, []string{"m1"}))

	docs, err := store.Get(ctx, []string{"m1", "m2"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "m2", docs[0].ID)
}

func TestSQLiteClient_Query(t *testing.T) {
	store, cleanup := setupSQLiteTest(t)
	defer cleanup()

	ctx := context.Background()
	docs := []*storage.Document{
		{ID: "m1", Text: "a", Embedding: []float64{1, 0}, Metadata: map[string]string{"category": "fact", "workspace": "w"}},
		{ID: "m2", Text: "b", Embedding: []float64{0.7, 0.7}, Metadata: map[string]string{"category": "fact", "workspace": "x"}},
		{ID: "m3", Text: "c", Embedding: []float64{0, 1}, Metadata: map[string]string{"category": "lesson"}},
	}
	for _, d := range docs {
		require.NoError(t, store.Add(ctx, d))
	}

	matches, err := store.Query(ctx, []float64{1, 0}, &storage.QueryOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "m1", matches[0].ID)
	assert.Equal(t, "m2", matches[1].ID)
	assert.InDelta(t, 0.0, matches[0].Distance, 1e-9)

	matches, err = store.Query(ctx, []float64{1, 0}, &storage.QueryOptions{
		Filters: map[string]string{"category": "fact", "workspace": "x"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "m2", matches[0].ID)
}
