package fts_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/localmem-go/pkg/intelligence"
	"github.com/oceanbase/localmem-go/pkg/storage/fts"
)

func setupFTSTest(t *testing.T) (*fts.Store, func()) {
	store, err := fts.Open(filepath.Join(t.TempDir(), "memory", "memory.db"))
	require.NoError(t, err)
	require.NotNil(t, store)

	cleanup := func() {
		_ = store.Close()
	}
	return store, cleanup
}

func insert(t *testing.T, store *fts.Store, id, text, category string, seq int64) {
	err := store.Insert(context.Background(), &fts.Entry{
		ID:          id,
		Text:        text,
		ContentHash: intelligence.ContentHash(text),
		Category:    category,
		Seq:         seq,
		CreatedAt:   time.Now(),
	})
	require.NoError(t, err)
}

func TestStore_QueryRanksMatches(t *testing.T) {
	store, cleanup := setupFTSTest(t)
	defer cleanup()

	ctx := context.Background()
	insert(t, store, "a", "The deploy script lives in tools/deploy.sh", "fact", 1)
	insert(t, store, "b", "Coffee is best brewed at 93 degrees", "fact", 2)
	insert(t, store, "c", "Deploy to staging before deploying to production", "procedure", 3)

	hits, err := store.Query(ctx, "how do I deploy?", 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 2)

	ids := []string{hits[0].ID, hits[1].ID}
	assert.ElementsMatch(t, []string{"a", "c"}, ids)
	assert.LessOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestStore_QueryStemsTerms(t *testing.T) {
	store, cleanup := setupFTSTest(t)
	defer cleanup()

	insert(t, store, "a", "We were deploying all night", "", 1)

	hits, err := store.Query(context.Background(), "deploy", 10, "")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
}

func TestStore_QueryCategoryFilter(t *testing.T) {
	store, cleanup := setupFTSTest(t)
	defer cleanup()

	insert(t, store, "a", "postgres runs on port 5432", "fact", 1)
	insert(t, store, "b", "restart postgres after config changes", "procedure", 2)

	hits, err := store.Query(context.Background(), "postgres", 10, "procedure")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)
}

func TestStore_QueryWithoutTerms(t *testing.T) {
	store, cleanup := setupFTSTest(t)
	defer cleanup()

	insert(t, store, "a", "anything at all", "", 1)

	hits, err := store.Query(context.Background(), "? ! a", 10, "")
	assert.NoError(t, err)
	assert.Empty(t, hits)
}

func TestStore_QueryOperatorsAreLiteral(t *testing.T) {
	store, cleanup := setupFTSTest(t)
	defer cleanup()

	insert(t, store, "a", "use AND NOT OR carefully near quotes", "", 1)

	hits, err := store.Query(context.Background(), `AND "NEAR" OR NOT`, 10, "")
	assert.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestStore_Limit(t *testing.T) {
	store, cleanup := setupFTSTest(t)
	defer cleanup()

	for i, id := range []string{"a", "b", "c", "d"} {
		insert(t, store, id, "golang memory note "+id, "", int64(i))
	}

	hits, err := store.Query(context.Background(), "golang", 2, "")
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestStore_Delete(t *testing.T) {
	store, cleanup := setupFTSTest(t)
	defer cleanup()

	ctx := context.Background()
	insert(t, store, "a", "first note", "", 1)
	insert(t, store, "b", "second note", "", 2)

	require.NoError(t, store.Delete(ctx, []string{"a", "missing"}))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ok, err := store.Has(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := store.LookupHash(ctx, intelligence.ContentHash("first note"))
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestStore_InsertIsIdempotent(t *testing.T) {
	store, cleanup := setupFTSTest(t)
	defer cleanup()

	insert(t, store, "a", "retried insertion", "", 1)
	insert(t, store, "a", "retried insertion", "", 1)

	n, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestStore_LookupHashReturnsOldest(t *testing.T) {
	store, cleanup := setupFTSTest(t)
	defer cleanup()

	ctx := context.Background()
	insert(t, store, "newer", "Same Text", "", 5)
	insert(t, store, "older", "same text  ", "", 2)

	id, err := store.LookupHash(ctx, intelligence.ContentHash("  SAME TEXT"))
	require.NoError(t, err)
	assert.Equal(t, "older", id)
}

func TestStore_IDsInCreationOrder(t *testing.T) {
	store, cleanup := setupFTSTest(t)
	defer cleanup()

	ctx := context.Background()
	insert(t, store, "c", "third", "fact", 3)
	insert(t, store, "a", "first", "fact", 1)
	insert(t, store, "b", "second", "lesson", 2)

	ids, err := store.IDs(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	ids, err = store.IDs(ctx, "fact")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	store, err := fts.Open(path)
	require.NoError(t, err)
	insert(t, store, "a", "persisted note", "", 1)
	require.NoError(t, store.Close())

	reopened, err := fts.Open(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, path, reopened.Path())
	hits, err := reopened.Query(context.Background(), "persisted", 5, "")
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestKeywordsAndMatchExpression(t *testing.T) {
	assert.Equal(t, "the cat sat mat", fts.Keywords("The cat sat on the mat"))
	assert.Equal(t, `"on" OR "the" OR "mat"`, fts.MatchExpression("On the mat!"))
	assert.Empty(t, fts.MatchExpression("a ?"))
}

func TestStore_QueryDatabaseFailureIsNotMalformed(t *testing.T) {
	store, cleanup := setupFTSTest(t)
	defer cleanup()

	insert(t, store, "a", "dentist appointment on friday", "schedule", 1)
	require.NoError(t, store.Close())

	hits, err := store.Query(context.Background(), "dentist", 5, "")
	require.Error(t, err)
	assert.Empty(t, hits)
	assert.NotErrorIs(t, err, fts.ErrMalformedQuery)
}
