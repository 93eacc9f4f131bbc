package chromem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/localmem-go/pkg/storage"
	"github.com/oceanbase/localmem-go/pkg/storage/chromem"
)

func setupChromemTest(t *testing.T, path string) (storage.VectorIndex, func()) {
	client, err := chromem.NewClient(&chromem.Config{Path: path})
	require.NoError(t, err)
	require.NotNil(t, client)

	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup
}

func doc(id, text, category string, embedding ...float64) *storage.Document {
	return &storage.Document{
		ID:        id,
		Text:      text,
		Embedding: embedding,
		Metadata:  map[string]string{"category": category},
	}
}

func TestChromemClient_AddAndGet(t *testing.T) {
	index, cleanup := setupChromemTest(t, "")
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, index.Add(ctx, doc("a", "alpha", "fact", 1, 0, 0)))
	require.NoError(t, index.Add(ctx, doc("b", "beta", "fact", 0, 1, 0)))

	docs, err := index.Get(ctx, []string{"b", "missing", "a"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "b", docs[0].ID)
	assert.Equal(t, "a", docs[1].ID)
	assert.Equal(t, "alpha", docs[1].Text)
	assert.Equal(t, "fact", docs[1].Metadata["category"])

	n, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestChromemClient_Query(t *testing.T) {
	index, cleanup := setupChromemTest(t, "")
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, index.Add(ctx, doc("a", "alpha", "fact", 1, 0, 0)))
	require.NoError(t, index.Add(ctx, doc("b", "beta", "lesson", 0.9, 0.1, 0)))
	require.NoError(t, index.Add(ctx, doc("c", "gamma", "fact", 0, 0, 1)))

	matches, err := index.Query(ctx, []float64{1, 0, 0}, &storage.QueryOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "b", matches[1].ID)
	assert.InDelta(t, 1.0, matches[0].Similarity(), 1e-6)

	matches, err = index.Query(ctx, []float64{1, 0, 0}, &storage.QueryOptions{
		Limit:   10,
		Filters: map[string]string{"category": "fact"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "c", matches[1].ID)
}

func TestChromemClient_QueryEmpty(t *testing.T) {
	index, cleanup := setupChromemTest(t, "")
	defer cleanup()

	matches, err := index.Query(context.Background(), []float64{1, 0}, &storage.QueryOptions{Limit: 5})
	assert.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemClient_Update(t *testing.T) {
	index, cleanup := setupChromemTest(t, "")
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, index.Add(ctx, doc("a", "alpha", "fact", 1, 0)))

	require.NoError(t, index.Update(ctx, "a", map[string]string{"category": "lesson", "pinned": "true"}))

	docs, err := index.Get(ctx, []string{"a"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "lesson", docs[0].Metadata["category"])
	assert.Equal(t, "alpha", docs[0].Text)

	err = index.Update(ctx, "missing", map[string]string{})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChromemClient_Delete(t *testing.T) {
	index, cleanup := setupChromemTest(t, "")
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, index.Add(ctx, doc("a", "alpha", "fact", 1, 0)))
	require.NoError(t, index.Add(ctx, doc("b", "beta", "fact", 0, 1)))

	require.NoError(t, index.Delete(ctx, []string{"a", "missing"}))

	n, err := index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestChromemClient_Persistent(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	index, cleanup := setupChromemTest(t, dir)
	require.NoError(t, index.Add(ctx, doc("a", "alpha", "fact", 1, 0)))
	cleanup()

	reopened, cleanup := setupChromemTest(t, dir)
	defer cleanup()

	docs, err := reopened.Get(ctx, []string{"a"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "alpha", docs[0].Text)
}
