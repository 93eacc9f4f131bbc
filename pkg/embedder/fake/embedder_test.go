package fake_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/localmem-go/pkg/embedder/fake"
	"github.com/oceanbase/localmem-go/pkg/storage"
)

func TestEmbedder_Deterministic(t *testing.T) {
	e := fake.New(32)
	ctx := context.Background()

	a, err := e.Embed(ctx, "The build uses Go 1.24")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the BUILD uses go 1.24!")
	require.NoError(t, err)

	assert.Len(t, a, 32)
	assert.InDelta(t, 1.0, storage.CosineSimilarity(a, b), 1e-9)
	assert.Equal(t, 2, e.Calls())
}

func TestEmbedder_DifferentTextsDiffer(t *testing.T) {
	e := fake.New(256)
	ctx := context.Background()

	a, _ := e.Embed(ctx, "postgres listens on port 5432")
	b, _ := e.Embed(ctx, "bananas are yellow fruit")
	assert.Less(t, storage.CosineSimilarity(a, b), 0.9)
}

func TestEmbedder_SetAndFail(t *testing.T) {
	e := fake.New(0)
	ctx := context.Background()
	assert.Equal(t, 64, e.Dimensions())

	e.Set("pinned", []float64{1, 2, 3})
	vec, err := e.Embed(ctx, "pinned")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, vec)

	boom := errors.New("offline")
	e.Fail(boom)
	_, err = e.EmbedBatch(ctx, []string{"x"})
	assert.ErrorIs(t, err, boom)

	e.Fail(nil)
	vecs, err := e.EmbedBatch(ctx, []string{"x", ""})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 1.0, vecs[1][0])
}
