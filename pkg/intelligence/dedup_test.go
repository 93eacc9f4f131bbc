package intelligence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/localmem-go/pkg/intelligence"
	"github.com/oceanbase/localmem-go/pkg/storage"
	"github.com/oceanbase/localmem-go/pkg/storage/chromem"
)

func TestContentHash(t *testing.T) {
	assert.Equal(t, intelligence.ContentHash("User prefers dark mode"), intelligence.ContentHash("  user PREFERS dark mode\n"))
	assert.NotEqual(t, intelligence.ContentHash("dark mode"), intelligence.ContentHash("dark  mode"))
	assert.Len(t, intelligence.ContentHash(""), 64)
}

func TestClassifyNeighbours(t *testing.T) {
	tests := []struct {
		name        string
		neighbours  []intelligence.Neighbour
		wantDupID   string
		wantSimilar []string
	}{
		{
			name: "no neighbours",
		},
		{
			name:       "duplicate first",
			neighbours: []intelligence.Neighbour{{ID: "a", Similarity: 0.97}, {ID: "b", Similarity: 0.9}},
			wantDupID:  "a",
		},
		{
			name:       "exactly at threshold",
			neighbours: []intelligence.Neighbour{{ID: "a", Similarity: 0.95}},
			wantDupID:  "a",
		},
		{
			name:        "warning band only",
			neighbours:  []intelligence.Neighbour{{ID: "a", Similarity: 0.94}, {ID: "b", Similarity: 0.88}, {ID: "c", Similarity: 0.5}},
			wantSimilar: []string{"a", "b"},
		},
		{
			name:       "below band",
			neighbours: []intelligence.Neighbour{{ID: "a", Similarity: 0.879}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := intelligence.ClassifyNeighbours(tt.neighbours, 0.95, 0.88)
			if tt.wantDupID == "" {
				assert.False(t, result.IsDuplicate())
			} else {
				require.True(t, result.IsDuplicate())
				assert.Equal(t, tt.wantDupID, result.Duplicate.ID)
			}

			var similar []string
			for _, n := range result.Similar {
				similar = append(similar, n.ID)
			}
			assert.Equal(t, tt.wantSimilar, similar)
		})
	}
}

func TestDedupManager_CheckDuplicate(t *testing.T) {
	index, err := chromem.NewClient(&chromem.Config{})
	require.NoError(t, err)
	ctx := context.Background()

	manager := intelligence.NewDedupManager(index, 0, 0, 0)

	result, err := manager.CheckDuplicate(ctx, []float64{1, 0, 0})
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate())

	require.NoError(t, index.Add(ctx, &storage.Document{ID: "same", Text: "x", Embedding: []float64{1, 0, 0}}))
	require.NoError(t, index.Add(ctx, &storage.Document{ID: "far", Text: "y", Embedding: []float64{0, 1, 0}}))

	result, err = manager.CheckDuplicate(ctx, []float64{1, 0.01, 0})
	require.NoError(t, err)
	require.True(t, result.IsDuplicate())
	assert.Equal(t, "same", result.Duplicate.ID)
	assert.Greater(t, result.Duplicate.Similarity, 0.95)

	result, err = manager.CheckDuplicate(ctx, []float64{0, 0, 1})
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate())
	assert.Empty(t, result.Similar)
}
