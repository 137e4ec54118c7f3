package vectordb

import (
	"context"
	"testing"

	"support_server/core/port/out"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndex(t *testing.T) {
	idx := NewMemoryIndex(2)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []out.IndexPoint{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"document_id": "d1", "category": "General"}},
		{ID: "b", Vector: []float32{0, 1}, Payload: map[string]any{"document_id": "d2", "category": "Legal"}},
	}))
	assert.Error(t, idx.Upsert(ctx, []out.IndexPoint{{ID: "c", Vector: []float32{1}}}))

	hits, err := idx.Search(ctx, []float32{0.9, 0.1}, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)

	hits, err = idx.Search(ctx, []float32{1, 0}, 10, &out.IndexFilter{Key: "category", Value: "Legal"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].ID)

	require.NoError(t, idx.DeleteByFilter(ctx, out.IndexFilter{Key: "document_id", Value: "d1"}))
	points, err := idx.Scroll(ctx, 0)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "b", points[0].ID)
}
