//go:build integration

package vectordb_test

import (
	"context"
	"fmt"
	"testing"

	"support_server/adapter/out/vectordb"
	"support_server/core/port/out"
	"support_server/infra/database"
	"support_server/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPgvector(t *testing.T) *vectordb.PgvectorIndex {
	t.Helper()
	ctx := context.Background()
	url := testutil.StartPostgres(ctx, t)

	pool, err := database.NewPostgres(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	idx := vectordb.NewPgvectorIndex(pool, 3)
	require.NoError(t, idx.EnsureCollection(ctx))
	return idx
}

func TestPgvectorIndex(t *testing.T) {
	idx := newPgvector(t)
	ctx := context.Background()

	var points []out.IndexPoint
	for i := 0; i < 7; i++ {
		points = append(points, out.IndexPoint{
			ID:      fmt.Sprintf("c%d", i),
			Vector:  []float32{1, float32(i), 0},
			Payload: map[string]any{"document_id": fmt.Sprintf("d%d", i%2), "category": "Billing"},
		})
	}
	require.NoError(t, idx.Upsert(ctx, points))

	t.Run("scroll pages past the page size", func(t *testing.T) {
		for _, size := range []int{1, 3, 7, 0} {
			got, err := idx.Scroll(ctx, size)
			require.NoError(t, err)
			require.Len(t, got, 7, "page size %d", size)
			for i, p := range got {
				assert.Equal(t, fmt.Sprintf("c%d", i), p.ID)
			}
		}
	})

	t.Run("search with filter", func(t *testing.T) {
		hits, err := idx.Search(ctx, []float32{1, 0, 0}, 2, &out.IndexFilter{Key: "document_id", Value: "d0"})
		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, "c0", hits[0].ID)
	})

	t.Run("delete by filter", func(t *testing.T) {
		require.NoError(t, idx.DeleteByFilter(ctx, out.IndexFilter{Key: "document_id", Value: "d1"}))
		got, err := idx.Scroll(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, got, 4)
	})
}
