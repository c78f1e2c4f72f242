//go:build sqlite_vec && !purego

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorSQL_Registered(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.True(t, storage.VectorSQL(), "sqlite-vec functions resolve on a new connection")

	require.NoError(t, storage.UpsertEmbedding(ctx, record(1, "local", 1, 0)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(2, "local", 1, 1)))

	results, err := searchVectorOptimized(ctx, storage.db, Normalize([]float32{1, 0}), 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ItemID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}
