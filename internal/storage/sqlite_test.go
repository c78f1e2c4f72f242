package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/shelfsearch/pkg/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	// Use in-memory database for testing
	storage, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	require.NotNil(t, storage)
	return storage
}

func record(itemID int64, source string, vector ...float32) *EmbeddingRecord {
	return &EmbeddingRecord{
		ItemID:    itemID,
		Vector:    Normalize(vector),
		Dimension: len(vector),
		Source:    source,
	}
}

func TestNewSQLiteStorage(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	assert.NotNil(t, storage.db)
}

func TestUpsertAndGetEmbedding(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	rec := record(1, "gemini", 3, 4)
	rec.IndexedAt = time.UnixMilli(1700000000000)
	require.NoError(t, storage.UpsertEmbedding(ctx, rec))

	got, err := storage.GetEmbedding(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.ItemID)
	assert.Equal(t, 2, got.Dimension)
	assert.Equal(t, "gemini", got.Source)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, got.Vector, 1e-6)
	assert.Equal(t, rec.IndexedAt.UnixMilli(), got.IndexedAt.UnixMilli())
}

func TestUpsertEmbedding_LastWriteWins(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, storage.UpsertEmbedding(ctx, record(7, "local", 1, 0, 0)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(7, "gemini", 0, 1, 0, 0)))

	got, err := storage.GetEmbedding(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "gemini", got.Source)
	assert.Equal(t, 4, got.Dimension)

	metas, err := storage.ListItemMeta(ctx)
	require.NoError(t, err)
	assert.Len(t, metas, 1)
}

func TestUpsertEmbedding_Invalid(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	tests := []struct {
		name   string
		record *EmbeddingRecord
	}{
		{name: "nil record", record: nil},
		{name: "zero item id", record: &EmbeddingRecord{Vector: []float32{1}, Dimension: 1, Source: "local"}},
		{name: "dimension mismatch", record: &EmbeddingRecord{ItemID: 1, Vector: []float32{1, 0}, Dimension: 3, Source: "local"}},
		{name: "empty vector", record: &EmbeddingRecord{ItemID: 1, Source: "local"}},
		{name: "missing source", record: &EmbeddingRecord{ItemID: 1, Vector: []float32{1}, Dimension: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storage.UpsertEmbedding(ctx, tt.record)
			assert.ErrorIs(t, err, ErrInvalidRecord)
		})
	}
}

func TestGetEmbedding_NotFound(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()

	_, err := storage.GetEmbedding(context.Background(), 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetEmbedding_CorruptBlob(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	// Three floats recorded as dimension 4
	_, err := storage.db.ExecContext(ctx,
		`INSERT INTO embeddings (item_id, embedding, embedding_dim, embedding_source, indexed_at) VALUES (?, ?, ?, ?, ?)`,
		5, SerializeVector([]float32{1, 2, 3}), 4, "local", time.Now().UnixMilli())
	require.NoError(t, err)

	_, err = storage.GetEmbedding(ctx, 5)
	assert.ErrorIs(t, err, ErrCorruptVector)
}

func TestListEmbeddings_MostRecentFirst(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	base := time.UnixMilli(1700000000000)
	for i := int64(1); i <= 3; i++ {
		rec := record(i, "local", float32(i), 1)
		rec.IndexedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, storage.UpsertEmbedding(ctx, rec))
	}

	all, err := storage.ListEmbeddings(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{all[0].ItemID, all[1].ItemID, all[2].ItemID})

	limited, err := storage.ListEmbeddings(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, int64(3), limited[0].ItemID)
}

func TestDeleteOperations(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, storage.UpsertEmbedding(ctx, record(1, "gemini", 1, 0)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(2, "local", 0, 1, 0)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(3, "local", 1, 1, 0)))

	t.Run("delete by source", func(t *testing.T) {
		n, err := storage.DeleteBySource(ctx, "local")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		metas, err := storage.ListItemMeta(ctx)
		require.NoError(t, err)
		require.Len(t, metas, 1)
		assert.Equal(t, int64(1), metas[0].ItemID)
	})

	t.Run("delete single", func(t *testing.T) {
		require.NoError(t, storage.DeleteEmbedding(ctx, 1))
		_, err := storage.GetEmbedding(ctx, 1)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("delete all", func(t *testing.T) {
		require.NoError(t, storage.UpsertEmbedding(ctx, record(4, "local", 1)))
		n, err := storage.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})
}

func TestSearchVector_DimensionIsolation(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	small := make([]float32, 100)
	small[0] = 1
	large := make([]float32, 768)
	large[0] = 1

	require.NoError(t, storage.UpsertEmbedding(ctx, record(1, "local", small...)))
	for i := int64(2); i < 10; i++ {
		require.NoError(t, storage.UpsertEmbedding(ctx, record(i, "gemini", large...)))
	}

	results, err := storage.SearchVector(ctx, small, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(1), results[0].ItemID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
}

func TestSearchVector_Ranking(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, storage.UpsertEmbedding(ctx, record(1, "local", 1, 0)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(2, "local", 1, 1)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(3, "local", 0, 1)))

	results, err := storage.SearchVector(ctx, []float32{2, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ItemID)
	assert.Equal(t, int64(2), results[1].ItemID)
	assert.Greater(t, results[0].Score, results[1].Score)

	empty, err := storage.SearchVector(ctx, []float32{1, 0}, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSearchVector_SQLMatchesGo(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, storage.UpsertEmbedding(ctx, record(1, "local", 1, 0, 0)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(2, "local", 1, 1, 0)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(3, "local", 0, 1, 0)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(4, "local", 0, 0, 0)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(5, "local", -1, 0, 0)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(6, "local", 1, 1, 1)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(7, "gemini", 1, 0)))

	query := []float32{3, 0, 0}
	want, err := searchVector(ctx, storage.db, query, 10, false)
	require.NoError(t, err)
	require.Len(t, want, 6, "other dimensions are never scored")
	assert.Equal(t, []int64{1, 2, 6, 3, 4, 5}, candidateIDs(want))
	assert.InDelta(t, 0.0, want[4].Score, 1e-9, "zero vector scores 0")

	got, err := storage.SearchVector(ctx, query, 10)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	assert.Equal(t, candidateIDs(want), candidateIDs(got))
	for i := range want {
		assert.InDelta(t, want[i].Score, got[i].Score, 1e-5, "item %d", want[i].ItemID)
	}
}

func candidateIDs(candidates []types.SearchCandidate) []int64 {
	out := make([]int64, len(candidates))
	for i, c := range candidates {
		out[i] = c.ItemID
	}
	return out
}

func TestGetStatus(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	require.NoError(t, storage.UpsertEmbedding(ctx, record(1, "gemini", 1, 0)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(2, "gemini", 0, 1)))
	require.NoError(t, storage.UpsertEmbedding(ctx, record(3, "local", 1, 0, 0)))

	status, err := storage.GetStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, status.EmbeddingsCount)
	assert.Equal(t, map[int]int{2: 2, 3: 1}, status.Dimensions)
	assert.Equal(t, map[string]int{"gemini": 2, "local": 1}, status.Sources)
	assert.False(t, status.LastIndexedAt.IsZero())
	assert.Equal(t, BuildMode, status.BuildMode)
}
