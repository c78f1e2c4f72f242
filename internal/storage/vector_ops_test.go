package storage

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/shelfsearch/pkg/types"
)

func randomVector(r *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = r.Float32()*2 - 1
	}
	return v
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestSerializeDeserializeVector(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{name: "simple vector", vector: []float32{1.0, 2.0, 3.0, 4.0}},
		{name: "negative values", vector: []float32{-1.0, -0.5, 0.5, 1.0}},
		{name: "large dimension", vector: make([]float32, 768)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := SerializeVector(tt.vector)
			assert.Len(t, blob, len(tt.vector)*4)
			assert.Equal(t, tt.vector, DeserializeVector(blob))
		})
	}

	t.Run("little endian without header", func(t *testing.T) {
		blob := SerializeVector([]float32{1.0})
		// 1.0 = 0x3F800000
		assert.Equal(t, []byte{0x00, 0x00, 0x80, 0x3F}, blob)
	})
}

func TestDecodeVector(t *testing.T) {
	blob := SerializeVector([]float32{1, 2, 3})

	v, err := decodeVector(blob, 3)
	require.NoError(t, err)
	assert.Len(t, v, 3)

	_, err = decodeVector(blob, 4)
	assert.ErrorIs(t, err, ErrCorruptVector)

	_, err = decodeVector(blob[:5], 1)
	assert.ErrorIs(t, err, ErrCorruptVector)
}

func TestNormalize(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	t.Run("unit length", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			v := Normalize(randomVector(r, 64))
			assert.InDelta(t, 1.0, norm(v), 1e-5)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			once := Normalize(randomVector(r, 32))
			twice := Normalize(once)
			assert.InDeltaSlice(t, once, twice, 1e-6)
		}
	})

	t.Run("zero vector unchanged", func(t *testing.T) {
		zero := []float32{0, 0, 0}
		assert.Equal(t, zero, Normalize(zero))
	})

	t.Run("does not mutate input", func(t *testing.T) {
		v := []float32{3, 4}
		_ = Normalize(v)
		assert.Equal(t, []float32{3, 4}, v)
	})
}

func TestDotEqualsCosineForUnitVectors(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for i := 0; i < 100; i++ {
		a := randomVector(r, 100)
		b := randomVector(r, 100)
		assert.InDelta(t, CosineSimilarity(a, b), Dot(Normalize(a), Normalize(b)), 1e-5)
	}
}

func TestDot_DimensionMismatch(t *testing.T) {
	assert.Equal(t, 0.0, Dot([]float32{1, 0}, []float32{1, 0, 0}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0, 0}))
}

func TestCosineSimilarity_ZeroVector(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestTopK_MatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(3))

	for _, k := range []int{1, 5, 20, 300} {
		scores := make([]types.SearchCandidate, 250)
		top := NewTopK(k)
		for i := range scores {
			scores[i] = types.SearchCandidate{ItemID: int64(i + 1), Score: r.Float64()*2 - 1}
			top.Push(scores[i].ItemID, scores[i].Score)
		}

		sort.Slice(scores, func(i, j int) bool { return scores[i].Score > scores[j].Score })
		want := k
		if want > len(scores) {
			want = len(scores)
		}

		got := top.Results()
		require.Len(t, got, want)
		assert.Equal(t, scores[:want], got)
	}
}

func TestTopK_EdgeCases(t *testing.T) {
	t.Run("zero k keeps nothing", func(t *testing.T) {
		top := NewTopK(0)
		top.Push(1, 1)
		assert.Equal(t, 0, top.Len())
		assert.Empty(t, top.Results())
	})

	t.Run("ties prefer lower id", func(t *testing.T) {
		top := NewTopK(2)
		top.Push(9, 0.5)
		top.Push(3, 0.5)
		top.Push(5, 0.5)
		assert.Equal(t, []types.SearchCandidate{{ItemID: 3, Score: 0.5}, {ItemID: 5, Score: 0.5}}, top.Results())
	})
}

func BenchmarkTopK(b *testing.B) {
	r := rand.New(rand.NewSource(4))
	scores := make([]float64, 5000)
	for i := range scores {
		scores[i] = r.Float64()
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		top := NewTopK(10)
		for id, s := range scores {
			top.Push(int64(id), s)
		}
		_ = top.Results()
	}
}
