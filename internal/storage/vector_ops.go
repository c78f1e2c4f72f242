package storage

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/dshills/shelfsearch/pkg/types"
)

// searchVector ranks stored vectors whose dimension equals len(queryVector).
// vectorSQL selects ranking in SQL; it must only be set when the sqlite-vec
// functions are registered on db.
func searchVector(ctx context.Context, db *sql.DB, queryVector []float32, limit int, vectorSQL bool) ([]types.SearchCandidate, error) {
	if limit <= 0 || len(queryVector) == 0 {
		return []types.SearchCandidate{}, nil
	}
	query := Normalize(queryVector)

	if vectorSQL {
		return searchVectorOptimized(ctx, db, query, limit)
	}
	return searchVectorFallback(ctx, db, query, limit)
}

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, limit int) ([]types.SearchCandidate, error) {
	// vec_distance_cosine returns distance (lower is better), convert to similarity.
	// A zero vector yields NULL, which scores 0 like Dot does.
	query := `
		SELECT item_id, COALESCE(1.0 - vec_distance_cosine(embedding, ?), 0.0) AS similarity
		FROM embeddings
		WHERE embedding_dim = ?
		ORDER BY similarity DESC, item_id ASC
		LIMIT ?
	`
	rows, err := db.QueryContext(ctx, query, serializeVector(queryVector), len(queryVector), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]types.SearchCandidate, 0, limit)
	for rows.Next() {
		var c types.SearchCandidate
		if err := rows.Scan(&c.ItemID, &c.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// searchVectorFallback streams same-dimension rows and keeps the best limit in a heap
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, limit int) ([]types.SearchCandidate, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT item_id, embedding FROM embeddings WHERE embedding_dim = ?`, len(queryVector))
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	top := NewTopK(limit)
	for rows.Next() {
		var itemID int64
		var blob []byte
		if err := rows.Scan(&itemID, &blob); err != nil {
			return nil, err
		}
		vector, err := decodeVector(blob, len(queryVector))
		if err != nil {
			continue // Corrupt row, skip
		}
		top.Push(itemID, Dot(queryVector, vector))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return top.Results(), nil
}

// Normalize returns v scaled to unit length. An all-zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / norm)
	}

	return result
}

// Dot computes the dot product of two vectors, which equals cosine
// similarity when both are unit length. Mismatched lengths score 0.
func Dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// CosineSimilarity computes the full cosine similarity of two raw vectors
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// decodeVector deserializes blob and checks it holds exactly dim floats
func decodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob)%4 != 0 || len(blob)/4 != dim {
		return nil, fmt.Errorf("%w: %d bytes for dimension %d", ErrCorruptVector, len(blob), dim)
	}
	return deserializeVector(blob), nil
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// TopK keeps the k best-scoring candidates seen so far in a bounded min-heap,
// giving O(n log k) selection instead of sorting all n candidates.
// Equal scores prefer the lower item ID so results are deterministic.
type TopK struct {
	k int
	h candidateHeap
}

// NewTopK creates a selector for the best k candidates
func NewTopK(k int) *TopK {
	if k < 0 {
		k = 0
	}
	return &TopK{k: k, h: make(candidateHeap, 0, k)}
}

// Push offers a candidate to the selector
func (t *TopK) Push(itemID int64, score float64) {
	if t.k == 0 {
		return
	}
	c := types.SearchCandidate{ItemID: itemID, Score: score}
	if len(t.h) < t.k {
		heap.Push(&t.h, c)
		return
	}
	if outranks(c, t.h[0]) {
		t.h[0] = c
		heap.Fix(&t.h, 0)
	}
}

// Len returns the number of retained candidates
func (t *TopK) Len() int {
	return len(t.h)
}

// Results returns the retained candidates sorted by descending score
func (t *TopK) Results() []types.SearchCandidate {
	out := make([]types.SearchCandidate, len(t.h))
	copy(out, t.h)
	SortCandidates(out)
	return out
}

// SortCandidates sorts by descending score, then ascending item ID
func SortCandidates(candidates []types.SearchCandidate) {
	sort.Slice(candidates, func(i, j int) bool {
		return outranks(candidates[i], candidates[j])
	})
}

func outranks(a, b types.SearchCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.ItemID < b.ItemID
}

// candidateHeap is a min-heap: the root is the weakest retained candidate
type candidateHeap []types.SearchCandidate

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return outranks(h[j], h[i]) }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(types.SearchCandidate)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
