package storage

import (
	"context"
	"time"

	"github.com/dshills/shelfsearch/pkg/types"
)

// Storage defines the durable table of item embeddings.
// Implementations never cache; caching is the vector store's job.
type Storage interface {
	// Embedding operations
	UpsertEmbedding(ctx context.Context, record *EmbeddingRecord) error
	GetEmbedding(ctx context.Context, itemID int64) (*EmbeddingRecord, error)
	ListEmbeddings(ctx context.Context, limit int) ([]*EmbeddingRecord, error)
	ListItemMeta(ctx context.Context) ([]ItemMeta, error)
	DeleteEmbedding(ctx context.Context, itemID int64) error
	DeleteAll(ctx context.Context) (int, error)
	DeleteBySource(ctx context.Context, source string) (int, error)

	// Search operations
	SearchVector(ctx context.Context, query []float32, limit int) ([]types.SearchCandidate, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	// Database operations
	Close() error
}

// EmbeddingRecord is the authoritative embedding of one library item
type EmbeddingRecord struct {
	ItemID    int64
	Vector    []float32 // Unit length
	Dimension int
	Source    string // e.g. "gemini", "openai", "local"
	IndexedAt time.Time
}

// ItemMeta is an EmbeddingRecord without its vector
type ItemMeta struct {
	ItemID    int64
	Dimension int
	Source    string
}

// Status contains statistics about the embeddings table
type Status struct {
	EmbeddingsCount int
	Dimensions      map[int]int    // dimension -> count
	Sources         map[string]int // source -> count
	LastIndexedAt   time.Time
	IndexSizeMB     float64
	BuildMode       string
}
