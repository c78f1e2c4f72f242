package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Common errors
var (
	ErrNotConfigured  = errors.New("embedding provider not configured")
	ErrRateLimited    = errors.New("embedding provider rate limited")
	ErrTransient      = errors.New("transient embedding provider failure")
	ErrProviderFailed = errors.New("embedding provider failed")
	ErrEmptyText      = errors.New("text cannot be empty")
)

// RateLimitError reports an active provider cooldown. It matches ErrRateLimited
// with errors.Is.
type RateLimitError struct {
	Cooldown time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry in %ds", CooldownSeconds(e.Cooldown))
}

// Is reports whether target is ErrRateLimited
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// CooldownSeconds rounds a cooldown up to whole seconds
func CooldownSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

// Embedding is a vector together with the provider that produced it.
// Dimension and Source must be recorded with the vector so that later
// searches only compare it against vectors from the same space.
type Embedding struct {
	Vector    []float32
	Dimension int
	Source    string
	Model     string
}

func (e *Embedding) clone() *Embedding {
	vectorCopy := make([]float32, len(e.Vector))
	copy(vectorCopy, e.Vector)
	return &Embedding{
		Vector:    vectorCopy,
		Dimension: e.Dimension,
		Source:    e.Source,
		Model:     e.Model,
	}
}

// DelayPolicy returns the pause before request index of a batch. It is called
// before every request except the first.
type DelayPolicy func(index int) time.Duration

// FixedDelay returns a DelayPolicy that always waits d
func FixedDelay(d time.Duration) DelayPolicy {
	return func(int) time.Duration { return d }
}

// Embedder converts text into fixed-length vectors
type Embedder interface {
	// IsConfigured reports whether the provider can be called at all
	// (an API key is set, a model file is present, ...)
	IsConfigured() bool

	// Embed returns the raw embedding vector for text
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedWithMetadata returns the vector with its dimension and source
	EmbedWithMetadata(ctx context.Context, text string) (*Embedding, error)

	// EmbedBatch embeds texts sequentially. A missing index in the result
	// means that text failed; the returned error is only set on cancellation.
	EmbedBatch(ctx context.Context, texts []string, delay DelayPolicy) (map[int]*Embedding, error)

	// IsRateLimited reports an active cooldown
	IsRateLimited() bool

	// RemainingCooldown returns the time left on the cooldown, 0 when none
	RemainingCooldown() time.Duration

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Source returns the provenance tag stored with each vector
	Source() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// embedFunc embeds a single text
type embedFunc func(ctx context.Context, text string) (*Embedding, error)

type noWaitKey struct{}

// WithoutRateLimitWait marks ctx so cloud providers fail fast with a
// RateLimitError instead of waiting out an active cooldown
func WithoutRateLimitWait(ctx context.Context) context.Context {
	return context.WithValue(ctx, noWaitKey{}, true)
}

func rateLimitWaitAllowed(ctx context.Context) bool {
	noWait, _ := ctx.Value(noWaitKey{}).(bool)
	return !noWait
}

// sleepFunc pauses for d or until ctx is done
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// embedSequential is the shared EmbedBatch implementation. Per-item failures
// are logged and omitted from the result.
func embedSequential(ctx context.Context, texts []string, delay DelayPolicy, sleep sleepFunc, embed embedFunc, logger *zap.Logger) (map[int]*Embedding, error) {
	results := make(map[int]*Embedding, len(texts))

	for i, text := range texts {
		if i > 0 && delay != nil {
			if err := sleep(ctx, delay(i)); err != nil {
				return results, err
			}
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}

		emb, err := embed(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return results, ctx.Err()
			}
			logger.Debug("batch item failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		results[i] = emb
	}

	return results, nil
}

// Cache provides in-memory LRU caching of embeddings by content hash.
// It is safe for concurrent use.
type Cache struct {
	cache *lru.Cache[string, *Embedding]
}

// DefaultQueryCacheSize is the per-provider query cache size
const DefaultQueryCacheSize = 50

// NewCache creates a new embedding cache with LRU eviction
func NewCache(maxLen int) *Cache {
	if maxLen <= 0 {
		maxLen = DefaultQueryCacheSize
	}
	cache, err := lru.New[string, *Embedding](maxLen)
	if err != nil {
		cache, _ = lru.New[string, *Embedding](DefaultQueryCacheSize)
	}
	return &Cache{
		cache: cache,
	}
}

// Get retrieves a copy of a cached embedding
func (c *Cache) Get(hash string) (*Embedding, bool) {
	emb, ok := c.cache.Get(hash)
	if !ok {
		return nil, false
	}

	return emb.clone(), true
}

// Set stores an embedding in cache with automatic LRU eviction
func (c *Cache) Set(hash string, emb *Embedding) {
	c.cache.Add(hash, emb)
}

// Size returns the current cache size
func (c *Cache) Size() int {
	return c.cache.Len()
}

// Clear empties the cache
func (c *Cache) Clear() {
	c.cache.Purge()
}

// ComputeHash computes SHA-256 hash of text for caching
func ComputeHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Cached embeds text through e, consulting cache first. Only successful
// results are cached.
func Cached(ctx context.Context, e Embedder, cache *Cache, text string) (*Embedding, error) {
	if cache == nil {
		return e.EmbedWithMetadata(ctx, text)
	}

	hash := ComputeHash(text)
	if emb, ok := cache.Get(hash); ok {
		return emb, nil
	}

	emb, err := e.EmbedWithMetadata(ctx, text)
	if err != nil {
		return nil, err
	}
	cache.Set(hash, emb.clone())
	return emb, nil
}
