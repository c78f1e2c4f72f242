package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/dshills/shelfsearch/internal/embedder"
	"github.com/dshills/shelfsearch/internal/storage"
)

// Defaults
const (
	DefaultCacheSize         = 5000
	DefaultParallelThreshold = 100
	DefaultPartitions        = 4

	lockStripes = 64
)

// Errors
var (
	ErrInvalidEmbedding  = errors.New("invalid embedding")
	ErrDimensionMismatch = errors.New("embedding dimension does not match vector length")
)

// Config tunes the cache and search fan-out
type Config struct {
	CacheSize         int // Max cached vectors
	ParallelThreshold int // Candidate count above which search is partitioned
	Partitions        int // Number of concurrent partitions
}

// DefaultConfig returns the default tuning
func DefaultConfig() Config {
	return Config{
		CacheSize:         DefaultCacheSize,
		ParallelThreshold: DefaultParallelThreshold,
		Partitions:        DefaultPartitions,
	}
}

type entry struct {
	vector []float32
	dim    int
	source string
}

type itemMeta struct {
	dim    int
	source string
}

// Store is the single owner of item embeddings: a durable table plus a
// bounded LRU cache of normalized vectors.
type Store struct {
	storage storage.Storage
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	// bulk is held shared by single-item operations and exclusively by
	// bulk deletes and cache (re)loads
	bulk sync.RWMutex
	// stripes serialize persist+cache for the same item
	stripes [lockStripes]sync.Mutex

	// mu guards everything below
	mu        sync.Mutex
	cache     *simplelru.LRU[int64, *entry]
	meta      map[int64]itemMeta // every persisted item, cached or not
	loaded    bool
	activeDim int
}

// New creates a store backed by st
func New(st storage.Storage, cfg Config, logger *zap.Logger) *Store {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.ParallelThreshold <= 0 {
		cfg.ParallelThreshold = DefaultParallelThreshold
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = DefaultPartitions
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, _ := simplelru.NewLRU[int64, *entry](cfg.CacheSize, nil)
	return &Store{
		storage: st,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		cache:   cache,
		meta:    make(map[int64]itemMeta),
	}
}

func (s *Store) stripe(itemID int64) *sync.Mutex {
	return &s.stripes[uint64(itemID)%lockStripes]
}

func (s *Store) isLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loaded
}

// acquire loads the cache if needed and returns holding bulk for reading
func (s *Store) acquire(ctx context.Context) error {
	for {
		if !s.isLoaded() {
			s.bulk.Lock()
			var err error
			if !s.isLoaded() {
				err = s.load(ctx)
			}
			s.bulk.Unlock()
			if err != nil {
				return err
			}
		}

		s.bulk.RLock()
		if s.isLoaded() {
			return nil
		}
		// Invalidated between load and lock
		s.bulk.RUnlock()
	}
}

// load rebuilds metadata for every record and caches the most recent ones.
// Caller holds bulk exclusively.
func (s *Store) load(ctx context.Context) error {
	metas, err := s.storage.ListItemMeta(ctx)
	if err != nil {
		return fmt.Errorf("load embedding metadata: %w", err)
	}

	records, err := s.storage.ListEmbeddings(ctx, s.cfg.CacheSize)
	if err != nil {
		// Unreadable rows stay searchable through storage
		s.logger.Warn("failed to warm embedding cache", zap.Error(err))
		records = nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Purge()
	s.meta = make(map[int64]itemMeta, len(metas))
	for _, m := range metas {
		s.meta[m.ItemID] = itemMeta{dim: m.Dimension, source: m.Source}
	}

	// Oldest first so the most recent record ends up most recently used
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		s.cache.Add(r.ItemID, &entry{vector: r.Vector, dim: r.Dimension, source: r.Source})
	}

	s.activeDim = 0
	if len(records) > 0 {
		s.activeDim = records[0].Dimension
	}
	s.loaded = true

	s.logger.Debug("embedding cache loaded",
		zap.Int("items", len(s.meta)),
		zap.Int("cached", s.cache.Len()))
	return nil
}

// StoreWithMetadata normalizes emb, persists it for itemID and caches it.
// It becomes the active dimension.
func (s *Store) StoreWithMetadata(ctx context.Context, itemID int64, emb *embedder.Embedding) error {
	if emb == nil || len(emb.Vector) == 0 {
		return fmt.Errorf("%w: empty vector for item %d", ErrInvalidEmbedding, itemID)
	}
	if emb.Dimension != 0 && emb.Dimension != len(emb.Vector) {
		return fmt.Errorf("%w: item %d has %d values, dimension %d", ErrDimensionMismatch, itemID, len(emb.Vector), emb.Dimension)
	}

	vector := storage.Normalize(emb.Vector)
	if &vector[0] == &emb.Vector[0] {
		// Zero vector came back unchanged; never alias the caller's slice
		vector = append([]float32(nil), vector...)
	}

	record := &storage.EmbeddingRecord{
		ItemID:    itemID,
		Vector:    vector,
		Dimension: len(vector),
		Source:    emb.Source,
		IndexedAt: s.now(),
	}

	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.bulk.RUnlock()

	lock := s.stripe(itemID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.storage.UpsertEmbedding(ctx, record); err != nil {
		return fmt.Errorf("store embedding for item %d: %w", itemID, err)
	}

	s.mu.Lock()
	s.cache.Add(itemID, &entry{vector: vector, dim: record.Dimension, source: record.Source})
	s.meta[itemID] = itemMeta{dim: record.Dimension, source: record.Source}
	s.activeDim = record.Dimension
	s.mu.Unlock()

	return nil
}

// GetEmbedding returns a copy of the normalized vector for itemID. Evicted
// vectors are reloaded from storage.
func (s *Store) GetEmbedding(ctx context.Context, itemID int64) ([]float32, bool) {
	if err := s.acquire(ctx); err != nil {
		s.logger.Warn("embedding lookup failed", zap.Int64("item_id", itemID), zap.Error(err))
		return nil, false
	}
	defer s.bulk.RUnlock()

	s.mu.Lock()
	if e, ok := s.cache.Get(itemID); ok {
		s.mu.Unlock()
		return append([]float32(nil), e.vector...), true
	}
	_, known := s.meta[itemID]
	s.mu.Unlock()

	if !known {
		return nil, false
	}

	lock := s.stripe(itemID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.storage.GetEmbedding(ctx, itemID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to reload evicted embedding", zap.Int64("item_id", itemID), zap.Error(err))
		}
		return nil, false
	}

	s.mu.Lock()
	if _, ok := s.meta[itemID]; ok {
		s.cache.Add(itemID, &entry{vector: record.Vector, dim: record.Dimension, source: record.Source})
	}
	s.mu.Unlock()

	return append([]float32(nil), record.Vector...), true
}

// HasEmbedding reports whether itemID has a persisted embedding
func (s *Store) HasEmbedding(ctx context.Context, itemID int64) bool {
	if err := s.acquire(ctx); err != nil {
		return false
	}
	defer s.bulk.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.meta[itemID]
	return ok
}

// Delete removes the embedding for itemID
func (s *Store) Delete(ctx context.Context, itemID int64) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.bulk.RUnlock()

	lock := s.stripe(itemID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.storage.DeleteEmbedding(ctx, itemID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("delete embedding for item %d: %w", itemID, err)
	}

	s.mu.Lock()
	s.cache.Remove(itemID)
	delete(s.meta, itemID)
	s.mu.Unlock()
	return nil
}

// DeleteAll removes every embedding and returns how many were deleted
func (s *Store) DeleteAll(ctx context.Context) (int, error) {
	s.bulk.Lock()
	defer s.bulk.Unlock()

	n, err := s.storage.DeleteAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all embeddings: %w", err)
	}

	s.mu.Lock()
	s.cache.Purge()
	s.meta = make(map[int64]itemMeta)
	s.activeDim = 0
	s.loaded = true
	s.mu.Unlock()

	return n, nil
}

// DeleteBySource removes every embedding produced by source
func (s *Store) DeleteBySource(ctx context.Context, source string) (int, error) {
	s.bulk.Lock()
	defer s.bulk.Unlock()

	n, err := s.storage.DeleteBySource(ctx, source)
	if err != nil {
		return 0, fmt.Errorf("delete embeddings from %s: %w", source, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.loaded {
		return n, nil
	}
	for id, m := range s.meta {
		if m.source == source {
			delete(s.meta, id)
			s.cache.Remove(id)
		}
	}
	return n, nil
}

// InvalidateCache drops the cache; the next access reloads from storage
func (s *Store) InvalidateCache() {
	s.bulk.Lock()
	defer s.bulk.Unlock()

	s.mu.Lock()
	s.cache.Purge()
	s.meta = make(map[int64]itemMeta)
	s.loaded = false
	s.mu.Unlock()
}

// Count returns the number of stored embeddings
func (s *Store) Count(ctx context.Context) int {
	if err := s.acquire(ctx); err != nil {
		return 0
	}
	defer s.bulk.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.meta)
}

// CountForDimension returns the number of stored embeddings of dimension dim
func (s *Store) CountForDimension(ctx context.Context, dim int) int {
	if err := s.acquire(ctx); err != nil {
		return 0
	}
	defer s.bulk.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.meta {
		if m.dim == dim {
			n++
		}
	}
	return n
}

// AvailableDimensions returns the distinct stored dimensions in ascending order
func (s *Store) AvailableDimensions(ctx context.Context) []int {
	if err := s.acquire(ctx); err != nil {
		return nil
	}
	defer s.bulk.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimensionsLocked()
}

func (s *Store) dimensionsLocked() []int {
	seen := make(map[int]struct{})
	for _, m := range s.meta {
		seen[m.dim] = struct{}{}
	}
	dims := make([]int, 0, len(seen))
	for d := range seen {
		dims = append(dims, d)
	}
	sort.Ints(dims)
	return dims
}

// PredominantSource returns the most common source tag, "" for an empty
// store. Ties go to the alphabetically first source.
func (s *Store) PredominantSource(ctx context.Context) string {
	if err := s.acquire(ctx); err != nil {
		return ""
	}
	defer s.bulk.RUnlock()

	s.mu.Lock()
	counts := make(map[string]int)
	for _, m := range s.meta {
		counts[m.source]++
	}
	s.mu.Unlock()

	best, bestCount := "", 0
	for source, n := range counts {
		if n > bestCount || (n == bestCount && source < best) {
			best, bestCount = source, n
		}
	}
	return best
}

// ActiveDimension returns the dimension of the most recently stored
// embedding, 0 when the store is empty
func (s *Store) ActiveDimension(ctx context.Context) int {
	if err := s.acquire(ctx); err != nil {
		return 0
	}
	defer s.bulk.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeDim
}

// Status combines the persisted statistics with cache occupancy
type Status struct {
	*storage.Status
	CachedEntries int
	CacheCapacity int
}

// Status reports storage statistics and cache occupancy
func (s *Store) Status(ctx context.Context) (*Status, error) {
	st, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	cached := s.cache.Len()
	s.mu.Unlock()

	return &Status{Status: st, CachedEntries: cached, CacheCapacity: s.cfg.CacheSize}, nil
}
