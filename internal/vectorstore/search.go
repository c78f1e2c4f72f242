package vectorstore

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/shelfsearch/internal/storage"
	"github.com/dshills/shelfsearch/pkg/types"
)

type candidate struct {
	id     int64
	vector []float32
}

// Search returns the IDs of the limit most similar items to query
func (s *Store) Search(ctx context.Context, query []float32, limit int) []int64 {
	results := s.SearchWithScores(ctx, query, limit)
	ids := make([]int64, len(results))
	for i, r := range results {
		ids[i] = r.ItemID
	}
	return ids
}

// SearchWithScores returns the limit most similar items to query, best
// first. Only embeddings whose dimension equals len(query) are scored; when
// none exist the result is empty. Failures are logged, never returned.
func (s *Store) SearchWithScores(ctx context.Context, query []float32, limit int) []types.SearchCandidate {
	if limit <= 0 || len(query) == 0 {
		return []types.SearchCandidate{}
	}

	if err := s.acquire(ctx); err != nil {
		s.logger.Warn("vector search unavailable", zap.Error(err))
		return []types.SearchCandidate{}
	}
	defer s.bulk.RUnlock()

	query = storage.Normalize(query)
	dim := len(query)

	s.mu.Lock()
	eligible := 0
	for _, m := range s.meta {
		if m.dim == dim {
			eligible++
		}
	}
	if eligible == 0 {
		dims := s.dimensionsLocked()
		s.mu.Unlock()
		s.logger.Info("no embeddings match query dimension",
			zap.Int("query_dimension", dim),
			zap.Ints("available_dimensions", dims))
		return []types.SearchCandidate{}
	}

	// Some records were evicted: rank them in storage instead
	if len(s.meta) != s.cache.Len() {
		s.mu.Unlock()
		results, err := s.storage.SearchVector(ctx, query, limit)
		if err != nil {
			s.logger.Warn("storage vector search failed", zap.Error(err))
			return []types.SearchCandidate{}
		}
		s.touch(ctx, results, true)
		return results
	}

	candidates := make([]candidate, 0, eligible)
	for _, id := range s.cache.Keys() {
		e, ok := s.cache.Peek(id)
		if ok && e.dim == dim {
			candidates = append(candidates, candidate{id: id, vector: e.vector})
		}
	}
	s.mu.Unlock()

	var results []types.SearchCandidate
	if len(candidates) > s.cfg.ParallelThreshold {
		var err error
		results, err = s.scoreParallel(ctx, query, candidates, limit)
		if err != nil {
			return []types.SearchCandidate{}
		}
	} else {
		results = scoreSequential(query, candidates, limit)
	}

	s.touch(ctx, results, false)
	return results
}

// touch refreshes the recency of returned items. Results that came from
// storage are pulled into the cache when still present there.
func (s *Store) touch(ctx context.Context, results []types.SearchCandidate, reload bool) {
	s.mu.Lock()
	var missing []int64
	for _, r := range results {
		if _, ok := s.cache.Get(r.ItemID); !ok && reload {
			missing = append(missing, r.ItemID)
		}
	}
	s.mu.Unlock()

	if len(missing) == 0 {
		return
	}

	for _, id := range missing {
		lock := s.stripe(id)
		lock.Lock()
		record, err := s.storage.GetEmbedding(ctx, id)
		if err == nil {
			s.mu.Lock()
			if _, ok := s.meta[id]; ok {
				s.cache.Add(id, &entry{vector: record.Vector, dim: record.Dimension, source: record.Source})
			}
			s.mu.Unlock()
		}
		lock.Unlock()
	}
}

func scoreSequential(query []float32, candidates []candidate, limit int) []types.SearchCandidate {
	top := storage.NewTopK(limit)
	for _, c := range candidates {
		top.Push(c.id, storage.Dot(query, c.vector))
	}
	return top.Results()
}

// scoreParallel scores fixed partitions concurrently, then reduces the
// per-partition top-K lists to a single top-K
func (s *Store) scoreParallel(ctx context.Context, query []float32, candidates []candidate, limit int) ([]types.SearchCandidate, error) {
	parts := s.cfg.Partitions
	size := (len(candidates) + parts - 1) / parts
	partials := make([][]types.SearchCandidate, parts)

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < parts; p++ {
		start := p * size
		end := min(start+size, len(candidates))
		if start >= end {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partials[p] = scoreSequential(query, candidates[start:end], limit)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := storage.NewTopK(limit)
	for _, part := range partials {
		for _, c := range part {
			merged.Push(c.ItemID, c.Score)
		}
	}
	return merged.Results(), nil
}
