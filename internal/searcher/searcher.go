package searcher

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/shelfsearch/internal/chunker"
	"github.com/dshills/shelfsearch/internal/embedder"
	"github.com/dshills/shelfsearch/internal/library"
	"github.com/dshills/shelfsearch/internal/reranker"
	"github.com/dshills/shelfsearch/pkg/types"
)

// ErrEmptyQuery is returned for a blank query
var ErrEmptyQuery = errors.New("query cannot be empty")

// Defaults
const (
	DefaultLimit        = 10
	DefaultMaxLimit     = 50
	DefaultCandidateCap = 24
	candidateFactor     = 3
)

// Store is the read side of the vector store
type Store interface {
	AvailableDimensions(ctx context.Context) []int
	SearchWithScores(ctx context.Context, query []float32, limit int) []types.SearchCandidate
	PredominantSource(ctx context.Context) string
}

// Config contains configuration for the searcher
type Config struct {
	DefaultLimit   int     // Limit used when a request has none (default: 10)
	MaxLimit       int     // Upper bound of a request limit (default: 50)
	CandidateCap   int     // Upper bound of vector candidates per query (default: 24)
	VectorWeight   float64 // Weight of the vector ranking when re-ranking (default: 0.7)
	QueryCacheSize int     // Query embeddings cached per provider (default: 50)
}

// DefaultConfig returns the default searcher configuration
func DefaultConfig() Config {
	return Config{
		DefaultLimit:   DefaultLimit,
		MaxLimit:       DefaultMaxLimit,
		CandidateCap:   DefaultCandidateCap,
		VectorWeight:   reranker.DefaultVectorWeight,
		QueryCacheSize: embedder.DefaultQueryCacheSize,
	}
}

// Request contains parameters for a search operation
type Request struct {
	Query  string
	Limit  int  // <= 0 uses Config.DefaultLimit
	Rerank bool // Blend in BM25 over the candidates
}

// Result is a resolved item with its merged similarity in [0, 1]
type Result struct {
	Item  types.LibraryItem
	Score float64
}

// Response contains search results and metadata
type Response struct {
	Results    []Result
	Candidates int      // Vector candidates before resolution
	Sources    []string // Providers that contributed candidates
	Reranked   bool
	Fallback   bool // Results came from the predominant-source path

	// NotConfigured is set when no provider can embed the query
	NotConfigured bool
	// RateLimitedFor is the longest cooldown of a provider that was skipped
	// because it is rate limited
	RateLimitedFor time.Duration

	Duration time.Duration
}

type provider struct {
	embedder embedder.Embedder
	cache    *embedder.Cache
}

// Searcher embeds queries with every provider that matches a stored
// dimension and merges the per-provider vector results
type Searcher struct {
	store     Store
	repo      library.Repository
	providers []provider
	bm25      *reranker.BM25
	cfg       Config
	logger    *zap.Logger
}

// New creates a searcher over store, resolving items through repo.
// providers are tried in order; nil entries are ignored.
func New(store Store, repo library.Repository, providers []embedder.Embedder, cfg Config, logger *zap.Logger) *Searcher {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = DefaultMaxLimit
	}
	if cfg.CandidateCap <= 0 {
		cfg.CandidateCap = DefaultCandidateCap
	}
	if cfg.VectorWeight <= 0 || cfg.VectorWeight > 1 {
		cfg.VectorWeight = reranker.DefaultVectorWeight
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Searcher{
		store:  store,
		repo:   repo,
		bm25:   reranker.New(),
		cfg:    cfg,
		logger: logger,
	}
	for _, e := range providers {
		if e == nil {
			continue
		}
		s.providers = append(s.providers, provider{embedder: e, cache: embedder.NewCache(cfg.QueryCacheSize)})
	}
	return s
}

// Search returns up to limit library items for query, best first
func (s *Searcher) Search(ctx context.Context, query string, limit int, useReranking bool) ([]types.LibraryItem, error) {
	resp, err := s.Query(ctx, Request{Query: query, Limit: limit, Rerank: useReranking})
	if err != nil {
		return nil, err
	}
	items := make([]types.LibraryItem, len(resp.Results))
	for i, r := range resp.Results {
		items[i] = r.Item
	}
	return items, nil
}

// Query runs a search. Provider failures only remove that provider's
// contribution; the errors returned are ErrEmptyQuery and cancellation.
func (s *Searcher) Query(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	limit := s.clampLimit(req.Limit)

	resp := &Response{Results: []Result{}}
	defer func() { resp.Duration = time.Since(start) }()

	dims := s.store.AvailableDimensions(ctx)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(dims) == 0 {
		return resp, nil
	}

	candidateLimit := max(min(limit*candidateFactor, s.cfg.CandidateCap), limit)

	tried, merged, err := s.searchDimensions(ctx, query, dims, candidateLimit, resp)
	if err != nil {
		return nil, err
	}

	if len(merged) == 0 {
		if fallback := s.fallbackProvider(ctx, tried, resp); fallback != nil {
			results, err := s.subSearch(ctx, *fallback, query, candidateLimit)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				s.noteFailure(fallback.embedder, err, resp)
			}
			merged = mergeMax(merged, results)
			if len(results) > 0 {
				resp.Fallback = true
				resp.Sources = append(resp.Sources, fallback.embedder.Source())
			}
		}
	}

	if s.allUnconfigured() {
		resp.NotConfigured = true
	}

	candidates := rank(merged, candidateLimit)
	resp.Candidates = len(candidates)

	resolved, err := s.resolve(ctx, candidates)
	if err != nil {
		return nil, err
	}

	if req.Rerank && len(resolved) > limit {
		resolved = s.rerank(query, resolved, limit)
		resp.Reranked = true
	}
	if len(resolved) > limit {
		resolved = resolved[:limit]
	}
	resp.Results = resolved

	s.logger.Debug("search completed",
		zap.String("query", query),
		zap.Int("limit", limit),
		zap.Ints("dimensions", dims),
		zap.Int("candidates", resp.Candidates),
		zap.Int("results", len(resolved)),
		zap.Bool("reranked", resp.Reranked),
		zap.Bool("fallback", resp.Fallback))

	return resp, nil
}

func (s *Searcher) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	return min(limit, s.cfg.MaxLimit)
}

// searchDimensions runs one sub-search per provider whose dimension is
// stored, all sharing ctx, and merges their scores. It returns the set of
// providers that were attempted.
func (s *Searcher) searchDimensions(ctx context.Context, query string, dims []int, candidateLimit int, resp *Response) (map[int]bool, map[int64]float64, error) {
	present := make(map[int]bool, len(dims))
	for _, d := range dims {
		present[d] = true
	}

	tried := make(map[int]bool)
	partials := make([][]types.SearchCandidate, len(s.providers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range s.providers {
		if !p.embedder.IsConfigured() || !present[p.embedder.Dimension()] {
			continue
		}
		tried[i] = true
		if p.embedder.IsRateLimited() {
			mu.Lock()
			s.skipRateLimited(p.embedder, resp)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			results, err := s.subSearch(gctx, p, query, candidateLimit)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.noteFailure(p.embedder, err, resp)
				return nil
			}
			partials[i] = results
			if len(results) > 0 {
				resp.Sources = append(resp.Sources, p.embedder.Source())
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	sort.Strings(resp.Sources)

	var merged map[int64]float64
	for _, part := range partials {
		merged = mergeMax(merged, part)
	}
	return tried, merged, nil
}

// subSearch embeds query with one provider and searches its dimension.
// A provider that becomes rate limited fails instead of waiting.
func (s *Searcher) subSearch(ctx context.Context, p provider, query string, candidateLimit int) ([]types.SearchCandidate, error) {
	emb, err := embedder.Cached(embedder.WithoutRateLimitWait(ctx), p.embedder, p.cache, query)
	if err != nil {
		return nil, err
	}

	results := s.store.SearchWithScores(ctx, emb.Vector, candidateLimit)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// noteFailure logs a provider failure and records rate limiting on resp.
// Callers serialize access to resp.
func (s *Searcher) noteFailure(e embedder.Embedder, err error, resp *Response) {
	var rl *embedder.RateLimitError
	if errors.As(err, &rl) {
		resp.RateLimitedFor = max(resp.RateLimitedFor, rl.Cooldown)
	}
	s.logger.Warn("query embedding failed",
		zap.String("source", e.Source()),
		zap.Int("dimension", e.Dimension()),
		zap.Error(err))
}

// skipRateLimited records the cooldown of a provider left out of a query.
// Callers serialize access to resp.
func (s *Searcher) skipRateLimited(e embedder.Embedder, resp *Response) {
	resp.RateLimitedFor = max(resp.RateLimitedFor, e.RemainingCooldown())
	s.logger.Debug("skipping rate limited provider",
		zap.String("source", e.Source()),
		zap.Duration("cooldown", e.RemainingCooldown()))
}

// fallbackProvider picks the configured provider producing the store's
// predominant source, unless it was already attempted. A rate limited
// match is recorded on resp and skipped.
func (s *Searcher) fallbackProvider(ctx context.Context, tried map[int]bool, resp *Response) *provider {
	source := s.store.PredominantSource(ctx)
	if source == "" {
		return nil
	}
	for i := range s.providers {
		p := s.providers[i]
		if tried[i] || !p.embedder.IsConfigured() || p.embedder.Source() != source {
			continue
		}
		if p.embedder.IsRateLimited() {
			s.skipRateLimited(p.embedder, resp)
			continue
		}
		return &p
	}
	return nil
}

func (s *Searcher) allUnconfigured() bool {
	for _, p := range s.providers {
		if p.embedder.IsConfigured() {
			return false
		}
	}
	return true
}

// mergeMax maps cosine scores from [-1, 1] to [0, 1] and keeps the best
// score per item
func mergeMax(merged map[int64]float64, results []types.SearchCandidate) map[int64]float64 {
	if merged == nil {
		merged = make(map[int64]float64, len(results))
	}
	for _, r := range results {
		score := (r.Score + 1) / 2
		if prev, ok := merged[r.ItemID]; !ok || score > prev {
			merged[r.ItemID] = score
		}
	}
	return merged
}

// rank orders merged scores descending, ties by ID, and keeps limit
func rank(merged map[int64]float64, limit int) []types.SearchCandidate {
	out := make([]types.SearchCandidate, 0, len(merged))
	for id, score := range merged {
		out = append(out, types.SearchCandidate{ItemID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ItemID < out[j].ItemID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// resolve looks candidates up in the library. Items deleted since indexing
// are dropped.
func (s *Searcher) resolve(ctx context.Context, candidates []types.SearchCandidate) ([]Result, error) {
	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		item, ok, err := s.repo.Get(ctx, c.ItemID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			s.logger.Warn("failed to resolve library item", zap.Int64("item_id", c.ItemID), zap.Error(err))
			continue
		}
		if !ok {
			s.logger.Debug("dropping missing library item", zap.Int64("item_id", c.ItemID))
			continue
		}
		results = append(results, Result{Item: item, Score: c.Score})
	}
	return results, nil
}

// rerank blends BM25 over the search texts of results with their vector order
func (s *Searcher) rerank(query string, results []Result, limit int) []Result {
	docs := make(map[int64]string, len(results))
	ranking := make([]int64, len(results))
	byID := make(map[int64]Result, len(results))
	for i, r := range results {
		docs[r.Item.ID] = chunker.BuildSearchText(r.Item)
		ranking[i] = r.Item.ID
		byID[r.Item.ID] = r
	}

	ids := s.bm25.HybridRerank(query, docs, ranking, s.cfg.VectorWeight, limit)
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}
