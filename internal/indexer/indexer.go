package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dshills/shelfsearch/internal/chunker"
	"github.com/dshills/shelfsearch/internal/embedder"
	"github.com/dshills/shelfsearch/internal/library"
	"github.com/dshills/shelfsearch/pkg/types"
)

// ErrIndexingInProgress is returned when a run is already active
var ErrIndexingInProgress = errors.New("indexing already in progress")

// Defaults
const (
	DefaultBatchSize     = 20
	DefaultDelay         = 500 * time.Millisecond
	DefaultMaxTextLength = chunker.DefaultPrimaryTextLength

	// rateLimitPadding is added on top of a provider cooldown
	rateLimitPadding = time.Second
)

// Store is the part of the vector store the indexer writes through
type Store interface {
	HasEmbedding(ctx context.Context, itemID int64) bool
	StoreWithMetadata(ctx context.Context, itemID int64, emb *embedder.Embedding) error
	PredominantSource(ctx context.Context) string
	DeleteBySource(ctx context.Context, source string) (int, error)
}

// Notifier receives a fire-and-forget signal after a run stored embeddings,
// e.g. to rebuild a reading-context cache
type Notifier interface {
	Invalidate()
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func()

// Invalidate calls f
func (f NotifierFunc) Invalidate() { f() }

// ProgressFunc is called after every batch with the number of items
// processed so far, the total and the title of the last item in the batch
type ProgressFunc func(processed, total int, currentTitle string)

// Config contains configuration for the indexer
type Config struct {
	BatchSize     int           // Items per embedding batch (default: 20)
	DefaultDelay  time.Duration // Pause between requests when not rate limited (default: 500ms)
	MaxTextLength int           // Upper bound of the per-item embedding text (default: 1000)
}

// DefaultConfig returns the default indexer configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:     DefaultBatchSize,
		DefaultDelay:  DefaultDelay,
		MaxTextLength: DefaultMaxTextLength,
	}
}

// Indexer embeds library items and writes them to the vector store
type Indexer struct {
	repo     library.Repository
	provider embedder.Embedder
	store    Store
	chunker  *chunker.Chunker
	notifier Notifier
	cfg      Config
	logger   *zap.Logger
	lock     IndexLock
	now      func() time.Time
}

// Option configures an Indexer
type Option func(*Indexer)

// WithNotifier sets the sink signalled after successful runs
func WithNotifier(n Notifier) Option {
	return func(idx *Indexer) { idx.notifier = n }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(idx *Indexer) {
		if l != nil {
			idx.logger = l
		}
	}
}

// New creates a new Indexer instance
func New(repo library.Repository, provider embedder.Embedder, store Store, cfg Config, opts ...Option) *Indexer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.DefaultDelay < 0 {
		cfg.DefaultDelay = 0
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = DefaultMaxTextLength
	}

	idx := &Indexer{
		repo:     repo,
		provider: provider,
		store:    store,
		chunker:  chunker.New(chunker.DefaultOptions(), cfg.MaxTextLength),
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Running reports whether a run is in progress
func (idx *Indexer) Running() bool {
	return idx.lock.Held()
}

// Run embeds every item lacking an embedding, or every item when force is
// set. Per-item failures are counted, not returned. On cancellation the
// partial result is returned together with ctx.Err(); everything stored
// before that stays valid.
func (idx *Indexer) Run(ctx context.Context, force bool, onProgress ProgressFunc) (*types.IndexingResult, error) {
	if !idx.lock.TryAcquire() {
		return nil, ErrIndexingInProgress
	}
	defer idx.lock.Release()

	start := idx.now()
	result := &types.IndexingResult{RunID: uuid.NewString(), Source: idx.provider.Source()}
	logger := idx.logger.With(zap.String("run_id", result.RunID))
	defer func() { result.Duration = idx.now().Sub(start) }()

	if !idx.provider.IsConfigured() {
		logger.Info("embedding provider not configured, indexing skipped")
		result.NotConfigured = true
		return result, nil
	}

	items, err := idx.repo.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list library items: %w", err)
	}

	// Source that owned the index before this run
	var previous string
	if force {
		previous = idx.store.PredominantSource(ctx)
	}

	candidates := items
	if !force {
		candidates = make([]types.LibraryItem, 0, len(items))
		for _, item := range items {
			if !idx.store.HasEmbedding(ctx, item.ID) {
				candidates = append(candidates, item)
			}
		}
	}

	logger.Info("indexing started",
		zap.Bool("force", force),
		zap.Int("items", len(items)),
		zap.Int("candidates", len(candidates)))

	sources := make(map[string]int)
	defer func() {
		result.Source = dominant(sources, result.Source)
		if result.Indexed > 0 && idx.notifier != nil {
			go idx.notifier.Invalidate()
		}
	}()

	processed := 0
	for i := 0; i < len(candidates); i += idx.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			logger.Info("indexing cancelled", zap.Int("processed", processed), zap.Int("total", len(candidates)))
			return result, err
		}

		end := min(i+idx.cfg.BatchSize, len(candidates))
		batch := candidates[i:end]

		if err := idx.indexBatch(ctx, logger, batch, result, sources); err != nil {
			logger.Info("indexing cancelled", zap.Int("processed", processed), zap.Int("total", len(candidates)))
			return result, err
		}

		processed += len(batch)
		if onProgress != nil {
			onProgress(processed, len(candidates), batch[len(batch)-1].Title)
		}
	}

	if force {
		idx.purgeStaleSource(ctx, logger, previous, sources)
	}

	logger.Info("indexing finished",
		zap.Int("indexed", result.Indexed),
		zap.Int("skipped", result.Skipped),
		zap.Int("failed", result.Failed),
		zap.String("source", dominant(sources, result.Source)),
		zap.Duration("duration", idx.now().Sub(start)))

	return result, nil
}

// indexBatch embeds and stores one batch. It only returns an error on
// cancellation, after storing whatever the provider returned.
func (idx *Indexer) indexBatch(ctx context.Context, logger *zap.Logger, batch []types.LibraryItem, result *types.IndexingResult, sources map[string]int) error {
	pending := make([]types.LibraryItem, 0, len(batch))
	texts := make([]string, 0, len(batch))
	for _, item := range batch {
		text := idx.chunker.PrimaryText(item)
		if strings.TrimSpace(text) == "" {
			result.Skipped++
			continue
		}
		pending = append(pending, item)
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return nil
	}

	embeddings, batchErr := idx.provider.EmbedBatch(ctx, texts, idx.delayPolicy())

	for i, item := range pending {
		emb, ok := embeddings[i]
		if !ok || emb == nil {
			if batchErr == nil {
				result.Failed++
				logger.Debug("embedding failed", zap.Int64("item_id", item.ID), zap.String("title", item.Title))
			}
			continue
		}

		// Writes finish even when the run is being cancelled
		if err := idx.store.StoreWithMetadata(context.WithoutCancel(ctx), item.ID, emb); err != nil {
			result.Failed++
			logger.Warn("failed to store embedding", zap.Int64("item_id", item.ID), zap.Error(err))
			continue
		}
		result.Indexed++
		sources[emb.Source]++
	}

	return batchErr
}

// delayPolicy waits out the provider cooldown plus a second when rate
// limited, else the configured default
func (idx *Indexer) delayPolicy() embedder.DelayPolicy {
	return func(int) time.Duration {
		if idx.provider.IsRateLimited() {
			secs := embedder.CooldownSeconds(idx.provider.RemainingCooldown())
			return time.Duration(secs)*time.Second + rateLimitPadding
		}
		return idx.cfg.DefaultDelay
	}
}

// purgeStaleSource runs after a completed forced re-index. It removes the
// records of the source that owned the index before the run, once the run has
// stored embeddings and none of them came from that source. Items the run
// re-embedded were already replaced, so only the ones it failed on go.
func (idx *Indexer) purgeStaleSource(ctx context.Context, logger *zap.Logger, previous string, sources map[string]int) {
	stored := 0
	for _, n := range sources {
		stored += n
	}
	if previous == "" || stored == 0 || sources[previous] > 0 {
		return
	}

	n, err := idx.store.DeleteBySource(ctx, previous)
	if err != nil {
		logger.Warn("failed to purge stale embeddings", zap.String("source", previous), zap.Error(err))
		return
	}
	logger.Info("purged stale embeddings",
		zap.String("source", previous),
		zap.String("current_source", dominant(sources, "")),
		zap.Int("deleted", n))
}

// dominant returns the most common source, fallback when there is none
func dominant(sources map[string]int, fallback string) string {
	best, bestCount := fallback, 0
	for source, n := range sources {
		if n > bestCount || (n == bestCount && source < best) {
			best, bestCount = source, n
		}
	}
	return best
}
