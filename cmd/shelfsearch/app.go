package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dshills/shelfsearch/internal/config"
	"github.com/dshills/shelfsearch/internal/embedder"
	"github.com/dshills/shelfsearch/internal/indexer"
	"github.com/dshills/shelfsearch/internal/library"
	"github.com/dshills/shelfsearch/internal/mcp"
	"github.com/dshills/shelfsearch/internal/searcher"
	"github.com/dshills/shelfsearch/internal/storage"
	"github.com/dshills/shelfsearch/internal/vectorstore"
)

// app owns every long-lived component and closes them in reverse order
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	db        *storage.SQLiteStorage
	store     *vectorstore.Store
	providers *embedder.Providers
	repo      library.Repository
	indexer   *indexer.Indexer
	searcher  *searcher.Searcher
	server    *mcp.Server
	watcher   *library.Watcher
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.db = db

	a.store = vectorstore.New(db, vectorstore.Config{
		CacheSize:         cfg.VectorStore.CacheSize,
		ParallelThreshold: cfg.VectorStore.ParallelThreshold,
		Partitions:        cfg.VectorStore.Partitions,
	}, logger.Named("vectorstore"))

	providers, err := embedder.New(cfg.Embedding, logger.Named("embedder"))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	a.providers = providers

	if cfg.Library.CatalogPath == "" {
		logger.Warn("no library catalog configured, the library is empty",
			zap.String("env", config.EnvCatalogPath))
		a.repo = library.NewMemoryRepository()
	} else {
		a.repo = library.NewFileRepository(cfg.Library.CatalogPath, logger.Named("library"))
	}

	a.indexer = indexer.New(a.repo, providers.Hybrid, a.store, indexer.Config{
		BatchSize:     cfg.Index.BatchSize,
		DefaultDelay:  cfg.Index.DefaultDelay,
		MaxTextLength: cfg.Index.MaxTextLength,
	},
		indexer.WithLogger(logger.Named("indexer")),
		indexer.WithNotifier(indexer.NotifierFunc(a.indexUpdated)),
	)

	a.searcher = searcher.New(a.store, a.repo, providers.All(), searcher.Config{
		DefaultLimit:   cfg.Search.DefaultLimit,
		MaxLimit:       cfg.Search.MaxLimit,
		CandidateCap:   cfg.Search.CandidateCap,
		VectorWeight:   cfg.Search.VectorWeight,
		QueryCacheSize: cfg.Search.QueryCacheSize,
	}, logger.Named("searcher"))

	a.server, err = mcp.NewServer(mcp.Components{
		Library:   a.repo,
		Store:     a.store,
		Indexer:   a.indexer,
		Searcher:  a.searcher,
		Embedder:  providers.Hybrid,
		Providers: providers.All(),
		Rerank:    cfg.Search.RerankOrDefault(),
	}, logger.Named("mcp"))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}

	return a, nil
}

func (a *app) indexUpdated() {
	if a.server != nil {
		a.server.IndexUpdated()
	}
}

// watch re-indexes in the background whenever the catalog file changes
func (a *app) watch(ctx context.Context) error {
	repo, ok := a.repo.(*library.FileRepository)
	if !ok || !a.cfg.Library.Watch {
		return nil
	}

	a.watcher = library.NewWatcher(repo.Path(), a.cfg.Library.Debounce, func() {
		a.reindex(ctx)
	}, library.WithLogger(a.logger.Named("watcher")))

	return a.watcher.Start(ctx)
}

func (a *app) reindex(ctx context.Context) {
	result, err := a.indexer.Run(ctx, false, nil)
	switch {
	case errors.Is(err, indexer.ErrIndexingInProgress):
		a.logger.Debug("catalog changed during indexing, skipped")
	case err != nil:
		a.logger.Warn("background indexing failed", zap.Error(err))
	default:
		a.logger.Info("catalog re-indexed",
			zap.String("run_id", result.RunID),
			zap.Int("indexed", result.Indexed),
			zap.Int("failed", result.Failed))
	}
}

// Close stops the watcher and releases providers and storage
func (a *app) Close() error {
	var errs []error
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.providers != nil {
		errs = append(errs, a.providers.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
