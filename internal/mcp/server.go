package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/shelfsearch/internal/embedder"
	"github.com/dshills/shelfsearch/internal/indexer"
	"github.com/dshills/shelfsearch/internal/library"
	"github.com/dshills/shelfsearch/internal/searcher"
	"github.com/dshills/shelfsearch/internal/vectorstore"
	"github.com/dshills/shelfsearch/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "shelfsearch"

	// IndexUpdatedNotification is broadcast after a run stored new embeddings
	IndexUpdatedNotification = "notifications/shelfsearch/index_updated"
)

// ServerVersion is the current server version, overridden at build time
var ServerVersion = "1.0.0"

// Components are the application services exposed as tools
type Components struct {
	Library  library.Repository
	Store    *vectorstore.Store
	Indexer  *indexer.Indexer
	Searcher *searcher.Searcher

	// Embedder is the provider the indexer writes with
	Embedder embedder.Embedder
	// Providers are reported by get_status
	Providers []embedder.Embedder

	// Rerank is the search_library default when the argument is absent
	Rerank bool
}

func (c Components) validate() error {
	switch {
	case c.Library == nil:
		return errors.New("library repository is required")
	case c.Store == nil:
		return errors.New("vector store is required")
	case c.Indexer == nil:
		return errors.New("indexer is required")
	case c.Searcher == nil:
		return errors.New("searcher is required")
	case c.Embedder == nil:
		return errors.New("indexing embedder is required")
	}
	return nil
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	c      Components
	logger *zap.Logger

	mu      sync.Mutex
	lastRun *types.IndexingResult
}

// NewServer creates a new MCP server instance
func NewServer(c Components, logger *zap.Logger) (*Server, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:    mcpServer,
		c:      c,
		logger: logger,
	}

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	return s, nil
}

// Serve speaks MCP over in/out until ctx is cancelled or in is closed
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger.Named("stdio")))

	err := stdio.Listen(ctx, in, out)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// IndexUpdated tells connected clients that search results may have changed.
// It is meant to be used as the indexer's notifier.
func (s *Server) IndexUpdated() {
	count := 0
	if st, err := s.c.Store.Status(context.Background()); err == nil {
		count = st.EmbeddingsCount
	}
	s.mcp.SendNotificationToAllClients(IndexUpdatedNotification, map[string]any{
		"embeddings_count": count,
	})
	s.logger.Debug("index update broadcast", zap.Int("embeddings_count", count))
}

func (s *Server) recordRun(result *types.IndexingResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = result
}

func (s *Server) lastIndexingRun() *types.IndexingResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	s.mcp.AddTool(indexLibraryTool(), s.handleIndexLibrary)
	s.mcp.AddTool(searchLibraryTool(), s.handleSearchLibrary)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	return nil
}
