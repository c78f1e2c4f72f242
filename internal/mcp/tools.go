package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/shelfsearch/internal/embedder"
	"github.com/dshills/shelfsearch/internal/indexer"
	"github.com/dshills/shelfsearch/internal/searcher"
	"github.com/dshills/shelfsearch/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
)

// Response states
const (
	StateOK            = "ok"
	StateRateLimited   = "rate_limited"
	StateNotConfigured = "not_configured"
	StateCancelled     = "cancelled"
)

// handleIndexLibrary handles the index_library tool invocation
func (s *Server) handleIndexLibrary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}
	force := getBoolDefault(args, "force", false)

	result, err := s.c.Indexer.Run(ctx, force, s.progressReporter(ctx, request))
	if errors.Is(err, indexer.ErrIndexingInProgress) {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "indexing already in progress", nil)
	}
	if err != nil && result == nil {
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
	s.recordRun(result)

	response := indexingResponse(result)
	switch {
	case err != nil:
		response["state"] = StateCancelled
		response["error"] = err.Error()
	case result.NotConfigured:
		response["state"] = StateNotConfigured
		response["message"] = "No embedding provider is configured. Set an API key or enable the local provider."
	case result.Failed > 0 && s.c.Embedder.IsRateLimited():
		response["state"] = StateRateLimited
		response["retry_in_seconds"] = embedder.CooldownSeconds(s.c.Embedder.RemainingCooldown())
		response["message"] = "The embedding provider is rate limited. Run index_library again to embed the remaining items."
	default:
		response["state"] = StateOK
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// progressReporter forwards indexing progress when the client asked for it
func (s *Server) progressReporter(ctx context.Context, request mcp.CallToolRequest) indexer.ProgressFunc {
	if request.Params.Meta == nil || request.Params.Meta.ProgressToken == nil {
		return nil
	}
	token := request.Params.Meta.ProgressToken
	return func(processed, total int, currentTitle string) {
		err := s.mcp.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
			"progressToken": token,
			"progress":      processed,
			"total":         total,
			"message":       currentTitle,
		})
		if err != nil {
			s.logger.Debug("progress notification failed", zap.Error(err))
		}
	}
}

func indexingResponse(result *types.IndexingResult) map[string]interface{} {
	return map[string]interface{}{
		"run_id":      result.RunID,
		"indexed":     result.Indexed,
		"skipped":     result.Skipped,
		"failed":      result.Failed,
		"total":       result.Total(),
		"source":      result.Source,
		"duration_ms": result.Duration.Milliseconds(),
	}
}

// handleSearchLibrary handles the search_library tool invocation
func (s *Server) handleSearchLibrary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query := getStringDefault(args, "query", "")
	limit := getIntDefault(args, "limit", 0)
	if _, given := args["limit"]; given && limit < 1 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be at least 1", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}
	rerank := getBoolDefault(args, "rerank", s.c.Rerank)

	resp, err := s.c.Searcher.Query(ctx, searcher.Request{Query: query, Limit: limit, Rerank: rerank})
	if errors.Is(err, searcher.ErrEmptyQuery) {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, itemResponse(r.Item, r.Score))
	}

	response := map[string]interface{}{
		"query":       query,
		"results":     results,
		"count":       len(results),
		"reranked":    resp.Reranked,
		"fallback":    resp.Fallback,
		"sources":     resp.Sources,
		"duration_ms": resp.Duration.Milliseconds(),
	}

	switch {
	case resp.NotConfigured:
		response["state"] = StateNotConfigured
		response["message"] = "No embedding provider is configured, so the library cannot be searched."
	case len(results) == 0 && resp.RateLimitedFor > 0:
		response["state"] = StateRateLimited
		response["retry_in_seconds"] = embedder.CooldownSeconds(resp.RateLimitedFor)
		response["message"] = "The embedding provider is rate limited. Try again later."
	default:
		response["state"] = StateOK
		if resp.RateLimitedFor > 0 {
			response["retry_in_seconds"] = embedder.CooldownSeconds(resp.RateLimitedFor)
		}
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

func itemResponse(item types.LibraryItem, score float64) map[string]interface{} {
	out := map[string]interface{}{
		"id":    item.ID,
		"title": item.Title,
		"score": fmt.Sprintf("%.4f", score),
	}
	if item.Author != "" {
		out["author"] = item.Author
	}
	if item.Artist != "" {
		out["artist"] = item.Artist
	}
	if len(item.Genres) > 0 {
		out["genres"] = item.Genres
	}
	return out
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if _, err := arguments(request); err != nil {
		return nil, err
	}

	items, err := s.c.Library.All(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to read library", map[string]interface{}{
			"error": err.Error(),
		})
	}

	status, err := s.c.Store.Status(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	index := map[string]interface{}{
		"embeddings_count": status.EmbeddingsCount,
		"dimensions":       status.Dimensions,
		"sources":          status.Sources,
		"index_size_mb":    fmt.Sprintf("%.2f", status.IndexSizeMB),
		"build_mode":       status.BuildMode,
		"cached_entries":   status.CachedEntries,
		"cache_capacity":   status.CacheCapacity,
	}
	if !status.LastIndexedAt.IsZero() {
		index["last_indexed_at"] = status.LastIndexedAt.Format(time.RFC3339)
	}

	response := map[string]interface{}{
		"library": map[string]interface{}{
			"items":   len(items),
			"pending": max(len(items)-status.EmbeddingsCount, 0),
		},
		"index":     index,
		"indexing":  s.c.Indexer.Running(),
		"providers": providerResponses(s.c.Providers),
	}
	if last := s.lastIndexingRun(); last != nil {
		response["last_run"] = indexingResponse(last)
	}

	switch {
	case !s.c.Embedder.IsConfigured():
		response["state"] = StateNotConfigured
	case s.c.Embedder.IsRateLimited():
		response["state"] = StateRateLimited
		response["retry_in_seconds"] = embedder.CooldownSeconds(s.c.Embedder.RemainingCooldown())
	default:
		response["state"] = StateOK
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

func providerResponses(providers []embedder.Embedder) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		entry := map[string]interface{}{
			"source":     p.Source(),
			"model":      p.Model(),
			"dimension":  p.Dimension(),
			"configured": p.IsConfigured(),
		}
		if p.IsRateLimited() {
			entry["rate_limited"] = true
			entry["retry_in_seconds"] = embedder.CooldownSeconds(p.RemainingCooldown())
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i]["source"].(string) < out[j]["source"].(string)
	})
	return out
}

// Helper functions

// arguments returns the call arguments; a missing argument object is empty
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
