package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexLibraryTool returns the tool definition for index_library
func indexLibraryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_library",
		Description: "Embed library items so they can be found with search_library",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"force": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, re-embed every item and drop embeddings from providers no longer in use",
					"default":     false,
				},
			},
		},
	}
}

// searchLibraryTool returns the tool definition for search_library
func searchLibraryTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_library",
		Description: "Find library items matching a natural language description",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "What to look for, e.g. 'dragons at war' or 'quiet school romance'",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return",
					"default":     10,
					"minimum":     1,
				},
				"rerank": map[string]interface{}{
					"type":        "boolean",
					"description": "Blend keyword relevance (BM25) into the semantic ranking",
				},
			},
			Required: []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report index statistics and embedding provider state",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
