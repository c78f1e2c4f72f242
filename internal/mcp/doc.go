// Package mcp implements the Model Context Protocol (MCP) server for shelfsearch.
//
// The server exposes three tools to MCP clients:
//   - index_library: Embed library items that have no embedding yet
//   - search_library: Find items matching a natural language query
//   - get_status: Report index statistics and provider state
//
// MCP is JSON-RPC 2.0 over stdio. Stdout belongs to the protocol, so all
// logging goes to stderr or a log file.
//
// # Tool: index_library
//
//	Request:
//	{"name": "index_library", "arguments": {"force": false}}
//
//	Response:
//	{
//	  "state": "ok",
//	  "indexed": 120,
//	  "skipped": 2,
//	  "failed": 0,
//	  "total": 122,
//	  "source": "gemini",
//	  "duration_ms": 61234
//	}
//
// force re-embeds every item and first drops embeddings written by a
// provider other than the current one. Clients that send a progress token
// receive notifications/progress after every batch. When a run stored new
// embeddings, notifications/shelfsearch/index_updated is broadcast.
//
// # Tool: search_library
//
//	Request:
//	{"name": "search_library", "arguments": {"query": "dragons at war", "limit": 5, "rerank": true}}
//
//	Response:
//	{
//	  "state": "ok",
//	  "query": "dragons at war",
//	  "count": 2,
//	  "results": [
//	    {"id": 3, "title": "Siege", "score": "0.7887"},
//	    {"id": 1, "title": "Wings", "author": "A. Writer", "score": "0.7500"}
//	  ],
//	  "reranked": true,
//	  "fallback": false,
//	  "sources": ["gemini"]
//	}
//
// # States
//
// Every response carries a state, so "nothing matched" is never confused
// with "could not search":
//
//	ok               results (possibly none) were computed
//	rate_limited     the provider is cooling down; retry_in_seconds says how long
//	not_configured   no embedding provider can be used
//	cancelled        index_library was interrupted; counts are partial
//
// # Errors
//
// Invalid arguments are returned as MCPError values:
//
//	-32602  Invalid parameters
//	-32603  Internal error
//	-32002  Indexing already in progress
//	-32004  Empty query
package mcp
