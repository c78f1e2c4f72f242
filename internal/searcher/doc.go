// Package searcher answers library queries with vector search, optionally
// re-ranked with BM25.
//
// # Basic Usage
//
//	s := searcher.New(store, repo, providers.All(), searcher.DefaultConfig(), logger)
//
//	items, err := s.Search(ctx, "dragon battles", 5, true)
//	for _, item := range items {
//	    fmt.Println(item.Title)
//	}
//
// Query returns the same results with scores and diagnostics (sources
// used, rate limiting, whether the fallback path ran).
//
// # Pipeline
//
//  1. Read the dimensions present in the vector store; none means no results
//  2. For every configured provider producing one of those dimensions, embed
//     the query (through a per-provider LRU cache) and search the store, all
//     in parallel under one cancellation
//  3. Map each cosine score to [0, 1] with (s+1)/2 and keep the maximum per
//     item across providers
//  4. If that produced nothing, embed once with the provider matching the
//     store's predominant source and search again
//  5. Keep the best min(3*limit, CandidateCap) candidates, at least limit
//  6. Resolve them in the library, silently dropping deleted items
//  7. With re-ranking and more candidates than limit, blend BM25 over each
//     item's title, people, genres and description with the vector order
//  8. Truncate to limit
//
// # Failures
//
// A failing provider only removes its own contribution. Search returns an
// error for a blank query or a cancelled context, never for provider
// failures. A rate-limited provider is skipped without waiting and reported
// through Response.RateLimitedFor.
package searcher
