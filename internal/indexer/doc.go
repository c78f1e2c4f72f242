// Package indexer embeds library items in batches and writes the vectors to
// the vector store.
//
// # Basic Usage
//
//	idx := indexer.New(repo, providers.Hybrid, store, indexer.DefaultConfig(),
//	    indexer.WithNotifier(indexer.NotifierFunc(rebuildContext)),
//	    indexer.WithLogger(logger))
//
//	result, err := idx.Run(ctx, false, func(done, total int, title string) {
//	    fmt.Printf("%d/%d %s\n", done, total, title)
//	})
//
// # Runs
//
// A run without force only embeds items that have no stored embedding, so
// it is cheap to call after every library change and resumes where a
// cancelled run stopped. A forced run embeds everything; when the current
// provider differs from the store's predominant source, the stale source is
// purged first.
//
// An unconfigured provider is an idle state: Run returns a result with
// NotConfigured set and no error.
//
// # Batches
//
// Items are processed in library order, BatchSize at a time:
//
//  1. Build one text per item (title, author, genres, description)
//  2. Skip items whose text is blank
//  3. Embed the batch sequentially with an adaptive delay: the remaining
//     provider cooldown plus one second while rate limited, else DefaultDelay
//  4. Store each vector; a missing or unstorable vector counts as failed
//  5. Report progress
//
// Cancellation is checked at every batch boundary and between requests.
//
// # Concurrency
//
// Only one run may be active per Indexer; a concurrent Run returns
// ErrIndexingInProgress.
package indexer
