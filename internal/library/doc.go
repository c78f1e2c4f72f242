// Package library provides the item source the indexer and searcher read
// from.
//
// Repository is the read-only contract. MemoryRepository backs tests and
// embedding hosts; FileRepository serves a YAML catalog:
//
//	items:
//	  - id: 42
//	    title: The Dragon Road
//	    author: A. Writer
//	    genres: [Fantasy, Adventure]
//	    description: A story about dragons.
//
// Watcher reports changes to the catalog file, debounced, so a host can run
// an incremental indexing pass once per library change.
package library
