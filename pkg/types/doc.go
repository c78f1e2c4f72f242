// Package types provides shared type definitions for the shelfsearch engine.
//
// These types cross component boundaries: the library repository hands out
// LibraryItem values, the chunker produces TextChunk values, the vector store
// produces SearchCandidate values and the indexer reports an IndexingResult.
//
// # Library Items
//
// LibraryItem is the read-only view of an indexable entry in the user's media
// library:
//
//	item := types.LibraryItem{
//	    ID:          42,
//	    Title:       "The Dragon Road",
//	    Author:      "A. Writer",
//	    Genres:      []string{"Fantasy", "Adventure"},
//	    Description: "A story about dragons.",
//	}
//
// IDs are opaque, stable for the lifetime of the item, and never zero.
//
// # Chunks
//
// TextChunk is a transient slice of a longer text, annotated with its
// position inside the source and inside the chunk sequence. Chunks are never
// persisted.
//
// # Search Candidates
//
// SearchCandidate pairs an item ID with a similarity score. Candidates are
// ephemeral and only live between vector search and result resolution.
package types
