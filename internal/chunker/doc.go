// Package chunker turns library item metadata into text for embedding.
//
// The indexer embeds one text per item, built by BuildPrimaryText from the
// title, author, genres and a description cut at a sentence boundary:
//
//	c := chunker.New(chunker.DefaultOptions(), 1000)
//	text := c.PrimaryText(item)
//
// Chunk splits longer texts into overlapping windows for multi-chunk
// indexing:
//
//	for _, ch := range chunker.Chunk(text, chunker.DefaultOptions()) {
//	    fmt.Printf("%d/%d [%d,%d)\n", ch.Index+1, ch.TotalChunks, ch.StartOffset, ch.EndOffset)
//	}
//
// # Window Boundaries
//
// A window ends at the last sentence end (". ", "! ", "? " or the same
// before a newline) within its final 100 bytes, else at the last space,
// else mid-word. Consecutive windows overlap by OverlapSize bytes and the
// start always moves forward. Windows shorter than MinChunkSize are dropped
// unless they are the last one.
//
// Sizes and offsets are in bytes and never split a UTF-8 sequence.
package chunker
