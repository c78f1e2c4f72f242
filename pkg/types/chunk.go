package types

// TextChunk is a window of a longer text produced by the chunker
type TextChunk struct {
	Content     string
	Index       int // Position in the chunk sequence (0-based)
	TotalChunks int
	StartOffset int // Byte offset into the source text (inclusive)
	EndOffset   int // Byte offset into the source text (exclusive)
}

// Len returns the chunk length in bytes
func (c *TextChunk) Len() int {
	return c.EndOffset - c.StartOffset
}

// Validate checks if the chunk is internally consistent
func (c *TextChunk) Validate() error {
	if c.Content == "" {
		return ErrEmptyContent
	}
	if c.StartOffset < 0 || c.EndOffset < c.StartOffset {
		return ErrInvalidOffsets
	}
	if c.Index < 0 || (c.TotalChunks > 0 && c.Index >= c.TotalChunks) {
		return ErrInvalidChunkIndex
	}
	return nil
}
