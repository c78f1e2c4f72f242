package types

import "errors"

// Domain errors for type validation
var (
	ErrInvalidItemID     = errors.New("invalid item ID")
	ErrEmptyTitle        = errors.New("title cannot be empty")
	ErrEmptyContent      = errors.New("content cannot be empty")
	ErrInvalidOffsets    = errors.New("chunk offsets are out of order")
	ErrInvalidChunkIndex = errors.New("chunk index out of range")
)
