package types

import "strings"

// LibraryItem is an indexable entry of the user's library
type LibraryItem struct {
	ID          int64
	Title       string
	Author      string
	Artist      string
	Genres      []string
	Description string
}

// Validate checks if the library item is usable for indexing
func (i *LibraryItem) Validate() error {
	if i.ID == 0 {
		return ErrInvalidItemID
	}
	if strings.TrimSpace(i.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}
