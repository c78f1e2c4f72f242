package types

import "time"

// SearchCandidate is an item with its similarity score from vector search
type SearchCandidate struct {
	ItemID int64
	Score  float64
}

// IndexingResult summarizes one indexing run
type IndexingResult struct {
	RunID string

	Indexed int
	Skipped int
	Failed  int

	// NotConfigured is set when the embedding provider has no usable
	// configuration. It is an idle state, not an error.
	NotConfigured bool

	// Source is the embedding source that produced the stored vectors
	Source string

	Duration time.Duration
}

// Total returns the number of items the run looked at
func (r *IndexingResult) Total() int {
	return r.Indexed + r.Skipped + r.Failed
}
