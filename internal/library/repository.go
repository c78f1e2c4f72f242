package library

import (
	"context"
	"sync"

	"github.com/dshills/shelfsearch/pkg/types"
)

// Repository is the read-only view of the user's library
type Repository interface {
	// All returns every indexable item in library order
	All(ctx context.Context) ([]types.LibraryItem, error)
	// Get returns the item with id; ok is false when it no longer exists
	Get(ctx context.Context, id int64) (item types.LibraryItem, ok bool, err error)
}

// MemoryRepository holds items in memory, in insertion order
type MemoryRepository struct {
	mu    sync.RWMutex
	items []types.LibraryItem
	index map[int64]int
}

// NewMemoryRepository creates a repository holding items
func NewMemoryRepository(items ...types.LibraryItem) *MemoryRepository {
	r := &MemoryRepository{}
	r.Replace(items)
	return r
}

// All returns a copy of the items
func (r *MemoryRepository) All(ctx context.Context) ([]types.LibraryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.LibraryItem(nil), r.items...), nil
}

// Get returns the item with id
func (r *MemoryRepository) Get(ctx context.Context, id int64) (types.LibraryItem, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.LibraryItem{}, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	i, ok := r.index[id]
	if !ok {
		return types.LibraryItem{}, false, nil
	}
	return r.items[i], true, nil
}

// Put adds item or replaces the item with the same ID in place
func (r *MemoryRepository) Put(item types.LibraryItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.index[item.ID]; ok {
		r.items[i] = item
		return
	}
	r.index[item.ID] = len(r.items)
	r.items = append(r.items, item)
}

// Remove deletes the item with id
func (r *MemoryRepository) Remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.index[id]
	if !ok {
		return
	}
	r.items = append(r.items[:i], r.items[i+1:]...)
	r.reindexLocked()
}

// Replace swaps the whole content. Later duplicates of an ID win.
func (r *MemoryRepository) Replace(items []types.LibraryItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = make([]types.LibraryItem, 0, len(items))
	r.index = make(map[int64]int, len(items))
	for _, item := range items {
		if i, ok := r.index[item.ID]; ok {
			r.items[i] = item
			continue
		}
		r.index[item.ID] = len(r.items)
		r.items = append(r.items, item)
	}
}

// Len returns the number of items
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

func (r *MemoryRepository) reindexLocked() {
	r.index = make(map[int64]int, len(r.items))
	for i, item := range r.items {
		r.index[item.ID] = i
	}
}
