// Package vectorstore owns item embeddings: it persists them through
// storage.Storage and keeps a bounded LRU cache of normalized vectors for
// fast similarity search.
//
// Every vector is normalized to unit length before it is persisted or
// cached, so similarity is a plain dot product.
//
// # Dimensions
//
// Embeddings from different providers coexist (e.g. 768-dim cloud vectors
// next to 100-dim local ones). Search only scores entries whose dimension
// equals the query length; a query with no matching entries returns an
// empty result and logs the dimensions that are available.
//
// # Cache
//
// The cache evicts the least recently used entry. Reads, writes and search
// hits all refresh recency. Metadata (dimension, source) is kept for every
// persisted item, so counts and dimension queries stay exact after eviction,
// and search falls back to ranking in storage while evicted items exist.
//
// # Concurrency
//
// Writes for the same item are serialized across the persist and cache
// steps. Bulk deletes and cache reloads exclude all other operations.
// Search above ParallelThreshold candidates scores Partitions slices
// concurrently and merges their top-K lists.
package vectorstore
