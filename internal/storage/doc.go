// Package storage provides SQLite-based persistence for item embeddings.
//
// The storage layer owns a single durable table:
//
//	embeddings(item_id, embedding, embedding_dim, embedding_source, indexed_at)
//
// item_id is the primary key, so an upsert replaces the previous embedding of
// the item (last write wins). Records from a provider that is no longer in
// use are purged with DeleteBySource.
//
// # Vector Encoding
//
// Vectors are stored as tightly packed little-endian IEEE-754 float32 values
// with no header. The length is recovered as len(blob)/4 and must equal
// embedding_dim; rows that disagree are reported as ErrCorruptVector.
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("~/.shelfsearch/library.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.UpsertEmbedding(ctx, &storage.EmbeddingRecord{
//	    ItemID:    42,
//	    Vector:    storage.Normalize(raw),
//	    Dimension: len(raw),
//	    Source:    "gemini",
//	})
//
// # Vector Search
//
// SearchVector only scores rows whose embedding_dim equals the query length.
// Dot products between vectors of different dimensions are meaningless, so
// they are filtered out before scoring rather than after.
//
// Build modes:
//   - sqlite_vec tag (cgo, mattn/go-sqlite3 + sqlite-vec): ranking runs in SQL via vec_distance_cosine
//   - default (pure Go, modernc.org/sqlite): rows are streamed and ranked with TopK
//
// NewSQLiteStorage checks that vec_version() resolves before ranking in SQL,
// and streams rows through TopK when it does not.
//
// # Similarity
//
// All persisted vectors are unit length, so cosine similarity reduces to Dot.
// CosineSimilarity is kept for callers that hold raw vectors.
//
// TopK keeps the best k candidates in a bounded min-heap, which matters when
// the library holds thousands of items and k is 5-20.
package storage
