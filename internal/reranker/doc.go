// Package reranker implements BM25 lexical scoring over candidate documents
// and its blend with an existing vector ranking.
//
//	r := reranker.New()
//	ids := r.HybridRerank(query, docs, vectorIDs, reranker.DefaultVectorWeight, 10)
//
// Text is split with the Unicode word tokenizer from internal/tokenize, so
// accented and non-Latin queries match. Single-rune tokens are ignored.
// Equal scores order by ascending document ID.
package reranker
