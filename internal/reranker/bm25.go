package reranker

import (
	"math"
	"sort"

	"github.com/dshills/shelfsearch/internal/tokenize"
)

// Defaults
const (
	DefaultK1           = 1.2
	DefaultB            = 0.75
	DefaultVectorWeight = 0.7
)

// BM25 scores documents against a query by term frequency and rarity
type BM25 struct {
	K1 float64 // Term frequency saturation
	B  float64 // Length normalization
}

// New returns a scorer with k1=1.2, b=0.75
func New() *BM25 {
	return &BM25{K1: DefaultK1, B: DefaultB}
}

type document struct {
	freq   map[string]int
	length int
}

// Scores returns the BM25 score of every document. Documents that share no
// term with the query score 0.
func (m *BM25) Scores(query string, docs map[int64]string) map[int64]float64 {
	scores := make(map[int64]float64, len(docs))
	if len(docs) == 0 {
		return scores
	}

	parsed := make(map[int64]document, len(docs))
	total := 0
	for id, text := range docs {
		terms := tokenize.Terms(text)
		parsed[id] = document{freq: tokenize.Frequencies(terms), length: len(terms)}
		total += len(terms)
		scores[id] = 0
	}

	queryTerms := unique(tokenize.Terms(query))
	if len(queryTerms) == 0 || total == 0 {
		return scores
	}

	n := float64(len(docs))
	avgdl := float64(total) / n

	for _, term := range queryTerms {
		containing := 0
		for _, d := range parsed {
			if d.freq[term] > 0 {
				containing++
			}
		}
		if containing == 0 {
			continue
		}

		nt := float64(containing)
		idf := math.Log((n-nt+0.5)/(nt+0.5) + 1)

		for id, d := range parsed {
			tf := float64(d.freq[term])
			if tf == 0 {
				continue
			}
			norm := m.K1 * (1 - m.B + m.B*float64(d.length)/avgdl)
			scores[id] += idf * tf * (m.K1 + 1) / (tf + norm)
		}
	}
	return scores
}

// Rerank returns up to limit document IDs by descending BM25 score
func (m *BM25) Rerank(query string, docs map[int64]string, limit int) []int64 {
	return top(m.Scores(query, docs), limit)
}

// HybridRerank blends a vector ranking with BM25. BM25 scores are divided
// by their maximum; the vector ranking scores 1 - rank/len(vectorRanking).
// The result orders by vectorWeight*vector + (1-vectorWeight)*bm25.
// Documents missing from vectorRanking get a vector score of 0.
func (m *BM25) HybridRerank(query string, docs map[int64]string, vectorRanking []int64, vectorWeight float64, limit int) []int64 {
	bm25 := m.Scores(query, docs)

	maxScore := 0.0
	for _, s := range bm25 {
		maxScore = math.Max(maxScore, s)
	}

	combined := make(map[int64]float64, len(docs)+len(vectorRanking))
	for id, s := range bm25 {
		norm := 0.0
		if maxScore > 0 {
			norm = s / maxScore
		}
		combined[id] = (1 - vectorWeight) * norm
	}

	total := float64(len(vectorRanking))
	for rank, id := range vectorRanking {
		if _, seen := combined[id]; !seen {
			combined[id] = 0
		}
		vectorScore := 1 - float64(rank)/total
		combined[id] += vectorWeight * vectorScore
	}

	return top(combined, limit)
}

// top sorts by score descending, then ID ascending, and keeps limit
func top(scores map[int64]float64, limit int) []int64 {
	ids := make([]int64, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := scores[ids[i]], scores[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
	if limit >= 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

func unique(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
