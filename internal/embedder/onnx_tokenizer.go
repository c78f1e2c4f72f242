package embedder

import (
	"hash/fnv"

	"github.com/dshills/shelfsearch/internal/tokenize"
)

// BERT-style special token IDs
const (
	clsTokenID   = 101
	sepTokenID   = 102
	vocabSize    = 30000
	firstWordID  = 1000
	defaultMaxTk = 256
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer maps words to hashed vocabulary IDs. It is a fallback for
// models shipped without a vocabulary file.
type HashTokenizer struct{}

// Tokenize splits text into terms and produces [CLS] ... [SEP] padded to maxTokens.
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = defaultMaxTk
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsTokenID
	attentionMask[0] = 1

	pos := 1
	for _, word := range tokenize.Terms(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = wordID(word)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepTokenID
	attentionMask[pos] = 1

	return inputIDs, attentionMask, tokenTypeIDs
}

// wordID keeps hashed IDs clear of the reserved low range
func wordID(word string) int64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return int64(firstWordID + h.Sum32()%(vocabSize-firstWordID))
}
