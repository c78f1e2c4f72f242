package embedder

import (
	"context"
	"hash/fnv"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/shelfsearch/internal/tokenize"
)

// LocalDimension is the HashProvider default dimension
const LocalDimension = 100

const (
	hashModel     = "feature-hash-v1"
	termWeight    = 1.0
	trigramWeight = 0.5
)

// HashProvider is an on-device embedder using feature hashing over word
// terms and character trigrams. It needs no model file, so it is always
// configured, and it is deterministic.
type HashProvider struct {
	dim    int
	logger *zap.Logger
}

// NewHashProvider creates a feature-hashing embedder of the given dimension
func NewHashProvider(dim int, logger *zap.Logger) *HashProvider {
	if dim <= 0 {
		dim = LocalDimension
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HashProvider{dim: dim, logger: logger}
}

func (h *HashProvider) IsConfigured() bool {
	return true
}

func (h *HashProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := tokenize.Terms(text)
	if len(terms) == 0 {
		return nil, ErrEmptyText
	}

	vector := make([]float64, h.dim)
	for _, term := range terms {
		h.add(vector, term, termWeight)

		runes := []rune("^" + term + "$")
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vector, string(runes[i:i+3]), trigramWeight)
		}
	}

	return unit(vector), nil
}

// add hashes feature into a bucket; one hash bit picks the sign so that
// collisions tend to cancel rather than accumulate
func (h *HashProvider) add(vector []float64, feature string, weight float64) {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum64()

	idx := int(sum % uint64(h.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vector[idx] += weight
}

func unit(v []float64) []float32 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}

	out := make([]float32, len(v))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

func (h *HashProvider) EmbedWithMetadata(ctx context.Context, text string) (*Embedding, error) {
	vector, err := h.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &Embedding{Vector: vector, Dimension: h.dim, Source: SourceLocal, Model: hashModel}, nil
}

func (h *HashProvider) EmbedBatch(ctx context.Context, texts []string, delay DelayPolicy) (map[int]*Embedding, error) {
	// Local inference has no rate limit, so the delay policy is ignored
	return embedSequential(ctx, texts, nil, sleepContext, h.EmbedWithMetadata, h.logger)
}

func (h *HashProvider) IsRateLimited() bool {
	return false
}

func (h *HashProvider) RemainingCooldown() time.Duration {
	return 0
}

func (h *HashProvider) Dimension() int {
	return h.dim
}

func (h *HashProvider) Source() string {
	return SourceLocal
}

func (h *HashProvider) Model() string {
	return hashModel
}

func (h *HashProvider) Close() error {
	return nil
}
