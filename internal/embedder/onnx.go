//go:build cgo

package embedder

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const onnxModel = "onnx-sentence-transformer"

// ONNXProvider runs a sentence-transformer model through ONNX Runtime. It
// requires CGO and the onnxruntime shared library.
type ONNXProvider struct {
	modelPath  string
	dimensions int
	maxTokens  int
	tokenizer  Tokenizer
	logger     *zap.Logger

	// Pre-allocated tensors for Run(); input data is overwritten per call.
	session             *ort.AdvancedSession
	inputIDsTensor      *ort.Tensor[int64]
	attentionMaskTensor *ort.Tensor[int64]
	tokenTypeIDsTensor  *ort.Tensor[int64]
	outputTensor        *ort.Tensor[float32]
	mu                  sync.Mutex
}

// NewONNXProvider loads the model at modelPath. A missing model file returns
// ErrNotConfigured.
func NewONNXProvider(modelPath string, dimensions, maxTokens int, logger *zap.Logger) (*ONNXProvider, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: onnx model %s: %v", ErrNotConfigured, modelPath, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	tokenizer := &HashTokenizer{}
	inputIDs, attentionMask, tokenTypeIDs := tokenizer.Tokenize("", maxTokens)
	maxTokens = len(inputIDs)
	shape := ort.NewShape(1, int64(maxTokens))

	p := &ONNXProvider{
		modelPath:  modelPath,
		dimensions: dimensions,
		maxTokens:  maxTokens,
		tokenizer:  tokenizer,
		logger:     logger,
	}

	var err error
	if p.inputIDsTensor, err = ort.NewTensor(shape, inputIDs); err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	if p.attentionMaskTensor, err = ort.NewTensor(shape, attentionMask); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	if p.tokenTypeIDsTensor, err = ort.NewTensor(shape, tokenTypeIDs); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	if p.outputTensor, err = ort.NewTensor(ort.NewShape(1, int64(dimensions)), make([]float32, dimensions)); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	p.session, err = ort.NewAdvancedSession(
		modelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"output"},
		[]ort.ArbitraryTensor{p.inputIDsTensor, p.attentionMaskTensor, p.tokenTypeIDsTensor},
		[]ort.ArbitraryTensor{p.outputTensor},
		nil,
	)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return p, nil
}

func newONNXEmbedder(modelPath string, dimensions, maxTokens int, logger *zap.Logger) (Embedder, error) {
	p, err := NewONNXProvider(modelPath, dimensions, maxTokens, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// IsConfigured reports whether the model file is still present
func (p *ONNXProvider) IsConfigured() bool {
	if p.session == nil {
		return false
	}
	_, err := os.Stat(p.modelPath)
	return err == nil
}

func (p *ONNXProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil {
		return nil, ErrNotConfigured
	}

	inputIDs, attentionMask, tokenTypeIDs := p.tokenizer.Tokenize(text, p.maxTokens)
	if inputIDs[1] == sepTokenID {
		return nil, ErrEmptyText
	}

	copy(p.inputIDsTensor.GetData(), inputIDs)
	copy(p.attentionMaskTensor.GetData(), attentionMask)
	copy(p.tokenTypeIDsTensor.GetData(), tokenTypeIDs)

	if err := p.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: inference failed: %v", ErrProviderFailed, err)
	}

	embedding := make([]float32, p.dimensions)
	copy(embedding, p.outputTensor.GetData())
	return embedding, nil
}

func (p *ONNXProvider) EmbedWithMetadata(ctx context.Context, text string) (*Embedding, error) {
	vector, err := p.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &Embedding{Vector: vector, Dimension: p.dimensions, Source: SourceLocal, Model: onnxModel}, nil
}

func (p *ONNXProvider) EmbedBatch(ctx context.Context, texts []string, delay DelayPolicy) (map[int]*Embedding, error) {
	return embedSequential(ctx, texts, nil, sleepContext, p.EmbedWithMetadata, p.logger)
}

func (p *ONNXProvider) IsRateLimited() bool {
	return false
}

func (p *ONNXProvider) RemainingCooldown() time.Duration {
	return 0
}

func (p *ONNXProvider) Dimension() int {
	return p.dimensions
}

func (p *ONNXProvider) Source() string {
	return SourceLocal
}

func (p *ONNXProvider) Model() string {
	return onnxModel
}

// Close destroys the session and tensors.
func (p *ONNXProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.session != nil {
		err = p.session.Destroy()
		p.session = nil
	}
	if p.inputIDsTensor != nil {
		_ = p.inputIDsTensor.Destroy()
		p.inputIDsTensor = nil
	}
	if p.attentionMaskTensor != nil {
		_ = p.attentionMaskTensor.Destroy()
		p.attentionMaskTensor = nil
	}
	if p.tokenTypeIDsTensor != nil {
		_ = p.tokenTypeIDsTensor.Destroy()
		p.tokenTypeIDsTensor = nil
	}
	if p.outputTensor != nil {
		_ = p.outputTensor.Destroy()
		p.outputTensor = nil
	}
	return err
}
