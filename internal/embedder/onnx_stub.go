//go:build !cgo

package embedder

import (
	"fmt"

	"go.uber.org/zap"
)

// ONNXProvider stub type when built without CGO (see onnx.go for real implementation).
type ONNXProvider struct{}

// NewONNXProvider returns ErrNotConfigured when built without CGO.
func NewONNXProvider(_ string, _, _ int, _ *zap.Logger) (*ONNXProvider, error) {
	return nil, fmt.Errorf("%w: ONNX embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime", ErrNotConfigured)
}

func newONNXEmbedder(modelPath string, dimensions, maxTokens int, logger *zap.Logger) (Embedder, error) {
	_, err := NewONNXProvider(modelPath, dimensions, maxTokens, logger)
	return nil, err
}
