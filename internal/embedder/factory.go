package embedder

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/shelfsearch/internal/config"
)

// ErrUnsupportedProvider is returned for an unknown provider name
var ErrUnsupportedProvider = errors.New("unsupported embedding provider")

// Provider names accepted in configuration
const (
	ProviderNone = "none"
	ProviderHash = "hash"
	ProviderONNX = "onnx"
)

const (
	probeTimeout = 2 * time.Second
	probeTTL     = 30 * time.Second
)

// Providers is the set of embedders built from configuration
type Providers struct {
	Cloud  Embedder // nil when no cloud provider is selected
	Local  Embedder // nil when disabled
	Hybrid *HybridProvider
}

// All returns the non-nil providers, cloud first. The searcher queries each
// of them against the dimension it produces.
func (p *Providers) All() []Embedder {
	return p.Hybrid.Providers()
}

// Close releases every provider
func (p *Providers) Close() error {
	return p.Hybrid.Close()
}

// New builds the cloud, local and hybrid providers described by cfg
func New(cfg config.EmbeddingConfig, logger *zap.Logger) (*Providers, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []CloudOption{
		WithBaseURL(cfg.BaseURL),
		WithModel(cfg.CloudModel),
		WithTimeout(cfg.RequestTimeout),
		WithRateLimitRetries(cfg.MaxRateLimitRetries),
		WithMaxRateLimitWait(cfg.MaxRateLimitWait),
		WithLogger(logger.Named("embedder")),
	}

	var cloud Embedder
	baseURL := cfg.BaseURL
	switch strings.ToLower(cfg.Cloud) {
	case SourceGemini:
		cloud = NewGeminiProvider(cfg.GeminiAPIKey, opts...)
		if baseURL == "" {
			baseURL = DefaultGeminiBaseURL
		}
	case SourceOpenAI:
		cloud = NewOpenAIProvider(cfg.OpenAIAPIKey, opts...)
		if baseURL == "" {
			baseURL = DefaultOpenAIBaseURL
		}
	case ProviderNone, "":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Cloud)
	}

	var local Embedder
	switch strings.ToLower(cfg.Local) {
	case ProviderHash, "":
		local = NewHashProvider(LocalDimension, logger)
	case ProviderONNX:
		onnx, err := newONNXEmbedder(cfg.ONNXModelPath, cfg.ONNXDimension, cfg.ONNXMaxTokens, logger)
		if err != nil {
			logger.Warn("onnx embedder unavailable, using feature hashing", zap.Error(err))
			local = NewHashProvider(LocalDimension, logger)
		} else {
			local = onnx
		}
	case ProviderNone:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Local)
	}

	reachable := func() bool { return true }
	if cloud != nil {
		addr := cfg.ReachabilityAddr
		if addr == "" {
			addr = probeAddr(baseURL)
		}
		if addr != "" {
			reachable = NewReachabilityProbe(addr, probeTimeout, probeTTL)
		}
	}

	return &Providers{
		Cloud:  cloud,
		Local:  local,
		Hybrid: NewHybridProvider(cloud, local, reachable, logger),
	}, nil
}

// probeAddr derives host:port from an API base URL
func probeAddr(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	port := u.Port()
	if port == "" {
		port = "443"
		if u.Scheme == "http" {
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}

// NewReachabilityProbe returns a func that reports whether a TCP connection
// to addr succeeds. Results are reused for ttl.
func NewReachabilityProbe(addr string, timeout, ttl time.Duration) func() bool {
	var (
		mu      sync.Mutex
		checked time.Time
		ok      bool
	)
	return func() bool {
		mu.Lock()
		defer mu.Unlock()

		if !checked.IsZero() && time.Since(checked) < ttl {
			return ok
		}
		conn, err := net.DialTimeout("tcp", addr, timeout)
		ok = err == nil
		if conn != nil {
			_ = conn.Close()
		}
		checked = time.Now()
		return ok
	}
}
