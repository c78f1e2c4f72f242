package embedder

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HybridProvider prefers a cloud provider and falls back to a local one when
// the cloud is unreachable, unconfigured or rate limited. Every result is
// tagged with the source that actually produced it.
type HybridProvider struct {
	cloud     Embedder
	local     Embedder
	reachable func() bool
	logger    *zap.Logger

	mu   sync.RWMutex
	last Embedder
}

// NewHybridProvider composes cloud and local. Either may be nil. reachable
// reports network availability; nil means always reachable.
func NewHybridProvider(cloud, local Embedder, reachable func() bool, logger *zap.Logger) *HybridProvider {
	if reachable == nil {
		reachable = func() bool { return true }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HybridProvider{
		cloud:     cloud,
		local:     local,
		reachable: reachable,
		logger:    logger,
	}
}

func (h *HybridProvider) cloudUsable() bool {
	return h.cloud != nil && h.cloud.IsConfigured() && !h.cloud.IsRateLimited() && h.reachable()
}

func (h *HybridProvider) localUsable() bool {
	return h.local != nil && h.local.IsConfigured()
}

// preferred returns the provider the next call will try first, or nil
func (h *HybridProvider) preferred() Embedder {
	if h.cloudUsable() {
		return h.cloud
	}
	if h.localUsable() {
		return h.local
	}
	return nil
}

// current is the last provider that produced a result, else the preferred one
func (h *HybridProvider) current() Embedder {
	h.mu.RLock()
	last := h.last
	h.mu.RUnlock()
	if last != nil {
		return last
	}
	if p := h.preferred(); p != nil {
		return p
	}
	if h.cloud != nil {
		return h.cloud
	}
	return h.local
}

func (h *HybridProvider) setLast(p Embedder) {
	h.mu.Lock()
	h.last = p
	h.mu.Unlock()
}

func (h *HybridProvider) IsConfigured() bool {
	return (h.cloud != nil && h.cloud.IsConfigured()) || h.localUsable()
}

func (h *HybridProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	emb, err := h.EmbedWithMetadata(ctx, text)
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

func (h *HybridProvider) EmbedWithMetadata(ctx context.Context, text string) (*Embedding, error) {
	if h.cloudUsable() {
		emb, err := h.cloud.EmbedWithMetadata(ctx, text)
		if err == nil {
			h.setLast(h.cloud)
			return emb, nil
		}
		if ctx.Err() != nil || !fallbackWorthy(err) || !h.localUsable() {
			return nil, err
		}
		h.logger.Debug("cloud embedding failed, using local provider", zap.Error(err))
	}

	if !h.localUsable() {
		if h.cloud != nil && h.cloud.IsConfigured() && h.cloud.IsRateLimited() {
			return nil, &RateLimitError{Cooldown: h.cloud.RemainingCooldown()}
		}
		if h.cloud != nil && h.cloud.IsConfigured() {
			// Configured but unreachable: let the cloud provider report the failure
			return h.embedWith(ctx, h.cloud, text)
		}
		return nil, ErrNotConfigured
	}

	return h.embedWith(ctx, h.local, text)
}

func (h *HybridProvider) embedWith(ctx context.Context, p Embedder, text string) (*Embedding, error) {
	emb, err := p.EmbedWithMetadata(ctx, text)
	if err != nil {
		return nil, err
	}
	h.setLast(p)
	return emb, nil
}

// fallbackWorthy reports errors the local provider can recover from
func fallbackWorthy(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTransient) || errors.Is(err, ErrProviderFailed)
}

func (h *HybridProvider) EmbedBatch(ctx context.Context, texts []string, delay DelayPolicy) (map[int]*Embedding, error) {
	return embedSequential(ctx, texts, delay, sleepContext, h.EmbedWithMetadata, h.logger)
}

// IsRateLimited is true only when the cloud is rate limited and there is no
// local provider to fall back to.
func (h *HybridProvider) IsRateLimited() bool {
	return h.cloud != nil && h.cloud.IsConfigured() && h.cloud.IsRateLimited() && !h.localUsable()
}

func (h *HybridProvider) RemainingCooldown() time.Duration {
	if !h.IsRateLimited() {
		return 0
	}
	return h.cloud.RemainingCooldown()
}

// LastSource returns the source of the last successful embedding, "" before any
func (h *HybridProvider) LastSource() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return ""
	}
	return h.last.Source()
}

func (h *HybridProvider) Dimension() int {
	if p := h.current(); p != nil {
		return p.Dimension()
	}
	return 0
}

func (h *HybridProvider) Source() string {
	if p := h.current(); p != nil {
		return p.Source()
	}
	return ""
}

func (h *HybridProvider) Model() string {
	if p := h.current(); p != nil {
		return p.Model()
	}
	return ""
}

// Providers returns the composed providers, cloud first, skipping nil ones
func (h *HybridProvider) Providers() []Embedder {
	var out []Embedder
	if h.cloud != nil {
		out = append(out, h.cloud)
	}
	if h.local != nil {
		out = append(out, h.local)
	}
	return out
}

func (h *HybridProvider) Close() error {
	var errs []error
	for _, p := range h.Providers() {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
