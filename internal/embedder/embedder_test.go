package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClock is a controllable time source whose Sleep advances time instantly
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// stubEmbedder is a hand-written Embedder with scripted behavior
type stubEmbedder struct {
	mu         sync.Mutex
	source     string
	dim        int
	configured bool
	cooldown   time.Duration
	err        error
	calls      int
}

func newStub(source string, dim int) *stubEmbedder {
	return &stubEmbedder{source: source, dim: dim, configured: true}
}

func (s *stubEmbedder) IsConfigured() bool { return s.configured }

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	emb, err := s.EmbedWithMetadata(ctx, text)
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

func (s *stubEmbedder) EmbedWithMetadata(_ context.Context, text string) (*Embedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	vector := make([]float32, s.dim)
	vector[0] = float32(len(text))
	return &Embedding{Vector: vector, Dimension: s.dim, Source: s.source, Model: s.source + "-model"}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string, delay DelayPolicy) (map[int]*Embedding, error) {
	return embedSequential(ctx, texts, delay, sleepContext, s.EmbedWithMetadata, zap.NewNop())
}

func (s *stubEmbedder) IsRateLimited() bool              { return s.cooldown > 0 }
func (s *stubEmbedder) RemainingCooldown() time.Duration { return s.cooldown }
func (s *stubEmbedder) Dimension() int                   { return s.dim }
func (s *stubEmbedder) Source() string                   { return s.source }
func (s *stubEmbedder) Model() string                    { return s.source + "-model" }
func (s *stubEmbedder) Close() error                     { return nil }

func (s *stubEmbedder) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestRateLimitError(t *testing.T) {
	err := fmt.Errorf("embed item 3: %w", &RateLimitError{Cooldown: 39500 * time.Millisecond})

	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrTransient))

	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 40, CooldownSeconds(rl.Cooldown))
	assert.Contains(t, err.Error(), "rate limited, retry in 40s")
}

func TestCooldownSeconds(t *testing.T) {
	assert.Equal(t, 0, CooldownSeconds(0))
	assert.Equal(t, 0, CooldownSeconds(-time.Second))
	assert.Equal(t, 1, CooldownSeconds(time.Millisecond))
	assert.Equal(t, 60, CooldownSeconds(time.Minute))
}

func TestCache(t *testing.T) {
	t.Run("returns copies", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("k", &Embedding{Vector: []float32{1, 2}, Dimension: 2, Source: "local"})

		got, ok := cache.Get("k")
		require.True(t, ok)
		got.Vector[0] = 99

		again, _ := cache.Get("k")
		assert.Equal(t, float32(1), again.Vector[0])
		assert.Equal(t, "local", again.Source)
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		cache := NewCache(2)
		cache.Set("a", &Embedding{})
		cache.Set("b", &Embedding{})
		_, _ = cache.Get("a")
		cache.Set("c", &Embedding{})

		_, okA := cache.Get("a")
		_, okB := cache.Get("b")
		assert.True(t, okA)
		assert.False(t, okB)
		assert.Equal(t, 2, cache.Size())

		cache.Clear()
		assert.Equal(t, 0, cache.Size())
	})

	t.Run("default size", func(t *testing.T) {
		cache := NewCache(0)
		for i := 0; i < DefaultQueryCacheSize+10; i++ {
			cache.Set(fmt.Sprint(i), &Embedding{})
		}
		assert.Equal(t, DefaultQueryCacheSize, cache.Size())
	})
}

func TestComputeHash(t *testing.T) {
	assert.Equal(t, ComputeHash("dragons"), ComputeHash("dragons"))
	assert.NotEqual(t, ComputeHash("dragons"), ComputeHash("Dragons"))
	assert.Len(t, ComputeHash(""), 64)
}

func TestCached(t *testing.T) {
	ctx := context.Background()
	stub := newStub("gemini", 4)
	cache := NewCache(10)

	first, err := Cached(ctx, stub, cache, "dragon battles")
	require.NoError(t, err)
	second, err := Cached(ctx, stub, cache, "dragon battles")
	require.NoError(t, err)

	assert.Equal(t, first.Vector, second.Vector)
	assert.Equal(t, 1, stub.Calls())

	// Mutating a returned vector does not poison the cache
	first.Vector[0] = -1
	third, err := Cached(ctx, stub, cache, "dragon battles")
	require.NoError(t, err)
	assert.NotEqual(t, float32(-1), third.Vector[0])

	t.Run("failures are not cached", func(t *testing.T) {
		failing := newStub("gemini", 4)
		failing.err = ErrTransient
		_, err := Cached(ctx, failing, cache, "other query")
		assert.ErrorIs(t, err, ErrTransient)
		assert.Equal(t, 1, cache.Size())
	})

	t.Run("nil cache", func(t *testing.T) {
		_, err := Cached(ctx, stub, nil, "dragon battles")
		require.NoError(t, err)
		assert.Equal(t, 2, stub.Calls())
	})
}

func TestEmbedSequential(t *testing.T) {
	clock := newFakeClock()
	var delayed []int
	delay := func(i int) time.Duration {
		delayed = append(delayed, i)
		return time.Duration(i) * time.Second
	}

	embed := func(_ context.Context, text string) (*Embedding, error) {
		if text == "bad" {
			return nil, ErrTransient
		}
		return &Embedding{Vector: []float32{1}, Dimension: 1, Source: "local"}, nil
	}

	results, err := embedSequential(context.Background(), []string{"a", "bad", "c"}, delay, clock.Sleep, embed, zap.NewNop())
	require.NoError(t, err)

	assert.Len(t, results, 2)
	assert.Contains(t, results, 0)
	assert.NotContains(t, results, 1)
	assert.Contains(t, results, 2)
	assert.Equal(t, []int{1, 2}, delayed, "delay policy is consulted before every request after the first")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clock.Sleeps())
}

func TestEmbedSequential_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	embed := func(_ context.Context, _ string) (*Embedding, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return &Embedding{Vector: []float32{1}, Dimension: 1}, nil
	}

	results, err := embedSequential(ctx, []string{"a", "b", "c", "d"}, nil, sleepContext, embed, zap.NewNop())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, results, 2)
	assert.Equal(t, 2, calls)
}

func TestCooldown(t *testing.T) {
	clock := newFakeClock()
	cd := NewCooldown(clock.Now)

	assert.False(t, cd.Active())
	assert.Equal(t, time.Duration(0), cd.Remaining())

	cd.Extend(40 * time.Second)
	assert.True(t, cd.Active())
	assert.Equal(t, 40*time.Second, cd.Remaining())

	// A shorter cooldown never truncates a longer one
	cd.Extend(5 * time.Second)
	assert.Equal(t, 40*time.Second, cd.Remaining())

	clock.Advance(10 * time.Second)
	assert.Equal(t, 30*time.Second, cd.Remaining())

	clock.Advance(31 * time.Second)
	assert.False(t, cd.Active())

	cd.Extend(time.Minute)
	cd.Reset()
	assert.False(t, cd.Active())
}

func TestCooldown_Concurrent(t *testing.T) {
	cd := NewCooldown(nil)
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cd.Extend(time.Duration(i) * time.Second)
			_ = cd.Remaining()
		}(i)
	}
	wg.Wait()

	assert.Greater(t, cd.Remaining(), 49*time.Second)
}

func TestRetryWithBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}
	ctx := context.Background()

	t.Run("retries transient failures", func(t *testing.T) {
		attempts := 0
		got, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			attempts++
			if attempts < 3 {
				return 0, fmt.Errorf("%w: boom", ErrTransient)
			}
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, got)
		assert.Equal(t, 3, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			attempts++
			return 0, ErrTransient
		})
		assert.ErrorIs(t, err, ErrTransient)
		assert.Equal(t, 3, attempts)
	})

	t.Run("does not retry other errors", func(t *testing.T) {
		attempts := 0
		_, err := retryWithBackoff(ctx, cfg, func() (int, error) {
			attempts++
			return 0, &RateLimitError{Cooldown: time.Second}
		})
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, 1, attempts)
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := retryWithBackoff(cctx, cfg, func() (int, error) {
			return 0, ErrTransient
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}
