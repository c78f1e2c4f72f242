package embedder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const geminiRateLimitBody = `{
  "error": {
    "code": 429,
    "message": "Resource has been exhausted (e.g. check quota).",
    "status": "RESOURCE_EXHAUSTED",
    "details": [
      {"@type": "type.googleapis.com/google.rpc.RetryInfo", "retryDelay": "40s"}
    ]
  }
}`

var fastRetry = RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

func writeGeminiEmbedding(w http.ResponseWriter, values []float32) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"embedding": map[string]interface{}{"values": values},
	})
}

// geminiServer answers with the scripted status codes in order, then 200
func geminiServer(t *testing.T, statuses ...int) (*httptest.Server, *int32) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(atomic.AddInt32(&hits, 1))
		if n <= len(statuses) {
			switch statuses[n-1] {
			case http.StatusTooManyRequests:
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(geminiRateLimitBody))
			default:
				w.WriteHeader(statuses[n-1])
				_, _ = w.Write([]byte(`{"error":{"message":"scripted"}}`))
			}
			return
		}
		writeGeminiEmbedding(w, []float32{0.1, 0.2, 0.3})
	}))
	t.Cleanup(server.Close)
	return server, &hits
}

func TestGeminiProvider_Request(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/text-embedding-004:embedContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var body struct {
			Model   string `json:"model"`
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "models/text-embedding-004", body.Model)
		require.Len(t, body.Content.Parts, 1)
		assert.Equal(t, "a story about dragons", body.Content.Parts[0].Text)

		writeGeminiEmbedding(w, []float32{0.5, 0.5})
	}))
	defer server.Close()

	p := NewGeminiProvider("test-key", WithBaseURL(server.URL))
	defer p.Close()

	emb, err := p.EmbedWithMetadata(context.Background(), "a story about dragons")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, emb.Vector)
	assert.Equal(t, 2, emb.Dimension)
	assert.Equal(t, SourceGemini, emb.Source)
	assert.Equal(t, DefaultGeminiModel, emb.Model)

	assert.True(t, p.IsConfigured())
	assert.Equal(t, GeminiDimension, p.Dimension())
	assert.Equal(t, SourceGemini, p.Source())
}

func TestGeminiProvider_NotConfigured(t *testing.T) {
	server, hits := geminiServer(t)
	p := NewGeminiProvider("", WithBaseURL(server.URL))

	assert.False(t, p.IsConfigured())
	_, err := p.Embed(context.Background(), "dragons")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

func TestGeminiProvider_EmptyText(t *testing.T) {
	server, hits := geminiServer(t)
	p := NewGeminiProvider("key", WithBaseURL(server.URL))

	_, err := p.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

func TestGeminiProvider_CooldownRespected(t *testing.T) {
	server, hits := geminiServer(t, http.StatusTooManyRequests)
	clock := newFakeClock()
	p := NewGeminiProvider("key",
		WithBaseURL(server.URL),
		WithClock(clock.Now, clock.Sleep),
		WithRateLimitRetries(0),
	)
	ctx := context.Background()

	_, err := p.Embed(ctx, "dragons")
	var rl *RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 40*time.Second, rl.Cooldown)
	assert.True(t, p.IsRateLimited())
	assert.Equal(t, 40, CooldownSeconds(p.RemainingCooldown()))
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	// 10s later the cooldown is still active: no network call
	clock.Advance(10 * time.Second)
	_, err = p.Embed(ctx, "dragons")
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 30*time.Second, rl.Cooldown)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))

	// After 41s the call proceeds immediately
	clock.Advance(31 * time.Second)
	vector, err := p.Embed(ctx, "dragons")
	require.NoError(t, err)
	assert.Len(t, vector, 3)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
	assert.Empty(t, clock.Sleeps(), "no artificial delay once the cooldown expired")
	assert.False(t, p.IsRateLimited())
}

func TestGeminiProvider_WaitsOutCooldown(t *testing.T) {
	clock := newFakeClock()
	var hits int32
	var hitAt atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		hitAt.Store(clock.Now())
		writeGeminiEmbedding(w, []float32{1, 0})
	}))
	defer server.Close()

	p := NewGeminiProvider("key", WithBaseURL(server.URL), WithClock(clock.Now, clock.Sleep))
	start := clock.Now()
	p.cooldown.Extend(40 * time.Second)

	clock.Advance(10 * time.Second)
	_, err := p.Embed(context.Background(), "dragons")
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{30 * time.Second}, clock.Sleeps())
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.False(t, hitAt.Load().(time.Time).Before(start.Add(40*time.Second)), "network is only called once the cooldown ends")
}

func TestGeminiProvider_RetriesAfterRateLimit(t *testing.T) {
	server, hits := geminiServer(t, http.StatusTooManyRequests)
	clock := newFakeClock()
	p := NewGeminiProvider("key", WithBaseURL(server.URL), WithClock(clock.Now, clock.Sleep))

	_, err := p.Embed(context.Background(), "dragons")
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{40 * time.Second}, clock.Sleeps())
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
}

func TestGeminiProvider_RateLimitRetriesBounded(t *testing.T) {
	server, hits := geminiServer(t,
		http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests, http.StatusTooManyRequests)
	clock := newFakeClock()
	p := NewGeminiProvider("key", WithBaseURL(server.URL), WithClock(clock.Now, clock.Sleep))

	_, err := p.Embed(context.Background(), "dragons")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(1+MaxRateLimitRetries), atomic.LoadInt32(hits))
	assert.Len(t, clock.Sleeps(), MaxRateLimitRetries)
}

func TestGeminiProvider_WithoutRateLimitWait(t *testing.T) {
	server, hits := geminiServer(t, http.StatusTooManyRequests, http.StatusTooManyRequests)
	clock := newFakeClock()
	p := NewGeminiProvider("key", WithBaseURL(server.URL), WithClock(clock.Now, clock.Sleep))
	ctx := WithoutRateLimitWait(context.Background())

	_, err := p.Embed(ctx, "dragons")
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 40*time.Second, rl.Cooldown)
	assert.Empty(t, clock.Sleeps())
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
	assert.True(t, p.IsRateLimited())

	// During the cooldown the endpoint is not called again
	_, err = p.Embed(ctx, "dragons")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Empty(t, clock.Sleeps())
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestGeminiProvider_CooldownTooLongFailsFast(t *testing.T) {
	server, hits := geminiServer(t)
	clock := newFakeClock()
	p := NewGeminiProvider("key",
		WithBaseURL(server.URL),
		WithClock(clock.Now, clock.Sleep),
		WithMaxRateLimitWait(time.Minute),
	)
	p.cooldown.Extend(2 * time.Minute)

	_, err := p.Embed(context.Background(), "dragons")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Empty(t, clock.Sleeps())
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

func TestGeminiProvider_TransientRetried(t *testing.T) {
	server, hits := geminiServer(t, http.StatusServiceUnavailable, http.StatusBadGateway)
	p := NewGeminiProvider("key", WithBaseURL(server.URL), WithRetryConfig(fastRetry))

	_, err := p.Embed(context.Background(), "dragons")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestGeminiProvider_TransientExhausted(t *testing.T) {
	server, hits := geminiServer(t, 500, 500, 500, 500)
	p := NewGeminiProvider("key", WithBaseURL(server.URL), WithRetryConfig(fastRetry))

	_, err := p.Embed(context.Background(), "dragons")
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(3), atomic.LoadInt32(hits))
}

func TestGeminiProvider_ClientErrorNotRetried(t *testing.T) {
	server, hits := geminiServer(t, http.StatusBadRequest)
	p := NewGeminiProvider("key", WithBaseURL(server.URL), WithRetryConfig(fastRetry))

	_, err := p.Embed(context.Background(), "dragons")
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.NotErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(1), atomic.LoadInt32(hits))
}

func TestGeminiProvider_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	p := NewGeminiProvider("key", WithBaseURL(url), WithRetryConfig(fastRetry))
	_, err := p.Embed(context.Background(), "dragons")
	assert.ErrorIs(t, err, ErrTransient)
}

func TestGeminiProvider_EmbedBatch(t *testing.T) {
	server, hits := geminiServer(t)
	clock := newFakeClock()
	p := NewGeminiProvider("key", WithBaseURL(server.URL), WithClock(clock.Now, clock.Sleep))

	results, err := p.EmbedBatch(context.Background(), []string{"first", "", "third"}, FixedDelay(500*time.Millisecond))
	require.NoError(t, err)

	assert.Len(t, results, 2)
	assert.NotContains(t, results, 1, "blank text fails and is omitted")
	assert.Equal(t, SourceGemini, results[2].Source)
	assert.Equal(t, int32(2), atomic.LoadInt32(hits))
	assert.Equal(t, []time.Duration{500 * time.Millisecond, 500 * time.Millisecond}, clock.Sleeps())
}

func TestGeminiRetryDelay(t *testing.T) {
	tests := []struct {
		name string
		body string
		want time.Duration
	}{
		{name: "retry info", body: geminiRateLimitBody, want: 40 * time.Second},
		{name: "fractional", body: `{"error":{"details":[{"retryDelay":"1.5s"}]}}`, want: 1500 * time.Millisecond},
		{name: "no details", body: `{"error":{"code":429}}`, want: DefaultRateLimitCooldown},
		{name: "garbage", body: `not json`, want: DefaultRateLimitCooldown},
		{name: "bad duration", body: `{"error":{"details":[{"retryDelay":"soon"}]}}`, want: DefaultRateLimitCooldown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, geminiRetryDelay(nil, []byte(tt.body)))
		})
	}
}

func TestOpenAIProvider(t *testing.T) {
	t.Run("successful embedding", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/embeddings", r.URL.Path)
			assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, DefaultOpenAIModel, body["model"])
			assert.Equal(t, "knights", body["input"])

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{{"index": 0, "embedding": []float32{0.6, 0.8}}},
			})
		}))
		defer server.Close()

		p := NewOpenAIProvider("test-key", WithBaseURL(server.URL))
		emb, err := p.EmbedWithMetadata(context.Background(), "knights")
		require.NoError(t, err)
		assert.Equal(t, []float32{0.6, 0.8}, emb.Vector)
		assert.Equal(t, SourceOpenAI, emb.Source)
		assert.Equal(t, OpenAIDimension, p.Dimension())
	})

	t.Run("retry-after header sets cooldown", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "12")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		clock := newFakeClock()
		p := NewOpenAIProvider("key", WithBaseURL(server.URL), WithClock(clock.Now, clock.Sleep), WithRateLimitRetries(0))

		_, err := p.Embed(context.Background(), "knights")
		var rl *RateLimitError
		require.True(t, errors.As(err, &rl))
		assert.Equal(t, 12*time.Second, rl.Cooldown)
		assert.Equal(t, 12*time.Second, p.RemainingCooldown())
	})

	t.Run("missing retry-after defaults to 60s", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		clock := newFakeClock()
		p := NewOpenAIProvider("key", WithBaseURL(server.URL), WithClock(clock.Now, clock.Sleep), WithRateLimitRetries(0))

		_, err := p.Embed(context.Background(), "knights")
		assert.ErrorIs(t, err, ErrRateLimited)
		assert.Equal(t, DefaultRateLimitCooldown, p.RemainingCooldown())
	})

	t.Run("empty data", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":[]}`))
		}))
		defer server.Close()

		p := NewOpenAIProvider("key", WithBaseURL(server.URL))
		_, err := p.Embed(context.Background(), "knights")
		assert.ErrorIs(t, err, ErrProviderFailed)
	})

	t.Run("not configured", func(t *testing.T) {
		p := NewOpenAIProvider("")
		assert.False(t, p.IsConfigured())
		_, err := p.Embed(context.Background(), "knights")
		assert.ErrorIs(t, err, ErrNotConfigured)
	})
}
