package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Provider configuration
const (
	SourceGemini = "gemini"
	SourceOpenAI = "openai"
	SourceLocal  = "local"

	// Default models
	DefaultGeminiModel = "text-embedding-004"
	DefaultOpenAIModel = "text-embedding-3-small"

	// Dimensions
	GeminiDimension = 768
	OpenAIDimension = 1536

	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultOpenAIBaseURL = "https://api.openai.com"

	// Timeouts and rate limiting
	DefaultRequestTimeout    = 30 * time.Second
	DefaultRateLimitCooldown = 60 * time.Second
	MaxRateLimitRetries      = 2
	DefaultMaxRateLimitWait  = 60 * time.Second

	maxErrorBody = 4096
)

// CloudOption configures a cloud provider
type CloudOption func(*cloudClient)

// WithBaseURL overrides the API endpoint
func WithBaseURL(url string) CloudOption {
	return func(c *cloudClient) {
		if url != "" {
			c.baseURL = strings.TrimRight(url, "/")
		}
	}
}

// WithModel overrides the model name
func WithModel(model string) CloudOption {
	return func(c *cloudClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithTimeout sets the per-request HTTP timeout
func WithTimeout(d time.Duration) CloudOption {
	return func(c *cloudClient) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(client *http.Client) CloudOption {
	return func(c *cloudClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRateLimitRetries bounds how many times a call waits out a cooldown
// before failing with a RateLimitError. Zero fails fast.
func WithRateLimitRetries(n int) CloudOption {
	return func(c *cloudClient) {
		if n >= 0 {
			c.rateLimitRetries = n
		}
	}
}

// WithMaxRateLimitWait sets the longest cooldown a call will wait out
func WithMaxRateLimitWait(d time.Duration) CloudOption {
	return func(c *cloudClient) {
		if d > 0 {
			c.maxRateLimitWait = d
		}
	}
}

// WithRetryConfig sets the backoff used for transient failures
func WithRetryConfig(cfg RetryConfig) CloudOption {
	return func(c *cloudClient) {
		c.retry = cfg
	}
}

// WithClock replaces the time source and sleep function
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) CloudOption {
	return func(c *cloudClient) {
		if now != nil {
			c.now = now
		}
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) CloudOption {
	return func(c *cloudClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// cloudClient holds the HTTP plumbing and cooldown state shared by the cloud providers
type cloudClient struct {
	apiKey           string
	baseURL          string
	model            string
	httpClient       *http.Client
	cooldown         *Cooldown
	now              func() time.Time
	sleep            sleepFunc
	rateLimitRetries int
	maxRateLimitWait time.Duration
	retry            RetryConfig
	logger           *zap.Logger
}

func newCloudClient(apiKey, baseURL, model string, opts []CloudOption) *cloudClient {
	c := &cloudClient{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: DefaultRequestTimeout,
		},
		now:              time.Now,
		sleep:            sleepContext,
		rateLimitRetries: MaxRateLimitRetries,
		maxRateLimitWait: DefaultMaxRateLimitWait,
		retry:            DefaultRetryConfig(),
		logger:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.cooldown = NewCooldown(c.now)
	return c
}

// call runs request under the cooldown discipline: while a cooldown is active
// the call waits it out (bounded) or fails fast, and a rate-limit response
// extends the shared cooldown. A ctx from WithoutRateLimitWait never waits.
func (c *cloudClient) call(ctx context.Context, text string, request func(ctx context.Context, text string) ([]float32, error)) ([]float32, error) {
	if c.apiKey == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	retries := c.rateLimitRetries
	if !rateLimitWaitAllowed(ctx) {
		retries = 0
	}

	waits := 0
	for {
		if remaining := c.cooldown.Remaining(); remaining > 0 {
			if waits >= retries || remaining > c.maxRateLimitWait {
				return nil, &RateLimitError{Cooldown: remaining}
			}
			waits++
			c.logger.Info("waiting for rate limit cooldown", zap.Duration("remaining", remaining), zap.Int("attempt", waits))
			if err := c.sleep(ctx, remaining); err != nil {
				return nil, err
			}
			continue
		}

		vector, err := retryWithBackoff(ctx, c.retry, func() ([]float32, error) {
			return request(ctx, text)
		})

		var rateLimited *RateLimitError
		if errors.As(err, &rateLimited) {
			c.cooldown.Extend(rateLimited.Cooldown)
			c.logger.Warn("embedding provider rate limited", zap.Duration("cooldown", rateLimited.Cooldown))
			continue
		}
		return vector, err
	}
}

// postJSON sends payload and decodes a 200 response into out. A 429 becomes a
// RateLimitError with the cooldown extracted by hint; network errors and 5xx
// are ErrTransient.
func (c *cloudClient) postJSON(ctx context.Context, url string, headers map[string]string, payload, out interface{}, hint func(*http.Response, []byte) time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: api call: %v", ErrTransient, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &RateLimitError{Cooldown: hint(resp, bodyBytes)}
		case resp.StatusCode >= 500:
			return fmt.Errorf("%w: api error %d: %s", ErrTransient, resp.StatusCode, string(bodyBytes))
		default:
			return fmt.Errorf("%w: api error %d: %s", ErrProviderFailed, resp.StatusCode, string(bodyBytes))
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrProviderFailed, err)
	}
	return nil
}

func (c *cloudClient) close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// GeminiProvider implements Embedder using the Gemini embedContent API
type GeminiProvider struct {
	*cloudClient
}

// NewGeminiProvider creates a Gemini embedder. An empty apiKey yields a
// provider that reports IsConfigured() == false.
func NewGeminiProvider(apiKey string, opts ...CloudOption) *GeminiProvider {
	return &GeminiProvider{
		cloudClient: newCloudClient(apiKey, DefaultGeminiBaseURL, DefaultGeminiModel, opts),
	}
}

func (g *GeminiProvider) IsConfigured() bool {
	return g.apiKey != ""
}

func (g *GeminiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return g.call(ctx, text, g.request)
}

func (g *GeminiProvider) EmbedWithMetadata(ctx context.Context, text string) (*Embedding, error) {
	vector, err := g.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &Embedding{Vector: vector, Dimension: len(vector), Source: SourceGemini, Model: g.model}, nil
}

func (g *GeminiProvider) EmbedBatch(ctx context.Context, texts []string, delay DelayPolicy) (map[int]*Embedding, error) {
	return embedSequential(ctx, texts, delay, g.sleep, g.EmbedWithMetadata, g.logger)
}

func (g *GeminiProvider) request(ctx context.Context, text string) ([]float32, error) {
	type part struct {
		Text string `json:"text"`
	}
	payload := map[string]interface{}{
		"model": "models/" + g.model,
		"content": map[string]interface{}{
			"parts": []part{{Text: text}},
		},
	}

	var apiResp struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent", g.baseURL, g.model)
	headers := map[string]string{"x-goog-api-key": g.apiKey}
	if err := g.postJSON(ctx, url, headers, payload, &apiResp, geminiRetryDelay); err != nil {
		return nil, err
	}

	if len(apiResp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("%w: no embedding values returned", ErrProviderFailed)
	}
	return apiResp.Embedding.Values, nil
}

// geminiRetryDelay reads google.rpc.RetryInfo.retryDelay (e.g. "40s") from a 429 body
func geminiRetryDelay(_ *http.Response, body []byte) time.Duration {
	var apiErr struct {
		Error struct {
			Details []struct {
				Type       string `json:"@type"`
				RetryDelay string `json:"retryDelay"`
			} `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return DefaultRateLimitCooldown
	}

	for _, detail := range apiErr.Error.Details {
		if detail.RetryDelay == "" {
			continue
		}
		if d, err := time.ParseDuration(detail.RetryDelay); err == nil && d > 0 {
			return d
		}
	}
	return DefaultRateLimitCooldown
}

func (g *GeminiProvider) IsRateLimited() bool {
	return g.cooldown.Active()
}

func (g *GeminiProvider) RemainingCooldown() time.Duration {
	return g.cooldown.Remaining()
}

func (g *GeminiProvider) Dimension() int {
	return GeminiDimension
}

func (g *GeminiProvider) Source() string {
	return SourceGemini
}

func (g *GeminiProvider) Model() string {
	return g.model
}

func (g *GeminiProvider) Close() error {
	return g.close()
}

// OpenAIProvider implements Embedder using the OpenAI embeddings API
type OpenAIProvider struct {
	*cloudClient
}

// NewOpenAIProvider creates an OpenAI embedder. An empty apiKey yields a
// provider that reports IsConfigured() == false.
func NewOpenAIProvider(apiKey string, opts ...CloudOption) *OpenAIProvider {
	return &OpenAIProvider{
		cloudClient: newCloudClient(apiKey, DefaultOpenAIBaseURL, DefaultOpenAIModel, opts),
	}
}

func (o *OpenAIProvider) IsConfigured() bool {
	return o.apiKey != ""
}

func (o *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return o.call(ctx, text, o.request)
}

func (o *OpenAIProvider) EmbedWithMetadata(ctx context.Context, text string) (*Embedding, error) {
	vector, err := o.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &Embedding{Vector: vector, Dimension: len(vector), Source: SourceOpenAI, Model: o.model}, nil
}

func (o *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string, delay DelayPolicy) (map[int]*Embedding, error) {
	return embedSequential(ctx, texts, delay, o.sleep, o.EmbedWithMetadata, o.logger)
}

func (o *OpenAIProvider) request(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]interface{}{
		"input": text,
		"model": o.model,
	}

	var apiResp struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}

	headers := map[string]string{"Authorization": "Bearer " + o.apiKey}
	if err := o.postJSON(ctx, o.baseURL+"/v1/embeddings", headers, payload, &apiResp, retryAfter); err != nil {
		return nil, err
	}

	if len(apiResp.Data) == 0 || len(apiResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrProviderFailed)
	}
	return apiResp.Data[0].Embedding, nil
}

// retryAfter reads a Retry-After header given in seconds
func retryAfter(resp *http.Response, _ []byte) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return DefaultRateLimitCooldown
}

func (o *OpenAIProvider) IsRateLimited() bool {
	return o.cooldown.Active()
}

func (o *OpenAIProvider) RemainingCooldown() time.Duration {
	return o.cooldown.Remaining()
}

func (o *OpenAIProvider) Dimension() int {
	return OpenAIDimension
}

func (o *OpenAIProvider) Source() string {
	return SourceOpenAI
}

func (o *OpenAIProvider) Model() string {
	return o.model
}

func (o *OpenAIProvider) Close() error {
	return o.close()
}
