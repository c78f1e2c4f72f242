// Package embedder converts library text into vector embeddings.
//
// Every backend implements the Embedder interface. Cloud providers (Gemini,
// OpenAI) call a remote API; local providers (HashProvider, ONNXProvider) run
// on the device. HybridProvider composes one of each.
//
// # Basic Usage
//
//	providers, err := embedder.New(cfg.Embedding, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer providers.Close()
//
//	emb, err := providers.Hybrid.EmbedWithMetadata(ctx, "a story about dragons")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(emb.Source, emb.Dimension)
//
// Always store emb.Source and emb.Dimension with the vector. Vectors from
// different providers live in different spaces and must never be compared.
//
// # Errors
//
// Failures are tagged so callers can branch with errors.Is and errors.As:
//
//	switch {
//	case errors.Is(err, embedder.ErrNotConfigured):
//	    // no key or model file; search is unavailable, not broken
//	case errors.As(err, &rateLimited):
//	    // rateLimited.Cooldown says when to try again
//	case errors.Is(err, embedder.ErrTransient):
//	    // network failure or 5xx, already retried with backoff
//	}
//
// # Rate Limiting
//
// A 429 response starts a cooldown shared by every caller of the provider.
// Gemini's retryDelay hint ("40s") or OpenAI's Retry-After header sets its
// length, 60s otherwise. Calls made during a cooldown wait it out up to
// MaxRateLimitRetries times, then fail fast with a RateLimitError. A context
// from WithoutRateLimitWait fails fast right away, which is what interactive
// callers want.
//
// Batch callers should consult IsRateLimited and RemainingCooldown from their
// DelayPolicy instead of hammering a limited endpoint:
//
//	results, err := p.EmbedBatch(ctx, texts, func(int) time.Duration {
//	    if p.IsRateLimited() {
//	        return p.RemainingCooldown() + time.Second
//	    }
//	    return 500 * time.Millisecond
//	})
//
// # Hybrid Provider
//
// HybridProvider uses the cloud provider while it is reachable, configured
// and not rate limited, and the local provider otherwise. A cloud call that
// fails with a rate-limit or transient error is retried locally. LastSource
// reports which provider produced the most recent result.
//
// # Caching
//
// Cache is a thread-safe LRU keyed by the SHA-256 of the text. The searcher
// keeps one per provider so repeated queries do not cost an API call.
package embedder
