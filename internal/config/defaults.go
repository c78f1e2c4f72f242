package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".shelfsearch/library.db"
	}
	if cfg.Library.Debounce == 0 {
		cfg.Library.Debounce = 2 * time.Second
	}

	if cfg.Embedding.Cloud == "" {
		switch {
		case cfg.Embedding.GeminiAPIKey != "":
			cfg.Embedding.Cloud = "gemini"
		case cfg.Embedding.OpenAIAPIKey != "":
			cfg.Embedding.Cloud = "openai"
		default:
			cfg.Embedding.Cloud = "none"
		}
	}
	if cfg.Embedding.RequestTimeout == 0 {
		cfg.Embedding.RequestTimeout = 30 * time.Second
	}
	if cfg.Embedding.MaxRateLimitRetries == 0 {
		cfg.Embedding.MaxRateLimitRetries = 2
	}
	if cfg.Embedding.MaxRateLimitWait == 0 {
		cfg.Embedding.MaxRateLimitWait = 60 * time.Second
	}
	if cfg.Embedding.Local == "" {
		cfg.Embedding.Local = "hash"
	}
	if cfg.Embedding.ONNXDimension == 0 {
		cfg.Embedding.ONNXDimension = 384
	}
	if cfg.Embedding.ONNXMaxTokens == 0 {
		cfg.Embedding.ONNXMaxTokens = 256
	}

	if cfg.VectorStore.CacheSize == 0 {
		cfg.VectorStore.CacheSize = 5000
	}
	if cfg.VectorStore.ParallelThreshold == 0 {
		cfg.VectorStore.ParallelThreshold = 100
	}
	if cfg.VectorStore.Partitions == 0 {
		cfg.VectorStore.Partitions = 4
	}

	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 20
	}
	if cfg.Index.DefaultDelay == 0 {
		cfg.Index.DefaultDelay = 500 * time.Millisecond
	}
	if cfg.Index.MaxTextLength == 0 {
		cfg.Index.MaxTextLength = 1000
	}

	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 50
	}
	if cfg.Search.CandidateCap == 0 {
		cfg.Search.CandidateCap = 24
	}
	if cfg.Search.VectorWeight == 0 {
		cfg.Search.VectorWeight = 0.7
	}
	if cfg.Search.QueryCacheSize == 0 {
		cfg.Search.QueryCacheSize = 50
	}

	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 10
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}
}
