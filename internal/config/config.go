// Package config loads shelfsearch configuration from a YAML file, an
// optional .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment overrides
const (
	EnvGeminiAPIKey = "GEMINI_API_KEY"
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvDBPath       = "SHELFSEARCH_DB_PATH"
	EnvCatalogPath  = "SHELFSEARCH_CATALOG"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Storage     StorageConfig     `yaml:"storage"`
	Library     LibraryConfig     `yaml:"library"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Index       IndexConfig       `yaml:"index"`
	Search      SearchConfig      `yaml:"search"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StorageConfig holds the embeddings database location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" validate:"required"`
}

// LibraryConfig points at the YAML catalog of library items.
type LibraryConfig struct {
	CatalogPath string        `yaml:"catalog_path"`
	Watch       bool          `yaml:"watch"`
	Debounce    time.Duration `yaml:"debounce" validate:"gte=0"`
}

// EmbeddingConfig selects and tunes the cloud and local embedding providers.
type EmbeddingConfig struct {
	Cloud               string        `yaml:"cloud" validate:"oneof=gemini openai none"` // gemini, openai or none
	GeminiAPIKey        string        `yaml:"gemini_api_key"`
	OpenAIAPIKey        string        `yaml:"openai_api_key"`
	CloudModel          string        `yaml:"cloud_model"`
	BaseURL             string        `yaml:"base_url" validate:"omitempty,url"`
	RequestTimeout      time.Duration `yaml:"request_timeout" validate:"gt=0"`
	MaxRateLimitRetries int           `yaml:"max_rate_limit_retries" validate:"gte=0"`
	MaxRateLimitWait    time.Duration `yaml:"max_rate_limit_wait" validate:"gte=0"`
	ReachabilityAddr    string        `yaml:"reachability_addr" validate:"omitempty,hostname_port"`

	Local         string `yaml:"local" validate:"oneof=hash onnx none"` // hash, onnx or none
	ONNXModelPath string `yaml:"onnx_model_path" validate:"required_if=Local onnx"`
	ONNXDimension int    `yaml:"onnx_dimension" validate:"gt=0"`
	ONNXMaxTokens int    `yaml:"onnx_max_tokens" validate:"gt=0"`
}

// VectorStoreConfig tunes the in-memory embedding cache and search fan-out.
type VectorStoreConfig struct {
	CacheSize         int `yaml:"cache_size" validate:"gt=0"`
	ParallelThreshold int `yaml:"parallel_threshold" validate:"gt=0"`
	Partitions        int `yaml:"partitions" validate:"gt=0"`
}

// IndexConfig tunes batch indexing.
type IndexConfig struct {
	BatchSize     int           `yaml:"batch_size" validate:"gt=0"`
	DefaultDelay  time.Duration `yaml:"default_delay" validate:"gte=0"`
	MaxTextLength int           `yaml:"max_text_length" validate:"gt=0"`
}

// SearchConfig tunes query execution.
type SearchConfig struct {
	DefaultLimit   int     `yaml:"default_limit" validate:"gt=0"`
	MaxLimit       int     `yaml:"max_limit" validate:"gtefield=DefaultLimit"`
	CandidateCap   int     `yaml:"candidate_cap" validate:"gt=0"`
	VectorWeight   float64 `yaml:"vector_weight" validate:"gt=0,lte=1"`
	QueryCacheSize int     `yaml:"query_cache_size" validate:"gt=0"`
	Rerank         *bool   `yaml:"rerank"`
}

// RerankOrDefault returns whether re-ranking is on; defaults to true when unset.
func (s *SearchConfig) RerankOrDefault() bool {
	if s.Rerank != nil {
		return *s.Rerank
	}
	return true
}

// LoggingConfig optionally mirrors logs into a rotating JSON file.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" validate:"gt=0"`
	MaxBackups int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays int    `yaml:"max_age_days" validate:"gte=0"`
	Compress   bool   `yaml:"compress"`
}

// Load reads the config file at path, applies environment overrides and
// defaults, and expands paths. An empty path yields the defaults.
// A .env file next to the config (or in the working directory) is loaded first
// without overriding variables that are already set.
func Load(path string) (*Config, error) {
	var cfg Config
	configDir, _ := os.Getwd()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		configDir = filepath.Dir(path)
	}

	if err := loadDotEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}

	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)

	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Library.CatalogPath != "" {
		cfg.Library.CatalogPath = expandPath(cfg.Library.CatalogPath, configDir)
	}
	if cfg.Embedding.ONNXModelPath != "" {
		cfg.Embedding.ONNXModelPath = expandPath(cfg.Embedding.ONNXModelPath, configDir)
	}
	if cfg.Logging.File != "" {
		cfg.Logging.File = expandPath(cfg.Logging.File, configDir)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks value ranges and enumerations after defaults are applied.
func Validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

// ApplyEnv overrides secrets and paths from the environment.
func ApplyEnv(cfg *Config) {
	if v := os.Getenv(EnvGeminiAPIKey); v != "" {
		cfg.Embedding.GeminiAPIKey = v
	}
	if v := os.Getenv(EnvOpenAIAPIKey); v != "" {
		cfg.Embedding.OpenAIAPIKey = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Storage.DatabasePath = v
	}
	if v := os.Getenv(EnvCatalogPath); v != "" {
		cfg.Library.CatalogPath = v
	}
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory. A leading "~/" is the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
