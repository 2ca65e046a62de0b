// Package config provides configuration loading and structs for formabot.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when a required setting is missing or out of range.
// It is fatal at startup: the pipeline refuses to run with an invalid config.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Data      DataConfig      `yaml:"data"`
	Cache     CacheConfig     `yaml:"cache"`
	Store     StoreConfig     `yaml:"store"`
	Catalog   CatalogConfig   `yaml:"catalog"`
	Keyword   KeywordConfig   `yaml:"keyword"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Language  LanguageConfig  `yaml:"language"`
	Query     QueryConfig     `yaml:"query"`
	Server    ServerConfig    `yaml:"server"`
	Watch     WatchConfig     `yaml:"watch"`
}

// DataConfig locates the source documents.
type DataConfig struct {
	DocumentsDir string   `yaml:"documents_dir"`
	Extensions   []string `yaml:"extensions"`
}

// CacheConfig locates the pipeline cache.
type CacheConfig struct {
	Dir string `yaml:"dir"`
}

// StoreConfig holds vector store settings.
type StoreConfig struct {
	Dir             string `yaml:"dir"`
	IndexType       string `yaml:"index_type"`
	AppendBatchSize int    `yaml:"append_batch_size"`
}

// CatalogConfig holds the relational mirror settings.
type CatalogConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// KeywordConfig holds the keyword index settings.
type KeywordConfig struct {
	Enabled   bool   `yaml:"enabled"`
	IndexPath string `yaml:"index_path"`
}

// ChunkingConfig holds splitter sizes and the metadata extraction tables.
type ChunkingConfig struct {
	ChunkSize         int                `yaml:"chunk_size"`
	ChunkOverlap      int                `yaml:"chunk_overlap"`
	FormationPatterns []FormationPattern `yaml:"formation_patterns"`
	DocumentTypes     []KeywordSet       `yaml:"document_types"`
	SectionKeywords   []string           `yaml:"section_keywords"`
}

// FormationPattern maps a formation id to the regular expressions that identify it.
type FormationPattern struct {
	ID       string   `yaml:"id"`
	Patterns []string `yaml:"patterns"`
}

// KeywordSet is a named, ordered list of keywords. Order of sets is the tie-break order.
// IndexID, when set, is the formation_id that ingestion stores for the set's
// passages; Name is used otherwise.
type KeywordSet struct {
	Name     string   `yaml:"name"`
	IndexID  string   `yaml:"index_id,omitempty"`
	Keywords []string `yaml:"keywords"`
}

// KeywordWeight is a domain keyword and the factor applied when it is present.
type KeywordWeight struct {
	Keyword string  `yaml:"keyword"`
	Weight  float64 `yaml:"weight"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider          string          `yaml:"provider"`
	Model             string          `yaml:"model"`
	ModelPath         string          `yaml:"model_path"`
	Dimensions        int             `yaml:"dimensions"`
	MaxTokens         int             `yaml:"max_tokens"`
	BatchSize         int             `yaml:"batch_size"`
	CacheSize         int             `yaml:"cache_size"`
	BaseURL           string          `yaml:"base_url"`
	Timeout           time.Duration   `yaml:"timeout"`
	RequestsPerSecond float64         `yaml:"requests_per_second"`
	DomainKeywords    []KeywordWeight `yaml:"domain_keywords"`
}

// LLMConfig holds completion provider settings.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	APIKey            string        `yaml:"api_key"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
	CacheSize         int           `yaml:"cache_size"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// LanguageConfig holds question normalisation settings.
type LanguageConfig struct {
	Target       string        `yaml:"target"`
	Supported    []string      `yaml:"supported"`
	TranslateURL string        `yaml:"translate_url"`
	Timeout      time.Duration `yaml:"timeout"`
}

// QueryConfig holds retrieval strategy settings and the detection tables.
type QueryConfig struct {
	KPrimary          int          `yaml:"k_primary"`
	KDiversity        int          `yaml:"k_diversity"`
	SimilarityFloor   float64      `yaml:"similarity_floor"`
	MMRFetchK         int          `yaml:"mmr_fetch_k"`
	MMRLambda         float64      `yaml:"mmr_lambda"` // 0 is pure diversity
	FormationKeywords []KeywordSet `yaml:"formation_keywords"`
	IntentKeywords    []KeywordSet `yaml:"intent_keywords"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// WatchConfig holds directory watch settings.
type WatchConfig struct {
	Directories []string      `yaml:"directories"`
	Extensions  []string      `yaml:"extensions"`
	Debounce    time.Duration `yaml:"debounce"`
}

// unset returns the config a file is decoded into. Fields whose zero value
// is meaningful start out negative so that ApplyDefaults can tell an absent
// key from an explicit zero.
func unset() Config {
	return Config{Query: QueryConfig{MMRLambda: unsetMMRLambda}}
}

// unsetMMRLambda marks query.mmr_lambda as absent from the config file.
const unsetMMRLambda = -1

// Default returns a config with every default applied and paths relative to
// the working directory. Used when no config file exists.
func Default() *Config {
	cfg := unset()
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	return &cfg
}

// Load reads and parses the config file at path, applies defaults, expands paths,
// applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := unset()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Data.DocumentsDir = expandPath(cfg.Data.DocumentsDir, configDir)
	cfg.Cache.Dir = expandPath(cfg.Cache.Dir, configDir)
	cfg.Store.Dir = expandPath(cfg.Store.Dir, configDir)
	cfg.Catalog.DatabasePath = expandPath(cfg.Catalog.DatabasePath, configDir)
	cfg.Keyword.IndexPath = expandPath(cfg.Keyword.IndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports missing required settings as ErrInvalidConfig.
func (c *Config) Validate() error {
	var problems []string
	if c.Data.DocumentsDir == "" {
		problems = append(problems, "data.documents_dir is required")
	}
	if c.Store.Dir == "" {
		problems = append(problems, "store.dir is required")
	}
	if c.Cache.Dir == "" {
		problems = append(problems, "cache.dir is required")
	}
	if c.Chunking.ChunkSize <= 0 {
		problems = append(problems, "chunking.chunk_size must be positive")
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		problems = append(problems, "chunking.chunk_overlap must be in [0, chunk_size)")
	}
	if c.Embedding.Dimensions <= 0 {
		problems = append(problems, "embedding.dimensions must be positive")
	}
	switch c.Embedding.Provider {
	case "mock", "onnx", "ollama":
	default:
		problems = append(problems, fmt.Sprintf("embedding.provider %q is not one of mock, onnx, ollama", c.Embedding.Provider))
	}
	if c.Embedding.Provider == "onnx" && c.Embedding.ModelPath == "" {
		problems = append(problems, "embedding.model_path is required for the onnx provider")
	}
	switch c.LLM.Provider {
	case "ollama", "openai":
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q is not one of ollama, openai", c.LLM.Provider))
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		problems = append(problems, "llm.api_key is required for the openai provider")
	}
	if c.Query.MMRLambda < 0 || c.Query.MMRLambda > 1 {
		problems = append(problems, "query.mmr_lambda must be in [0, 1]")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
