package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg. The MMR lambda
// is only defaulted when it still holds the unset marker, since 0 is a valid
// setting.
func ApplyDefaults(cfg *Config) {
	if cfg.Data.DocumentsDir == "" {
		cfg.Data.DocumentsDir = "./data/documents"
	}
	if cfg.Data.Extensions == nil {
		cfg.Data.Extensions = []string{".pdf", ".docx", ".odt", ".rtf", ".xlsx", ".ods", ".pptx", ".odp", ".txt", ".md"}
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "./data/cache"
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "./data/vector_store"
	}
	if cfg.Store.IndexType == "" {
		cfg.Store.IndexType = "memory"
	}
	if cfg.Store.AppendBatchSize == 0 {
		cfg.Store.AppendBatchSize = 100
	}
	if cfg.Catalog.DatabasePath == "" {
		cfg.Catalog.DatabasePath = "./data/db/catalog.db"
	}
	if cfg.Keyword.IndexPath == "" {
		cfg.Keyword.IndexPath = "./data/indices/bleve"
	}
	applyChunkingDefaults(&cfg.Chunking)
	applyEmbeddingDefaults(&cfg.Embedding)
	applyLLMDefaults(&cfg.LLM)
	if cfg.Language.Target == "" {
		cfg.Language.Target = "fr"
	}
	if cfg.Language.Supported == nil {
		cfg.Language.Supported = []string{"fr", "en", "ar"}
	}
	if cfg.Language.Timeout == 0 {
		cfg.Language.Timeout = 5 * time.Second
	}
	applyQueryDefaults(&cfg.Query)
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5000
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = cfg.Data.Extensions
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 2 * time.Second
	}
}

func applyChunkingDefaults(c *ChunkingConfig) {
	if c.ChunkSize == 0 {
		c.ChunkSize = 1000
	}
	if c.ChunkOverlap == 0 {
		c.ChunkOverlap = 200
	}
	if c.FormationPatterns == nil {
		c.FormationPatterns = DefaultFormationPatterns()
	}
	if c.DocumentTypes == nil {
		c.DocumentTypes = DefaultDocumentTypes()
	}
	if c.SectionKeywords == nil {
		c.SectionKeywords = DefaultSectionKeywords()
	}
}

func applyEmbeddingDefaults(e *EmbeddingConfig) {
	if e.Provider == "" {
		e.Provider = "ollama"
	}
	if e.Model == "" {
		e.Model = "sentence-transformers/all-MiniLM-L6-v2"
	}
	if e.Dimensions == 0 {
		e.Dimensions = 384
	}
	if e.MaxTokens == 0 {
		e.MaxTokens = 256
	}
	if e.BatchSize == 0 {
		e.BatchSize = 32
	}
	if e.CacheSize == 0 {
		e.CacheSize = 10000
	}
	if e.BaseURL == "" {
		e.BaseURL = "http://localhost:11434"
	}
	if e.Timeout == 0 {
		e.Timeout = 30 * time.Second
	}
	if e.DomainKeywords == nil {
		e.DomainKeywords = DefaultDomainKeywords()
	}
}

func applyLLMDefaults(l *LLMConfig) {
	if l.Provider == "" {
		l.Provider = "ollama"
	}
	if l.BaseURL == "" {
		l.BaseURL = "http://localhost:11434"
	}
	if l.Model == "" {
		l.Model = "mistral"
	}
	if l.MaxTokens == 0 {
		l.MaxTokens = 1024
	}
	if l.Timeout == 0 {
		l.Timeout = 60 * time.Second
	}
	if l.CacheTTL == 0 {
		l.CacheTTL = 24 * time.Hour
	}
	if l.CacheSize == 0 {
		l.CacheSize = 1000
	}
}

func applyQueryDefaults(q *QueryConfig) {
	if q.KPrimary == 0 {
		q.KPrimary = 15
	}
	if q.KDiversity == 0 {
		q.KDiversity = 8
	}
	if q.MMRFetchK == 0 {
		q.MMRFetchK = 20
	}
	if q.MMRLambda == unsetMMRLambda {
		q.MMRLambda = 0.5
	}
	if q.FormationKeywords == nil {
		q.FormationKeywords = DefaultFormationKeywords()
	}
	if q.IntentKeywords == nil {
		q.IntentKeywords = DefaultIntentKeywords()
	}
}
