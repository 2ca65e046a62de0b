package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides config values from environment variables. Values that
// fail to parse are ignored.
func ApplyEnv(cfg *Config) {
	setString(&cfg.Data.DocumentsDir, "FORMABOT_DATA_DIR")
	setString(&cfg.Store.Dir, "FORMABOT_STORE_DIR")
	setString(&cfg.Cache.Dir, "FORMABOT_CACHE_DIR")
	setInt(&cfg.Chunking.ChunkSize, "CHUNK_SIZE")
	setInt(&cfg.Chunking.ChunkOverlap, "CHUNK_OVERLAP")
	setString(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setString(&cfg.LLM.Provider, "LLM_PROVIDER")
	setString(&cfg.LLM.Model, "LLM_MODEL")
	setString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	setString(&cfg.LLM.APIKey, "LLM_API_KEY")
	setString(&cfg.Language.TranslateURL, "TRANSLATE_URL")
	if v, ok := os.LookupEnv("DEBUG"); ok {
		cfg.Debug = strings.EqualFold(v, "true") || v == "1"
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
