package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/fstsettat/formabot/internal/cache"
	"github.com/fstsettat/formabot/internal/cleaner"
	"github.com/fstsettat/formabot/internal/config"
	"github.com/fstsettat/formabot/internal/embedding"
	"github.com/fstsettat/formabot/internal/extract"
	"github.com/fstsettat/formabot/internal/indexer"
	"github.com/fstsettat/formabot/internal/keyword"
	"github.com/fstsettat/formabot/internal/language"
	"github.com/fstsettat/formabot/internal/llm"
	"github.com/fstsettat/formabot/internal/search"
	"github.com/fstsettat/formabot/internal/server"
	"github.com/fstsettat/formabot/internal/storage"
	"github.com/fstsettat/formabot/internal/vector"
	"go.uber.org/zap"
)

// Components holds initialized services. It implements server.Service.
type Components struct {
	cfg    *config.Config
	logger *zap.Logger

	Cache        *cache.ContentCache
	Embedder     embedding.Embedder
	Passages     *embedding.PassageEmbedder
	Catalog      *storage.SQLiteCatalog
	KeywordIndex *keyword.BleveIndex
	Pipeline     *indexer.Pipeline
	Engine       *search.Engine

	storeOpts []vector.StoreOption
	ingestMu  sync.Mutex
}

var _ server.Service = (*Components)(nil)

// Close releases every component that holds files or connections.
func (c *Components) Close() {
	if c.Engine != nil {
		_ = c.Engine.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Catalog != nil {
		_ = c.Catalog.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	var err error
	if c.Cache, err = cache.New(cfg.Cache.Dir, cache.WithLogger(logger)); err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	fstCleaner, err := cleaner.New(nil, cleaner.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cleaner: %w", err)
	}
	chunker, err := indexer.NewChunker(cfg.Chunking, indexer.WithChunkerLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chunker: %w", err)
	}
	if c.Embedder, err = embedding.New(cfg.Embedding, logger); err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Passages = embedding.NewPassageEmbedder(c.Embedder, cfg.Embedding.DomainKeywords,
		embedding.WithLogger(logger),
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
	)

	c.storeOpts = []vector.StoreOption{
		vector.WithLogger(logger),
		vector.WithIndexType(cfg.Store.IndexType),
		vector.WithAppendBatchSize(cfg.Store.AppendBatchSize),
	}
	pipelineOpts := []indexer.PipelineOption{
		indexer.WithLogger(logger),
		indexer.WithExtensions(cfg.Data.Extensions),
		indexer.WithStoreOptions(c.storeOpts...),
	}
	if cfg.Catalog.Enabled {
		if c.Catalog, err = storage.NewSQLiteCatalog(cfg.Catalog.DatabasePath, storage.WithLogger(logger)); err != nil {
			return nil, fmt.Errorf("failed to initialize catalog: %w", err)
		}
		pipelineOpts = append(pipelineOpts, indexer.WithCatalog(c.Catalog))
	}
	engineOpts := []search.Option{
		search.WithLogger(logger),
		search.WithLLMTimeout(cfg.LLM.Timeout),
	}
	if cfg.Keyword.Enabled {
		if c.KeywordIndex, err = keyword.NewBleveIndex(cfg.Keyword.IndexPath); err != nil {
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		pipelineOpts = append(pipelineOpts, indexer.WithKeywordIndex(c.KeywordIndex))
		engineOpts = append(engineOpts, search.WithKeywordIndex(c.KeywordIndex))
	}
	c.Pipeline = indexer.NewPipeline(
		extract.NewExtractor(extract.WithLogger(logger)),
		fstCleaner,
		chunker,
		c.Passages,
		c.Cache,
		cfg.Store.Dir,
		pipelineOpts...,
	)

	completer, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}
	var translator language.Translator
	if cfg.Language.TranslateURL != "" {
		translator = language.NewLibreTranslate(cfg.Language.TranslateURL, &http.Client{Timeout: cfg.Language.Timeout})
	}
	engineOpts = append(engineOpts,
		search.WithNormalizer(language.NewNormalizer(cfg.Language, translator, language.WithLogger(logger))))

	logger.Info("vector index configured",
		zap.String("type", cfg.Store.IndexType),
		zap.Bool("faiss_available", vector.IsFAISSAvailable()))
	store, err := vector.Load(cfg.Store.Dir, c.storeOpts...)
	if err != nil {
		logger.Warn("vector store load failed; run ingest to rebuild", zap.String("dir", cfg.Store.Dir), zap.Error(err))
		store = nil
	}
	if store == nil {
		logger.Info("no vector store yet", zap.String("dir", cfg.Store.Dir))
	}
	c.Engine = search.NewEngine(store, c.Passages, completer, cfg.Query, engineOpts...)
	ok = true
	return c, nil
}

// Ingest runs the pipeline over the documents directory.
func (c *Components) Ingest(ctx context.Context) (*indexer.RunResult, error) {
	return c.IngestDir(ctx, c.cfg.Data.DocumentsDir)
}

// IngestDir runs the pipeline over dir and swaps the rebuilt store into the
// engine. Runs from the same process are serialized; the pipeline lock file
// guards against other processes.
func (c *Components) IngestDir(ctx context.Context, dir string) (*indexer.RunResult, error) {
	c.ingestMu.Lock()
	defer c.ingestMu.Unlock()

	res, err := c.Pipeline.Run(ctx, dir)
	if err != nil {
		return nil, err
	}
	store, err := vector.Load(c.Pipeline.StoreDir(), c.storeOpts...)
	if err != nil {
		return res, fmt.Errorf("reload store: %w", err)
	}
	if store != nil {
		c.Engine.SetStore(store)
	}
	return res, nil
}

// Formations summarizes the catalog per formation.
func (c *Components) Formations(ctx context.Context) ([]storage.FormationSummary, error) {
	if c.Catalog == nil {
		return nil, server.ErrCatalogDisabled
	}
	return c.Catalog.Formations(ctx)
}

// Status reports index, catalog, and cache sizes.
func (c *Components) Status(ctx context.Context) (*server.Status, error) {
	cacheStats, err := c.Cache.Stats()
	if err != nil {
		return nil, fmt.Errorf("cache stats: %w", err)
	}
	st := &server.Status{
		IndexSize: c.Engine.IndexSize(),
		Cache:     cacheStats,
		Config: &server.StatusConfig{
			IndexType:           c.cfg.Store.IndexType,
			EmbeddingProvider:   c.cfg.Embedding.Provider,
			EmbeddingModel:      c.Embedder.Model(),
			EmbeddingDimensions: c.Embedder.Dimensions(),
			ChunkSize:           c.cfg.Chunking.ChunkSize,
			ChunkOverlap:        c.cfg.Chunking.ChunkOverlap,
			LLMProvider:         c.cfg.LLM.Provider,
			LLMModel:            c.cfg.LLM.Model,
			DocumentsDir:        c.cfg.Data.DocumentsDir,
			StoreDir:            c.cfg.Store.Dir,
			CacheDir:            c.Cache.Dir(),
		},
	}
	paths := []string{c.cfg.Store.Dir, c.Cache.Dir()}
	if c.Catalog != nil {
		files, err := c.Catalog.CountFiles(ctx)
		if err != nil {
			return nil, fmt.Errorf("count files: %w", err)
		}
		chunks, err := c.Catalog.CountChunks(ctx)
		if err != nil {
			return nil, fmt.Errorf("count chunks: %w", err)
		}
		st.CatalogFiles, st.CatalogChunks = &files, &chunks
		paths = append(paths, c.cfg.Catalog.DatabasePath)
	}
	if c.KeywordIndex != nil {
		if n, err := c.KeywordIndex.DocCount(); err == nil {
			st.KeywordDocs = &n
		}
		paths = append(paths, c.cfg.Keyword.IndexPath)
	}
	if disk, err := storage.DiskUsageBytes(paths...); err == nil {
		st.DiskUsageBytes = &disk
	}
	return st, nil
}
