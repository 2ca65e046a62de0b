package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fstsettat/formabot/internal/cache"
	"github.com/fstsettat/formabot/internal/extract"
	"github.com/fstsettat/formabot/internal/fileid"
	"github.com/fstsettat/formabot/internal/keyword"
	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/internal/storage"
	"github.com/fstsettat/formabot/internal/vector"
	"github.com/fstsettat/formabot/pkg/utils"
)

// LockFileName is created in the store directory for the duration of a run.
const LockFileName = ".ingest.lock"

// textHashKey records the hash of a chunk's text before augmentation so that
// cached embeddings can be matched to unchanged chunks.
const textHashKey = "text_hash"

// sourcePathKey records the absolute path a chunk was read from, so passages
// of deleted files can be found in the store.
const sourcePathKey = "source_path"

var (
	// ErrNoDocuments is returned when a run ends with no valid passage in the store.
	ErrNoDocuments = errors.New("no valid documents to index")
	// ErrLocked is returned when another ingestion holds the store lock.
	ErrLocked = errors.New("ingestion already running")
)

// Cleaner removes boilerplate from extracted passages.
type Cleaner interface {
	Clean(docs []models.Passage) []models.Passage
}

// PassageEmbedder embeds chunked passages.
type PassageEmbedder interface {
	Embed(ctx context.Context, docs []models.RawDocument) ([]models.Passage, error)
}

// FileError records a file the run could not process.
type FileError struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// RunResult summarises one ingestion run.
type RunResult struct {
	Files     int           `json:"files"`
	Processed int           `json:"processed"`
	Cached    int           `json:"cached"`
	Failed    int           `json:"failed"`
	Chunks    int           `json:"chunks"`
	Embedded  int           `json:"embedded"`
	Reused    int           `json:"reused"`
	Removed   int           `json:"removed"`
	StoreSize int           `json:"store_size"`
	Duration  time.Duration `json:"duration"`
	Errors    []FileError   `json:"errors,omitempty"`
}

// staleFile is a file whose passages must leave the store: it was deleted
// from the documents folder, or its passages carry an outdated file id.
type staleFile struct {
	fileID string
	path   string
	// gone is set when the file no longer exists under the walked root.
	gone bool
}

// fileChunks is the chunked content of one source file.
type fileChunks struct {
	path    string
	fileID  string
	hash    string
	chunks  []models.Passage
	changed bool
}

// Pipeline turns a documents folder into a persisted vector store:
// extract, clean, chunk, embed, index. Every stage is cached per file, and
// files whose content hash is unchanged skip straight to their cached chunks.
type Pipeline struct {
	extractor  extract.Extractor
	cleaner    Cleaner
	chunker    *Chunker
	embedder   PassageEmbedder
	cache      *cache.ContentCache
	storeDir   string
	storeOpts  []vector.StoreOption
	extensions []string
	catalog    storage.Catalog
	keywords   keyword.PassageIndex
	logger     *zap.Logger
	now        func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger for per-file progress and isolated failures.
func WithLogger(l *zap.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithExtensions restricts the walk to the given extensions (with or without
// the leading dot). Empty means every file.
func WithExtensions(exts []string) PipelineOption {
	return func(p *Pipeline) { p.extensions = exts }
}

// WithStoreOptions passes options to the vector store on load and create.
func WithStoreOptions(opts ...vector.StoreOption) PipelineOption {
	return func(p *Pipeline) { p.storeOpts = append(p.storeOpts, opts...) }
}

// WithCatalog mirrors files and chunks into a relational catalog.
func WithCatalog(c storage.Catalog) PipelineOption {
	return func(p *Pipeline) { p.catalog = c }
}

// WithKeywordIndex keeps a keyword index in sync with the store.
func WithKeywordIndex(k keyword.PassageIndex) PipelineOption {
	return func(p *Pipeline) { p.keywords = k }
}

// WithClock overrides the clock used for catalog timestamps and durations.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates an ingestion pipeline writing its store to storeDir.
func NewPipeline(
	extractor extract.Extractor,
	cleaner Cleaner,
	chunker *Chunker,
	embedder PassageEmbedder,
	contentCache *cache.ContentCache,
	storeDir string,
	opts ...PipelineOption,
) *Pipeline {
	p := &Pipeline{
		extractor: extractor,
		cleaner:   cleaner,
		chunker:   chunker,
		embedder:  embedder,
		cache:     contentCache,
		storeDir:  storeDir,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = utils.OrNop(p.logger)
	return p
}

// StoreDir returns the directory the pipeline persists its store to.
func (p *Pipeline) StoreDir() string { return p.storeDir }

// Run ingests every matching file under dir. Per-file failures are logged and
// counted; the run fails only when no valid passage ends up in the store.
func (p *Pipeline) Run(ctx context.Context, dir string) (*RunResult, error) {
	start := p.now()
	unlock, err := p.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	paths, err := p.walk(root)
	if err != nil {
		return nil, err
	}
	res := &RunResult{Files: len(paths)}
	p.logger.Info("ingestion started", zap.String("dir", dir), zap.Int("files", len(paths)))

	var files []*fileChunks
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fc, err := p.processFile(ctx, path)
		if err != nil {
			p.logger.Error("file failed", zap.String("path", path), zap.Error(err))
			res.Failed++
			res.Errors = append(res.Errors, FileError{Path: path, Error: err.Error()})
			continue
		}
		if fc.changed {
			res.Processed++
		} else {
			res.Cached++
		}
		res.Chunks += len(fc.chunks)
		files = append(files, fc)
	}

	loaded, err := vector.Load(p.storeDir, p.storeOpts...)
	if err != nil {
		p.logger.Warn("existing store unreadable, rebuilding", zap.Error(err))
		loaded = nil
	}
	stale := p.staleFiles(root, paths, loaded)
	res.Removed = len(stale)
	embedded, err := p.embed(ctx, files, loaded, res)
	if err != nil {
		closeStore(loaded)
		return nil, err
	}
	store, err := p.index(ctx, loaded, files, stale, embedded)
	if err != nil {
		closeStore(loaded)
		if errors.Is(err, ErrNoDocuments) && len(stale) > 0 {
			// Every remaining file was withdrawn; drop the persisted store too.
			if rerr := vector.RemoveFiles(p.storeDir); rerr != nil {
				p.logger.Warn("cannot remove emptied store", zap.Error(rerr))
			}
			p.forget(ctx, stale)
		}
		return nil, err
	}
	defer store.Close()
	if err := store.Save(p.storeDir); err != nil {
		return nil, fmt.Errorf("save store: %w", err)
	}
	res.StoreSize = store.Len()

	for _, fc := range files {
		if !fc.changed {
			continue
		}
		if err := p.cache.MarkProcessed(fc.path, map[string]any{
			models.KeyFileID: fc.fileID,
			"chunks":         len(fc.chunks),
		}); err != nil {
			p.logger.Warn("cannot mark file processed", zap.String("path", fc.path), zap.Error(err))
		}
	}

	p.forget(ctx, stale)
	p.syncCatalog(ctx, files, store)
	p.syncKeywords(ctx, files, store)

	res.Duration = p.now().Sub(start)
	p.logger.Info("ingestion finished",
		zap.Int("processed", res.Processed),
		zap.Int("cached", res.Cached),
		zap.Int("failed", res.Failed),
		zap.Int("removed", res.Removed),
		zap.Int("store_size", res.StoreSize))
	return res, nil
}

func closeStore(s *vector.Store) {
	if s != nil {
		_ = s.Close()
	}
}

// lock creates the lock file exclusively and returns its release function.
func (p *Pipeline) lock() (func(), error) {
	if err := os.MkdirAll(p.storeDir, 0755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	path := filepath.Join(p.storeDir, LockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s exists", ErrLocked, path)
		}
		return nil, fmt.Errorf("create lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	return func() { _ = os.Remove(path) }, nil
}

// walk returns the regular files under absDir whose extension is allowed, in
// lexical order.
func (p *Pipeline) walk(absDir string) ([]string, error) {
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", absDir)
	}
	var paths []string
	err = filepath.WalkDir(absDir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if len(p.extensions) > 0 && !extensionAllowed(filepath.Ext(path), p.extensions) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested.
		finfo, statErr := os.Stat(path)
		if statErr != nil || !finfo.Mode().IsRegular() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}

// processFile returns the chunks of path, from the chunk cache when the file
// is unchanged and through extract, clean, and chunk otherwise.
func (p *Pipeline) processFile(ctx context.Context, path string) (*fileChunks, error) {
	fc := &fileChunks{path: path, fileID: fileid.FileID(path)}
	processed, err := p.cache.IsProcessed(path)
	if err != nil {
		return nil, err
	}
	if processed {
		if chunks := p.cache.LoadPassages(cache.StageChunks, fc.fileID); len(chunks) > 0 {
			p.logger.Debug("unchanged file, using cached chunks",
				zap.String("path", path), zap.Int("chunks", len(chunks)))
			fc.chunks = chunks
			return fc, nil
		}
		p.logger.Warn("processed file has no cached chunks, reprocessing", zap.String("path", path))
	}

	fc.changed = true
	if fc.hash, err = fileid.ContentHash(path); err != nil {
		return nil, err
	}
	raw, err := p.extractor.Extract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	p.saveStage(cache.StageRawDocs, fc.fileID, raw)

	docs := make([]models.Passage, 0, len(raw))
	for i, r := range raw {
		doc, derr := models.Coerce(r, i)
		if derr != nil {
			p.logger.Warn("skipping extracted document", zap.String("path", path), zap.Error(derr))
			continue
		}
		docs = append(docs, doc)
	}
	cleaned := p.cleaner.Clean(docs)
	p.saveStage(cache.StageCleanedDocs, fc.fileID, models.FromPassages(cleaned))

	chunks := p.chunker.Chunk(cleaned)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no content after cleaning")
	}
	for i := range chunks {
		id := fmt.Sprintf("%s_chunk_%d", fc.fileID, i)
		meta := chunks[i].Metadata
		meta[models.KeyChunkID] = id
		meta[models.KeyChunkIndex] = i
		meta[models.KeyTotalChunks] = len(chunks)
		meta[models.KeyFileID] = fc.fileID
		meta[textHashKey] = models.ContentKey(chunks[i].Text)
		meta[sourcePathKey] = path
		chunks[i].ID = id
	}
	p.saveStage(cache.StageChunks, fc.fileID, models.FromPassages(chunks))
	fc.chunks = chunks
	p.logger.Info("file chunked", zap.String("path", path), zap.Int("chunks", len(chunks)))
	return fc, nil
}

func (p *Pipeline) saveStage(stage, fileID string, items []models.RawDocument) {
	if err := p.cache.SaveIntermediate(stage, fileID, items); err != nil {
		p.logger.Warn("cannot cache stage", zap.String("stage", stage), zap.String("file_id", fileID), zap.Error(err))
	}
}

// embed returns the embedded passages that must be written to the store.
// Chunks of unchanged files already in the store are left out; chunks whose
// text matches the global embeddings cache reuse the cached vector.
func (p *Pipeline) embed(ctx context.Context, files []*fileChunks, store *vector.Store, res *RunResult) ([]models.Passage, error) {
	cached := make(map[string]models.Passage)
	for _, e := range p.cache.LoadPassages(cache.StageEmbeddings, "") {
		cached[e.ChunkID()] = e
	}

	var (
		out     []models.Passage
		pending []models.Passage
		current []models.Passage
	)
	for _, fc := range files {
		for _, ch := range fc.chunks {
			id := ch.ChunkID()
			if !fc.changed && store != nil {
				if stored, ok := store.Get(id); ok {
					current = append(current, stored)
					continue
				}
			}
			if e, ok := cached[id]; ok && e.Metadata.String(textHashKey) == ch.Metadata.String(textHashKey) && e.Metadata.Embedding() != nil {
				out = append(out, e)
				res.Reused++
				continue
			}
			pending = append(pending, ch)
		}
	}

	if len(pending) > 0 {
		fresh, err := p.embedder.Embed(ctx, models.FromPassages(pending))
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		res.Embedded = len(fresh)
		out = append(out, fresh...)
	}
	if len(out) > 0 {
		p.saveStage(cache.StageEmbeddings, "", models.FromPassages(append(current, out...)))
	}
	return out, nil
}

// index writes embedded passages into store, creating it when absent. Stale
// files and files that changed lose their previous passages first.
func (p *Pipeline) index(ctx context.Context, store *vector.Store, files []*fileChunks, stale []staleFile, embedded []models.Passage) (*vector.Store, error) {
	if store == nil {
		if len(embedded) == 0 {
			return nil, ErrNoDocuments
		}
		s, err := vector.Create(ctx, models.FromPassages(embedded), p.storeOpts...)
		if errors.Is(err, vector.ErrNoValidPassages) {
			return nil, ErrNoDocuments
		}
		if err != nil {
			return nil, fmt.Errorf("create store: %w", err)
		}
		return s, nil
	}

	for _, sf := range stale {
		n, err := store.RemoveWhere(ctx, models.KeyFileID, sf.fileID)
		if err != nil {
			return nil, fmt.Errorf("remove passages of %s: %w", sf.fileID, err)
		}
		p.logger.Info("passages of withdrawn file removed",
			zap.String("file_id", sf.fileID), zap.String("path", sf.path), zap.Int("removed", n))
	}
	for _, fc := range files {
		if !fc.changed {
			continue
		}
		if n, err := store.RemoveWhere(ctx, models.KeyFileID, fc.fileID); err != nil {
			return nil, fmt.Errorf("remove stale passages of %s: %w", fc.fileID, err)
		} else if n > 0 {
			p.logger.Debug("stale passages removed", zap.String("file_id", fc.fileID), zap.Int("removed", n))
		}
	}
	added, err := store.Append(ctx, models.FromPassages(embedded))
	if err != nil {
		return nil, fmt.Errorf("append to store: %w", err)
	}
	p.logger.Info("store updated", zap.Int("added", added), zap.Int("size", store.Len()))
	if store.Len() == 0 {
		return nil, ErrNoDocuments
	}
	return store, nil
}

// storedByFile groups the store's passages by file id.
func storedByFile(store *vector.Store) map[string][]models.Passage {
	out := make(map[string][]models.Passage)
	for _, ps := range store.Passages() {
		id := ps.Metadata.String(models.KeyFileID)
		out[id] = append(out[id], ps)
	}
	for _, ps := range out {
		sort.SliceStable(ps, func(i, j int) bool {
			return ps[i].Metadata.Int(models.KeyChunkIndex) < ps[j].Metadata.Int(models.KeyChunkIndex)
		})
	}
	return out
}

// syncCatalog mirrors changed files, and files the catalog does not know yet.
// Failures are logged; the vector store stays the source of truth.
func (p *Pipeline) syncCatalog(ctx context.Context, files []*fileChunks, store *vector.Store) {
	if p.catalog == nil {
		return
	}
	byFile := storedByFile(store)
	for _, fc := range files {
		if !fc.changed {
			if _, err := p.catalog.GetFile(ctx, fc.fileID); err == nil {
				continue
			}
		}
		hash := fc.hash
		if hash == "" {
			if rec, ok := p.cache.Record(fc.path); ok {
				hash = rec.ContentHash
			}
		}
		rec := storage.FileRecord{
			FileID:      fc.fileID,
			Path:        fc.path,
			ContentHash: hash,
			ProcessedAt: p.now().UTC(),
		}
		if err := p.catalog.UpsertFile(ctx, rec); err != nil {
			p.logger.Warn("catalog file upsert failed", zap.String("file_id", fc.fileID), zap.Error(err))
			continue
		}
		if err := p.catalog.ReplaceChunks(ctx, fc.fileID, byFile[fc.fileID]); err != nil {
			p.logger.Warn("catalog chunk replace failed", zap.String("file_id", fc.fileID), zap.Error(err))
		}
	}
}

// syncKeywords reindexes changed files. An empty keyword index is rebuilt
// from the whole store.
func (p *Pipeline) syncKeywords(ctx context.Context, files []*fileChunks, store *vector.Store) {
	if p.keywords == nil {
		return
	}
	full := false
	if n, err := p.keywords.DocCount(); err == nil && n == 0 {
		full = true
	}
	byFile := storedByFile(store)
	for _, fc := range files {
		if !fc.changed && !full {
			continue
		}
		if err := p.keywords.DeleteByFile(ctx, fc.fileID); err != nil {
			p.logger.Warn("keyword delete failed", zap.String("file_id", fc.fileID), zap.Error(err))
			continue
		}
		if err := p.keywords.IndexPassages(ctx, byFile[fc.fileID]); err != nil {
			p.logger.Warn("keyword indexing failed", zap.String("file_id", fc.fileID), zap.Error(err))
		}
	}
}

// staleFiles lists the files under root whose passages or records must go:
// recorded or stored files that the walk no longer found, and stored passages
// whose file id no longer matches their source path. Files outside root are
// left alone, since other watch roots share the store.
func (p *Pipeline) staleFiles(root string, walked []string, store *vector.Store) []staleFile {
	present := make(map[string]bool, len(walked))
	for _, path := range walked {
		present[filepath.Clean(path)] = true
	}
	seen := make(map[string]bool)
	var out []staleFile
	add := func(sf staleFile) {
		key := sf.fileID + "\x00" + sf.path
		if !seen[key] {
			seen[key] = true
			out = append(out, sf)
		}
	}

	for _, path := range p.cache.Paths() {
		if !underRoot(root, path) {
			continue
		}
		rec, _ := p.cache.Record(path)
		id, _ := rec.Metadata[models.KeyFileID].(string)
		switch {
		case !present[path]:
			if id == "" {
				id = fileid.FileID(path)
			}
			add(staleFile{fileID: id, path: path, gone: true})
		case id != "" && id != fileid.FileID(path):
			add(staleFile{fileID: id, path: path})
		}
	}
	if store != nil {
		for id, ps := range storedByFile(store) {
			source := ps[0].Metadata.String(sourcePathKey)
			if id == "" || source == "" {
				continue
			}
			source = filepath.Clean(source)
			if !underRoot(root, source) {
				continue
			}
			switch {
			case !present[source]:
				add(staleFile{fileID: id, path: source, gone: true})
			case fileid.FileID(source) != id:
				add(staleFile{fileID: id, path: source})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].fileID < out[j].fileID })
	return out
}

func underRoot(root, path string) bool {
	return path == root || strings.HasPrefix(path, root+string(os.PathSeparator))
}

// forget drops the cache records, stage files, catalog rows and keyword
// documents of stale files. Failures are logged.
func (p *Pipeline) forget(ctx context.Context, stale []staleFile) {
	for _, sf := range stale {
		if sf.gone {
			if err := p.cache.Forget(sf.path); err != nil {
				p.logger.Warn("cannot drop processed record", zap.String("path", sf.path), zap.Error(err))
			}
		}
		if _, err := p.cache.RemoveStages(sf.fileID); err != nil {
			p.logger.Warn("cannot remove stage files", zap.String("file_id", sf.fileID), zap.Error(err))
		}
		if p.catalog != nil {
			if err := p.catalog.DeleteFile(ctx, sf.fileID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				p.logger.Warn("catalog file delete failed", zap.String("file_id", sf.fileID), zap.Error(err))
			}
		}
		if p.keywords != nil {
			if err := p.keywords.DeleteByFile(ctx, sf.fileID); err != nil {
				p.logger.Warn("keyword delete failed", zap.String("file_id", sf.fileID), zap.Error(err))
			}
		}
	}
}
