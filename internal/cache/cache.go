// Package cache memoises pipeline work: a content-hash index of processed
// files and per-stage, per-file intermediate results stored as JSON.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fstsettat/formabot/internal/fileid"
	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/pkg/utils"
	"go.uber.org/zap"
)

const processedIndexName = "processed_files.json"

// Stage names used by the ingestion pipeline.
const (
	StageRawDocs     = "raw_docs"
	StageCleanedDocs = "cleaned_docs"
	StageChunks      = "chunks"
	StageEmbeddings  = "embeddings"
)

// ContentCache owns the processed-file records and the stage files for the
// duration of a pipeline run.
type ContentCache struct {
	dir       string
	logger    *zap.Logger
	mu        sync.Mutex
	processed map[string]models.ProcessedFileRecord
	now       func() time.Time
}

// Option configures a ContentCache.
type Option func(*ContentCache)

// WithLogger sets a logger for cache events.
func WithLogger(l *zap.Logger) Option {
	return func(c *ContentCache) { c.logger = l }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(c *ContentCache) { c.now = now }
}

// New opens (creating if needed) the cache rooted at dir and loads the
// processed-file index. A corrupt index is logged and treated as empty.
func New(dir string, opts ...Option) (*ContentCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	c := &ContentCache{dir: dir, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	c.processed = c.loadProcessed()
	return c, nil
}

// Dir returns the cache root.
func (c *ContentCache) Dir() string { return c.dir }

func (c *ContentCache) indexPath() string { return filepath.Join(c.dir, processedIndexName) }

func (c *ContentCache) loadProcessed() map[string]models.ProcessedFileRecord {
	records := map[string]models.ProcessedFileRecord{}
	data, err := os.ReadFile(c.indexPath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("cannot read processed index", zap.Error(err))
		}
		return records
	}
	if err := json.Unmarshal(data, &records); err != nil {
		c.logger.Warn("processed index is corrupt, starting empty", zap.Error(err))
		return map[string]models.ProcessedFileRecord{}
	}
	for path, rec := range records {
		rec.FilePath = path
		records[path] = rec
	}
	return records
}

// IsProcessed hashes the file and reports whether a record with the same hash exists.
func (c *ContentCache) IsProcessed(path string) (bool, error) {
	hash, err := fileid.ContentHash(path)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.processed[filepath.Clean(path)]
	return ok && rec.ContentHash == hash, nil
}

// Record returns the stored record for path, if any.
func (c *ContentCache) Record(path string) (models.ProcessedFileRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.processed[filepath.Clean(path)]
	return rec, ok
}

// MarkProcessed upserts the record for path with its current hash and persists
// the index immediately.
func (c *ContentCache) MarkProcessed(path string, metadata map[string]any) error {
	hash, err := fileid.ContentHash(path)
	if err != nil {
		return err
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	key := filepath.Clean(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.processed[key] = models.ProcessedFileRecord{
		FilePath:    key,
		ContentHash: hash,
		ProcessedAt: c.now().Format(time.RFC3339),
		Metadata:    metadata,
	}
	return c.saveProcessedLocked()
}

// Paths returns the recorded file paths in lexical order.
func (c *ContentCache) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	paths := make([]string, 0, len(c.processed))
	for p := range c.processed {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Forget drops the record for path and persists the index. Unknown paths are
// a no-op.
func (c *ContentCache) Forget(path string) error {
	key := filepath.Clean(path)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.processed[key]; !ok {
		return nil
	}
	delete(c.processed, key)
	return c.saveProcessedLocked()
}

// RemoveStages deletes the per-file stage files of fileID and returns how
// many were removed.
func (c *ContentCache) RemoveStages(fileID string) (int, error) {
	if fileID == "" {
		return 0, nil
	}
	removed := 0
	var errs []error
	for _, stage := range []string{StageRawDocs, StageCleanedDocs, StageChunks} {
		err := os.Remove(c.stagePath(stage, fileID))
		switch {
		case err == nil:
			removed++
		case !errors.Is(err, os.ErrNotExist):
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}

func (c *ContentCache) saveProcessedLocked() error {
	data, err := json.MarshalIndent(c.processed, "", "  ")
	if err != nil {
		return fmt.Errorf("encode processed index: %w", err)
	}
	if err := utils.WriteFileAtomic(c.indexPath(), data, 0644); err != nil {
		return fmt.Errorf("write processed index: %w", err)
	}
	return nil
}

func (c *ContentCache) stagePath(stage, fileID string) string {
	name := stage + ".json"
	if fileID != "" {
		name = fileID + "_" + stage + ".json"
	}
	return filepath.Join(c.dir, name)
}

// SaveIntermediate writes items for (stage, fileID). Empty items are skipped;
// when nothing remains no file is written. fileID may be empty for global stages.
func (c *ContentCache) SaveIntermediate(stage, fileID string, items []models.RawDocument) error {
	kept := make([]models.RawDocument, 0, len(items))
	for _, it := range items {
		if !it.Empty() {
			kept = append(kept, it)
		}
	}
	name := filepath.Base(c.stagePath(stage, fileID))
	if len(kept) == 0 {
		c.logger.Warn("no valid data to cache", zap.String("file", name))
		return nil
	}
	data, err := json.MarshalIndent(kept, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if err := utils.WriteFileAtomic(c.stagePath(stage, fileID), data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	c.logger.Debug("intermediate result cached", zap.String("file", name), zap.Int("items", len(kept)))
	return nil
}

// SavePassages is SaveIntermediate for passages.
func (c *ContentCache) SavePassages(stage, fileID string, ps []models.Passage) error {
	return c.SaveIntermediate(stage, fileID, models.FromPassages(ps))
}

// LoadIntermediate reads items for (stage, fileID). Missing or unreadable
// files yield an empty result; callers recompute the stage.
func (c *ContentCache) LoadIntermediate(stage, fileID string) []models.RawDocument {
	path := c.stagePath(stage, fileID)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("cannot read cache file", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	var items []models.RawDocument
	if err := json.Unmarshal(data, &items); err != nil {
		c.logger.Warn("cache file is corrupt, ignoring", zap.String("path", path), zap.Error(err))
		return nil
	}
	return items
}

// LoadPassages loads a stage and keeps only the items that coerce to passages.
func (c *ContentCache) LoadPassages(stage, fileID string) []models.Passage {
	items := c.LoadIntermediate(stage, fileID)
	out := make([]models.Passage, 0, len(items))
	for i, it := range items {
		p, derr := models.Coerce(it, i)
		if derr != nil {
			c.logger.Debug("skipping cached item", zap.String("stage", stage), zap.Error(derr))
			continue
		}
		out = append(out, p)
	}
	return out
}

// Clear removes cache artifacts. With olderThanDays nil everything goes,
// including the processed index; otherwise only files older than the cutoff.
func (c *ContentCache) Clear(olderThanDays *int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	var cutoff time.Time
	if olderThanDays != nil {
		cutoff = c.now().Add(-time.Duration(*olderThanDays) * 24 * time.Hour)
	}
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(c.dir, e.Name())
		if olderThanDays != nil {
			info, err := e.Info()
			if err != nil || !info.ModTime().Before(cutoff) {
				continue
			}
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		c.logger.Debug("cache file removed", zap.String("file", e.Name()))
		removed++
		if e.Name() == processedIndexName {
			c.processed = map[string]models.ProcessedFileRecord{}
		}
	}
	if olderThanDays == nil {
		c.processed = map[string]models.ProcessedFileRecord{}
	}
	c.logger.Info("cache cleared", zap.Int("removed", removed))
	return removed, nil
}

// Stats summarises the cache contents.
type Stats struct {
	ProcessedFiles int   `json:"processed_files"`
	StageFiles     int   `json:"stage_files"`
	TotalBytes     int64 `json:"total_bytes"`
}

// Stats counts processed records and stage files on disk.
func (c *ContentCache) Stats() (Stats, error) {
	c.mu.Lock()
	s := Stats{ProcessedFiles: len(c.processed)}
	c.mu.Unlock()
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return s, fmt.Errorf("read cache dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if info, err := e.Info(); err == nil {
			s.TotalBytes += info.Size()
		}
		if e.Name() != processedIndexName {
			s.StageFiles++
		}
	}
	return s, nil
}
