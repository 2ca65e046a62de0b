// Package storage mirrors ingested files and passages into a SQLite catalog.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/internal/retry"
)

// SQLiteCatalog implements Catalog using SQLite. Mutations retry with the
// insert policy and reads with the search policy.
type SQLiteCatalog struct {
	db       *sql.DB
	logger   *zap.Logger
	insert   retry.Policy
	search   retry.Policy
	retryOpt []retry.Option
	now      func() time.Time
}

// Option configures a SQLiteCatalog.
type Option func(*SQLiteCatalog)

// WithLogger sets the logger used for retried operations.
func WithLogger(l *zap.Logger) Option {
	return func(s *SQLiteCatalog) { s.logger = l }
}

// WithPolicies overrides retry.Insert and retry.Search.
func WithPolicies(insert, search retry.Policy) Option {
	return func(s *SQLiteCatalog) {
		s.insert = insert
		s.search = search
	}
}

// WithRetryOptions passes extra options to every retry.Do call.
func WithRetryOptions(opts ...retry.Option) Option {
	return func(s *SQLiteCatalog) { s.retryOpt = append(s.retryOpt, opts...) }
}

// NewSQLiteCatalog opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string, opts ...Option) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteCatalog{
		db:     db,
		logger: zap.NewNop(),
		insert: retry.Insert,
		search: retry.Search,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS files (
		file_id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		processed_at TIMESTAMP NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id TEXT PRIMARY KEY,
		file_id TEXT NOT NULL,
		formation_id TEXT NOT NULL,
		document_type TEXT,
		module_code TEXT,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		FOREIGN KEY (file_id) REFERENCES files(file_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id, chunk_index);
	CREATE INDEX IF NOT EXISTS idx_chunks_formation ON chunks(formation_id);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteCatalog) mutate(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	opts := append([]retry.Option{retry.WithLogger(s.logger), retry.WithName(name)}, s.retryOpt...)
	return retry.Do(ctx, s.insert, fn, opts...)
}

func (s *SQLiteCatalog) read(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	opts := append([]retry.Option{retry.WithLogger(s.logger), retry.WithName(name)}, s.retryOpt...)
	return retry.Do(ctx, s.search, fn, opts...)
}

// UpsertFile inserts or replaces a file record.
func (s *SQLiteCatalog) UpsertFile(ctx context.Context, rec FileRecord) error {
	if rec.ProcessedAt.IsZero() {
		rec.ProcessedAt = s.now()
	}
	return s.mutate(ctx, "upsert file", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO files (file_id, path, content_hash, chunk_count, processed_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(file_id) DO UPDATE SET
			   path = excluded.path,
			   content_hash = excluded.content_hash,
			   chunk_count = excluded.chunk_count,
			   processed_at = excluded.processed_at`,
			rec.FileID, rec.Path, rec.ContentHash, rec.ChunkCount, rec.ProcessedAt.UTC(),
		)
		return err
	})
}

// GetFile returns a file record by id.
func (s *SQLiteCatalog) GetFile(ctx context.Context, fileID string) (*FileRecord, error) {
	var rec FileRecord
	err := s.read(ctx, "get file", func(ctx context.Context) error {
		err := s.db.QueryRowContext(ctx,
			`SELECT file_id, path, content_hash, chunk_count, processed_at FROM files WHERE file_id = ?`, fileID,
		).Scan(&rec.FileID, &rec.Path, &rec.ContentHash, &rec.ChunkCount, &rec.ProcessedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return retry.Permanent(fmt.Errorf("file %s: %w", fileID, ErrNotFound))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListFiles returns file records ordered by path.
func (s *SQLiteCatalog) ListFiles(ctx context.Context, offset, limit int) ([]FileRecord, error) {
	var out []FileRecord
	err := s.read(ctx, "list files", func(ctx context.Context) error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT file_id, path, content_hash, chunk_count, processed_at
			 FROM files ORDER BY path LIMIT ? OFFSET ?`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var rec FileRecord
			if err := rows.Scan(&rec.FileID, &rec.Path, &rec.ContentHash, &rec.ChunkCount, &rec.ProcessedAt); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteFile removes a file and, by cascade, its chunks.
func (s *SQLiteCatalog) DeleteFile(ctx context.Context, fileID string) error {
	return s.mutate(ctx, "delete file", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, fileID)
		return err
	})
}

// ReplaceChunks swaps the chunks of fileID for passages in one transaction.
// The file row must exist. Embeddings are not stored.
func (s *SQLiteCatalog) ReplaceChunks(ctx context.Context, fileID string, passages []models.Passage) error {
	return s.mutate(ctx, "replace chunks", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO chunks (chunk_id, file_id, formation_id, document_type, module_code, chunk_index, content, metadata)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, p := range passages {
			meta, err := json.Marshal(p.Metadata.WithoutEmbedding())
			if err != nil {
				return retry.Permanent(fmt.Errorf("failed to marshal metadata: %w", err))
			}
			formation := p.Metadata.String(models.KeyFormationID)
			if formation == "" {
				formation = models.UnknownFormation
			}
			if _, err := stmt.ExecContext(ctx,
				p.ChunkID(), fileID, formation,
				p.Metadata.String(models.KeyDocumentType),
				p.Metadata.String(models.KeyModuleCode),
				p.Metadata.Int(models.KeyChunkIndex),
				p.Text, string(meta),
			); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE files SET chunk_count = ? WHERE file_id = ?`, len(passages), fileID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// GetChunk returns a chunk by id.
func (s *SQLiteCatalog) GetChunk(ctx context.Context, chunkID string) (*models.Passage, error) {
	var p models.Passage
	err := s.read(ctx, "get chunk", func(ctx context.Context) error {
		var meta string
		err := s.db.QueryRowContext(ctx,
			`SELECT chunk_id, content, metadata FROM chunks WHERE chunk_id = ?`, chunkID,
		).Scan(&p.ID, &p.Text, &meta)
		if errors.Is(err, sql.ErrNoRows) {
			return retry.Permanent(fmt.Errorf("chunk %s: %w", chunkID, ErrNotFound))
		}
		if err != nil {
			return err
		}
		p.Metadata, err = decodeMetadata(meta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ChunksByFile returns the chunks of a file ordered by chunk_index.
func (s *SQLiteCatalog) ChunksByFile(ctx context.Context, fileID string) ([]models.Passage, error) {
	return s.queryChunks(ctx, "chunks by file",
		`SELECT chunk_id, content, metadata FROM chunks WHERE file_id = ? ORDER BY chunk_index`, fileID)
}

// ChunksByFormation returns up to limit chunks of a formation. A non-positive
// limit returns them all.
func (s *SQLiteCatalog) ChunksByFormation(ctx context.Context, formationID string, limit int) ([]models.Passage, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryChunks(ctx, "chunks by formation",
		`SELECT chunk_id, content, metadata FROM chunks WHERE formation_id = ?
		 ORDER BY file_id, chunk_index LIMIT ?`, formationID, limit)
}

func (s *SQLiteCatalog) queryChunks(ctx context.Context, name, query string, args ...any) ([]models.Passage, error) {
	var out []models.Passage
	err := s.read(ctx, name, func(ctx context.Context) error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var p models.Passage
			var meta string
			if err := rows.Scan(&p.ID, &p.Text, &meta); err != nil {
				return err
			}
			if p.Metadata, err = decodeMetadata(meta); err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

func decodeMetadata(s string) (models.Metadata, error) {
	if s == "" {
		return models.Metadata{}, nil
	}
	m, err := models.DecodeMetadata([]byte(s))
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to unmarshal metadata: %w", err))
	}
	return m, nil
}

// Formations aggregates file and chunk counts and module codes per formation.
func (s *SQLiteCatalog) Formations(ctx context.Context) ([]FormationSummary, error) {
	var out []FormationSummary
	err := s.read(ctx, "formations", func(ctx context.Context) error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT formation_id, COUNT(DISTINCT file_id), COUNT(*),
			        COALESCE(GROUP_CONCAT(DISTINCT NULLIF(module_code, '')), '')
			 FROM chunks GROUP BY formation_id ORDER BY formation_id`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var f FormationSummary
			var modules string
			if err := rows.Scan(&f.FormationID, &f.Files, &f.Chunks, &modules); err != nil {
				return err
			}
			if modules != "" {
				f.Modules = strings.Split(modules, ",")
				sort.Strings(f.Modules)
			}
			out = append(out, f)
		}
		return rows.Err()
	})
	return out, err
}

// CountFiles returns the number of files.
func (s *SQLiteCatalog) CountFiles(ctx context.Context) (int64, error) {
	var count int64
	err := s.read(ctx, "count files", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files`).Scan(&count)
	})
	return count, err
}

// CountChunks returns the number of chunks.
func (s *SQLiteCatalog) CountChunks(ctx context.Context) (int64, error) {
	var count int64
	err := s.read(ctx, "count chunks", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	})
	return count, err
}

// Close closes the database connection.
func (s *SQLiteCatalog) Close() error {
	return s.db.Close()
}
