// Package storage defines the relational catalog that mirrors ingested files
// and passages, and disk usage helpers for the data directories.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fstsettat/formabot/internal/models"
)

// ErrNotFound is returned when a file or chunk is not in the catalog.
var ErrNotFound = errors.New("not found")

// FileRecord is one ingested source file.
type FileRecord struct {
	FileID      string    `json:"file_id"`
	Path        string    `json:"path"`
	ContentHash string    `json:"content_hash"`
	ChunkCount  int       `json:"chunk_count"`
	ProcessedAt time.Time `json:"processed_at"`
}

// FormationSummary aggregates the catalog per formation.
type FormationSummary struct {
	FormationID string   `json:"formation_id"`
	Files       int      `json:"files"`
	Chunks      int      `json:"chunks"`
	Modules     []string `json:"modules,omitempty"`
}

// Catalog mirrors files and passages for inspection and reporting. The vector
// store stays the source of truth for retrieval.
type Catalog interface {
	// File operations
	UpsertFile(ctx context.Context, rec FileRecord) error
	GetFile(ctx context.Context, fileID string) (*FileRecord, error)
	ListFiles(ctx context.Context, offset, limit int) ([]FileRecord, error)
	DeleteFile(ctx context.Context, fileID string) error

	// Chunk operations
	ReplaceChunks(ctx context.Context, fileID string, passages []models.Passage) error
	GetChunk(ctx context.Context, chunkID string) (*models.Passage, error)
	ChunksByFile(ctx context.Context, fileID string) ([]models.Passage, error)
	ChunksByFormation(ctx context.Context, formationID string, limit int) ([]models.Passage, error)

	// Stats
	Formations(ctx context.Context) ([]FormationSummary, error)
	CountFiles(ctx context.Context) (int64, error)
	CountChunks(ctx context.Context) (int64, error)

	Close() error
}
