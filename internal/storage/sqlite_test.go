package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/internal/retry"
	"go.uber.org/zap"
)

func newTestCatalog(t *testing.T) *SQLiteCatalog {
	t.Helper()
	noWait := retry.Policy{MaxAttempts: 2}
	c, err := NewSQLiteCatalog(filepath.Join(t.TempDir(), "catalog.db"),
		WithLogger(zap.NewNop()),
		WithPolicies(noWait, noWait),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func passage(id, formation, module string, index int) models.Passage {
	return models.Passage{
		ID:   id,
		Text: "contenu " + id,
		Metadata: models.Metadata{
			models.KeyChunkID:     id,
			models.KeySource:      "/data/x.pdf",
			models.KeyFormationID: formation,
			models.KeyModuleCode:  module,
			models.KeyChunkIndex:  index,
			models.KeyEmbedding:   []float32{0.1, 0.2},
		},
	}
}

func TestSQLiteCatalog_Files(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	at := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

	rec := FileRecord{FileID: "rsi", Path: "/data/rsi.pdf", ContentHash: "abc", ProcessedAt: at}
	if err := c.UpsertFile(ctx, rec); err != nil {
		t.Fatal(err)
	}
	rec.ContentHash = "def"
	if err := c.UpsertFile(ctx, rec); err != nil {
		t.Fatal(err)
	}

	got, err := c.GetFile(ctx, "rsi")
	if err != nil {
		t.Fatal(err)
	}
	if got.ContentHash != "def" {
		t.Errorf("ContentHash = %q, want def", got.ContentHash)
	}
	if !got.ProcessedAt.Equal(at) {
		t.Errorf("ProcessedAt = %v, want %v", got.ProcessedAt, at)
	}

	list, err := c.ListFiles(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("got %d files, want 1", len(list))
	}

	if _, err := c.GetFile(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFile(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteCatalog_ReplaceChunks(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	_ = c.UpsertFile(ctx, FileRecord{FileID: "rsi", Path: "/data/rsi.pdf", ContentHash: "h"})

	first := []models.Passage{
		passage("rsi_chunk_0", "MST_RSI", "M1", 0),
		passage("rsi_chunk_1", "MST_RSI", "M2", 1),
		passage("rsi_chunk_2", "MST_RSI", "", 2),
	}
	if err := c.ReplaceChunks(ctx, "rsi", first); err != nil {
		t.Fatal(err)
	}
	if err := c.ReplaceChunks(ctx, "rsi", first[:2]); err != nil {
		t.Fatal(err)
	}

	chunks, err := c.ChunksByFile(ctx, "rsi")
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[1].ID != "rsi_chunk_1" {
		t.Errorf("chunks[1] = %s, want rsi_chunk_1", chunks[1].ID)
	}
	if chunks[0].Metadata.Has(models.KeyEmbedding) {
		t.Error("embedding should not be stored in the catalog")
	}
	if got := chunks[1].Metadata.Int(models.KeyChunkIndex); got != 1 {
		t.Errorf("chunk_index = %d, want 1", got)
	}

	rec, _ := c.GetFile(ctx, "rsi")
	if rec.ChunkCount != 2 {
		t.Errorf("ChunkCount = %d, want 2", rec.ChunkCount)
	}

	one, err := c.GetChunk(ctx, "rsi_chunk_0")
	if err != nil {
		t.Fatal(err)
	}
	if one.Text != "contenu rsi_chunk_0" {
		t.Errorf("Text = %q", one.Text)
	}
	if _, err := c.GetChunk(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetChunk(nope) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteCatalog_FormationsAndCounts(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	_ = c.UpsertFile(ctx, FileRecord{FileID: "a", Path: "/a.pdf", ContentHash: "1"})
	_ = c.UpsertFile(ctx, FileRecord{FileID: "b", Path: "/b.pdf", ContentHash: "2"})
	_ = c.ReplaceChunks(ctx, "a", []models.Passage{
		passage("a_chunk_0", "MST_RSI", "M2", 0),
		passage("a_chunk_1", "MST_RSI", "M1", 1),
	})
	_ = c.ReplaceChunks(ctx, "b", []models.Passage{
		passage("b_chunk_0", "MST_RSI", "M1", 0),
		passage("b_chunk_1", "MST_GL", "", 1),
	})

	forms, err := c.Formations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(forms) != 2 {
		t.Fatalf("got %d formations, want 2", len(forms))
	}
	rsi := forms[1]
	if rsi.FormationID != "MST_RSI" || rsi.Files != 2 || rsi.Chunks != 3 {
		t.Errorf("MST_RSI summary = %+v", rsi)
	}
	if len(rsi.Modules) != 2 || rsi.Modules[0] != "M1" {
		t.Errorf("MST_RSI modules = %v, want [M1 M2]", rsi.Modules)
	}

	byFormation, err := c.ChunksByFormation(ctx, "MST_RSI", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(byFormation) != 2 {
		t.Errorf("ChunksByFormation limit 2 returned %d", len(byFormation))
	}

	if err := c.DeleteFile(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	files, _ := c.CountFiles(ctx)
	chunks, _ := c.CountChunks(ctx)
	if files != 1 || chunks != 2 {
		t.Errorf("after delete files=%d chunks=%d, want 1 and 2", files, chunks)
	}
}

func TestSQLiteCatalog_ReplaceChunksNeedsFile(t *testing.T) {
	c := newTestCatalog(t)
	err := c.ReplaceChunks(context.Background(), "ghost", []models.Passage{passage("g_0", "X", "", 0)})
	if !errors.Is(err, retry.ErrExhausted) {
		t.Errorf("error = %v, want ErrExhausted from the foreign key failure", err)
	}
}
