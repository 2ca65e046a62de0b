package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fstsettat/formabot/internal/cache"
	"github.com/fstsettat/formabot/internal/cleaner"
	"github.com/fstsettat/formabot/internal/embedding"
	"github.com/fstsettat/formabot/internal/extract"
	"github.com/fstsettat/formabot/internal/fileid"
	"github.com/fstsettat/formabot/internal/keyword"
	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/internal/retry"
	"github.com/fstsettat/formabot/internal/storage"
	"github.com/fstsettat/formabot/internal/vector"
)

func TestExtensionAllowed(t *testing.T) {
	tests := []struct {
		ext     string
		allowed []string
		want    bool
	}{
		{".txt", []string{".txt", ".md"}, true},
		{".TXT", []string{".txt"}, true},
		{".md", []string{"txt", "md"}, true},
		{".go", []string{".txt"}, false},
		{"", []string{".txt"}, false},
		{".pdf", []string{".txt", ".md", ".pdf"}, true},
	}
	for _, tt := range tests {
		got := extensionAllowed(tt.ext, tt.allowed)
		if got != tt.want {
			t.Errorf("extensionAllowed(%q, %v) = %v, want %v", tt.ext, tt.allowed, got, tt.want)
		}
	}
}

// countingEmbedder counts the passages sent for embedding.
type countingEmbedder struct {
	inner *embedding.PassageEmbedder
	calls int
	docs  int
}

func (c *countingEmbedder) Embed(ctx context.Context, docs []models.RawDocument) ([]models.Passage, error) {
	c.calls++
	c.docs += len(docs)
	return c.inner.Embed(ctx, docs)
}

type testEnv struct {
	docs     string
	storeDir string
	cache    *cache.ContentCache
	embedder *countingEmbedder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	c, err := cache.New(filepath.Join(root, "cache"), cache.WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatal(err)
	}
	env := &testEnv{
		docs:     filepath.Join(root, "docs"),
		storeDir: filepath.Join(root, "store"),
		cache:    c,
		embedder: &countingEmbedder{inner: embedding.NewPassageEmbedder(embedding.NewMockEmbedder(16), nil)},
	}
	if err := os.MkdirAll(env.docs, 0755); err != nil {
		t.Fatal(err)
	}
	return env
}

func (e *testEnv) pipeline(t *testing.T, opts ...PipelineOption) *Pipeline {
	t.Helper()
	cl, err := cleaner.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	opts = append([]PipelineOption{WithLogger(zap.NewNop()), WithExtensions([]string{".txt", ".md"})}, opts...)
	return NewPipeline(extract.NewExtractor(), cl, testChunker(t, 120, 20), e.embedder, e.cache, e.storeDir, opts...)
}

func (e *testEnv) write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.docs, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const rsiText = `Master Réseaux et Systèmes Informatiques

Objectifs: former des ingénieurs capables de concevoir et administrer des réseaux.

Module M1 : Architecture des réseaux
Semestre 1

Module M2 : Sécurité des systèmes
Semestre 2

Conditions d'admission: licence en informatique, étude du dossier et entretien.`

const glText = `Master Génie Logiciel

Programme: conception orientée objet, tests, méthodes agiles, gestion de projet logiciel.`

func storeIDs(t *testing.T, dir string) []string {
	t.Helper()
	s, err := vector.Load(dir)
	if err != nil || s == nil {
		t.Fatalf("Load: %v, %v", s, err)
	}
	defer s.Close()
	var ids []string
	for _, p := range s.Passages() {
		ids = append(ids, p.ChunkID())
	}
	return ids
}

func TestPipeline_Run(t *testing.T) {
	env := newTestEnv(t)
	rsiID := fileid.FileID(env.write(t, "MST_RSI_FST.txt", rsiText))
	env.write(t, "notes.bin", "ignored")

	res, err := env.pipeline(t).Run(context.Background(), env.docs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Files != 1 || res.Processed != 1 || res.Failed != 0 {
		t.Errorf("result = %+v, want 1 file processed", res)
	}
	if res.Chunks < 2 {
		t.Fatalf("got %d chunks, want at least 2", res.Chunks)
	}
	if res.StoreSize != res.Chunks || res.Embedded != res.Chunks {
		t.Errorf("store_size=%d embedded=%d, want %d", res.StoreSize, res.Embedded, res.Chunks)
	}

	s, err := vector.Load(env.storeDir)
	if err != nil || s == nil {
		t.Fatalf("Load: %v", err)
	}
	defer s.Close()
	for i, p := range s.Passages() {
		m := p.Metadata
		want := rsiID + "_chunk_" + strconv.Itoa(i)
		if p.ChunkID() != want {
			t.Errorf("chunk_id = %q, want %q", p.ChunkID(), want)
		}
		if m.Int(models.KeyChunkIndex) != i || m.Int(models.KeyTotalChunks) != res.Chunks {
			t.Errorf("chunk %d index=%d total=%d", i, m.Int(models.KeyChunkIndex), m.Int(models.KeyTotalChunks))
		}
		if m.String(models.KeyFormationID) != "MST_RSI" {
			t.Errorf("formation_id = %q, want MST_RSI", m.String(models.KeyFormationID))
		}
		if m.String(models.KeyFileID) != rsiID {
			t.Errorf("file_id = %q", m.String(models.KeyFileID))
		}
		if len(m.Embedding()) != 16 {
			t.Errorf("embedding length = %d, want 16", len(m.Embedding()))
		}
	}

	for _, stage := range []string{cache.StageRawDocs, cache.StageCleanedDocs, cache.StageChunks} {
		if got := env.cache.LoadIntermediate(stage, rsiID); len(got) == 0 {
			t.Errorf("stage %s not cached", stage)
		}
	}
	if got := env.cache.LoadIntermediate(cache.StageEmbeddings, ""); len(got) != res.Chunks {
		t.Errorf("embeddings stage has %d items, want %d", len(got), res.Chunks)
	}
	if _, err := os.Stat(filepath.Join(env.storeDir, LockFileName)); !os.IsNotExist(err) {
		t.Error("lock file should be released after the run")
	}
}

func TestPipeline_Idempotent(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "MST_RSI_FST.txt", rsiText)
	p := env.pipeline(t)

	first, err := p.Run(context.Background(), env.docs)
	if err != nil {
		t.Fatal(err)
	}
	firstIDs := storeIDs(t, env.storeDir)
	callsAfterFirst := env.embedder.calls

	second, err := p.Run(context.Background(), env.docs)
	if err != nil {
		t.Fatal(err)
	}
	if second.Cached != 1 || second.Processed != 0 {
		t.Errorf("second run = %+v, want the file served from cache", second)
	}
	if second.Chunks != first.Chunks {
		t.Errorf("second run chunks = %d, want %d", second.Chunks, first.Chunks)
	}
	if env.embedder.calls != callsAfterFirst {
		t.Errorf("second run embedded again (%d calls, want %d)", env.embedder.calls, callsAfterFirst)
	}
	secondIDs := storeIDs(t, env.storeDir)
	if strings.Join(firstIDs, ",") != strings.Join(secondIDs, ",") {
		t.Errorf("ids changed:\n got %v\nwant %v", secondIDs, firstIDs)
	}
}

func TestPipeline_ChangedFileReplacesItsPassages(t *testing.T) {
	env := newTestEnv(t)
	rsi := env.write(t, "MST_RSI_FST.txt", rsiText)
	gl := env.write(t, "MST_GL_FST.md", glText)
	p := env.pipeline(t)
	if _, err := p.Run(context.Background(), env.docs); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(rsi, []byte("Master RSI: nouveau programme de cybersecurite."), 0644); err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(context.Background(), env.docs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Processed != 1 || res.Cached != 1 {
		t.Errorf("result = %+v, want one processed and one cached", res)
	}

	s, _ := vector.Load(env.storeDir)
	defer s.Close()
	var rsiCount, glCount int
	for _, ps := range s.Passages() {
		switch ps.Metadata.String(models.KeyFileID) {
		case fileid.FileID(rsi):
			rsiCount++
			if !strings.Contains(ps.Text, "cybersecurite") {
				t.Errorf("stale RSI passage kept: %q", ps.Text)
			}
		case fileid.FileID(gl):
			glCount++
		}
	}
	if rsiCount != 1 || glCount == 0 {
		t.Errorf("rsi=%d gl=%d, want 1 and >0", rsiCount, glCount)
	}
}

func TestPipeline_ReusesCachedEmbeddings(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "MST_GL_FST.md", glText)
	p := env.pipeline(t)
	first, err := p.Run(context.Background(), env.docs)
	if err != nil {
		t.Fatal(err)
	}

	if err := vector.RemoveFiles(env.storeDir); err != nil {
		t.Fatal(err)
	}
	docs := env.embedder.docs
	second, err := p.Run(context.Background(), env.docs)
	if err != nil {
		t.Fatal(err)
	}
	if second.Reused != first.Chunks || env.embedder.docs != docs {
		t.Errorf("reused=%d embedded docs +%d, want %d reused and nothing embedded", second.Reused, env.embedder.docs-docs, first.Chunks)
	}
	if second.StoreSize != first.StoreSize {
		t.Errorf("store size = %d, want %d", second.StoreSize, first.StoreSize)
	}
}

func TestPipeline_FailedFileIsIsolated(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "MST_GL_FST.md", glText)
	env.write(t, "empty.txt", "   ")

	res, err := env.pipeline(t).Run(context.Background(), env.docs)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Failed != 1 || len(res.Errors) != 1 || res.Processed != 1 {
		t.Errorf("result = %+v, want one failure and one processed file", res)
	}
}

func TestPipeline_NoDocuments(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "empty.txt", "")
	_, err := env.pipeline(t).Run(context.Background(), env.docs)
	if !errors.Is(err, ErrNoDocuments) {
		t.Errorf("error = %v, want ErrNoDocuments", err)
	}
}

func TestPipeline_Locked(t *testing.T) {
	env := newTestEnv(t)
	env.write(t, "MST_GL_FST.md", glText)
	if err := os.MkdirAll(env.storeDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(env.storeDir, LockFileName), nil, 0644); err != nil {
		t.Fatal(err)
	}
	_, err := env.pipeline(t).Run(context.Background(), env.docs)
	if !errors.Is(err, ErrLocked) {
		t.Errorf("error = %v, want ErrLocked", err)
	}
}

func TestPipeline_SecondaryIndexes(t *testing.T) {
	env := newTestEnv(t)
	rsi := env.write(t, "MST_RSI_FST.txt", rsiText)
	env.write(t, "MST_GL_FST.md", glText)

	root := t.TempDir()
	noWait := retry.Policy{MaxAttempts: 1}
	catalog, err := storage.NewSQLiteCatalog(filepath.Join(root, "catalog.db"), storage.WithPolicies(noWait, noWait))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = catalog.Close() })
	kw, err := keyword.NewBleveIndex(filepath.Join(root, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })

	p := env.pipeline(t, WithCatalog(catalog), WithKeywordIndex(kw))
	res, err := p.Run(context.Background(), env.docs)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if n, _ := catalog.CountChunks(ctx); int(n) != res.StoreSize {
		t.Errorf("catalog chunks = %d, want %d", n, res.StoreSize)
	}
	if n, _ := catalog.CountFiles(ctx); n != 2 {
		t.Errorf("catalog files = %d, want 2", n)
	}
	if n, _ := kw.DocCount(); int(n) != res.StoreSize {
		t.Errorf("keyword docs = %d, want %d", n, res.StoreSize)
	}
	hits, err := kw.Search(ctx, "admission", 5, nil)
	if err != nil || len(hits) == 0 {
		t.Fatalf("keyword search = %v, %v", hits, err)
	}
	if !strings.HasPrefix(hits[0].ID, fileid.FileID(rsi)+"_chunk_") {
		t.Errorf("top hit = %s, want an RSI chunk", hits[0].ID)
	}
}

func passagesByFile(t *testing.T, dir string) map[string][]models.Passage {
	t.Helper()
	s, err := vector.Load(dir)
	if err != nil || s == nil {
		t.Fatalf("Load: %v, %v", s, err)
	}
	defer s.Close()
	return storedByFile(s)
}

func TestPipeline_SameStemFilesKeepSeparatePassages(t *testing.T) {
	env := newTestEnv(t)
	md := env.write(t, "MST_RSI_FST.md", rsiText)
	txt := env.write(t, "MST_RSI_FST.txt", glText)
	if err := os.MkdirAll(filepath.Join(env.docs, "2024"), 0755); err != nil {
		t.Fatal(err)
	}
	sub := env.write(t, filepath.Join("2024", "MST_RSI_FST.txt"), "Master RSI 2024: calendrier des inscriptions en septembre.")
	p := env.pipeline(t)

	first, err := p.Run(context.Background(), env.docs)
	if err != nil {
		t.Fatal(err)
	}
	if first.Processed != 3 || first.StoreSize != first.Chunks {
		t.Fatalf("result = %+v, want 3 files processed and every chunk stored", first)
	}
	byFile := passagesByFile(t, env.storeDir)
	for _, path := range []string{md, txt, sub} {
		if len(byFile[fileid.FileID(path)]) == 0 {
			t.Errorf("no passages stored for %s", path)
		}
	}

	// Editing one file must not touch its same-stem siblings.
	if err := os.WriteFile(txt, []byte("Master Génie Logiciel: nouvelle maquette."), 0644); err != nil {
		t.Fatal(err)
	}
	second, err := p.Run(context.Background(), env.docs)
	if err != nil {
		t.Fatal(err)
	}
	if second.Processed != 1 || second.Cached != 2 {
		t.Errorf("second run = %+v, want one processed and two cached", second)
	}
	after := passagesByFile(t, env.storeDir)
	if got, want := len(after[fileid.FileID(md)]), len(byFile[fileid.FileID(md)]); got != want {
		t.Errorf("sibling .md passages = %d, want %d", got, want)
	}
	if len(after[fileid.FileID(sub)]) == 0 {
		t.Error("subdirectory sibling lost its passages")
	}
	for _, ps := range after[fileid.FileID(txt)] {
		if !strings.Contains(ps.Text, "maquette") {
			t.Errorf("stale .txt passage kept: %q", ps.Text)
		}
	}
	if got := env.cache.LoadPassages(cache.StageChunks, fileid.FileID(md)); len(got) == 0 || !strings.Contains(got[0].Text, "Informatiques") {
		t.Errorf("chunk cache of the .md file was overwritten: %v", got)
	}
}

func TestPipeline_DeletedFileIsPruned(t *testing.T) {
	env := newTestEnv(t)
	rsi := env.write(t, "MST_RSI_FST.txt", rsiText)
	gl := env.write(t, "MST_GL_FST.md", glText)

	root := t.TempDir()
	noWait := retry.Policy{MaxAttempts: 1}
	catalog, err := storage.NewSQLiteCatalog(filepath.Join(root, "catalog.db"), storage.WithPolicies(noWait, noWait))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = catalog.Close() })
	kw, err := keyword.NewBleveIndex(filepath.Join(root, "bleve"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = kw.Close() })

	p := env.pipeline(t, WithCatalog(catalog), WithKeywordIndex(kw))
	ctx := context.Background()
	if _, err := p.Run(ctx, env.docs); err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(rsi); err != nil {
		t.Fatal(err)
	}
	res, err := p.Run(ctx, env.docs)
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 1 || res.Cached != 1 {
		t.Errorf("result = %+v, want one removed and one cached", res)
	}

	rsiID, glID := fileid.FileID(rsi), fileid.FileID(gl)
	byFile := passagesByFile(t, env.storeDir)
	if len(byFile[rsiID]) != 0 {
		t.Errorf("deleted file still has %d passages", len(byFile[rsiID]))
	}
	if len(byFile[glID]) == 0 || res.StoreSize != len(byFile[glID]) {
		t.Errorf("store size = %d, want only the %d GL passages", res.StoreSize, len(byFile[glID]))
	}
	if _, ok := env.cache.Record(rsi); ok {
		t.Error("processed record of the deleted file was kept")
	}
	if got := env.cache.LoadPassages(cache.StageChunks, rsiID); len(got) != 0 {
		t.Errorf("chunk cache of the deleted file was kept: %d items", len(got))
	}
	if _, err := catalog.GetFile(ctx, rsiID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("catalog file lookup = %v, want ErrNotFound", err)
	}
	if n, _ := catalog.CountChunks(ctx); int(n) != res.StoreSize {
		t.Errorf("catalog chunks = %d, want %d", n, res.StoreSize)
	}
	if n, _ := kw.DocCount(); int(n) != res.StoreSize {
		t.Errorf("keyword docs = %d, want %d", n, res.StoreSize)
	}
}

func TestPipeline_DeletingEveryFileDropsTheStore(t *testing.T) {
	env := newTestEnv(t)
	gl := env.write(t, "MST_GL_FST.md", glText)
	p := env.pipeline(t)
	if _, err := p.Run(context.Background(), env.docs); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(gl); err != nil {
		t.Fatal(err)
	}
	_, err := p.Run(context.Background(), env.docs)
	if !errors.Is(err, ErrNoDocuments) {
		t.Fatalf("error = %v, want ErrNoDocuments", err)
	}
	if vector.Exists(env.storeDir) {
		t.Error("store files of withdrawn documents were kept")
	}
	if got := env.cache.Paths(); len(got) != 0 {
		t.Errorf("processed records = %v, want none", got)
	}
}

func TestPipeline_PruneStaysUnderRoot(t *testing.T) {
	env := newTestEnv(t)
	if err := os.MkdirAll(filepath.Join(env.docs, "rsi"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(env.docs, "gl"), 0755); err != nil {
		t.Fatal(err)
	}
	env.write(t, filepath.Join("rsi", "MST_RSI_FST.txt"), rsiText)
	gl := env.write(t, filepath.Join("gl", "MST_GL_FST.md"), glText)
	p := env.pipeline(t)
	if _, err := p.Run(context.Background(), env.docs); err != nil {
		t.Fatal(err)
	}

	res, err := p.Run(context.Background(), filepath.Join(env.docs, "rsi"))
	if err != nil {
		t.Fatal(err)
	}
	if res.Removed != 0 {
		t.Errorf("removed = %d, want 0 for files outside the walked folder", res.Removed)
	}
	if len(passagesByFile(t, env.storeDir)[fileid.FileID(gl)]) == 0 {
		t.Error("passages of a file outside the walked folder were removed")
	}
}
