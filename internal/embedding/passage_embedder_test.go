package embedding

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fstsettat/formabot/internal/config"
	"github.com/fstsettat/formabot/internal/models"
	"go.uber.org/zap"
)

type failingEmbedder struct {
	*MockEmbedder
	failFrom int
	calls    int
}

func (f *failingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.calls >= f.failFrom {
		return nil, errors.New("model unavailable")
	}
	return f.MockEmbedder.EmbedBatch(ctx, texts)
}

func testPassageEmbedder(e Embedder, opts ...PassageOption) *PassageEmbedder {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	opts = append([]PassageOption{WithLogger(zap.NewNop()), WithClock(func() time.Time { return fixed })}, opts...)
	return NewPassageEmbedder(e, config.DefaultDomainKeywords(), opts...)
}

func TestSummary(t *testing.T) {
	meta := models.Metadata{
		"formation_name":        "Réseaux et Systèmes Informatiques",
		"credits":               120,
		"responsables":          []any{map[string]any{"nom": "A. Alaoui"}, map[string]any{"nom": "B. Bennani"}},
		models.KeySemester:      "2",
		models.KeySectionType:   "objectifs",
		models.KeyFormationID:   "MST_RSI",
		models.KeyChunkID:       "rsi_chunk_0",
		models.KeyModuleCode:    "",
		"unrelated_passthrough": "x",
	}
	want := "FORMATION: Réseaux et Systèmes Informatiques || CREDITS: 120 ECTS || RESPONSABLES: A. Alaoui, B. Bennani || SEMESTRE: 2 || SECTION: OBJECTIFS || ID_FORMATION: MST_RSI || ID_CHUNK: rsi_chunk_0"
	if got := Summary(meta); got != want {
		t.Errorf("got %q\nwant %q", got, want)
	}
	if got := Augment("texte", models.Metadata{}); got != "texte" {
		t.Errorf("no fields should leave text unchanged, got %q", got)
	}
	if got := Augment("texte", models.Metadata{models.KeyFormationID: "MST_GL"}); got != "ID_FORMATION: MST_GL\n\ntexte" {
		t.Errorf("got %q", got)
	}
}

func TestFormatResponsables(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"strings", []any{"A", "B"}, "A, B"},
		{"typed strings", []string{"A"}, "A"},
		{"maps", []any{map[string]any{"nom": "A"}, map[string]any{"role": "x"}}, "A"},
		{"mixed", []any{"A", map[string]any{"nom": "B"}}, ""},
		{"scalar", "A", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatResponsables(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPassageEmbedder_Embed(t *testing.T) {
	p := testPassageEmbedder(NewMockEmbedder(16))
	docs := []models.RawDocument{
		models.FromPassage(models.Passage{
			Text:     "Programme du master",
			Metadata: models.Metadata{models.KeySource: "MST_RSI_FST.pdf", models.KeyChunkID: "rsi_chunk_0"},
		}),
		models.FromFields(map[string]any{"text": "Contenu libre", "filename": "MST_GL_FST_Settat.docx"}),
		models.FromString("une chaine"),
		models.FromFields(map[string]any{"title": "sans texte"}),
	}
	out, err := p.Embed(context.Background(), docs)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("got %d passages, want 3 (invalid dict skipped)", len(out))
	}

	first := out[0].Metadata
	if got := first.String(models.KeyFormationID); got != "MST_RSI" {
		t.Errorf("formation from filename got %q, want MST_RSI", got)
	}
	if !strings.HasPrefix(out[0].Text, "ID_FORMATION: MST_RSI || ID_CHUNK: rsi_chunk_0\n\n") {
		t.Errorf("text should be augmented, got %q", out[0].Text)
	}
	if got := first.String(models.KeyEmbeddingGeneratedAt); got != "2025-01-02T03:04:05Z" {
		t.Errorf("embedding_generated_at got %q", got)
	}
	if got := first.String(models.KeyEmbeddingModel); got != "mock" {
		t.Errorf("embedding_model got %q", got)
	}
	if !first.Bool(models.KeyEmbeddingBoosted) {
		t.Error("text mentioning master and mst should be boosted")
	}
	if len(first.Embedding()) != 16 {
		t.Errorf("embedding length got %d, want 16", len(first.Embedding()))
	}

	second := out[1].Metadata
	if got := second.String(models.KeySource); got != "MST_GL_FST_Settat.docx" {
		t.Errorf("source from filename got %q", got)
	}
	if got := second.String(models.KeyChunkID); !strings.HasPrefix(got, "doc_1_") || len(got) != len("doc_1_")+8 {
		t.Errorf("backfilled chunk_id got %q", got)
	}

	third := out[2].Metadata
	if got := third.String(models.KeySource); got != "converted_string_2" {
		t.Errorf("string source got %q", got)
	}
	if got := third.String(models.KeyFormationID); got != models.UnknownFormation {
		t.Errorf("string formation got %q", got)
	}
}

func TestPassageEmbedder_BackfillIsDeterministic(t *testing.T) {
	p := testPassageEmbedder(NewMockEmbedder(8))
	docs := []models.RawDocument{models.FromFields(map[string]any{"page_content": "même texte"})}
	a, _ := p.Embed(context.Background(), docs)
	b, _ := p.Embed(context.Background(), docs)
	if a[0].ChunkID() != b[0].ChunkID() {
		t.Errorf("chunk ids differ: %q vs %q", a[0].ChunkID(), b[0].ChunkID())
	}
	if got := a[0].Metadata.String(models.KeySource); got != "document_0" {
		t.Errorf("source got %q, want document_0", got)
	}
}

func TestPassageEmbedder_FailedBatchGetsZeroVectors(t *testing.T) {
	e := &failingEmbedder{MockEmbedder: NewMockEmbedder(4), failFrom: 2}
	p := testPassageEmbedder(e, WithBatchSize(2))
	var docs []models.RawDocument
	for i := 0; i < 5; i++ {
		docs = append(docs, models.FromString("texte numero "+string(rune('a'+i))))
	}
	out, err := p.Embed(context.Background(), docs)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if e.calls != 3 {
		t.Errorf("batches got %d, want 3", e.calls)
	}
	for i, ps := range out {
		vec := ps.Metadata.Embedding()
		zero := true
		for _, v := range vec {
			if v != 0 {
				zero = false
			}
		}
		if len(vec) != 4 {
			t.Errorf("passage %d vector length %d, want 4", i, len(vec))
		}
		if wantZero := i >= 2; zero != wantZero {
			t.Errorf("passage %d zero vector got %v, want %v", i, zero, wantZero)
		}
	}
}

func TestPassageEmbedder_EmbedQueryBoosts(t *testing.T) {
	p := testPassageEmbedder(NewMockEmbedder(16))
	q, err := p.EmbedQuery(context.Background(), "programme du master")
	if err != nil {
		t.Fatal(err)
	}
	if len(q) != 16 {
		t.Errorf("query length got %d", len(q))
	}
}

func TestSimilaritySearch(t *testing.T) {
	mk := func(id string, vec []float32) models.Passage {
		return models.Passage{Text: id, Metadata: models.Metadata{models.KeyChunkID: id, models.KeyEmbedding: vec}}
	}
	passages := []models.Passage{
		mk("orthogonal", []float32{0, 1}),
		mk("exact", []float32{2, 0}),
		{Text: "none", Metadata: models.Metadata{models.KeyChunkID: "none"}},
		mk("opposite", []float32{-1, 0}),
		mk("close", []float32{1, 0.2}),
	}
	got := SimilaritySearch([]float32{1, 0}, passages, 3)
	want := []string{"exact", "close", "orthogonal"}
	if len(got) != len(want) {
		t.Fatalf("got %d results, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ChunkID() != want[i] {
			t.Errorf("rank %d got %q, want %q", i, got[i].ChunkID(), want[i])
		}
	}
	if SimilaritySearch([]float32{1, 0}, nil, 3) != nil {
		t.Error("no passages should return nil")
	}
}
