package embedding

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/fstsettat/formabot/internal/config"
	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/internal/vector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of texts sent to the embedder per call.
const DefaultBatchSize = 32

var (
	filenameFormation = regexp.MustCompile(`MST_([A-Z]{2,4})_FST`)
	backfillNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("formabot/chunk"))
)

// PassageEmbedder augments passages with their metadata summary, embeds them
// in batches, applies the domain boost, and records embedding metadata.
type PassageEmbedder struct {
	embedder  Embedder
	booster   *Booster
	batchSize int
	logger    *zap.Logger
	now       func() time.Time
}

// PassageOption configures a PassageEmbedder.
type PassageOption func(*PassageEmbedder)

// WithLogger sets the logger for skipped documents and failed batches.
func WithLogger(l *zap.Logger) PassageOption {
	return func(p *PassageEmbedder) { p.logger = l }
}

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) PassageOption {
	return func(p *PassageEmbedder) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithClock overrides the clock used for embedding_generated_at.
func WithClock(now func() time.Time) PassageOption {
	return func(p *PassageEmbedder) { p.now = now }
}

// NewPassageEmbedder wraps e with augmentation and domain boosting.
func NewPassageEmbedder(e Embedder, keywords []config.KeywordWeight, opts ...PassageOption) *PassageEmbedder {
	p := &PassageEmbedder{
		embedder:  e,
		booster:   NewBooster(keywords),
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Embed coerces docs, backfills missing identity keys, and returns embedded
// passages whose text carries the metadata summary. Documents that cannot be
// coerced are skipped. A batch the embedder rejects gets zero vectors.
func (p *PassageEmbedder) Embed(ctx context.Context, docs []models.RawDocument) ([]models.Passage, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	passages := make([]models.Passage, 0, len(docs))
	for i, raw := range docs {
		passage, derr := models.Coerce(raw, i)
		if derr != nil {
			p.logger.Warn("skipping document", zap.Int("index", i), zap.Error(derr))
			continue
		}
		backfill(passage.Metadata, passage.Text, i)
		passage.Text = Augment(passage.Text, passage.Metadata)
		passages = append(passages, passage)
	}

	model := p.embedder.Model()
	dims := p.embedder.Dimensions()
	for start := 0; start < len(passages); start += p.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+p.batchSize, len(passages))
		batch := passages[start:end]
		texts := make([]string, len(batch))
		for i, ps := range batch {
			texts[i] = ps.Text
		}

		vecs, err := p.embedder.EmbedBatch(ctx, texts)
		if err == nil && len(vecs) != len(batch) {
			err = fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(batch))
		}
		failed := err != nil
		if failed {
			p.logger.Warn("embedding batch failed, using zero vectors",
				zap.Int("batch_start", start), zap.Int("batch_size", len(batch)), zap.Error(err))
		}

		generatedAt := p.now().Format(time.RFC3339)
		for i := range batch {
			vec := make([]float32, dims)
			boosted := false
			if !failed {
				vec = vecs[i]
				boosted = p.booster.Apply(vec, texts[i])
			}
			meta := batch[i].Metadata
			meta[models.KeyEmbedding] = vec
			meta[models.KeyEmbeddingGeneratedAt] = generatedAt
			meta[models.KeyEmbeddingModel] = model
			meta[models.KeyEmbeddingBoosted] = boosted
		}
	}
	return passages, nil
}

// EmbedQuery embeds a question and applies the same domain boost as passages.
func (p *PassageEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vec, err := p.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	vec = append([]float32(nil), vec...)
	p.booster.Apply(vec, text)
	return vec, nil
}

// Dimensions returns the vector length of the wrapped embedder.
func (p *PassageEmbedder) Dimensions() int { return p.embedder.Dimensions() }

// SimilaritySearch ranks passages by cosine similarity between query and their
// stored embedding and returns the first k. Passages without an embedding score 0.
func SimilaritySearch(query []float32, passages []models.Passage, k int) []models.Passage {
	if len(passages) == 0 || k <= 0 {
		return nil
	}
	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(passages))
	for i, ps := range passages {
		scores[i] = scored{idx: i, score: vector.Cosine(query, ps.Metadata.Embedding())}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	k = min(k, len(scores))
	out := make([]models.Passage, k)
	for i := 0; i < k; i++ {
		out[i] = passages[scores[i].idx]
	}
	return out
}

// backfill fills formation_id, source, and chunk_id when absent. Values are
// derived from the document itself so that re-runs produce the same ids.
func backfill(meta models.Metadata, text string, i int) {
	if meta.String(models.KeyFormationID) == "" {
		formation := models.UnknownFormation
		name := meta.String(models.KeyFileName)
		if name == "" {
			name = meta.String(models.KeySource)
		}
		if m := filenameFormation.FindStringSubmatch(name); m != nil {
			formation = "MST_" + m[1]
		}
		meta[models.KeyFormationID] = formation
	}
	if meta.String(models.KeySource) == "" {
		if name := meta.String(models.KeyFileName); name != "" {
			meta[models.KeySource] = name
		} else {
			meta[models.KeySource] = fmt.Sprintf("document_%d", i)
		}
	}
	if meta.String(models.KeyChunkID) == "" {
		seed := fmt.Sprintf("%s|%d|%s", meta.String(models.KeySource), i, text)
		id := uuid.NewSHA1(backfillNamespace, []byte(seed)).String()
		meta[models.KeyChunkID] = fmt.Sprintf("doc_%d_%s", i, id[:8])
	}
	if !meta.Has(models.KeyChunkIndex) {
		meta[models.KeyChunkIndex] = i
	}
}
