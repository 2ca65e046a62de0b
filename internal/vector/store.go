package vector

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/fstsettat/formabot/internal/models"
	"go.uber.org/zap"
)

// DefaultAppendBatchSize is the number of passages added to the index per batch.
const DefaultAppendBatchSize = 100

var (
	// ErrNoValidPassages is returned by Create when no input carries a usable embedding.
	ErrNoValidPassages = errors.New("no valid passages")
	// ErrInconsistent is returned when the index and the docstore disagree.
	ErrInconsistent = errors.New("vector store is inconsistent")
)

// Store pairs a VectorIndex with the passages its slots refer to. It has no
// internal locking: ingestion is the only writer and holds the ingest lock.
type Store struct {
	index     VectorIndex
	indexType string
	docstore  map[string]models.Passage
	slots     map[int]string
	slotOf    map[string]int
	batchSize int
	logger    *zap.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the logger for dropped passages and failed batches.
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// WithIndexType selects the ANN structure for new stores ("memory" or "faiss").
func WithIndexType(t string) StoreOption {
	return func(s *Store) { s.indexType = t }
}

// WithAppendBatchSize overrides DefaultAppendBatchSize.
func WithAppendBatchSize(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func newStore(opts []StoreOption) *Store {
	s := &Store{
		indexType: string(IndexTypeMemory),
		docstore:  make(map[string]models.Passage),
		slots:     make(map[int]string),
		slotOf:    make(map[string]int),
		batchSize: DefaultAppendBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Create builds a new store from docs. The index dimension is taken from the
// first valid embedding.
func Create(ctx context.Context, docs []models.RawDocument, opts ...StoreOption) (*Store, error) {
	s := newStore(opts)
	added, err := s.Append(ctx, docs)
	if err != nil {
		return nil, err
	}
	if added == 0 {
		return nil, ErrNoValidPassages
	}
	return s, nil
}

// Append coerces docs and adds the valid ones in batches. A batch the index
// rejects is logged and skipped; earlier batches stay committed. It returns
// the number of passages added.
func (s *Store) Append(ctx context.Context, docs []models.RawDocument) (int, error) {
	passages := s.coerce(docs)
	if len(passages) == 0 {
		return 0, nil
	}
	if s.index == nil {
		idx, err := NewVectorIndex(s.indexType, len(passages[0].Metadata.Embedding()))
		if err != nil {
			return 0, fmt.Errorf("create %s index: %w", s.indexType, err)
		}
		s.index = idx
	}

	added := 0
	for start := 0; start < len(passages); start += s.batchSize {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		end := min(start+s.batchSize, len(passages))
		added += s.appendBatch(ctx, passages[start:end], start)
	}
	return added, nil
}

func (s *Store) appendBatch(ctx context.Context, batch []models.Passage, offset int) int {
	dims := s.index.Dimensions()
	seen := make(map[string]bool, len(batch))
	kept := make([]models.Passage, 0, len(batch))
	vectors := make([][]float32, 0, len(batch))
	for _, p := range batch {
		id := p.ChunkID()
		if _, dup := s.docstore[id]; dup || seen[id] {
			s.logger.Warn("skipping duplicate chunk_id", zap.String("chunk_id", id))
			continue
		}
		vec := p.Metadata.Embedding()
		if len(vec) != dims {
			s.logger.Warn("skipping passage with wrong embedding size",
				zap.String("chunk_id", id), zap.Int("got", len(vec)), zap.Int("want", dims))
			continue
		}
		seen[id] = true
		kept = append(kept, p)
		vectors = append(vectors, vec)
	}
	if len(kept) == 0 {
		return 0
	}
	base := s.index.Size()
	if err := s.index.Add(ctx, vectors); err != nil {
		s.logger.Error("append batch failed",
			zap.Int("batch_start", offset), zap.Int("batch_size", len(kept)), zap.Error(err))
		return 0
	}
	for j, p := range kept {
		s.put(base+j, p)
	}
	return len(kept)
}

func (s *Store) put(slot int, p models.Passage) {
	id := p.ID
	if id == "" {
		id = p.ChunkID()
	}
	s.docstore[id] = p
	s.slots[slot] = id
	s.slotOf[id] = slot
}

// coerce converts docs to passages that carry a chunk_id, a source, and an
// embedding. Anything else is dropped with a warning.
func (s *Store) coerce(docs []models.RawDocument) []models.Passage {
	out := make([]models.Passage, 0, len(docs))
	for i, raw := range docs {
		p, derr := models.Coerce(raw, i)
		if derr != nil {
			s.logger.Warn("dropping invalid document", zap.Error(derr))
			continue
		}
		if p.Metadata == nil {
			p.Metadata = models.Metadata{}
		}
		if p.ChunkID() == "" {
			if p.ID != "" {
				p.Metadata[models.KeyChunkID] = p.ID
			} else {
				p.Metadata[models.KeyChunkID] = fmt.Sprintf("doc_%d_%s", i, models.ShortHash(p.Text))
			}
		}
		if err := p.Metadata.Validate(); err != nil {
			s.logger.Warn("dropping invalid document", zap.Int("index", i), zap.Error(err))
			continue
		}
		if len(p.Metadata.Embedding()) == 0 {
			s.logger.Warn("dropping document without embedding", zap.Int("index", i), zap.String("chunk_id", p.ChunkID()))
			continue
		}
		p.ID = p.ChunkID()
		out = append(out, p)
	}
	return out
}

// Remove deletes the passages with the given chunk ids and rebuilds the index
// so that slots stay dense. It returns the number removed.
func (s *Store) Remove(ctx context.Context, ids ...string) (int, error) {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := s.docstore[id]; ok {
			drop[id] = true
		}
	}
	if len(drop) == 0 || s.index == nil {
		return 0, nil
	}

	rebuilt, err := NewVectorIndex(s.index.Type(), s.index.Dimensions())
	if err != nil {
		return 0, fmt.Errorf("rebuild index: %w", err)
	}
	var (
		keep    []models.Passage
		vectors [][]float32
	)
	for slot := 0; slot < s.index.Size(); slot++ {
		id, ok := s.slots[slot]
		if !ok || drop[id] {
			continue
		}
		vec, err := s.index.Reconstruct(slot)
		if err != nil {
			_ = rebuilt.Close()
			return 0, fmt.Errorf("reconstruct slot %d: %w", slot, err)
		}
		keep = append(keep, s.docstore[id])
		vectors = append(vectors, vec)
	}
	if err := rebuilt.Add(ctx, vectors); err != nil {
		_ = rebuilt.Close()
		return 0, fmt.Errorf("rebuild index: %w", err)
	}

	_ = s.index.Close()
	s.index = rebuilt
	s.docstore = make(map[string]models.Passage, len(keep))
	s.slots = make(map[int]string, len(keep))
	s.slotOf = make(map[string]int, len(keep))
	for slot, p := range keep {
		s.put(slot, p)
	}
	return len(drop), nil
}

// RemoveWhere removes every passage whose metadata key equals value.
func (s *Store) RemoveWhere(ctx context.Context, key, value string) (int, error) {
	var ids []string
	for id, p := range s.docstore {
		if p.Metadata.String(key) == value {
			ids = append(ids, id)
		}
	}
	return s.Remove(ctx, ids...)
}

// SearchOptions controls SimilaritySearch. With a Filter the whole index is
// scanned before filtering; otherwise FetchK bounds the candidate set.
type SearchOptions struct {
	K          int
	FetchK     int
	Filter     map[string]string
	ScoreFloor float64
}

// SimilaritySearch returns up to K passages ordered by similarity to query,
// keeping only those that match every Filter entry and score at least ScoreFloor.
func (s *Store) SimilaritySearch(ctx context.Context, query []float32, opts SearchOptions) ([]models.ScoredPassage, error) {
	hits, err := s.search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	out := make([]models.ScoredPassage, 0, len(hits))
	for _, h := range hits {
		out = append(out, models.ScoredPassage{Passage: s.docstore[s.slots[h.Slot]].Clone(), Score: h.Score})
	}
	return out, nil
}

func (s *Store) search(ctx context.Context, query []float32, opts SearchOptions) ([]Hit, error) {
	if s.index == nil || s.index.Size() == 0 {
		return nil, nil
	}
	k := opts.K
	if k <= 0 {
		k = 4
	}
	fetch := max(k, opts.FetchK)
	if len(opts.Filter) > 0 {
		fetch = s.index.Size()
	}
	hits, err := s.index.Search(ctx, query, fetch)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	out := make([]Hit, 0, k)
	for _, h := range hits {
		id, ok := s.slots[h.Slot]
		if !ok {
			continue
		}
		if h.Score < opts.ScoreFloor || !matches(s.docstore[id], opts.Filter) {
			continue
		}
		out = append(out, h)
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func matches(p models.Passage, filter map[string]string) bool {
	for k, v := range filter {
		if p.Metadata.String(k) != v {
			return false
		}
	}
	return true
}

// Get returns the passage stored under chunk id.
func (s *Store) Get(id string) (models.Passage, bool) {
	p, ok := s.docstore[id]
	if !ok {
		return models.Passage{}, false
	}
	return p.Clone(), true
}

// Passages returns every stored passage in slot order.
func (s *Store) Passages() []models.Passage {
	slots := make([]int, 0, len(s.slots))
	for slot := range s.slots {
		slots = append(slots, slot)
	}
	sort.Ints(slots)
	out := make([]models.Passage, 0, len(slots))
	for _, slot := range slots {
		out = append(out, s.docstore[s.slots[slot]])
	}
	return out
}

// Len returns the number of passages in the docstore.
func (s *Store) Len() int { return len(s.docstore) }

// Size returns the number of vectors in the index.
func (s *Store) Size() int {
	if s.index == nil {
		return 0
	}
	return s.index.Size()
}

// Dimensions returns the vector length, or 0 for an empty store.
func (s *Store) Dimensions() int {
	if s.index == nil {
		return 0
	}
	return s.index.Dimensions()
}

// IndexType returns the ANN structure in use.
func (s *Store) IndexType() string { return s.indexType }

// Check verifies that every slot maps to exactly one docstore entry.
func (s *Store) Check() error {
	if len(s.docstore) != len(s.slots) {
		return fmt.Errorf("%w: %d docstore entries, %d slots", ErrInconsistent, len(s.docstore), len(s.slots))
	}
	if n := s.Size(); n != len(s.slots) {
		return fmt.Errorf("%w: index holds %d vectors, %d slots mapped", ErrInconsistent, n, len(s.slots))
	}
	for slot, id := range s.slots {
		if _, ok := s.docstore[id]; !ok {
			return fmt.Errorf("%w: slot %d points to missing %q", ErrInconsistent, slot, id)
		}
	}
	return nil
}

// Close releases the index.
func (s *Store) Close() error {
	if s.index == nil {
		return nil
	}
	return s.index.Close()
}
