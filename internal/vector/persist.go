package vector

import (
	"context"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/pkg/utils"
	"go.uber.org/zap"
)

type sidecar struct {
	IndexType         string                `json:"index_type"`
	Dimensions        int                   `json:"dimensions"`
	Docstore          map[string]sidecarDoc `json:"docstore"`
	IndexToDocstoreID map[string]string     `json:"index_to_docstore_id"`
}

type sidecarDoc struct {
	PageContent string          `json:"page_content"`
	Metadata    models.Metadata `json:"metadata"`
}

// legacyState is the single-blob format written by earlier releases.
type legacyState struct {
	IndexType         string
	Dimensions        int
	Vectors           [][]float32
	Docstore          map[string]legacyDoc
	IndexToDocstoreID map[int]string
}

type legacyDoc struct {
	PageContent  string
	MetadataJSON []byte
}

// Save writes the store to dir: the ANN file first, then the sidecar. The
// sidecar rename is the commit point.
func (s *Store) Save(dir string) error {
	if err := s.Check(); err != nil {
		return err
	}
	if s.index == nil {
		return ErrNoValidPassages
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	if err := s.index.Save(filepath.Join(dir, IndexFileName(s.index.Type()))); err != nil {
		return fmt.Errorf("save index: %w", err)
	}

	sc := sidecar{
		IndexType:         s.index.Type(),
		Dimensions:        s.index.Dimensions(),
		Docstore:          make(map[string]sidecarDoc, len(s.docstore)),
		IndexToDocstoreID: make(map[string]string, len(s.slots)),
	}
	for id, p := range s.docstore {
		sc.Docstore[id] = sidecarDoc{PageContent: p.Text, Metadata: p.Metadata}
	}
	for slot, id := range s.slots {
		sc.IndexToDocstoreID[strconv.Itoa(slot)] = id
	}
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}
	if err := utils.WriteFileAtomic(filepath.Join(dir, SidecarFile), data, 0644); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}
	s.logger.Info("vector store saved",
		zap.String("dir", dir), zap.Int("passages", len(s.docstore)), zap.String("index_type", sc.IndexType))
	return nil
}

// Load opens the store persisted in dir. The sidecar format wins over the
// legacy blob. It returns nil, nil when dir holds neither.
func Load(dir string, opts ...StoreOption) (*Store, error) {
	s := newStore(opts)
	sidecarPath := filepath.Join(dir, SidecarFile)
	if _, err := os.Stat(sidecarPath); err == nil {
		if err := s.loadSidecar(dir, sidecarPath); err != nil {
			return nil, err
		}
		return s, nil
	}
	legacyPath := filepath.Join(dir, LegacyFile)
	if _, err := os.Stat(legacyPath); err == nil {
		if err := s.loadLegacy(legacyPath); err != nil {
			return nil, err
		}
		s.logger.Info("loaded legacy vector store; next save writes the sidecar format", zap.String("path", legacyPath))
		return s, nil
	}
	return nil, nil
}

func (s *Store) loadSidecar(dir, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read sidecar: %w", err)
	}
	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return fmt.Errorf("decode sidecar: %w", err)
	}
	if sc.IndexType != "" {
		s.indexType = sc.IndexType
	}

	order := make([]int, 0, len(sc.IndexToDocstoreID))
	for key := range sc.IndexToDocstoreID {
		slot, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("%w: bad slot %q", ErrInconsistent, key)
		}
		order = append(order, slot)
	}
	sort.Ints(order)
	passages := make([]models.Passage, 0, len(order))
	for want, slot := range order {
		if slot != want {
			return fmt.Errorf("%w: slots are not dense at %d", ErrInconsistent, want)
		}
		id := sc.IndexToDocstoreID[strconv.Itoa(slot)]
		doc, ok := sc.Docstore[id]
		if !ok {
			return fmt.Errorf("%w: slot %d points to missing %q", ErrInconsistent, slot, id)
		}
		if doc.Metadata == nil {
			doc.Metadata = models.Metadata{}
		}
		passages = append(passages, models.Passage{ID: id, Text: doc.PageContent, Metadata: doc.Metadata})
	}

	dims := sc.Dimensions
	if dims <= 0 && len(passages) > 0 {
		dims = len(passages[0].Metadata.Embedding())
	}
	idx, err := NewVectorIndex(s.indexType, dims)
	if err != nil {
		return fmt.Errorf("create %s index: %w", s.indexType, err)
	}
	annPath := filepath.Join(dir, IndexFileName(s.indexType))
	if err := idx.Load(annPath); err != nil {
		s.logger.Warn("ANN file unreadable; rebuilding from embeddings", zap.String("path", annPath), zap.Error(err))
		_ = idx.Close()
		if idx, err = NewVectorIndex(s.indexType, dims); err != nil {
			return err
		}
	}
	if idx.Size() != len(passages) {
		if idx.Size() > 0 {
			s.logger.Warn("ANN size does not match sidecar; rebuilding from embeddings",
				zap.Int("ann", idx.Size()), zap.Int("sidecar", len(passages)))
			_ = idx.Close()
			if idx, err = NewVectorIndex(s.indexType, dims); err != nil {
				return err
			}
		}
		if err := rebuild(idx, passages, nil); err != nil {
			_ = idx.Close()
			return err
		}
	}
	s.index = idx
	for slot, p := range passages {
		s.put(slot, p)
	}
	return s.Check()
}

func (s *Store) loadLegacy(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open legacy store: %w", err)
	}
	defer f.Close()
	var st legacyState
	if err := gob.NewDecoder(f).Decode(&st); err != nil {
		return fmt.Errorf("decode legacy store: %w", err)
	}
	if st.IndexType != "" {
		s.indexType = st.IndexType
	}

	passages := make([]models.Passage, 0, len(st.IndexToDocstoreID))
	for slot := 0; slot < len(st.IndexToDocstoreID); slot++ {
		id, ok := st.IndexToDocstoreID[slot]
		if !ok {
			return fmt.Errorf("%w: legacy slots are not dense at %d", ErrInconsistent, slot)
		}
		doc, ok := st.Docstore[id]
		if !ok {
			return fmt.Errorf("%w: slot %d points to missing %q", ErrInconsistent, slot, id)
		}
		meta := models.Metadata{}
		if len(doc.MetadataJSON) > 0 {
			if meta, err = models.DecodeMetadata(doc.MetadataJSON); err != nil {
				return fmt.Errorf("legacy passage %q: %w", id, err)
			}
		}
		passages = append(passages, models.Passage{ID: id, Text: doc.PageContent, Metadata: meta})
	}

	dims := st.Dimensions
	if dims <= 0 && len(st.Vectors) > 0 {
		dims = len(st.Vectors[0])
	}
	idx, err := NewVectorIndex(s.indexType, dims)
	if err != nil {
		return fmt.Errorf("create %s index: %w", s.indexType, err)
	}
	vectors := st.Vectors
	if len(vectors) != len(passages) {
		vectors = nil
	}
	if err := rebuild(idx, passages, vectors); err != nil {
		_ = idx.Close()
		return err
	}
	s.index = idx
	for slot, p := range passages {
		s.put(slot, p)
	}
	return s.Check()
}

// rebuild fills idx from vectors, or from each passage's stored embedding
// when vectors is nil.
func rebuild(idx VectorIndex, passages []models.Passage, vectors [][]float32) error {
	if vectors == nil {
		vectors = make([][]float32, len(passages))
		for i, p := range passages {
			vec := p.Metadata.Embedding()
			if len(vec) == 0 {
				return fmt.Errorf("%w: passage %q has no embedding to rebuild from", ErrInconsistent, p.ChunkID())
			}
			vectors[i] = vec
		}
	}
	if err := idx.Add(context.Background(), vectors); err != nil {
		return fmt.Errorf("rebuild index: %w", err)
	}
	return nil
}

// Exists reports whether dir holds a persisted store in either format.
func Exists(dir string) bool {
	for _, name := range []string{SidecarFile, LegacyFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			return true
		}
	}
	return false
}

// RemoveFiles deletes every store file in dir. Missing files are ignored.
func RemoveFiles(dir string) error {
	var errs []error
	for _, name := range []string{SidecarFile, MemoryIndexFile, FAISSIndexFile, LegacyFile} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
