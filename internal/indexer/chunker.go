// Package indexer splits documents into enriched passages and runs the
// ingestion pipeline that turns a documents folder into a vector store.
package indexer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fstsettat/formabot/internal/config"
	"github.com/fstsettat/formabot/internal/models"
	"go.uber.org/zap"
)

var (
	modulePattern   = regexp.MustCompile(`module\s+([\w\d]+)\s*:?\s*([^\n]+)`)
	semesterPattern = regexp.MustCompile(`semestre\s+(\d+)`)
)

const maxModuleNameLen = 200

type formationMatcher struct {
	id       string
	patterns []*regexp.Regexp
}

func (f formationMatcher) match(s string) bool {
	for _, re := range f.patterns {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Chunker splits documents into overlapping passages and enriches each one
// with formation, document type, module, semester, and section metadata.
type Chunker struct {
	chunkSize       int
	chunkOverlap    int
	fallbackSize    int
	fallbackOverlap int
	formations      []formationMatcher
	documentTypes   []config.KeywordSet
	sections        []string
	logger          *zap.Logger
	now             func() time.Time
}

// ChunkerOption configures a Chunker.
type ChunkerOption func(*Chunker)

// WithChunkerLogger sets the logger used for split failures.
func WithChunkerLogger(l *zap.Logger) ChunkerOption {
	return func(c *Chunker) { c.logger = l }
}

// WithChunkerClock overrides the clock used for processed_at.
func WithChunkerClock(now func() time.Time) ChunkerOption {
	return func(c *Chunker) { c.now = now }
}

// NewChunker builds a chunker from the chunking config. Formation patterns are
// compiled case-insensitively, once as written and once accent-folded, so they
// match both raw and normalized text.
func NewChunker(cfg config.ChunkingConfig, opts ...ChunkerOption) (*Chunker, error) {
	c := &Chunker{
		chunkSize:       cfg.ChunkSize,
		chunkOverlap:    cfg.ChunkOverlap,
		fallbackSize:    FallbackChunkSize,
		fallbackOverlap: FallbackChunkOverlap,
		documentTypes:   cfg.DocumentTypes,
		sections:        cfg.SectionKeywords,
		logger:          zap.NewNop(),
		now:             time.Now,
	}
	for _, fp := range cfg.FormationPatterns {
		m := formationMatcher{id: fp.ID}
		for _, p := range fp.Patterns {
			re, err := regexp.Compile("(?i)" + p)
			if err != nil {
				return nil, fmt.Errorf("%w: formation %s pattern %q: %v", config.ErrInvalidConfig, fp.ID, p, err)
			}
			m.patterns = append(m.patterns, re)
			if folded := fold(p); folded != strings.ToLower(p) {
				if re, err := regexp.Compile("(?i)" + folded); err == nil {
					m.patterns = append(m.patterns, re)
				}
			}
		}
		c.formations = append(c.formations, m)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c, nil
}

// Chunk splits every non-empty document and returns the enriched passages in
// input order. chunk_index restarts at 0 for each document.
func (c *Chunker) Chunk(docs []models.Passage) []models.Passage {
	var out []models.Passage
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		out = append(out, c.chunkDocument(doc)...)
	}
	return out
}

func (c *Chunker) chunkDocument(doc models.Passage) []models.Passage {
	source := sourceName(doc.Metadata)
	docMeta := c.extractMetadata(doc.Text, source, doc.Metadata)

	normalized := Preprocess(doc.Text)
	confidence := StructureConfidence(normalized)
	structured := confidence >= StructuredThreshold
	contentType := "unstructured"
	if structured {
		contentType = "structured"
	}

	pieces, err := c.split(normalized, structured)
	if err != nil {
		c.logger.Warn("split failed, using fallback splitter",
			zap.String("source", source), zap.Error(err))
		pieces, err = c.fallbackSplit(normalized)
	}
	if err != nil || len(pieces) == 0 {
		if err != nil {
			c.logger.Error("fallback split failed, keeping document whole",
				zap.String("source", source), zap.Error(err))
		}
		pieces = []string{normalized}
	}

	formation := docMeta.String(models.KeyFormationID)
	passages := make([]models.Passage, 0, len(pieces))
	for i, text := range pieces {
		meta := doc.Metadata.Clone()
		for k, v := range docMeta {
			meta[k] = v
		}
		chunkConfidence := StructureConfidence(text)
		meta[models.KeyChunkID] = fmt.Sprintf("%s_%d", formation, i)
		meta[models.KeyChunkIndex] = i
		meta[models.KeyTotalChunks] = len(pieces)
		meta[models.KeyStructureConfidence] = chunkConfidence
		meta[models.KeyIsStructured] = chunkConfidence >= StructuredThreshold
		meta[models.KeyContentType] = contentType

		lower := strings.ToLower(text)
		if code, name, ok := matchModule(lower); ok {
			meta[models.KeyModuleCode] = code
			meta[models.KeyModuleName] = name
		}
		if sem := semesterPattern.FindStringSubmatch(lower); sem != nil {
			meta[models.KeySemester] = sem[1]
		}
		if section := c.sectionType(lower); section != "" {
			meta[models.KeySectionType] = section
		}
		passages = append(passages, models.Passage{Text: text, Metadata: meta})
	}
	return passages
}

func (c *Chunker) split(text string, structured bool) ([]string, error) {
	size, overlap, seps := c.chunkSize, c.chunkOverlap, DefaultSeparators
	if structured {
		size, overlap, seps = size*2, overlap*2, StructuredSeparators
	}
	s, err := NewSplitter(size, overlap, seps)
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}

func (c *Chunker) fallbackSplit(text string) ([]string, error) {
	s, err := NewSplitter(c.fallbackSize, c.fallbackOverlap, FallbackSeparators)
	if err != nil {
		return nil, err
	}
	return s.Split(text), nil
}

// extractMetadata derives the document-level keys. Formation and document type
// already present on the source are kept; module and semester found in the
// whole document serve as defaults for chunks that do not mention their own.
func (c *Chunker) extractMetadata(text, source string, existing models.Metadata) models.Metadata {
	lower := strings.ToLower(text)
	folded := fold(text)

	meta := models.Metadata{
		models.KeySource:      source,
		models.KeyProcessedAt: c.now().Format("2006-01-02"),
	}

	formation := existing.String(models.KeyFormationID)
	if formation == "" || formation == models.UnknownFormation {
		formation = c.FormationID(text, source)
	}
	meta[models.KeyFormationID] = formation

	docType := existing.String(models.KeyDocumentType)
	if docType == "" {
		docType = c.documentType(lower, folded)
	}
	meta[models.KeyDocumentType] = docType

	if code, name, ok := matchModule(folded); ok {
		meta[models.KeyModuleCode] = code
		meta[models.KeyModuleName] = name
	}
	if sem := semesterPattern.FindStringSubmatch(folded); sem != nil {
		meta[models.KeySemester] = sem[1]
	}
	return meta
}

// FormationID returns the formation matched by the filename, then by the body,
// or UNKNOWN.
func (c *Chunker) FormationID(text, filename string) string {
	if filename != "" {
		name := strings.ToLower(filepath.Base(filename))
		for _, f := range c.formations {
			if f.match(name) {
				return f.id
			}
		}
	}
	lower := strings.ToLower(text)
	folded := fold(text)
	for _, f := range c.formations {
		if f.match(lower) || f.match(folded) {
			return f.id
		}
	}
	return models.UnknownFormation
}

func (c *Chunker) documentType(lower, folded string) string {
	for _, set := range c.documentTypes {
		for _, kw := range set.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) || strings.Contains(folded, fold(kw)) {
				return set.Name
			}
		}
	}
	return "document"
}

func (c *Chunker) sectionType(lower string) string {
	for _, kw := range c.sections {
		if strings.Contains(lower, fold(kw)) {
			return kw
		}
	}
	return ""
}

func matchModule(lower string) (code, name string, ok bool) {
	m := modulePattern.FindStringSubmatch(lower)
	if m == nil {
		return "", "", false
	}
	name = strings.TrimSpace(m[2])
	if runeLen(name) > maxModuleNameLen {
		name = string([]rune(name)[:maxModuleNameLen])
	}
	return strings.TrimSpace(m[1]), name, true
}

// fold lower-cases s and strips accents through Preprocess.
func fold(s string) string {
	return strings.ToLower(Preprocess(s))
}

func sourceName(m models.Metadata) string {
	for _, key := range []string{models.KeySource, models.KeyFileName} {
		if s := m.String(key); s != "" {
			return filepath.Base(s)
		}
	}
	return "unknown"
}
