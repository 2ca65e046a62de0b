package keyword

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	blevequery "github.com/blevesearch/bleve/v2/search/query"

	"github.com/fstsettat/formabot/internal/models"
)

// Keyword fields indexed verbatim and usable in SearchOptions.Filter.
var filterFields = []string{
	models.KeyFormationID,
	models.KeyFileID,
	models.KeyModuleCode,
	models.KeyDocumentType,
	models.KeySectionType,
}

// BleveIndex implements PassageIndex using Bleve.
type BleveIndex struct {
	index bleve.Index
}

// NewBleveIndex creates or opens a Bleve index at path.
// If the path already exists, the existing index is opened and reused so that
// unchanged files need not be re-indexed.
// If you change the index mapping in code, remove the index directory to force a full re-index.
func NewBleveIndex(path string) (*BleveIndex, error) {
	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		return &BleveIndex{index: index}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	index, err := bleve.New(path, passageMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	return &BleveIndex{index: index}, nil
}

func passageMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()

	// Standard analyzer (lowercase + tokenize, no stemming): French module
	// names would be mangled by the English stemmer.
	text := bleve.NewTextFieldMapping()
	text.Analyzer = standard.Name
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("title", text)

	for _, f := range filterFields {
		doc.AddFieldMappingsAt(f, bleve.NewKeywordFieldMapping())
	}
	im.AddDocumentMapping("passage", doc)
	im.DefaultType = "passage"
	im.DefaultMapping = doc
	return im
}

// IndexPassages indexes passages in one batch, keyed by chunk_id.
func (b *BleveIndex) IndexPassages(ctx context.Context, passages []models.Passage) error {
	batch := b.index.NewBatch()
	for _, p := range passages {
		id := p.ChunkID()
		if id == "" {
			continue
		}
		fields := map[string]any{
			"content": p.Text,
			"title":   titleFor(p.Metadata),
		}
		for _, f := range filterFields {
			if v := p.Metadata.String(f); v != "" {
				fields[f] = v
			}
		}
		if err := batch.Index(id, fields); err != nil {
			return fmt.Errorf("index %s: %w", id, err)
		}
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("bleve batch: %w", err)
	}
	return nil
}

// titleFor returns the source file name with separators turned into spaces so
// that "MST_RSI_FST.pdf" is searchable as "mst rsi fst".
func titleFor(meta models.Metadata) string {
	name := meta.String(models.KeyFileName)
	if name == "" {
		name = filepath.Base(meta.String(models.KeySource))
	}
	return strings.NewReplacer("_", " ", "-", " ").Replace(name)
}

// DeleteByFile removes every passage of fileID.
func (b *BleveIndex) DeleteByFile(ctx context.Context, fileID string) error {
	q := bleve.NewTermQuery(fileID)
	q.SetField(models.KeyFileID)
	for {
		req := bleve.NewSearchRequest(q)
		req.Size = 500
		res, err := b.index.SearchInContext(ctx, req)
		if err != nil {
			return fmt.Errorf("Bleve search failed: %w", err)
		}
		if len(res.Hits) == 0 {
			return nil
		}
		batch := b.index.NewBatch()
		for _, hit := range res.Hits {
			batch.Delete(hit.ID)
		}
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("bleve batch: %w", err)
		}
	}
}

// Search runs a match query over content, plus optional title and phrase
// clauses, restricted to passages matching opts.Filter.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return nil, nil
	}
	if opts == nil {
		opts = &SearchOptions{}
	}

	clauses := []blevequery.Query{termQuery(query, "content", opts)}
	if opts.TitleBoost > 1 {
		tq := termQuery(query, "title", opts)
		tq.(blevequery.BoostableQuery).SetBoost(opts.TitleBoost)
		clauses = append(clauses, tq)
	}
	if opts.PhraseBoost > 1 && len(strings.Fields(query)) > 1 {
		pq := bleve.NewMatchPhraseQuery(query)
		pq.SetField("content")
		pq.SetBoost(opts.PhraseBoost)
		clauses = append(clauses, pq)
	}
	var q blevequery.Query = bleve.NewDisjunctionQuery(clauses...)

	if len(opts.Filter) > 0 {
		must := []blevequery.Query{q}
		for field, value := range opts.Filter {
			tq := bleve.NewTermQuery(value)
			tq.SetField(field)
			must = append(must, tq)
		}
		q = bleve.NewConjunctionQuery(must...)
	}

	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, len(res.Hits))
	for i, hit := range res.Hits {
		out[i] = &KeywordResult{ID: hit.ID, Score: hit.Score}
	}
	return out, nil
}

// termQuery matches query against field, one fuzzy clause per term when
// fuzzy matching is on.
func termQuery(query, field string, opts *SearchOptions) blevequery.Query {
	if !opts.FuzzyEnabled {
		mq := bleve.NewMatchQuery(query)
		mq.SetField(field)
		return mq
	}
	fuzziness := opts.Fuzziness
	if fuzziness <= 0 {
		fuzziness = 1
	}
	terms := strings.Fields(strings.ToLower(query))
	queries := make([]blevequery.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(fuzziness)
		fq.SetField(field)
		queries = append(queries, fq)
	}
	return bleve.NewDisjunctionQuery(queries...)
}

// DocCount returns the total number of passages in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
