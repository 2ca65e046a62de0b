// Package keyword provides a BM25 keyword index over passages. The query
// engine uses it as an optional third retrieval pass next to similarity and
// diversity search.
package keyword

import (
	"context"

	"github.com/fstsettat/formabot/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// TitleBoost multiplies matches in the file name. Values <= 1 disable the title clause.
	TitleBoost float64
	// PhraseBoost adds a phrase clause over content with this boost. Values <= 1 disable it.
	PhraseBoost float64
	// FuzzyEnabled matches terms within Fuzziness edits (1 or 2, default 1).
	FuzzyEnabled bool
	Fuzziness    int
	// Filter restricts hits to passages whose keyword fields equal the given
	// values (formation_id, file_id, module_code, document_type, section_type).
	Filter map[string]string
}

// PassageIndex defines keyword indexing and search over passages.
type PassageIndex interface {
	IndexPassages(ctx context.Context, passages []models.Passage) error
	DeleteByFile(ctx context.Context, fileID string) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]*KeywordResult, error)
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. ID is the passage chunk_id.
type KeywordResult struct {
	ID    string
	Score float64
}
