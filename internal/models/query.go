package models

import "fmt"

// SearchQuery is a raw passage search request, served by the search endpoint and CLI.
type SearchQuery struct {
	Query       string  `json:"query"`
	K           int     `json:"k,omitempty"`
	FormationID string  `json:"formation_id,omitempty"`
	MinScore    float64 `json:"min_score,omitempty"`
}

// Validate ensures the search query has valid fields and sets defaults.
// Returns an error if the query is empty; otherwise clamps K to [1,100].
func (q *SearchQuery) Validate() error {
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if q.K <= 0 {
		q.K = 10
	}
	if q.K > 100 {
		q.K = 100
	}
	return nil
}

// Filter returns the metadata filter implied by the query.
func (q *SearchQuery) Filter() map[string]string {
	if q.FormationID == "" {
		return nil
	}
	return map[string]string{KeyFormationID: q.FormationID}
}
