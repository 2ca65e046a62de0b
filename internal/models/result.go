package models

// ScoredPassage is a passage returned by a search together with its similarity.
type ScoredPassage struct {
	Passage Passage `json:"passage"`
	Score   float64 `json:"score"`
}
