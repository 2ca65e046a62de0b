package search

import (
	"github.com/fstsettat/formabot/internal/keyword"
)

// NormalizeKeywordScores maps BM25 scores to [0,1] by dividing by the best
// score, so keyword hits can sit next to cosine-scored passages.
func NormalizeKeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	normalized := make(map[string]float64, len(results))
	maxScore := 0.0
	for _, r := range results {
		if r.Score > maxScore {
			maxScore = r.Score
		}
	}
	for _, r := range results {
		if maxScore > 0 {
			normalized[r.ID] = r.Score / maxScore
		} else {
			normalized[r.ID] = 0
		}
	}
	return normalized
}
