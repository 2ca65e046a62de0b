package vector

import (
	"context"
	"fmt"

	"github.com/fstsettat/formabot/internal/models"
)

// MMR defaults.
const (
	DefaultMMRFetchK = 20
	DefaultMMRLambda = 0.5
)

// MMROptions controls MaxMarginalRelevance. Zero FetchK and negative Lambda
// take the defaults. Lambda weighs relevance against diversity: 1 is pure
// relevance, 0 pure diversity.
type MMROptions struct {
	K      int
	FetchK int
	Lambda float64
	Filter map[string]string
}

// MaxMarginalRelevance fetches FetchK candidates and greedily picks K of them,
// each time taking the candidate that maximizes
// lambda*sim(query, c) - (1-lambda)*max sim(c, selected).
// Similarities between candidates are cosines of the stored vectors.
func (s *Store) MaxMarginalRelevance(ctx context.Context, query []float32, opts MMROptions) ([]models.ScoredPassage, error) {
	k := opts.K
	if k <= 0 {
		k = 4
	}
	fetchK := opts.FetchK
	if fetchK <= 0 {
		fetchK = DefaultMMRFetchK
	}
	lambda := opts.Lambda
	if lambda < 0 || lambda > 1 {
		lambda = DefaultMMRLambda
	}

	candidates, err := s.search(ctx, query, SearchOptions{K: max(fetchK, k), Filter: opts.Filter, ScoreFloor: -1})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(candidates))
	for i, c := range candidates {
		v, err := s.index.Reconstruct(c.Slot)
		if err != nil {
			return nil, fmt.Errorf("reconstruct slot %d: %w", c.Slot, err)
		}
		vectors[i] = v
	}

	selected := []int{0}
	remaining := make([]int, 0, len(candidates)-1)
	for i := 1; i < len(candidates); i++ {
		remaining = append(remaining, i)
	}
	for len(selected) < k && len(remaining) > 0 {
		bestPos, bestScore := 0, 0.0
		for pos, ci := range remaining {
			maxSim := -1.0
			for _, si := range selected {
				if sim := Cosine(vectors[ci], vectors[si]); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*candidates[ci].Score - (1-lambda)*maxSim
			if pos == 0 || score > bestScore {
				bestPos, bestScore = pos, score
			}
		}
		selected = append(selected, remaining[bestPos])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	out := make([]models.ScoredPassage, 0, len(selected))
	for _, ci := range selected {
		c := candidates[ci]
		out = append(out, models.ScoredPassage{Passage: s.docstore[s.slots[c.Slot]].Clone(), Score: c.Score})
	}
	return out, nil
}
