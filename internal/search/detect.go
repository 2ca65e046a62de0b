package search

import (
	"strings"

	"github.com/fstsettat/formabot/internal/config"
	"github.com/fstsettat/formabot/internal/models"
)

// DefaultIntent is returned when no intent keyword matches.
const DefaultIntent = "général"

// Detection is the outcome of keyword-table classification.
type Detection struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	// IndexID is the formation_id stored on matching passages.
	IndexID string `json:"index_id,omitempty"`
}

// classify counts keyword substring hits per set in the lowercased question
// and returns the set with the most hits, scored relative to the best. Ties
// go to the set declared first. ok is false when nothing matches.
func classify(question string, sets []config.KeywordSet) (Detection, bool) {
	q := strings.ToLower(question)
	best, bestHits := -1, 0
	for i, set := range sets {
		hits := 0
		for _, kw := range set.Keywords {
			if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return Detection{}, false
	}
	d := Detection{Name: sets[best].Name, Score: 1, IndexID: sets[best].IndexID}
	if d.IndexID == "" {
		d.IndexID = d.Name
	}
	return d, true
}

// DetectFormation returns the program the question is about, or UNKNOWN with
// score 0.
func DetectFormation(question string, sets []config.KeywordSet) Detection {
	if d, ok := classify(question, sets); ok {
		return d
	}
	return Detection{Name: models.UnknownFormation}
}

// DetectIntent returns the question's intent, or DefaultIntent with score 0.5.
func DetectIntent(question string, sets []config.KeywordSet) Detection {
	if d, ok := classify(question, sets); ok {
		return d
	}
	return Detection{Name: DefaultIntent, Score: 0.5}
}
