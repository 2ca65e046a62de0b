package embedding

import (
	"strings"

	"github.com/fstsettat/formabot/internal/config"
	"github.com/fstsettat/formabot/pkg/utils"
)

// Booster scales vectors of texts that mention domain keywords.
type Booster struct {
	keywords []config.KeywordWeight
}

// NewBooster returns a booster over the given keyword weights.
func NewBooster(keywords []config.KeywordWeight) *Booster {
	return &Booster{keywords: keywords}
}

// Factor returns the product of the weights of every keyword contained in text.
func (b *Booster) Factor(text string) float64 {
	lower := strings.ToLower(text)
	factor := 1.0
	for _, kw := range b.keywords {
		if kw.Keyword != "" && strings.Contains(lower, strings.ToLower(kw.Keyword)) {
			factor *= kw.Weight
		}
	}
	return factor
}

// Apply scales vec in place by the factor for text and re-normalizes it to
// unit length when the factor is above 1. It reports whether it did.
func (b *Booster) Apply(vec []float32, text string) bool {
	f := b.Factor(text)
	if f <= 1 {
		return false
	}
	utils.Scale(vec, f)
	utils.NormalizeL2(vec)
	return true
}
