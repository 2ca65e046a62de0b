package indexer

import (
	"regexp"
	"strings"
)

// StructuredThreshold is the confidence at or above which text is split with
// the structured separators.
const StructuredThreshold = 0.6

var numberedLine = regexp.MustCompile(`^\s*\d+\.\s+`)

// StructureConfidence scores how table- or list-like text is, in [0,1].
func StructureConfidence(text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	lines := strings.Split(text, "\n")
	total := float64(len(lines))
	if len(lines) < 2 {
		return 0
	}

	var tables, bullets, numbered int
	for _, line := range lines {
		if strings.Count(line, "|") > 2 {
			tables++
		}
		if strings.Contains(line, "+---") || strings.Contains(line, "----") {
			tables++
		}
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "• ") {
			bullets++
		}
		if numberedLine.MatchString(line) {
			numbered++
		}
	}

	confidence := max(
		min(1, float64(tables)/total*3),
		min(1, float64(bullets)/total*2),
		min(1, float64(numbered)/total*2),
	)
	if len(lines) < 3 && confidence < 0.7 {
		confidence *= 0.7
	}
	return min(max(confidence, 0), 1)
}

// IsStructured reports whether text scores at or above StructuredThreshold.
func IsStructured(text string) bool {
	return StructureConfidence(text) >= StructuredThreshold
}
