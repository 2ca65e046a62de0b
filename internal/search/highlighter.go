package search

import "unicode/utf8"

// Snippet returns the first maxRunes runes of content followed by "...".
// Content that fits is returned with the ellipsis too, matching how passages
// are quoted in the answer context.
func Snippet(content string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(content) <= maxRunes {
		return content + "..."
	}
	n := 0
	for i := range content {
		if n == maxRunes {
			return content[:i] + "..."
		}
		n++
	}
	return content + "..."
}
