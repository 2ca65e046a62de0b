package indexer

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrInvalidSplit is returned when a splitter is asked for an impossible size.
var ErrInvalidSplit = errors.New("invalid split parameters")

// Separator lists, tried in order. "" is a hard character cut.
var (
	StructuredSeparators = []string{"\n\n## ", "\n## ", "\n\n### ", "\n### ", "\n\n", "\n", ". ", " ", ""}
	DefaultSeparators    = []string{"\n\n## ", "\n## ", "\n\n### ", "\n### ", "\n\n", ". ", "! ", "? ", "\n", " ", ""}
	FallbackSeparators   = []string{"\n\n", "\n", " ", ""}
)

// Fallback splitter sizes, used when the configured split fails.
const (
	FallbackChunkSize    = 500
	FallbackChunkOverlap = 100
)

// Splitter recursively splits text on an ordered list of separators, keeping
// each separator at the start of the piece that follows it. Sizes are in runes.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// NewSplitter returns a splitter, or ErrInvalidSplit when size is not positive
// or overlap is not in [0, size).
func NewSplitter(size, overlap int, separators []string) (*Splitter, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidSplit, size, overlap)
	}
	if len(separators) == 0 {
		separators = []string{""}
	}
	return &Splitter{size: size, overlap: overlap, separators: separators}, nil
}

// Split returns the chunks of text. Chunks are trimmed and never empty.
func (s *Splitter) Split(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var final, good []string
	for _, piece := range splitKeep(text, sep) {
		if runeLen(piece) < s.size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(rest) == 0 {
			final = append(final, hardCut(piece, s.size)...)
		} else {
			final = append(final, s.split(piece, rest)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge packs pieces into chunks of at most size runes, carrying up to overlap
// runes of trailing pieces into the next chunk. Separators are already part of
// the pieces, so pieces are joined without one.
func (s *Splitter) merge(pieces []string) []string {
	var out, current []string
	total := 0
	for _, piece := range pieces {
		n := runeLen(piece)
		if total+n > s.size && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				out = append(out, chunk)
			}
			for total > s.overlap || (total+n > s.size && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		out = append(out, chunk)
	}
	return out
}

// splitKeep splits text on sep and prefixes every piece after the first with
// sep. An empty sep splits into runes. Empty pieces are dropped.
func splitKeep(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = make([]string, 0, len(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
		return parts
	}
	raw := strings.Split(text, sep)
	parts = make([]string, 0, len(raw))
	for i, p := range raw {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func hardCut(text string, size int) []string {
	var out []string
	runes := []rune(text)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			out = append(out, chunk)
		}
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
