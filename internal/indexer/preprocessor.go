package indexer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var punctuationReplacer = strings.NewReplacer(
	"\uf0a7", "-",
	"\uf0b7", "-",
	"\u2022", "-",
	"\u00a0", " ",
	"\u2013", "-",
	"\u2014", "-",
	"\u2018", "'",
	"\u2019", "'",
	"\u2032", "'",
	"\u201c", `"`,
	"\u201d", `"`,
	"\u2033", `"`,
	"\u2026", "...",
)

// Preprocess normalizes text for chunking: ASCII punctuation, NFKD with
// combining marks and control characters dropped, and collapsed whitespace.
// Line structure is kept so that tables and lists can still be detected.
func Preprocess(text string) string {
	if text == "" {
		return ""
	}
	text = punctuationReplacer.Replace(text)
	text = norm.NFKD.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r == '\r' {
			b.WriteRune('\n')
			continue
		}
		if r > unicode.MaxASCII || unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return collapseWhitespace(b.String())
}

// collapseWhitespace squeezes runs of spaces and tabs to one space, trims
// each line, and limits blank lines to one.
func collapseWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	b.Grow(len(text))
	blank := 0
	for _, line := range lines {
		line = strings.Join(strings.FieldsFunc(line, func(r rune) bool { return r == ' ' || r == '\t' }), " ")
		if line == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}
