// Package cleaner removes extraction noise (page numbers, headers, site URLs,
// separator lines, stray control characters) from document text.
package cleaner

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fstsettat/formabot/internal/models"
	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"
)

// DefaultPatterns are removed from every document, case-insensitively and per line.
var DefaultPatterns = []string{
	`^\s*\d+\s*$`,
	`FSTS\s*-\s*Formation`,
	`Référence\s*:\s*\w+`,
	`www\.?fsts\.ac\.ma`,
	`^[ \t]*[=_]{3,}[ \t]*$`,
}

var (
	c1Controls     = regexp.MustCompile(`[\x{0080}-\x{009F}]`)
	horizontalWS   = regexp.MustCompile(`[ \t\x{00A0}\f\v]+`)
	manyNewlines   = regexp.MustCompile(`\n{3,}`)
	inlineRuleRuns = regexp.MustCompile(`[ \t]+[=_]{3,}[ \t]+`)
)

// FSTCleaner implements the pipeline's text-cleaning collaborator.
type FSTCleaner struct {
	patterns []*regexp.Regexp
	logger   *zap.Logger
}

// Option configures an FSTCleaner.
type Option func(*FSTCleaner)

// WithLogger sets a logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *FSTCleaner) { c.logger = l }
}

// New compiles DefaultPatterns plus any custom patterns.
func New(custom []string, opts ...Option) (*FSTCleaner, error) {
	c := &FSTCleaner{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	for _, p := range append(append([]string{}, DefaultPatterns...), custom...) {
		re, err := regexp.Compile(`(?im)` + p)
		if err != nil {
			return nil, fmt.Errorf("compile cleaning pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// CleanText normalises Unicode (NFKC), strips HTML markup, removes boilerplate
// patterns, and tidies whitespace while keeping line structure.
func (c *FSTCleaner) CleanText(text string) string {
	if looksLikeHTML(text) {
		if plain, err := htmlToText(text); err == nil {
			text = plain
		} else {
			c.logger.Debug("html conversion failed, cleaning raw text", zap.Error(err))
		}
	}
	text = norm.NFKC.String(text)
	text = c1Controls.ReplaceAllString(text, " ")
	text = strings.ReplaceAll(text, "\u00ad", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, re := range c.patterns {
		text = re.ReplaceAllString(text, "")
	}
	text = inlineRuleRuns.ReplaceAllString(text, " ")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalWS.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = manyNewlines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Clean cleans every passage, copying metadata, and drops passages left empty.
func (c *FSTCleaner) Clean(docs []models.Passage) []models.Passage {
	out := make([]models.Passage, 0, len(docs))
	for _, d := range docs {
		cleaned := c.CleanText(d.Text)
		if cleaned == "" {
			continue
		}
		out = append(out, models.Passage{ID: d.ID, Text: cleaned, Metadata: d.Metadata.Clone()})
	}
	c.logger.Info("documents cleaned", zap.Int("in", len(docs)), zap.Int("out", len(out)))
	return out
}
