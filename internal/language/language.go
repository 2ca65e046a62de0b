// Package language normalises questions to the corpus language. Questions in
// a supported language other than the target are machine-translated; anything
// that cannot be detected or translated passes through unchanged.
package language

import (
	"context"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/fstsettat/formabot/internal/config"
	"go.uber.org/zap"
)

// Translator translates text between two ISO 639-1 languages.
type Translator interface {
	Translate(ctx context.Context, text, source, target string) (string, error)
}

// Detect returns the ISO 639-1 code of text, or "" when whatlanggo cannot
// place it.
func Detect(text string) string {
	info := whatlanggo.Detect(text)
	if info.Lang == -1 {
		return ""
	}
	return info.Lang.Iso6391()
}

// Normalizer turns questions into the target language.
type Normalizer struct {
	target     string
	supported  map[string]bool
	translator Translator
	timeout    time.Duration
	detect     func(string) string
	logger     *zap.Logger
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(n *Normalizer) {
		if l != nil {
			n.logger = l
		}
	}
}

// WithDetector replaces whatlanggo detection.
func WithDetector(fn func(string) string) Option {
	return func(n *Normalizer) { n.detect = fn }
}

// NewNormalizer creates a Normalizer. A nil translator disables translation.
func NewNormalizer(cfg config.LanguageConfig, translator Translator, opts ...Option) *Normalizer {
	n := &Normalizer{
		target:     cfg.Target,
		supported:  make(map[string]bool, len(cfg.Supported)),
		translator: translator,
		timeout:    cfg.Timeout,
		detect:     Detect,
		logger:     zap.NewNop(),
	}
	if n.target == "" {
		n.target = "fr"
	}
	if n.timeout <= 0 {
		n.timeout = 5 * time.Second
	}
	for _, l := range cfg.Supported {
		n.supported[strings.ToLower(l)] = true
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize returns the question in the target language along with the
// detected language. Detection or translation failures return the input.
func (n *Normalizer) Normalize(ctx context.Context, question string) (string, string) {
	lang := n.detect(question)
	if lang == "" || lang == n.target || !n.supported[lang] || n.translator == nil {
		return question, lang
	}
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	out, err := n.translator.Translate(ctx, question, lang, n.target)
	if err != nil || strings.TrimSpace(out) == "" {
		n.logger.Warn("Translation failed, using original question",
			zap.String("lang", lang), zap.Error(err))
		return question, lang
	}
	n.logger.Debug("Translated question", zap.String("from", lang), zap.String("to", n.target))
	return out, lang
}
