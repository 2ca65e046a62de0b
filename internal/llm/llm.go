// Package llm provides answer generation over a completion endpoint. The
// retrieved context is rendered into a French assistant template and sent
// along with the question.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fstsettat/formabot/internal/config"
	"go.uber.org/zap"
)

// ErrEmptyPrompt is returned when Complete is called without a question.
var ErrEmptyPrompt = errors.New("empty prompt")

// Completer generates an answer for prompt grounded on contexts.
type Completer interface {
	Complete(ctx context.Context, prompt string, contexts []string) (string, error)
}

const systemTemplate = `Tu es un assistant poli et serviable pour les étudiants de la FST Settat.
Réponds uniquement à partir des informations ci-dessous. Si l'information
n'y figure pas, dis-le clairement sans inventer.

Informations:
%s`

// RenderSystem renders the assistant instructions around contexts.
func RenderSystem(contexts []string) string {
	return fmt.Sprintf(systemTemplate, strings.Join(contexts, "\n\n"))
}

// RenderPrompt joins contexts and prompt into a single text for providers
// without chat roles.
func RenderPrompt(prompt string, contexts []string) string {
	return RenderSystem(contexts) + "\n\nQuestion:\n" + prompt
}

// New builds the completer named by cfg.Provider, wrapped in an answer cache
// when cfg.CacheSize is positive.
func New(cfg config.LLMConfig, logger *zap.Logger) (Completer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var c Completer
	switch strings.ToLower(cfg.Provider) {
	case "", "ollama":
		c = NewOllama(cfg, WithLogger(logger))
	case "openai":
		c = NewOpenAI(cfg, WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
	if cfg.CacheSize > 0 {
		c = NewCachedCompleter(c, cfg.CacheSize, cfg.CacheTTL)
	}
	return c, nil
}
