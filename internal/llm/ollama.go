package llm

import (
	"context"
	"strings"

	"github.com/fstsettat/formabot/internal/config"
)

// Ollama calls the /api/generate endpoint without streaming.
type Ollama struct {
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	http        httpClient
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options ollamaOptions `json:"options"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

// NewOllama creates an Ollama completion client.
func NewOllama(cfg config.LLMConfig, opts ...Option) *Ollama {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &Ollama{
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http:        newHTTPClient("ollama generate", cfg, opts),
	}
}

// Complete renders the prompt with its contexts and returns the generated text.
func (o *Ollama) Complete(ctx context.Context, prompt string, contexts []string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	req := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  RenderPrompt(prompt, contexts),
		Options: ollamaOptions{Temperature: o.temperature, NumPredict: o.maxTokens},
	}
	var out ollamaGenerateResponse
	if err := o.http.postJSON(ctx, o.baseURL+"/api/generate", nil, req, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Response), nil
}
