package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fstsettat/formabot/internal/config"
)

// OpenAI calls an OpenAI-compatible /v1/chat/completions endpoint. The
// rendered context goes in the system message and the question in the user
// message.
type OpenAI struct {
	baseURL     string
	model       string
	apiKey      string
	temperature float64
	maxTokens   int
	http        httpClient
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewOpenAI creates an OpenAI-compatible completion client.
func NewOpenAI(cfg config.LLMConfig, opts ...Option) *OpenAI {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAI{
		baseURL:     baseURL,
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		http:        newHTTPClient("openai chat", cfg, opts),
	}
}

// Complete returns the first choice's message content.
func (o *OpenAI) Complete(ctx context.Context, prompt string, contexts []string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", ErrEmptyPrompt
	}
	req := chatRequest{
		Model: o.model,
		Messages: []chatMessage{
			{Role: "system", Content: RenderSystem(contexts)},
			{Role: "user", Content: prompt},
		},
		Temperature: o.temperature,
		MaxTokens:   o.maxTokens,
	}
	header := http.Header{}
	if o.apiKey != "" {
		header.Set("Authorization", "Bearer "+o.apiKey)
	}
	var out chatResponse
	if err := o.http.postJSON(ctx, o.baseURL+"/v1/chat/completions", header, req, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}
