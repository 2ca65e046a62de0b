package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fstsettat/formabot/internal/retry"
)

var fastRetry = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}

func TestOllamaEmbedder_EmbedBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("model got %q, want test-model", req.Model)
		}
		out := ollamaEmbedResponse{}
		for range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{3, 4, 0})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer server.Close()

	e, err := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL + "/", Model: "test-model", Dimensions: 3})
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}
	if vecs[0][0] != 0.6 || vecs[0][1] != 0.8 {
		t.Errorf("vector should be unit length, got %v", vecs[0])
	}
}

func TestOllamaEmbedder_RetriesServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 0}}})
	}))
	defer server.Close()

	e, _ := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Dimensions: 2}, WithOllamaRetry(fastRetry))
	if _, err := e.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls got %d, want 3", calls)
	}
}

func TestOllamaEmbedder_ClientErrorIsNotRetried(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	e, _ := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Dimensions: 2}, WithOllamaRetry(fastRetry))
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error on 404")
	}
	if calls != 1 {
		t.Errorf("calls got %d, want 1", calls)
	}
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 0, 0}}})
	}))
	defer server.Close()

	e, _ := NewOllamaEmbedder(OllamaConfig{BaseURL: server.URL, Dimensions: 2})
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestOllamaEmbedder_Defaults(t *testing.T) {
	e, err := NewOllamaEmbedder(OllamaConfig{Dimensions: 4})
	if err != nil {
		t.Fatal(err)
	}
	if e.cfg.BaseURL != "http://localhost:11434" {
		t.Errorf("base url got %q", e.cfg.BaseURL)
	}
	if e.Model() != "nomic-embed-text" {
		t.Errorf("model got %q", e.Model())
	}
	if _, err := NewOllamaEmbedder(OllamaConfig{}); err == nil {
		t.Error("zero dimensions should be rejected")
	}
}
