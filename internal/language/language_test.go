package language

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fstsettat/formabot/internal/config"
	"go.uber.org/zap"
)

type stubTranslator struct {
	out   string
	err   error
	calls int
}

func (s *stubTranslator) Translate(_ context.Context, _, _, _ string) (string, error) {
	s.calls++
	return s.out, s.err
}

func fixedLang(lang string) func(string) string {
	return func(string) string { return lang }
}

func testConfig() config.LanguageConfig {
	return config.LanguageConfig{Target: "fr", Supported: []string{"fr", "en", "ar"}, Timeout: time.Second}
}

func TestNormalizer_Normalize(t *testing.T) {
	tests := []struct {
		name      string
		lang      string
		tr        *stubTranslator
		want      string
		wantCalls int
	}{
		{name: "target passes through", lang: "fr", tr: &stubTranslator{out: "x"}, want: "Quels modules ?", wantCalls: 0},
		{name: "unsupported passes through", lang: "de", tr: &stubTranslator{out: "x"}, want: "Quels modules ?", wantCalls: 0},
		{name: "undetected passes through", lang: "", tr: &stubTranslator{out: "x"}, want: "Quels modules ?", wantCalls: 0},
		{name: "supported is translated", lang: "en", tr: &stubTranslator{out: "Quels sont les modules ?"}, want: "Quels sont les modules ?", wantCalls: 1},
		{name: "translation error falls back", lang: "ar", tr: &stubTranslator{err: errors.New("down")}, want: "Quels modules ?", wantCalls: 1},
		{name: "empty translation falls back", lang: "en", tr: &stubTranslator{out: "  "}, want: "Quels modules ?", wantCalls: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := NewNormalizer(testConfig(), tt.tr, WithDetector(fixedLang(tt.lang)), WithLogger(zap.NewNop()))
			got, lang := n.Normalize(context.Background(), "Quels modules ?")
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if lang != tt.lang {
				t.Errorf("lang got %q, want %q", lang, tt.lang)
			}
			if tt.tr.calls != tt.wantCalls {
				t.Errorf("got %d translator calls, want %d", tt.tr.calls, tt.wantCalls)
			}
		})
	}
}

func TestNormalizer_NilTranslator(t *testing.T) {
	n := NewNormalizer(testConfig(), nil, WithDetector(fixedLang("en")))
	if got, _ := n.Normalize(context.Background(), "Which modules?"); got != "Which modules?" {
		t.Errorf("got %q, want input unchanged", got)
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"Quelles sont les conditions d'admission pour le master en réseaux et systèmes informatiques ?", "fr"},
		{"What are the admission requirements for the networks and computer systems master degree?", "en"},
	}
	for _, tt := range tests {
		if got := Detect(tt.text); got != tt.want {
			t.Errorf("Detect(%q) got %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestLibreTranslate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/translate" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req translateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.Source != "en" || req.Target != "fr" || req.Format != "text" {
			t.Errorf("got request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(translateResponse{TranslatedText: "Bonjour"})
	}))
	defer server.Close()

	got, err := NewLibreTranslate(server.URL+"/", nil).Translate(context.Background(), "Hello", "en", "fr")
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if got != "Bonjour" {
		t.Errorf("got %q, want Bonjour", got)
	}
}

func TestLibreTranslate_Status(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad language", http.StatusBadRequest)
	}))
	defer server.Close()

	if _, err := NewLibreTranslate(server.URL, nil).Translate(context.Background(), "x", "en", "fr"); err == nil {
		t.Fatal("expected error")
	}
}

func TestNormalizer_TranslatorTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	n := NewNormalizer(cfg, NewLibreTranslate(server.URL, nil), WithDetector(fixedLang("en")))
	if got, _ := n.Normalize(context.Background(), "Which modules?"); got != "Which modules?" {
		t.Errorf("got %q, want fallback to input", got)
	}
}
