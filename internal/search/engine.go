// Package search answers questions about the academic programs: it detects
// the formation and intent of a question, retrieves passages from the vector
// store, builds a structured context and asks the completer for an answer.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fstsettat/formabot/internal/config"
	"github.com/fstsettat/formabot/internal/keyword"
	"github.com/fstsettat/formabot/internal/llm"
	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/internal/vector"
	"go.uber.org/zap"
)

// QueryEmbedder embeds questions the same way passages were embedded.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Normalizer rewrites a question into the corpus language.
type Normalizer interface {
	Normalize(ctx context.Context, question string) (string, string)
}

// Response is the outcome of Ask. Error carries the raw failure when Answer
// is the generic error message.
type Response struct {
	Question       string   `json:"question"`
	Answer         string   `json:"answer"`
	ContextUsed    string   `json:"context_used"`
	DocumentsFound int      `json:"documents_found"`
	FormationID    string   `json:"formation_id"`
	Intent         string   `json:"intent"`
	Reactions      []string `json:"reactions"`
	Error          string   `json:"error,omitempty"`
}

// Engine answers questions over a vector store. The store may be swapped
// with SetStore while queries run.
type Engine struct {
	mu    sync.RWMutex
	store *vector.Store

	embedder   QueryEmbedder
	completer  llm.Completer
	normalizer Normalizer
	keywords   keyword.PassageIndex
	cfg        config.QueryConfig
	llmTimeout time.Duration
	logger     *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithNormalizer enables question translation.
func WithNormalizer(n Normalizer) Option {
	return func(e *Engine) { e.normalizer = n }
}

// WithKeywordIndex adds a keyword pass to retrieval.
func WithKeywordIndex(idx keyword.PassageIndex) Option {
	return func(e *Engine) { e.keywords = idx }
}

// WithLLMTimeout bounds each completion call.
func WithLLMTimeout(d time.Duration) Option {
	return func(e *Engine) { e.llmTimeout = d }
}

// NewEngine creates an engine. store may be nil until the first ingestion.
func NewEngine(store *vector.Store, embedder QueryEmbedder, completer llm.Completer, cfg config.QueryConfig, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		embedder:   embedder,
		completer:  completer,
		cfg:        cfg,
		llmTimeout: 60 * time.Second,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetStore replaces the store and closes the previous one once no query is
// reading it.
func (e *Engine) SetStore(s *vector.Store) {
	e.mu.Lock()
	old := e.store
	e.store = s
	e.mu.Unlock()
	if old != nil && old != s {
		if err := old.Close(); err != nil {
			e.logger.Warn("Failed to close previous store", zap.Error(err))
		}
	}
}

// IndexSize returns the number of stored passages.
func (e *Engine) IndexSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.store == nil {
		return 0
	}
	return e.store.Len()
}

// Close closes the current store.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}

// Ask answers question. Failures are reported in the response, never returned.
func (e *Engine) Ask(ctx context.Context, question string) (resp *Response) {
	start := time.Now()
	resp = &Response{Question: question, Reactions: Reactions(question)}
	defer func() {
		if r := recover(); r != nil {
			e.fail(resp, fmt.Errorf("panic: %v", r))
		}
	}()

	if utf8.RuneCountInString(strings.TrimSpace(question)) < 2 {
		resp.Answer = ShortQuestionAnswer
		return resp
	}

	normalized := question
	if e.normalizer != nil {
		normalized, _ = e.normalizer.Normalize(ctx, question)
	}
	formation := DetectFormation(normalized, e.cfg.FormationKeywords)
	intent := DetectIntent(normalized, e.cfg.IntentKeywords)
	resp.FormationID, resp.Intent = formation.Name, intent.Name

	passages, err := e.retrieve(ctx, normalized, formation)
	if err != nil {
		e.fail(resp, err)
		return resp
	}
	if len(passages) == 0 {
		resp.Answer = NoInfoAnswer(formation.Name, intent.Name)
		e.logger.Info("No passages found",
			zap.String("formation", formation.Name), zap.String("intent", intent.Name))
		return resp
	}

	contextText := BuildContext(passages)
	llmCtx, cancel := context.WithTimeout(ctx, e.llmTimeout)
	defer cancel()
	answer, err := e.completer.Complete(llmCtx, BuildPrompt(question, formation.Name), []string{contextText})
	if err != nil {
		e.fail(resp, fmt.Errorf("generate answer: %w", err))
		return resp
	}
	answer = PostProcess(answer)
	if answer == "" {
		answer = ApologyAnswer
	}
	resp.Answer = answer
	resp.ContextUsed = contextText
	resp.DocumentsFound = len(passages)
	e.logger.Info("Answered question",
		zap.String("formation", formation.Name),
		zap.String("intent", intent.Name),
		zap.Int("documents", len(passages)),
		zap.Duration("duration", time.Since(start)))
	return resp
}

func (e *Engine) fail(resp *Response, err error) {
	e.logger.Error("Failed to answer question", zap.String("question", resp.Question), zap.Error(err))
	resp.Answer = ErrorAnswer
	resp.ContextUsed = ""
	resp.DocumentsFound = 0
	resp.Error = err.Error()
}

// retrieve runs the similarity, diversity and keyword passes and returns the
// union without duplicates, in first-seen order.
// Passages are filtered on the formation's IndexID.
func (e *Engine) retrieve(ctx context.Context, question string, formation Detection) ([]models.Passage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.store == nil || e.store.Len() == 0 {
		return nil, nil
	}
	var filter map[string]string
	if formation.Name != models.UnknownFormation {
		filter = map[string]string{models.KeyFormationID: formation.IndexID}
	}

	qvec, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, err
	}
	primary, err := e.store.SimilaritySearch(ctx, qvec, vector.SearchOptions{
		K: e.cfg.KPrimary, Filter: filter, ScoreFloor: e.cfg.SimilarityFloor,
	})
	if err != nil {
		return nil, err
	}

	mvec, err := e.embedder.EmbedQuery(ctx, "modules programme "+formation.Name)
	if err != nil {
		return nil, err
	}
	diverse, err := e.store.MaxMarginalRelevance(ctx, mvec, vector.MMROptions{
		K: e.cfg.KDiversity, FetchK: e.cfg.MMRFetchK, Lambda: e.cfg.MMRLambda, Filter: filter,
	})
	if err != nil {
		return nil, err
	}

	var all []models.Passage
	for _, sp := range primary {
		all = append(all, sp.Passage)
	}
	for _, sp := range diverse {
		all = append(all, sp.Passage)
	}
	for _, sp := range e.keywordPass(ctx, question, filter) {
		all = append(all, sp.Passage)
	}
	return Dedupe(all), nil
}

// keywordPass returns keyword hits that resolve to stored passages. Keyword
// index failures are logged and yield no hits. The caller holds e.mu.
func (e *Engine) keywordPass(ctx context.Context, question string, filter map[string]string) []models.ScoredPassage {
	if e.keywords == nil {
		return nil
	}
	hits, err := e.keywords.Search(ctx, question, e.cfg.KPrimary, &keyword.SearchOptions{Filter: filter})
	if err != nil {
		e.logger.Warn("Keyword search failed", zap.Error(err))
		return nil
	}
	scores := NormalizeKeywordScores(hits)
	out := make([]models.ScoredPassage, 0, len(hits))
	for _, h := range hits {
		if p, ok := e.store.Get(h.ID); ok {
			out = append(out, models.ScoredPassage{Passage: p, Score: scores[h.ID]})
		}
	}
	return out
}

// Dedupe drops passages whose chunk_id, or text hash when the id is missing,
// was already seen.
func Dedupe(passages []models.Passage) []models.Passage {
	seen := make(map[string]bool, len(passages))
	out := make([]models.Passage, 0, len(passages))
	for _, p := range passages {
		key := p.ChunkID()
		if key == "" {
			key = "text:" + models.ContentKey(p.Text)
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// ErrNoIndex is returned by Search before any document has been ingested.
var ErrNoIndex = errors.New("vector index not loaded")

// Search returns the passages most similar to query.Query, without their
// embeddings.
func (e *Engine) Search(ctx context.Context, query *models.SearchQuery) ([]models.ScoredPassage, error) {
	if err := ProcessQuery(query); err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.store == nil {
		return nil, ErrNoIndex
	}
	vec, err := e.embedder.EmbedQuery(ctx, query.Query)
	if err != nil {
		return nil, err
	}
	results, err := e.store.SimilaritySearch(ctx, vec, vector.SearchOptions{
		K: query.K, Filter: query.Filter(), ScoreFloor: query.MinScore,
	})
	if err != nil {
		return nil, err
	}
	for i := range results {
		results[i].Passage.Metadata = results[i].Passage.Metadata.WithoutEmbedding()
	}
	return results, nil
}
