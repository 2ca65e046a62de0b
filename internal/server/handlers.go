package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fstsettat/formabot/internal/cache"
	"github.com/fstsettat/formabot/internal/indexer"
	"github.com/fstsettat/formabot/internal/models"
	"github.com/fstsettat/formabot/internal/search"
	"github.com/fstsettat/formabot/internal/storage"
	"go.uber.org/zap"
)

// StatusConfig is the configuration summary reported by status.
type StatusConfig struct {
	IndexType           string `json:"index_type"`
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingModel      string `json:"embedding_model"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
	ChunkSize           int    `json:"chunk_size"`
	ChunkOverlap        int    `json:"chunk_overlap"`
	LLMProvider         string `json:"llm_provider"`
	LLMModel            string `json:"llm_model"`
	DocumentsDir        string `json:"documents_dir"`
	StoreDir            string `json:"store_dir"`
	CacheDir            string `json:"cache_dir"`
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	IndexSize      int           `json:"index_size"`
	CatalogFiles   *int64        `json:"catalog_files,omitempty"`
	CatalogChunks  *int64        `json:"catalog_chunks,omitempty"`
	KeywordDocs    *uint64       `json:"keyword_docs,omitempty"`
	Cache          cache.Stats   `json:"cache"`
	DiskUsageBytes *int64        `json:"disk_usage_bytes,omitempty"`
	Config         *StatusConfig `json:"config,omitempty"`
}

type askRequest struct {
	Question string `json:"question"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		s.respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	s.logger.Debug("ask request", zap.String("question", req.Question))
	s.respondJSON(w, http.StatusOK, s.engine.Ask(r.Context(), req.Question))
}

type searchResponse struct {
	Query   string                 `json:"query"`
	Total   int                    `json:"total"`
	Results []models.ScoredPassage `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("search request", zap.String("query", query.Query), zap.Int("k", query.K))
	results, err := s.engine.Search(r.Context(), &query)
	switch {
	case errors.Is(err, search.ErrNoIndex):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil && query.Query == "":
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []models.ScoredPassage{}
	}
	s.respondJSON(w, http.StatusOK, searchResponse{Query: query.Query, Total: len(results), Results: results})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Ingest(r.Context())
	switch {
	case errors.Is(err, indexer.ErrLocked):
		s.respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, indexer.ErrNoDocuments):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "index_size": s.engine.IndexSize()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		s.logger.Error("status failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleFormations(w http.ResponseWriter, r *http.Request) {
	formations, err := s.service.Formations(r.Context())
	switch {
	case errors.Is(err, ErrCatalogDisabled):
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Error("formations failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if formations == nil {
		formations = []storage.FormationSummary{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"formations": formations})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
