// Package chi exposes the HTTP API: question ingest, batch ingest,
// similarity search, health, stats and metrics.
package chi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/quiver-search/quiver/internal/domain"
	"github.com/quiver-search/quiver/internal/logger"
	batchuc "github.com/quiver-search/quiver/internal/usecase/batch"
	healthuc "github.com/quiver-search/quiver/internal/usecase/health"
	questionuc "github.com/quiver-search/quiver/internal/usecase/question"
	searchuc "github.com/quiver-search/quiver/internal/usecase/search"
	statsuc "github.com/quiver-search/quiver/internal/usecase/stats"
	"github.com/quiver-search/quiver/internal/version"
)

// Error codes returned in the JSON error body.
const (
	codeBadRequest       = "bad_request"
	codeValidation       = "validation_failed"
	codeNotFound         = "question_not_found"
	codeImageDecode      = "image_decode_failed"
	codeModelError       = "embedding_provider_error"
	codeStoreUnavailable = "store_unavailable"
	codeRateLimited      = "rate_limited"
	codeInternal         = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server carries the usecase services behind the HTTP handlers.
type Server struct {
	questions     *questionuc.Service
	batch         *batchuc.Service
	search        *searchuc.Service
	health        *healthuc.Service
	stats         *statsuc.Service
	logger        *zap.Logger
	started       time.Time
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	questions *questionuc.Service,
	batch *batchuc.Service,
	search *searchuc.Service,
	health *healthuc.Service,
	stats *statsuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		questions: questions,
		batch:     batch,
		search:    search,
		health:    health,
		stats:     stats,
		logger:    logger,
		started:   time.Now(),
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrQuestionNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeValidation),
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, codeValidation),
		sentinelHandler(domain.ErrImageDecode, http.StatusUnprocessableEntity, codeImageDecode),
		sentinelHandler(domain.ErrModelUnavailable, http.StatusBadGateway, codeModelError),
		sentinelHandler(domain.ErrStoreUnavailable, http.StatusServiceUnavailable, codeStoreUnavailable),
		sentinelHandler(domain.ErrRateLimited, http.StatusTooManyRequests, codeRateLimited),
	}
	return s
}

// Routes registers all endpoints on the router.
func (s *Server) Routes(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/stats", s.Stats)
	r.Get("/metrics", s.Metrics)
	r.Post("/questions", s.AddQuestion)
	r.Post("/questions/batch", s.BatchAdd)
	r.Get("/questions/{id}", s.GetQuestion)
	r.Delete("/questions/{id}", s.DeleteQuestion)
	r.Post("/search", s.Search)
}

// --- request/response DTOs ---

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type addQuestionRequest struct {
	QuestionID  string            `json:"question_id"`
	ImageBase64 string            `json:"image_base64"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type questionResponse struct {
	QuestionID string            `json:"question_id"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  int64             `json:"created_at"`
}

type batchAddRequest struct {
	Questions []addQuestionRequest `json:"questions"`
}

type batchItemResponse struct {
	QuestionID string         `json:"question_id"`
	Success    bool           `json:"success"`
	Error      *errorResponse `json:"error,omitempty"`
}

type batchAddResponse struct {
	Results   []batchItemResponse `json:"results"`
	Total     int                 `json:"total"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
}

type searchRequest struct {
	ImageBase64  string            `json:"image_base64"`
	TopK         *int              `json:"top_k,omitempty"`
	SearchMethod string            `json:"search_method,omitempty"`
	Filters      map[string]string `json:"filters,omitempty"`
}

type searchHitResponse struct {
	QuestionID string            `json:"question_id"`
	Score      float64           `json:"score"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type searchResponse struct {
	Results      []searchHitResponse `json:"results"`
	Total        int                 `json:"total"`
	SearchTimeMs float64             `json:"search_time_ms"`
}

type healthResponse struct {
	Status        string            `json:"status"`
	Checks        map[string]string `json:"checks"`
	Version       string            `json:"version"`
	UptimeSeconds float64           `json:"uptime_seconds"`
}

type statsResponse struct {
	QuestionCount       int              `json:"question_count"`
	CollectionSizeBytes int64            `json:"collection_size_bytes"`
	AvgVectorSize       int              `json:"avg_vector_size"`
	APICalls            map[string]int64 `json:"api_calls"`
	ErrorCount          int64            `json:"error_count"`
	UptimeSeconds       float64          `json:"uptime_seconds"`
}

// --- handlers ---

// AddQuestion handles POST /questions. Insert is an upsert: a repeated
// question_id replaces the stored question, answering 200 instead of 201.
func (s *Server) AddQuestion(w http.ResponseWriter, r *http.Request) {
	var req addQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	image, err := decodeImageBase64(req.ImageBase64)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	q, created, err := s.questions.Add(r.Context(), req.QuestionID, image, req.Metadata)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", "/questions/"+q.ID)
	}
	writeJSON(w, status, questionResponse{
		QuestionID: q.ID,
		Metadata:   q.Metadata,
		CreatedAt:  q.CreatedAt,
	})
}

// BatchAdd handles POST /questions/batch.
func (s *Server) BatchAdd(w http.ResponseWriter, r *http.Request) {
	var req batchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Questions) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "questions must not be empty")
		return
	}

	items := make([]batchuc.Item, len(req.Questions))
	for i, q := range req.Questions {
		items[i] = batchuc.Item{ID: q.QuestionID, Metadata: q.Metadata}
		// A bad base64 payload becomes a per-item error, not a request error.
		image, err := decodeImageBase64(q.ImageBase64)
		if err != nil {
			items[i].Err = err
			continue
		}
		items[i].Image = image
	}

	results := s.batch.Add(r.Context(), items)

	resp := batchAddResponse{
		Results: make([]batchItemResponse, len(results)),
		Total:   len(results),
	}
	for i, res := range results {
		item := batchItemResponse{QuestionID: res.ID, Success: res.Err == nil}
		if res.Err != nil {
			resp.Failed++
			item.Error = &errorResponse{
				Code:    errorCode(res.Err),
				Message: clientMessage(res.Err),
			}
		} else {
			resp.Succeeded++
		}
		resp.Results[i] = item
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetQuestion handles GET /questions/{id}.
func (s *Server) GetQuestion(w http.ResponseWriter, r *http.Request) {
	q, err := s.questions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, questionResponse{
		QuestionID: q.ID,
		Metadata:   q.Metadata,
		CreatedAt:  q.CreatedAt,
	})
}

// DeleteQuestion handles DELETE /questions/{id}.
func (s *Server) DeleteQuestion(w http.ResponseWriter, r *http.Request) {
	if err := s.questions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles POST /search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	if req.TopK != nil && (*req.TopK < 1 || *req.TopK > searchuc.MaxTopK) {
		writeError(w, http.StatusBadRequest, codeValidation,
			fmt.Sprintf("top_k must be between 1 and %d", searchuc.MaxTopK))
		return
	}

	image, err := decodeImageBase64(req.ImageBase64)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	query := searchuc.Query{
		Image:   image,
		Method:  domain.SearchMethod(req.SearchMethod),
		Filters: req.Filters,
	}
	if req.TopK != nil {
		query.TopK = *req.TopK
	}

	start := time.Now()
	hits, err := s.search.Search(r.Context(), query)
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	resp := searchResponse{
		Results:      make([]searchHitResponse, len(hits)),
		Total:        len(hits),
		SearchTimeMs: float64(time.Since(start).Microseconds()) / 1000,
	}
	for i, h := range hits {
		resp.Results[i] = searchHitResponse{
			QuestionID: h.ID,
			Score:      h.Score,
			Metadata:   h.Metadata,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:        string(report.Status),
		Checks:        checks,
		Version:       version.Version,
		UptimeSeconds: time.Since(s.started).Seconds(),
	})
}

// Stats handles GET /stats.
func (s *Server) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Collect(r.Context())
	if err != nil {
		s.handleDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		QuestionCount:       st.QuestionCount,
		CollectionSizeBytes: st.CollectionSizeBytes,
		AvgVectorSize:       st.AvgVectorSizeBytes,
		APICalls:            st.APICalls,
		ErrorCount:          st.ErrorCount,
		UptimeSeconds:       st.UptimeSeconds,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// --- helpers ---

// decodeImageBase64 decodes the image payload, accepting a plain base64
// string or a data URI ("data:image/png;base64,...").
func decodeImageBase64(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("image_base64 is required: %w", domain.ErrValidation)
	}
	if strings.HasPrefix(s, "data:") {
		_, after, found := strings.Cut(s, ",")
		if !found {
			return nil, fmt.Errorf("malformed data URI: %w", domain.ErrValidation)
		}
		s = after
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("image_base64 is not valid base64: %w", domain.ErrValidation)
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrQuestionNotFound,
		domain.ErrVectorDimMismatch,
		domain.ErrValidation,
		domain.ErrImageDecode,
		domain.ErrModelUnavailable,
		domain.ErrStoreUnavailable,
		domain.ErrRateLimited,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// clientMessage echoes our own validation detail, which names what was
// wrong with the input; everything else falls back to the sentinel message.
func clientMessage(err error) string {
	if errors.Is(err, domain.ErrValidation) {
		return err.Error()
	}
	return safeDomainMessage(err)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrQuestionNotFound):
		return codeNotFound
	case errors.Is(err, domain.ErrVectorDimMismatch):
		return codeValidation
	case errors.Is(err, domain.ErrValidation):
		return codeValidation
	case errors.Is(err, domain.ErrImageDecode):
		return codeImageDecode
	case errors.Is(err, domain.ErrModelUnavailable):
		return codeModelError
	case errors.Is(err, domain.ErrStoreUnavailable):
		return codeStoreUnavailable
	case errors.Is(err, domain.ErrRateLimited):
		return codeRateLimited
	default:
		return codeInternal
	}
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	log := logger.FromContext(ctx)
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			log.Warn("request failed", zap.Error(err))
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternal, "internal error")
}
