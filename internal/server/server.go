// Package server exposes the ingestion pipeline and the record store over a
// JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/TobiSchelling/toolscout/internal/database"
	"github.com/TobiSchelling/toolscout/internal/digest"
	"github.com/TobiSchelling/toolscout/internal/fetch"
	"github.com/TobiSchelling/toolscout/internal/logging"
	"github.com/TobiSchelling/toolscout/internal/model"
	"github.com/TobiSchelling/toolscout/internal/pipeline"
	"github.com/TobiSchelling/toolscout/internal/refresh"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Processor ingests a source URL.
type Processor interface {
	ProcessSourceURL(ctx context.Context, raw, kindHint string) (*pipeline.Result, error)
}

// Refresher runs one maintenance pass.
type Refresher interface {
	RunOnce(ctx context.Context) *refresh.Report
}

// Store is the read side of the record store.
type Store interface {
	GetSource(ctx context.Context, id string) (*model.Source, error)
	QuerySources(ctx context.Context, field string, value any, limit int) ([]model.Source, error)
	ListChannels(ctx context.Context) ([]model.Channel, error)
	Stats(ctx context.Context) (database.Stats, error)
}

// Digester composes tool digests.
type Digester interface {
	Compose(ctx context.Context, since time.Time) (*digest.Digest, error)
}

// Deps are the collaborators the server routes to. Digest may be nil.
type Deps struct {
	Pipeline     Processor
	Refresher    Refresher
	Store        Store
	Digest       Digester
	DigestWindow time.Duration
}

// Server is the HTTP API server.
type Server struct {
	deps   Deps
	logger *zap.Logger
	router *chi.Mux
	now    func() time.Time
}

// New creates a new Server.
func New(deps Deps, logger *zap.Logger) *Server {
	if deps.DigestWindow <= 0 {
		deps.DigestWindow = 24 * time.Hour
	}
	s := &Server{deps: deps, logger: logging.OrNop(logger), router: chi.NewRouter(), now: time.Now}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/sources", s.handleAddSource)
		r.Post("/sources/refresh", s.handleRefresh)
		r.Get("/sources", s.handleListSources)
		r.Get("/sources/{id}", s.handleGetSource)
		r.Get("/channels", s.handleListChannels)
	})
	if s.deps.Digest != nil {
		s.router.Get("/digest", s.handleDigest)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "stats": stats})
}

func (s *Server) handleAddSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL  string `json:"url"`
		Type string `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON body"))
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}

	res, err := s.deps.Pipeline.ProcessSourceURL(r.Context(), req.URL, req.Type)
	if err != nil {
		code := statusFor(err)
		if code >= 500 {
			s.logger.Error("processing source failed", zap.String("url", req.URL), zap.Error(err))
		}
		writeError(w, code, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	var se *fetch.StatusError
	switch {
	case errors.Is(err, pipeline.ErrUnsupportedSource):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrItemNotFound), errors.Is(err, pipeline.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.As(err, &se):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	rep := s.deps.Refresher.RunOnce(r.Context())
	steps := make([]map[string]any, 0, len(rep.Steps))
	success := true
	for _, st := range rep.Steps {
		entry := map[string]any{
			"name":      st.Name,
			"summary":   st.Summary,
			"attempted": st.Attempted,
			"failed":    st.Failed,
		}
		if st.Err != nil {
			entry["error"] = st.Err.Error()
			success = false
		}
		steps = append(steps, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         success,
		"runId":           rep.RunID,
		"duration":        rep.Duration.Milliseconds(),
		"budgetExhausted": rep.BudgetExhausted,
		"steps":           steps,
	})
}

func (s *Server) handleListSources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = min(n, maxListLimit)
	}

	field, value := "", any(nil)
	switch {
	case q.Get("needs_repair") != "":
		field, value = "needs_repair", q.Get("needs_repair")
	case q.Get("kind") != "":
		kind := model.ParseKind(q.Get("kind"))
		if kind == "" {
			writeError(w, http.StatusBadRequest, errors.New("unknown kind"))
			return
		}
		field, value = "source_kind", string(kind)
	}

	sources, err := s.deps.Store.QuerySources(r.Context(), field, value, limit)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, database.ErrUnknownField) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err)
		return
	}
	if sources == nil {
		sources = []model.Source{}
	}
	writeJSON(w, http.StatusOK, sources)
}

func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	src, err := s.deps.Store.GetSource(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if src == nil {
		writeError(w, http.StatusNotFound, errors.New("source not found"))
		return
	}
	writeJSON(w, http.StatusOK, src)
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := s.deps.Store.ListChannels(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if channels == nil {
		channels = []model.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Digest.Compose(r.Context(), s.now().Add(-s.deps.DigestWindow))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	page, err := d.Page()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(page))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
