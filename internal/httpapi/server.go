package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/nedlabs/ned/internal/archive"
	"github.com/nedlabs/ned/internal/coach"
	"github.com/nedlabs/ned/internal/coaching"
	"github.com/nedlabs/ned/internal/config"
	"github.com/nedlabs/ned/internal/observability"
	"github.com/nedlabs/ned/internal/segment"
	"github.com/nedlabs/ned/internal/session"
)

type Server struct {
	cfg      config.Config
	orch     *coach.Orchestrator
	store    archive.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, orch *coach.Orchestrator, store archive.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		orch:    orch,
		store:   store,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers unless explicitly opened up;
				// non-browser clients omit Origin and are allowed.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/configs", s.handleListConfigs)
	r.Get("/v1/configs/categories", s.handleListCategories)
	r.Get("/v1/configs/categories/{category}", s.handleListByCategory)
	r.Get("/v1/configs/{id}", s.handleGetConfig)

	r.Post("/v1/sessions/live", s.handleCreateLiveSession)
	r.Post("/v1/sessions/upload", s.handleCreateUploadSession)
	r.Get("/v1/sessions/{id}", s.handleGetSession)
	r.Post("/v1/sessions/{id}/start", s.handleStartUpload)
	r.Get("/v1/sessions/{id}/download", s.handleDownload)
	r.Get("/v1/sessions/{id}/feedback", s.handleFeedback)
	r.Delete("/v1/sessions/{id}", s.handleDeleteSession)
	r.Get("/v1/sessions/{id}/ws", s.handleSessionWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":  "ready",
		"configs": len(s.orch.Configs().List()),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondDomainError maps typed orchestrator rejections onto HTTP.
func respondDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, coaching.ErrNotFound):
		respondError(w, http.StatusNotFound, "config_not_found", err.Error())
	case errors.Is(err, session.ErrTerminal):
		respondError(w, http.StatusConflict, "session_closed", err.Error())
	case errors.Is(err, segment.ErrFull):
		respondError(w, http.StatusTooManyRequests, "queue_full", err.Error())
	case errors.Is(err, coach.ErrAlreadyRunning):
		respondError(w, http.StatusConflict, "already_processing", err.Error())
	case errors.Is(err, coach.ErrNotUpload), errors.Is(err, coach.ErrNoVideo):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}
