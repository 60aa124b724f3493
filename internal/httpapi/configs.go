package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListConfigs(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"configs": s.orch.Configs().List()})
}

func (s *Server) handleListCategories(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"categories": s.orch.Configs().Categories()})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.orch.Configs().Get(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleListByCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")
	configs := s.orch.Configs().ListByCategory(category)
	if len(configs) == 0 {
		respondError(w, http.StatusNotFound, "category_not_found", "no configs in category "+category)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"category": category, "configs": configs})
}
