package httpapi

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nedlabs/ned/internal/session"
)

// maxUploadBytes caps multipart video uploads at 512 MiB.
const maxUploadBytes = 512 << 20

type createSessionRequest struct {
	ConfigID      string `json:"config_id"`
	VoiceProvider string `json:"voice_provider"`
	VoiceStyle    string `json:"voice_style"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	Mode      string    `json:"mode"`
	Status    string    `json:"status"`
	ConfigID  string    `json:"config_id"`
	WSURL     string    `json:"ws_url"`
	CreatedAt time.Time `json:"created_at"`
}

func sessionToResponse(sess *session.Session) sessionResponse {
	return sessionResponse{
		SessionID: sess.ID,
		Mode:      string(sess.Mode),
		Status:    string(sess.Status()),
		ConfigID:  sess.ConfigID,
		WSURL:     "/v1/sessions/" + sess.ID + "/ws",
		CreatedAt: sess.CreatedAt,
	}
}

func (s *Server) handleCreateLiveSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.ConfigID) == "" {
		respondError(w, http.StatusBadRequest, "missing_config_id", "config_id is required")
		return
	}
	sess, err := s.orch.CreateSession(session.ModeLive, req.ConfigID, s.voiceProvider(req.VoiceProvider), req.VoiceStyle)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sessionToResponse(sess))
}

func (s *Server) handleCreateUploadSession(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_multipart", err.Error())
		return
	}

	configID := strings.TrimSpace(r.FormValue("config_id"))
	if configID == "" {
		respondError(w, http.StatusBadRequest, "missing_config_id", "config_id is required")
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing_video", "multipart field video is required")
		return
	}
	defer file.Close()

	sess, err := s.orch.CreateSession(session.ModeUpload, configID, s.voiceProvider(r.FormValue("voice_provider")), r.FormValue("voice_style"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	videoPath, err := s.saveUpload(sess.ID, header.Filename, file)
	if err != nil {
		_ = s.orch.RemoveSession(sess.ID)
		respondError(w, http.StatusInternalServerError, "upload_failed", err.Error())
		return
	}
	sess.SetVideoPath(videoPath)

	respondJSON(w, http.StatusCreated, sessionToResponse(sess))
}

func (s *Server) voiceProvider(requested string) string {
	if strings.TrimSpace(requested) == "" {
		return s.cfg.DefaultVoiceProvider
	}
	return requested
}

func (s *Server) saveUpload(sessionID, filename string, src io.Reader) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".mp4"
	}
	dir := filepath.Join(s.cfg.DataDir, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "input"+ext)

	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.Session(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionToResponse(sess))
}

func (s *Server) handleStartUpload(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.StartUpload(chi.URLParam(r, "id")); err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "processing"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, err := s.orch.Session(chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if sess.Status() != session.StatusCompleted || sess.OutputPath() == "" {
		respondError(w, http.StatusConflict, "not_ready", "session output is not ready")
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="coached_output.mp4"`)
	http.ServeFile(w, r, sess.OutputPath())
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.orch.Session(id); err != nil {
		respondDomainError(w, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := s.store.BySession(r.Context(), id, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "archive_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "feedback": records})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.RemoveSession(id); err != nil {
		respondDomainError(w, err)
		return
	}
	if err := os.RemoveAll(filepath.Join(s.cfg.DataDir, id)); err != nil {
		respondError(w, http.StatusInternalServerError, "cleanup_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
