package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fenwray/flowvid/internal/jobs"
	"github.com/fenwray/flowvid/internal/videostore"
)

type createVideoRequest struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	ModelKey    string `json:"model_key,omitempty"`
	Seed        *int64 `json:"seed,omitempty"`
	SceneID     string `json:"scene_id,omitempty"`
}

func (s *Server) handleVideos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateVideo(w, r)
	case http.MethodGet:
		s.handleListVideos(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateVideo(w http.ResponseWriter, r *http.Request) {
	var req createVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	video := &videostore.Video{
		ID:          uuid.NewString(),
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		ModelKey:    req.ModelKey,
		SceneID:     req.SceneID,
	}
	if video.SceneID == "" {
		video.SceneID = uuid.NewString()
	}
	if req.Seed != nil {
		video.Seed = sql.NullInt64{Int64: *req.Seed, Valid: true}
	}

	if err := s.store.Create(r.Context(), video); err != nil {
		s.logger.Error().Err(err).Msg("create video failed")
		writeError(w, http.StatusInternalServerError, "could not create video")
		return
	}
	if err := s.queue.Enqueue(r.Context(), jobs.Job{VideoID: video.ID, SceneID: video.SceneID}); err != nil {
		s.logger.Error().Err(err).Str("video_id", video.ID).Msg("enqueue failed")
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	s.logger.Info().Str("video_id", video.ID).Msg("video accepted")
	writeJSON(w, http.StatusAccepted, video)
}

func (s *Server) handleListVideos(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	videos, err := s.store.List(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list videos failed")
		writeError(w, http.StatusInternalServerError, "could not list videos")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"videos": videos})
}

func (s *Server) handleVideoByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing video id")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetVideo(w, r, id)
	case action == "recreate" && r.Method == http.MethodPost:
		s.handleRecreateVideo(w, r, id)
	case action != "" && action != "recreate":
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleGetVideo(w http.ResponseWriter, r *http.Request, id string) {
	video, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, videostore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}
		s.logger.Error().Err(err).Str("video_id", id).Msg("get video failed")
		writeError(w, http.StatusInternalServerError, "could not load video")
		return
	}
	writeJSON(w, http.StatusOK, video)
}

func (s *Server) handleRecreateVideo(w http.ResponseWriter, r *http.Request, id string) {
	clone, err := s.store.Recreate(r.Context(), id, uuid.NewString())
	if err != nil {
		if errors.Is(err, videostore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}
		s.logger.Error().Err(err).Str("video_id", id).Msg("recreate video failed")
		writeError(w, http.StatusInternalServerError, "could not recreate video")
		return
	}
	if err := s.queue.Enqueue(r.Context(), jobs.Job{VideoID: clone.ID, SceneID: clone.SceneID}); err != nil {
		s.logger.Error().Err(err).Str("video_id", clone.ID).Msg("enqueue failed")
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	s.logger.Info().Str("source_id", id).Str("video_id", clone.ID).Msg("video recreated")
	writeJSON(w, http.StatusAccepted, clone)
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": s.pool.Report()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.queue.Depth(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
