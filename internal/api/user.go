package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/smartstream/internal/identity"
	"github.com/ashureev/smartstream/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxUserNameLen = 64

// UserHandler serves the identity blob read by streaming sessions.
type UserHandler struct {
	*Handler
}

// NewUserHandler creates a user handler.
func NewUserHandler(base *Handler) *UserHandler {
	return &UserHandler{Handler: base}
}

// RegisterRoutes registers identity and config routes.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/me", h.GetMe)
	r.Put("/api/me", h.PutMe)
	r.Get("/api/config", h.GetConfig)
}

// GetMe returns the current user's identity.
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      user.UserID,
		"user_name":    user.UserName,
		"display_name": user.DisplayName(),
	})
}

type updateMeRequest struct {
	UserName string `json:"user_name"`
}

// PutMe sets the display name sent in the session handshake. An empty name
// falls back to the anonymous name.
func (h *UserHandler) PutMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req updateMeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.UserName)
	if utf8.RuneCountInString(name) > maxUserNameLen {
		Error(w, http.StatusBadRequest, "user_name too long")
		return
	}

	if err := h.repo.UpdateUserName(r.Context(), userID, name); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			Error(w, http.StatusUnauthorized, "user not found")
			return
		}
		slog.Error("Failed to update user name", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to update user")
		return
	}

	h.GetMe(w, r)
}

// GetConfig returns the streaming configuration for the control page.
func (h *UserHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"backend_url":       h.cfg.Backend.URL,
		"frame_interval_ms": h.cfg.Media.FrameInterval.Milliseconds(),
		"flush_interval_ms": h.cfg.Media.FlushInterval.Milliseconds(),
		"jpeg_quality":      h.cfg.Media.JPEGQuality,
		"mic_enabled":       h.cfg.Media.MicEnabled,
	})
}
