package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/smartstream/internal/audio"
	"github.com/ashureev/smartstream/internal/capture"
	"github.com/ashureev/smartstream/internal/identity"
	"github.com/ashureev/smartstream/internal/session"
	"github.com/ashureev/smartstream/internal/transport"
	"github.com/go-chi/chi/v5"
)

// startLocks prevents concurrent start requests for the same user.
var startLocks sync.Map

// SessionHandler handles the start/stop/status endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/session", h.Status)
	r.Post("/api/session/start", h.Start)
	r.Post("/api/session/stop", h.Stop)
}

// Start opens a streaming session for the current user.
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	lock, _ := startLocks.LoadOrStore(userID, &sync.Mutex{})
	mutex := lock.(*sync.Mutex)
	if !mutex.TryLock() {
		slog.Warn("Session start already in progress", "user_id", userID)
		Error(w, http.StatusConflict, "start_in_progress")
		return
	}
	defer func() {
		mutex.Unlock()
		startLocks.Delete(userID)
	}()

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		slog.Error("Failed to get user for session start", "error", err, "user_id", userID)
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	status, err := h.streamer.Start(r.Context(), *user)
	if err != nil {
		code, msg := startErrorStatus(err)
		slog.Warn("Failed to start session", "error", err, "user_id", userID, "status", code)
		JSON(w, code, map[string]interface{}{
			"error":   msg,
			"detail":  err.Error(),
			"session": status,
		})
		return
	}

	JSON(w, http.StatusOK, status)
}

func startErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrAlreadyActive):
		return http.StatusConflict, "session_active"
	case errors.Is(err, capture.ErrPermissionDenied), errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden, "permission_denied"
	case errors.Is(err, capture.ErrSourceUnavailable), errors.Is(err, audio.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable, "device_unavailable"
	case errors.Is(err, transport.ErrTransportFailure):
		return http.StatusBadGateway, "backend_unreachable"
	default:
		return http.StatusInternalServerError, "start_failed"
	}
}

// Stop ends the current user's session. Stopping with no session is not an error.
func (h *SessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, h.streamer.Stop(userID))
}

// Status reports the current user's session state and duration.
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	JSON(w, http.StatusOK, h.streamer.Status(userID))
}
