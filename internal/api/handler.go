// Package api provides HTTP handlers for the smartstream control API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/smartstream/internal/config"
	"github.com/ashureev/smartstream/internal/domain"
	"github.com/ashureev/smartstream/internal/session"
	"github.com/ashureev/smartstream/internal/store"
)

// Streamer starts and stops streaming sessions.
type Streamer interface {
	Start(ctx context.Context, user domain.User) (session.Status, error)
	Stop(userID string) session.Status
	Status(userID string) session.Status
}

// Handler provides common handler utilities.
type Handler struct {
	repo     store.Repository
	streamer Streamer
	cfg      *config.Config
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, streamer Streamer, cfg *config.Config) *Handler {
	return &Handler{
		repo:     repo,
		streamer: streamer,
		cfg:      cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
