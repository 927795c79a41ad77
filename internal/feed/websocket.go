package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ashureev/smartstream/internal/identity"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// SnapshotFunc returns the events a new subscriber should see first.
type SnapshotFunc func(userID string) []Event

// Handler upgrades /ws/replies requests and streams the user's events.
type Handler struct {
	hub           *Hub
	snapshot      SnapshotFunc
	allowedOrigin string
	isDev         bool
	queueSize     int
	logger        *slog.Logger
}

// NewHandler creates a reply feed handler.
func NewHandler(hub *Hub, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:           hub,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		queueSize:     DefaultQueueSize,
		logger:        logger,
	}
}

// SetSnapshot sets the function producing the initial events for a subscriber.
func (h *Handler) SetSnapshot(fn SnapshotFunc) {
	h.snapshot = fn
}

type wsSubscriber struct {
	*AsyncWriter
	conn *websocket.Conn
}

func (s *wsSubscriber) Close() error {
	_ = s.AsyncWriter.Close()
	return s.conn.Close(websocket.StatusNormalClosure, "subscriber closed")
}

type clientMessage struct {
	Type string `json:"type"`
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	connID := r.URL.Query().Get("conn_id")
	if connID == "" {
		connID = uuid.NewString()
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	send := func(ctx context.Context, ev Event) error {
		return writeJSON(ctx, ws, ev)
	}
	sub := &wsSubscriber{
		AsyncWriter: NewAsyncWriter(send, userID, h.queueSize, h.logger),
		conn:        ws,
	}
	defer func() { _ = sub.AsyncWriter.Close() }()

	if h.snapshot != nil {
		for _, ev := range h.snapshot(userID) {
			sub.Deliver(ev)
		}
	}

	h.hub.Register(userID, connID, sub)
	defer h.hub.Unregister(userID, connID, sub)

	h.readLoop(r.Context(), ws, userID)
}

// readLoop keeps the connection alive until the client goes away. The only
// client message understood is ping.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("Reply feed closed by client", "user_id", userID)
			} else {
				h.logger.Debug("Reply feed read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
