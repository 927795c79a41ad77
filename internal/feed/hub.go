package feed

import (
	"log/slog"
	"sync"
)

// Subscriber receives events for one user.
type Subscriber interface {
	Deliver(ev Event)
	Close() error
}

// Hub tracks subscribers per user and tab.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]Subscriber
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		active: make(map[string]map[string]Subscriber),
		logger: logger,
	}
}

// Get returns the subscriber registered for a user and connection id.
func (h *Hub) Get(userID, connID string) Subscriber {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if subs, ok := h.active[userID]; ok {
		return subs[connID]
	}
	return nil
}

// Count returns the number of subscribers for a user.
func (h *Hub) Count(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[userID])
}

// Register adds a subscriber, closing any previous one with the same id.
func (h *Hub) Register(userID, connID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[userID]; !exists {
		h.active[userID] = make(map[string]Subscriber)
	}

	if existing, exists := h.active[userID][connID]; exists && existing != sub {
		_ = existing.Close()
	}

	h.active[userID][connID] = sub
	h.logger.Info("Reply subscriber registered", "user_id", userID, "conn_id", connID)
}

// Unregister removes sub if it is still the current subscriber for the id.
func (h *Hub) Unregister(userID, connID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.active[userID]; ok {
		if current, exists := subs[connID]; exists && current == sub {
			delete(subs, connID)
			if len(subs) == 0 {
				delete(h.active, userID)
			}
			h.logger.Info("Reply subscriber unregistered", "user_id", userID, "conn_id", connID)
		}
	}
}

// Publish delivers ev to every subscriber of userID. Delivery never blocks.
func (h *Hub) Publish(userID string, ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.active[userID] {
		sub.Deliver(ev)
	}
}

// CloseUser closes and removes every subscriber for a user.
func (h *Hub) CloseUser(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.active[userID]
	if !ok {
		return
	}
	for connID, sub := range subs {
		_ = sub.Close()
		h.logger.Info("Reply subscriber closed", "user_id", userID, "conn_id", connID)
	}
	delete(h.active, userID)
}
