package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/smartstream/internal/domain"
	"github.com/ashureev/smartstream/internal/feed"
	"github.com/ashureev/smartstream/internal/metrics"
	"github.com/ashureev/smartstream/internal/transport"
)

// Status is the start/stop control readout for one user.
type Status struct {
	Active          bool       `json:"active"`
	State           string     `json:"state"`
	SessionID       string     `json:"session_id,omitempty"`
	UserName        string     `json:"user_name,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	Duration        string     `json:"duration"`
	LastError       string     `json:"last_error,omitempty"`
}

// Controller runs at most one session per user.
type Controller struct {
	cfg     Config
	devices Devices
	notify  Notifier
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
	lastErr  map[string]error
}

// NewController creates a controller. notify may be nil.
func NewController(cfg Config, devices Devices, notify Notifier, m *metrics.Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = discardNotifier{}
	}
	return &Controller{
		cfg:      cfg,
		devices:  devices,
		notify:   notify,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
		lastErr:  make(map[string]error),
	}
}

type discardNotifier struct{}

func (discardNotifier) Publish(string, feed.Event) {}

// Start begins streaming for user. It returns ErrAlreadyActive if the user
// already has a session starting or running.
func (c *Controller) Start(ctx context.Context, user domain.User) (Status, error) {
	c.mu.Lock()
	if _, ok := c.sessions[user.UserID]; ok {
		c.mu.Unlock()
		return c.Status(user.UserID), ErrAlreadyActive
	}
	s := newSession(user.UserID, c.cfg, c.devices, c.notify, c.metrics, c.logger.With("user_id", user.UserID))
	s.onEnd = c.sessionEnded
	c.sessions[user.UserID] = s
	delete(c.lastErr, user.UserID)
	c.mu.Unlock()

	c.logger.Info("Starting streaming session", "user_id", user.UserID)
	if err := s.start(ctx, c.devices.Screen, user, c.cfg.FrameInterval); err != nil {
		return c.Status(user.UserID), fmt.Errorf("start session: %w", err)
	}
	return c.Status(user.UserID), nil
}

func (c *Controller) sessionEnded(s *Session, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions[s.userID] == s {
		delete(c.sessions, s.userID)
	}
	if cause != nil {
		c.lastErr[s.userID] = cause
	}
}

// Stop ends the user's session. It is a no-op when none is running.
func (c *Controller) Stop(userID string) Status {
	c.mu.Lock()
	s, ok := c.sessions[userID]
	c.mu.Unlock()

	if ok {
		s.Stop()
	} else {
		c.logger.Debug("Stop requested with no active session", "user_id", userID)
	}
	return c.Status(userID)
}

// StopAll ends every running session.
func (c *Controller) StopAll() {
	c.mu.Lock()
	active := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		active = append(active, s)
	}
	c.mu.Unlock()

	for _, s := range active {
		s.Stop()
	}
}

// Session returns the user's running session, if any.
func (c *Controller) Session(userID string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[userID]
	return s, ok
}

// Status returns the control readout for a user.
func (c *Controller) Status(userID string) Status {
	c.mu.Lock()
	s, ok := c.sessions[userID]
	lastErr := c.lastErr[userID]
	c.mu.Unlock()

	st := Status{State: transport.StateIdle.String(), Duration: formatDuration(0)}
	if lastErr != nil {
		st.LastError = lastErr.Error()
	}
	if !ok {
		return st
	}

	info := s.Info()
	st.State = s.ConnectionState().String()
	st.Active = st.State == transport.StateOpen.String()
	st.SessionID = info.SessionID
	st.UserName = info.UserName
	if !info.StartedAt.IsZero() {
		started := info.StartedAt
		st.StartedAt = &started
		d := info.Duration(c.now())
		st.DurationSeconds = int64(d / time.Second)
		st.Duration = formatDuration(d)
	}
	return st
}

// Snapshot returns the events a new reply subscriber should see first.
func (c *Controller) Snapshot(userID string) []feed.Event {
	st := c.Status(userID)
	return []feed.Event{feed.State(st.SessionID, st.State)}
}

// formatDuration renders d as mm:ss, or h:mm:ss past an hour.
func formatDuration(d time.Duration) string {
	total := int64(d / time.Second)
	h, m, sec := total/3600, (total/60)%60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}
