package domain

import (
	"time"
)

// Session identifies one streaming interaction. It is created when the
// transport handshake completes and never modified afterwards.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	StartedAt time.Time `json:"started_at"`
}

// Duration returns how long the session has been running at now.
func (s Session) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() || now.Before(s.StartedAt) {
		return 0
	}
	return now.Sub(s.StartedAt)
}
