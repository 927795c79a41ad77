// Package domain contains core domain types for smartstream.
package domain

import (
	"time"
)

// AnonymousName is the display name used when the identity blob has none.
const AnonymousName = "Anonymous"

// User is the identity blob populated by the login flow and read by the
// streaming core.
type User struct {
	UserID     string    `json:"user_id"`
	UserName   string    `json:"user_name"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DisplayName returns the user's name, falling back to AnonymousName.
func (u *User) DisplayName() string {
	if u == nil || u.UserName == "" {
		return AnonymousName
	}
	return u.UserName
}
