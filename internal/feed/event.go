// Package feed fans session replies and notices out to WebSocket subscribers.
package feed

import "time"

// Event types.
const (
	TypeText   = "text"
	TypeNotice = "notice"
	TypeState  = "state"
)

// Event is one message pushed to subscribers.
type Event struct {
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	SessionID string    `json:"session_id,omitempty"`
	At        time.Time `json:"at"`
}

// Text returns a reply text event.
func Text(sessionID, content string) Event {
	return Event{Type: TypeText, Content: content, SessionID: sessionID, At: time.Now()}
}

// Notice returns a user-visible notice such as "Connection closed".
func Notice(sessionID, content string) Event {
	return Event{Type: TypeNotice, Content: content, SessionID: sessionID, At: time.Now()}
}

// State returns a session state change event.
func State(sessionID, state string) Event {
	return Event{Type: TypeState, Content: state, SessionID: sessionID, At: time.Now()}
}
