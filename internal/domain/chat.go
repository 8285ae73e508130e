package domain

import "time"

// ChatSession is an opaque conversation identifier with timestamps.
type ChatSession struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one append-only message in a session.
type ChatTurn struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	CreatedAt time.Time
}
