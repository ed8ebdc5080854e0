// Package session provides the durable conversation store and the
// per-session run slot that serializes access to it.
package session

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleSystemEvent records server-side markers such as failed runs.
	RoleSystemEvent Role = "system-event"
)

// Turn is one entry in a session's conversation history.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	ToolsUsed []string  `json:"tools_used,omitempty"`
	Time      time.Time `json:"time"`
}

// Session is a durable conversation. Turns are append-only and strictly
// ordered by arrival.
type Session struct {
	ID             string `json:"id"`
	Turns          []Turn `json:"turns"`
	Model          string `json:"model,omitempty"`
	PermissionMode string `json:"permission_mode,omitempty"`
	Time           Time   `json:"time"`
}

// Time holds session timestamps.
type Time struct {
	Created    time.Time `json:"created"`
	LastActive time.Time `json:"last_active"`
}

// Summary is the listing view of a session.
type Summary struct {
	ID         string    `json:"id"`
	Preview    string    `json:"preview,omitempty"`
	TurnCount  int       `json:"turn_count"`
	Created    time.Time `json:"created"`
	LastActive time.Time `json:"last_active"`
}

// NewTurn builds a turn with a fresh ULID and the current time.
func NewTurn(role Role, content string) Turn {
	return Turn{
		ID:      ulid.Make().String(),
		Role:    role,
		Content: content,
		Time:    time.Now().UTC(),
	}
}

// summarize produces the listing view of a session. The preview is the
// first user turn, clipped.
func summarize(s *Session) Summary {
	const previewLimit = 80

	preview := ""
	for _, turn := range s.Turns {
		if turn.Role == RoleUser {
			preview = turn.Content
			break
		}
	}
	if len(preview) > previewLimit {
		preview = preview[:previewLimit]
	}

	return Summary{
		ID:         s.ID,
		Preview:    preview,
		TurnCount:  len(s.Turns),
		Created:    s.Time.Created,
		LastActive: s.Time.LastActive,
	}
}
