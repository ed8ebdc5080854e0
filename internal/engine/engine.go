// Package engine defines the boundary to the agent reasoning engine.
//
// The engine is a black box invoked once per run: it receives the prompt,
// conversation history and policy, and yields a lazy ordered finite event
// sequence ending in exactly one terminal event (result or error). The CLI
// adapter talks to a real engine subprocess; the Scripted engine replays
// canned sequences for tests.
package engine

import (
	"context"
	"encoding/json"
)

// EventType discriminates engine stream events.
type EventType string

const (
	EventTextDelta  EventType = "text_delta"
	EventToolStart  EventType = "tool_start"
	EventToolResult EventType = "tool_result"
	EventStatus     EventType = "status"
	EventResult     EventType = "result"
	EventError      EventType = "error"
)

// Event is one element of an engine stream. Which fields are set depends on
// Type.
type Event struct {
	Type EventType `json:"type"`

	// text_delta
	Text string `json:"text,omitempty"`

	// tool_start / tool_result
	Tool   string          `json:"tool,omitempty"`
	Input  json.RawMessage `json:"input,omitempty"`
	Output string          `json:"output,omitempty"`

	// status
	Status string `json:"status,omitempty"`

	// result
	Result *Result `json:"result,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Result is the terminal payload of a successful run.
type Result struct {
	Text       string   `json:"text"`
	ToolsUsed  []string `json:"tools_used,omitempty"`
	NumTurns   int      `json:"num_turns,omitempty"`
	DurationMS int64    `json:"duration_ms,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool {
	return e.Type == EventResult || e.Type == EventError
}

// HistoryTurn is one prior conversation turn handed to the engine.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one engine invocation.
type Request struct {
	Prompt         string        `json:"prompt"`
	History        []HistoryTurn `json:"history,omitempty"`
	SystemContext  string        `json:"system_context,omitempty"`
	Model          string        `json:"model,omitempty"`
	PermissionMode string        `json:"permission_mode,omitempty"`
	AllowedTools   []string      `json:"allowed_tools,omitempty"`
	WorkingDir     string        `json:"working_dir,omitempty"`
}

// Stream is a live engine event sequence. Events() closes after the
// terminal event; callers must drain it or cancel the invocation context.
type Stream struct {
	events chan Event
}

func newStream(buffer int) *Stream {
	return &Stream{events: make(chan Event, buffer)}
}

// Events returns the ordered event channel.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// emit delivers an event unless ctx is done. It reports whether delivery
// happened.
func (s *Stream) emit(ctx context.Context, e Event) bool {
	select {
	case s.events <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Stream) close() {
	close(s.events)
}

// Engine runs one agent invocation and streams its events.
type Engine interface {
	Invoke(ctx context.Context, req Request) (*Stream, error)
}
