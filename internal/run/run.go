// Package run coordinates one agent invocation from request to persisted
// turns. The same state machine serves blocking and streaming callers; they
// differ only in the Sink that consumes the normalized client events.
package run

import (
	"github.com/burrowai/burrow/internal/engine"
)

// State is the lifecycle of one run.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// ClientEventType discriminates normalized client-facing events.
type ClientEventType string

const (
	ClientDelta  ClientEventType = "delta"
	ClientStatus ClientEventType = "status"
	ClientTool   ClientEventType = "tool"
	ClientDone   ClientEventType = "done"
	ClientError  ClientEventType = "error"
)

// ClientEvent is one normalized event delivered to a sink. Every run ends
// with exactly one done or error event.
type ClientEvent struct {
	Type      ClientEventType `json:"type"`
	Text      string          `json:"text,omitempty"`
	Status    string          `json:"status,omitempty"`
	Tool      string          `json:"tool,omitempty"`
	Response  string          `json:"response,omitempty"`
	ToolsUsed []string        `json:"tools_used,omitempty"`
	Error     string          `json:"error,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}

// Sink consumes the ordered client events of one run. A sink error aborts
// event delivery; the run still settles and persists per policy.
type Sink interface {
	OnEvent(ClientEvent) error
}

// AggregateSink accumulates a run into a single response.
type AggregateSink struct {
	Response  string
	ToolsUsed []string
	Deltas    int
}

// OnEvent folds one event into the aggregate.
func (a *AggregateSink) OnEvent(e ClientEvent) error {
	switch e.Type {
	case ClientDelta:
		a.Deltas++
	case ClientDone:
		a.Response = e.Response
		a.ToolsUsed = e.ToolsUsed
	}
	return nil
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ClientEvent) error

func (f SinkFunc) OnEvent(e ClientEvent) error { return f(e) }

// Result is the settled outcome of one run.
type Result struct {
	SessionID string
	State     State
	Response  string
	ToolsUsed []string
	Usage     *engine.Result
}
