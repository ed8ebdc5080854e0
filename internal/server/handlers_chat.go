package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/burrowai/burrow/internal/apierr"
	"github.com/burrowai/burrow/internal/engine"
	"github.com/burrowai/burrow/internal/run"
)

// chatContext carries optional caller metadata for a chat request.
type chatContext struct {
	PermissionMode string `json:"permission_mode,omitempty"`
	Source         string `json:"source,omitempty"`
	UserName       string `json:"user_name,omitempty"`
}

// chatRequest is the body of POST /chat and POST /chat/stream.
type chatRequest struct {
	SessionID string       `json:"session_id"`
	Message   string       `json:"message"`
	Command   string       `json:"command,omitempty"`
	Model     string       `json:"model,omitempty"`
	Context   *chatContext `json:"context,omitempty"`
}

// chatResponse is the body of a completed POST /chat.
type chatResponse struct {
	SessionID string         `json:"session_id"`
	Response  string         `json:"response"`
	ToolsUsed []string       `json:"tools_used,omitempty"`
	Usage     *engine.Result `json:"usage,omitempty"`
}

// toRunRequest maps a chat body onto a coordinator request. A missing
// session id gets a fresh one so single-shot callers need no create step.
func (c *chatRequest) toRunRequest() run.Request {
	req := run.Request{
		SessionID: c.SessionID,
		Message:   c.Message,
		Command:   c.Command,
		Model:     c.Model,
	}
	if req.SessionID == "" {
		req.SessionID = strings.ToLower(ulid.Make().String())
	}
	if c.Context != nil {
		req.PermissionMode = c.Context.PermissionMode
		req.Source = c.Context.Source
		req.UserName = c.Context.UserName
	}
	// Slash messages go through untouched so engine escapes like /clear
	// stay recognizable.
	slash := strings.HasPrefix(strings.TrimSpace(c.Message), "/")
	if req.Command == "" && !slash && c.Context != nil && (c.Context.UserName != "" || c.Context.Source != "") {
		req.Message = fmt.Sprintf("[Context: %s via %s] %s",
			orDash(c.Context.UserName), orDash(c.Context.Source), c.Message)
	}
	return req
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// chat runs the agent and answers with the aggregated response.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, err)
		return
	}

	req := body.toRunRequest()
	var sink run.AggregateSink
	res, err := s.coordinator.Run(r.Context(), req, &sink)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: res.SessionID,
		Response:  res.Response,
		ToolsUsed: res.ToolsUsed,
		Usage:     res.Usage,
	})
}

// chatStream runs the agent and forwards each client event over SSE. The
// stream always ends with exactly one done or error event.
func (s *Server) chatStream(w http.ResponseWriter, r *http.Request) {
	var body chatRequest
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, err)
		return
	}
	req := body.toRunRequest()

	sse, err := newSSEWriter(w)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	terminalSent := false
	sink := run.SinkFunc(func(e run.ClientEvent) error {
		if e.Type == run.ClientDone || e.Type == run.ClientError {
			terminalSent = true
		}
		return sse.writeEvent(string(e.Type), e)
	})

	if _, err := s.coordinator.Run(r.Context(), req, sink); err != nil && !terminalSent {
		// Failures before the run reaches the sink (validation, conflict,
		// policy, unknown command) still terminate the stream properly.
		_ = sse.writeEvent(string(run.ClientError), run.ClientEvent{
			Type:      run.ClientError,
			SessionID: req.SessionID,
			Error:     apierr.MessageOf(err),
		})
	}
}
