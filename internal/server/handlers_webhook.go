package server

import (
	"net/http"
	"strconv"

	"github.com/burrowai/burrow/internal/apierr"
	"github.com/burrowai/burrow/internal/run"
)

// Field fallbacks tried when the caller does not name one explicitly.
var (
	sessionIDFields = []string{"session_id", "id"}
	messageFields   = []string{"message", "transcript", "text"}
)

// webhook accepts an arbitrary JSON document from an external system and
// maps its fields onto a chat run. Query parameters name the fields:
// session_id=<field>, message=<field>, command=<id>, raw_response=1.
// Webhook callers never get bypassPermissions regardless of payload
// content; the permission mode is always the server default.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	if err := decodeJSON(r, &payload); err != nil {
		writeAPIError(w, err)
		return
	}

	q := r.URL.Query()
	sessionID, err := mappedField(payload, q.Get("session_id"), sessionIDFields, "session id")
	if err != nil {
		writeAPIError(w, err)
		return
	}
	message, err := mappedField(payload, q.Get("message"), messageFields, "message")
	if err != nil {
		writeAPIError(w, err)
		return
	}

	req := run.Request{
		SessionID: "webhook-" + sessionID,
		Message:   message,
		Command:   q.Get("command"),
		Source:    "webhook",
	}

	var sink run.AggregateSink
	res, err := s.coordinator.Run(r.Context(), req, &sink)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if raw, _ := strconv.ParseBool(q.Get("raw_response")); raw {
		writeJSON(w, http.StatusOK, chatResponse{
			SessionID: res.SessionID,
			Response:  res.Response,
			ToolsUsed: res.ToolsUsed,
			Usage:     res.Usage,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": res.Response})
}

// mappedField pulls a string value out of the payload: the explicitly named
// field when given, otherwise the first fallback that is present.
func mappedField(payload map[string]any, field string, fallbacks []string, what string) (string, error) {
	candidates := fallbacks
	if field != "" {
		candidates = []string{field}
	}
	for _, name := range candidates {
		if value, ok := payload[name]; ok {
			if s := stringify(value); s != "" {
				return s, nil
			}
		}
	}
	return "", apierr.New(apierr.KindValidation, "webhook payload has no usable %s field", what)
}

// stringify renders scalar JSON values as strings; objects and arrays are
// not usable as mapped fields.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}
