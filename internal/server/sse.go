package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/burrowai/burrow/internal/apierr"
)

// sseHeartbeatInterval is the interval for SSE heartbeat comments.
const sseHeartbeatInterval = 30 * time.Second

// sseWriter wraps http.ResponseWriter for Server-Sent Events.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// newSSEWriter prepares a response for SSE and flushes the headers so the
// client sees the stream open before the first event.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	rc := http.NewResponseController(w)
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, err, "streaming not supported")
	}
	return &sseWriter{w: w, rc: rc}, nil
}

// writeEvent writes one SSE event and flushes it.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

// writeHeartbeat writes an SSE comment to keep the connection alive.
func (s *sseWriter) writeHeartbeat() error {
	if _, err := fmt.Fprint(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	return s.rc.Flush()
}
