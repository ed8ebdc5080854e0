package server

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/burrowai/burrow/internal/apierr"
	"github.com/burrowai/burrow/internal/event"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// apiIndex lists the API surface.
func (s *Server) apiIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name": "burrow",
		"endpoints": []string{
			"POST /chat",
			"POST /chat/stream",
			"POST /webhook",
			"GET /sessions",
			"GET /skills",
			"GET /commands",
			"GET /workspace",
			"GET /artifacts/{path}",
			"GET /events",
			"GET /health",
		},
	})
}

// serveArtifact serves one public file. Directory listings are refused;
// unknown paths and directories both answer NotFound so the artifact tree
// cannot be enumerated.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request) {
	abs, err := s.artifacts.Resolve(chi.URLParam(r, "*"))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		writeAPIError(w, apierr.New(apierr.KindNotFound, "artifact not found"))
		return
	}
	http.ServeFile(w, r, abs)
}

// events streams the server event bus over SSE.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	sse, err := newSSEWriter(w)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	// Small buffer for low-latency streaming; slow clients drop events
	// rather than stalling publishers.
	events := make(chan event.Event, 10)
	unsub := s.bus.SubscribeAll(func(e event.Event) {
		select {
		case events <- e:
		default:
			s.log.Warn().Str("type", string(e.Type)).Msg("SSE event dropped: channel full")
		}
	})
	defer unsub()

	if err := sse.writeEvent("connected", map[string]any{"time": time.Now().UTC()}); err != nil {
		return
	}

	ticker := time.NewTicker(sseHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case e := <-events:
			if err := sse.writeEvent(string(e.Type), e.Data); err != nil {
				return
			}
		case <-ticker.C:
			if err := sse.writeHeartbeat(); err != nil {
				return
			}
		}
	}
}
