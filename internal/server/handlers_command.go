package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/burrowai/burrow/internal/apierr"
	"github.com/burrowai/burrow/internal/event"
)

// putCommandRequest is the body of POST /commands.
type putCommandRequest struct {
	ID       string `json:"id"`
	Template string `json:"template"`
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	infos, err := s.extensions.ListCommands()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commands": infos})
}

func (s *Server) getCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := s.extensions.GetCommand(chi.URLParam(r, "commandID"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) putCommand(w http.ResponseWriter, r *http.Request) {
	var body putCommandRequest
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, err)
		return
	}
	if body.ID == "" {
		writeAPIError(w, apierr.New(apierr.KindValidation, "id is required"))
		return
	}

	created, err := s.extensions.PutCommand(body.ID, body.Template)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.bus.Publish(event.Event{Type: event.CommandSaved, Data: event.ExtensionData{ID: body.ID}})

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]any{"id": body.ID, "created": created})
}

func (s *Server) deleteCommand(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "commandID")
	if err := s.extensions.DeleteCommand(id); err != nil {
		writeAPIError(w, err)
		return
	}
	s.bus.Publish(event.Event{Type: event.CommandRemoved, Data: event.ExtensionData{ID: id}})
	writeSuccess(w)
}
