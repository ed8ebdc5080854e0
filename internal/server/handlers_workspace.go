package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/burrowai/burrow/internal/apierr"
)

// moveRequest is the body of POST /workspace/move.
type moveRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Overwrite bool   `json:"overwrite,omitempty"`
}

func (s *Server) listWorkspace(w http.ResponseWriter, r *http.Request) {
	infos, err := s.workspace.List(r.URL.Query().Get("dir"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"files": infos})
}

func (s *Server) readWorkspaceFile(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	data, err := s.workspace.Read(path)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) writeWorkspaceFile(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeAPIError(w, apierr.Wrap(apierr.KindValidation, err, "read request body"))
		return
	}
	if err := s.workspace.Write(path, content); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) deleteWorkspaceFile(w http.ResponseWriter, r *http.Request) {
	if err := s.workspace.Delete(chi.URLParam(r, "*")); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}

func (s *Server) moveWorkspaceFile(w http.ResponseWriter, r *http.Request) {
	var body moveRequest
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, err)
		return
	}
	if err := s.workspace.Move(body.From, body.To, body.Overwrite); err != nil {
		writeAPIError(w, err)
		return
	}
	writeSuccess(w)
}
