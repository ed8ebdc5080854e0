package server

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/burrowai/burrow/internal/apierr"
	"github.com/burrowai/burrow/internal/event"
)

// putSkillRequest is the body of POST /skills.
type putSkillRequest struct {
	ID       string            `json:"id"`
	Manifest string            `json:"manifest"`
	Files    map[string]string `json:"files,omitempty"`
}

func (s *Server) listSkills(w http.ResponseWriter, r *http.Request) {
	infos, err := s.extensions.ListSkills()
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"skills": infos})
}

func (s *Server) getSkill(w http.ResponseWriter, r *http.Request) {
	skill, err := s.extensions.GetSkill(chi.URLParam(r, "skillID"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, skill)
}

func (s *Server) putSkill(w http.ResponseWriter, r *http.Request) {
	var body putSkillRequest
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, err)
		return
	}
	if body.Manifest == "" {
		writeAPIError(w, apierr.New(apierr.KindValidation, "manifest is required"))
		return
	}

	files := map[string][]byte{"SKILL.md": []byte(body.Manifest)}
	for path, content := range body.Files {
		files[path] = []byte(content)
	}

	info, err := s.extensions.PutSkill(body.ID, files)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.bus.Publish(event.Event{Type: event.SkillInstalled, Data: event.ExtensionData{ID: info.ID}})
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) deleteSkill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "skillID")
	if err := s.extensions.DeleteSkill(id); err != nil {
		writeAPIError(w, err)
		return
	}
	s.bus.Publish(event.Event{Type: event.SkillRemoved, Data: event.ExtensionData{ID: id}})
	writeSuccess(w)
}

// uploadSkill installs a skill from an uploaded zip archive. The body is
// the raw archive, or a multipart form with a "file" part.
func (s *Server) uploadSkill(w http.ResponseWriter, r *http.Request) {
	data, err := s.readArchiveBody(r)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	result, err := s.extensions.ImportArchive(data, r.URL.Query().Get("id"))
	if err != nil {
		writeAPIError(w, err)
		return
	}
	s.bus.Publish(event.Event{Type: event.SkillInstalled, Data: event.ExtensionData{ID: result.ID}})
	writeJSON(w, http.StatusCreated, result)
}

func (s *Server) downloadSkill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "skillID")
	data, err := s.extensions.ExportArchive(id)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+".zip"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// readArchiveBody extracts the zip payload from a raw or multipart upload,
// bounded by the configured archive ceiling.
func (s *Server) readArchiveBody(r *http.Request) ([]byte, error) {
	limit := s.cfg.MaxArchiveTotalBytes

	contentType := r.Header.Get("Content-Type")
	if contentType == "application/zip" || contentType == "application/octet-stream" || contentType == "" {
		data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
		if err != nil {
			return nil, apierr.Wrap(apierr.KindValidation, err, "read archive body")
		}
		if int64(len(data)) > limit {
			return nil, apierr.New(apierr.KindValidation, "archive exceeds %d byte limit", limit)
		}
		return data, nil
	}

	if err := r.ParseMultipartForm(limit); err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "parse upload form")
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "upload is missing the file part")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, err, "read uploaded archive")
	}
	if int64(len(data)) > limit {
		return nil, apierr.New(apierr.KindValidation, "archive exceeds %d byte limit", limit)
	}
	return data, nil
}
