package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/", s.apiIndex)
	r.Get("/health", s.health)

	r.Post("/chat", s.chat)
	r.Post("/chat/stream", s.chatStream)
	r.Post("/webhook", s.webhook)

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Get("/{sessionID}", s.getSession)
		r.Delete("/{sessionID}", s.deleteSession)
	})

	r.Route("/skills", func(r chi.Router) {
		r.Get("/", s.listSkills)
		r.Post("/", s.putSkill)
		r.Post("/upload", s.uploadSkill)
		r.Get("/{skillID}", s.getSkill)
		r.Delete("/{skillID}", s.deleteSkill)
		r.Get("/{skillID}/download", s.downloadSkill)
	})

	r.Route("/commands", func(r chi.Router) {
		r.Get("/", s.listCommands)
		r.Post("/", s.putCommand)
		r.Get("/{commandID}", s.getCommand)
		r.Delete("/{commandID}", s.deleteCommand)
	})

	r.Route("/workspace", func(r chi.Router) {
		r.Get("/", s.listWorkspace)
		r.Get("/*", s.readWorkspaceFile)
		r.Put("/*", s.writeWorkspaceFile)
		r.Delete("/*", s.deleteWorkspaceFile)
		r.Post("/move", s.moveWorkspaceFile)
	})

	r.Get("/artifacts/*", s.serveArtifact)
	r.Get("/events", s.events)
}
