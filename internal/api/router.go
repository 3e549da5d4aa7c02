package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/stats", s.handleStats)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Post("/door/open", s.handleOpenDoor)
					r.Post("/door/close", s.handleCloseDoor)
					r.Post("/reboot", s.handleReboot)
					r.Post("/time/sync", s.handleSyncTime)

					r.Route("/whitelist", func(r chi.Router) {
						r.Get("/", s.handleQueryWhitelist)
						r.Post("/", s.handleAddWhitelist)
						r.Put("/{employeeNo}", s.handleUpdateWhitelist)
						r.Delete("/{employeeNo}", s.handleDeleteWhitelist)
					})
				})
			})

			r.Route("/tenants", func(r chi.Router) {
				r.Get("/", s.handleListTenants)
				r.Put("/devices/{id}", s.handleSetTenantMapping)
				r.Delete("/devices/{id}", s.handleRemoveTenantMapping)
			})

			r.Get("/events/stream", s.handleEventStream)
			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}
