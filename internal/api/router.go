package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the API. files serves locally stored blobs under /files and
// may be nil when blobs live in a public bucket.
func NewRouter(apiHandler *APIHandler, files http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Handle("/metrics", promhttp.Handler())
	if files != nil {
		r.Handle("/files/*", http.StripPrefix("/files", files))
	}

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/register", apiHandler.RegisterHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", apiHandler.HealthHandler)

		// User-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.JWTAuthMiddleware)

			r.Post("/sessions", apiHandler.CreateSessionHandler)
			r.Get("/sessions/{sessionID}", apiHandler.GetSessionHandler)
			r.Post("/sessions/{sessionID}/messages", apiHandler.PostMessageHandler)
			r.Post("/sessions/{sessionID}/reset", apiHandler.ResetSessionHandler)
			r.Delete("/sessions/{sessionID}", apiHandler.DeleteSessionHandler)

			r.Get("/knowledge", apiHandler.GetKnowledgeHandler)
			r.Get("/timetables", apiHandler.ListTimetablesHandler)

			r.Get("/notifications", apiHandler.ListNotificationsHandler)
			r.Get("/notifications/stream", apiHandler.StreamNotificationsHandler)
			r.Post("/notifications/read-all", apiHandler.MarkAllNotificationsReadHandler)
			r.Post("/notifications/{notificationID}/read", apiHandler.MarkNotificationReadHandler)
			r.Delete("/notifications", apiHandler.ClearAllNotificationsHandler)
			r.Delete("/notifications/{notificationID}", apiHandler.ClearNotificationHandler)

			// Admin routes
			r.Group(func(r chi.Router) {
				r.Use(apiHandler.RequireAdmin)

				r.Post("/knowledge/files", apiHandler.UploadKnowledgeHandler)
				r.Delete("/knowledge/files/{name}", apiHandler.DeleteKnowledgeFileHandler)
				r.Post("/timetables", apiHandler.CreateTimetableHandler)
				r.Delete("/timetables/{timetableID}", apiHandler.DeleteTimetableHandler)
				r.Post("/notifications", apiHandler.SendNotificationHandler)
			})
		})
	})

	return r
}
