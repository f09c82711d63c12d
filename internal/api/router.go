package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", h.HealthCheck)

	r.Route("/uploads", func(r chi.Router) {
		r.Post("/", h.CreateUploads)
		r.Get("/", h.ListUploads)
		r.Delete("/", h.CancelAll)
		r.Get("/stats", h.Stats)
		r.Post("/clear", h.ClearCompleted)
		r.Get("/ws", h.Stream)
		r.Get("/{id}", h.GetUpload)
		r.Delete("/{id}", h.CancelUpload)
	})

	return r
}
