// Package api exposes the setup wizard, stored entries and live frames over HTTP.
package api

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/bbernstein/hyperion-link-go/internal/database/repositories"
	"github.com/bbernstein/hyperion-link-go/internal/services/lights"
	"github.com/bbernstein/hyperion-link-go/internal/services/link"
	"github.com/bbernstein/hyperion-link-go/internal/services/pubsub"
	"github.com/bbernstein/hyperion-link-go/internal/services/wizard"
)

// Inventory lists the lights known to the configured backends.
type Inventory interface {
	ListLights(ctx context.Context) ([]lights.Light, error)
}

// Deps are the services the handlers call into.
type Deps struct {
	Wizard    *wizard.Manager
	Links     *link.Service
	Entries   *repositories.EntryRepository
	Inventory Inventory
	PubSub    *pubsub.PubSub
}

// Options configures the router.
type Options struct {
	// CORSOrigin is added to the allowed origins. Empty allows any origin.
	CORSOrigin string
	// Debug enables CORS debug logging.
	Debug bool
	// RequestTimeout bounds REST requests. The websocket feed is not bounded.
	RequestTimeout time.Duration
}

// Handler serves the REST and websocket endpoints.
type Handler struct {
	deps Deps
}

// NewRouter builds the chi router with middleware and all routes mounted.
func NewRouter(deps Deps, opts Options) chi.Router {
	h := &Handler{deps: deps}

	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	// CORS
	origins := []string{"*"}
	if opts.CORSOrigin != "" {
		origins = []string{opts.CORSOrigin, "http://localhost:3000", "http://localhost:4100"}
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: opts.CORSOrigin != "",
		Debug:            opts.Debug,
	})
	router.Use(corsMiddleware.Handler)

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	router.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(timeout))

		r.Get("/lights", h.listLights)

		r.Post("/flows", h.beginFlow)
		r.Get("/flows/{id}", h.showFlow)
		r.Post("/flows/{id}", h.submitFlow)
		r.Delete("/flows/{id}", h.abandonFlow)

		r.Get("/entries", h.listEntries)
		r.Get("/entries/{id}", h.getEntry)
		r.Delete("/entries/{id}", h.deleteEntry)
		r.Post("/entries/{id}/start", h.startEntry)
		r.Post("/entries/{id}/stop", h.stopEntry)
		r.Post("/entries/{id}/reload", h.reloadEntry)
		r.Put("/entries/{id}/lights", h.updateLights)

		r.Get("/status", h.listStatuses)
	})

	router.Get("/ws/frames", h.streamFrames)

	return router
}
