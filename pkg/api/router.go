// Package api provides HTTP API server components.
package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/recalld/recalld/config"
	"github.com/recalld/recalld/pkg/api/handlers"
	"github.com/recalld/recalld/pkg/api/middleware"
	"github.com/recalld/recalld/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Conversation handles turn and history endpoints
	Conversation *handlers.ConversationHandler

	// Cache handles response cache endpoints
	Cache *handlers.CacheHandler

	// Memory handles semantic memory endpoints
	Memory *handlers.MemoryHandler

	// Admin handles operational endpoints
	Admin *handlers.AdminHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}

	r.Use(middleware.Timeout(cfg.Server.ReadTimeout))

	RegisterRoutes(r, h)

	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users/{userID}", func(r chi.Router) {
			if h.Conversation != nil {
				r.Post("/turns", h.Conversation.PostTurn)
				r.Get("/history", h.Conversation.GetHistory)
				r.Delete("/", h.Conversation.DeleteUser)
			}

			if h.Cache != nil {
				r.Route("/cache", func(r chi.Router) {
					r.Get("/", h.Cache.Lookup)
					r.Post("/", h.Cache.Store)
					r.Delete("/", h.Cache.Invalidate)
				})
			}

			if h.Memory != nil {
				r.Post("/memory/query", h.Memory.Query)
				r.Post("/documents", h.Memory.IngestDocument)
			}
		})

		if h.Admin != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Post("/cache/invalidate", h.Admin.InvalidateAll)
				r.Put("/system-prompt", h.Admin.SetSystemPrompt)
			})
		}
	})

	// Health check routes (not versioned)
	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
		r.Get("/status", h.Health.Status)
	}
}
