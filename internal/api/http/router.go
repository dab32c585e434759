package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/case-messaging/internal/api/http/handlers"
	"github.com/spec-kit/case-messaging/internal/auth"
	"github.com/spec-kit/case-messaging/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Threads        *handlers.ThreadsHandler
	Messages       *handlers.MessagesHandler
	Stream         *handlers.StreamHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	threads := app.Group("/threads", cfg.AuthMiddleware.Handle, auth.RequireRole(domain.RoleClient, domain.RoleLawyer))
	threads.Post("/", cfg.Threads.Open)
	threads.Get("/", cfg.Threads.List)
	threads.Get("/:id", cfg.Threads.Get)
	threads.Post("/:id/archive", cfg.Threads.Archive)

	threads.Get("/:id/messages", cfg.Messages.History)
	threads.Post("/:id/messages", cfg.Messages.Send)
	threads.Post("/:id/typing", cfg.Messages.Typing)
	threads.Get("/:id/stream", cfg.Stream.Stream)
}
