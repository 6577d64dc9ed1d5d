package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/unigigs-api/internal/config"
	"github.com/noah-isme/unigigs-api/internal/handler"
	"github.com/noah-isme/unigigs-api/internal/middleware"
	"github.com/noah-isme/unigigs-api/internal/observability"
	"github.com/noah-isme/unigigs-api/internal/service"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	AuthHandler         *handler.AuthHandler
	ProfileHandler      *handler.ProfileHandler
	GigHandler          *handler.GigHandler
	CommunityHandler    *handler.CommunityHandler
	NotificationHandler *handler.NotificationHandler
	PushService         service.PushService

	Authenticator   middleware.Authenticator
	SessionResolver middleware.SessionResolver

	// Optional limiters; nil disables limiting.
	CredentialLimiter fiber.Handler
	ApplyLimiter      fiber.Handler

	HealthChecks map[string]handler.DependencyCheck
	// OutboxBacklog, when set, adds the outbox backlog to /metrics.
	OutboxBacklog observability.BacklogFunc
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler(deps.OutboxBacklog))

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.HealthChecks))

	if deps.PushService != nil {
		api.Get("/push/vapid-public-key", handler.VAPIDPublicKey(deps.PushService))
	}

	if deps.AuthHandler != nil {
		deps.AuthHandler.RegisterPublic(api.Group("/auth"), deps.CredentialLimiter)
	}

	if deps.Authenticator == nil || deps.SessionResolver == nil {
		return
	}

	jwt := middleware.JWTProtected(deps.Authenticator)
	session := middleware.ResolveSession(deps.SessionResolver)
	authenticated := []fiber.Handler{jwt, session, middleware.RequireIdentity(middleware.AuthOptions{})}
	withProfile := []fiber.Handler{jwt, session, middleware.RequireIdentity(middleware.AuthOptions{RequireProfile: true})}

	if deps.AuthHandler != nil {
		deps.AuthHandler.RegisterProtected(api.Group("/auth"), authenticated...)
	}

	if deps.ProfileHandler != nil {
		deps.ProfileHandler.RegisterMe(api.Group("/me", withProfile...))
		deps.ProfileHandler.RegisterUsers(api.Group("/users", authenticated...))
	}

	if deps.GigHandler != nil {
		deps.GigHandler.Register(api.Group("/gigs", withProfile...), deps.ApplyLimiter)
		deps.GigHandler.RegisterApplications(api.Group("/applications", withProfile...))
	}

	if deps.CommunityHandler != nil {
		deps.CommunityHandler.Register(api.Group("/communities", withProfile...))
	}

	if deps.NotificationHandler != nil {
		deps.NotificationHandler.Register(api.Group("/notifications", authenticated...))
	}
}
