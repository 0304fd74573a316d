package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/brokerauth/internal/api/http/handlers"
	"github.com/spec-kit/brokerauth/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Operator       *handlers.OperatorHandler
	Session        *handlers.SessionHandler
	AuthMiddleware *auth.AuthMiddleware
	Capabilities   auth.CapabilitySource
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/operator/login", cfg.Operator.Login)

	protected := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireOperator())
	protected.Get("/metrics", cfg.Health.Metrics)

	session := protected.Group("/session")
	session.Post("/login", cfg.Session.Login)
	session.Post("/otp", cfg.Session.SendOTP)
	session.Post("/otp/verify", cfg.Session.VerifyOTP)
	session.Get("/status", cfg.Session.Status)
	session.Post("/logout", cfg.Session.Logout)
	session.Get("/me", auth.RequireBaseTier(cfg.Capabilities), cfg.Session.Me)
	session.Post("/orders", auth.RequireFullTier(cfg.Capabilities), cfg.Session.PlaceOrder)
}
