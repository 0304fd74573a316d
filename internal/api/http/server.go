package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/brokerauth/internal/api/http/handlers"
	"github.com/spec-kit/brokerauth/internal/auth"
	"github.com/spec-kit/brokerauth/internal/observability"
	"github.com/spec-kit/brokerauth/internal/repository"
	"github.com/spec-kit/brokerauth/internal/service"
)

// ServerDeps holds everything the HTTP surface needs.
type ServerDeps struct {
	Name           string
	Version        string
	StorageBackend string
	Session        *service.Session
	Store          repository.TokenStore
	Operators      *auth.OperatorAuth
	Metrics        *observability.Metrics
	Logger         *zap.Logger
	RequestTimeout time.Duration
}

// NewServer builds the fiber app with middlewares and routes registered.
func NewServer(deps ServerDeps) *fiber.App {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	app := fiber.New(fiber.Config{
		AppName:               deps.Name,
		DisableStartupMessage: true,
	})
	RegisterMiddlewares(app, logger, deps.Metrics, deps.RequestTimeout)

	pinger, _ := deps.Store.(repository.Pinger)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler(deps.Name, deps.Version, deps.StorageBackend, pinger, deps.Metrics),
		Operator:       handlers.NewOperatorHandler(deps.Operators),
		Session:        handlers.NewSessionHandler(deps.Session),
		AuthMiddleware: auth.NewAuthMiddleware(deps.Operators.TokenManager()),
		Capabilities:   deps.Session.Authenticator(),
	})
	return app
}
