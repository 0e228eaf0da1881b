package handlers

import (
	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/middleware/ratelimit"
	"github.com/tech-arch1tect/verifyd/server"
	"github.com/tech-arch1tect/verifyd/services/auth"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"github.com/tech-arch1tect/verifyd/services/users"
	"github.com/tech-arch1tect/verifyd/services/verification"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Options(
	fx.Provide(ProvideHandlers),
	fx.Invoke(Mount),
)

func ProvideHandlers(authSvc *auth.Service, verifier *verification.Service, notifier *verification.Notifier, userRepo *users.Repository, logger *logging.Service) *Handlers {
	return New(authSvc, verifier, notifier, userRepo, logger.Named("http"))
}

// Mount wires the API routes and their middleware onto srv.
func Mount(srv *server.Server, h *Handlers, cfg *config.Config, store ratelimit.Store, logger *logging.Service) {
	srv.SetValidator(NewRequestValidator())
	srv.SetErrorHandler(HTTPErrorHandler)

	var limiter echo.MiddlewareFunc
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.Middleware(ratelimit.FromConfig(cfg, store, logger))
		logger.Info("rate limiting enabled",
			zap.Int("rate", cfg.RateLimit.Rate),
			zap.Duration("period", cfg.RateLimit.Period),
			zap.String("count_mode", string(cfg.RateLimit.CountMode)))
	}

	RegisterRoutes(srv.Echo(), h, limiter)

	doc := NewDocument(cfg.App.Name, cfg.App.URL)
	srv.Get("/openapi.json", doc.JSONHandler())
	srv.Get("/openapi.yaml", doc.YAMLHandler())
}
