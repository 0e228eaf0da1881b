package auth

import (
	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"github.com/tech-arch1tect/verifyd/services/users"
	"github.com/tech-arch1tect/verifyd/services/verification"
	"go.uber.org/fx"
)

func ProvideAuthService(cfg *config.Config, userRepo *users.Repository, tokens *verification.Service, notifier *verification.Notifier, logger *logging.Service) *Service {
	return NewService(cfg, userRepo, tokens, notifier, logger)
}

var Module = fx.Options(
	fx.Provide(ProvideAuthService),
)
