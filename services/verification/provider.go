package verification

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"github.com/tech-arch1tect/verifyd/services/users"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Options(
	fx.Provide(
		ProvideStore,
		ProvideVerificationService,
		ProvideNotifier,
		ProvidePurgeWorker,
	),
	fx.Invoke(registerPurgeWorker),
)

func ProvideStore(db *gorm.DB, userRepo *users.Repository) Store {
	return NewGormStore(db, userRepo)
}

func ProvideVerificationService(store Store, cfg *config.Config, logger *logging.Service) *Service {
	return NewService(store, cfg, clockwork.NewRealClock(), logger)
}

func ProvideNotifier(mail MailService, cfg *config.Config, logger *logging.Service) *Notifier {
	return NewNotifier(mail, cfg, logger)
}

func ProvidePurgeWorker(service *Service, cfg *config.Config) *PurgeWorker {
	return NewPurgeWorker(service, cfg.Verification.PurgeInterval)
}

func registerPurgeWorker(lc fx.Lifecycle, worker *PurgeWorker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			worker.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			worker.Stop()
			return nil
		},
	})
}
