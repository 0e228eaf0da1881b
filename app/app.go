package app

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/server"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"github.com/tech-arch1tect/verifyd/services/verification"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultShutdownTimeout = 30 * time.Second

type App struct {
	fx           *fx.App
	config       *config.Config
	logger       *logging.Service
	db           *gorm.DB
	server       *server.Server
	verification *verification.Service
}

func (a *App) Start(ctx context.Context) error {
	return a.fx.Start(ctx)
}

func (a *App) Stop(ctx context.Context) error {
	return a.fx.Stop(ctx)
}

// Run starts the application and blocks until SIGINT, SIGTERM or a
// component requests shutdown.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start application: %w", err)
	}

	sig := <-a.fx.Wait()
	if a.logger != nil {
		a.logger.Info("shutting down", zap.String("signal", fmt.Sprint(sig.Signal)), zap.Int("exit_code", sig.ExitCode))
	}

	timeout := a.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.Stop(ctx); err != nil {
		if a.logger != nil {
			a.logger.Error("failed to stop application gracefully", zap.Error(err))
		}
		return fmt.Errorf("failed to stop application: %w", err)
	}

	if sig.ExitCode != 0 {
		return fmt.Errorf("application exited with code %d", sig.ExitCode)
	}
	return nil
}

// Server returns the HTTP router, or nil when the application was built
// without the HTTP API.
func (a *App) Server() *echo.Echo {
	if a.server == nil {
		return nil
	}
	return a.server.Echo()
}

func (a *App) DB() *gorm.DB {
	return a.db
}

func (a *App) Logger() *logging.Service {
	return a.logger
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) Verification() *verification.Service {
	return a.verification
}
