package app

import (
	"fmt"

	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/database"
	"github.com/tech-arch1tect/verifyd/handlers"
	"github.com/tech-arch1tect/verifyd/middleware/ratelimit"
	"github.com/tech-arch1tect/verifyd/server"
	"github.com/tech-arch1tect/verifyd/services/auth"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"github.com/tech-arch1tect/verifyd/services/mail"
	"github.com/tech-arch1tect/verifyd/services/users"
	"github.com/tech-arch1tect/verifyd/services/verification"
	"go.uber.org/fx"
)

type AppBuilder struct {
	config    *config.Config
	services  map[string]bool
	models    []any
	fxOptions []fx.Option
	errors    []error
}

func NewApp() *AppBuilder {
	return &AppBuilder{
		services:  make(map[string]bool),
		models:    make([]any, 0),
		fxOptions: make([]fx.Option, 0),
		errors:    make([]error, 0),
	}
}

func (b *AppBuilder) WithConfig(cfg *config.Config) *AppBuilder {
	if cfg == nil {
		b.addError("config cannot be nil")
		return b
	}
	b.config = cfg
	return b
}

func (b *AppBuilder) WithAutoConfig() *AppBuilder {
	cfg := &config.Config{}
	if err := config.LoadConfig(cfg); err != nil {
		b.addError(fmt.Sprintf("failed to load config: %v", err))
		return b
	}
	b.config = cfg
	return b
}

// WithModels migrates extra models alongside the user and token tables.
func (b *AppBuilder) WithModels(models ...any) *AppBuilder {
	b.models = append(b.models, models...)
	return b
}

// WithHTTP mounts the HTTP API and runs the server with the application.
func (b *AppBuilder) WithHTTP() *AppBuilder {
	b.services["http"] = true
	return b
}

func (b *AppBuilder) WithFxOptions(opts ...fx.Option) *AppBuilder {
	b.fxOptions = append(b.fxOptions, opts...)
	return b
}

func (b *AppBuilder) Build() (*App, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	if b.config == nil {
		if err := b.WithAutoConfig().validate(); err != nil {
			return nil, err
		}
	}

	app := &App{config: b.config}
	options := b.buildFxOptions()
	options = append(options, fx.Populate(&app.logger, &app.db, &app.verification))
	if b.services["http"] {
		options = append(options, fx.Populate(&app.server))
	}

	app.fx = fx.New(options...)
	if err := app.fx.Err(); err != nil {
		return nil, fmt.Errorf("failed to build application: %w", err)
	}

	return app, nil
}

func (b *AppBuilder) addError(msg string) {
	b.errors = append(b.errors, fmt.Errorf("%s", msg))
}

func (b *AppBuilder) validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("configuration errors: %v", b.errors)
	}
	return nil
}

func (b *AppBuilder) buildFxOptions() []fx.Option {
	models := append([]any{&users.User{}, &verification.VerificationToken{}}, b.models...)

	options := []fx.Option{
		fx.NopLogger,
		config.NewProvider(b.config),
		logging.Module,
		fx.Supply(database.WithModels(models...)),
		database.Module,
		users.Module,
		mail.Module,
		fx.Provide(provideMailer),
		verification.Module,
		auth.Module,
	}

	if b.services["http"] {
		options = append(options,
			ratelimit.Module,
			server.Module,
			handlers.Module,
		)
	}

	return append(options, b.fxOptions...)
}

func provideMailer(svc *mail.Service) verification.MailService {
	return svc
}
