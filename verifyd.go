// Package verifyd issues and validates single-use email verification codes.
package verifyd

import (
	"github.com/tech-arch1tect/verifyd/app"
	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/internal/options"
	"go.uber.org/fx"
)

type App = app.App

// New assembles an application. Configuration is read from the environment
// unless WithConfig is given.
func New(opts ...options.Option) (*App, error) {
	o := options.Apply(opts...)

	builder := app.NewApp().WithModels(o.Models...).WithFxOptions(o.ExtraFxOptions...)
	if o.Config != nil {
		builder.WithConfig(o.Config)
	}
	if o.EnableHTTP {
		builder.WithHTTP()
	}
	return builder.Build()
}

func WithConfig(cfg *config.Config) options.Option {
	return options.WithConfig(cfg)
}

func WithHTTP() options.Option {
	return options.WithHTTP()
}

func WithModels(models ...any) options.Option {
	return options.WithModels(models...)
}

func WithFxOptions(fxOpts ...fx.Option) options.Option {
	return options.WithFxOptions(fxOpts...)
}
