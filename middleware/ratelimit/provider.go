package ratelimit

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Options(
	fx.Provide(ProvideRateLimitStore),
	fx.Invoke(registerStoreClose),
)

func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.RateLimit.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := NewRedisStore(client, cfg.Redis.Prefix)
		store.ownClient = true
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported rate limit store: %s", cfg.RateLimit.Store)
	}
}

func ProvideRateLimitStore(cfg *config.Config, logger *logging.Service) (Store, error) {
	store, err := NewStore(cfg)
	if err != nil {
		return nil, err
	}

	logger.Info("rate limit store initialized",
		zap.String("store", cfg.RateLimit.Store),
		zap.Bool("enabled", cfg.RateLimit.Enabled),
		zap.Int("rate", cfg.RateLimit.Rate),
		zap.Duration("period", cfg.RateLimit.Period))

	return store, nil
}

func registerStoreClose(lc fx.Lifecycle, store Store) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
}

// FromConfig builds the middleware configuration for the configured limits.
func FromConfig(cfg *config.Config, store Store, logger *logging.Service) *Config {
	return &Config{
		Store:        store,
		Rate:         cfg.RateLimit.Rate,
		Period:       cfg.RateLimit.Period,
		CountMode:    cfg.RateLimit.CountMode,
		KeyGenerator: RouteKeyGenerator,
		Logger:       logger,
	}
}
