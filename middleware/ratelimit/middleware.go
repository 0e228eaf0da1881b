package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"go.uber.org/zap"
)

type Config struct {
	Store          Store
	Rate           int
	Period         time.Duration
	CountMode      config.CountingMode
	KeyGenerator   func(c echo.Context) string
	OnLimitReached func(c echo.Context) error
	Logger         *logging.Service
}

func Middleware(cfg *Config) echo.MiddlewareFunc {
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}

	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}

	if cfg.Period <= 0 {
		cfg.Period = time.Minute
	}

	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyGenerator
	}

	if cfg.OnLimitReached == nil {
		cfg.OnLimitReached = DefaultOnLimitReached
	}

	if cfg.CountMode == "" {
		cfg.CountMode = config.CountAll
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			key := cfg.KeyGenerator(c)
			resetTime := time.Now().Add(cfg.Period)

			count, existingResetTime, exists, err := cfg.Store.Get(ctx, key)
			if err != nil {
				// fail open on store errors
				cfg.logStoreError(err, key)
				return next(c)
			}
			if exists {
				resetTime = existingResetTime
			}

			if count >= cfg.Rate {
				setHeaders(c, cfg.Rate, 0, resetTime)
				return cfg.OnLimitReached(c)
			}

			if cfg.CountMode == config.CountAll {
				newCount, err := cfg.Store.Increment(ctx, key, resetTime)
				if err != nil {
					cfg.logStoreError(err, key)
					return next(c)
				}
				setHeaders(c, cfg.Rate, cfg.Rate-newCount, resetTime)
				return next(c)
			}

			setHeaders(c, cfg.Rate, cfg.Rate-count-1, resetTime)

			err = next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok && !c.Response().Committed {
				status = he.Code
			}

			var shouldCount bool
			switch cfg.CountMode {
			case config.CountFailures:
				shouldCount = status >= http.StatusBadRequest
			case config.CountSuccess:
				shouldCount = status < http.StatusBadRequest
			}

			if shouldCount {
				if _, incErr := cfg.Store.Increment(ctx, key, resetTime); incErr != nil {
					cfg.logStoreError(incErr, key)
				}
			}

			return err
		}
	}
}

func (cfg *Config) logStoreError(err error, key string) {
	if cfg.Logger != nil {
		cfg.Logger.Error("rate limit store failure", zap.Error(err), zap.String("key", key))
	}
}

func setHeaders(c echo.Context, limit, remaining int, resetTime time.Time) {
	c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	c.Response().Header().Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	c.Response().Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))
}

func DefaultKeyGenerator(c echo.Context) string {
	realIP := c.RealIP()

	if realIP == "" || realIP == "unknown" {
		realIP = "fallback"
	}

	return "rate_limit:" + realIP
}

// RouteKeyGenerator scopes counters per client and route so that status polling
// does not consume the verify budget.
func RouteKeyGenerator(c echo.Context) string {
	return DefaultKeyGenerator(c) + ":" + c.Request().Method + ":" + c.Path()
}

func DefaultOnLimitReached(c echo.Context) error {
	return echo.NewHTTPError(http.StatusTooManyRequests, "Too Many Requests")
}
