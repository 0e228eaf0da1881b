package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	App          AppConfig          `envPrefix:"APP_"`
	Server       ServerConfig       `envPrefix:"SERVER_"`
	Log          LogConfig          `envPrefix:"LOG_"`
	Database     DatabaseConfig     `envPrefix:"DATABASE_"`
	Mail         MailConfig         `envPrefix:"MAIL_"`
	Verification VerificationConfig `envPrefix:"VERIFICATION_"`
	Auth         AuthConfig         `envPrefix:"AUTH_"`
	RateLimit    RateLimitConfig    `envPrefix:"RATE_LIMIT_"`
	Redis        RedisConfig        `envPrefix:"REDIS_"`
}

type AppConfig struct {
	Name string `env:"NAME" envDefault:"verifyd"`
	URL  string `env:"URL" envDefault:"http://localhost:8080"`
}

type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	Host            string        `env:"HOST" envDefault:"localhost"`
	TrustedProxies  []string      `env:"TRUSTED_PROXIES" envSeparator:","`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"verifyd.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
}

type MailConfig struct {
	Host         string        `env:"HOST" envDefault:"localhost"`
	Port         int           `env:"PORT" envDefault:"587"`
	Username     string        `env:"USERNAME"`
	Password     string        `env:"PASSWORD"`
	Encryption   string        `env:"ENCRYPTION" envDefault:"tls"`
	FromAddress  string        `env:"FROM_ADDRESS" envDefault:"no-reply@localhost"`
	FromName     string        `env:"FROM_NAME"`
	TemplatesDir string        `env:"TEMPLATES_DIR"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"15s"`
}

type VerificationConfig struct {
	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"10m"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"5"`
	SecretBytes    int           `env:"SECRET_BYTES" envDefault:"32"`
	PurgeRetention time.Duration `env:"PURGE_RETENTION" envDefault:"0s"`
	PurgeInterval  time.Duration `env:"PURGE_INTERVAL" envDefault:"0s"`
}

type AuthConfig struct {
	MinLength      int  `env:"MIN_LENGTH" envDefault:"8"`
	RequireUpper   bool `env:"REQUIRE_UPPER" envDefault:"true"`
	RequireLower   bool `env:"REQUIRE_LOWER" envDefault:"false"`
	RequireNumber  bool `env:"REQUIRE_NUMBER" envDefault:"true"`
	RequireSpecial bool `env:"REQUIRE_SPECIAL" envDefault:"true"`
	BcryptCost     int  `env:"BCRYPT_COST" envDefault:"10"`
}

type CountingMode string

const (
	CountAll      CountingMode = "all"
	CountFailures CountingMode = "failures"
	CountSuccess  CountingMode = "success"
)

type RateLimitConfig struct {
	Enabled   bool          `env:"ENABLED" envDefault:"true"`
	Store     string        `env:"STORE" envDefault:"memory"`
	Rate      int           `env:"RATE" envDefault:"10"`
	Period    time.Duration `env:"PERIOD" envDefault:"1m"`
	CountMode CountingMode  `env:"COUNT_MODE" envDefault:"all"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Prefix   string `env:"PREFIX" envDefault:"verifyd"`
}

// minSecretBytes keeps issued secrets at 256 bits of entropy or more.
const minSecretBytes = 32

func LoadConfig(cfg *Config) error {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found: %v", err)
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg.Validate()
}

func (c *Config) Validate() error {
	var errs []error

	if c.Verification.TokenTTL <= 0 {
		errs = append(errs, errors.New("VERIFICATION_TOKEN_TTL must be positive"))
	}
	if c.Verification.MaxAttempts < 1 {
		errs = append(errs, errors.New("VERIFICATION_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Verification.SecretBytes < minSecretBytes {
		errs = append(errs, fmt.Errorf("VERIFICATION_SECRET_BYTES must be at least %d", minSecretBytes))
	}
	if c.Verification.PurgeRetention < 0 || c.Verification.PurgeInterval < 0 {
		errs = append(errs, errors.New("VERIFICATION_PURGE_RETENTION and VERIFICATION_PURGE_INTERVAL cannot be negative"))
	}
	if c.Verification.PurgeInterval > 0 && c.Verification.PurgeRetention == 0 {
		errs = append(errs, errors.New("VERIFICATION_PURGE_INTERVAL requires VERIFICATION_PURGE_RETENTION"))
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver: %s", c.Database.Driver))
	}

	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unsupported rate limit store: %s", c.RateLimit.Store))
	}

	switch c.RateLimit.CountMode {
	case CountAll, CountFailures, CountSuccess:
	default:
		errs = append(errs, fmt.Errorf("unsupported rate limit count mode: %s", c.RateLimit.CountMode))
	}

	if c.Auth.MinLength < 1 {
		errs = append(errs, errors.New("AUTH_MIN_LENGTH must be at least 1"))
	}

	return errors.Join(errs...)
}
