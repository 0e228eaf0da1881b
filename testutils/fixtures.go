package testutils

import (
	"time"

	"github.com/tech-arch1tect/verifyd/config"
	"golang.org/x/crypto/bcrypt"
)

func GetTestConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{
			Name: "Test App",
			URL:  "http://localhost:8080",
		},
		Log: config.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			DSN:    ":memory:",
		},
		Verification: config.VerificationConfig{
			TokenTTL:    10 * time.Minute,
			MaxAttempts: 5,
			SecretBytes: 32,
		},
		Auth: config.AuthConfig{
			MinLength:      8,
			RequireUpper:   true,
			RequireLower:   false,
			RequireNumber:  true,
			RequireSpecial: true,
			BcryptCost:     bcrypt.MinCost,
		},
		RateLimit: config.RateLimitConfig{
			Enabled:   false,
			Store:     "memory",
			Rate:      10,
			Period:    time.Minute,
			CountMode: config.CountAll,
		},
	}
}

var TestPasswords = struct {
	Valid     string
	TooShort  string
	NoUpper   string
	NoNumber  string
	NoSpecial string
}{
	Valid:     "Password123!",
	TooShort:  "Pa1!",
	NoUpper:   "password123!",
	NoNumber:  "Password!!!",
	NoSpecial: "Password123",
}
