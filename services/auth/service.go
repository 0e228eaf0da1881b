package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"github.com/tech-arch1tect/verifyd/services/users"
	"github.com/tech-arch1tect/verifyd/services/verification"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordHashingFailed = errors.New("failed to hash password")
	ErrInvalidCredentials    = errors.New("invalid credentials")
	ErrWeakPassword          = errors.New("password does not meet requirements")
	ErrInvalidName           = errors.New("name must be at least 2 characters")
	ErrInvalidEmail          = errors.New("invalid email address")
	ErrEmailTaken            = users.ErrEmailTaken
)

const minNameLength = 2

type UserStore interface {
	Create(ctx context.Context, user *users.User) error
	FindByEmail(ctx context.Context, email string) (*users.User, error)
}

type TokenIssuer interface {
	IssueToken(ctx context.Context, userID uint, purpose verification.Purpose) (*verification.IssuedToken, error)
}

type CodeSender interface {
	SendVerificationCode(ctx context.Context, user *users.User, issued *verification.IssuedToken) error
}

type Service struct {
	config   *config.Config
	users    UserStore
	tokens   TokenIssuer
	notifier CodeSender
	validate *validator.Validate
	logger   *logging.Service
}

type Registration struct {
	User      *users.User
	ExpiresAt time.Time
	MailSent  bool
}

func NewService(cfg *config.Config, userStore UserStore, tokens TokenIssuer, notifier CodeSender, logger *logging.Service) *Service {
	if cfg.Auth.BcryptCost < bcrypt.MinCost || cfg.Auth.BcryptCost > bcrypt.MaxCost {
		cfg.Auth.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		config:   cfg,
		users:    userStore,
		tokens:   tokens,
		notifier: notifier,
		validate: validator.New(),
		logger:   logger,
	}
}

// Register creates an unverified account and sends its first verification code.
// Once the user row exists the registration succeeds: a failed token issue or
// mail send is logged and reported through Registration.MailSent, and the
// user recovers through resend.
func (s *Service) Register(ctx context.Context, name, email, password string) (*Registration, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))

	if utf8.RuneCountInString(name) < minNameLength {
		return nil, ErrInvalidName
	}
	if err := s.validate.Var(email, "required,email"); err != nil {
		return nil, ErrInvalidEmail
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}

	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, users.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check existing user: %w", err)
	}

	user := &users.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Status:       users.StatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		if s.logger != nil {
			s.logger.Error("failed to create user", zap.Error(err))
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("user registered", zap.Uint("user_id", user.ID))
	}

	registration := &Registration{User: user}

	issued, err := s.tokens.IssueToken(ctx, user.ID, verification.PurposeEmailVerification)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("verification token not issued after registration",
				zap.Uint("user_id", user.ID),
				zap.Error(err))
		}
		return registration, nil
	}
	registration.ExpiresAt = issued.ExpiresAt
	registration.MailSent = true

	if err := s.notifier.SendVerificationCode(ctx, user, issued); err != nil {
		if s.logger != nil {
			s.logger.Warn("verification code not delivered after registration",
				zap.Uint("user_id", user.ID),
				zap.Error(err))
		}
		registration.MailSent = false
	}

	return registration, nil
}

func (s *Service) ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < s.config.Auth.MinLength {
		if s.logger != nil {
			s.logger.Debug("password validation failed: insufficient length",
				zap.Int("min_required", s.config.Auth.MinLength))
		}
		return fmt.Errorf("%w: password must be at least %d characters", ErrWeakPassword, s.config.Auth.MinLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	var missing []string

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if s.config.Auth.RequireUpper && !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if s.config.Auth.RequireLower && !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if s.config.Auth.RequireNumber && !hasNumber {
		missing = append(missing, "one number")
	}
	if s.config.Auth.RequireSpecial && !hasSpecial {
		missing = append(missing, "one special character")
	}

	if len(missing) > 0 {
		if s.logger != nil {
			s.logger.Debug("password validation failed: missing requirements",
				zap.Strings("missing_requirements", missing))
		}
		return fmt.Errorf("%w: password must contain at least %s", ErrWeakPassword, strings.Join(missing, ", "))
	}

	return nil
}

func (s *Service) HashPassword(password string) (string, error) {
	if err := s.ValidatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.Auth.BcryptCost)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("password hashing failed", zap.Error(err))
		}
		return "", ErrPasswordHashingFailed
	}

	return string(hash), nil
}

func (s *Service) VerifyPassword(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
