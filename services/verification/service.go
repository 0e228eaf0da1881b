package verification

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mileusna/useragent"
	"github.com/tech-arch1tect/verifyd/config"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"go.uber.org/zap"
)

type Service struct {
	store       Store
	clock       clockwork.Clock
	logger      *logging.Service
	ttl         time.Duration
	maxAttempts int
	secretBytes int
	retention   time.Duration
}

func NewService(store Store, cfg *config.Config, clock clockwork.Clock, logger *logging.Service) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if logger != nil {
		logger.Info("initializing verification service",
			zap.Duration("token_ttl", cfg.Verification.TokenTTL),
			zap.Int("max_attempts", cfg.Verification.MaxAttempts),
			zap.Duration("purge_retention", cfg.Verification.PurgeRetention))
	}

	return &Service{
		store:       store,
		clock:       clock,
		logger:      logger,
		ttl:         cfg.Verification.TokenTTL,
		maxAttempts: cfg.Verification.MaxAttempts,
		secretBytes: cfg.Verification.SecretBytes,
		retention:   cfg.Verification.PurgeRetention,
	}
}

type clientInfoKey struct{}

// WithClientInfo attaches request metadata recorded on tokens issued under ctx.
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, clientInfoKey{}, info)
}

func clientInfoFrom(ctx context.Context) ClientInfo {
	info, _ := ctx.Value(clientInfoKey{}).(ClientInfo)
	return info
}

func (s *Service) IssueToken(ctx context.Context, userID uint, purpose Purpose) (*IssuedToken, error) {
	if !purpose.Valid() {
		return nil, ErrUnknownPurpose
	}

	var issued *IssuedToken
	err := s.store.Transaction(ctx, func(st Store) error {
		var err error
		issued, err = s.createToken(ctx, st, userID, purpose)
		return err
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to issue verification token", zap.Uint("user_id", userID), zap.Error(err))
		}
		return nil, persistenceError("issue verification token", err)
	}

	if s.logger != nil {
		s.logger.Info("verification token issued",
			zap.Uint("user_id", userID),
			zap.String("token_id", issued.TokenID),
			zap.Time("expires_at", issued.ExpiresAt))
	}

	return issued, nil
}

func (s *Service) Reissue(ctx context.Context, userID uint, purpose Purpose) (*IssuedToken, error) {
	if !purpose.Valid() {
		return nil, ErrUnknownPurpose
	}

	var (
		issued      *IssuedToken
		invalidated int64
	)
	err := s.store.Transaction(ctx, func(st Store) error {
		user, err := st.Users().FindByID(ctx, userID)
		if err != nil {
			return err
		}
		if user.EmailVerified {
			return ErrAlreadyVerified
		}

		invalidated, err = st.Tokens().InvalidateLive(ctx, userID, purpose, s.now())
		if err != nil {
			return err
		}

		issued, err = s.createToken(ctx, st, userID, purpose)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrAlreadyVerified) {
			if s.logger != nil {
				s.logger.Warn("verification token reissue rejected", zap.Uint("user_id", userID), zap.Error(err))
			}
			return nil, err
		}
		if s.logger != nil {
			s.logger.Error("failed to reissue verification token", zap.Uint("user_id", userID), zap.Error(err))
		}
		return nil, persistenceError("reissue verification token", err)
	}

	if s.logger != nil {
		s.logger.Info("verification token reissued",
			zap.Uint("user_id", userID),
			zap.String("token_id", issued.TokenID),
			zap.Int64("invalidated", invalidated),
			zap.Time("expires_at", issued.ExpiresAt))
	}

	return issued, nil
}

func (s *Service) ValidateAndConsume(ctx context.Context, userID uint, purpose Purpose, candidate string) (*UserSummary, error) {
	if !purpose.Valid() {
		return nil, ErrUnknownPurpose
	}

	var (
		summary *UserSummary
		outcome error
		tokenID string
	)
	// rejections set outcome and return nil so the attempts increment commits
	err := s.store.Transaction(ctx, func(st Store) error {
		token, err := st.Tokens().LatestToken(ctx, userID, purpose)
		if err != nil {
			if errors.Is(err, ErrTokenNotFound) {
				outcome = ErrTokenNotFound
				return nil
			}
			return err
		}
		tokenID = token.ID

		if token.Used {
			outcome = ErrTokenAlreadyUsed
			return nil
		}
		superseded, err := s.isSuperseded(ctx, st, token, candidate)
		if err != nil {
			return err
		}
		if superseded {
			outcome = ErrTokenAlreadyUsed
			return nil
		}
		if token.Attempts >= s.maxAttempts {
			outcome = ErrTooManyAttempts
			return nil
		}
		now := s.now()
		if now.After(token.ExpiresAt) {
			outcome = ErrTokenExpired
			return nil
		}

		if !secretMatches(candidate, token.SecretHash) {
			recorded, err := st.Tokens().IncrementAttempts(ctx, token.ID, s.maxAttempts)
			if err != nil {
				return err
			}
			if !recorded {
				current, err := st.Tokens().LatestToken(ctx, userID, purpose)
				if err != nil {
					return err
				}
				outcome = ErrTooManyAttempts
				if current.Used {
					outcome = ErrTokenAlreadyUsed
				}
				return nil
			}
			outcome = ErrInvalidToken
			return nil
		}

		consumed, err := st.Tokens().MarkUsed(ctx, token.ID, now)
		if err != nil {
			return err
		}
		if !consumed {
			outcome = ErrTokenAlreadyUsed
			return nil
		}

		user, err := st.Users().FindByID(ctx, userID)
		if err != nil {
			return err
		}
		if err := st.Users().SetEmailVerified(ctx, userID, now); err != nil {
			return err
		}

		summary = &UserSummary{ID: user.ID, Email: user.Email, Name: user.Name}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrAlreadyVerified) {
			return nil, err
		}
		if s.logger != nil {
			s.logger.Error("verification token validation failed", zap.Uint("user_id", userID), zap.Error(err))
		}
		return nil, persistenceError("validate verification token", err)
	}

	if outcome != nil {
		if s.logger != nil {
			s.logger.Warn("verification token rejected",
				zap.Uint("user_id", userID),
				zap.String("token_id", tokenID),
				zap.String("reason", outcome.Error()))
		}
		return nil, outcome
	}

	if s.logger != nil {
		s.logger.Info("email verified", zap.Uint("user_id", userID), zap.String("token_id", tokenID))
	}

	return summary, nil
}

func (s *Service) Inspect(ctx context.Context, userID uint, purpose Purpose) (*Status, error) {
	if !purpose.Valid() {
		return nil, ErrUnknownPurpose
	}

	user, err := s.store.Users().FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, persistenceError("load user", err)
	}

	status := &Status{EmailVerified: user.EmailVerified}

	token, err := s.store.Tokens().LatestLiveToken(ctx, userID, purpose)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return status, nil
		}
		return nil, persistenceError("load verification token", err)
	}

	expiresAt := token.ExpiresAt
	attempts := token.Attempts
	remaining := secondsUntil(s.now(), expiresAt)

	status.ExpiresAt = &expiresAt
	status.Attempts = &attempts
	status.SecondsRemaining = &remaining

	return status, nil
}

// isSuperseded reports whether candidate is the secret of an older token that
// a reissue or an earlier consumption already retired.
func (s *Service) isSuperseded(ctx context.Context, st Store, latest *VerificationToken, candidate string) (bool, error) {
	previous, err := st.Tokens().FindByHash(ctx, latest.UserID, latest.Purpose, hashSecret(candidate))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return false, nil
		}
		return false, err
	}
	return previous.ID != latest.ID && previous.Used, nil
}

func (s *Service) createToken(ctx context.Context, st Store, userID uint, purpose Purpose) (*IssuedToken, error) {
	secret, err := generateSecret(s.secretBytes)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token id: %w", err)
	}

	now := s.now()
	client := clientInfoFrom(ctx)
	token := &VerificationToken{
		ID:           id.String(),
		UserID:       userID,
		Purpose:      purpose,
		SecretHash:   hashSecret(secret),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl),
		ClientIP:     client.IPAddress,
		ClientDevice: describeDevice(client.UserAgent),
	}

	if err := st.Tokens().CreateToken(ctx, token); err != nil {
		return nil, err
	}

	return &IssuedToken{
		TokenID:   token.ID,
		RawSecret: secret,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func generateSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func secretMatches(candidate, storedHash string) bool {
	return subtle.ConstantTimeCompare([]byte(hashSecret(candidate)), []byte(storedHash)) == 1
}

func secondsUntil(now, deadline time.Time) int64 {
	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int64(math.Ceil(remaining.Seconds()))
}

func describeDevice(userAgent string) string {
	if userAgent == "" {
		return ""
	}

	ua := useragent.Parse(userAgent)
	switch {
	case ua.Bot:
		return "bot"
	case ua.Name == "" && ua.OS == "":
		return "unknown"
	}

	device := "desktop"
	switch {
	case ua.Mobile:
		device = "mobile"
	case ua.Tablet:
		device = "tablet"
	}

	return fmt.Sprintf("%s %s on %s (%s)", ua.Name, ua.Version, ua.OS, device)
}
