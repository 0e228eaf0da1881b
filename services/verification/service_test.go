package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"github.com/tech-arch1tect/verifyd/services/users"
	"github.com/tech-arch1tect/verifyd/testutils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

var testEpoch = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

type testEnv struct {
	db      *gorm.DB
	users   *users.Repository
	store   *GormStore
	clock   *clockwork.FakeClock
	logs    *observer.ObservedLogs
	service *Service
}

func newTestEnv(t *testing.T) *testEnv {
	db := testutils.SetupTestDB(t, &users.User{}, &VerificationToken{})
	userRepo := users.NewRepository(db)
	store := NewGormStore(db, userRepo)
	clock := clockwork.NewFakeClockAt(testEpoch)
	core, logs := observer.New(zapcore.DebugLevel)

	return &testEnv{
		db:      db,
		users:   userRepo,
		store:   store,
		clock:   clock,
		logs:    logs,
		service: NewService(store, testutils.GetTestConfig(), clock, logging.NewFromZap(zap.New(core))),
	}
}

func (e *testEnv) createUser(t *testing.T, verified bool) *users.User {
	user := &users.User{Name: "Ana Pérez", Email: "ana@example.com", PasswordHash: "hash", EmailVerified: verified}
	require.NoError(t, e.users.Create(context.Background(), user))
	return user
}

func (e *testEnv) token(t *testing.T, id string) VerificationToken {
	var token VerificationToken
	require.NoError(t, e.db.First(&token, "id = ?", id).Error)
	return token
}

func (e *testEnv) userVerified(t *testing.T, id uint) bool {
	user, err := e.users.FindByID(context.Background(), id)
	require.NoError(t, err)
	return user.EmailVerified
}

func TestService_IssueToken(t *testing.T) {
	ctx := context.Background()

	t.Run("persists a hashed token", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)

		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		assert.Len(t, issued.RawSecret, 64)
		_, err = hex.DecodeString(issued.RawSecret)
		assert.NoError(t, err)
		assert.Equal(t, testEpoch.Add(10*time.Minute), issued.ExpiresAt)

		row := env.token(t, issued.TokenID)
		sum := sha256.Sum256([]byte(issued.RawSecret))
		assert.Equal(t, hex.EncodeToString(sum[:]), row.SecretHash)
		assert.Equal(t, user.ID, row.UserID)
		assert.Equal(t, PurposeEmailVerification, row.Purpose)
		assert.False(t, row.Used)
		assert.Nil(t, row.UsedAt)
		assert.Zero(t, row.Attempts)
		assert.True(t, row.ExpiresAt.Equal(issued.ExpiresAt))
	})

	t.Run("secrets are unique", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)

		first, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)
		second, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		assert.NotEqual(t, first.RawSecret, second.RawSecret)
		assert.NotEqual(t, first.TokenID, second.TokenID)
	})

	t.Run("does not invalidate earlier tokens", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)

		first, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)
		_, err = env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		assert.False(t, env.token(t, first.TokenID).Used)
	})

	t.Run("records client metadata", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		ctx := WithClientInfo(ctx, ClientInfo{
			IPAddress: "203.0.113.7",
			UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		})

		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		row := env.token(t, issued.TokenID)
		assert.Equal(t, "203.0.113.7", row.ClientIP)
		assert.Contains(t, row.ClientDevice, "Chrome")
		assert.Contains(t, row.ClientDevice, "Windows")
		assert.Contains(t, row.ClientDevice, "desktop")
	})

	t.Run("unknown purpose", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.service.IssueToken(ctx, 1, Purpose("PASSWORD_RESET"))

		assert.ErrorIs(t, err, ErrUnknownPurpose)
	})
}

func TestService_NoPlaintextPersistence(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, false)

	issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
	require.NoError(t, err)
	reissued, err := env.service.Reissue(ctx, user.ID, PurposeEmailVerification)
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, env.db.Table("verification_tokens").Find(&rows).Error)
	require.Len(t, rows, 2)

	for _, row := range rows {
		for column, value := range row {
			text, ok := value.(string)
			if !ok {
				continue
			}
			assert.NotContains(t, text, issued.RawSecret, column)
			assert.NotContains(t, text, reissued.RawSecret, column)
		}
	}

	for _, entry := range env.logs.All() {
		for _, value := range entry.ContextMap() {
			if text, ok := value.(string); ok {
				assert.NotContains(t, text, issued.RawSecret)
				assert.NotContains(t, text, reissued.RawSecret)
			}
		}
	}
}

func TestService_ValidateAndConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("success marks token used and user verified", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		env.clock.Advance(2 * time.Minute)
		summary, err := env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, issued.RawSecret)
		require.NoError(t, err)

		assert.Equal(t, &UserSummary{ID: user.ID, Email: "ana@example.com", Name: "Ana Pérez"}, summary)
		assert.True(t, env.userVerified(t, user.ID))

		row := env.token(t, issued.TokenID)
		assert.True(t, row.Used)
		require.NotNil(t, row.UsedAt)
		assert.True(t, row.UsedAt.Equal(testEpoch.Add(2*time.Minute)))
		assert.Zero(t, row.Attempts)
	})

	t.Run("single use", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, issued.RawSecret)
		require.NoError(t, err)

		for i := 0; i < 3; i++ {
			_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, issued.RawSecret)
			assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
		}
	})

	t.Run("no token", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)

		_, err := env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, "whatever")

		assert.ErrorIs(t, err, ErrTokenNotFound)
	})

	t.Run("wrong secret increments attempts", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, strings.Repeat("0", 64))

		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.Equal(t, 1, env.token(t, issued.TokenID).Attempts)
		assert.False(t, env.userVerified(t, user.ID))
	})

	t.Run("expires after ttl", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		env.clock.Advance(11 * time.Minute)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, issued.RawSecret)
		assert.ErrorIs(t, err, ErrTokenExpired)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, "wrong")
		assert.ErrorIs(t, err, ErrTokenExpired)

		assert.Zero(t, env.token(t, issued.TokenID).Attempts)
		assert.False(t, env.userVerified(t, user.ID))
	})

	t.Run("valid at the exact expiry instant", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		env.clock.Advance(10 * time.Minute)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, issued.RawSecret)
		assert.NoError(t, err)
	})

	t.Run("lockout after five failures", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		for i := 1; i <= 5; i++ {
			_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, "wrong")
			require.ErrorIs(t, err, ErrInvalidToken, "attempt %d", i)
		}
		assert.Equal(t, 5, env.token(t, issued.TokenID).Attempts)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, issued.RawSecret)
		assert.ErrorIs(t, err, ErrTooManyAttempts)

		row := env.token(t, issued.TokenID)
		assert.Equal(t, 5, row.Attempts)
		assert.False(t, row.Used)
		assert.False(t, env.userVerified(t, user.ID))
	})

	t.Run("lockout is reported before expiry", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			_, _ = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, "wrong")
		}
		env.clock.Advance(time.Hour)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, issued.RawSecret)
		assert.ErrorIs(t, err, ErrTooManyAttempts)
	})

	t.Run("used is reported before lockout", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		for i := 0; i < 4; i++ {
			_, _ = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, "wrong")
		}
		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, issued.RawSecret)
		require.NoError(t, err)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, "wrong")
		assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
	})

	t.Run("only the most recent token is considered", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		first, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)
		second, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, first.RawSecret)
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.Equal(t, 1, env.token(t, second.TokenID).Attempts)
		assert.Zero(t, env.token(t, first.TokenID).Attempts)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, second.RawSecret)
		assert.NoError(t, err)
	})

	t.Run("unknown user rolls back consumption", func(t *testing.T) {
		env := newTestEnv(t)
		issued, err := env.service.IssueToken(ctx, 42, PurposeEmailVerification)
		require.NoError(t, err)

		_, err = env.service.ValidateAndConsume(ctx, 42, PurposeEmailVerification, issued.RawSecret)

		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.False(t, env.token(t, issued.TokenID).Used)
	})
}

func TestService_Reissue(t *testing.T) {
	ctx := context.Background()

	t.Run("invalidates previous live tokens", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		first, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)
		second, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		env.clock.Advance(time.Minute)
		third, err := env.service.Reissue(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		for _, id := range []string{first.TokenID, second.TokenID} {
			row := env.token(t, id)
			assert.True(t, row.Used)
			require.NotNil(t, row.UsedAt)
			assert.True(t, row.UsedAt.Equal(testEpoch.Add(time.Minute)))
		}
		assert.False(t, env.token(t, third.TokenID).Used)
		assert.Equal(t, testEpoch.Add(11*time.Minute), third.ExpiresAt)

		var live int64
		require.NoError(t, env.db.Model(&VerificationToken{}).Where("user_id = ? AND used = ?", user.ID, false).Count(&live).Error)
		assert.EqualValues(t, 1, live)
	})

	t.Run("old secret fails as used and new secret verifies", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		first, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)
		second, err := env.service.Reissue(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, first.RawSecret)
		assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
		assert.Zero(t, env.token(t, second.TokenID).Attempts)

		summary, err := env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, second.RawSecret)
		require.NoError(t, err)
		assert.Equal(t, user.ID, summary.ID)
		assert.True(t, env.userVerified(t, user.ID))
	})

	t.Run("recovers from lockout", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		_, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			_, _ = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, "wrong")
		}

		fresh, err := env.service.Reissue(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, fresh.RawSecret)
		assert.NoError(t, err)
	})

	t.Run("already verified", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, true)

		_, err := env.service.Reissue(ctx, user.ID, PurposeEmailVerification)

		assert.ErrorIs(t, err, ErrAlreadyVerified)
		var count int64
		require.NoError(t, env.db.Model(&VerificationToken{}).Count(&count).Error)
		assert.Zero(t, count)
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.service.Reissue(ctx, 999, PurposeEmailVerification)

		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestService_Inspect(t *testing.T) {
	ctx := context.Background()

	t.Run("without live token", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)

		status, err := env.service.Inspect(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		assert.False(t, status.EmailVerified)
		assert.Nil(t, status.ExpiresAt)
		assert.Nil(t, status.Attempts)
		assert.Nil(t, status.SecondsRemaining)
	})

	t.Run("reports live token and never mutates", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)
		_, _ = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, "wrong")
		before := env.token(t, issued.TokenID)

		env.clock.Advance(500 * time.Millisecond)
		status, err := env.service.Inspect(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		require.NotNil(t, status.ExpiresAt)
		assert.True(t, status.ExpiresAt.Equal(issued.ExpiresAt))
		assert.Equal(t, 1, *status.Attempts)
		assert.EqualValues(t, 600, *status.SecondsRemaining)

		previous := *status.SecondsRemaining
		for _, step := range []time.Duration{0, time.Second, 90 * time.Second, 9 * time.Minute, time.Hour} {
			env.clock.Advance(step)
			status, err = env.service.Inspect(ctx, user.ID, PurposeEmailVerification)
			require.NoError(t, err)
			assert.LessOrEqual(t, *status.SecondsRemaining, previous)
			previous = *status.SecondsRemaining
		}
		assert.Zero(t, previous)

		assert.Equal(t, before, env.token(t, issued.TokenID))
	})

	t.Run("verified user", func(t *testing.T) {
		env := newTestEnv(t)
		user := env.createUser(t, false)
		issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)
		_, err = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, issued.RawSecret)
		require.NoError(t, err)

		status, err := env.service.Inspect(ctx, user.ID, PurposeEmailVerification)
		require.NoError(t, err)

		assert.True(t, status.EmailVerified)
		assert.Nil(t, status.SecondsRemaining)
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newTestEnv(t)

		_, err := env.service.Inspect(ctx, 7, PurposeEmailVerification)

		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestService_ConcurrentValidate(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	user := env.createUser(t, false)
	issued, err := env.service.IssueToken(ctx, user.ID, PurposeEmailVerification)
	require.NoError(t, err)

	const callers = 2
	results := make([]error, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, results[i] = env.service.ValidateAndConsume(ctx, user.ID, PurposeEmailVerification, issued.RawSecret)
		}(i)
	}
	close(start)
	wg.Wait()

	var succeeded, alreadyUsed int
	for _, err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrTokenAlreadyUsed):
			alreadyUsed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, alreadyUsed)
}

func TestSecondsUntil(t *testing.T) {
	tests := []struct {
		name     string
		delta    time.Duration
		expected int64
	}{
		{"whole seconds", 90 * time.Second, 90},
		{"rounds up", 1500 * time.Millisecond, 2},
		{"sub-second", time.Nanosecond, 1},
		{"at deadline", 0, 0},
		{"past deadline", -time.Minute, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, secondsUntil(testEpoch, testEpoch.Add(tt.delta)))
		})
	}
}

func TestDescribeDevice(t *testing.T) {
	assert.Empty(t, describeDevice(""))
	assert.Equal(t, "bot", describeDevice("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"))
	assert.Contains(t, describeDevice("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"), "mobile")
}
