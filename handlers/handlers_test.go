package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/verifyd/services/auth"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"github.com/tech-arch1tect/verifyd/services/users"
	"github.com/tech-arch1tect/verifyd/services/verification"
	"github.com/tech-arch1tect/verifyd/testutils"
)

type apiEnv struct {
	echo   *echo.Echo
	mailer *testutils.MockMailService
	codes  []string
}

// newAPIEnv wires the handlers to sqlite backed services and captures every
// verification code that would have been mailed.
func newAPIEnv(t *testing.T) *apiEnv {
	return newAPIEnvWithIssuer(t, nil)
}

// newAPIEnvWithIssuer lets registration use issuer in place of the token
// service. Every other route keeps the real one.
func newAPIEnvWithIssuer(t *testing.T, issuer auth.TokenIssuer) *apiEnv {
	cfg := testutils.GetTestConfig()
	db := testutils.SetupTestDB(t, &users.User{}, &verification.VerificationToken{})
	userRepo := users.NewRepository(db)
	logger := logging.NewNop()

	tokens := verification.NewService(verification.NewGormStore(db, userRepo), cfg, clockwork.NewRealClock(), logger)
	if issuer == nil {
		issuer = tokens
	}
	env := &apiEnv{mailer: new(testutils.MockMailService)}
	notifier := verification.NewNotifier(env.mailer, cfg, logger)
	authSvc := auth.NewService(cfg, userRepo, issuer, notifier, logger)

	env.mailer.On("SendTemplate", mock.Anything, verification.TemplateVerificationCode, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			data := args.Get(4).(map[string]any)
			env.codes = append(env.codes, data["Code"].(string))
		}).
		Return(nil)
	env.mailer.On("SendTemplate", mock.Anything, verification.TemplateWelcome, mock.Anything, mock.Anything, mock.Anything).Return(nil)

	env.echo = newEcho(New(authSvc, tokens, notifier, userRepo, logger))
	return env
}

type failingIssuer struct{}

func (failingIssuer) IssueToken(context.Context, uint, verification.Purpose) (*verification.IssuedToken, error) {
	return nil, errors.New("token store down")
}

func newEcho(h *Handlers) *echo.Echo {
	e := echo.New()
	e.Validator = NewRequestValidator()
	e.HTTPErrorHandler = HTTPErrorHandler
	RegisterRoutes(e, h, nil)
	return e
}

func (e *apiEnv) lastCode(t *testing.T) string {
	require.NotEmpty(t, e.codes, "no verification code was sent")
	return e.codes[len(e.codes)-1]
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (e *apiEnv) register(t *testing.T, email string) uint {
	rec := doJSON(e.echo, http.MethodPost, "/api/auth/register",
		`{"name":"Ana Pérez","email":"`+email+`","password":"`+testutils.TestPasswords.Valid+`"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[RegisterResponse](t, rec).UserID
}

func verifyBody(userID uint, token string) string {
	return `{"userId":` + strconv.FormatUint(uint64(userID), 10) + `,"token":"` + token + `"}`
}

func TestRegister(t *testing.T) {
	t.Run("creates user and sends code", func(t *testing.T) {
		env := newAPIEnv(t)

		rec := doJSON(env.echo, http.MethodPost, "/api/auth/register",
			`{"name":"Ana Pérez","email":"Ana@Example.com","password":"Password123!"}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		resp := decode[RegisterResponse](t, rec)
		assert.NotZero(t, resp.UserID)
		assert.Equal(t, "ana@example.com", resp.Email)
		assert.True(t, resp.RequiresVerification)
		assert.True(t, resp.CodeSent)
		assert.Len(t, env.lastCode(t), 64)
	})

	t.Run("token failure still returns the user id", func(t *testing.T) {
		env := newAPIEnvWithIssuer(t, failingIssuer{})

		rec := doJSON(env.echo, http.MethodPost, "/api/auth/register",
			`{"name":"Ana Pérez","email":"ana@example.com","password":"Password123!"}`)

		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		resp := decode[RegisterResponse](t, rec)
		require.NotZero(t, resp.UserID)
		assert.False(t, resp.CodeSent)
		assert.Empty(t, env.codes)

		rec = doJSON(env.echo, http.MethodPost, "/api/verification/resend",
			`{"userId":`+strconv.FormatUint(uint64(resp.UserID), 10)+`}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = doJSON(env.echo, http.MethodPost, "/api/verification/verify", verifyBody(resp.UserID, env.lastCode(t)))
		assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	})

	t.Run("duplicate email conflicts", func(t *testing.T) {
		env := newAPIEnv(t)
		env.register(t, "ana@example.com")

		rec := doJSON(env.echo, http.MethodPost, "/api/auth/register",
			`{"name":"Another Ana","email":"ana@example.com","password":"Password123!"}`)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, CodeEmailTaken, decode[ErrorResponse](t, rec).Code)
	})

	tests := []struct {
		name     string
		body     string
		contains string
	}{
		{"malformed json", `{"name":`, "invalid request body"},
		{"missing email", `{"name":"Ana","password":"Password123!"}`, "email failed required"},
		{"invalid email", `{"name":"Ana","email":"nope","password":"Password123!"}`, "email failed email"},
		{"weak password", `{"name":"Ana","email":"ana@example.com","password":"password"}`, "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newAPIEnv(t)

			rec := doJSON(env.echo, http.MethodPost, "/api/auth/register", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, CodeInvalidRequest, resp.Code)
			assert.Contains(t, resp.Error, tt.contains)
		})
	}
}

func TestVerificationFlow(t *testing.T) {
	env := newAPIEnv(t)
	userID := env.register(t, "ana@example.com")
	code := env.lastCode(t)

	statusPath := "/api/verification/status?userId=" + strconv.FormatUint(uint64(userID), 10)

	rec := doJSON(env.echo, http.MethodGet, statusPath, "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.False(t, status.Verified)
	require.NotNil(t, status.Attempts)
	assert.Equal(t, 0, *status.Attempts)
	require.NotNil(t, status.SecondsRemaining)
	assert.InDelta(t, 600, *status.SecondsRemaining, 2)

	rec = doJSON(env.echo, http.MethodPost, "/api/verification/verify", verifyBody(userID, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, CodeInvalidToken, decode[ErrorResponse](t, rec).Code)

	rec = doJSON(env.echo, http.MethodGet, statusPath, "")
	status = decode[StatusResponse](t, rec)
	require.NotNil(t, status.Attempts)
	assert.Equal(t, 1, *status.Attempts)

	rec = doJSON(env.echo, http.MethodPost, "/api/verification/verify", verifyBody(userID, code))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verified := decode[VerifyResponse](t, rec)
	assert.True(t, verified.Verified)
	require.NotNil(t, verified.User)
	assert.Equal(t, "ana@example.com", verified.User.Email)

	rec = doJSON(env.echo, http.MethodPost, "/api/verification/verify", verifyBody(userID, code))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeTokenAlreadyUsed, decode[ErrorResponse](t, rec).Code)

	rec = doJSON(env.echo, http.MethodGet, statusPath, "")
	status = decode[StatusResponse](t, rec)
	assert.True(t, status.Verified)
	assert.Nil(t, status.ExpiresAt)
	assert.Nil(t, status.Attempts)
	assert.Nil(t, status.SecondsRemaining)

	rec = doJSON(env.echo, http.MethodPost, "/api/verification/resend", `{"userId":`+strconv.FormatUint(uint64(userID), 10)+`}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, CodeAlreadyVerified, decode[ErrorResponse](t, rec).Code)

	env.mailer.AssertCalled(t, "SendTemplate", mock.Anything, verification.TemplateWelcome, []string{"ana@example.com"}, mock.Anything, mock.Anything)
}

func TestResend(t *testing.T) {
	t.Run("new code replaces the old one", func(t *testing.T) {
		env := newAPIEnv(t)
		userID := env.register(t, "ana@example.com")
		first := env.lastCode(t)

		rec := doJSON(env.echo, http.MethodPost, "/api/verification/resend", `{"userId":`+strconv.FormatUint(uint64(userID), 10)+`}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		resp := decode[ResendResponse](t, rec)
		assert.True(t, resp.Sent)
		assert.WithinDuration(t, time.Now().Add(10*time.Minute), resp.ExpiresAt, 5*time.Second)

		second := env.lastCode(t)
		assert.NotEqual(t, first, second)

		rec = doJSON(env.echo, http.MethodPost, "/api/verification/verify", verifyBody(userID, first))
		assert.Equal(t, CodeTokenAlreadyUsed, decode[ErrorResponse](t, rec).Code)

		rec = doJSON(env.echo, http.MethodPost, "/api/verification/verify", verifyBody(userID, second))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		env := newAPIEnv(t)

		rec := doJSON(env.echo, http.MethodPost, "/api/verification/resend", `{"userId":404}`)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, CodeUserNotFound, decode[ErrorResponse](t, rec).Code)
	})

	t.Run("missing user id", func(t *testing.T) {
		env := newAPIEnv(t)

		rec := doJSON(env.echo, http.MethodPost, "/api/verification/resend", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[ErrorResponse](t, rec).Error, "userId failed required")
	})
}

func TestStatus_QueryValidation(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		query  string
		status int
		code   string
	}{
		{"", http.StatusBadRequest, CodeInvalidRequest},
		{"?userId=abc", http.StatusBadRequest, CodeInvalidRequest},
		{"?userId=0", http.StatusBadRequest, CodeInvalidRequest},
		{"?userId=99", http.StatusNotFound, CodeUserNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := doJSON(env.echo, http.MethodGet, "/api/verification/status"+tt.query, "")

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

type stubVerifier struct {
	err error
}

func (s stubVerifier) Reissue(context.Context, uint, verification.Purpose) (*verification.IssuedToken, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &verification.IssuedToken{TokenID: "tok", RawSecret: "secret", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (s stubVerifier) ValidateAndConsume(context.Context, uint, verification.Purpose, string) (*verification.UserSummary, error) {
	return nil, s.err
}

func (s stubVerifier) Inspect(context.Context, uint, verification.Purpose) (*verification.Status, error) {
	return nil, s.err
}

type stubUsers struct{}

func (stubUsers) FindByID(_ context.Context, id uint) (*users.User, error) {
	return &users.User{ID: id, Name: "Ana", Email: "ana@example.com"}, nil
}

type stubNotifier struct {
	err error
}

func (s stubNotifier) SendVerificationCode(context.Context, *users.User, *verification.IssuedToken) error {
	return s.err
}

func (s stubNotifier) SendWelcome(context.Context, *users.User) error { return s.err }

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", verification.ErrTokenNotFound, http.StatusNotFound, CodeTokenNotFound},
		{"already used", verification.ErrTokenAlreadyUsed, http.StatusBadRequest, CodeTokenAlreadyUsed},
		{"too many attempts", verification.ErrTooManyAttempts, http.StatusBadRequest, CodeTooManyAttempts},
		{"expired", verification.ErrTokenExpired, http.StatusBadRequest, CodeTokenExpired},
		{"invalid", verification.ErrInvalidToken, http.StatusUnauthorized, CodeInvalidToken},
		{"user not found", verification.ErrUserNotFound, http.StatusNotFound, CodeUserNotFound},
		{"persistence", &verification.PersistenceError{Op: "mark token used", Err: errors.New("disk full")}, http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEcho(New(nil, stubVerifier{err: tt.err}, stubNotifier{}, stubUsers{}, logging.NewNop()))

			rec := doJSON(e, http.MethodPost, "/api/verification/verify", verifyBody(1, "abc"))

			assert.Equal(t, tt.status, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			if tt.status == http.StatusInternalServerError {
				assert.NotContains(t, resp.Error, "disk full")
			}
		})
	}
}

func TestResend_MailFailure(t *testing.T) {
	e := newEcho(New(nil, stubVerifier{}, stubNotifier{err: errors.New("smtp down")}, stubUsers{}, logging.NewNop()))

	rec := doJSON(e, http.MethodPost, "/api/verification/resend", `{"userId":1}`)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, CodeMailDelivery, decode[ErrorResponse](t, rec).Code)
}

func TestHTTPErrorHandler(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = HTTPErrorHandler
	e.GET("/limited", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	})
	e.GET("/panic", func(c echo.Context) error {
		return errors.New("boom")
	})

	t.Run("unknown route", func(t *testing.T) {
		rec := doJSON(e, http.MethodGet, "/nowhere", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, CodeNotFound, decode[ErrorResponse](t, rec).Code)
	})

	t.Run("rate limited", func(t *testing.T) {
		rec := doJSON(e, http.MethodGet, "/limited", "")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, CodeRateLimited, resp.Code)
		assert.Equal(t, "rate limit exceeded", resp.Error)
	})

	t.Run("plain error", func(t *testing.T) {
		rec := doJSON(e, http.MethodGet, "/panic", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, CodeInternal, resp.Code)
		assert.Equal(t, "internal server error", resp.Error)
	})
}

func TestHealth(t *testing.T) {
	e := newEcho(New(nil, stubVerifier{}, stubNotifier{}, stubUsers{}, nil))

	rec := doJSON(e, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestNewDocument(t *testing.T) {
	doc := NewDocument("verifyd", "https://verify.example.com")
	spec := doc.Spec()

	for _, path := range []string{"/healthz", "/api/auth/register", "/api/verification/verify", "/api/verification/resend", "/api/verification/status"} {
		assert.NotNil(t, spec.Paths.Find(path), path)
	}
	require.Len(t, spec.Servers, 1)
	assert.Equal(t, "https://verify.example.com", spec.Servers[0].URL)
	assert.Contains(t, spec.Components.Schemas, "VerifyResponse")
	assert.Contains(t, spec.Components.Schemas, "UserSummary")

	_, err := doc.JSON()
	assert.NoError(t, err)
}
