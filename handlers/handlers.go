package handlers

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/verifyd/services/auth"
	"github.com/tech-arch1tect/verifyd/services/logging"
	"github.com/tech-arch1tect/verifyd/services/users"
	"github.com/tech-arch1tect/verifyd/services/verification"
)

type Registrar interface {
	Register(ctx context.Context, name, email, password string) (*auth.Registration, error)
}

type Verifier interface {
	Reissue(ctx context.Context, userID uint, purpose verification.Purpose) (*verification.IssuedToken, error)
	ValidateAndConsume(ctx context.Context, userID uint, purpose verification.Purpose, candidate string) (*verification.UserSummary, error)
	Inspect(ctx context.Context, userID uint, purpose verification.Purpose) (*verification.Status, error)
}

type Notifier interface {
	SendVerificationCode(ctx context.Context, user *users.User, issued *verification.IssuedToken) error
	SendWelcome(ctx context.Context, user *users.User) error
}

type UserFinder interface {
	FindByID(ctx context.Context, id uint) (*users.User, error)
}

// Handlers holds the HTTP handlers of the verification API.
type Handlers struct {
	registrar Registrar
	verifier  Verifier
	notifier  Notifier
	users     UserFinder
	logger    *logging.Service
}

func New(registrar Registrar, verifier Verifier, notifier Notifier, userFinder UserFinder, logger *logging.Service) *Handlers {
	return &Handlers{
		registrar: registrar,
		verifier:  verifier,
		notifier:  notifier,
		users:     userFinder,
		logger:    logger,
	}
}

func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// requestContext attaches client metadata so issued tokens record who asked for them.
func requestContext(c echo.Context) context.Context {
	return verification.WithClientInfo(c.Request().Context(), verification.ClientInfo{
		IPAddress: c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
}
