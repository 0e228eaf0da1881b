package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/verifyd/services/users"
	"github.com/tech-arch1tect/verifyd/services/verification"
	"go.uber.org/zap"
)

func (h *Handlers) Register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return invalidRequest(c, validationMessage(err))
	}

	registration, err := h.registrar.Register(requestContext(c), req.Name, req.Email, req.Password)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusCreated, RegisterResponse{
		UserID:               registration.User.ID,
		Email:                registration.User.Email,
		RequiresVerification: true,
		CodeSent:             registration.MailSent,
	})
}

func (h *Handlers) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return invalidRequest(c, validationMessage(err))
	}

	ctx := c.Request().Context()
	summary, err := h.verifier.ValidateAndConsume(ctx, req.UserID, verification.PurposeEmailVerification, req.Token)
	if err != nil {
		return h.respondError(c, err)
	}

	welcome := &users.User{ID: summary.ID, Name: summary.Name, Email: summary.Email}
	if err := h.notifier.SendWelcome(ctx, welcome); err != nil && h.logger != nil {
		h.logger.Warn("welcome email not delivered", zap.Uint("user_id", summary.ID), zap.Error(err))
	}

	return c.JSON(http.StatusOK, VerifyResponse{Verified: true, User: summary})
}

func (h *Handlers) Resend(c echo.Context) error {
	var req ResendRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest(c, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return invalidRequest(c, validationMessage(err))
	}

	ctx := requestContext(c)
	user, err := h.users.FindByID(ctx, req.UserID)
	if err != nil {
		return h.respondError(c, err)
	}

	issued, err := h.verifier.Reissue(ctx, req.UserID, verification.PurposeEmailVerification)
	if err != nil {
		return h.respondError(c, err)
	}

	if err := h.notifier.SendVerificationCode(ctx, user, issued); err != nil {
		return h.respondError(c, errMailDelivery)
	}

	return c.JSON(http.StatusOK, ResendResponse{Sent: true, ExpiresAt: issued.ExpiresAt})
}

func (h *Handlers) Status(c echo.Context) error {
	raw := c.QueryParam("userId")
	if raw == "" {
		return invalidRequest(c, "userId is required")
	}
	userID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || userID == 0 {
		return invalidRequest(c, "userId must be a positive integer")
	}

	status, err := h.verifier.Inspect(c.Request().Context(), uint(userID), verification.PurposeEmailVerification)
	if err != nil {
		return h.respondError(c, err)
	}

	return c.JSON(http.StatusOK, StatusResponse{
		Verified:         status.EmailVerified,
		ExpiresAt:        status.ExpiresAt,
		Attempts:         status.Attempts,
		SecondsRemaining: status.SecondsRemaining,
	})
}
