package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/verifyd/services/auth"
	"github.com/tech-arch1tect/verifyd/services/verification"
	"go.uber.org/zap"
)

const (
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeUserNotFound     = "USER_NOT_FOUND"
	CodeTokenNotFound    = "TOKEN_NOT_FOUND"
	CodeTokenAlreadyUsed = "TOKEN_ALREADY_USED"
	CodeTooManyAttempts  = "TOO_MANY_ATTEMPTS"
	CodeTokenExpired     = "TOKEN_EXPIRED"
	CodeInvalidToken     = "INVALID_TOKEN"
	CodeAlreadyVerified  = "ALREADY_VERIFIED"
	CodeEmailTaken       = "EMAIL_TAKEN"
	CodeMailDelivery     = "MAIL_DELIVERY_FAILED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeNotFound         = "NOT_FOUND"
	CodeInternal         = "INTERNAL_ERROR"
)

var errMailDelivery = errors.New("verification email could not be sent, try again later")

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{verification.ErrUserNotFound, http.StatusNotFound, CodeUserNotFound},
	{verification.ErrTokenNotFound, http.StatusNotFound, CodeTokenNotFound},
	{verification.ErrInvalidToken, http.StatusUnauthorized, CodeInvalidToken},
	{verification.ErrTokenAlreadyUsed, http.StatusBadRequest, CodeTokenAlreadyUsed},
	{verification.ErrTooManyAttempts, http.StatusBadRequest, CodeTooManyAttempts},
	{verification.ErrTokenExpired, http.StatusBadRequest, CodeTokenExpired},
	{verification.ErrAlreadyVerified, http.StatusBadRequest, CodeAlreadyVerified},
	{verification.ErrUnknownPurpose, http.StatusBadRequest, CodeInvalidRequest},
	{auth.ErrInvalidName, http.StatusBadRequest, CodeInvalidRequest},
	{auth.ErrInvalidEmail, http.StatusBadRequest, CodeInvalidRequest},
	{auth.ErrWeakPassword, http.StatusBadRequest, CodeInvalidRequest},
	{auth.ErrEmailTaken, http.StatusConflict, CodeEmailTaken},
	{errMailDelivery, http.StatusServiceUnavailable, CodeMailDelivery},
}

func (h *Handlers) respondError(c echo.Context, err error) error {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return c.JSON(m.status, ErrorResponse{Error: err.Error(), Code: m.code})
		}
	}

	if h.logger != nil {
		h.logger.Error("request failed",
			zap.Error(err),
			zap.String("path", c.Path()),
			zap.Bool("persistence", errors.Is(err, verification.ErrPersistence)))
	}
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: CodeInternal})
}

func invalidRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, ErrorResponse{Error: message, Code: CodeInvalidRequest})
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request"
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(fields, ", ")
}

// HTTPErrorHandler renders echo errors in the API error shape.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "internal server error"
	code := CodeInternal

	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		message = http.StatusText(he.Code)
		if text, ok := he.Message.(string); ok {
			message = text
		}
		switch {
		case status == http.StatusTooManyRequests:
			code = CodeRateLimited
		case status == http.StatusNotFound:
			code = CodeNotFound
		case status < http.StatusInternalServerError:
			code = CodeInvalidRequest
		}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, ErrorResponse{Error: message, Code: code})
}
