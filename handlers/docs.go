package handlers

import (
	"net/http"

	"github.com/tech-arch1tect/verifyd/openapi"
)

const APIVersion = "1.0.0"

// Document describes the routes mounted by RegisterRoutes.
func Document(o *openapi.OpenAPI) {
	o.Tag("auth", "Account registration").
		Tag("verification", "Email verification codes")

	o.Document(http.MethodGet, "/healthz").
		Summary("Liveness probe").
		Tags("system").
		Response(http.StatusOK, map[string]string{}, "service is up").
		Build()

	o.Document(http.MethodPost, "/api/auth/register").
		Summary("Register an account").
		Description("Creates an unverified user and emails a verification code.").
		Tags("auth").
		Body(RegisterRequest{}, "account details").
		Response(http.StatusCreated, RegisterResponse{}, "user created").
		Response(http.StatusBadRequest, ErrorResponse{}, "invalid input").
		Response(http.StatusConflict, ErrorResponse{}, "email already registered").
		Response(http.StatusTooManyRequests, ErrorResponse{}, "rate limited").
		Build()

	o.Document(http.MethodPost, "/api/verification/verify").
		Summary("Verify an email address").
		Description("Consumes the latest code issued to the user. Each wrong guess counts towards the attempt limit.").
		Tags("verification").
		Body(VerifyRequest{}, "candidate code").
		Response(http.StatusOK, VerifyResponse{}, "email verified").
		Response(http.StatusBadRequest, ErrorResponse{}, "code used, expired or locked").
		Response(http.StatusUnauthorized, ErrorResponse{}, "code does not match").
		Response(http.StatusNotFound, ErrorResponse{}, "no code or user").
		Response(http.StatusTooManyRequests, ErrorResponse{}, "rate limited").
		Build()

	o.Document(http.MethodPost, "/api/verification/resend").
		Summary("Send a new code").
		Description("Invalidates outstanding codes and emails a fresh one.").
		Tags("verification").
		Body(ResendRequest{}, "user to resend to").
		Response(http.StatusOK, ResendResponse{}, "code sent").
		Response(http.StatusBadRequest, ErrorResponse{}, "already verified").
		Response(http.StatusNotFound, ErrorResponse{}, "unknown user").
		Response(http.StatusServiceUnavailable, ErrorResponse{}, "mail delivery failed").
		Build()

	o.Document(http.MethodGet, "/api/verification/status").
		Summary("Inspect verification state").
		Tags("verification").
		QueryParam("userId", "user to inspect").Required().TypeInt().Min(1).Done().
		Response(http.StatusOK, StatusResponse{}, "current state").
		Response(http.StatusNotFound, ErrorResponse{}, "unknown user").
		Build()
}

// NewDocument returns the API description for an instance named appName.
func NewDocument(appName, baseURL string) *openapi.OpenAPI {
	o := openapi.New(appName, APIVersion).
		Description("Issues and validates single-use email verification codes.")
	if baseURL != "" {
		o.Server(baseURL, appName)
	}
	Document(o)
	return o
}
