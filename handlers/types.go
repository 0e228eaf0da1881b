package handlers

import (
	"time"

	"github.com/tech-arch1tect/verifyd/services/verification"
)

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=255"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=72"`
}

type RegisterResponse struct {
	UserID               uint   `json:"userId"`
	Email                string `json:"email"`
	RequiresVerification bool   `json:"requiresVerification"`
	CodeSent             bool   `json:"codeSent"`
}

type VerifyRequest struct {
	UserID uint   `json:"userId" validate:"required"`
	Token  string `json:"token" validate:"required,max=256"`
}

type VerifyResponse struct {
	Verified bool                      `json:"verified"`
	User     *verification.UserSummary `json:"user"`
}

type ResendRequest struct {
	UserID uint `json:"userId" validate:"required"`
}

type ResendResponse struct {
	Sent      bool      `json:"sent"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type StatusResponse struct {
	Verified         bool       `json:"verified"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`
	Attempts         *int       `json:"attempts,omitempty"`
	SecondsRemaining *int64     `json:"secondsRemaining,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
