package verification

import (
	"errors"
	"fmt"

	"github.com/tech-arch1tect/verifyd/services/users"
)

var (
	ErrTokenNotFound    = errors.New("verification token not found")
	ErrTokenAlreadyUsed = errors.New("verification token already used")
	ErrTooManyAttempts  = errors.New("too many failed attempts, request a new verification token")
	ErrTokenExpired     = errors.New("verification token expired, request a new one")
	ErrInvalidToken     = errors.New("invalid verification token")
	ErrUnknownPurpose   = errors.New("unknown token purpose")
	ErrPersistence      = errors.New("verification store failure")

	ErrUserNotFound    = users.ErrUserNotFound
	ErrAlreadyVerified = users.ErrAlreadyVerified
)

type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

func persistenceError(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}
