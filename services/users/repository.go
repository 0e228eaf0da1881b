package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email address already registered")
	// ErrAlreadyVerified is returned when the verified flag is already set.
	ErrAlreadyVerified = errors.New("account already verified")
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	return &Repository{db: tx}
}

func (r *Repository) FindByID(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return &user, nil
}

func (r *Repository) Create(ctx context.Context, user *User) error {
	if user.Status == "" {
		user.Status = StatusActive
	}
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// SetEmailVerified flips email_verified from false to true. The flag is set
// at most once: a second call returns ErrAlreadyVerified.
func (r *Repository) SetEmailVerified(ctx context.Context, id uint, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ? AND email_verified = ?", id, false).
		Updates(map[string]any{
			"email_verified": true,
			"updated_at":     at,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark email verified: %w", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if count == 0 {
		return ErrUserNotFound
	}
	return ErrAlreadyVerified
}
