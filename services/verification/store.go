package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tech-arch1tect/verifyd/services/users"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TokenRepository interface {
	// LatestToken returns the most recently issued token, used or not. Inside a
	// transaction the row stays locked until commit.
	LatestToken(ctx context.Context, userID uint, purpose Purpose) (*VerificationToken, error)
	// LatestLiveToken returns the most recently issued unused token.
	LatestLiveToken(ctx context.Context, userID uint, purpose Purpose) (*VerificationToken, error)
	// FindByHash returns the newest token whose secret hashes to secretHash.
	FindByHash(ctx context.Context, userID uint, purpose Purpose, secretHash string) (*VerificationToken, error)
	CreateToken(ctx context.Context, token *VerificationToken) error
	InvalidateLive(ctx context.Context, userID uint, purpose Purpose, at time.Time) (int64, error)
	// IncrementAttempts reports false when the token was already used or
	// already holds limit failed attempts.
	IncrementAttempts(ctx context.Context, tokenID string, limit int) (bool, error)
	// MarkUsed reports false when the token was already used.
	MarkUsed(ctx context.Context, tokenID string, at time.Time) (bool, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*users.User, error)
	SetEmailVerified(ctx context.Context, id uint, at time.Time) error
}

type Store interface {
	Tokens() TokenRepository
	Users() UserRepository
	Transaction(ctx context.Context, fn func(Store) error) error
}

type GormStore struct {
	db    *gorm.DB
	users *users.Repository
}

func NewGormStore(db *gorm.DB, userRepo *users.Repository) *GormStore {
	return &GormStore{db: db, users: userRepo}
}

func (s *GormStore) Tokens() TokenRepository {
	return &gormTokenRepository{db: s.db}
}

func (s *GormStore) Users() UserRepository {
	return s.users
}

func (s *GormStore) Transaction(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, users: s.users.WithTx(tx)})
	})
}

type gormTokenRepository struct {
	db *gorm.DB
}

func (r *gormTokenRepository) LatestToken(ctx context.Context, userID uint, purpose Purpose) (*VerificationToken, error) {
	return r.latest(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ? AND purpose = ?", userID, purpose))
}

func (r *gormTokenRepository) LatestLiveToken(ctx context.Context, userID uint, purpose Purpose) (*VerificationToken, error) {
	return r.latest(r.db.WithContext(ctx).Where("user_id = ? AND purpose = ? AND used = ?", userID, purpose, false))
}

func (r *gormTokenRepository) FindByHash(ctx context.Context, userID uint, purpose Purpose, secretHash string) (*VerificationToken, error) {
	return r.latest(r.db.WithContext(ctx).Where("user_id = ? AND purpose = ? AND secret_hash = ?", userID, purpose, secretHash))
}

func (r *gormTokenRepository) latest(query *gorm.DB) (*VerificationToken, error) {
	var token VerificationToken
	// ids are UUIDv7, so they break created_at ties in issue order
	err := query.Order("created_at DESC").Order("id DESC").First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to load verification token: %w", err)
	}
	return &token, nil
}

func (r *gormTokenRepository) CreateToken(ctx context.Context, token *VerificationToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("failed to store verification token: %w", err)
	}
	return nil
}

func (r *gormTokenRepository) InvalidateLive(ctx context.Context, userID uint, purpose Purpose, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&VerificationToken{}).
		Where("user_id = ? AND purpose = ? AND used = ?", userID, purpose, false).
		Updates(map[string]any{"used": true, "used_at": at})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to invalidate verification tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (r *gormTokenRepository) IncrementAttempts(ctx context.Context, tokenID string, limit int) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&VerificationToken{}).
		Where("id = ? AND used = ? AND attempts < ?", tokenID, false, limit).
		UpdateColumn("attempts", gorm.Expr("attempts + ?", 1))
	if result.Error != nil {
		return false, fmt.Errorf("failed to record failed attempt: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *gormTokenRepository) MarkUsed(ctx context.Context, tokenID string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&VerificationToken{}).
		Where("id = ? AND used = ?", tokenID, false).
		Updates(map[string]any{"used": true, "used_at": at})
	if result.Error != nil {
		return false, fmt.Errorf("failed to mark verification token used: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (r *gormTokenRepository) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&VerificationToken{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge verification tokens: %w", result.Error)
	}
	return result.RowsAffected, nil
}
