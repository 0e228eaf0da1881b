package verification

import (
	"time"
)

type Purpose string

const PurposeEmailVerification Purpose = "EMAIL_VERIFICATION"

func (p Purpose) Valid() bool {
	return p == PurposeEmailVerification
}

type VerificationToken struct {
	ID           string     `json:"id" gorm:"primaryKey;size:36"`
	UserID       uint       `json:"user_id" gorm:"not null;index:idx_verification_tokens_live,priority:1"`
	Purpose      Purpose    `json:"purpose" gorm:"size:32;not null;index:idx_verification_tokens_live,priority:2"`
	SecretHash   string     `json:"-" gorm:"size:64;not null;index"`
	CreatedAt    time.Time  `json:"created_at" gorm:"not null"`
	ExpiresAt    time.Time  `json:"expires_at" gorm:"not null;index"`
	Used         bool       `json:"used" gorm:"not null;default:false;index:idx_verification_tokens_live,priority:3"`
	UsedAt       *time.Time `json:"used_at"`
	Attempts     int        `json:"attempts" gorm:"not null;default:0"`
	ClientIP     string     `json:"client_ip" gorm:"size:45"`
	ClientDevice string     `json:"client_device" gorm:"size:255"`
}

func (VerificationToken) TableName() string {
	return "verification_tokens"
}

// IssuedToken carries the raw secret back to the caller. It is never persisted.
type IssuedToken struct {
	TokenID   string
	RawSecret string
	ExpiresAt time.Time
}

type UserSummary struct {
	ID    uint   `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

type Status struct {
	EmailVerified    bool
	ExpiresAt        *time.Time
	Attempts         *int
	SecondsRemaining *int64
}

type ClientInfo struct {
	IPAddress string
	UserAgent string
}
