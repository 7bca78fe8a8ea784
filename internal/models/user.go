package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User roles.
const (
	RoleLearner = "learner"
	RoleAdmin   = "admin"
)

// Token purposes.
const (
	TokenPurposeVerifyEmail   = "verify_email"
	TokenPurposeResetPassword = "reset_password"
)

// User is a registered learner account.
type User struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Email         string     `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash  string     `gorm:"size:255;not null" json:"-"`
	DisplayName   string     `gorm:"size:128" json:"display_name"`
	Bio           string     `gorm:"type:text" json:"bio"`
	Role          string     `gorm:"size:32;not null;default:learner" json:"role"`
	EmailVerified bool       `gorm:"not null;default:false" json:"email_verified"`
	IsActive      bool       `gorm:"not null;default:true" json:"is_active"`
	LastLoginAt   *time.Time `json:"last_login_at"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none was provided.
func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// UserToken is a single-use token for email verification or password reset.
// Only the SHA-256 of the token is stored.
type UserToken struct {
	ID        uint       `gorm:"primaryKey"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	Purpose   string     `gorm:"size:32;not null"`
	TokenHash string     `gorm:"size:64;uniqueIndex;not null"`
	ExpiresAt time.Time  `gorm:"not null"`
	UsedAt    *time.Time
	CreatedAt time.Time
}
