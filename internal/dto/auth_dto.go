package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

// RegisterRequest creates an account.
type RegisterRequest struct {
	Email       string `json:"email" validate:"required,email,max=255"`
	Password    string `json:"password" validate:"required,min=8,max=128"`
	DisplayName string `json:"display_name" validate:"omitempty,max=128"`
	SessionID   string `json:"session_id" validate:"omitempty,max=128"`
}

// LoginRequest authenticates with email and password.
type LoginRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

// TokenRequest carries a single-use token.
type TokenRequest struct {
	Token string `json:"token" validate:"required,min=16"`
}

// ForgotPasswordRequest starts a password reset.
type ForgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest completes a password reset.
type ResetPasswordRequest struct {
	Token    string `json:"token" validate:"required,min=16"`
	Password string `json:"password" validate:"required,min=8,max=128"`
}

// ChangePasswordRequest rotates the password of the signed-in user.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=128"`
}

// ProfileUpdateRequest edits the public profile.
type ProfileUpdateRequest struct {
	DisplayName string `json:"display_name" validate:"omitempty,max=128"`
	Bio         string `json:"bio" validate:"omitempty,max=1000"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	DisplayName   string     `json:"display_name"`
	Bio           string     `json:"bio"`
	Role          string     `json:"role"`
	EmailVerified bool       `json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// TokenClaims is the validated content of a bearer token.
type TokenClaims struct {
	UserID    uuid.UUID `json:"user_id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewUserResponse builds the public view of a user.
func NewUserResponse(user models.User) UserResponse {
	return UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		DisplayName:   user.DisplayName,
		Bio:           user.Bio,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		LastLoginAt:   user.LastLoginAt,
		CreatedAt:     user.CreatedAt,
	}
}
