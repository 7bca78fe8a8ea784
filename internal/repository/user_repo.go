package repository

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

// UserRepository persists accounts and their single-use tokens.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (models.User, error)
	GetByEmail(ctx context.Context, email string) (models.User, error)
	Update(ctx context.Context, user *models.User) error
	CreateToken(ctx context.Context, token *models.UserToken) error
	ConsumeToken(ctx context.Context, purpose, tokenHash string, now time.Time) (models.UserToken, error)
}

// NewUserRepository constructs a user repository.
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

type userRepository struct {
	db *gorm.DB
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *userRepository) GetByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	return user, err
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&user).Error
	return user, err
}

func (r *userRepository) Update(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *userRepository) CreateToken(ctx context.Context, token *models.UserToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

// ConsumeToken marks an unexpired, unused token as used and returns it. A token
// can be consumed at most once; later calls return gorm.ErrRecordNotFound.
func (r *userRepository) ConsumeToken(ctx context.Context, purpose, tokenHash string, now time.Time) (models.UserToken, error) {
	var token models.UserToken
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("purpose = ? AND token_hash = ? AND used_at IS NULL AND expires_at > ?", purpose, tokenHash, now).
			First(&token).Error; err != nil {
			return err
		}

		result := tx.Model(&models.UserToken{}).
			Where("id = ? AND used_at IS NULL", token.ID).
			Update("used_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		token.UsedAt = &now
		return nil
	})
	return token, err
}
