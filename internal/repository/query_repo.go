package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

// QueryOwner scopes history and saved queries to a user when known, otherwise
// to a session.
type QueryOwner struct {
	SessionID string
	UserID    *uuid.UUID
}

func (o QueryOwner) apply(db *gorm.DB) *gorm.DB {
	if o.UserID != nil {
		return db.Where("user_id = ?", *o.UserID)
	}
	return db.Where("session_id = ?", o.SessionID)
}

// PopularQuery is a query text with the number of sessions that saved it.
type PopularQuery struct {
	Query   string
	Dialect string
	Count   int64
}

// QueryRepository persists query history, performance metrics and saved
// queries.
type QueryRepository interface {
	RecordHistory(ctx context.Context, entry *models.QueryHistory) error
	ListHistory(ctx context.Context, owner QueryOwner, offset, limit int) ([]models.QueryHistory, int64, error)
	RecordMetric(ctx context.Context, metric *models.PerformanceMetric) error
	ListSaved(ctx context.Context, owner QueryOwner) ([]models.SavedQuery, error)
	GetSaved(ctx context.Context, owner QueryOwner, id uint) (models.SavedQuery, error)
	CreateSaved(ctx context.Context, saved *models.SavedQuery) error
	UpdateSaved(ctx context.Context, saved *models.SavedQuery) error
	DeleteSaved(ctx context.Context, owner QueryOwner, id uint) error
	FindSavedByName(ctx context.Context, owner QueryOwner, name string) (models.SavedQuery, error)
	Popular(ctx context.Context, limit int) ([]PopularQuery, error)
}

// NewQueryRepository constructs a query repository.
func NewQueryRepository(db *gorm.DB) QueryRepository {
	return &queryRepository{db: db}
}

type queryRepository struct {
	db *gorm.DB
}

func (r *queryRepository) RecordHistory(ctx context.Context, entry *models.QueryHistory) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *queryRepository) ListHistory(ctx context.Context, owner QueryOwner, offset, limit int) ([]models.QueryHistory, int64, error) {
	db := owner.apply(r.db.WithContext(ctx).Model(&models.QueryHistory{}))

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if offset > 0 {
		db = db.Offset(offset)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}

	var entries []models.QueryHistory
	if err := db.Order("created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

func (r *queryRepository) RecordMetric(ctx context.Context, metric *models.PerformanceMetric) error {
	return r.db.WithContext(ctx).Create(metric).Error
}

func (r *queryRepository) ListSaved(ctx context.Context, owner QueryOwner) ([]models.SavedQuery, error) {
	var saved []models.SavedQuery
	err := owner.apply(r.db.WithContext(ctx)).
		Order("is_favorite DESC, updated_at DESC").
		Find(&saved).Error
	return saved, err
}

func (r *queryRepository) GetSaved(ctx context.Context, owner QueryOwner, id uint) (models.SavedQuery, error) {
	var saved models.SavedQuery
	err := owner.apply(r.db.WithContext(ctx)).Where("id = ?", id).First(&saved).Error
	return saved, err
}

func (r *queryRepository) CreateSaved(ctx context.Context, saved *models.SavedQuery) error {
	return r.db.WithContext(ctx).Create(saved).Error
}

func (r *queryRepository) UpdateSaved(ctx context.Context, saved *models.SavedQuery) error {
	return r.db.WithContext(ctx).Save(saved).Error
}

func (r *queryRepository) DeleteSaved(ctx context.Context, owner QueryOwner, id uint) error {
	result := owner.apply(r.db.WithContext(ctx)).Where("id = ?", id).Delete(&models.SavedQuery{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *queryRepository) FindSavedByName(ctx context.Context, owner QueryOwner, name string) (models.SavedQuery, error) {
	var saved models.SavedQuery
	err := owner.apply(r.db.WithContext(ctx)).Where("name = ?", name).First(&saved).Error
	return saved, err
}

func (r *queryRepository) Popular(ctx context.Context, limit int) ([]PopularQuery, error) {
	if limit <= 0 {
		limit = 10
	}
	var popular []PopularQuery
	err := r.db.WithContext(ctx).
		Model(&models.SavedQuery{}).
		Select("query, dialect, COUNT(DISTINCT session_id) AS count").
		Group("query, dialect").
		Order("count DESC, query ASC").
		Limit(limit).
		Scan(&popular).Error
	return popular, err
}
