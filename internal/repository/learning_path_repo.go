package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

// LearningPathRepository persists learning paths, their steps and per-session
// progress through them.
type LearningPathRepository interface {
	ListActive(ctx context.Context) ([]models.LearningPath, error)
	GetByID(ctx context.Context, id uint) (models.LearningPath, error)
	GetStep(ctx context.Context, pathID, stepID uint) (models.LearningPathStep, error)
	PathsForProblem(ctx context.Context, problemID uuid.UUID) ([]models.LearningPath, error)
	GetProgress(ctx context.Context, sessionID string, pathID uint) (models.LearningPathProgress, error)
	StartPath(ctx context.Context, progress *models.LearningPathProgress) error
	CompleteStep(ctx context.Context, sessionID string, step models.LearningPathStep, totalSteps int, at time.Time) (models.LearningPathProgress, error)
	CompletedSteps(ctx context.Context, sessionID string, pathID uint) ([]uint, error)
	UpsertPath(ctx context.Context, path *models.LearningPath) error
}

// NewLearningPathRepository constructs a learning path repository.
func NewLearningPathRepository(db *gorm.DB) LearningPathRepository {
	return &learningPathRepository{db: db}
}

type learningPathRepository struct {
	db *gorm.DB
}

func orderedSteps(db *gorm.DB) *gorm.DB {
	return db.Order("learning_path_steps.step_order ASC")
}

func (r *learningPathRepository) ListActive(ctx context.Context) ([]models.LearningPath, error) {
	var paths []models.LearningPath
	err := r.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("is_active = ?", true).
		Order("sort_order ASC, id ASC").
		Find(&paths).Error
	return paths, err
}

func (r *learningPathRepository) GetByID(ctx context.Context, id uint) (models.LearningPath, error) {
	var path models.LearningPath
	err := r.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Preload("Steps.Problem").
		Where("id = ? AND is_active = ?", id, true).
		First(&path).Error
	return path, err
}

func (r *learningPathRepository) GetStep(ctx context.Context, pathID, stepID uint) (models.LearningPathStep, error) {
	var step models.LearningPathStep
	err := r.db.WithContext(ctx).
		Where("id = ? AND learning_path_id = ?", stepID, pathID).
		First(&step).Error
	return step, err
}

func (r *learningPathRepository) PathsForProblem(ctx context.Context, problemID uuid.UUID) ([]models.LearningPath, error) {
	containing := r.db.WithContext(ctx).
		Model(&models.LearningPathStep{}).
		Select("learning_path_id").
		Where("problem_id = ?", problemID)

	var paths []models.LearningPath
	err := r.db.WithContext(ctx).
		Preload("Steps", orderedSteps).
		Where("id IN (?) AND is_active = ?", containing, true).
		Order("sort_order ASC, id ASC").
		Find(&paths).Error
	return paths, err
}

func (r *learningPathRepository) GetProgress(ctx context.Context, sessionID string, pathID uint) (models.LearningPathProgress, error) {
	var progress models.LearningPathProgress
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND learning_path_id = ?", sessionID, pathID).
		First(&progress).Error
	return progress, err
}

// StartPath creates the progress row. Starting an already started path keeps
// the stored row.
func (r *learningPathRepository) StartPath(ctx context.Context, progress *models.LearningPathProgress) error {
	if progress.StartedAt.IsZero() {
		progress.StartedAt = time.Now().UTC()
	}
	if progress.CurrentStep == 0 {
		progress.CurrentStep = 1
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(progress).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Where("session_id = ? AND learning_path_id = ?", progress.SessionID, progress.LearningPathID).
		First(progress).Error
}

// CompleteStep marks the step done, advances current_step past the highest
// completed step and stamps completion once every step is done.
func (r *learningPathRepository) CompleteStep(ctx context.Context, sessionID string, step models.LearningPathStep, totalSteps int, at time.Time) (models.LearningPathProgress, error) {
	var progress models.LearningPathProgress
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		start := models.LearningPathProgress{
			SessionID:      sessionID,
			LearningPathID: step.LearningPathID,
			CurrentStep:    1,
			StartedAt:      at,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&start).Error; err != nil {
			return err
		}

		completion := models.LearningPathStepCompletion{
			SessionID:      sessionID,
			StepID:         step.ID,
			LearningPathID: step.LearningPathID,
			CompletedAt:    at,
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&completion).Error; err != nil {
			return err
		}

		if err := tx.Where("session_id = ? AND learning_path_id = ?", sessionID, step.LearningPathID).
			First(&progress).Error; err != nil {
			return err
		}

		var done int64
		if err := tx.Model(&models.LearningPathStepCompletion{}).
			Where("session_id = ? AND learning_path_id = ?", sessionID, step.LearningPathID).
			Count(&done).Error; err != nil {
			return err
		}

		if step.StepOrder+1 > progress.CurrentStep {
			progress.CurrentStep = min(step.StepOrder+1, totalSteps)
		}
		if int(done) >= totalSteps && progress.CompletedAt == nil {
			progress.CompletedAt = &at
		}
		return tx.Save(&progress).Error
	})
	return progress, err
}

func (r *learningPathRepository) CompletedSteps(ctx context.Context, sessionID string, pathID uint) ([]uint, error) {
	var ids []uint
	err := r.db.WithContext(ctx).
		Model(&models.LearningPathStepCompletion{}).
		Where("session_id = ? AND learning_path_id = ?", sessionID, pathID).
		Order("step_id ASC").
		Pluck("step_id", &ids).Error
	return ids, err
}

// UpsertPath replaces a path keyed by slug together with its steps.
func (r *learningPathRepository) UpsertPath(ctx context.Context, path *models.LearningPath) error {
	steps := path.Steps
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		path.Steps = nil
		path.ID = 0
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "difficulty", "estimated_hours", "sort_order", "is_active", "updated_at"}),
		}).Create(path).Error; err != nil {
			return err
		}
		if err := tx.Where("slug = ?", path.Slug).First(path).Error; err != nil {
			return err
		}

		for i := range steps {
			steps[i].ID = 0
			steps[i].LearningPathID = path.ID
			steps[i].Problem = nil
		}
		if len(steps) > 0 {
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "learning_path_id"}, {Name: "step_order"}},
				DoUpdates: clause.AssignmentColumns([]string{"problem_id", "title", "description"}),
			}).Create(&steps).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("learning_path_id = ? AND step_order > ?", path.ID, len(steps)).
			Delete(&models.LearningPathStep{}).Error; err != nil {
			return err
		}
		path.Steps = steps
		return nil
	})
}
