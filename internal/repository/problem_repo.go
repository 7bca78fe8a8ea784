package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

// ProblemQuery defines filters and pagination for the problem catalog.
type ProblemQuery struct {
	Difficulty string
	Category   string
	Company    string
	Search     string
	Offset     int
	Limit      int
}

// ProblemRepository exposes persistence operations for problems and their
// per-dialect schemas.
type ProblemRepository interface {
	List(ctx context.Context, query ProblemQuery) ([]models.Problem, int64, error)
	ListActive(ctx context.Context) ([]models.Problem, error)
	GetByID(ctx context.Context, id uuid.UUID) (models.Problem, error)
	GetByNumericID(ctx context.Context, numericID int) (models.Problem, error)
	GetSchema(ctx context.Context, problemID uuid.UUID, dialect string) (models.ProblemSchema, error)
	ListSchemas(ctx context.Context, problemID uuid.UUID) ([]models.ProblemSchema, error)
	ListCategories(ctx context.Context) ([]models.Category, error)
	UpsertCategory(ctx context.Context, category *models.Category) error
	UpsertProblem(ctx context.Context, problem *models.Problem) error
	UpsertSchema(ctx context.Context, schema *models.ProblemSchema) error
}

// NewProblemRepository constructs a problem repository.
func NewProblemRepository(db *gorm.DB) ProblemRepository {
	return &problemRepository{db: db}
}

type problemRepository struct {
	db *gorm.DB
}

func (r *problemRepository) List(ctx context.Context, query ProblemQuery) ([]models.Problem, int64, error) {
	db := r.db.WithContext(ctx).Model(&models.Problem{}).Where("problems.is_active = ?", true)

	if query.Difficulty != "" {
		db = db.Where("LOWER(problems.difficulty) = ?", strings.ToLower(query.Difficulty))
	}

	if query.Category != "" {
		category := strings.ToLower(query.Category)
		db = db.Joins("JOIN categories ON categories.id = problems.category_id").
			Where("LOWER(categories.slug) = ? OR LOWER(categories.name) = ?", category, category)
	}

	if query.Company != "" {
		company := strings.ToLower(query.Company)
		db = db.Where("LOWER(problems.title) = ? OR LOWER(problems.title) LIKE ?", company, company+" %")
	}

	if query.Search != "" {
		pattern := fmt.Sprintf("%%%s%%", strings.ToLower(query.Search))
		db = db.Where("LOWER(problems.title) LIKE ? OR LOWER(problems.description) LIKE ?", pattern, pattern)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}

	var problems []models.Problem
	if err := db.Preload("Category").Order("problems.numeric_id ASC").Find(&problems).Error; err != nil {
		return nil, 0, err
	}

	return problems, total, nil
}

func (r *problemRepository) ListActive(ctx context.Context) ([]models.Problem, error) {
	var problems []models.Problem
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("numeric_id ASC").
		Find(&problems).Error
	return problems, err
}

func (r *problemRepository) GetByID(ctx context.Context, id uuid.UUID) (models.Problem, error) {
	var problem models.Problem
	err := r.db.WithContext(ctx).Preload("Category").Where("id = ?", id).First(&problem).Error
	return problem, err
}

func (r *problemRepository) GetByNumericID(ctx context.Context, numericID int) (models.Problem, error) {
	var problem models.Problem
	err := r.db.WithContext(ctx).Preload("Category").Where("numeric_id = ?", numericID).First(&problem).Error
	return problem, err
}

func (r *problemRepository) GetSchema(ctx context.Context, problemID uuid.UUID, dialect string) (models.ProblemSchema, error) {
	var schema models.ProblemSchema
	err := r.db.WithContext(ctx).
		Where("problem_id = ? AND dialect = ? AND is_active = ?", problemID, dialect, true).
		First(&schema).Error
	return schema, err
}

func (r *problemRepository) ListSchemas(ctx context.Context, problemID uuid.UUID) ([]models.ProblemSchema, error) {
	var schemas []models.ProblemSchema
	err := r.db.WithContext(ctx).
		Where("problem_id = ? AND is_active = ?", problemID, true).
		Order("dialect ASC").
		Find(&schemas).Error
	return schemas, err
}

func (r *problemRepository) ListCategories(ctx context.Context) ([]models.Category, error) {
	var categories []models.Category
	err := r.db.WithContext(ctx).Order("sort_order ASC, name ASC").Find(&categories).Error
	return categories, err
}

func (r *problemRepository) UpsertCategory(ctx context.Context, category *models.Category) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "sort_order", "updated_at"}),
	}).Create(category).Error
}

// UpsertProblem inserts or updates a problem keyed by its numeric id. The
// stored UUID and submission counters are preserved on update.
func (r *problemRepository) UpsertProblem(ctx context.Context, problem *models.Problem) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Problem
		err := tx.Where("numeric_id = ?", problem.NumericID).First(&existing).Error
		switch {
		case err == nil:
			problem.ID = existing.ID
			return tx.Model(&existing).Select(
				"title", "slug", "description", "difficulty", "category_id", "tags", "hints", "is_active",
			).Updates(problem).Error
		case err == gorm.ErrRecordNotFound:
			return tx.Create(problem).Error
		default:
			return err
		}
	})
}

func (r *problemRepository) UpsertSchema(ctx context.Context, schema *models.ProblemSchema) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "problem_id"}, {Name: "dialect"}},
		DoUpdates: clause.AssignmentColumns([]string{"setup_sql", "solution_sql", "expected_output", "is_active", "updated_at"}),
	}).Create(schema).Error
}
