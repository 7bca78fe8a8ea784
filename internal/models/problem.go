package models

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Problem difficulty levels.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Category groups problems by topic.
type Category struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"size:128;not null" json:"name"`
	Slug        string    `gorm:"size:128;uniqueIndex;not null" json:"slug"`
	Description string    `gorm:"type:text" json:"description"`
	SortOrder   int       `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Problem is a SQL exercise. NumericID is the stable external identifier.
type Problem struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	NumericID        int            `gorm:"uniqueIndex;not null" json:"numeric_id"`
	Title            string         `gorm:"size:255;not null" json:"title"`
	Slug             string         `gorm:"size:255;index" json:"slug"`
	Description      string         `gorm:"type:text;not null" json:"description"`
	Difficulty       string         `gorm:"size:16;not null;index" json:"difficulty"`
	CategoryID       *uint          `gorm:"index" json:"category_id"`
	Category         *Category      `json:"category,omitempty"`
	Tags             string         `gorm:"type:text" json:"tags"`
	Hints            datatypes.JSON `json:"hints"`
	IsActive         bool           `gorm:"not null;default:true;index" json:"is_active"`
	TotalSubmissions int64          `gorm:"not null;default:0" json:"total_submissions"`
	TotalAccepted    int64          `gorm:"not null;default:0" json:"total_accepted"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// BeforeCreate assigns a UUID when none was provided.
func (p *Problem) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Company derives the company a problem is attributed to from the first word
// of its title.
func (p Problem) Company() string {
	fields := strings.Fields(p.Title)
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ":-,")
}

// AcceptanceRate returns accepted/submitted as a percentage rounded to one
// decimal place.
func (p Problem) AcceptanceRate() float64 {
	if p.TotalSubmissions == 0 {
		return 0
	}
	rate := float64(p.TotalAccepted) / float64(p.TotalSubmissions) * 100
	return math.Round(rate*10) / 10
}

// TagsSlice returns the tags as a slice of strings.
func (p Problem) TagsSlice() []string {
	if p.Tags == "" {
		return nil
	}
	parts := strings.Split(p.Tags, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}

// ProblemSchema is the per-dialect bundle of setup SQL, reference solution and
// expected output. There is at most one schema per (problem, dialect).
type ProblemSchema struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	ProblemID      uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_problem_schema_dialect" json:"problem_id"`
	Dialect        string         `gorm:"size:32;not null;uniqueIndex:idx_problem_schema_dialect" json:"dialect"`
	SetupSQL       string         `gorm:"type:text;not null" json:"setup_sql"`
	SolutionSQL    string         `gorm:"type:text;not null" json:"solution_sql"`
	ExpectedOutput datatypes.JSON `json:"expected_output"`
	IsActive       bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
