package models

import (
	"time"

	"github.com/google/uuid"
)

// LearningPath is an ordered sequence of problems.
type LearningPath struct {
	ID             uint               `gorm:"primaryKey" json:"id"`
	Slug           string             `gorm:"size:128;uniqueIndex;not null" json:"slug"`
	Name           string             `gorm:"size:255;not null" json:"name"`
	Description    string             `gorm:"type:text" json:"description"`
	Difficulty     string             `gorm:"size:16" json:"difficulty"`
	EstimatedHours int                `gorm:"not null;default:0" json:"estimated_hours"`
	SortOrder      int                `gorm:"not null;default:0" json:"sort_order"`
	IsActive       bool               `gorm:"not null;default:true" json:"is_active"`
	Steps          []LearningPathStep `gorm:"foreignKey:LearningPathID" json:"steps,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// LearningPathStep binds a problem to a position within a path.
type LearningPathStep struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	LearningPathID uint      `gorm:"not null;uniqueIndex:idx_path_step_order,priority:1" json:"learning_path_id"`
	StepOrder      int       `gorm:"not null;uniqueIndex:idx_path_step_order,priority:2" json:"step_order"`
	ProblemID      uuid.UUID `gorm:"type:uuid;not null;index" json:"problem_id"`
	Title          string    `gorm:"size:255" json:"title"`
	Description    string    `gorm:"type:text" json:"description"`
	Problem        *Problem  `gorm:"foreignKey:ProblemID" json:"problem,omitempty"`
}

// LearningPathProgress tracks a session's position within a path.
type LearningPathProgress struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	SessionID      string     `gorm:"size:128;not null;uniqueIndex:idx_path_progress_owner,priority:1" json:"session_id"`
	LearningPathID uint       `gorm:"not null;uniqueIndex:idx_path_progress_owner,priority:2" json:"learning_path_id"`
	UserID         *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	CurrentStep    int        `gorm:"not null;default:1" json:"current_step"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName keeps the historical table name.
func (LearningPathProgress) TableName() string { return "learning_path_progress" }

// LearningPathStepCompletion marks a step completed by a session.
type LearningPathStepCompletion struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SessionID      string    `gorm:"size:128;not null;uniqueIndex:idx_step_completion,priority:1" json:"session_id"`
	StepID         uint      `gorm:"not null;uniqueIndex:idx_step_completion,priority:2" json:"step_id"`
	LearningPathID uint      `gorm:"not null;index" json:"learning_path_id"`
	CompletedAt    time.Time `json:"completed_at"`
}
