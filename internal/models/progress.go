package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Progress statuses. Transitions only move forward.
const (
	ProgressNotStarted = "not_started"
	ProgressInProgress = "in_progress"
	ProgressCompleted  = "completed"
)

// StreakDaily counts consecutive days with at least one correct attempt.
const StreakDaily = "daily"

// Session is a pseudonymous learner identity, optionally linked to a user.
type Session struct {
	ID           string     `gorm:"primaryKey;size:128" json:"id"`
	UserID       *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	IPAddress    string     `gorm:"size:64" json:"ip_address"`
	UserAgent    string     `gorm:"type:text" json:"user_agent"`
	LastActivity time.Time  `gorm:"not null" json:"last_activity"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Attempt is an immutable record of a single submission.
type Attempt struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SessionID       string     `gorm:"size:128;not null;uniqueIndex:idx_attempt_sequence,priority:1" json:"session_id"`
	ProblemID       uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_attempt_sequence,priority:2" json:"problem_id"`
	AttemptNumber   int        `gorm:"not null;uniqueIndex:idx_attempt_sequence,priority:3" json:"attempt_number"`
	UserID          *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Query           string     `gorm:"type:text;not null" json:"query"`
	Dialect         string     `gorm:"size:32;not null" json:"dialect"`
	IsCorrect       bool       `gorm:"not null" json:"is_correct"`
	ExecutionTimeMs int64      `gorm:"not null;default:0" json:"execution_time_ms"`
	ErrorMessage    *string    `gorm:"type:text" json:"error_message"`
	HintUsed        bool       `gorm:"not null;default:false" json:"hint_used"`
	SolutionViewed  bool       `gorm:"not null;default:false" json:"solution_viewed"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ProgressRecord aggregates attempts per (session, problem).
type ProgressRecord struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	SessionID           string     `gorm:"size:128;not null;uniqueIndex:idx_progress_owner,priority:1" json:"session_id"`
	ProblemID           uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_progress_owner,priority:2" json:"problem_id"`
	UserID              *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Status              string     `gorm:"size:16;not null;default:not_started" json:"status"`
	TotalAttempts       int        `gorm:"not null;default:0" json:"total_attempts"`
	CorrectAttempts     int        `gorm:"not null;default:0" json:"correct_attempts"`
	BestExecutionTimeMs *int64     `json:"best_execution_time_ms"`
	HintsUsed           int        `gorm:"not null;default:0" json:"hints_used"`
	SolutionViewed      bool       `gorm:"not null;default:false" json:"solution_viewed"`
	FirstAttemptAt      time.Time  `json:"first_attempt_at"`
	LastAttemptAt       time.Time  `json:"last_attempt_at"`
	CompletedAt         *time.Time `json:"completed_at"`
	Problem             *Problem   `gorm:"foreignKey:ProblemID" json:"problem,omitempty"`
}

// TableName keeps the historical table name.
func (ProgressRecord) TableName() string { return "user_progress" }

// Achievement is unlocked once per (session, key).
type Achievement struct {
	ID              uint              `gorm:"primaryKey" json:"id"`
	SessionID       string            `gorm:"size:128;not null;uniqueIndex:idx_achievement_key,priority:1" json:"session_id"`
	AchievementKey  string            `gorm:"size:128;not null;uniqueIndex:idx_achievement_key,priority:2" json:"achievement_key"`
	UserID          *uuid.UUID        `gorm:"type:uuid;index" json:"user_id"`
	AchievementType string            `gorm:"size:64;not null" json:"achievement_type"`
	Name            string            `gorm:"size:128;not null" json:"name"`
	Description     string            `gorm:"type:text" json:"description"`
	ProblemID       *uuid.UUID        `gorm:"type:uuid" json:"problem_id"`
	Metadata        datatypes.JSONMap `gorm:"type:json" json:"metadata"`
	UnlockedAt      time.Time         `gorm:"not null" json:"unlocked_at"`
}

// Streak tracks consecutive active days for a session.
type Streak struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	SessionID        string    `gorm:"size:128;not null;uniqueIndex:idx_streak_owner,priority:1" json:"session_id"`
	StreakType       string    `gorm:"size:32;not null;uniqueIndex:idx_streak_owner,priority:2" json:"streak_type"`
	CurrentCount     int       `gorm:"not null;default:0" json:"current_count"`
	MaxCount         int       `gorm:"not null;default:0" json:"max_count"`
	LastActivityDate time.Time `json:"last_activity_date"`
	UpdatedAt        time.Time `json:"updated_at"`
}
