package dto

import (
	"time"

	"github.com/google/uuid"
)

// BackupVersion is the current backup document format.
const BackupVersion = 1

// BackupProgress is a progress aggregate inside a backup.
type BackupProgress struct {
	ProblemID           uuid.UUID  `json:"problem_id" validate:"required"`
	Status              string     `json:"status" validate:"required,oneof=not_started in_progress completed"`
	TotalAttempts       int        `json:"total_attempts" validate:"gte=0"`
	CorrectAttempts     int        `json:"correct_attempts" validate:"gte=0"`
	BestExecutionTimeMs *int64     `json:"best_execution_time_ms"`
	HintsUsed           int        `json:"hints_used" validate:"gte=0"`
	SolutionViewed      bool       `json:"solution_viewed"`
	FirstAttemptAt      time.Time  `json:"first_attempt_at"`
	LastAttemptAt       time.Time  `json:"last_attempt_at"`
	CompletedAt         *time.Time `json:"completed_at"`
}

// BackupAchievement is an achievement inside a backup.
type BackupAchievement struct {
	Key         string         `json:"key" validate:"required,max=128"`
	Type        string         `json:"type" validate:"required,max=64"`
	Name        string         `json:"name" validate:"required,max=128"`
	Description string         `json:"description"`
	ProblemID   *uuid.UUID     `json:"problem_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	UnlockedAt  time.Time      `json:"unlocked_at"`
}

// BackupSavedQuery is a saved query inside a backup.
type BackupSavedQuery struct {
	Name        string     `json:"name" validate:"required,max=255"`
	Description string     `json:"description"`
	Query       string     `json:"query" validate:"required"`
	Dialect     string     `json:"dialect"`
	ProblemID   *uuid.UUID `json:"problem_id,omitempty"`
	IsFavorite  bool       `json:"is_favorite"`
	Tags        []string   `json:"tags"`
}

// BackupDocument is the portable export of a session's learning data.
type BackupDocument struct {
	Version      int                 `json:"version" validate:"required,eq=1"`
	SessionID    string              `json:"session_id"`
	ExportedAt   time.Time           `json:"exported_at"`
	Progress     []BackupProgress    `json:"progress" validate:"dive"`
	Attempts     []AttemptResponse   `json:"attempts"`
	Achievements []BackupAchievement `json:"achievements" validate:"dive"`
	SavedQueries []BackupSavedQuery  `json:"saved_queries" validate:"dive"`
}

// SyncStatus summarises what a session holds.
type SyncStatus struct {
	SessionID    string     `json:"session_id"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	Linked       bool       `json:"linked"`
	Progress     int        `json:"progress"`
	Achievements int        `json:"achievements"`
	SavedQueries int        `json:"saved_queries"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// RestoreResult counts what a restore changed.
type RestoreResult struct {
	Progress     int `json:"progress"`
	Achievements int `json:"achievements"`
	SavedQueries int `json:"saved_queries"`
	Skipped      int `json:"skipped"`
}

// MergeSessionRequest names the anonymous session to fold into the account.
type MergeSessionRequest struct {
	AnonymousSessionID string `json:"anonymous_session_id" validate:"required,max=128"`
}

// ArchiveResponse describes an uploaded backup archive.
type ArchiveResponse struct {
	URL       string    `json:"url"`
	PublicID  string    `json:"public_id"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}
