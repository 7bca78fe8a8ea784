package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

// SessionRequest initialises or refreshes a learner session.
type SessionRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

// SessionResponse echoes the session in use.
type SessionResponse struct {
	SessionID    string     `json:"session_id"`
	UserID       *uuid.UUID `json:"user_id,omitempty"`
	LastActivity time.Time  `json:"last_activity"`
}

// AttemptRequest records an attempt made outside /sql/execute.
type AttemptRequest struct {
	ProblemID       string `json:"problem_id" validate:"required,max=64"`
	Query           string `json:"query" validate:"required"`
	Dialect         string `json:"dialect" validate:"omitempty,oneof=postgresql postgres pg mysql mariadb"`
	IsCorrect       bool   `json:"is_correct"`
	ExecutionTimeMs int64  `json:"execution_time_ms" validate:"gte=0"`
	ErrorMessage    string `json:"error_message" validate:"omitempty,max=4000"`
	HintUsed        bool   `json:"hint_used"`
	SolutionViewed  bool   `json:"solution_viewed"`
}

// AttemptResponse describes a recorded attempt.
type AttemptResponse struct {
	ID              uint      `json:"id"`
	ProblemID       uuid.UUID `json:"problem_id"`
	AttemptNumber   int       `json:"attempt_number"`
	IsCorrect       bool      `json:"is_correct"`
	ExecutionTimeMs int64     `json:"execution_time_ms"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// AchievementResponse describes an unlocked achievement.
type AchievementResponse struct {
	Key         string         `json:"key"`
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ProblemID   *uuid.UUID     `json:"problem_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	UnlockedAt  time.Time      `json:"unlocked_at"`
}

// ProgressOverview summarises a session.
type ProgressOverview struct {
	SessionID          string                `json:"session_id"`
	TotalAttempts      int64                 `json:"total_attempts"`
	CorrectAttempts    int64                 `json:"correct_attempts"`
	SuccessRate        float64               `json:"success_rate"`
	CompletedProblems  int64                 `json:"completed_problems"`
	InProgressProblems int64                 `json:"in_progress_problems"`
	CurrentStreak      int                   `json:"current_streak"`
	LongestStreak      int                   `json:"longest_streak"`
	AverageExecutionMs float64               `json:"average_execution_ms"`
	AchievementCount   int64                 `json:"achievement_count"`
	RecentAchievements []AchievementResponse `json:"recent_achievements"`
}

// ProblemProgress is the per-problem aggregate.
type ProblemProgress struct {
	ProblemID           uuid.UUID  `json:"problem_id"`
	NumericID           int        `json:"numeric_id,omitempty"`
	Title               string     `json:"title,omitempty"`
	Difficulty          string     `json:"difficulty,omitempty"`
	Status              string     `json:"status"`
	TotalAttempts       int        `json:"total_attempts"`
	CorrectAttempts     int        `json:"correct_attempts"`
	BestExecutionTimeMs *int64     `json:"best_execution_time_ms"`
	HintsUsed           int        `json:"hints_used"`
	SolutionViewed      bool       `json:"solution_viewed"`
	FirstAttemptAt      time.Time  `json:"first_attempt_at"`
	LastAttemptAt       time.Time  `json:"last_attempt_at"`
	CompletedAt         *time.Time `json:"completed_at"`
}

// DetailedProgress lists every problem aggregate and recent attempts.
type DetailedProgress struct {
	Problems       []ProblemProgress     `json:"problems"`
	RecentAttempts []AttemptResponse     `json:"recent_attempts"`
	Achievements   []AchievementResponse `json:"achievements"`
}

// ProgressStats breaks completions down by difficulty.
type ProgressStats struct {
	ByDifficulty      map[string]int64 `json:"by_difficulty"`
	CompletedProblems int64            `json:"completed_problems"`
	TotalProblems     int64            `json:"total_problems"`
	CompletionRate    float64          `json:"completion_rate"`
}

// LeaderboardEntry is an anonymous ranking row.
type LeaderboardEntry struct {
	Rank             int        `json:"rank"`
	Learner          string     `json:"learner"`
	Completed        int64      `json:"completed"`
	TotalAttempts    int64      `json:"total_attempts"`
	FirstCompletedAt *time.Time `json:"first_completed_at,omitempty"`
}

// NewAttemptResponse builds the attempt view.
func NewAttemptResponse(attempt models.Attempt) AttemptResponse {
	return AttemptResponse{
		ID:              attempt.ID,
		ProblemID:       attempt.ProblemID,
		AttemptNumber:   attempt.AttemptNumber,
		IsCorrect:       attempt.IsCorrect,
		ExecutionTimeMs: attempt.ExecutionTimeMs,
		ErrorMessage:    attempt.ErrorMessage,
		CreatedAt:       attempt.CreatedAt,
	}
}

// NewAchievementResponse builds the achievement view.
func NewAchievementResponse(achievement models.Achievement) AchievementResponse {
	return AchievementResponse{
		Key:         achievement.AchievementKey,
		Type:        achievement.AchievementType,
		Name:        achievement.Name,
		Description: achievement.Description,
		ProblemID:   achievement.ProblemID,
		Metadata:    achievement.Metadata,
		UnlockedAt:  achievement.UnlockedAt,
	}
}

// NewProblemProgress builds the per-problem view.
func NewProblemProgress(record models.ProgressRecord) ProblemProgress {
	view := ProblemProgress{
		ProblemID:           record.ProblemID,
		Status:              record.Status,
		TotalAttempts:       record.TotalAttempts,
		CorrectAttempts:     record.CorrectAttempts,
		BestExecutionTimeMs: record.BestExecutionTimeMs,
		HintsUsed:           record.HintsUsed,
		SolutionViewed:      record.SolutionViewed,
		FirstAttemptAt:      record.FirstAttemptAt,
		LastAttemptAt:       record.LastAttemptAt,
		CompletedAt:         record.CompletedAt,
	}
	if record.Problem != nil {
		view.NumericID = record.Problem.NumericID
		view.Title = record.Problem.Title
		view.Difficulty = record.Problem.Difficulty
	}
	return view
}
