package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// PerformanceMetric records the timing of one execution.
type PerformanceMetric struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SessionID       string     `gorm:"size:128;index" json:"session_id"`
	UserID          *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	ProblemID       *uuid.UUID `gorm:"type:uuid;index" json:"problem_id"`
	Dialect         string     `gorm:"size:32" json:"dialect"`
	ExecutionTimeMs int64      `gorm:"not null" json:"execution_time_ms"`
	RowCount        int        `gorm:"not null;default:0" json:"row_count"`
	Success         bool       `gorm:"not null" json:"success"`
	ErrorCode       string     `gorm:"size:32" json:"error_code"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
}

// QueryHistory is an entry of a learner's execution history.
type QueryHistory struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SessionID       string     `gorm:"size:128;index" json:"session_id"`
	UserID          *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	ProblemID       *uuid.UUID `gorm:"type:uuid" json:"problem_id"`
	Query           string     `gorm:"type:text;not null" json:"query"`
	Dialect         string     `gorm:"size:32;not null" json:"dialect"`
	Success         bool       `gorm:"not null" json:"success"`
	ExecutionTimeMs int64      `gorm:"not null;default:0" json:"execution_time_ms"`
	RowCount        int        `gorm:"not null;default:0" json:"row_count"`
	ErrorMessage    *string    `gorm:"type:text" json:"error_message"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
}

// TableName keeps the historical table name.
func (QueryHistory) TableName() string { return "query_history" }

// SavedQuery is a named query kept by a learner.
type SavedQuery struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	SessionID   string     `gorm:"size:128;index" json:"session_id"`
	UserID      *uuid.UUID `gorm:"type:uuid;index" json:"user_id"`
	Name        string     `gorm:"size:255;not null" json:"name"`
	Description string     `gorm:"type:text" json:"description"`
	Query       string     `gorm:"type:text;not null" json:"query"`
	Dialect     string     `gorm:"size:32;not null" json:"dialect"`
	ProblemID   *uuid.UUID `gorm:"type:uuid" json:"problem_id"`
	IsFavorite  bool       `gorm:"not null;default:false" json:"is_favorite"`
	Tags        string     `gorm:"type:text" json:"tags"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TagsSlice returns the comma separated tags as a slice.
func (s SavedQuery) TagsSlice() []string {
	if s.Tags == "" {
		return nil
	}
	parts := strings.Split(s.Tags, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}
