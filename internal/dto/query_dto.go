package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

// HistoryRequest records a query run outside /sql/execute.
type HistoryRequest struct {
	Query           string `json:"query" validate:"required"`
	Dialect         string `json:"dialect" validate:"omitempty,oneof=postgresql postgres pg mysql mariadb"`
	ProblemID       string `json:"problem_id" validate:"omitempty,max=64"`
	Success         bool   `json:"success"`
	ExecutionTimeMs int64  `json:"execution_time_ms" validate:"gte=0"`
	RowCount        int    `json:"row_count" validate:"gte=0"`
	ErrorMessage    string `json:"error_message" validate:"omitempty,max=4000"`
}

// HistoryEntry is an item of the execution history.
type HistoryEntry struct {
	ID              uint       `json:"id"`
	ProblemID       *uuid.UUID `json:"problem_id,omitempty"`
	Query           string     `json:"query"`
	Dialect         string     `json:"dialect"`
	Success         bool       `json:"success"`
	ExecutionTimeMs int64      `json:"execution_time_ms"`
	RowCount        int        `json:"row_count"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// HistoryListResult is a page of history.
type HistoryListResult struct {
	Items      []HistoryEntry `json:"items"`
	Pagination PaginationMeta `json:"pagination"`
}

// SavedQueryRequest creates or updates a saved query.
type SavedQueryRequest struct {
	Name        string   `json:"name" validate:"required,max=255"`
	Description string   `json:"description" validate:"omitempty,max=2000"`
	Query       string   `json:"query" validate:"required"`
	Dialect     string   `json:"dialect" validate:"omitempty,oneof=postgresql postgres pg mysql mariadb"`
	ProblemID   string   `json:"problem_id" validate:"omitempty,max=64"`
	IsFavorite  bool     `json:"is_favorite"`
	Tags        []string `json:"tags" validate:"omitempty,max=10,dive,max=32"`
}

// SavedQueryResponse is the view of a saved query.
type SavedQueryResponse struct {
	ID          uint       `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Query       string     `json:"query"`
	Dialect     string     `json:"dialect"`
	ProblemID   *uuid.UUID `json:"problem_id,omitempty"`
	IsFavorite  bool       `json:"is_favorite"`
	Tags        []string   `json:"tags"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PopularQueryResponse is a query saved by many sessions.
type PopularQueryResponse struct {
	Query   string `json:"query"`
	Dialect string `json:"dialect"`
	Count   int64  `json:"count"`
}

// NewHistoryEntry builds the history view.
func NewHistoryEntry(entry models.QueryHistory) HistoryEntry {
	return HistoryEntry{
		ID:              entry.ID,
		ProblemID:       entry.ProblemID,
		Query:           entry.Query,
		Dialect:         entry.Dialect,
		Success:         entry.Success,
		ExecutionTimeMs: entry.ExecutionTimeMs,
		RowCount:        entry.RowCount,
		ErrorMessage:    entry.ErrorMessage,
		CreatedAt:       entry.CreatedAt,
	}
}

// NewSavedQueryResponse builds the saved query view.
func NewSavedQueryResponse(saved models.SavedQuery) SavedQueryResponse {
	tags := saved.TagsSlice()
	if tags == nil {
		tags = []string{}
	}
	return SavedQueryResponse{
		ID:          saved.ID,
		Name:        saved.Name,
		Description: saved.Description,
		Query:       saved.Query,
		Dialect:     saved.Dialect,
		ProblemID:   saved.ProblemID,
		IsFavorite:  saved.IsFavorite,
		Tags:        tags,
		CreatedAt:   saved.CreatedAt,
		UpdatedAt:   saved.UpdatedAt,
	}
}
