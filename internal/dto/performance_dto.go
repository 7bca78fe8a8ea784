package dto

import (
	"time"

	"github.com/google/uuid"
)

// PerformanceOverview summarises executions over a window.
type PerformanceOverview struct {
	TotalQueries     int64   `json:"totalQueries"`
	AvgExecutionTime float64 `json:"avgExecutionTime"`
	SuccessRate      float64 `json:"successRate"`
	ErrorCount       int64   `json:"errorCount"`
	ActiveSessions   int64   `json:"activeSessions,omitempty"`
}

// ExecutionPercentiles are execution time percentiles in milliseconds.
type ExecutionPercentiles struct {
	P50 int64 `json:"p50"`
	P90 int64 `json:"p90"`
	P95 int64 `json:"p95"`
	P99 int64 `json:"p99"`
}

// SlowQuery is an execution above the slow threshold.
type SlowQuery struct {
	ID              uint       `json:"id"`
	ProblemID       *uuid.UUID `json:"problemId,omitempty"`
	Dialect         string     `json:"dialect"`
	ExecutionTimeMs int64      `json:"executionTimeMs"`
	Severity        string     `json:"severity"`
	Success         bool       `json:"success"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// DialectPerformance aggregates executions per dialect.
type DialectPerformance struct {
	Dialect          string  `json:"dialect"`
	Count            int64   `json:"count"`
	AvgExecutionTime float64 `json:"avgExecutionTime"`
}

// PerformanceHealth reports whether executions are within thresholds.
type PerformanceHealth struct {
	Status string   `json:"status"`
	Issues []string `json:"issues"`
}

// SystemPerformance is returned by GET /performance/metrics.
type SystemPerformance struct {
	Overview         PerformanceOverview  `json:"overview"`
	RecentActivity   PerformanceOverview  `json:"recentActivity"`
	Percentiles      ExecutionPercentiles `json:"percentiles"`
	TopSlowQueries   []SlowQuery          `json:"topSlowQueries"`
	DialectBreakdown []DialectPerformance `json:"dialectBreakdown"`
	Health           PerformanceHealth    `json:"health"`
	GeneratedAt      time.Time            `json:"generatedAt"`
}

// RecentExecution is one of the caller's latest executions.
type RecentExecution struct {
	ProblemID       *uuid.UUID `json:"problemId,omitempty"`
	Dialect         string     `json:"dialect"`
	ExecutionTimeMs int64      `json:"executionTimeMs"`
	RowCount        int        `json:"rowCount"`
	Success         bool       `json:"success"`
	ErrorCode       string     `json:"errorCode,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// UserPerformance is returned by GET /performance/user. HasData is false and
// the other fields are empty when the caller has not executed anything yet.
type UserPerformance struct {
	HasData           bool              `json:"hasData"`
	QueryCount        int64             `json:"queryCount"`
	AvgExecutionTime  float64           `json:"avgExecutionTime"`
	SuccessRate       float64           `json:"successRate"`
	ProblemsPracticed int64             `json:"problemsPracticed"`
	FirstActivity     *time.Time        `json:"firstActivity,omitempty"`
	LastActivity      *time.Time        `json:"lastActivity,omitempty"`
	RecentQueries     []RecentExecution `json:"recentQueries"`
}
