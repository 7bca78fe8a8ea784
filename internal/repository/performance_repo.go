package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

// MetricsSummary aggregates execution metrics.
type MetricsSummary struct {
	TotalQueries   int64
	SuccessCount   int64
	AvgExecutionMs float64
}

// DialectStat aggregates executions per dialect.
type DialectStat struct {
	Dialect        string
	Count          int64
	AvgExecutionMs float64
}

// OwnerActivity bounds the executions of one owner in time.
type OwnerActivity struct {
	ProblemsPracticed int64
	FirstActivity     *time.Time
	LastActivity      *time.Time
}

// PerformanceRepository reads aggregates over recorded execution metrics.
type PerformanceRepository interface {
	Summary(ctx context.Context, since time.Time) (MetricsSummary, error)
	ActiveSessions(ctx context.Context, since time.Time) (int64, error)
	ExecutionTimes(ctx context.Context, limit int) ([]int64, error)
	SlowQueries(ctx context.Context, thresholdMs int64, limit int) ([]models.PerformanceMetric, error)
	DialectBreakdown(ctx context.Context) ([]DialectStat, error)
	OwnerSummary(ctx context.Context, owner QueryOwner) (MetricsSummary, error)
	OwnerActivity(ctx context.Context, owner QueryOwner) (OwnerActivity, error)
	RecentForOwner(ctx context.Context, owner QueryOwner, limit int) ([]models.PerformanceMetric, error)
}

// NewPerformanceRepository constructs a performance repository.
func NewPerformanceRepository(db *gorm.DB) PerformanceRepository {
	return &performanceRepository{db: db}
}

type performanceRepository struct {
	db *gorm.DB
}

const summaryColumns = "COUNT(*) AS total_queries, " +
	"COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0) AS success_count, " +
	"COALESCE(AVG(execution_time_ms), 0) AS avg_execution_ms"

func (r *performanceRepository) metrics(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Model(&models.PerformanceMetric{})
}

// Summary aggregates every metric recorded at or after since. A zero since
// covers all metrics.
func (r *performanceRepository) Summary(ctx context.Context, since time.Time) (MetricsSummary, error) {
	db := r.metrics(ctx)
	if !since.IsZero() {
		db = db.Where("created_at >= ?", since)
	}
	var summary MetricsSummary
	err := db.Select(summaryColumns).Scan(&summary).Error
	return summary, err
}

func (r *performanceRepository) ActiveSessions(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.metrics(ctx).
		Where("created_at >= ? AND session_id <> ''", since).
		Distinct("session_id").
		Count(&count).Error
	return count, err
}

// ExecutionTimes returns the durations of the latest limit executions.
func (r *performanceRepository) ExecutionTimes(ctx context.Context, limit int) ([]int64, error) {
	var times []int64
	err := r.metrics(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Pluck("execution_time_ms", &times).Error
	return times, err
}

func (r *performanceRepository) SlowQueries(ctx context.Context, thresholdMs int64, limit int) ([]models.PerformanceMetric, error) {
	var slow []models.PerformanceMetric
	err := r.metrics(ctx).
		Where("execution_time_ms >= ?", thresholdMs).
		Order("execution_time_ms DESC, id DESC").
		Limit(limit).
		Find(&slow).Error
	return slow, err
}

func (r *performanceRepository) DialectBreakdown(ctx context.Context) ([]DialectStat, error) {
	var stats []DialectStat
	err := r.metrics(ctx).
		Select("dialect, COUNT(*) AS count, COALESCE(AVG(execution_time_ms), 0) AS avg_execution_ms").
		Group("dialect").
		Order("count DESC, dialect ASC").
		Scan(&stats).Error
	return stats, err
}

func (r *performanceRepository) OwnerSummary(ctx context.Context, owner QueryOwner) (MetricsSummary, error) {
	var summary MetricsSummary
	err := owner.apply(r.metrics(ctx)).Select(summaryColumns).Scan(&summary).Error
	return summary, err
}

func (r *performanceRepository) OwnerActivity(ctx context.Context, owner QueryOwner) (OwnerActivity, error) {
	var activity OwnerActivity
	err := owner.apply(r.metrics(ctx)).
		Where("success = ? AND problem_id IS NOT NULL", true).
		Distinct("problem_id").
		Count(&activity.ProblemsPracticed).Error
	if err != nil {
		return OwnerActivity{}, err
	}

	for _, bound := range []struct {
		order  string
		target **time.Time
	}{
		{"created_at ASC, id ASC", &activity.FirstActivity},
		{"created_at DESC, id DESC", &activity.LastActivity},
	} {
		var metric models.PerformanceMetric
		err := owner.apply(r.db.WithContext(ctx)).Order(bound.order).Limit(1).Find(&metric).Error
		if err != nil {
			return OwnerActivity{}, err
		}
		if metric.ID != 0 {
			createdAt := metric.CreatedAt
			*bound.target = &createdAt
		}
	}
	return activity, nil
}

func (r *performanceRepository) RecentForOwner(ctx context.Context, owner QueryOwner, limit int) ([]models.PerformanceMetric, error) {
	var recent []models.PerformanceMetric
	err := owner.apply(r.db.WithContext(ctx)).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&recent).Error
	return recent, err
}
