package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
)

func TestPercentilesUseNearestRank(t *testing.T) {
	times := []int64{900, 100, 500, 300, 700, 200, 800, 400, 1000, 600}
	got := percentiles(times)

	require.Equal(t, int64(500), got.P50)
	require.Equal(t, int64(900), got.P90)
	require.Equal(t, int64(1000), got.P95)
	require.Equal(t, int64(1000), got.P99)
	require.Equal(t, int64(900), times[0])

	require.Zero(t, percentiles(nil))
	require.Equal(t, int64(7), percentiles([]int64{7}).P50)
}

func TestSystemMetrics(t *testing.T) {
	db := newTestDB(t)
	now := time.Now().UTC()
	problemID := uuid.New()
	for _, metric := range []models.PerformanceMetric{
		{SessionID: "s-1", ProblemID: &problemID, Dialect: "postgresql", ExecutionTimeMs: 30, Success: true, CreatedAt: now.Add(-2 * time.Hour)},
		{SessionID: "s-1", ProblemID: &problemID, Dialect: "postgresql", ExecutionTimeMs: 1500, Success: true, CreatedAt: now.Add(-20 * time.Minute)},
		{SessionID: "s-2", Dialect: "mysql", ExecutionTimeMs: 5200, Success: false, ErrorCode: "57014", CreatedAt: now.Add(-time.Minute)},
	} {
		require.NoError(t, db.Create(&metric).Error)
	}

	service := NewPerformanceService(repository.NewPerformanceRepository(db), zerolog.Nop())
	metrics, err := service.SystemMetrics(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(3), metrics.Overview.TotalQueries)
	require.Equal(t, int64(1), metrics.Overview.ErrorCount)
	require.Equal(t, 66.7, metrics.Overview.SuccessRate)
	require.Equal(t, int64(2), metrics.Overview.ActiveSessions)
	require.Equal(t, int64(2), metrics.RecentActivity.TotalQueries)

	require.Equal(t, int64(1500), metrics.Percentiles.P50)
	require.Equal(t, int64(5200), metrics.Percentiles.P99)

	require.Len(t, metrics.TopSlowQueries, 2)
	require.Equal(t, "critical", metrics.TopSlowQueries[0].Severity)
	require.Equal(t, "warning", metrics.TopSlowQueries[1].Severity)

	require.Len(t, metrics.DialectBreakdown, 2)
	require.Equal(t, "postgresql", metrics.DialectBreakdown[0].Dialect)
	require.Equal(t, 765.0, metrics.DialectBreakdown[0].AvgExecutionTime)

	require.Equal(t, "degraded", metrics.Health.Status)
	require.Len(t, metrics.Health.Issues, 2)
	require.Contains(t, metrics.Health.Issues[0], "average execution time")
	require.Contains(t, metrics.Health.Issues[1], "success rate")
}

func TestSystemMetricsWithoutExecutions(t *testing.T) {
	service := NewPerformanceService(repository.NewPerformanceRepository(newTestDB(t)), zerolog.Nop())

	metrics, err := service.SystemMetrics(context.Background())
	require.NoError(t, err)
	require.Zero(t, metrics.Overview.TotalQueries)
	require.Zero(t, metrics.Percentiles)
	require.Empty(t, metrics.TopSlowQueries)
	require.NotNil(t, metrics.TopSlowQueries)
	require.Equal(t, "healthy", metrics.Health.Status)
}

func TestUserMetrics(t *testing.T) {
	db := newTestDB(t)
	service := NewPerformanceService(repository.NewPerformanceRepository(db), zerolog.Nop())
	ctx := context.Background()

	_, err := service.UserMetrics(ctx, Owner{})
	require.ErrorIs(t, err, ErrSessionRequired)

	empty, err := service.UserMetrics(ctx, Owner{SessionID: "fresh"})
	require.NoError(t, err)
	require.False(t, empty.HasData)
	require.NotNil(t, empty.RecentQueries)

	userID := uuid.New()
	problemID := uuid.New()
	now := time.Now().UTC()
	for i, metric := range []models.PerformanceMetric{
		{SessionID: "laptop", UserID: &userID, ProblemID: &problemID, Dialect: "postgresql", ExecutionTimeMs: 10, RowCount: 1, Success: true},
		{SessionID: "phone", UserID: &userID, ProblemID: &problemID, Dialect: "postgresql", ExecutionTimeMs: 25, Success: false, ErrorCode: "42P01"},
		{SessionID: "phone", Dialect: "postgresql", ExecutionTimeMs: 99, Success: true},
	} {
		metric.CreatedAt = now.Add(time.Duration(i) * time.Second)
		require.NoError(t, db.Create(&metric).Error)
	}

	mine, err := service.UserMetrics(ctx, Owner{SessionID: "phone", UserID: &userID})
	require.NoError(t, err)
	require.True(t, mine.HasData)
	require.Equal(t, int64(2), mine.QueryCount)
	require.Equal(t, 17.5, mine.AvgExecutionTime)
	require.Equal(t, 50.0, mine.SuccessRate)
	require.Equal(t, int64(1), mine.ProblemsPracticed)
	require.Len(t, mine.RecentQueries, 2)
	require.Equal(t, "42P01", mine.RecentQueries[0].ErrorCode)
	require.NotNil(t, mine.FirstActivity)
}
