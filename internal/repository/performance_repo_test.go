package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

func TestPerformanceRepositoryAggregates(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPerformanceRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	userID := uuid.New()
	problemA, problemB := uuid.New(), uuid.New()
	metrics := []models.PerformanceMetric{
		{SessionID: "s-1", ProblemID: &problemA, Dialect: "postgresql", ExecutionTimeMs: 40, Success: true, CreatedAt: now.Add(-3 * time.Hour)},
		{SessionID: "s-1", ProblemID: &problemA, Dialect: "postgresql", ExecutionTimeMs: 1200, Success: true, CreatedAt: now.Add(-10 * time.Minute)},
		{SessionID: "s-1", ProblemID: &problemB, Dialect: "mysql", ExecutionTimeMs: 6000, Success: false, ErrorCode: "57014", CreatedAt: now.Add(-5 * time.Minute)},
		{SessionID: "s-2", UserID: &userID, Dialect: "postgresql", ExecutionTimeMs: 20, Success: true, CreatedAt: now.Add(-2 * time.Minute)},
	}
	for i := range metrics {
		require.NoError(t, db.Create(&metrics[i]).Error)
	}

	all, err := repo.Summary(ctx, time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(4), all.TotalQueries)
	require.Equal(t, int64(3), all.SuccessCount)
	require.InDelta(t, 1815, all.AvgExecutionMs, 0.001)

	lastHour, err := repo.Summary(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(3), lastHour.TotalQueries)

	active, err := repo.ActiveSessions(ctx, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, int64(2), active)

	times, err := repo.ExecutionTimes(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, []int64{20, 6000, 1200}, times)

	slow, err := repo.SlowQueries(ctx, 1000, 10)
	require.NoError(t, err)
	require.Len(t, slow, 2)
	require.Equal(t, int64(6000), slow[0].ExecutionTimeMs)

	dialects, err := repo.DialectBreakdown(ctx)
	require.NoError(t, err)
	require.Len(t, dialects, 2)
	require.Equal(t, "postgresql", dialects[0].Dialect)
	require.Equal(t, int64(3), dialects[0].Count)
	require.InDelta(t, 420, dialects[0].AvgExecutionMs, 0.001)
}

func TestPerformanceRepositoryScopesByOwner(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPerformanceRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	userID := uuid.New()
	problem := uuid.New()
	for i, metric := range []models.PerformanceMetric{
		{SessionID: "s-1", ProblemID: &problem, Dialect: "postgresql", ExecutionTimeMs: 10, Success: true},
		{SessionID: "s-1", ProblemID: &problem, Dialect: "postgresql", ExecutionTimeMs: 30, Success: true},
		{SessionID: "s-1", Dialect: "postgresql", ExecutionTimeMs: 50, Success: false},
		{SessionID: "s-9", UserID: &userID, Dialect: "mysql", ExecutionTimeMs: 70, Success: true},
	} {
		metric.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, db.Create(&metric).Error)
	}

	owner := QueryOwner{SessionID: "s-1"}
	summary, err := repo.OwnerSummary(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, MetricsSummary{TotalQueries: 3, SuccessCount: 2, AvgExecutionMs: 30}, summary)

	activity, err := repo.OwnerActivity(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, int64(1), activity.ProblemsPracticed)
	require.NotNil(t, activity.FirstActivity)
	require.NotNil(t, activity.LastActivity)
	require.True(t, activity.LastActivity.After(*activity.FirstActivity))

	recent, err := repo.RecentForOwner(ctx, owner, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, int64(50), recent[0].ExecutionTimeMs)

	userSummary, err := repo.OwnerSummary(ctx, QueryOwner{SessionID: "s-1", UserID: &userID})
	require.NoError(t, err)
	require.Equal(t, int64(1), userSummary.TotalQueries)

	empty, err := repo.OwnerActivity(ctx, QueryOwner{SessionID: "nobody"})
	require.NoError(t, err)
	require.Zero(t, empty.ProblemsPracticed)
	require.Nil(t, empty.FirstActivity)
	require.Nil(t, empty.LastActivity)
}
