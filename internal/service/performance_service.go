package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
)

const (
	slowWarningMs       = 1000
	slowCriticalMs      = 5000
	slowQueriesLimit    = 10
	percentileSample    = 10000
	recentActivity      = time.Hour
	activeSessionWindow = 30 * time.Minute
	userRecentLimit     = 10

	healthyAvgMs       = 2000
	healthySuccessRate = 85
)

// PerformanceService reports execution performance for the platform and for
// the caller.
type PerformanceService interface {
	SystemMetrics(ctx context.Context) (dto.SystemPerformance, error)
	UserMetrics(ctx context.Context, owner Owner) (dto.UserPerformance, error)
}

type performanceService struct {
	repo   repository.PerformanceRepository
	now    func() time.Time
	logger zerolog.Logger
}

// NewPerformanceService constructs the performance reporter.
func NewPerformanceService(repo repository.PerformanceRepository, logger zerolog.Logger) PerformanceService {
	return &performanceService{
		repo:   repo,
		now:    time.Now,
		logger: logger.With().Str("component", "performance_service").Logger(),
	}
}

func (s *performanceService) SystemMetrics(ctx context.Context) (dto.SystemPerformance, error) {
	now := s.now().UTC()

	var (
		overall  repository.MetricsSummary
		recent   repository.MetricsSummary
		active   int64
		times    []int64
		slow     []models.PerformanceMetric
		dialects []repository.DialectStat
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		overall, err = s.repo.Summary(groupCtx, time.Time{})
		return err
	})
	group.Go(func() (err error) {
		recent, err = s.repo.Summary(groupCtx, now.Add(-recentActivity))
		return err
	})
	group.Go(func() (err error) {
		active, err = s.repo.ActiveSessions(groupCtx, now.Add(-activeSessionWindow))
		return err
	})
	group.Go(func() (err error) {
		times, err = s.repo.ExecutionTimes(groupCtx, percentileSample)
		return err
	})
	group.Go(func() (err error) {
		slow, err = s.repo.SlowQueries(groupCtx, slowWarningMs, slowQueriesLimit)
		return err
	})
	group.Go(func() (err error) {
		dialects, err = s.repo.DialectBreakdown(groupCtx)
		return err
	})
	if err := group.Wait(); err != nil {
		return dto.SystemPerformance{}, err
	}

	result := dto.SystemPerformance{
		Overview:         overview(overall),
		RecentActivity:   overview(recent),
		Percentiles:      percentiles(times),
		TopSlowQueries:   make([]dto.SlowQuery, 0, len(slow)),
		DialectBreakdown: make([]dto.DialectPerformance, 0, len(dialects)),
		GeneratedAt:      now,
	}
	result.Overview.ActiveSessions = active
	for _, metric := range slow {
		severity := "warning"
		if metric.ExecutionTimeMs >= slowCriticalMs {
			severity = "critical"
		}
		result.TopSlowQueries = append(result.TopSlowQueries, dto.SlowQuery{
			ID:              metric.ID,
			ProblemID:       metric.ProblemID,
			Dialect:         metric.Dialect,
			ExecutionTimeMs: metric.ExecutionTimeMs,
			Severity:        severity,
			Success:         metric.Success,
			CreatedAt:       metric.CreatedAt,
		})
	}
	for _, stat := range dialects {
		result.DialectBreakdown = append(result.DialectBreakdown, dto.DialectPerformance{
			Dialect:          stat.Dialect,
			Count:            stat.Count,
			AvgExecutionTime: math.Round(stat.AvgExecutionMs*10) / 10,
		})
	}
	result.Health = health(result.Overview)
	if result.Health.Status != "healthy" {
		s.logger.Warn().Strs("issues", result.Health.Issues).Msg("execution performance degraded")
	}
	return result, nil
}

func (s *performanceService) UserMetrics(ctx context.Context, owner Owner) (dto.UserPerformance, error) {
	if strings.TrimSpace(owner.SessionID) == "" && owner.UserID == nil {
		return dto.UserPerformance{}, ErrSessionRequired
	}

	var (
		summary  repository.MetricsSummary
		activity repository.OwnerActivity
		recent   []models.PerformanceMetric
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		summary, err = s.repo.OwnerSummary(groupCtx, owner.repo())
		return err
	})
	group.Go(func() (err error) {
		activity, err = s.repo.OwnerActivity(groupCtx, owner.repo())
		return err
	})
	group.Go(func() (err error) {
		recent, err = s.repo.RecentForOwner(groupCtx, owner.repo(), userRecentLimit)
		return err
	})
	if err := group.Wait(); err != nil {
		return dto.UserPerformance{}, err
	}

	result := dto.UserPerformance{RecentQueries: make([]dto.RecentExecution, 0, len(recent))}
	if summary.TotalQueries == 0 {
		return result, nil
	}

	result.HasData = true
	result.QueryCount = summary.TotalQueries
	result.AvgExecutionTime = math.Round(summary.AvgExecutionMs*10) / 10
	result.SuccessRate = percentage(summary.SuccessCount, summary.TotalQueries)
	result.ProblemsPracticed = activity.ProblemsPracticed
	result.FirstActivity = activity.FirstActivity
	result.LastActivity = activity.LastActivity
	for _, metric := range recent {
		result.RecentQueries = append(result.RecentQueries, dto.RecentExecution{
			ProblemID:       metric.ProblemID,
			Dialect:         metric.Dialect,
			ExecutionTimeMs: metric.ExecutionTimeMs,
			RowCount:        metric.RowCount,
			Success:         metric.Success,
			ErrorCode:       metric.ErrorCode,
			CreatedAt:       metric.CreatedAt,
		})
	}
	return result, nil
}

func overview(summary repository.MetricsSummary) dto.PerformanceOverview {
	return dto.PerformanceOverview{
		TotalQueries:     summary.TotalQueries,
		AvgExecutionTime: math.Round(summary.AvgExecutionMs*10) / 10,
		SuccessRate:      percentage(summary.SuccessCount, summary.TotalQueries),
		ErrorCount:       summary.TotalQueries - summary.SuccessCount,
	}
}

// percentiles uses the nearest-rank method.
func percentiles(times []int64) dto.ExecutionPercentiles {
	if len(times) == 0 {
		return dto.ExecutionPercentiles{}
	}
	sorted := append([]int64(nil), times...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := func(p float64) int64 {
		index := int(math.Ceil(p/100*float64(len(sorted)))) - 1
		if index < 0 {
			index = 0
		}
		return sorted[index]
	}
	return dto.ExecutionPercentiles{P50: rank(50), P90: rank(90), P95: rank(95), P99: rank(99)}
}

func health(overview dto.PerformanceOverview) dto.PerformanceHealth {
	issues := []string{}
	if overview.TotalQueries == 0 {
		return dto.PerformanceHealth{Status: "healthy", Issues: issues}
	}
	if overview.AvgExecutionTime >= healthyAvgMs {
		issues = append(issues, fmt.Sprintf("average execution time %.1fms is above %dms", overview.AvgExecutionTime, healthyAvgMs))
	}
	if overview.SuccessRate <= healthySuccessRate {
		issues = append(issues, fmt.Sprintf("success rate %.1f%% is at or below %d%%", overview.SuccessRate, healthySuccessRate))
	}
	status := "healthy"
	if len(issues) > 0 {
		status = "degraded"
	}
	return dto.PerformanceHealth{Status: status, Issues: issues}
}
