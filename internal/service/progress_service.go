package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/observability"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
)

// Achievement types.
const (
	AchievementFirstSolve = "first_solve"
	AchievementSpeedDemon = "speed_demon"
	AchievementMilestone  = "milestone"
	AchievementStreak     = "streak"
)

var milestones = []int64{10, 25, 50, 75, 100}

const (
	streakAchievementDays = 7
	recentAttemptsLimit   = 50
	recentAchievements    = 5
	leaderboardMaxSize    = 100
)

// SessionInput describes the learner behind a request.
type SessionInput struct {
	SessionID string
	UserID    *uuid.UUID
	IPAddress string
	UserAgent string
}

// AttemptInput is one submission to record.
type AttemptInput struct {
	SessionID       string
	UserID          *uuid.UUID
	ProblemID       uuid.UUID
	Query           string
	Dialect         string
	IsCorrect       bool
	ExecutionTimeMs int64
	ErrorMessage    string
	HintUsed        bool
	SolutionViewed  bool
}

// ProgressService records attempts and reports learner progress.
type ProgressService interface {
	InitializeSession(ctx context.Context, input SessionInput) (dto.SessionResponse, error)
	Heartbeat(ctx context.Context, sessionID string) error
	RecordAttempt(ctx context.Context, input AttemptInput) (models.Attempt, error)
	Overview(ctx context.Context, sessionID string) (dto.ProgressOverview, error)
	Detailed(ctx context.Context, sessionID string) (dto.DetailedProgress, error)
	Stats(ctx context.Context, sessionID string) (dto.ProgressStats, error)
	Leaderboard(ctx context.Context, limit int) ([]dto.LeaderboardEntry, error)
}

// ProgressConfig tunes achievement rules and caching.
type ProgressConfig struct {
	FastSolveThreshold time.Duration
	CacheTTL           time.Duration
}

type progressService struct {
	repo     repository.ProgressRepository
	problems repository.ProblemRepository
	feed     AchievementFeed
	cache    *redis.Client
	cfg      ProgressConfig
	now      func() time.Time
	logger   zerolog.Logger
}

// NewProgressService constructs the progress recorder. feed and cache may be
// nil.
func NewProgressService(repo repository.ProgressRepository, problems repository.ProblemRepository, feed AchievementFeed, cache *redis.Client, cfg ProgressConfig, logger zerolog.Logger) ProgressService {
	if cfg.FastSolveThreshold <= 0 {
		cfg.FastSolveThreshold = time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Minute
	}
	return &progressService{
		repo:     repo,
		problems: problems,
		feed:     feed,
		cache:    cache,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With().Str("component", "progress_service").Logger(),
	}
}

func (s *progressService) InitializeSession(ctx context.Context, input SessionInput) (dto.SessionResponse, error) {
	sessionID := strings.TrimSpace(input.SessionID)
	if sessionID == "" {
		sessionID = NewSessionID()
	}

	session := models.Session{
		ID:           sessionID,
		UserID:       input.UserID,
		IPAddress:    input.IPAddress,
		UserAgent:    input.UserAgent,
		LastActivity: s.now(),
	}
	if err := s.repo.UpsertSession(ctx, &session); err != nil {
		return dto.SessionResponse{}, err
	}

	return dto.SessionResponse{
		SessionID:    session.ID,
		UserID:       session.UserID,
		LastActivity: session.LastActivity,
	}, nil
}

func (s *progressService) Heartbeat(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionRequired
	}
	return s.repo.TouchSession(ctx, sessionID, s.now())
}

// RecordAttempt appends the attempt and folds it into the progress aggregate.
// Reward rules run afterwards and never fail the recording.
func (s *progressService) RecordAttempt(ctx context.Context, input AttemptInput) (models.Attempt, error) {
	if strings.TrimSpace(input.SessionID) == "" {
		return models.Attempt{}, ErrSessionRequired
	}
	if input.ProblemID == uuid.Nil {
		return models.Attempt{}, ErrProblemNotFound
	}

	now := s.now()
	if err := s.repo.TouchSession(ctx, input.SessionID, now); err != nil {
		return models.Attempt{}, err
	}

	attempt := models.Attempt{
		SessionID:       input.SessionID,
		ProblemID:       input.ProblemID,
		UserID:          input.UserID,
		Query:           input.Query,
		Dialect:         input.Dialect,
		IsCorrect:       input.IsCorrect,
		ExecutionTimeMs: input.ExecutionTimeMs,
		ErrorMessage:    stringPtr(input.ErrorMessage),
		HintUsed:        input.HintUsed,
		SolutionViewed:  input.SolutionViewed,
		CreatedAt:       now,
	}
	transition, err := s.repo.RecordAttempt(ctx, &attempt)
	if err != nil {
		return models.Attempt{}, err
	}

	if attempt.IsCorrect {
		s.reward(ctx, attempt, transition)
	}

	return attempt, nil
}

type achievementRule struct {
	key         string
	kind        string
	name        string
	description string
	problemID   *uuid.UUID
	metadata    map[string]any
}

// reward evaluates every achievement rule independently. Failures are logged.
func (s *progressService) reward(ctx context.Context, attempt models.Attempt, transition repository.ProgressTransition) {
	logger := s.logger.With().Str("session_id", attempt.SessionID).Str("problem_id", attempt.ProblemID.String()).Logger()

	var rules []achievementRule
	rules = append(rules, achievementRule{
		key:         AchievementFirstSolve,
		kind:        AchievementFirstSolve,
		name:        "First Solve",
		description: "Solved your first SQL problem.",
		problemID:   uuidPtr(attempt.ProblemID),
	})

	if attempt.ExecutionTimeMs < s.cfg.FastSolveThreshold.Milliseconds() {
		rules = append(rules, achievementRule{
			key:         AchievementSpeedDemon + ":" + attempt.ProblemID.String(),
			kind:        AchievementSpeedDemon,
			name:        "Speed Demon",
			description: fmt.Sprintf("Solved a problem in under %s.", s.cfg.FastSolveThreshold),
			problemID:   uuidPtr(attempt.ProblemID),
			metadata:    map[string]any{"execution_time_ms": attempt.ExecutionTimeMs},
		})
	}

	if transition.FirstCompletion {
		completed, err := s.repo.CountCompleted(ctx, attempt.SessionID)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to count completed problems")
		}
		for _, milestone := range milestones {
			if completed >= milestone {
				rules = append(rules, achievementRule{
					key:         AchievementMilestone + "_" + strconv.FormatInt(milestone, 10),
					kind:        AchievementMilestone,
					name:        fmt.Sprintf("%d Problems Solved", milestone),
					description: fmt.Sprintf("Completed %d different problems.", milestone),
					metadata:    map[string]any{"completed": completed},
				})
			}
		}
	}

	streak, err := s.repo.TouchStreak(ctx, attempt.SessionID, models.StreakDaily, attempt.CreatedAt)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to update streak")
	} else if streak.CurrentCount >= streakAchievementDays {
		rules = append(rules, achievementRule{
			key:         AchievementStreak + "_" + strconv.Itoa(streakAchievementDays),
			kind:        AchievementStreak,
			name:        "Week Streak",
			description: "Solved problems seven days in a row.",
			metadata:    map[string]any{"days": streak.CurrentCount},
		})
	}

	for _, rule := range rules {
		s.unlock(ctx, logger, attempt, rule)
	}
}

func (s *progressService) unlock(ctx context.Context, logger zerolog.Logger, attempt models.Attempt, rule achievementRule) {
	achievement := models.Achievement{
		SessionID:       attempt.SessionID,
		AchievementKey:  rule.key,
		UserID:          attempt.UserID,
		AchievementType: rule.kind,
		Name:            rule.name,
		Description:     rule.description,
		ProblemID:       rule.problemID,
		Metadata:        rule.metadata,
		UnlockedAt:      attempt.CreatedAt,
	}

	created, err := s.repo.CreateAchievement(ctx, &achievement)
	if err != nil {
		logger.Warn().Err(err).Str("achievement", rule.key).Msg("failed to grant achievement")
		return
	}
	if !created {
		return
	}

	observability.AchievementsUnlocked().WithLabelValues(rule.kind).Inc()
	logger.Info().Str("achievement", rule.key).Msg("achievement unlocked")
	if s.feed != nil {
		s.feed.Publish(ctx, attempt.SessionID, dto.NewAchievementResponse(achievement))
	}
}

func (s *progressService) Overview(ctx context.Context, sessionID string) (dto.ProgressOverview, error) {
	if strings.TrimSpace(sessionID) == "" {
		return dto.ProgressOverview{}, ErrSessionRequired
	}

	summary, err := s.repo.Summary(ctx, sessionID)
	if err != nil {
		return dto.ProgressOverview{}, err
	}
	achievements, err := s.repo.ListAchievements(ctx, sessionID)
	if err != nil {
		return dto.ProgressOverview{}, err
	}

	recent := make([]dto.AchievementResponse, 0, recentAchievements)
	for i := len(achievements) - 1; i >= 0 && len(recent) < recentAchievements; i-- {
		recent = append(recent, dto.NewAchievementResponse(achievements[i]))
	}

	return dto.ProgressOverview{
		SessionID:          sessionID,
		TotalAttempts:      summary.TotalAttempts,
		CorrectAttempts:    summary.CorrectAttempts,
		SuccessRate:        percentage(summary.CorrectAttempts, summary.TotalAttempts),
		CompletedProblems:  summary.CompletedProblems,
		InProgressProblems: summary.InProgressProblems,
		CurrentStreak:      summary.CurrentStreak,
		LongestStreak:      summary.LongestStreak,
		AverageExecutionMs: math.Round(summary.AverageExecutionMs*10) / 10,
		AchievementCount:   summary.Achievements,
		RecentAchievements: recent,
	}, nil
}

func (s *progressService) Detailed(ctx context.Context, sessionID string) (dto.DetailedProgress, error) {
	if strings.TrimSpace(sessionID) == "" {
		return dto.DetailedProgress{}, ErrSessionRequired
	}

	var (
		records      []models.ProgressRecord
		attempts     []models.Attempt
		achievements []models.Achievement
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		records, err = s.repo.ListProgress(groupCtx, sessionID)
		return err
	})
	group.Go(func() (err error) {
		attempts, err = s.repo.ListAttempts(groupCtx, sessionID, recentAttemptsLimit)
		return err
	})
	group.Go(func() (err error) {
		achievements, err = s.repo.ListAchievements(groupCtx, sessionID)
		return err
	})
	if err := group.Wait(); err != nil {
		return dto.DetailedProgress{}, err
	}

	result := dto.DetailedProgress{
		Problems:       make([]dto.ProblemProgress, 0, len(records)),
		RecentAttempts: make([]dto.AttemptResponse, 0, len(attempts)),
		Achievements:   make([]dto.AchievementResponse, 0, len(achievements)),
	}
	for _, record := range records {
		result.Problems = append(result.Problems, dto.NewProblemProgress(record))
	}
	for _, attempt := range attempts {
		result.RecentAttempts = append(result.RecentAttempts, dto.NewAttemptResponse(attempt))
	}
	for _, achievement := range achievements {
		result.Achievements = append(result.Achievements, dto.NewAchievementResponse(achievement))
	}
	return result, nil
}

func (s *progressService) Stats(ctx context.Context, sessionID string) (dto.ProgressStats, error) {
	if strings.TrimSpace(sessionID) == "" {
		return dto.ProgressStats{}, ErrSessionRequired
	}

	counts, err := s.repo.CompletedByDifficulty(ctx, sessionID)
	if err != nil {
		return dto.ProgressStats{}, err
	}
	_, total, err := s.problems.List(ctx, repository.ProblemQuery{Limit: 1})
	if err != nil {
		return dto.ProgressStats{}, err
	}

	stats := dto.ProgressStats{
		ByDifficulty: map[string]int64{
			models.DifficultyEasy:   0,
			models.DifficultyMedium: 0,
			models.DifficultyHard:   0,
		},
		TotalProblems: total,
	}
	for _, count := range counts {
		stats.ByDifficulty[count.Difficulty] = count.Count
		stats.CompletedProblems += count.Count
	}
	stats.CompletionRate = percentage(stats.CompletedProblems, total)
	return stats, nil
}

// Leaderboard ranks sessions by completed problems. Session ids are replaced
// by a stable pseudonym.
func (s *progressService) Leaderboard(ctx context.Context, limit int) ([]dto.LeaderboardEntry, error) {
	if limit <= 0 || limit > leaderboardMaxSize {
		limit = 10
	}

	key := "leaderboard:v1:" + strconv.Itoa(limit)
	if s.cache != nil {
		if payload, err := s.cache.Get(ctx, key).Bytes(); err == nil {
			var cached []dto.LeaderboardEntry
			if err := json.Unmarshal(payload, &cached); err == nil {
				return cached, nil
			}
			s.logger.Warn().Msg("failed to decode leaderboard cache")
		}
	}

	rows, err := s.repo.Leaderboard(ctx, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]dto.LeaderboardEntry, 0, len(rows))
	for i, row := range rows {
		entries = append(entries, dto.LeaderboardEntry{
			Rank:             i + 1,
			Learner:          pseudonym(row.SessionID),
			Completed:        row.Completed,
			TotalAttempts:    row.TotalAttempts,
			FirstCompletedAt: row.FirstCompletedAt,
		})
	}

	if s.cache != nil {
		if payload, err := json.Marshal(entries); err == nil {
			if err := s.cache.Set(ctx, key, payload, s.cfg.CacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store leaderboard cache")
			}
		}
	}
	return entries, nil
}

// NewSessionID generates an anonymous session identifier.
func NewSessionID() string {
	return "session_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func pseudonym(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return "learner-" + hex.EncodeToString(sum[:4])
}

func percentage(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}
