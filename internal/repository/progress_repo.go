package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/sqlpractice-api/internal/models"
)

const maxAttemptRetries = 5

// ProgressTransition is the outcome of applying one attempt to the progress
// aggregate.
type ProgressTransition struct {
	Record          models.ProgressRecord
	FirstCompletion bool
}

// ProgressSummary aggregates a session's activity.
type ProgressSummary struct {
	TotalAttempts      int64
	CorrectAttempts    int64
	CompletedProblems  int64
	InProgressProblems int64
	Achievements       int64
	CurrentStreak      int
	LongestStreak      int
	AverageExecutionMs float64
}

// DifficultyCount is the number of completed problems per difficulty.
type DifficultyCount struct {
	Difficulty string
	Count      int64
}

// LeaderboardRow is one anonymous leaderboard entry.
type LeaderboardRow struct {
	SessionID        string
	Completed        int64
	TotalAttempts    int64
	FirstCompletedAt *time.Time
}

// ProgressRepository persists sessions, attempts, progress aggregates,
// achievements and streaks.
type ProgressRepository interface {
	UpsertSession(ctx context.Context, session *models.Session) error
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
	GetSession(ctx context.Context, sessionID string) (models.Session, error)
	RecordAttempt(ctx context.Context, attempt *models.Attempt) (ProgressTransition, error)
	CountCompleted(ctx context.Context, sessionID string) (int64, error)
	HasAchievement(ctx context.Context, sessionID, key string) (bool, error)
	CreateAchievement(ctx context.Context, achievement *models.Achievement) (bool, error)
	TouchStreak(ctx context.Context, sessionID, streakType string, at time.Time) (models.Streak, error)
	Summary(ctx context.Context, sessionID string) (ProgressSummary, error)
	ListProgress(ctx context.Context, sessionID string) ([]models.ProgressRecord, error)
	ListAttempts(ctx context.Context, sessionID string, limit int) ([]models.Attempt, error)
	ListAchievements(ctx context.Context, sessionID string) ([]models.Achievement, error)
	CompletedByDifficulty(ctx context.Context, sessionID string) ([]DifficultyCount, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error)
	MergeProgress(ctx context.Context, record models.ProgressRecord) error
	AssignUser(ctx context.Context, sessionID string, userID uuid.UUID) error
}

// NewProgressRepository constructs a progress repository.
func NewProgressRepository(db *gorm.DB) ProgressRepository {
	return &progressRepository{db: db}
}

type progressRepository struct {
	db *gorm.DB
}

func (r *progressRepository) UpsertSession(ctx context.Context, session *models.Session) error {
	if session.LastActivity.IsZero() {
		session.LastActivity = time.Now().UTC()
	}
	columns := []string{"ip_address", "user_agent", "last_activity"}
	if session.UserID != nil {
		columns = append(columns, "user_id")
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(session).Error
}

// TouchSession bumps last_activity, creating a bare session row when the id is
// unknown.
func (r *progressRepository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	session := models.Session{ID: sessionID, LastActivity: at}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_activity"}),
	}).Create(&session).Error
}

func (r *progressRepository) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	var session models.Session
	err := r.db.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
	return session, err
}

// RecordAttempt inserts the attempt under the next attempt number for
// (session, problem) and folds it into the progress aggregate and the problem
// counters, all in one transaction. The unique index on the sequence turns
// concurrent writers into retries of the whole unit instead of duplicates.
func (r *progressRepository) RecordAttempt(ctx context.Context, attempt *models.Attempt) (ProgressTransition, error) {
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now().UTC()
	}

	for i := 0; i < maxAttemptRetries; i++ {
		var transition ProgressTransition
		err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := insertAttempt(tx, attempt); err != nil {
				return err
			}
			var err error
			transition, err = applyAttempt(tx, *attempt)
			return err
		})
		if err == nil {
			return transition, nil
		}
		attempt.ID = 0
		if !IsUniqueViolation(err) {
			return ProgressTransition{}, err
		}
		if ctx.Err() != nil {
			return ProgressTransition{}, ctx.Err()
		}
	}
	return ProgressTransition{}, ErrAttemptConflict
}

func insertAttempt(tx *gorm.DB, attempt *models.Attempt) error {
	var next int
	if err := tx.Model(&models.Attempt{}).
		Select("COALESCE(MAX(attempt_number), 0) + 1").
		Where("session_id = ? AND problem_id = ?", attempt.SessionID, attempt.ProblemID).
		Scan(&next).Error; err != nil {
		return err
	}
	attempt.ID = 0
	attempt.AttemptNumber = next
	return tx.Create(attempt).Error
}

// applyAttempt folds an attempt into the (session, problem) aggregate and the
// problem counters. Completion is stamped only while completed_at is still
// null, so concurrent correct attempts complete the record exactly once.
func applyAttempt(tx *gorm.DB, attempt models.Attempt) (ProgressTransition, error) {
	var transition ProgressTransition
	at := attempt.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	record := models.ProgressRecord{
		SessionID:      attempt.SessionID,
		ProblemID:      attempt.ProblemID,
		UserID:         attempt.UserID,
		Status:         models.ProgressInProgress,
		FirstAttemptAt: at,
		LastAttemptAt:  at,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
		return transition, err
	}

	owner := tx.Model(&models.ProgressRecord{}).
		Where("session_id = ? AND problem_id = ?", attempt.SessionID, attempt.ProblemID)

	updates := map[string]any{
		"total_attempts":  gorm.Expr("total_attempts + 1"),
		"last_attempt_at": at,
		"status": gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
			models.ProgressNotStarted, models.ProgressInProgress),
	}
	if attempt.IsCorrect {
		updates["correct_attempts"] = gorm.Expr("correct_attempts + 1")
		updates["best_execution_time_ms"] = gorm.Expr(
			"CASE WHEN best_execution_time_ms IS NULL OR best_execution_time_ms > ? THEN ? ELSE best_execution_time_ms END",
			attempt.ExecutionTimeMs, attempt.ExecutionTimeMs)
	}
	if attempt.HintUsed {
		updates["hints_used"] = gorm.Expr("hints_used + 1")
	}
	if attempt.SolutionViewed {
		updates["solution_viewed"] = true
	}
	if attempt.UserID != nil {
		updates["user_id"] = *attempt.UserID
	}
	if err := owner.Updates(updates).Error; err != nil {
		return transition, err
	}

	if attempt.IsCorrect {
		result := tx.Model(&models.ProgressRecord{}).
			Where("session_id = ? AND problem_id = ? AND completed_at IS NULL", attempt.SessionID, attempt.ProblemID).
			Updates(map[string]any{"status": models.ProgressCompleted, "completed_at": at})
		if result.Error != nil {
			return transition, result.Error
		}
		transition.FirstCompletion = result.RowsAffected == 1
	}

	counters := map[string]any{"total_submissions": gorm.Expr("total_submissions + 1")}
	if attempt.IsCorrect {
		counters["total_accepted"] = gorm.Expr("total_accepted + 1")
	}
	if err := tx.Model(&models.Problem{}).Where("id = ?", attempt.ProblemID).UpdateColumns(counters).Error; err != nil {
		return transition, err
	}

	err := tx.Where("session_id = ? AND problem_id = ?", attempt.SessionID, attempt.ProblemID).
		First(&transition.Record).Error
	return transition, err
}

func (r *progressRepository) CountCompleted(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProgressRecord{}).
		Where("session_id = ? AND status = ?", sessionID, models.ProgressCompleted).
		Count(&count).Error
	return count, err
}

func (r *progressRepository) HasAchievement(ctx context.Context, sessionID, key string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Achievement{}).
		Where("session_id = ? AND achievement_key = ?", sessionID, key).
		Count(&count).Error
	return count > 0, err
}

// CreateAchievement inserts the achievement unless the key is already
// unlocked for the session. It reports whether a row was written.
func (r *progressRepository) CreateAchievement(ctx context.Context, achievement *models.Achievement) (bool, error) {
	exists, err := r.HasAchievement(ctx, achievement.SessionID, achievement.AchievementKey)
	if err != nil || exists {
		return false, err
	}
	if achievement.UnlockedAt.IsZero() {
		achievement.UnlockedAt = time.Now().UTC()
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(achievement)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// TouchStreak records activity on the UTC day of at. Activity on the same day
// is a no-op, the following day extends the streak, any later day resets it.
// Two first touches racing on a new row resolve through the unique index and
// one retry.
func (r *progressRepository) TouchStreak(ctx context.Context, sessionID, streakType string, at time.Time) (models.Streak, error) {
	day := truncateDay(at)
	var streak models.Streak

	var err error
	for i := 0; i < 2; i++ {
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			streak = models.Streak{}
			findErr := tx.Where("session_id = ? AND streak_type = ?", sessionID, streakType).First(&streak).Error
			if IsNotFound(findErr) {
				streak = models.Streak{
					SessionID:        sessionID,
					StreakType:       streakType,
					CurrentCount:     1,
					MaxCount:         1,
					LastActivityDate: day,
				}
				return tx.Create(&streak).Error
			}
			if findErr != nil {
				return findErr
			}

			last := truncateDay(streak.LastActivityDate)
			switch gap := int(day.Sub(last).Hours() / 24); {
			case gap <= 0:
				return nil
			case gap == 1:
				streak.CurrentCount++
			default:
				streak.CurrentCount = 1
			}
			if streak.CurrentCount > streak.MaxCount {
				streak.MaxCount = streak.CurrentCount
			}
			streak.LastActivityDate = day
			return tx.Save(&streak).Error
		})
		if err == nil || !IsUniqueViolation(err) {
			break
		}
	}
	return streak, err
}

// Summary runs the aggregate queries concurrently.
func (r *progressRepository) Summary(ctx context.Context, sessionID string) (ProgressSummary, error) {
	var summary ProgressSummary
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var row struct {
			Total   int64
			Correct int64
			AvgMs   sql.NullFloat64
		}
		err := r.db.WithContext(gctx).Model(&models.Attempt{}).
			Select("COUNT(*) AS total, COALESCE(SUM(CASE WHEN is_correct THEN 1 ELSE 0 END), 0) AS correct, AVG(execution_time_ms) AS avg_ms").
			Where("session_id = ?", sessionID).
			Scan(&row).Error
		summary.TotalAttempts = row.Total
		summary.CorrectAttempts = row.Correct
		if row.AvgMs.Valid {
			summary.AverageExecutionMs = row.AvgMs.Float64
		}
		return err
	})
	g.Go(func() error {
		return r.db.WithContext(gctx).Model(&models.ProgressRecord{}).
			Where("session_id = ? AND status = ?", sessionID, models.ProgressCompleted).
			Count(&summary.CompletedProblems).Error
	})
	g.Go(func() error {
		return r.db.WithContext(gctx).Model(&models.ProgressRecord{}).
			Where("session_id = ? AND status = ?", sessionID, models.ProgressInProgress).
			Count(&summary.InProgressProblems).Error
	})
	g.Go(func() error {
		return r.db.WithContext(gctx).Model(&models.Achievement{}).
			Where("session_id = ?", sessionID).
			Count(&summary.Achievements).Error
	})
	g.Go(func() error {
		var streak models.Streak
		err := r.db.WithContext(gctx).
			Where("session_id = ? AND streak_type = ?", sessionID, models.StreakDaily).
			First(&streak).Error
		if IsNotFound(err) {
			return nil
		}
		summary.CurrentStreak = streak.CurrentCount
		summary.LongestStreak = streak.MaxCount
		return err
	})

	if err := g.Wait(); err != nil {
		return ProgressSummary{}, err
	}
	return summary, nil
}

func (r *progressRepository) ListProgress(ctx context.Context, sessionID string) ([]models.ProgressRecord, error) {
	var records []models.ProgressRecord
	err := r.db.WithContext(ctx).
		Preload("Problem").
		Where("session_id = ?", sessionID).
		Order("last_attempt_at DESC").
		Find(&records).Error
	return records, err
}

func (r *progressRepository) ListAttempts(ctx context.Context, sessionID string, limit int) ([]models.Attempt, error) {
	db := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at DESC, id DESC")
	if limit > 0 {
		db = db.Limit(limit)
	}
	var attempts []models.Attempt
	err := db.Find(&attempts).Error
	return attempts, err
}

func (r *progressRepository) ListAchievements(ctx context.Context, sessionID string) ([]models.Achievement, error) {
	var achievements []models.Achievement
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("unlocked_at ASC, id ASC").
		Find(&achievements).Error
	return achievements, err
}

func (r *progressRepository) CompletedByDifficulty(ctx context.Context, sessionID string) ([]DifficultyCount, error) {
	var counts []DifficultyCount
	err := r.db.WithContext(ctx).
		Table("user_progress").
		Select("problems.difficulty AS difficulty, COUNT(*) AS count").
		Joins("JOIN problems ON problems.id = user_progress.problem_id").
		Where("user_progress.session_id = ? AND user_progress.status = ?", sessionID, models.ProgressCompleted).
		Group("problems.difficulty").
		Order("problems.difficulty").
		Scan(&counts).Error
	return counts, err
}

// Leaderboard ranks sessions by completed problems, then by fewer attempts.
func (r *progressRepository) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.WithContext(ctx).
		Table("user_progress").
		Select("session_id, COUNT(*) AS completed, COALESCE(SUM(total_attempts), 0) AS attempts, MIN(completed_at) AS first_completed").
		Where("status = ?", models.ProgressCompleted).
		Group("session_id").
		Order("completed DESC, attempts ASC, session_id ASC").
		Limit(limit).
		Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var board []LeaderboardRow
	for rows.Next() {
		var (
			row   LeaderboardRow
			first sql.NullString
		)
		if err := rows.Scan(&row.SessionID, &row.Completed, &row.TotalAttempts, &first); err != nil {
			return nil, err
		}
		if first.Valid {
			if ts, ok := parseTimestamp(first.String); ok {
				row.FirstCompletedAt = &ts
			}
		}
		board = append(board, row)
	}
	return board, rows.Err()
}

// MergeProgress folds a restored record into the stored one, keeping the more
// advanced status and the larger counters.
func (r *progressRepository) MergeProgress(ctx context.Context, incoming models.ProgressRecord) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.ProgressRecord
		err := tx.Where("session_id = ? AND problem_id = ?", incoming.SessionID, incoming.ProblemID).First(&existing).Error
		if IsNotFound(err) {
			incoming.ID = 0
			incoming.Problem = nil
			if incoming.Status == "" {
				incoming.Status = models.ProgressInProgress
			}
			return tx.Create(&incoming).Error
		}
		if err != nil {
			return err
		}

		if statusRank(incoming.Status) > statusRank(existing.Status) {
			existing.Status = incoming.Status
		}
		if existing.CompletedAt == nil && incoming.CompletedAt != nil {
			existing.CompletedAt = incoming.CompletedAt
		}
		existing.TotalAttempts = max(existing.TotalAttempts, incoming.TotalAttempts)
		existing.CorrectAttempts = max(existing.CorrectAttempts, incoming.CorrectAttempts)
		existing.HintsUsed = max(existing.HintsUsed, incoming.HintsUsed)
		existing.SolutionViewed = existing.SolutionViewed || incoming.SolutionViewed
		if incoming.BestExecutionTimeMs != nil &&
			(existing.BestExecutionTimeMs == nil || *incoming.BestExecutionTimeMs < *existing.BestExecutionTimeMs) {
			existing.BestExecutionTimeMs = incoming.BestExecutionTimeMs
		}
		if !incoming.FirstAttemptAt.IsZero() && incoming.FirstAttemptAt.Before(existing.FirstAttemptAt) {
			existing.FirstAttemptAt = incoming.FirstAttemptAt
		}
		if incoming.LastAttemptAt.After(existing.LastAttemptAt) {
			existing.LastAttemptAt = incoming.LastAttemptAt
		}
		existing.Problem = nil
		return tx.Save(&existing).Error
	})
}

// AssignUser links every row of an anonymous session to a user account.
func (r *progressRepository) AssignUser(ctx context.Context, sessionID string, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Session{}).Where("id = ?", sessionID).Update("user_id", userID).Error; err != nil {
			return err
		}
		for _, model := range []any{
			&models.Attempt{},
			&models.ProgressRecord{},
			&models.Achievement{},
			&models.QueryHistory{},
			&models.SavedQuery{},
			&models.LearningPathProgress{},
		} {
			if err := tx.Model(model).
				Where("session_id = ? AND user_id IS NULL", sessionID).
				Update("user_id", userID).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func statusRank(status string) int {
	switch status {
	case models.ProgressCompleted:
		return 2
	case models.ProgressInProgress:
		return 1
	default:
		return 0
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
