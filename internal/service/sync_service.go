package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/noah-isme/sqlpractice-api/internal/dialect"
	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
	"github.com/noah-isme/sqlpractice-api/pkg/cloudinary"
)

// MaxBackupBytes bounds restore uploads.
const MaxBackupBytes = 5 << 20

// BackupArchiver persists serialized backups outside the database.
type BackupArchiver interface {
	Store(ctx context.Context, name string, reader io.Reader) (cloudinary.Stored, error)
}

// SyncService exports, restores and merges learner data.
type SyncService interface {
	Status(ctx context.Context, owner Owner) (dto.SyncStatus, error)
	Backup(ctx context.Context, owner Owner) (dto.BackupDocument, error)
	Archive(ctx context.Context, owner Owner) (dto.ArchiveResponse, error)
	Restore(ctx context.Context, owner Owner, doc dto.BackupDocument) (dto.RestoreResult, error)
	RestoreUpload(ctx context.Context, owner Owner, reader io.Reader) (dto.RestoreResult, error)
	MergeSession(ctx context.Context, userID uuid.UUID, currentSessionID, anonymousSessionID string) (dto.RestoreResult, error)
}

type syncService struct {
	progress repository.ProgressRepository
	queries  repository.QueryRepository
	problems repository.ProblemRepository
	archiver BackupArchiver
	validate *validator.Validate
	now      func() time.Time
	logger   zerolog.Logger
}

// NewSyncService constructs the sync service. archiver may be nil, in which
// case Archive reports ErrArchiveUnavailable.
func NewSyncService(progress repository.ProgressRepository, queries repository.QueryRepository, problems repository.ProblemRepository, archiver BackupArchiver, validate *validator.Validate, logger zerolog.Logger) SyncService {
	if validate == nil {
		validate = validator.New()
	}
	return &syncService{
		progress: progress,
		queries:  queries,
		problems: problems,
		archiver: archiver,
		validate: validate,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With().Str("component", "sync_service").Logger(),
	}
}

func (s *syncService) Status(ctx context.Context, owner Owner) (dto.SyncStatus, error) {
	if strings.TrimSpace(owner.SessionID) == "" {
		return dto.SyncStatus{}, ErrSessionRequired
	}

	status := dto.SyncStatus{SessionID: owner.SessionID, UserID: owner.UserID}
	session, err := s.progress.GetSession(ctx, owner.SessionID)
	switch {
	case err == nil:
		last := session.LastActivity
		status.LastActivity = &last
		if session.UserID != nil {
			status.UserID = session.UserID
		}
	case !repository.IsNotFound(err):
		return dto.SyncStatus{}, err
	}
	status.Linked = status.UserID != nil

	records, err := s.progress.ListProgress(ctx, owner.SessionID)
	if err != nil {
		return dto.SyncStatus{}, err
	}
	achievements, err := s.progress.ListAchievements(ctx, owner.SessionID)
	if err != nil {
		return dto.SyncStatus{}, err
	}
	saved, err := s.queries.ListSaved(ctx, owner.repo())
	if err != nil {
		return dto.SyncStatus{}, err
	}

	status.Progress = len(records)
	status.Achievements = len(achievements)
	status.SavedQueries = len(saved)
	return status, nil
}

func (s *syncService) Backup(ctx context.Context, owner Owner) (dto.BackupDocument, error) {
	if strings.TrimSpace(owner.SessionID) == "" {
		return dto.BackupDocument{}, ErrSessionRequired
	}

	var (
		records      []models.ProgressRecord
		attempts     []models.Attempt
		achievements []models.Achievement
		saved        []models.SavedQuery
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		records, err = s.progress.ListProgress(groupCtx, owner.SessionID)
		return err
	})
	group.Go(func() (err error) {
		attempts, err = s.progress.ListAttempts(groupCtx, owner.SessionID, 0)
		return err
	})
	group.Go(func() (err error) {
		achievements, err = s.progress.ListAchievements(groupCtx, owner.SessionID)
		return err
	})
	group.Go(func() (err error) {
		saved, err = s.queries.ListSaved(groupCtx, owner.repo())
		return err
	})
	if err := group.Wait(); err != nil {
		return dto.BackupDocument{}, err
	}

	doc := dto.BackupDocument{
		Version:      dto.BackupVersion,
		SessionID:    owner.SessionID,
		ExportedAt:   s.now(),
		Progress:     make([]dto.BackupProgress, 0, len(records)),
		Attempts:     make([]dto.AttemptResponse, 0, len(attempts)),
		Achievements: make([]dto.BackupAchievement, 0, len(achievements)),
		SavedQueries: make([]dto.BackupSavedQuery, 0, len(saved)),
	}
	for _, record := range records {
		doc.Progress = append(doc.Progress, dto.BackupProgress{
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
		})
	}
	for _, attempt := range attempts {
		doc.Attempts = append(doc.Attempts, dto.NewAttemptResponse(attempt))
	}
	for _, achievement := range achievements {
		doc.Achievements = append(doc.Achievements, dto.BackupAchievement{
			Key:         achievement.AchievementKey,
			Type:        achievement.AchievementType,
			Name:        achievement.Name,
			Description: achievement.Description,
			ProblemID:   achievement.ProblemID,
			Metadata:    achievement.Metadata,
			UnlockedAt:  achievement.UnlockedAt,
		})
	}
	for _, item := range saved {
		doc.SavedQueries = append(doc.SavedQueries, dto.BackupSavedQuery{
			Name:        item.Name,
			Description: item.Description,
			Query:       item.Query,
			Dialect:     item.Dialect,
			ProblemID:   item.ProblemID,
			IsFavorite:  item.IsFavorite,
			Tags:        item.TagsSlice(),
		})
	}
	return doc, nil
}

func (s *syncService) Archive(ctx context.Context, owner Owner) (dto.ArchiveResponse, error) {
	if s.archiver == nil {
		return dto.ArchiveResponse{}, ErrArchiveUnavailable
	}
	doc, err := s.Backup(ctx, owner)
	if err != nil {
		return dto.ArchiveResponse{}, err
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return dto.ArchiveResponse{}, fmt.Errorf("encode backup: %w", err)
	}
	stored, err := s.archiver.Store(ctx, "backup-"+owner.SessionID+".json", bytes.NewReader(payload))
	if err != nil {
		return dto.ArchiveResponse{}, err
	}

	return dto.ArchiveResponse{
		URL:       stored.URL,
		PublicID:  stored.PublicID,
		Bytes:     stored.Bytes,
		CreatedAt: doc.ExportedAt,
	}, nil
}

// RestoreUpload accepts a backup file. Anything that does not sniff as JSON
// or plain text is refused before decoding.
func (s *syncService) RestoreUpload(ctx context.Context, owner Owner, reader io.Reader) (dto.RestoreResult, error) {
	payload, err := io.ReadAll(io.LimitReader(reader, MaxBackupBytes+1))
	if err != nil {
		return dto.RestoreResult{}, fmt.Errorf("read backup: %w", err)
	}
	if len(payload) == 0 {
		return dto.RestoreResult{}, fmt.Errorf("%w: empty upload", ErrInvalidBackup)
	}
	if len(payload) > MaxBackupBytes {
		return dto.RestoreResult{}, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidBackup, MaxBackupBytes)
	}

	detected := mimetype.Detect(payload)
	if !detected.Is("application/json") && !detected.Is("text/plain") {
		return dto.RestoreResult{}, fmt.Errorf("%w: unsupported content type %s", ErrInvalidBackup, detected.String())
	}

	var doc dto.BackupDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		return dto.RestoreResult{}, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	return s.Restore(ctx, owner, doc)
}

// Restore merges a backup into the owner's session. Applying the same
// document twice changes nothing the second time. Attempts are history of the
// exporting session and are not replayed.
func (s *syncService) Restore(ctx context.Context, owner Owner, doc dto.BackupDocument) (dto.RestoreResult, error) {
	if strings.TrimSpace(owner.SessionID) == "" {
		return dto.RestoreResult{}, ErrSessionRequired
	}
	if err := s.validate.Struct(doc); err != nil {
		return dto.RestoreResult{}, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}

	var result dto.RestoreResult
	known := map[uuid.UUID]bool{}
	problemExists := func(id uuid.UUID) (bool, error) {
		if ok, seen := known[id]; seen {
			return ok, nil
		}
		_, err := s.problems.GetByID(ctx, id)
		if err != nil && !repository.IsNotFound(err) {
			return false, err
		}
		known[id] = err == nil
		return known[id], nil
	}

	for _, item := range doc.Progress {
		ok, err := problemExists(item.ProblemID)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Skipped++
			continue
		}
		record := models.ProgressRecord{
			SessionID:           owner.SessionID,
			ProblemID:           item.ProblemID,
			UserID:              owner.UserID,
			Status:              item.Status,
			TotalAttempts:       item.TotalAttempts,
			CorrectAttempts:     item.CorrectAttempts,
			BestExecutionTimeMs: item.BestExecutionTimeMs,
			HintsUsed:           item.HintsUsed,
			SolutionViewed:      item.SolutionViewed,
			FirstAttemptAt:      item.FirstAttemptAt,
			LastAttemptAt:       item.LastAttemptAt,
			CompletedAt:         item.CompletedAt,
		}
		if err := s.progress.MergeProgress(ctx, record); err != nil {
			return result, err
		}
		result.Progress++
	}

	for _, item := range doc.Achievements {
		achievement := models.Achievement{
			SessionID:       owner.SessionID,
			AchievementKey:  item.Key,
			UserID:          owner.UserID,
			AchievementType: item.Type,
			Name:            item.Name,
			Description:     item.Description,
			ProblemID:       item.ProblemID,
			Metadata:        datatypes.JSONMap(item.Metadata),
			UnlockedAt:      item.UnlockedAt,
		}
		created, err := s.progress.CreateAchievement(ctx, &achievement)
		if err != nil {
			return result, err
		}
		if created {
			result.Achievements++
		} else {
			result.Skipped++
		}
	}

	for _, item := range doc.SavedQueries {
		_, err := s.queries.FindSavedByName(ctx, owner.repo(), item.Name)
		if err == nil {
			result.Skipped++
			continue
		}
		if !repository.IsNotFound(err) {
			return result, err
		}

		d, err := dialect.Parse(item.Dialect)
		if err != nil {
			d = dialect.Native
		}
		var problemID *uuid.UUID
		if item.ProblemID != nil {
			ok, err := problemExists(*item.ProblemID)
			if err != nil {
				return result, err
			}
			if ok {
				problemID = item.ProblemID
			}
		}
		saved := models.SavedQuery{
			SessionID:   owner.SessionID,
			UserID:      owner.UserID,
			Name:        item.Name,
			Description: item.Description,
			Query:       item.Query,
			Dialect:     d.String(),
			ProblemID:   problemID,
			IsFavorite:  item.IsFavorite,
			Tags:        strings.Join(sanitizeTags(item.Tags), ","),
		}
		if err := s.queries.CreateSaved(ctx, &saved); err != nil {
			return result, err
		}
		result.SavedQueries++
	}

	s.logger.Info().
		Str("session_id", owner.SessionID).
		Int("progress", result.Progress).
		Int("achievements", result.Achievements).
		Int("saved_queries", result.SavedQueries).
		Int("skipped", result.Skipped).
		Msg("backup restored")
	return result, nil
}

// MergeSession links an anonymous session to the user and folds its data
// into the session the user is currently signed in with.
func (s *syncService) MergeSession(ctx context.Context, userID uuid.UUID, currentSessionID, anonymousSessionID string) (dto.RestoreResult, error) {
	anonymousSessionID = strings.TrimSpace(anonymousSessionID)
	currentSessionID = strings.TrimSpace(currentSessionID)
	if anonymousSessionID == "" {
		return dto.RestoreResult{}, ErrSessionRequired
	}

	if err := s.progress.AssignUser(ctx, anonymousSessionID, userID); err != nil {
		return dto.RestoreResult{}, err
	}
	if currentSessionID == "" || currentSessionID == anonymousSessionID {
		records, err := s.progress.ListProgress(ctx, anonymousSessionID)
		if err != nil {
			return dto.RestoreResult{}, err
		}
		return dto.RestoreResult{Progress: len(records)}, nil
	}

	doc, err := s.Backup(ctx, Owner{SessionID: anonymousSessionID})
	if err != nil {
		return dto.RestoreResult{}, err
	}
	if err := s.progress.AssignUser(ctx, currentSessionID, userID); err != nil {
		return dto.RestoreResult{}, err
	}
	return s.Restore(ctx, Owner{SessionID: currentSessionID, UserID: &userID}, doc)
}
