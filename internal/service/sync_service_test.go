package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
	"github.com/noah-isme/sqlpractice-api/pkg/cloudinary"
)

type memoryArchiver struct {
	name    string
	payload []byte
}

func (a *memoryArchiver) Store(_ context.Context, name string, reader io.Reader) (cloudinary.Stored, error) {
	payload, err := io.ReadAll(reader)
	if err != nil {
		return cloudinary.Stored{}, err
	}
	a.name = name
	a.payload = payload
	return cloudinary.Stored{URL: "https://example.test/" + name, PublicID: name, Bytes: len(payload)}, nil
}

type syncFixture struct {
	db       *gorm.DB
	progress ProgressService
	queries  QueryService
	sync     SyncService
	archiver *memoryArchiver
	problem  models.Problem
}

func newSyncFixture(t *testing.T) syncFixture {
	t.Helper()
	db := newTestDB(t)
	problem, _ := seedCustomersProblem(t, db, 1)

	problemRepo := repository.NewProblemRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	queryRepo := repository.NewQueryRepository(db)
	problems := NewProblemService(problemRepo, nil, nil, 0, zerolog.Nop())
	archiver := &memoryArchiver{}

	return syncFixture{
		db:       db,
		progress: NewProgressService(progressRepo, problemRepo, nil, nil, ProgressConfig{}, zerolog.Nop()),
		queries:  NewQueryService(queryRepo, problems, zerolog.Nop()),
		sync:     NewSyncService(progressRepo, queryRepo, problemRepo, archiver, nil, zerolog.Nop()),
		archiver: archiver,
		problem:  problem,
	}
}

func (fx syncFixture) solve(t *testing.T, sessionID string) {
	t.Helper()
	_, err := fx.progress.RecordAttempt(context.Background(), AttemptInput{
		SessionID: sessionID, ProblemID: fx.problem.ID, Query: customersSolutionSQL, Dialect: "postgresql", IsCorrect: true, ExecutionTimeMs: 10,
	})
	require.NoError(t, err)
}

func TestBackupAndRestoreIsIdempotent(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()
	fx.solve(t, "session_src")
	_, err := fx.queries.CreateSaved(ctx, Owner{SessionID: "session_src"}, dto.SavedQueryRequest{Name: "mine", Query: "SELECT 1"})
	require.NoError(t, err)

	doc, err := fx.sync.Backup(ctx, Owner{SessionID: "session_src"})
	require.NoError(t, err)
	require.Equal(t, dto.BackupVersion, doc.Version)
	require.Len(t, doc.Progress, 1)
	require.Len(t, doc.Attempts, 1)
	require.Len(t, doc.Achievements, 2)
	require.Len(t, doc.SavedQueries, 1)

	target := Owner{SessionID: "session_dst"}
	first, err := fx.sync.Restore(ctx, target, doc)
	require.NoError(t, err)
	require.Equal(t, dto.RestoreResult{Progress: 1, Achievements: 2, SavedQueries: 1}, first)

	second, err := fx.sync.Restore(ctx, target, doc)
	require.NoError(t, err)
	require.Zero(t, second.Achievements)
	require.Zero(t, second.SavedQueries)

	var record models.ProgressRecord
	require.NoError(t, fx.db.Where("session_id = ?", "session_dst").First(&record).Error)
	require.Equal(t, models.ProgressCompleted, record.Status)
	require.Equal(t, 1, record.CorrectAttempts)

	status, err := fx.sync.Status(ctx, target)
	require.NoError(t, err)
	require.Equal(t, 1, status.Progress)
	require.Equal(t, 2, status.Achievements)
	require.Equal(t, 1, status.SavedQueries)
}

func TestRestoreSkipsUnknownProblems(t *testing.T) {
	fx := newSyncFixture(t)

	doc := dto.BackupDocument{
		Version:  dto.BackupVersion,
		Progress: []dto.BackupProgress{{ProblemID: uuid.New(), Status: models.ProgressCompleted}},
	}
	result, err := fx.sync.Restore(context.Background(), Owner{SessionID: "s"}, doc)
	require.NoError(t, err)
	require.Equal(t, 1, result.Skipped)
	require.Zero(t, result.Progress)
}

func TestRestoreRejectsInvalidDocuments(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()

	_, err := fx.sync.Restore(ctx, Owner{SessionID: "s"}, dto.BackupDocument{Version: 2})
	require.ErrorIs(t, err, ErrInvalidBackup)

	_, err = fx.sync.RestoreUpload(ctx, Owner{SessionID: "s"}, bytes.NewReader([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0}))
	require.ErrorIs(t, err, ErrInvalidBackup)

	_, err = fx.sync.RestoreUpload(ctx, Owner{SessionID: "s"}, bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrInvalidBackup)
}

func TestRestoreUploadAcceptsJSON(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()
	fx.solve(t, "session_file")

	doc, err := fx.sync.Backup(ctx, Owner{SessionID: "session_file"})
	require.NoError(t, err)
	payload, err := json.Marshal(doc)
	require.NoError(t, err)

	result, err := fx.sync.RestoreUpload(ctx, Owner{SessionID: "session_copy"}, bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, 1, result.Progress)
}

func TestArchiveStoresBackup(t *testing.T) {
	fx := newSyncFixture(t)
	fx.solve(t, "session_arch")

	archive, err := fx.sync.Archive(context.Background(), Owner{SessionID: "session_arch"})
	require.NoError(t, err)
	require.Equal(t, "backup-session_arch.json", fx.archiver.name)
	require.Equal(t, len(fx.archiver.payload), archive.Bytes)

	var doc dto.BackupDocument
	require.NoError(t, json.Unmarshal(fx.archiver.payload, &doc))
	require.Equal(t, "session_arch", doc.SessionID)

	unconfigured := NewSyncService(nil, nil, nil, nil, nil, zerolog.Nop())
	_, err = unconfigured.Archive(context.Background(), Owner{SessionID: "session_arch"})
	require.ErrorIs(t, err, ErrArchiveUnavailable)
}

func TestMergeSessionFoldsAnonymousProgress(t *testing.T) {
	fx := newSyncFixture(t)
	ctx := context.Background()
	userID := uuid.New()
	fx.solve(t, "session_anon")

	result, err := fx.sync.MergeSession(ctx, userID, "session_user", "session_anon")
	require.NoError(t, err)
	require.Equal(t, 1, result.Progress)

	var record models.ProgressRecord
	require.NoError(t, fx.db.Where("session_id = ?", "session_user").First(&record).Error)
	require.NotNil(t, record.UserID)
	require.Equal(t, userID, *record.UserID)

	var anon models.ProgressRecord
	require.NoError(t, fx.db.Where("session_id = ?", "session_anon").First(&anon).Error)
	require.Equal(t, userID, *anon.UserID)

	_, err = fx.sync.MergeSession(ctx, userID, "session_user", "")
	require.ErrorIs(t, err, ErrSessionRequired)
}
