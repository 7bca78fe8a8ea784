package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/internal/dialect"
	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/grading"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/service"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var body envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func decodeMap(t *testing.T, body io.Reader) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.NewDecoder(body).Decode(&payload))
	return payload
}

type stubExecution struct {
	lastInput service.ExecuteInput
	response  dto.ExecuteResponse
	verdict   grading.Verdict
	err       error
}

func (s *stubExecution) Execute(_ context.Context, input service.ExecuteInput) (dto.ExecuteResponse, error) {
	s.lastInput = input
	return s.response, s.err
}

func (s *stubExecution) Validate(_ context.Context, input service.ExecuteInput) (grading.Verdict, error) {
	s.lastInput = input
	return s.verdict, s.err
}

type stubProblems struct {
	lastList dto.ProblemListRequest
	problem  models.Problem
	list     dto.ProblemListResult
	detail   dto.ProblemDetail
	setup    dto.SetupResponse
	groups   []dto.CompanyGroup
	err      error
}

func (s *stubProblems) Resolve(context.Context, string) (models.Problem, error) {
	return s.problem, s.err
}

func (s *stubProblems) List(_ context.Context, req dto.ProblemListRequest) (dto.ProblemListResult, error) {
	s.lastList = req
	return s.list, s.err
}

func (s *stubProblems) Get(context.Context, string, string) (dto.ProblemDetail, error) {
	return s.detail, s.err
}

func (s *stubProblems) Companies(context.Context) ([]dto.CompanyGroup, error) {
	return s.groups, s.err
}

func (s *stubProblems) Schema(context.Context, uuid.UUID, dialect.Dialect) (models.ProblemSchema, error) {
	return models.ProblemSchema{}, s.err
}

func (s *stubProblems) Setup(context.Context, string, string) (dto.SetupResponse, error) {
	return s.setup, s.err
}

type stubProgress struct {
	lastSession service.SessionInput
	lastAttempt service.AttemptInput
	attempt     models.Attempt
	overview    dto.ProgressOverview
	leaderboard []dto.LeaderboardEntry
	err         error
}

func (s *stubProgress) InitializeSession(_ context.Context, input service.SessionInput) (dto.SessionResponse, error) {
	s.lastSession = input
	id := input.SessionID
	if id == "" {
		id = "generated"
	}
	return dto.SessionResponse{SessionID: id, UserID: input.UserID}, s.err
}

func (s *stubProgress) Heartbeat(context.Context, string) error { return s.err }

func (s *stubProgress) RecordAttempt(_ context.Context, input service.AttemptInput) (models.Attempt, error) {
	s.lastAttempt = input
	return s.attempt, s.err
}

func (s *stubProgress) Overview(_ context.Context, sessionID string) (dto.ProgressOverview, error) {
	overview := s.overview
	overview.SessionID = sessionID
	return overview, s.err
}

func (s *stubProgress) Detailed(context.Context, string) (dto.DetailedProgress, error) {
	return dto.DetailedProgress{}, s.err
}

func (s *stubProgress) Stats(context.Context, string) (dto.ProgressStats, error) {
	return dto.ProgressStats{}, s.err
}

func (s *stubProgress) Leaderboard(context.Context, int) ([]dto.LeaderboardEntry, error) {
	return s.leaderboard, s.err
}

type stubAuth struct {
	token     string
	claims    dto.TokenClaims
	response  dto.AuthResponse
	profile   dto.UserResponse
	err       error
	loggedOut bool
}

func (s *stubAuth) Register(context.Context, dto.RegisterRequest) (dto.AuthResponse, error) {
	return s.response, s.err
}

func (s *stubAuth) Login(context.Context, dto.LoginRequest) (dto.AuthResponse, error) {
	return s.response, s.err
}

func (s *stubAuth) VerifyEmail(context.Context, string) error { return s.err }

func (s *stubAuth) ForgotPassword(context.Context, string) error { return s.err }

func (s *stubAuth) ResetPassword(context.Context, dto.ResetPasswordRequest) error { return s.err }

func (s *stubAuth) ChangePassword(context.Context, uuid.UUID, dto.ChangePasswordRequest) error {
	return s.err
}

func (s *stubAuth) Profile(context.Context, uuid.UUID) (dto.UserResponse, error) {
	return s.profile, s.err
}

func (s *stubAuth) UpdateProfile(context.Context, uuid.UUID, dto.ProfileUpdateRequest) (dto.UserResponse, error) {
	return s.profile, s.err
}

func (s *stubAuth) Deactivate(context.Context, dto.TokenClaims) error { return s.err }

func (s *stubAuth) ValidateToken(_ context.Context, token string) (dto.TokenClaims, error) {
	if token != s.token {
		return dto.TokenClaims{}, service.ErrInvalidToken
	}
	return s.claims, nil
}

func (s *stubAuth) Logout(context.Context, dto.TokenClaims) error {
	s.loggedOut = true
	return s.err
}

type stubQueries struct {
	lastOwner service.Owner
	saved     dto.SavedQueryResponse
	err       error
}

func (s *stubQueries) History(_ context.Context, owner service.Owner, page, pageSize int) (dto.HistoryListResult, error) {
	s.lastOwner = owner
	return dto.HistoryListResult{Items: []dto.HistoryEntry{}, Pagination: dto.NewPaginationMeta(page, pageSize, 0)}, s.err
}

func (s *stubQueries) RecordHistory(_ context.Context, owner service.Owner, _ dto.HistoryRequest) (dto.HistoryEntry, error) {
	s.lastOwner = owner
	return dto.HistoryEntry{}, s.err
}

func (s *stubQueries) ListSaved(_ context.Context, owner service.Owner) ([]dto.SavedQueryResponse, error) {
	s.lastOwner = owner
	return []dto.SavedQueryResponse{s.saved}, s.err
}

func (s *stubQueries) CreateSaved(_ context.Context, owner service.Owner, _ dto.SavedQueryRequest) (dto.SavedQueryResponse, error) {
	s.lastOwner = owner
	return s.saved, s.err
}

func (s *stubQueries) UpdateSaved(_ context.Context, owner service.Owner, _ uint, _ dto.SavedQueryRequest) (dto.SavedQueryResponse, error) {
	s.lastOwner = owner
	return s.saved, s.err
}

func (s *stubQueries) DeleteSaved(_ context.Context, owner service.Owner, _ uint) error {
	s.lastOwner = owner
	return s.err
}

func (s *stubQueries) Popular(context.Context, int) ([]dto.PopularQueryResponse, error) {
	return []dto.PopularQueryResponse{}, s.err
}

type stubLearningPaths struct {
	lastSession string
	err         error
}

func (s *stubLearningPaths) List(context.Context) ([]dto.LearningPathResponse, error) {
	return []dto.LearningPathResponse{}, s.err
}

func (s *stubLearningPaths) Get(_ context.Context, pathID uint, sessionID string) (dto.LearningPathResponse, error) {
	s.lastSession = sessionID
	return dto.LearningPathResponse{ID: pathID}, s.err
}

func (s *stubLearningPaths) Start(_ context.Context, sessionID string, _ *uuid.UUID, pathID uint) (dto.LearningPathProgressResponse, error) {
	s.lastSession = sessionID
	return dto.LearningPathProgressResponse{LearningPathID: pathID, CurrentStep: 1}, s.err
}

func (s *stubLearningPaths) CompleteStep(_ context.Context, sessionID string, pathID, _ uint) (dto.LearningPathProgressResponse, error) {
	s.lastSession = sessionID
	return dto.LearningPathProgressResponse{LearningPathID: pathID}, s.err
}

func (s *stubLearningPaths) Progress(_ context.Context, sessionID string, pathID uint) (dto.LearningPathProgressResponse, error) {
	s.lastSession = sessionID
	return dto.LearningPathProgressResponse{LearningPathID: pathID}, s.err
}

func (s *stubLearningPaths) Next(context.Context, uint, string) (dto.NextProblemResponse, error) {
	return dto.NextProblemResponse{Finished: true}, s.err
}

func (s *stubLearningPaths) PathsForProblem(context.Context, string) ([]dto.LearningPathResponse, error) {
	return []dto.LearningPathResponse{}, s.err
}

type stubSync struct {
	uploaded []byte
	merged   [3]string
	err      error
}

func (s *stubSync) Status(_ context.Context, owner service.Owner) (dto.SyncStatus, error) {
	return dto.SyncStatus{SessionID: owner.SessionID}, s.err
}

func (s *stubSync) Backup(_ context.Context, owner service.Owner) (dto.BackupDocument, error) {
	return dto.BackupDocument{Version: dto.BackupVersion, SessionID: owner.SessionID}, s.err
}

func (s *stubSync) Archive(context.Context, service.Owner) (dto.ArchiveResponse, error) {
	return dto.ArchiveResponse{}, s.err
}

func (s *stubSync) Restore(context.Context, service.Owner, dto.BackupDocument) (dto.RestoreResult, error) {
	return dto.RestoreResult{Progress: 1}, s.err
}

func (s *stubSync) RestoreUpload(_ context.Context, _ service.Owner, reader io.Reader) (dto.RestoreResult, error) {
	payload, err := io.ReadAll(reader)
	if err != nil {
		return dto.RestoreResult{}, err
	}
	s.uploaded = payload
	return dto.RestoreResult{Progress: 2}, s.err
}

func (s *stubSync) MergeSession(_ context.Context, userID uuid.UUID, current, anonymous string) (dto.RestoreResult, error) {
	s.merged = [3]string{userID.String(), current, anonymous}
	return dto.RestoreResult{Progress: 3}, s.err
}

type stubSchema struct {
	lastRequest   dto.AutocompleteRequest
	lastProblemID string
	completions   dto.AutocompleteResponse
	schema        dto.SchemaResponse
	tables        dto.SchemaTablesResponse
	err           error
}

func (s *stubSchema) Autocomplete(_ context.Context, req dto.AutocompleteRequest) (dto.AutocompleteResponse, error) {
	s.lastRequest = req
	return s.completions, s.err
}

func (s *stubSchema) Schema(_ context.Context, problemID string) (dto.SchemaResponse, error) {
	s.lastProblemID = problemID
	return s.schema, s.err
}

func (s *stubSchema) Tables(context.Context) (dto.SchemaTablesResponse, error) {
	return s.tables, s.err
}

type stubPerformance struct {
	lastOwner service.Owner
	system    dto.SystemPerformance
	user      dto.UserPerformance
	err       error
}

func (s *stubPerformance) SystemMetrics(context.Context) (dto.SystemPerformance, error) {
	return s.system, s.err
}

func (s *stubPerformance) UserMetrics(_ context.Context, owner service.Owner) (dto.UserPerformance, error) {
	s.lastOwner = owner
	return s.user, s.err
}
