package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/dialect"
	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
)

// Owner identifies whose history or saved queries are addressed. A user id
// takes precedence over the session.
type Owner struct {
	SessionID string
	UserID    *uuid.UUID
}

func (o Owner) repo() repository.QueryOwner {
	return repository.QueryOwner{SessionID: o.SessionID, UserID: o.UserID}
}

func (o Owner) valid() bool {
	return o.UserID != nil || strings.TrimSpace(o.SessionID) != ""
}

// QueryService manages execution history and saved queries.
type QueryService interface {
	History(ctx context.Context, owner Owner, page, pageSize int) (dto.HistoryListResult, error)
	RecordHistory(ctx context.Context, owner Owner, req dto.HistoryRequest) (dto.HistoryEntry, error)
	ListSaved(ctx context.Context, owner Owner) ([]dto.SavedQueryResponse, error)
	CreateSaved(ctx context.Context, owner Owner, req dto.SavedQueryRequest) (dto.SavedQueryResponse, error)
	UpdateSaved(ctx context.Context, owner Owner, id uint, req dto.SavedQueryRequest) (dto.SavedQueryResponse, error)
	DeleteSaved(ctx context.Context, owner Owner, id uint) error
	Popular(ctx context.Context, limit int) ([]dto.PopularQueryResponse, error)
}

type queryService struct {
	repo      repository.QueryRepository
	problems  ProblemService
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewQueryService constructs the query history service.
func NewQueryService(repo repository.QueryRepository, problems ProblemService, logger zerolog.Logger) QueryService {
	return &queryService{
		repo:      repo,
		problems:  problems,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "query_service").Logger(),
	}
}

func (s *queryService) History(ctx context.Context, owner Owner, page, pageSize int) (dto.HistoryListResult, error) {
	if !owner.valid() {
		return dto.HistoryListResult{}, ErrSessionRequired
	}
	page = normalizePage(page)
	pageSize = clampPageSize(pageSize)

	entries, total, err := s.repo.ListHistory(ctx, owner.repo(), (page-1)*pageSize, pageSize)
	if err != nil {
		return dto.HistoryListResult{}, err
	}

	items := make([]dto.HistoryEntry, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.NewHistoryEntry(entry))
	}
	return dto.HistoryListResult{
		Items:      items,
		Pagination: dto.NewPaginationMeta(page, pageSize, total),
	}, nil
}

func (s *queryService) RecordHistory(ctx context.Context, owner Owner, req dto.HistoryRequest) (dto.HistoryEntry, error) {
	if !owner.valid() {
		return dto.HistoryEntry{}, ErrSessionRequired
	}
	d, err := dialect.Parse(req.Dialect)
	if err != nil {
		return dto.HistoryEntry{}, ErrUnsupportedDialect
	}
	problemID, err := s.resolveProblem(ctx, req.ProblemID)
	if err != nil {
		return dto.HistoryEntry{}, err
	}

	entry := models.QueryHistory{
		SessionID:       owner.SessionID,
		UserID:          owner.UserID,
		ProblemID:       problemID,
		Query:           req.Query,
		Dialect:         d.String(),
		Success:         req.Success,
		ExecutionTimeMs: req.ExecutionTimeMs,
		RowCount:        req.RowCount,
		ErrorMessage:    stringPtr(strings.TrimSpace(req.ErrorMessage)),
	}
	if err := s.repo.RecordHistory(ctx, &entry); err != nil {
		return dto.HistoryEntry{}, err
	}
	return dto.NewHistoryEntry(entry), nil
}

func (s *queryService) ListSaved(ctx context.Context, owner Owner) ([]dto.SavedQueryResponse, error) {
	if !owner.valid() {
		return nil, ErrSessionRequired
	}
	saved, err := s.repo.ListSaved(ctx, owner.repo())
	if err != nil {
		return nil, err
	}
	result := make([]dto.SavedQueryResponse, 0, len(saved))
	for _, item := range saved {
		result = append(result, dto.NewSavedQueryResponse(item))
	}
	return result, nil
}

func (s *queryService) CreateSaved(ctx context.Context, owner Owner, req dto.SavedQueryRequest) (dto.SavedQueryResponse, error) {
	if !owner.valid() {
		return dto.SavedQueryResponse{}, ErrSessionRequired
	}

	saved := models.SavedQuery{SessionID: owner.SessionID, UserID: owner.UserID}
	if err := s.apply(ctx, &saved, req); err != nil {
		return dto.SavedQueryResponse{}, err
	}
	if err := s.ensureUniqueName(ctx, owner, saved.Name, 0); err != nil {
		return dto.SavedQueryResponse{}, err
	}
	if err := s.repo.CreateSaved(ctx, &saved); err != nil {
		return dto.SavedQueryResponse{}, err
	}
	return dto.NewSavedQueryResponse(saved), nil
}

func (s *queryService) UpdateSaved(ctx context.Context, owner Owner, id uint, req dto.SavedQueryRequest) (dto.SavedQueryResponse, error) {
	if !owner.valid() {
		return dto.SavedQueryResponse{}, ErrSessionRequired
	}

	saved, err := s.repo.GetSaved(ctx, owner.repo(), id)
	if err != nil {
		if repository.IsNotFound(err) {
			return dto.SavedQueryResponse{}, ErrSavedQueryNotFound
		}
		return dto.SavedQueryResponse{}, err
	}
	if err := s.apply(ctx, &saved, req); err != nil {
		return dto.SavedQueryResponse{}, err
	}
	if err := s.ensureUniqueName(ctx, owner, saved.Name, saved.ID); err != nil {
		return dto.SavedQueryResponse{}, err
	}
	if err := s.repo.UpdateSaved(ctx, &saved); err != nil {
		return dto.SavedQueryResponse{}, err
	}
	return dto.NewSavedQueryResponse(saved), nil
}

func (s *queryService) DeleteSaved(ctx context.Context, owner Owner, id uint) error {
	if !owner.valid() {
		return ErrSessionRequired
	}
	if err := s.repo.DeleteSaved(ctx, owner.repo(), id); err != nil {
		if repository.IsNotFound(err) {
			return ErrSavedQueryNotFound
		}
		return err
	}
	return nil
}

func (s *queryService) Popular(ctx context.Context, limit int) ([]dto.PopularQueryResponse, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	rows, err := s.repo.Popular(ctx, limit)
	if err != nil {
		return nil, err
	}
	result := make([]dto.PopularQueryResponse, 0, len(rows))
	for _, row := range rows {
		result = append(result, dto.PopularQueryResponse{Query: row.Query, Dialect: row.Dialect, Count: row.Count})
	}
	return result, nil
}

func (s *queryService) apply(ctx context.Context, saved *models.SavedQuery, req dto.SavedQueryRequest) error {
	d, err := dialect.Parse(req.Dialect)
	if err != nil {
		return ErrUnsupportedDialect
	}
	problemID, err := s.resolveProblem(ctx, req.ProblemID)
	if err != nil {
		return err
	}

	saved.Name = strings.TrimSpace(s.sanitizer.Sanitize(req.Name))
	saved.Description = strings.TrimSpace(s.sanitizer.Sanitize(req.Description))
	saved.Query = req.Query
	saved.Dialect = d.String()
	saved.ProblemID = problemID
	saved.IsFavorite = req.IsFavorite
	saved.Tags = strings.Join(sanitizeTags(req.Tags), ",")
	if saved.Name == "" {
		saved.Name = "Untitled query"
	}
	return nil
}

func (s *queryService) ensureUniqueName(ctx context.Context, owner Owner, name string, selfID uint) error {
	existing, err := s.repo.FindSavedByName(ctx, owner.repo(), name)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil
		}
		return err
	}
	if existing.ID != selfID {
		return ErrSavedQueryConflict
	}
	return nil
}

func (s *queryService) resolveProblem(ctx context.Context, identifier string) (*uuid.UUID, error) {
	if strings.TrimSpace(identifier) == "" || s.problems == nil {
		return nil, nil
	}
	problem, err := s.problems.Resolve(ctx, identifier)
	if err != nil {
		return nil, err
	}
	return &problem.ID, nil
}
