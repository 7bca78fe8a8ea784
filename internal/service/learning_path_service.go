package service

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
)

// LearningPathService sequences problems into guided paths.
type LearningPathService interface {
	List(ctx context.Context) ([]dto.LearningPathResponse, error)
	Get(ctx context.Context, pathID uint, sessionID string) (dto.LearningPathResponse, error)
	Start(ctx context.Context, sessionID string, userID *uuid.UUID, pathID uint) (dto.LearningPathProgressResponse, error)
	CompleteStep(ctx context.Context, sessionID string, pathID, stepID uint) (dto.LearningPathProgressResponse, error)
	Progress(ctx context.Context, sessionID string, pathID uint) (dto.LearningPathProgressResponse, error)
	Next(ctx context.Context, pathID uint, problemIdentifier string) (dto.NextProblemResponse, error)
	PathsForProblem(ctx context.Context, problemIdentifier string) ([]dto.LearningPathResponse, error)
}

type learningPathService struct {
	repo     repository.LearningPathRepository
	problems ProblemService
	logger   zerolog.Logger
}

// NewLearningPathService constructs the learning path service.
func NewLearningPathService(repo repository.LearningPathRepository, problems ProblemService, logger zerolog.Logger) LearningPathService {
	return &learningPathService{
		repo:     repo,
		problems: problems,
		logger:   logger.With().Str("component", "learning_path_service").Logger(),
	}
}

func (s *learningPathService) List(ctx context.Context) ([]dto.LearningPathResponse, error) {
	paths, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]dto.LearningPathResponse, 0, len(paths))
	for _, path := range paths {
		result = append(result, dto.NewLearningPathResponse(path, false, nil))
	}
	return result, nil
}

func (s *learningPathService) Get(ctx context.Context, pathID uint, sessionID string) (dto.LearningPathResponse, error) {
	path, err := s.path(ctx, pathID)
	if err != nil {
		return dto.LearningPathResponse{}, err
	}

	completed := map[uint]bool{}
	if strings.TrimSpace(sessionID) != "" {
		ids, err := s.repo.CompletedSteps(ctx, sessionID, pathID)
		if err != nil {
			return dto.LearningPathResponse{}, err
		}
		for _, id := range ids {
			completed[id] = true
		}
	}
	return dto.NewLearningPathResponse(path, true, completed), nil
}

func (s *learningPathService) Start(ctx context.Context, sessionID string, userID *uuid.UUID, pathID uint) (dto.LearningPathProgressResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		return dto.LearningPathProgressResponse{}, ErrSessionRequired
	}
	path, err := s.path(ctx, pathID)
	if err != nil {
		return dto.LearningPathProgressResponse{}, err
	}

	progress := models.LearningPathProgress{
		SessionID:      sessionID,
		LearningPathID: path.ID,
		UserID:         userID,
		CurrentStep:    1,
		StartedAt:      time.Now().UTC(),
	}
	if err := s.repo.StartPath(ctx, &progress); err != nil {
		return dto.LearningPathProgressResponse{}, err
	}
	return s.progressView(ctx, sessionID, path, &progress)
}

func (s *learningPathService) CompleteStep(ctx context.Context, sessionID string, pathID, stepID uint) (dto.LearningPathProgressResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		return dto.LearningPathProgressResponse{}, ErrSessionRequired
	}
	path, err := s.path(ctx, pathID)
	if err != nil {
		return dto.LearningPathProgressResponse{}, err
	}
	step, err := s.repo.GetStep(ctx, pathID, stepID)
	if err != nil {
		if repository.IsNotFound(err) {
			return dto.LearningPathProgressResponse{}, ErrStepNotFound
		}
		return dto.LearningPathProgressResponse{}, err
	}

	progress, err := s.repo.CompleteStep(ctx, sessionID, step, len(path.Steps), time.Now().UTC())
	if err != nil {
		return dto.LearningPathProgressResponse{}, err
	}
	if progress.CompletedAt != nil {
		s.logger.Info().Str("session_id", sessionID).Str("path", path.Slug).Msg("learning path completed")
	}
	return s.progressView(ctx, sessionID, path, &progress)
}

func (s *learningPathService) Progress(ctx context.Context, sessionID string, pathID uint) (dto.LearningPathProgressResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		return dto.LearningPathProgressResponse{}, ErrSessionRequired
	}
	path, err := s.path(ctx, pathID)
	if err != nil {
		return dto.LearningPathProgressResponse{}, err
	}

	progress, err := s.repo.GetProgress(ctx, sessionID, pathID)
	if err != nil {
		if repository.IsNotFound(err) {
			return s.progressView(ctx, sessionID, path, nil)
		}
		return dto.LearningPathProgressResponse{}, err
	}
	return s.progressView(ctx, sessionID, path, &progress)
}

// Next returns the step after the one holding the given problem.
func (s *learningPathService) Next(ctx context.Context, pathID uint, problemIdentifier string) (dto.NextProblemResponse, error) {
	path, err := s.path(ctx, pathID)
	if err != nil {
		return dto.NextProblemResponse{}, err
	}
	problem, err := s.problems.Resolve(ctx, problemIdentifier)
	if err != nil {
		return dto.NextProblemResponse{}, err
	}

	for i, step := range path.Steps {
		if step.ProblemID != problem.ID {
			continue
		}
		if i+1 >= len(path.Steps) {
			return dto.NextProblemResponse{Finished: true}, nil
		}
		next := dto.NewLearningPathStepResponse(path.Steps[i+1], false)
		return dto.NextProblemResponse{Step: &next}, nil
	}
	return dto.NextProblemResponse{}, ErrStepNotFound
}

func (s *learningPathService) PathsForProblem(ctx context.Context, problemIdentifier string) ([]dto.LearningPathResponse, error) {
	problem, err := s.problems.Resolve(ctx, problemIdentifier)
	if err != nil {
		return nil, err
	}
	paths, err := s.repo.PathsForProblem(ctx, problem.ID)
	if err != nil {
		return nil, err
	}
	result := make([]dto.LearningPathResponse, 0, len(paths))
	for _, path := range paths {
		result = append(result, dto.NewLearningPathResponse(path, false, nil))
	}
	return result, nil
}

func (s *learningPathService) path(ctx context.Context, pathID uint) (models.LearningPath, error) {
	path, err := s.repo.GetByID(ctx, pathID)
	if err != nil {
		if repository.IsNotFound(err) {
			return models.LearningPath{}, ErrLearningPathNotFound
		}
		return models.LearningPath{}, err
	}
	return path, nil
}

func (s *learningPathService) progressView(ctx context.Context, sessionID string, path models.LearningPath, progress *models.LearningPathProgress) (dto.LearningPathProgressResponse, error) {
	completed, err := s.repo.CompletedSteps(ctx, sessionID, path.ID)
	if err != nil {
		return dto.LearningPathProgressResponse{}, err
	}
	if completed == nil {
		completed = []uint{}
	}

	view := dto.LearningPathProgressResponse{
		LearningPathID: path.ID,
		CurrentStep:    1,
		CompletedSteps: completed,
		TotalSteps:     len(path.Steps),
	}
	if len(path.Steps) > 0 {
		view.Percent = math.Round(float64(len(completed))/float64(len(path.Steps))*1000) / 10
	}
	if progress != nil {
		started := progress.StartedAt
		view.CurrentStep = progress.CurrentStep
		view.StartedAt = &started
		view.CompletedAt = progress.CompletedAt
	}
	return view, nil
}
