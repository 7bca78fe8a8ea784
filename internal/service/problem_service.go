package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/dialect"
	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/observability"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

// ProblemService exposes the problem catalog.
type ProblemService interface {
	Resolve(ctx context.Context, identifier string) (models.Problem, error)
	List(ctx context.Context, req dto.ProblemListRequest) (dto.ProblemListResult, error)
	Get(ctx context.Context, identifier, dialectName string) (dto.ProblemDetail, error)
	Companies(ctx context.Context) ([]dto.CompanyGroup, error)
	Schema(ctx context.Context, problemID uuid.UUID, d dialect.Dialect) (models.ProblemSchema, error)
	Setup(ctx context.Context, identifier, dialectName string) (dto.SetupResponse, error)
}

type problemService struct {
	repo    repository.ProblemRepository
	sandbox sandbox.Runner
	cache   *redis.Client
	ttl     time.Duration
	logger  zerolog.Logger
}

// NewProblemService constructs the catalog service. cache may be nil.
func NewProblemService(repo repository.ProblemRepository, runner sandbox.Runner, cache *redis.Client, ttl time.Duration, logger zerolog.Logger) ProblemService {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &problemService{
		repo:    repo,
		sandbox: runner,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.With().Str("component", "problem_service").Logger(),
	}
}

// Resolve looks a problem up by numeric id when the identifier is all digits
// and by UUID otherwise.
func (s *problemService) Resolve(ctx context.Context, identifier string) (models.Problem, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return models.Problem{}, ErrProblemNotFound
	}

	var (
		problem models.Problem
		err     error
	)
	if isDigits(identifier) {
		numericID, convErr := strconv.Atoi(identifier)
		if convErr != nil {
			return models.Problem{}, ErrProblemNotFound
		}
		problem, err = s.repo.GetByNumericID(ctx, numericID)
	} else {
		id, parseErr := uuid.Parse(identifier)
		if parseErr != nil {
			return models.Problem{}, ErrProblemNotFound
		}
		problem, err = s.repo.GetByID(ctx, id)
	}
	if err != nil {
		if repository.IsNotFound(err) {
			return models.Problem{}, ErrProblemNotFound
		}
		return models.Problem{}, err
	}
	if !problem.IsActive {
		return models.Problem{}, ErrProblemNotFound
	}
	return problem, nil
}

func (s *problemService) List(ctx context.Context, req dto.ProblemListRequest) (dto.ProblemListResult, error) {
	query := repository.ProblemQuery{
		Difficulty: strings.ToLower(strings.TrimSpace(req.Difficulty)),
		Category:   strings.TrimSpace(req.Category),
		Company:    strings.TrimSpace(req.Company),
		Search:     strings.TrimSpace(req.Search),
	}
	page := normalizePage(req.Page)
	pageSize := clampPageSize(req.PageSize)
	query.Offset = (page - 1) * pageSize
	query.Limit = pageSize

	key := s.cacheKey(query)
	if cached, ok := s.fetchCache(ctx, key); ok {
		cached.CacheHit = true
		observability.CatalogCacheRequests().WithLabelValues("hit").Inc()
		return cached, nil
	}

	problems, total, err := s.repo.List(ctx, query)
	if err != nil {
		observability.CatalogCacheRequests().WithLabelValues("error").Inc()
		return dto.ProblemListResult{}, err
	}

	items := make([]dto.ProblemSummary, 0, len(problems))
	for _, problem := range problems {
		items = append(items, dto.NewProblemSummary(problem))
	}

	result := dto.ProblemListResult{
		Items:      items,
		Pagination: dto.NewPaginationMeta(page, pageSize, total),
	}

	s.writeCache(ctx, key, result)
	observability.CatalogCacheRequests().WithLabelValues("miss").Inc()

	return result, nil
}

// Get returns the learner-facing view of a problem. Solution SQL and expected
// output never leave the service.
func (s *problemService) Get(ctx context.Context, identifier, dialectName string) (dto.ProblemDetail, error) {
	d, err := dialect.Parse(dialectName)
	if err != nil {
		return dto.ProblemDetail{}, ErrUnsupportedDialect
	}

	problem, err := s.Resolve(ctx, identifier)
	if err != nil {
		return dto.ProblemDetail{}, err
	}

	detail := dto.ProblemDetail{
		ProblemSummary:    dto.NewProblemSummary(problem),
		Description:       problem.Description,
		Hints:             decodeHints(problem.Hints),
		AvailableDialects: []string{},
	}

	schemas, err := s.repo.ListSchemas(ctx, problem.ID)
	if err != nil {
		return dto.ProblemDetail{}, err
	}
	for _, schema := range schemas {
		detail.AvailableDialects = append(detail.AvailableDialects, schema.Dialect)
	}

	schema, err := s.Schema(ctx, problem.ID, d)
	switch {
	case err == nil:
		detail.Schema = &dto.ProblemSchemaView{Dialect: schema.Dialect, SetupSQL: schema.SetupSQL}
	case errors.Is(err, ErrSchemaNotFound):
	default:
		return dto.ProblemDetail{}, err
	}

	return detail, nil
}

func (s *problemService) Companies(ctx context.Context) ([]dto.CompanyGroup, error) {
	problems, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	groups := map[string]*dto.CompanyGroup{}
	for _, problem := range problems {
		company := problem.Company()
		if company == "" {
			continue
		}
		group, ok := groups[company]
		if !ok {
			group = &dto.CompanyGroup{Company: company}
			groups[company] = group
		}
		group.Problems = append(group.Problems, dto.NewProblemSummary(problem))
		group.Count++
	}

	result := make([]dto.CompanyGroup, 0, len(groups))
	for _, group := range groups {
		result = append(result, *group)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Company < result[j].Company
	})
	return result, nil
}

// Schema returns the schema for the requested dialect, falling back to the
// native dialect. The returned schema's Dialect names the dialect its SQL is
// written in.
func (s *problemService) Schema(ctx context.Context, problemID uuid.UUID, d dialect.Dialect) (models.ProblemSchema, error) {
	candidates := []dialect.Dialect{d}
	if d != dialect.Native {
		candidates = append(candidates, dialect.Native)
	}

	for _, candidate := range candidates {
		schema, err := s.repo.GetSchema(ctx, problemID, candidate.String())
		if err == nil {
			return schema, nil
		}
		if !repository.IsNotFound(err) {
			return models.ProblemSchema{}, err
		}
	}
	return models.ProblemSchema{}, ErrSchemaNotFound
}

// Setup materialises the problem's tables in the shared sandbox.
func (s *problemService) Setup(ctx context.Context, identifier, dialectName string) (dto.SetupResponse, error) {
	d, err := dialect.Parse(dialectName)
	if err != nil {
		return dto.SetupResponse{}, ErrUnsupportedDialect
	}

	problem, err := s.Resolve(ctx, identifier)
	if err != nil {
		return dto.SetupResponse{}, err
	}

	schema, err := s.Schema(ctx, problem.ID, d)
	if err != nil {
		return dto.SetupResponse{}, err
	}

	statements := setupStatements(schema)
	if err := s.sandbox.Materialize(ctx, statements); err != nil {
		return dto.SetupResponse{}, err
	}

	s.logger.Info().
		Int("problem", problem.NumericID).
		Str("dialect", schema.Dialect).
		Int("statements", len(statements)).
		Msg("problem environment materialised")

	return dto.SetupResponse{
		ProblemID:  problem.ID,
		Dialect:    schema.Dialect,
		Statements: len(statements),
		Tables:     sandbox.CreatedTables(statements),
	}, nil
}

func (s *problemService) fetchCache(ctx context.Context, key string) (dto.ProblemListResult, bool) {
	if s.cache == nil {
		return dto.ProblemListResult{}, false
	}
	payload, err := s.cache.Get(ctx, key).Result()
	if err != nil {
		return dto.ProblemListResult{}, false
	}

	var result dto.ProblemListResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		s.logger.Warn().Err(err).Msg("failed to decode problem cache")
		return dto.ProblemListResult{}, false
	}
	return result, true
}

func (s *problemService) writeCache(ctx context.Context, key string, result dto.ProblemListResult) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode problem cache")
		return
	}
	if err := s.cache.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to store problem cache")
	}
}

func (s *problemService) cacheKey(query repository.ProblemQuery) string {
	return strings.Join([]string{
		"problems:v1",
		query.Difficulty,
		strings.ToLower(query.Category),
		strings.ToLower(query.Company),
		strings.ToLower(query.Search),
		strconv.Itoa(query.Offset),
		strconv.Itoa(query.Limit),
	}, ":")
}

// setupStatements splits the stored setup script and rewrites it for the
// engine.
func setupStatements(schema models.ProblemSchema) []string {
	source, err := dialect.Parse(schema.Dialect)
	if err != nil {
		source = dialect.Native
	}
	return dialect.TranslateScript(schema.SetupSQL, source)
}

func decodeHints(raw []byte) []string {
	hints := []string{}
	if len(raw) == 0 {
		return hints
	}
	if err := json.Unmarshal(raw, &hints); err != nil {
		return []string{}
	}
	return hints
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return value != ""
}
