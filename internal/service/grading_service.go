package service

import (
	"bytes"
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/dialect"
	"github.com/noah-isme/sqlpractice-api/internal/grading"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

// GradingService judges submissions against stored expected output.
type GradingService interface {
	ValidateSolution(ctx context.Context, query, problemID, dialectName string) (grading.Verdict, error)
	Grade(ctx context.Context, schema models.ProblemSchema, query string) (sandbox.Result, grading.Verdict, error)
	Derive(ctx context.Context, schema models.ProblemSchema) ([]byte, error)
}

type gradingService struct {
	problems ProblemService
	sandbox  sandbox.Runner
	logger   zerolog.Logger
}

// NewGradingService constructs the grading service.
func NewGradingService(problems ProblemService, runner sandbox.Runner, logger zerolog.Logger) GradingService {
	return &gradingService{
		problems: problems,
		sandbox:  runner,
		logger:   logger.With().Str("component", "grading_service").Logger(),
	}
}

// ValidateSolution grades query without recording anything. A wrong answer is
// a verdict, not an error.
func (s *gradingService) ValidateSolution(ctx context.Context, query, problemID, dialectName string) (grading.Verdict, error) {
	d, err := dialect.Parse(dialectName)
	if err != nil {
		return grading.Verdict{}, ErrUnsupportedDialect
	}

	problem, err := s.problems.Resolve(ctx, problemID)
	if err != nil {
		return grading.Verdict{}, err
	}

	schema, err := s.problems.Schema(ctx, problem.ID, d)
	if err != nil {
		return grading.Verdict{}, err
	}

	_, verdict, err := s.Grade(ctx, schema, dialect.Translate(query, d))
	return verdict, err
}

// Grade runs query inside the schema's environment and compares the rows to
// the expected output. Engine errors are returned as *sandbox.ExecutionError.
func (s *gradingService) Grade(ctx context.Context, schema models.ProblemSchema, query string) (sandbox.Result, grading.Verdict, error) {
	if !hasExpectedOutput(schema.ExpectedOutput) {
		return sandbox.Result{}, grading.Verdict{}, ErrSchemaNotFound
	}
	expected, err := grading.ParseExpected(schema.ExpectedOutput)
	if err != nil {
		s.logger.Error().Err(err).Str("problem_id", schema.ProblemID.String()).Str("dialect", schema.Dialect).Msg("stored expected output is malformed")
		return sandbox.Result{}, grading.Verdict{}, err
	}

	result, err := s.sandbox.ExecuteInEnvironment(ctx, setupStatements(schema), query)
	if err != nil {
		return sandbox.Result{}, grading.Verdict{}, err
	}

	// A capped result set can never prove a match.
	if result.Truncated {
		return result, grading.Verdict{
			Message: fmt.Sprintf("Expected %d rows, but your query returned more than %d.", len(expected.Rows), len(result.Rows)),
		}, nil
	}

	verdict := grading.Compare(result.Columns, result.Rows, expected, grading.Options{
		SubmittedQuery: query,
		SolutionQuery:  schema.SolutionSQL,
	})
	return result, verdict, nil
}

// Derive computes the expected output document by running the reference
// solution.
func (s *gradingService) Derive(ctx context.Context, schema models.ProblemSchema) ([]byte, error) {
	source, err := dialect.Parse(schema.Dialect)
	if err != nil {
		return nil, ErrUnsupportedDialect
	}

	result, err := s.sandbox.ExecuteInEnvironment(ctx, setupStatements(schema), dialect.Translate(schema.SolutionSQL, source))
	if err != nil {
		return nil, err
	}
	if result.Truncated {
		return nil, fmt.Errorf("%w: stopped at %d rows", ErrSolutionTruncated, len(result.Rows))
	}
	return grading.Encode(result.Rows)
}

// hasExpectedOutput treats an empty or null document as never having been
// recorded.
func hasExpectedOutput(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
