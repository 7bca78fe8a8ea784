package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/sqlpractice-api/internal/dialect"
	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/errorhint"
	"github.com/noah-isme/sqlpractice-api/internal/grading"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/observability"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
	"github.com/noah-isme/sqlpractice-api/internal/sqlguard"
	"github.com/noah-isme/sqlpractice-api/internal/worker"
	"github.com/noah-isme/sqlpractice-api/pkg/ai"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

const explanationTimeout = 4 * time.Second

// QueryGuard decides whether a query may reach the sandbox.
type QueryGuard interface {
	Validate(query, clientID string) sqlguard.Result
}

// TaskQueue accepts bookkeeping work that must not delay the response.
type TaskQueue interface {
	Enqueue(task worker.Task) error
}

// ExecuteInput is one learner submission.
type ExecuteInput struct {
	Query     string
	Dialect   string
	ProblemID string
	SessionID string
	UserID    *uuid.UUID
	ClientID  string
	IPAddress string
	UserAgent string
}

// ExecutionService runs learner SQL through guard, translation, sandbox and
// grading.
type ExecutionService interface {
	Execute(ctx context.Context, input ExecuteInput) (dto.ExecuteResponse, error)
	// Validate grades input against its problem without recording anything.
	Validate(ctx context.Context, input ExecuteInput) (grading.Verdict, error)
}

// ExecutionDeps groups the collaborators of the execution pipeline.
type ExecutionDeps struct {
	Guard     QueryGuard
	Problems  ProblemService
	Grader    GradingService
	Sandbox   sandbox.Runner
	Progress  ProgressService
	Queries   repository.QueryRepository
	Queue     TaskQueue
	Explainer ai.Explainer
}

type executionService struct {
	deps   ExecutionDeps
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewExecutionService constructs the pipeline. Explainer may be nil.
func NewExecutionService(deps ExecutionDeps, logger zerolog.Logger) ExecutionService {
	return &executionService{
		deps:   deps,
		tracer: otel.Tracer("github.com/noah-isme/sqlpractice-api/internal/service/execution"),
		logger: logger.With().Str("component", "execution_service").Logger(),
	}
}

type executionRecord struct {
	input     ExecuteInput
	dialect   dialect.Dialect
	problem   *models.Problem
	result    sandbox.Result
	verdict   *grading.Verdict
	execErr   *sandbox.ExecutionError
	elapsedMs int64
}

// Execute validates before anything else: a rejected query never reaches the
// sandbox. Bookkeeping is queued once the response is assembled.
func (s *executionService) Execute(parent context.Context, input ExecuteInput) (dto.ExecuteResponse, error) {
	ctx, span := s.tracer.Start(parent, "sql.execute", trace.WithAttributes(
		attribute.String("sql.dialect", input.Dialect),
		attribute.String("sql.problem_id", input.ProblemID),
	))
	defer span.End()

	d, err := dialect.Parse(input.Dialect)
	if err != nil {
		return dto.ExecuteResponse{}, ErrUnsupportedDialect
	}

	guardResult := s.deps.Guard.Validate(input.Query, input.ClientID)
	if !guardResult.IsValid {
		observability.Submissions().WithLabelValues(d.String(), "rejected").Inc()
		span.SetStatus(codes.Error, "query rejected")
		return dto.ExecuteResponse{}, &QueryRejectedError{Result: guardResult}
	}

	translated := dialect.Translate(input.Query, d)
	record := executionRecord{input: input, dialect: d}

	if strings.TrimSpace(input.ProblemID) != "" {
		problem, err := s.deps.Problems.Resolve(ctx, input.ProblemID)
		if err != nil {
			return dto.ExecuteResponse{}, err
		}
		record.problem = &problem

		schema, err := s.deps.Problems.Schema(ctx, problem.ID, d)
		if err != nil {
			return dto.ExecuteResponse{}, err
		}

		result, verdict, err := s.deps.Grader.Grade(ctx, schema, translated)
		if err != nil {
			return dto.ExecuteResponse{}, s.fail(ctx, span, record, err)
		}
		record.result = result
		record.verdict = &verdict
	} else {
		result, err := s.deps.Sandbox.Execute(ctx, translated)
		if err != nil {
			return dto.ExecuteResponse{}, s.fail(ctx, span, record, err)
		}
		record.result = result
	}

	record.elapsedMs = record.result.ElapsedMs
	response := dto.ExecuteResponse{
		Success:       true,
		Columns:       record.result.Columns,
		Rows:          record.result.Rows,
		RowCount:      record.result.RowCount,
		ExecutionTime: formatElapsed(record.result.ElapsedMs),
		Dialect:       d.String(),
		Truncated:     record.result.Truncated,
		Validation:    record.verdict,
	}
	if response.Columns == nil {
		response.Columns = []string{}
	}
	if response.Rows == nil {
		response.Rows = [][]any{}
	}

	outcome := "executed"
	if record.verdict != nil {
		outcome = "incorrect"
		if record.verdict.IsCorrect {
			outcome = "correct"
		}
	}
	observability.Submissions().WithLabelValues(d.String(), outcome).Inc()
	span.SetAttributes(attribute.Int("sql.row_count", response.RowCount))

	s.enqueueBookkeeping(record)
	return response, nil
}

func (s *executionService) Validate(parent context.Context, input ExecuteInput) (grading.Verdict, error) {
	ctx, span := s.tracer.Start(parent, "sql.validate", trace.WithAttributes(
		attribute.String("sql.dialect", input.Dialect),
		attribute.String("sql.problem_id", input.ProblemID),
	))
	defer span.End()

	d, err := dialect.Parse(input.Dialect)
	if err != nil {
		return grading.Verdict{}, ErrUnsupportedDialect
	}

	guardResult := s.deps.Guard.Validate(input.Query, input.ClientID)
	if !guardResult.IsValid {
		span.SetStatus(codes.Error, "query rejected")
		return grading.Verdict{}, &QueryRejectedError{Result: guardResult}
	}

	verdict, err := s.deps.Grader.ValidateSolution(ctx, input.Query, input.ProblemID, d.String())
	if err != nil {
		span.RecordError(err)
		var execErr *sandbox.ExecutionError
		if errors.As(err, &execErr) {
			return grading.Verdict{}, s.enrich(ctx, executionRecord{input: input, dialect: d}, execErr)
		}
		return grading.Verdict{}, err
	}
	return verdict, nil
}

// fail turns engine errors into an enriched learner-facing failure and passes
// infrastructure errors through.
func (s *executionService) fail(ctx context.Context, span trace.Span, record executionRecord, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var execErr *sandbox.ExecutionError
	if !errors.As(err, &execErr) {
		observability.Submissions().WithLabelValues(record.dialect.String(), "unavailable").Inc()
		return err
	}
	observability.Submissions().WithLabelValues(record.dialect.String(), "engine_error").Inc()

	record.execErr = execErr
	record.elapsedMs = execErr.ElapsedMs
	s.enqueueBookkeeping(record)

	return s.enrich(ctx, record, execErr)
}

func (s *executionService) enrich(ctx context.Context, record executionRecord, execErr *sandbox.ExecutionError) *ExecutionFailedError {
	analysis := errorhint.Analyze(errorhint.Input{
		Message: execErr.Message,
		Code:    execErr.Code,
		Query:   record.input.Query,
		Tables:  execErr.Schema.Tables,
	})
	if s.deps.Explainer != nil {
		analysis.Explanation = s.explain(ctx, record, execErr)
	}

	message := analysis.EnhancedMessage
	if message == "" {
		message = execErr.Message
	}

	return &ExecutionFailedError{
		Err: execErr,
		Response: dto.ExecuteErrorResponse{
			Success:       false,
			Error:         message,
			OriginalError: execErr.Message,
			ErrorAnalysis: &analysis,
			SchemaContext: execErr.Schema.Tables,
			ExecutionTime: formatElapsed(execErr.ElapsedMs),
			Dialect:       record.dialect.String(),
		},
	}
}

func (s *executionService) explain(parent context.Context, record executionRecord, execErr *sandbox.ExecutionError) string {
	ctx, cancel := context.WithTimeout(parent, explanationTimeout)
	defer cancel()

	input := ai.ExplanationInput{
		Query:        record.input.Query,
		Dialect:      record.dialect.String(),
		ErrorMessage: execErr.Message,
		ErrorCode:    execErr.Code,
		Tables:       execErr.Schema.Tables,
	}
	if record.problem != nil {
		input.ProblemTitle = record.problem.Title
	}

	explanation, err := s.deps.Explainer.Explain(ctx, input)
	if err != nil {
		s.logger.Debug().Err(err).Msg("explanation unavailable")
		return ""
	}
	if explanation.Fix == "" {
		return explanation.Summary
	}
	return explanation.Summary + " " + explanation.Fix
}

func (s *executionService) enqueueBookkeeping(record executionRecord) {
	if s.deps.Queue == nil {
		return
	}
	input := record.input
	sessionID := strings.TrimSpace(input.SessionID)

	errorMessage := ""
	errorCode := ""
	if record.execErr != nil {
		errorMessage = record.execErr.Message
		errorCode = record.execErr.Code
	}
	var problemID *uuid.UUID
	if record.problem != nil {
		problemID = uuidPtr(record.problem.ID)
	}

	tasks := []worker.Task{{
		Name: "metric.record",
		Run: func(ctx context.Context) error {
			return s.deps.Queries.RecordMetric(ctx, &models.PerformanceMetric{
				SessionID:       sessionID,
				UserID:          input.UserID,
				ProblemID:       problemID,
				Dialect:         record.dialect.String(),
				ExecutionTimeMs: record.elapsedMs,
				RowCount:        record.result.RowCount,
				Success:         record.execErr == nil,
				ErrorCode:       errorCode,
			})
		},
	}}

	if sessionID != "" {
		tasks = append(tasks,
			worker.Task{
				Name: "session.touch",
				Run: func(ctx context.Context) error {
					_, err := s.deps.Progress.InitializeSession(ctx, SessionInput{
						SessionID: sessionID,
						UserID:    input.UserID,
						IPAddress: input.IPAddress,
						UserAgent: input.UserAgent,
					})
					return err
				},
			},
			worker.Task{
				Name: "history.record",
				Run: func(ctx context.Context) error {
					return s.deps.Queries.RecordHistory(ctx, &models.QueryHistory{
						SessionID:       sessionID,
						UserID:          input.UserID,
						ProblemID:       problemID,
						Query:           input.Query,
						Dialect:         record.dialect.String(),
						Success:         record.execErr == nil,
						ExecutionTimeMs: record.elapsedMs,
						RowCount:        record.result.RowCount,
						ErrorMessage:    stringPtr(errorMessage),
					})
				},
			},
		)

		if record.problem != nil {
			isCorrect := record.verdict != nil && record.verdict.IsCorrect
			tasks = append(tasks, worker.Task{
				Name: "attempt.record",
				Run: func(ctx context.Context) error {
					_, err := s.deps.Progress.RecordAttempt(ctx, AttemptInput{
						SessionID:       sessionID,
						UserID:          input.UserID,
						ProblemID:       record.problem.ID,
						Query:           input.Query,
						Dialect:         record.dialect.String(),
						IsCorrect:       isCorrect,
						ExecutionTimeMs: record.elapsedMs,
						ErrorMessage:    errorMessage,
					})
					return err
				},
			})
		}
	}

	for _, task := range tasks {
		if err := s.deps.Queue.Enqueue(task); err != nil {
			s.logger.Warn().Err(err).Str("task", task.Name).Msg("bookkeeping task not queued")
		}
	}
}
