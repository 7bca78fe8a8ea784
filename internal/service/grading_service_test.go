package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/noah-isme/sqlpractice-api/internal/grading"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/repository"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

func newTestGrader(t *testing.T) (GradingService, *sandbox.Executor, ProblemService) {
	t.Helper()
	db := newTestDB(t)
	seedCustomersProblem(t, db, 1)
	runner := newTestSandbox(t)
	problems := NewProblemService(repository.NewProblemRepository(db), runner, nil, 0, zerolog.Nop())
	return NewGradingService(problems, runner, zerolog.Nop()), runner, problems
}

func TestValidateSolutionAcceptsEquivalentQuery(t *testing.T) {
	grader, _, _ := newTestGrader(t)

	verdict, err := grader.ValidateSolution(context.Background(), "SELECT c.name FROM customers c WHERE c.city IN ('London')", "1", "")
	require.NoError(t, err)
	require.True(t, verdict.IsCorrect, verdict.Message)
}

func TestValidateSolutionIsDeterministic(t *testing.T) {
	grader, _, _ := newTestGrader(t)
	ctx := context.Background()

	first, err := grader.ValidateSolution(ctx, "SELECT name FROM customers", "1", "postgresql")
	require.NoError(t, err)
	second, err := grader.ValidateSolution(ctx, "SELECT name FROM customers", "1", "postgresql")
	require.NoError(t, err)

	require.False(t, first.IsCorrect)
	require.Equal(t, first, second)
}

func TestValidateSolutionRejectsExtraColumns(t *testing.T) {
	grader, _, _ := newTestGrader(t)

	verdict, err := grader.ValidateSolution(context.Background(), "SELECT name, city FROM customers WHERE city = 'London'", "1", "")
	require.NoError(t, err)
	require.False(t, verdict.IsCorrect)
}

func TestValidateSolutionTranslatesMySQL(t *testing.T) {
	grader, _, _ := newTestGrader(t)

	verdict, err := grader.ValidateSolution(context.Background(), "SELECT `name` FROM `customers` WHERE city = \"London\"", "1", "mysql")
	require.NoError(t, err)
	require.True(t, verdict.IsCorrect, verdict.Message)
}

func TestValidateSolutionReturnsEngineErrors(t *testing.T) {
	grader, _, _ := newTestGrader(t)

	_, err := grader.ValidateSolution(context.Background(), "SELECT email FROM customers", "1", "")
	var execErr *sandbox.ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Contains(t, execErr.Schema.Tables, "customers")
}

func TestValidateSolutionUnknownProblem(t *testing.T) {
	grader, _, _ := newTestGrader(t)

	_, err := grader.ValidateSolution(context.Background(), "SELECT 1", "404", "")
	require.ErrorIs(t, err, ErrProblemNotFound)

	_, err = grader.ValidateSolution(context.Background(), "SELECT 1", "1", "oracle")
	require.ErrorIs(t, err, ErrUnsupportedDialect)
}

func TestGradeMalformedExpectedOutputIsInfrastructureError(t *testing.T) {
	grader, _, problems := newTestGrader(t)
	ctx := context.Background()

	problem, err := problems.Resolve(ctx, "1")
	require.NoError(t, err)
	schema, err := problems.Schema(ctx, problem.ID, "postgresql")
	require.NoError(t, err)

	schema.ExpectedOutput = datatypes.JSON(`{"rows": 1}`)
	_, _, err = grader.Grade(ctx, schema, customersSolutionSQL)
	require.ErrorIs(t, err, grading.ErrMalformedExpectedOutput)
}

func TestDeriveMatchesStoredExpectation(t *testing.T) {
	grader, _, problems := newTestGrader(t)
	ctx := context.Background()

	problem, err := problems.Resolve(ctx, "1")
	require.NoError(t, err)
	schema, err := problems.Schema(ctx, problem.ID, "postgresql")
	require.NoError(t, err)

	derived, err := grader.Derive(ctx, schema)
	require.NoError(t, err)
	require.JSONEq(t, `[["Ada"]]`, string(derived))
}

func cappedGrader(t *testing.T, maxRows int) GradingService {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	runner := sandbox.NewExecutor(db, sandbox.Config{
		Flavor:        sandbox.FlavorSQLite,
		MaxConcurrent: 1,
		MaxRows:       maxRows,
		Logger:        zerolog.Nop(),
	})
	return NewGradingService(nil, runner, zerolog.Nop())
}

var threeValuesSchema = models.ProblemSchema{
	Dialect:        "postgresql",
	SetupSQL:       "CREATE TABLE t (v INTEGER); INSERT INTO t (v) VALUES (1), (2), (3);",
	SolutionSQL:    "SELECT v FROM t WHERE v < 3",
	ExpectedOutput: datatypes.JSON(`[[1],[2]]`),
}

func TestGradeRejectsResultCutAtRowLimit(t *testing.T) {
	grader := cappedGrader(t, 2)
	ctx := context.Background()

	result, verdict, err := grader.Grade(ctx, threeValuesSchema, "SELECT v FROM t")
	require.NoError(t, err)
	require.True(t, result.Truncated)
	require.False(t, verdict.IsCorrect)
	require.Contains(t, verdict.Message, "more than 2")

	_, verdict, err = grader.Grade(ctx, threeValuesSchema, threeValuesSchema.SolutionSQL)
	require.NoError(t, err)
	require.True(t, verdict.IsCorrect, verdict.Message)
}

func TestDeriveRefusesSolutionCutAtRowLimit(t *testing.T) {
	grader := cappedGrader(t, 2)

	schema := threeValuesSchema
	schema.SolutionSQL = "SELECT v FROM t"
	_, err := grader.Derive(context.Background(), schema)
	require.ErrorIs(t, err, ErrSolutionTruncated)
}

func TestGradeWithoutExpectedOutputIsNotFound(t *testing.T) {
	grader := cappedGrader(t, 10)

	for _, raw := range []string{"", "  ", "null"} {
		schema := threeValuesSchema
		schema.ExpectedOutput = datatypes.JSON(raw)
		_, _, err := grader.Grade(context.Background(), schema, "SELECT v FROM t")
		require.ErrorIs(t, err, ErrSchemaNotFound, "%q", raw)
	}
}
