package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/internal/errorhint"
	"github.com/noah-isme/sqlpractice-api/internal/grading"
	"github.com/noah-isme/sqlpractice-api/internal/middleware"
	"github.com/noah-isme/sqlpractice-api/internal/service"
	"github.com/noah-isme/sqlpractice-api/internal/sqlguard"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

func requireContract(t *testing.T, name string, resp *http.Response) {
	t.Helper()

	schemaPath, err := filepath.Abs(filepath.Join("testdata", name+".schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	schema, err := compiler.Compile("file://" + filepath.ToSlash(schemaPath))
	require.NoError(t, err)

	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload), string(body))
}

func TestExecuteContract(t *testing.T) {
	execution := &stubExecution{response: dto.ExecuteResponse{
		Success:       true,
		Columns:       []string{"name", "city"},
		Rows:          [][]any{{"Ada", "London"}, {"Alan", nil}},
		RowCount:      2,
		ExecutionTime: "4ms",
		Dialect:       "postgresql",
		Validation:    &grading.Verdict{IsCorrect: true, Message: "Correct!"},
	}}
	app := newSQLApp(execution, &stubProblems{})

	resp, err := app.Test(postJSON("/api/v1/sql/execute", `{"query":"SELECT name, city FROM customers","problemId":"1"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	requireContract(t, "execute_response", resp)
}

func TestExecuteErrorContracts(t *testing.T) {
	failures := map[string]error{
		"rejected": &service.QueryRejectedError{Result: sqlguard.Result{
			RiskLevel:  sqlguard.RiskHigh,
			Violations: []sqlguard.Violation{{Code: sqlguard.CodeBlockedKeyword, Message: "DELETE statements are not allowed", Blocking: true}},
		}},
		"engine": &service.ExecutionFailedError{
			Err: &sandbox.ExecutionError{Message: `relation "customer" does not exist`, Code: "42P01"},
			Response: dto.ExecuteErrorResponse{
				Error:         `Table "customer" does not exist.`,
				OriginalError: `relation "customer" does not exist`,
				ErrorAnalysis: &errorhint.Analysis{Type: "undefined_table", Severity: "error"},
				SchemaContext: map[string][]string{"customers": {"customer_id", "name"}},
				Dialect:       "postgresql",
			},
		},
	}

	for name, failure := range failures {
		t.Run(name, func(t *testing.T) {
			app := newSQLApp(&stubExecution{err: failure}, &stubProblems{})
			resp, err := app.Test(postJSON("/api/v1/sql/execute", `{"query":"SELECT 1"}`))
			require.NoError(t, err)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			requireContract(t, "execute_error", resp)
		})
	}
}

func TestProblemListContract(t *testing.T) {
	problems := &stubProblems{list: dto.ProblemListResult{
		Items: []dto.ProblemSummary{{
			ID:             uuid.New(),
			NumericID:      1,
			Title:          "Acme London Customers",
			Slug:           "acme-london-customers",
			Difficulty:     "easy",
			Company:        "Acme",
			Tags:           []string{"where"},
			AcceptanceRate: 62.5,
		}},
		Pagination: dto.NewPaginationMeta(1, 20, 1),
	}}
	app := newSQLApp(&stubExecution{}, problems)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/sql/problems?difficulty=easy", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	requireContract(t, "problem_list", resp)
}

func TestProgressOverviewContract(t *testing.T) {
	progress := &stubProgress{overview: dto.ProgressOverview{
		TotalAttempts:     4,
		CorrectAttempts:   3,
		SuccessRate:       75,
		CompletedProblems: 2,
		CurrentStreak:     1,
		LongestStreak:     3,
		RecentAchievements: []dto.AchievementResponse{
			{Key: "first_solve", Type: "milestone", Name: "First Solve", UnlockedAt: time.Now().UTC()},
		},
	}}
	app := newProgressApp(progress, &stubProblems{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/progress/overview", nil)
	req.Header.Set(middleware.HeaderSessionID, "session_contract")
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	requireContract(t, "progress_overview", resp)
}
