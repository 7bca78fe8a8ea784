package dto

import (
	"github.com/google/uuid"

	"github.com/noah-isme/sqlpractice-api/internal/errorhint"
	"github.com/noah-isme/sqlpractice-api/internal/grading"
	"github.com/noah-isme/sqlpractice-api/internal/models"
	"github.com/noah-isme/sqlpractice-api/internal/sqlguard"
)

// ExecuteRequest is the payload of POST /sql/execute.
type ExecuteRequest struct {
	Query     string `json:"query" validate:"required"`
	Dialect   string `json:"dialect" validate:"omitempty,oneof=postgresql postgres pg mysql mariadb"`
	ProblemID string `json:"problemId" validate:"omitempty,max=64"`
}

// ExecuteResponse is returned when the query ran. Validation is present only
// when the request named a problem.
type ExecuteResponse struct {
	Success       bool             `json:"success"`
	Columns       []string         `json:"columns"`
	Rows          [][]any          `json:"rows"`
	RowCount      int              `json:"rowCount"`
	ExecutionTime string           `json:"executionTime"`
	Dialect       string           `json:"dialect"`
	Truncated     bool             `json:"truncated,omitempty"`
	Validation    *grading.Verdict `json:"validation,omitempty"`
}

// ExecuteErrorResponse is returned when the query was rejected or failed.
type ExecuteErrorResponse struct {
	Success       bool                 `json:"success"`
	Error         string               `json:"error"`
	OriginalError string               `json:"originalError,omitempty"`
	ErrorAnalysis *errorhint.Analysis  `json:"errorAnalysis,omitempty"`
	SchemaContext map[string][]string  `json:"schemaContext,omitempty"`
	RiskLevel     string               `json:"riskLevel,omitempty"`
	Violations    []sqlguard.Violation `json:"violations,omitempty"`
	ExecutionTime string               `json:"executionTime,omitempty"`
	Dialect       string               `json:"dialect,omitempty"`
}

// ValidateRequest is the payload of POST /sql/validate.
type ValidateRequest struct {
	Query     string `json:"query" validate:"required"`
	Dialect   string `json:"dialect" validate:"omitempty,oneof=postgresql postgres pg mysql mariadb"`
	ProblemID string `json:"problemId" validate:"required,max=64"`
}

// ProblemListRequest holds the catalog filters.
type ProblemListRequest struct {
	Difficulty string
	Category   string
	Company    string
	Search     string
	Page       int
	PageSize   int
}

// ProblemSummary is a catalog entry.
type ProblemSummary struct {
	ID               uuid.UUID `json:"id"`
	NumericID        int       `json:"numericId"`
	Title            string    `json:"title"`
	Slug             string    `json:"slug"`
	Difficulty       string    `json:"difficulty"`
	Category         string    `json:"category,omitempty"`
	Company          string    `json:"company"`
	Tags             []string  `json:"tags"`
	TotalSubmissions int64     `json:"totalSubmissions"`
	AcceptanceRate   float64   `json:"acceptanceRate"`
}

// ProblemListResult is a page of the catalog.
type ProblemListResult struct {
	Items      []ProblemSummary `json:"items"`
	Pagination PaginationMeta   `json:"pagination"`
	CacheHit   bool             `json:"cacheHit"`
}

// ProblemSchemaView exposes only the setup SQL of a schema.
type ProblemSchemaView struct {
	Dialect  string `json:"dialect"`
	SetupSQL string `json:"setupSql"`
}

// ProblemDetail is a problem with its learner-visible schema.
type ProblemDetail struct {
	ProblemSummary
	Description       string             `json:"description"`
	Hints             []string           `json:"hints"`
	Schema            *ProblemSchemaView `json:"schema,omitempty"`
	AvailableDialects []string           `json:"availableDialects"`
}

// CompanyGroup lists problems attributed to a company.
type CompanyGroup struct {
	Company  string           `json:"company"`
	Count    int              `json:"count"`
	Problems []ProblemSummary `json:"problems"`
}

// SetupResponse reports a materialised problem environment.
type SetupResponse struct {
	ProblemID  uuid.UUID `json:"problemId"`
	Dialect    string    `json:"dialect"`
	Statements int       `json:"statements"`
	Tables     []string  `json:"tables"`
}

// NewProblemSummary builds a catalog entry from a model.
func NewProblemSummary(problem models.Problem) ProblemSummary {
	summary := ProblemSummary{
		ID:               problem.ID,
		NumericID:        problem.NumericID,
		Title:            problem.Title,
		Slug:             problem.Slug,
		Difficulty:       problem.Difficulty,
		Company:          problem.Company(),
		Tags:             problem.TagsSlice(),
		TotalSubmissions: problem.TotalSubmissions,
		AcceptanceRate:   problem.AcceptanceRate(),
	}
	if summary.Tags == nil {
		summary.Tags = []string{}
	}
	if problem.Category != nil {
		summary.Category = problem.Category.Name
	}
	return summary
}
