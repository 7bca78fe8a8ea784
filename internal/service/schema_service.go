package service

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/autocomplete"
	"github.com/noah-isme/sqlpractice-api/internal/dialect"
	"github.com/noah-isme/sqlpractice-api/internal/dto"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

// Schema sources reported to clients.
const (
	SchemaSourceProblem = "problem"
	SchemaSourceSandbox = "sandbox"
)

// SchemaService describes tables to the editor and completes queries against
// them.
type SchemaService interface {
	Autocomplete(ctx context.Context, req dto.AutocompleteRequest) (dto.AutocompleteResponse, error)
	Schema(ctx context.Context, problemID string) (dto.SchemaResponse, error)
	Tables(ctx context.Context) (dto.SchemaTablesResponse, error)
}

type schemaService struct {
	problems ProblemService
	sandbox  sandbox.Runner
	logger   zerolog.Logger
}

// NewSchemaService constructs the schema service.
func NewSchemaService(problems ProblemService, runner sandbox.Runner, logger zerolog.Logger) SchemaService {
	return &schemaService{
		problems: problems,
		sandbox:  runner,
		logger:   logger.With().Str("component", "schema_service").Logger(),
	}
}

func (s *schemaService) Autocomplete(ctx context.Context, req dto.AutocompleteRequest) (dto.AutocompleteResponse, error) {
	schema, source, _, err := s.schemaFor(ctx, req.ProblemID)
	if err != nil {
		return dto.AutocompleteResponse{}, err
	}

	cursor := utf8.RuneCountInString(req.Query)
	if req.CursorPosition != nil {
		cursor = *req.CursorPosition
	}
	result := autocomplete.Complete(req.Query, cursor, schema)

	return dto.AutocompleteResponse{
		Completions: result.Suggestions,
		Context:     result.Context,
		Meta: dto.AutocompleteMeta{
			Total:        len(result.Suggestions),
			SchemaSource: source,
			Tables:       len(schema.Tables),
		},
	}, nil
}

func (s *schemaService) Schema(ctx context.Context, problemID string) (dto.SchemaResponse, error) {
	schema, source, id, err := s.schemaFor(ctx, problemID)
	if err != nil {
		return dto.SchemaResponse{}, err
	}
	return dto.SchemaResponse{ProblemID: id, Source: source, Tables: schemaTables(schema)}, nil
}

func (s *schemaService) Tables(ctx context.Context) (dto.SchemaTablesResponse, error) {
	tables := schemaTables(s.sandbox.SchemaContext(ctx))
	columns := 0
	for _, table := range tables {
		columns += len(table.Columns)
	}
	return dto.SchemaTablesResponse{Tables: tables, TotalTables: len(tables), TotalColumns: columns}, nil
}

// schemaFor reads the tables declared by the problem's setup SQL. Without a
// problem, or when the problem declares no tables, the live sandbox is
// described instead.
func (s *schemaService) schemaFor(ctx context.Context, problemID string) (sandbox.SchemaContext, string, *uuid.UUID, error) {
	problemID = strings.TrimSpace(problemID)
	if problemID == "" {
		return s.sandbox.SchemaContext(ctx), SchemaSourceSandbox, nil, nil
	}

	problem, err := s.problems.Resolve(ctx, problemID)
	if err != nil {
		return sandbox.SchemaContext{}, "", nil, err
	}
	id := uuidPtr(problem.ID)

	stored, err := s.problems.Schema(ctx, problem.ID, dialect.Native)
	switch {
	case errors.Is(err, ErrSchemaNotFound):
		s.logger.Debug().Int("problem", problem.NumericID).Msg("problem has no schema, describing sandbox")
		return s.sandbox.SchemaContext(ctx), SchemaSourceSandbox, id, nil
	case err != nil:
		return sandbox.SchemaContext{}, "", nil, err
	}

	declared := sandbox.DeclaredSchema(setupStatements(stored))
	if len(declared.Tables) == 0 {
		return s.sandbox.SchemaContext(ctx), SchemaSourceSandbox, id, nil
	}
	return declared, SchemaSourceProblem, id, nil
}

func schemaTables(schema sandbox.SchemaContext) []dto.SchemaTable {
	tables := make([]dto.SchemaTable, 0, len(schema.Tables))
	for _, name := range schema.TableNames() {
		columns := schema.Tables[name]
		if columns == nil {
			columns = []string{}
		}
		tables = append(tables, dto.SchemaTable{Name: name, Columns: columns})
	}
	return tables
}
