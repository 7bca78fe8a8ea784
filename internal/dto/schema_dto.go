package dto

import (
	"github.com/google/uuid"

	"github.com/noah-isme/sqlpractice-api/internal/autocomplete"
)

// AutocompleteRequest is the payload of POST /sql/autocomplete.
// CursorPosition counts characters from the start of the query.
type AutocompleteRequest struct {
	Query          string `json:"query" validate:"required,max=20000"`
	CursorPosition *int   `json:"cursorPosition" validate:"required,min=0"`
	ProblemID      string `json:"problemId" validate:"omitempty,max=64"`
}

// AutocompleteMeta describes where the suggestions came from.
type AutocompleteMeta struct {
	Total        int    `json:"total"`
	SchemaSource string `json:"schemaSource"`
	Tables       int    `json:"tables"`
}

// AutocompleteResponse lists ranked completions for the cursor.
type AutocompleteResponse struct {
	Completions []autocomplete.Suggestion `json:"completions"`
	Context     autocomplete.Context      `json:"context"`
	Meta        AutocompleteMeta          `json:"meta"`
}

// SchemaTable is a table and its columns in declaration order.
type SchemaTable struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

// SchemaResponse is returned by GET /sql/schema.
type SchemaResponse struct {
	ProblemID *uuid.UUID    `json:"problemId,omitempty"`
	Source    string        `json:"source"`
	Tables    []SchemaTable `json:"tables"`
}

// SchemaTablesResponse is returned by GET /sql/schema/tables.
type SchemaTablesResponse struct {
	Tables       []SchemaTable `json:"tables"`
	TotalTables  int           `json:"totalTables"`
	TotalColumns int           `json:"totalColumns"`
}
