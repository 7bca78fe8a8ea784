package autocomplete

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

var shopSchema = sandbox.SchemaContext{Tables: map[string][]string{
	"customers": {"customer_id", "name", "city"},
	"orders":    {"order_id", "customer_id", "total"},
}}

func labels(suggestions []Suggestion, kind Kind) []string {
	var out []string
	for _, s := range suggestions {
		if s.Kind == kind {
			out = append(out, s.Label)
		}
	}
	return out
}

func TestCompleteTablesAfterFrom(t *testing.T) {
	query := "SELECT * FROM cu"
	result := Complete(query, len(query), shopSchema)

	require.Equal(t, ClauseTable, result.Context.Clause)
	require.Equal(t, "cu", result.Context.Prefix)
	require.Len(t, result.Suggestions, 1)
	require.Equal(t, Suggestion{
		Label:      "customers",
		Kind:       KindTable,
		Detail:     "3 columns",
		InsertText: "customers",
		Priority:   priorityTable,
	}, result.Suggestions[0])
}

func TestCompleteTableListAfterComma(t *testing.T) {
	query := "SELECT * FROM customers, "
	result := Complete(query, len(query), shopSchema)

	require.Equal(t, ClauseTable, result.Context.Clause)
	require.Equal(t, []string{"customers", "orders"}, labels(result.Suggestions, KindTable))
}

func TestCompleteColumnsOfReferencedTablesFirst(t *testing.T) {
	query := "SELECT c FROM orders"
	result := Complete(query, len("SELECT c"), shopSchema)

	require.Equal(t, ClauseColumn, result.Context.Clause)
	require.Equal(t, []string{"orders"}, result.Context.Tables)
	require.Equal(t, []string{"customer_id"}, labels(result.Suggestions, KindColumn))
	require.Equal(t, KindColumn, result.Suggestions[0].Kind)
	require.Equal(t, "orders", result.Suggestions[0].Detail)
	require.Contains(t, labels(result.Suggestions, KindFunction), "COUNT")
	require.Contains(t, labels(result.Suggestions, KindFunction), "COALESCE")
}

func TestCompleteQualifiedColumnsThroughAlias(t *testing.T) {
	query := "SELECT o. FROM orders AS o JOIN customers c ON c.customer_id = o.customer_id"
	result := Complete(query, len("SELECT o."), shopSchema)

	require.Equal(t, "o", result.Context.Qualifier)
	require.Equal(t, map[string]string{"o": "orders", "c": "customers"}, result.Context.Aliases)
	require.Equal(t, []string{"customer_id", "order_id", "total"}, labels(result.Suggestions, KindColumn))
	require.Len(t, result.Suggestions, 3)
}

func TestCompleteNextClauseAfterTable(t *testing.T) {
	query := "SELECT name FROM customers c "
	result := Complete(query, len(query), shopSchema)

	require.Equal(t, ClauseGeneral, result.Context.Clause)
	require.Equal(t, priorityNextClause, result.Suggestions[0].Priority)
	require.Len(t, result.Suggestions, MaxSuggestions)
}

func TestCompleteRanksExactMatchFirstWithinPriority(t *testing.T) {
	query := "SELECT * FROM customers WHERE name IN"
	result := Complete(query, len(query), shopSchema)

	require.Equal(t, "IN", result.Suggestions[0].Label)
	require.Equal(t, "INNER JOIN", result.Suggestions[1].Label)
}

func TestCompleteClampsCursorAndCountsCharacters(t *testing.T) {
	result := Complete("SELECT 'é' FROM ord", 1000, shopSchema)
	require.Equal(t, []string{"orders"}, labels(result.Suggestions, KindTable))

	result = Complete("SELECT 'é' FROM ord", len([]rune("SELECT 'é' FROM or")), shopSchema)
	require.Equal(t, "or", result.Context.Prefix)

	result = Complete("SEL", -4, shopSchema)
	require.Equal(t, ClauseGeneral, result.Context.Clause)
	require.Empty(t, result.Context.Prefix)
	require.Len(t, result.Suggestions, MaxSuggestions)
}
