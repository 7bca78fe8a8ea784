package errorhint

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var schema = map[string][]string{
	"customers": {"customer_id", "name", "email"},
	"orders":    {"order_id", "customer_id", "total"},
}

func TestAnalyzeUndefinedTableSuggestsClosestName(t *testing.T) {
	analysis := Analyze(Input{
		Message: `relation "customer" does not exist`,
		Code:    "42P01",
		Query:   "SELECT * FROM customer",
		Tables:  schema,
	})
	require.Equal(t, TypeUndefinedTable, analysis.Type)
	require.Equal(t, `Table "customer" does not exist in this problem's schema.`, analysis.EnhancedMessage)
	require.Contains(t, analysis.QuickFixes, `Did you mean "customers"?`)
	require.Contains(t, analysis.Suggestions, "Available tables: customers, orders")
	require.NotEmpty(t, analysis.PerformanceHints)
}

func TestAnalyzeUndefinedColumnFromSQLiteMessage(t *testing.T) {
	analysis := Analyze(Input{Message: "no such column: emial", Tables: schema})
	require.Equal(t, TypeUndefinedColumn, analysis.Type)
	require.Contains(t, analysis.QuickFixes, `Did you mean "email"?`)
}

func TestAnalyzeClassifiesByCode(t *testing.T) {
	cases := []struct {
		code string
		want string
	}{
		{"42601", TypeSyntax},
		{"42702", TypeAmbiguousColumn},
		{"42803", TypeGrouping},
		{"22012", TypeDivisionByZero},
		{"22P02", TypeTypeMismatch},
		{"57014", TypeTimeout},
		{"XX999", TypeUnknown},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Analyze(Input{Code: tc.code, Message: "boom"}).Type, tc.code)
	}
}

func TestAnalyzeSyntaxNear(t *testing.T) {
	analysis := Analyze(Input{Message: `syntax error at or near "FORM"`, Code: "42601"})
	require.Equal(t, `Syntax error near "FORM".`, analysis.EnhancedMessage)
	require.Equal(t, SeverityHigh, analysis.Severity)
}

func TestLevenshtein(t *testing.T) {
	require.Equal(t, 0, levenshtein("abc", "abc"))
	require.Equal(t, 1, levenshtein("customer", "customers"))
	require.Equal(t, 3, levenshtein("kitten", "sitting"))
	require.Equal(t, "", closest("zzz", []string{"customers"}))
}
