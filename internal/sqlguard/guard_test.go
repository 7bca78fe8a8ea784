package sqlguard

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func codes(result Result) []string {
	out := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		out = append(out, v.Code)
	}
	return out
}

func TestValidateAcceptsPlainSelect(t *testing.T) {
	v := New(zerolog.Nop())

	for _, query := range []string{
		"SELECT name FROM customers ORDER BY customer_id",
		"with totals as (select customer_id, sum(amount) s from orders group by 1) select * from totals;",
		"SELECT replace(name, 'a', 'b'), o.update_count FROM customers c JOIN orders o ON o.id = c.id",
		"SELECT 'drop table users' AS note",
		"SHOW TABLES",
		"DESCRIBE customers;",
	} {
		result := v.Validate(query, "client")
		require.True(t, result.IsValid, query)
		require.Equal(t, RiskLow, result.RiskLevel, query)
		require.Empty(t, result.Violations, query)
	}
}

func TestValidateBlocksMutatingStatements(t *testing.T) {
	v := New(zerolog.Nop())

	cases := []struct {
		query string
		code  string
	}{
		{"DROP TABLE customers", CodeBlockedKeyword},
		{"select * from customers; drop table orders", CodeStackedStatements},
		{"SELECT * INTO backup FROM customers", CodeBlockedKeyword},
		{"UPDATE customers SET name = 'x'", CodeStatementNotAllow},
		{"SELECT pg_sleep(10)", CodeBlockedFunction},
		{"SELECT usename, passwd FROM pg_shadow", CodeSystemCatalog},
		{"SELECT * FROM customers WHERE id = 1 FOR UPDATE", CodeBlockedKeyword},
		{"SHOW GRANTS", CodeStatementNotAllow},
		{"SELECT 1 DR/**/OP", CodeCommentObfuscation},
		{"   ", CodeEmptyQuery},
	}
	for _, tc := range cases {
		result := v.Validate(tc.query, "client")
		require.False(t, result.IsValid, tc.query)
		require.Equal(t, RiskHigh, result.RiskLevel, tc.query)
		require.Contains(t, codes(result), tc.code, tc.query)
		require.NotEmpty(t, result.Reasons(), tc.query)
	}
}

func TestValidateSeesThroughQuotingAndStringForms(t *testing.T) {
	v := New(zerolog.Nop())

	cases := []struct {
		query string
		code  string
	}{
		{`SELECT "pg_read_file"('/etc/passwd')`, CodeBlockedFunction},
		{`SELECT * FROM "pg_shadow"`, CodeSystemCatalog},
		{`SELECT * FROM "pg_catalog"."pg_authid"`, CodeSystemCatalog},
		{`SELECT "set_config"('statement_timeout','0',true), "pg_sleep"(600)`, CodeBlockedFunction},
		{"SELECT `pg_sleep`(600)", CodeBlockedFunction},
		{"SELECT `PG_SHADOW`.passwd FROM t", CodeSystemCatalog},
		{`SELECT $$'$$, pg_read_file('/etc/passwd'), '$$'`, CodeBlockedFunction},
		{`SELECT $x$'$x$, pg_sleep(5), '$x$'`, CodeBlockedFunction},
		{`SELECT E'\'', pg_terminate_backend(pid), '1' FROM pg_stat_activity`, CodeBlockedFunction},
		{`SELECT e'\\' , pg_cancel_backend(1)`, CodeBlockedFunction},
		{`SELECT U&"\0070g_sleep"(1)`, CodeUnicodeEscape},
	}
	for _, tc := range cases {
		result := v.Validate(tc.query, "client")
		require.False(t, result.IsValid, tc.query)
		require.Equal(t, RiskHigh, result.RiskLevel, tc.query)
		require.Contains(t, codes(result), tc.code, tc.query)
	}

	for _, query := range []string{
		`SELECT "name", "version" FROM customers`,
		`SELECT $$it's fine$$ AS note`,
		`SELECT E'pg_sleep(1)' AS note`,
		`SELECT price FROM products WHERE id = $1`,
	} {
		result := v.Validate(query, "client")
		require.True(t, result.IsValid, query)
	}
}

func TestValidateRejectsOversizedQuery(t *testing.T) {
	v := New(zerolog.Nop(), WithMaxLength(32))
	result := v.Validate("SELECT "+strings.Repeat("a, ", 20)+"b FROM t", "client")
	require.False(t, result.IsValid)
	require.Equal(t, []string{CodeTooLong}, codes(result))
}

func TestValidateElevatesRiskWithoutBlocking(t *testing.T) {
	v := New(zerolog.Nop())

	result := v.Validate("SELECT name FROM customers WHERE name = 'a' OR 1=1 -- bypass", "client")
	require.True(t, result.IsValid)
	require.Equal(t, RiskMedium, result.RiskLevel)
	require.Contains(t, codes(result), CodeTautology)
	require.Contains(t, codes(result), CodeComment)

	result = v.Validate("SELECT id FROM a UNION ALL SELECT id FROM b", "client")
	require.True(t, result.IsValid)
	require.Equal(t, []string{CodeUnionSelect}, codes(result))
}

func TestValidateWritesSanitizedAuditEntry(t *testing.T) {
	var buf bytes.Buffer
	v := New(zerolog.New(&buf))

	result := v.Validate("SELECT 'secret-token'; DROP TABLE users", "10.0.0.1")
	require.False(t, result.IsValid)

	entry := buf.String()
	require.Contains(t, entry, `"client_id":"10.0.0.1"`)
	require.Contains(t, entry, `"risk_level":"high"`)
	require.Contains(t, entry, "stacked_statements")
	require.NotContains(t, entry, "secret-token")
}

func TestSanitizeForLogTruncates(t *testing.T) {
	long := "SELECT " + strings.Repeat("column_name, ", 50) + "x FROM t"
	sanitized := SanitizeForLog(long)
	require.True(t, strings.HasSuffix(sanitized, "..."))
	require.LessOrEqual(t, len([]rune(sanitized)), logPreviewRunes+3)
	require.Equal(t, "SELECT '***' FROM t", SanitizeForLog("SELECT  'p@ss'\nFROM t"))
}
