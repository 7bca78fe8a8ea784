// Package errorhint turns raw engine errors into learner-facing guidance.
package errorhint

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Error types.
const (
	TypeUndefinedTable  = "undefined_table"
	TypeUndefinedColumn = "undefined_column"
	TypeSyntax          = "syntax_error"
	TypeAmbiguousColumn = "ambiguous_column"
	TypeGrouping        = "grouping_error"
	TypeDivisionByZero  = "division_by_zero"
	TypeTypeMismatch    = "type_mismatch"
	TypeTimeout         = "timeout"
	TypeUnknown         = "unknown"
)

// Severity levels.
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

// Input is an engine failure together with its context.
type Input struct {
	Message string
	Code    string
	Query   string
	Tables  map[string][]string
}

// Analysis is the structured explanation of a failure.
type Analysis struct {
	Type                string   `json:"type"`
	Severity            string   `json:"severity"`
	EnhancedMessage     string   `json:"-"`
	Suggestions         []string `json:"suggestions"`
	Examples            []string `json:"examples"`
	PerformanceHints    []string `json:"performanceHints"`
	QuickFixes          []string `json:"quickFixes"`
	LearningSuggestions []string `json:"learningSuggestions"`
	Explanation         string   `json:"explanation,omitempty"`
}

var (
	quotedName     = regexp.MustCompile(`"([^"]+)"`)
	relationMiss   = regexp.MustCompile(`(?i)relation "([^"]+)" does not exist|no such table: ([\w.]+)`)
	columnMiss     = regexp.MustCompile(`(?i)column "?([\w.]+)"? does not exist|no such column: ([\w.]+)`)
	syntaxNear     = regexp.MustCompile(`(?i)syntax error at or near "([^"]*)"|near "([^"]*)": syntax error`)
	ambiguousName  = regexp.MustCompile(`(?i)column reference "([^"]+)" is ambiguous|ambiguous column name: ([\w.]+)`)
	groupingColumn = regexp.MustCompile(`(?i)column "([^"]+)" must appear in the GROUP BY clause`)
)

// Analyze classifies an engine error by SQLSTATE first and message second.
func Analyze(in Input) Analysis {
	kind := classify(in.Code, in.Message)
	analysis := Analysis{Type: kind, Severity: SeverityMedium}

	switch kind {
	case TypeUndefinedTable:
		name := firstMatch(relationMiss, in.Message)
		analysis.EnhancedMessage = fmt.Sprintf("Table %q does not exist in this problem's schema.", name)
		tables := tableNames(in.Tables)
		if suggestion := closest(name, tables); suggestion != "" {
			analysis.QuickFixes = append(analysis.QuickFixes, fmt.Sprintf("Did you mean %q?", suggestion))
		}
		if len(tables) > 0 {
			analysis.Suggestions = append(analysis.Suggestions, "Available tables: "+strings.Join(tables, ", "))
		}
		analysis.Suggestions = append(analysis.Suggestions, "Check the spelling of the table name in your FROM and JOIN clauses.")
		analysis.Examples = []string{"SELECT * FROM customers;"}
	case TypeUndefinedColumn:
		name := firstMatch(columnMiss, in.Message)
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		analysis.EnhancedMessage = fmt.Sprintf("Column %q does not exist.", name)
		columns := columnNames(in.Tables)
		if suggestion := closest(name, columns); suggestion != "" {
			analysis.QuickFixes = append(analysis.QuickFixes, fmt.Sprintf("Did you mean %q?", suggestion))
		}
		for _, table := range tableNames(in.Tables) {
			analysis.Suggestions = append(analysis.Suggestions,
				fmt.Sprintf("%s has columns: %s", table, strings.Join(in.Tables[table], ", ")))
		}
		analysis.Suggestions = append(analysis.Suggestions, "Column aliases defined in SELECT cannot be used in WHERE.")
	case TypeSyntax:
		near := firstMatch(syntaxNear, in.Message)
		if near != "" {
			analysis.EnhancedMessage = fmt.Sprintf("Syntax error near %q.", near)
		} else {
			analysis.EnhancedMessage = "The query has a syntax error."
		}
		analysis.Severity = SeverityHigh
		analysis.Suggestions = []string{
			"Check for missing commas between selected columns.",
			"Make sure every opening parenthesis has a matching closing one.",
			"String literals use single quotes.",
		}
		analysis.Examples = []string{"SELECT name, email FROM customers WHERE name = 'Alice';"}
	case TypeAmbiguousColumn:
		name := firstMatch(ambiguousName, in.Message)
		analysis.EnhancedMessage = fmt.Sprintf("Column %q exists in more than one joined table.", name)
		analysis.QuickFixes = []string{fmt.Sprintf("Qualify the column with a table alias, for example c.%s.", name)}
		analysis.Examples = []string{"SELECT c.customer_id FROM customers c JOIN orders o ON o.customer_id = c.customer_id;"}
	case TypeGrouping:
		name := firstMatch(groupingColumn, in.Message)
		analysis.EnhancedMessage = fmt.Sprintf("Column %q must be aggregated or listed in GROUP BY.", name)
		analysis.QuickFixes = []string{fmt.Sprintf("Add %s to the GROUP BY clause or wrap it in an aggregate such as MAX().", name)}
		analysis.Examples = []string{"SELECT department, COUNT(*) FROM employees GROUP BY department;"}
	case TypeDivisionByZero:
		analysis.EnhancedMessage = "The query divided by zero."
		analysis.QuickFixes = []string{"Guard the divisor with NULLIF(divisor, 0)."}
	case TypeTypeMismatch:
		analysis.EnhancedMessage = "A value or operator was used with an incompatible type."
		analysis.Suggestions = []string{"Use CAST(value AS type) or the :: operator to convert values explicitly."}
	case TypeTimeout:
		analysis.Severity = SeverityHigh
		analysis.EnhancedMessage = "The query took too long and was cancelled."
		analysis.PerformanceHints = []string{
			"Look for joins without a join condition.",
			"Recursive queries need a terminating WHERE clause.",
		}
	default:
		analysis.Severity = SeverityLow
		analysis.EnhancedMessage = in.Message
	}

	if kind != TypeTimeout && strings.Contains(strings.ToUpper(in.Query), "SELECT *") {
		analysis.PerformanceHints = append(analysis.PerformanceHints, "Select only the columns you need instead of SELECT *.")
	}
	analysis.LearningSuggestions = LearningSuggestions(kind)
	if analysis.EnhancedMessage == "" {
		analysis.EnhancedMessage = in.Message
	}
	return analysis
}

// LearningSuggestions returns study topics for an error type.
func LearningSuggestions(kind string) []string {
	switch kind {
	case TypeUndefinedTable, TypeUndefinedColumn:
		return []string{"Explore the schema with SHOW TABLES or DESCRIBE before writing the query."}
	case TypeSyntax:
		return []string{"Review the order of clauses: SELECT, FROM, WHERE, GROUP BY, HAVING, ORDER BY, LIMIT."}
	case TypeAmbiguousColumn:
		return []string{"Practice table aliases in multi-table joins."}
	case TypeGrouping:
		return []string{"Review how GROUP BY interacts with aggregate functions."}
	case TypeTimeout:
		return []string{"Study join conditions and how they limit result size."}
	default:
		return []string{"Read the error message carefully and simplify the query step by step."}
	}
}

func classify(code, message string) string {
	switch code {
	case "42P01":
		return TypeUndefinedTable
	case "42703":
		return TypeUndefinedColumn
	case "42601":
		return TypeSyntax
	case "42702":
		return TypeAmbiguousColumn
	case "42803":
		return TypeGrouping
	case "22012":
		return TypeDivisionByZero
	case "42883", "42804", "22P02":
		return TypeTypeMismatch
	case "57014":
		return TypeTimeout
	}

	lower := strings.ToLower(message)
	switch {
	case relationMiss.MatchString(message):
		return TypeUndefinedTable
	case columnMiss.MatchString(message):
		return TypeUndefinedColumn
	case strings.Contains(lower, "syntax error") || strings.Contains(lower, "incomplete input"):
		return TypeSyntax
	case strings.Contains(lower, "ambiguous"):
		return TypeAmbiguousColumn
	case strings.Contains(lower, "group by"):
		return TypeGrouping
	case strings.Contains(lower, "division by zero"):
		return TypeDivisionByZero
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "canceling statement"):
		return TypeTimeout
	}
	return TypeUnknown
}

func firstMatch(pattern *regexp.Regexp, message string) string {
	match := pattern.FindStringSubmatch(message)
	for _, group := range match[min(1, len(match)):] {
		if group != "" {
			return group
		}
	}
	if quoted := quotedName.FindStringSubmatch(message); len(quoted) > 1 {
		return quoted[1]
	}
	return ""
}

func tableNames(tables map[string][]string) []string {
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func columnNames(tables map[string][]string) []string {
	seen := make(map[string]bool)
	var columns []string
	for _, table := range tableNames(tables) {
		for _, column := range tables[table] {
			if !seen[column] {
				seen[column] = true
				columns = append(columns, column)
			}
		}
	}
	return columns
}

// closest returns the candidate within edit distance 2 of name, or within a
// third of its length for longer names.
func closest(name string, candidates []string) string {
	if name == "" {
		return ""
	}
	target := strings.ToLower(name)
	limit := max(2, len(target)/3)

	best, bestDistance := "", limit+1
	for _, candidate := range candidates {
		d := levenshtein(target, strings.ToLower(candidate))
		if d < bestDistance && d > 0 {
			best, bestDistance = candidate, d
		}
	}
	return best
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
