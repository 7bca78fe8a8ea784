// Package autocomplete suggests tables, columns, functions and keywords for a
// cursor position in a partially written query.
package autocomplete

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/noah-isme/sqlpractice-api/internal/sqltext"
	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

// MaxSuggestions caps the number of suggestions returned.
const MaxSuggestions = 20

// Kind classifies a suggestion.
type Kind string

const (
	KindTable    Kind = "table"
	KindColumn   Kind = "column"
	KindFunction Kind = "function"
	KindKeyword  Kind = "keyword"
)

// Clause names the part of the statement the cursor is in.
type Clause string

const (
	ClauseTable   Clause = "table"
	ClauseColumn  Clause = "column"
	ClauseGeneral Clause = "general"
)

const (
	priorityTable          = 100
	priorityQualified      = 95
	priorityColumn         = 90
	priorityNextClause     = 80
	priorityColumnFallback = 70
	priorityFunction       = 60
	priorityKeyword        = 50
	priorityTableElsewhere = 45
)

// Suggestion is one completion candidate.
type Suggestion struct {
	Label      string `json:"label"`
	Kind       Kind   `json:"kind"`
	Detail     string `json:"detail,omitempty"`
	InsertText string `json:"insertText"`
	Priority   int    `json:"priority"`
}

// Context describes what was understood about the cursor position.
type Context struct {
	Clause    Clause            `json:"clause"`
	Prefix    string            `json:"prefix"`
	Qualifier string            `json:"qualifier,omitempty"`
	Tables    []string          `json:"tables"`
	Aliases   map[string]string `json:"aliases"`
}

// Result is the outcome of Complete.
type Result struct {
	Suggestions []Suggestion `json:"suggestions"`
	Context     Context      `json:"context"`
}

var functions = []struct{ name, detail string }{
	{"COUNT", "aggregate"}, {"SUM", "aggregate"}, {"AVG", "aggregate"},
	{"MIN", "aggregate"}, {"MAX", "aggregate"}, {"COALESCE", "null handling"},
	{"NULLIF", "null handling"}, {"ROUND", "numeric"}, {"ABS", "numeric"},
	{"UPPER", "string"}, {"LOWER", "string"}, {"LENGTH", "string"},
	{"TRIM", "string"}, {"CONCAT", "string"}, {"SUBSTRING", "string"},
	{"CAST", "conversion"}, {"EXTRACT", "date"}, {"DATE_TRUNC", "date"},
	{"NOW", "date"}, {"ROW_NUMBER", "window"}, {"RANK", "window"},
	{"DENSE_RANK", "window"}, {"LAG", "window"}, {"LEAD", "window"},
}

var keywords = []string{
	"SELECT", "FROM", "WHERE", "JOIN", "LEFT JOIN", "INNER JOIN", "ON",
	"GROUP BY", "HAVING", "ORDER BY", "LIMIT", "OFFSET", "DISTINCT", "AS",
	"AND", "OR", "NOT", "IN", "BETWEEN", "LIKE", "IS NULL", "CASE", "WHEN",
	"THEN", "ELSE", "END", "UNION", "WITH", "OVER", "PARTITION BY", "DESC", "ASC",
}

// nextClauses are offered right after a table reference.
var nextClauses = []string{"WHERE", "JOIN", "LEFT JOIN", "GROUP BY", "ORDER BY", "LIMIT"}

var tableKeywords = map[string]bool{"FROM": true, "JOIN": true, "INTO": true, "UPDATE": true, "TABLE": true}

var columnKeywords = map[string]bool{
	"SELECT": true, "WHERE": true, "AND": true, "OR": true, "ON": true, "BY": true,
	"HAVING": true, "SET": true, "DISTINCT": true, "WHEN": true, "THEN": true,
	"ELSE": true, "NOT": true, "IN": true, "BETWEEN": true,
}

// reserved words never read as table aliases.
var reserved = map[string]bool{
	"WHERE": true, "JOIN": true, "LEFT": true, "RIGHT": true, "INNER": true,
	"OUTER": true, "FULL": true, "CROSS": true, "ON": true, "GROUP": true,
	"ORDER": true, "LIMIT": true, "HAVING": true, "UNION": true, "AS": true,
	"NATURAL": true, "USING": true, "OFFSET": true, "SET": true, "VALUES": true,
}

// Complete suggests completions for query at cursor, a character offset that
// is clamped to the query length.
func Complete(query string, cursor int, schema sandbox.SchemaContext) Result {
	before := prefixText(query, cursor)
	word := trailingWord(before)
	head := before[:len(before)-len(word)]

	qualifier, prefix := "", word
	if dot := strings.LastIndex(word, "."); dot >= 0 {
		qualifier, prefix = word[:dot], word[dot+1:]
	}

	tables, aliases := referencedTables(query, schema)
	cursorCtx := Context{
		Clause:    clauseOf(head),
		Prefix:    prefix,
		Qualifier: qualifier,
		Tables:    tables,
		Aliases:   aliases,
	}

	var candidates []Suggestion
	switch {
	case qualifier != "":
		table := resolveTable(qualifier, aliases, schema)
		candidates = append(candidates, columnSuggestions(schema, []string{table}, priorityQualified)...)
	case cursorCtx.Clause == ClauseTable:
		candidates = append(candidates, tableSuggestions(schema, priorityTable)...)
	case cursorCtx.Clause == ClauseColumn:
		if len(tables) > 0 {
			candidates = append(candidates, columnSuggestions(schema, tables, priorityColumn)...)
		} else {
			candidates = append(candidates, columnSuggestions(schema, schema.TableNames(), priorityColumnFallback)...)
		}
		candidates = append(candidates, functionSuggestions()...)
		candidates = append(candidates, keywordSuggestions(keywords, priorityKeyword)...)
	default:
		if followsTable(head, schema) {
			candidates = append(candidates, keywordSuggestions(nextClauses, priorityNextClause)...)
		}
		candidates = append(candidates, keywordSuggestions(keywords, priorityKeyword)...)
		candidates = append(candidates, functionSuggestions()...)
		candidates = append(candidates, tableSuggestions(schema, priorityTableElsewhere)...)
	}

	return Result{Suggestions: rank(candidates, prefix), Context: cursorCtx}
}

func prefixText(query string, cursor int) string {
	if cursor < 0 {
		cursor = 0
	}
	offset := 0
	for i := 0; i < cursor && offset < len(query); i++ {
		_, size := utf8.DecodeRuneInString(query[offset:])
		offset += size
	}
	return query[:offset]
}

func trailingWord(text string) string {
	end := len(text)
	start := end
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
			break
		}
		start -= size
	}
	return text[start:end]
}

// clauseOf inspects the last significant token before the word being typed.
func clauseOf(head string) Clause {
	tokens := sqltext.Significant(sqltext.Tokenize(head))
	if len(tokens) == 0 {
		return ClauseGeneral
	}
	last := tokens[len(tokens)-1]
	switch {
	case last.Kind == sqltext.Word && tableKeywords[last.Upper()]:
		return ClauseTable
	case last.Kind == sqltext.Word && columnKeywords[last.Upper()]:
		return ClauseColumn
	case last.IsPunct(","):
		for i := len(tokens) - 2; i >= 0; i-- {
			if tokens[i].Kind != sqltext.Word {
				continue
			}
			if tableKeywords[tokens[i].Upper()] {
				return ClauseTable
			}
			if columnKeywords[tokens[i].Upper()] {
				return ClauseColumn
			}
		}
		return ClauseColumn
	case last.IsPunct("("), last.Kind == sqltext.Operator:
		return ClauseColumn
	}
	return ClauseGeneral
}

// referencedTables collects the known tables after FROM and JOIN together
// with their aliases.
func referencedTables(query string, schema sandbox.SchemaContext) ([]string, map[string]string) {
	tokens := sqltext.Significant(sqltext.Tokenize(query))
	aliases := map[string]string{}
	tables := []string{}
	seen := map[string]bool{}

	for i := 0; i+1 < len(tokens); i++ {
		if !tokens[i].Is("FROM") && !tokens[i].Is("JOIN") {
			continue
		}
		table, ok := lookupTable(sqltext.Unquote(tokens[i+1]), schema)
		if !ok {
			continue
		}
		if !seen[table] {
			seen[table] = true
			tables = append(tables, table)
		}
		j := i + 2
		if j < len(tokens) && tokens[j].Is("AS") {
			j++
		}
		if j < len(tokens) && (tokens[j].Kind == sqltext.Word || tokens[j].Kind == sqltext.QuotedIdent) && !reserved[tokens[j].Upper()] {
			aliases[strings.ToLower(sqltext.Unquote(tokens[j]))] = table
		}
	}
	return tables, aliases
}

func followsTable(head string, schema sandbox.SchemaContext) bool {
	tokens := sqltext.Significant(sqltext.Tokenize(head))
	for i := len(tokens) - 1; i >= 0 && i >= len(tokens)-3; i-- {
		if tokens[i].Kind != sqltext.Word && tokens[i].Kind != sqltext.QuotedIdent {
			return false
		}
		if reserved[tokens[i].Upper()] || columnKeywords[tokens[i].Upper()] {
			return false
		}
		if i > 0 && (tokens[i-1].Is("FROM") || tokens[i-1].Is("JOIN")) {
			_, ok := lookupTable(sqltext.Unquote(tokens[i]), schema)
			return ok
		}
	}
	return false
}

func resolveTable(name string, aliases map[string]string, schema sandbox.SchemaContext) string {
	if table, ok := aliases[strings.ToLower(name)]; ok {
		return table
	}
	table, _ := lookupTable(name, schema)
	return table
}

func lookupTable(name string, schema sandbox.SchemaContext) (string, bool) {
	if _, ok := schema.Tables[name]; ok {
		return name, true
	}
	for table := range schema.Tables {
		if strings.EqualFold(table, name) {
			return table, true
		}
	}
	return "", false
}

func tableSuggestions(schema sandbox.SchemaContext, priority int) []Suggestion {
	suggestions := make([]Suggestion, 0, len(schema.Tables))
	for _, table := range schema.TableNames() {
		suggestions = append(suggestions, Suggestion{
			Label:      table,
			Kind:       KindTable,
			Detail:     pluralColumns(len(schema.Tables[table])),
			InsertText: table,
			Priority:   priority,
		})
	}
	return suggestions
}

func columnSuggestions(schema sandbox.SchemaContext, tables []string, priority int) []Suggestion {
	var suggestions []Suggestion
	for _, table := range tables {
		for _, column := range schema.Tables[table] {
			suggestions = append(suggestions, Suggestion{
				Label:      column,
				Kind:       KindColumn,
				Detail:     table,
				InsertText: column,
				Priority:   priority,
			})
		}
	}
	return suggestions
}

func functionSuggestions() []Suggestion {
	suggestions := make([]Suggestion, 0, len(functions))
	for _, fn := range functions {
		suggestions = append(suggestions, Suggestion{
			Label:      fn.name,
			Kind:       KindFunction,
			Detail:     fn.detail,
			InsertText: fn.name + "()",
			Priority:   priorityFunction,
		})
	}
	return suggestions
}

func keywordSuggestions(words []string, priority int) []Suggestion {
	suggestions := make([]Suggestion, 0, len(words))
	for _, word := range words {
		suggestions = append(suggestions, Suggestion{
			Label:      word,
			Kind:       KindKeyword,
			InsertText: word,
			Priority:   priority,
		})
	}
	return suggestions
}

// rank filters by prefix, drops duplicates keeping the highest priority and
// orders by priority, exact match, then label.
func rank(candidates []Suggestion, prefix string) []Suggestion {
	lowered := strings.ToLower(prefix)
	best := map[string]Suggestion{}
	for _, candidate := range candidates {
		if !strings.HasPrefix(strings.ToLower(candidate.Label), lowered) {
			continue
		}
		key := string(candidate.Kind) + ":" + strings.ToLower(candidate.Label)
		if current, ok := best[key]; ok && current.Priority >= candidate.Priority {
			continue
		}
		best[key] = candidate
	}

	ranked := make([]Suggestion, 0, len(best))
	for _, suggestion := range best {
		ranked = append(ranked, suggestion)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		aExact := lowered != "" && strings.EqualFold(a.Label, prefix)
		bExact := lowered != "" && strings.EqualFold(b.Label, prefix)
		if aExact != bExact {
			return aExact
		}
		return a.Label < b.Label
	})
	if len(ranked) > MaxSuggestions {
		ranked = ranked[:MaxSuggestions]
	}
	return ranked
}

func pluralColumns(n int) string {
	if n == 1 {
		return "1 column"
	}
	return strconv.Itoa(n) + " columns"
}
