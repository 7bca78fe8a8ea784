// Package dialect rewrites MySQL flavoured SQL into PostgreSQL syntax.
//
// The translator is a syntactic shim working on a token stream: it respects
// quotes, comments and parenthesis nesting but has no notion of SQL semantics.
// Constructs it does not recognise pass through unchanged and surface as engine
// errors downstream.
package dialect

import (
	"errors"
	"strings"

	"github.com/noah-isme/sqlpractice-api/internal/sqltext"
)

// Dialect names a SQL variant accepted from learners.
type Dialect string

const (
	PostgreSQL Dialect = "postgresql"
	MySQL      Dialect = "mysql"
)

// Native is the dialect of the execution engine.
const Native = PostgreSQL

// ErrUnsupportedDialect is returned by Parse for unknown names.
var ErrUnsupportedDialect = errors.New("unsupported sql dialect")

// Parse normalises a user supplied dialect name. An empty name selects the
// native dialect.
func Parse(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "postgresql", "postgres", "pg", "psql":
		return PostgreSQL, nil
	case "mysql", "mariadb":
		return MySQL, nil
	default:
		return "", ErrUnsupportedDialect
	}
}

// String implements fmt.Stringer.
func (d Dialect) String() string { return string(d) }

// Translate rewrites query from source into the native dialect. Queries that
// are already native are returned untouched.
func Translate(query string, source Dialect) string {
	if source == Native || source == "" {
		return query
	}
	if rewritten, ok := introspection(query); ok {
		return rewritten
	}
	tokens := sqltext.Tokenize(query)
	return sqltext.Join(rewrite(tokens, isDDL(tokens)))
}

// TranslateScript splits a multi-statement script and translates each
// statement.
func TranslateScript(script string, source Dialect) []string {
	statements := sqltext.SplitStatements(script)
	for i, statement := range statements {
		statements[i] = Translate(statement, source)
	}
	return statements
}

const (
	showTablesSQL    = "SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename"
	describeTableSQL = "SELECT column_name, data_type FROM information_schema.columns WHERE table_name = '%s' ORDER BY ordinal_position"
)

func introspection(query string) (string, bool) {
	tokens := sqltext.Significant(sqltext.Tokenize(query))
	for len(tokens) > 0 && tokens[len(tokens)-1].IsPunct(";") {
		tokens = tokens[:len(tokens)-1]
	}
	switch {
	case len(tokens) == 2 && tokens[0].Is("SHOW") && tokens[1].Is("TABLES"):
		return showTablesSQL, true
	case len(tokens) == 2 && (tokens[0].Is("DESCRIBE") || tokens[0].Is("DESC")):
		return describe(tokens[1]), true
	case len(tokens) == 4 && tokens[0].Is("SHOW") && tokens[1].Is("COLUMNS") && tokens[2].Is("FROM"):
		return describe(tokens[3]), true
	}
	return "", false
}

func describe(table sqltext.Token) string {
	name := strings.ReplaceAll(sqltext.Unquote(table), "'", "''")
	if table.Kind == sqltext.Word {
		name = strings.ToLower(name)
	}
	return strings.Replace(describeTableSQL, "%s", name, 1)
}

var integerTypes = map[string]string{
	"INT":       "INTEGER",
	"INTEGER":   "INTEGER",
	"SMALLINT":  "SMALLINT",
	"MEDIUMINT": "INTEGER",
	"BIGINT":    "BIGINT",
}

var textTypes = map[string]bool{"TINYTEXT": true, "MEDIUMTEXT": true, "LONGTEXT": true}

// tableOptions are MySQL table options written as NAME=value.
var tableOptions = map[string]bool{"ENGINE": true, "CHARSET": true, "COLLATE": true, "AUTO_INCREMENT": true, "ROW_FORMAT": true}

func isDDL(tokens []sqltext.Token) bool {
	for _, t := range tokens {
		if t.Significant() {
			return t.Is("CREATE") || t.Is("ALTER")
		}
	}
	return false
}

// rewrite translates a token stream. Table options are only recognised in DDL
// so that columns such as "engine" survive in queries.
func rewrite(tokens []sqltext.Token, ddl bool) []sqltext.Token {
	out := make([]sqltext.Token, 0, len(tokens))
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch t.Kind {
		case sqltext.BacktickIdent:
			out = append(out, sqltext.Token{Kind: sqltext.QuotedIdent, Text: quoteIdent(sqltext.Unquote(t))})
			continue
		case sqltext.QuotedIdent:
			out = append(out, sqltext.Token{Kind: sqltext.String, Text: quoteLiteral(sqltext.Unquote(t))})
			continue
		case sqltext.Word:
		default:
			out = append(out, t)
			continue
		}

		upper := t.Upper()
		switch {
		case ddl && tableOptions[upper] && nextIsEquals(tokens, i):
			out = dropTrailingSpace(out)
			if last := lastSignificant(out); last >= 0 && out[last].Is("DEFAULT") {
				out = dropTrailingSpace(out[:last])
			}
			i = skipOptionValue(tokens, i)
		case upper == "AUTO_INCREMENT":
			if typ := columnType(out); typ >= 0 {
				out[typ].Text, _ = serialFor(out[typ].Upper())
				out = dropTrailingSpace(out)
				continue
			}
			out = append(out, sqltext.Token{Kind: sqltext.Word, Text: "SERIAL"})
		case ddl && upper == "CHARACTER" && nextWord(tokens, i, "SET"):
			out = dropTrailingSpace(out)
			if last := lastSignificant(out); last >= 0 && out[last].Is("DEFAULT") {
				out = dropTrailingSpace(out[:last])
			}
			i = skipOptionValue(tokens, next(tokens, i))
		case upper == "TINYINT":
			width, end := displayWidth(tokens, i)
			if width == "1" {
				out = append(out, sqltext.Token{Kind: sqltext.Word, Text: "BOOLEAN"})
			} else {
				out = append(out, sqltext.Token{Kind: sqltext.Word, Text: "SMALLINT"})
			}
			i = end
		case integerTypes[upper] != "":
			_, end := displayWidth(tokens, i)
			if end != i || upper == "MEDIUMINT" {
				out = append(out, sqltext.Token{Kind: sqltext.Word, Text: integerTypes[upper]})
			} else {
				out = append(out, t)
			}
			i = end
		case upper == "DATETIME":
			out = append(out, sqltext.Token{Kind: sqltext.Word, Text: "TIMESTAMP"})
		case textTypes[upper]:
			out = append(out, sqltext.Token{Kind: sqltext.Word, Text: "TEXT"})
		case upper == "UNSIGNED":
			out = dropTrailingSpace(out)
		case upper == "IFNULL" && nextPunct(tokens, i, "("):
			out = append(out, sqltext.Token{Kind: sqltext.Word, Text: "COALESCE"})
		case upper == "CONCAT" && nextPunct(tokens, i, "("):
			open := next(tokens, i)
			closing := matchingParen(tokens, open)
			if closing < 0 {
				out = append(out, t)
				continue
			}
			out = append(out, sqltext.Token{Kind: sqltext.Word, Text: concatChain(tokens[open+1:closing], ddl)})
			i = closing
		case upper == "LIMIT":
			if rewritten, end, ok := limitOffset(tokens, i); ok {
				out = append(out, rewritten...)
				i = end
				continue
			}
			out = append(out, t)
		default:
			out = append(out, t)
		}
	}
	return out
}

func serialFor(typeName string) (string, bool) {
	switch typeName {
	case "INT", "INTEGER", "SMALLINT", "MEDIUMINT", "TINYINT":
		return "SERIAL", true
	case "BIGINT":
		return "BIGSERIAL", true
	}
	return "", false
}

// columnType finds the integer type of the column definition being written,
// looking back no further than the previous comma or opening parenthesis.
func columnType(out []sqltext.Token) int {
	for i := len(out) - 1; i >= 0; i-- {
		t := out[i]
		if t.IsPunct(",") || t.IsPunct("(") {
			return -1
		}
		if t.Kind == sqltext.Word {
			if _, ok := serialFor(t.Upper()); ok {
				return i
			}
		}
	}
	return -1
}

// concatChain rewrites the argument tokens of CONCAT(...) into an infix chain.
func concatChain(args []sqltext.Token, ddl bool) string {
	parts := splitTopLevel(args)
	rendered := make([]string, 0, len(parts))
	for _, part := range parts {
		text := strings.TrimSpace(sqltext.Join(rewrite(part, ddl)))
		if text != "" {
			rendered = append(rendered, text)
		}
	}
	if len(rendered) == 0 {
		return "''"
	}
	return strings.Join(rendered, " || ")
}

// splitTopLevel splits tokens at commas that are not nested in parentheses.
// Commas inside literals never appear as separate tokens.
func splitTopLevel(tokens []sqltext.Token) [][]sqltext.Token {
	var (
		parts [][]sqltext.Token
		depth int
		start int
	)
	for i, t := range tokens {
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			depth--
		case t.IsPunct(",") && depth == 0:
			parts = append(parts, tokens[start:i])
			start = i + 1
		}
	}
	return append(parts, tokens[start:])
}

// limitOffset turns "LIMIT offset, count" into "LIMIT count OFFSET offset".
func limitOffset(tokens []sqltext.Token, i int) ([]sqltext.Token, int, bool) {
	first := next(tokens, i)
	comma := next(tokens, first)
	second := next(tokens, comma)
	if second < 0 || tokens[first].Kind != sqltext.Number || !tokens[comma].IsPunct(",") || tokens[second].Kind != sqltext.Number {
		return nil, i, false
	}
	return []sqltext.Token{
		{Kind: sqltext.Word, Text: tokens[i].Text},
		{Kind: sqltext.Whitespace, Text: " "},
		tokens[second],
		{Kind: sqltext.Whitespace, Text: " "},
		{Kind: sqltext.Word, Text: "OFFSET"},
		{Kind: sqltext.Whitespace, Text: " "},
		tokens[first],
	}, second, true
}

// displayWidth consumes an optional "(n)" after a type name and returns n
// together with the index of the last consumed token.
func displayWidth(tokens []sqltext.Token, i int) (string, int) {
	open := next(tokens, i)
	if open < 0 || !tokens[open].IsPunct("(") {
		return "", i
	}
	num := next(tokens, open)
	closing := next(tokens, num)
	if closing < 0 || tokens[num].Kind != sqltext.Number || !tokens[closing].IsPunct(")") {
		return "", i
	}
	return tokens[num].Text, closing
}

// skipOptionValue skips "[=] value" after a table option keyword at i and
// returns the index of the value token.
func skipOptionValue(tokens []sqltext.Token, i int) int {
	j := next(tokens, i)
	if j >= 0 && tokens[j].Kind == sqltext.Operator && tokens[j].Text == "=" {
		j = next(tokens, j)
	}
	if j < 0 {
		return len(tokens) - 1
	}
	return j
}

func matchingParen(tokens []sqltext.Token, open int) int {
	depth := 0
	for i := open; i < len(tokens); i++ {
		switch {
		case tokens[i].IsPunct("("):
			depth++
		case tokens[i].IsPunct(")"):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func next(tokens []sqltext.Token, i int) int {
	if i < 0 {
		return -1
	}
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j].Significant() {
			return j
		}
	}
	return -1
}

func nextPunct(tokens []sqltext.Token, i int, p string) bool {
	j := next(tokens, i)
	return j >= 0 && tokens[j].IsPunct(p)
}

func nextWord(tokens []sqltext.Token, i int, word string) bool {
	j := next(tokens, i)
	return j >= 0 && tokens[j].Is(word)
}

func nextIsEquals(tokens []sqltext.Token, i int) bool {
	j := next(tokens, i)
	return j >= 0 && tokens[j].Kind == sqltext.Operator && tokens[j].Text == "="
}

func lastSignificant(tokens []sqltext.Token) int {
	for i := len(tokens) - 1; i >= 0; i-- {
		if tokens[i].Significant() {
			return i
		}
	}
	return -1
}

func dropTrailingSpace(tokens []sqltext.Token) []sqltext.Token {
	for len(tokens) > 0 && tokens[len(tokens)-1].Kind == sqltext.Whitespace {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}
