// Package sandbox executes learner SQL against an isolated database through a
// bounded connection pool.
package sandbox

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"

	"github.com/noah-isme/sqlpractice-api/internal/sqltext"
)

var (
	// ErrSandboxBusy signals pool saturation. Callers should retry later.
	ErrSandboxBusy = errors.New("sandbox is busy, please retry shortly")
	// ErrUnavailable signals that the sandbox database cannot be reached.
	ErrUnavailable = errors.New("sandbox database unavailable")
	// ErrSetupFailed signals that stored setup SQL could not be applied.
	ErrSetupFailed = errors.New("sandbox setup failed")
)

// TimeoutCode is the SQLSTATE reported for statement timeouts.
const TimeoutCode = "57014"

// Result is a materialised result set with values in column order.
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"rowCount"`
	ElapsedMs int64    `json:"elapsedMs"`
	Truncated bool     `json:"truncated"`
}

// SchemaContext maps table names to their column names.
type SchemaContext struct {
	Tables map[string][]string `json:"tables"`
}

// TableNames returns the table names sorted alphabetically.
func (s SchemaContext) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExecutionError is an engine-level failure of a learner query.
type ExecutionError struct {
	Message   string
	Code      string
	Detail    string
	Hint      string
	Position  int
	Timeout   bool
	ElapsedMs int64
	Schema    SchemaContext
	err       error
}

func (e *ExecutionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code)
	}
	return e.Message
}

func (e *ExecutionError) Unwrap() error { return e.err }

// SetupError reports a stored setup statement the engine rejected.
type SetupError struct {
	Statement string
	Err       error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup statement failed: %v", e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrSetupFailed) match.
func (e *SetupError) Is(target error) bool { return target == ErrSetupFailed }

// classify separates engine rejections, which are the learner's concern, from
// infrastructure failures.
func (e *Executor) classify(ctx context.Context, err error, elapsedMs int64) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ExecutionError{
			Message: fmt.Sprintf("query exceeded the %s execution limit", e.cfg.StatementTimeout),
			Code:    TimeoutCode,
			Timeout: true,
			err:     err,
		}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "53"),
			strings.HasPrefix(pgErr.Code, "57P"), strings.HasPrefix(pgErr.Code, "XX"):
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return &ExecutionError{
			Message:  pgErr.Message,
			Code:     pgErr.Code,
			Detail:   pgErr.Detail,
			Hint:     pgErr.Hint,
			Position: int(pgErr.Position),
			Timeout:  pgErr.Code == TimeoutCode,
			err:      err,
		}
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return &ExecutionError{Message: liteErr.Error(), Code: "SQLITE_" + strconv.Itoa(liteErr.Code()), err: err}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	e.logger.Debug().Err(err).Int64("elapsed_ms", elapsedMs).Msg("unclassified sandbox error treated as engine error")
	return &ExecutionError{Message: err.Error(), err: err}
}

func normalizeValue(value any) any {
	switch v := value.(type) {
	case []byte:
		return string(v)
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format("2006-01-02")
		}
		return v.Format(time.RFC3339Nano)
	default:
		return v
	}
}

// CreatedTables lists the tables created by CREATE TABLE statements in setup,
// in order of appearance and as written.
func CreatedTables(setup []string) []string {
	var tables []string
	seen := make(map[string]bool)
	for _, statement := range setup {
		name, _ := createdTable(sqltext.Significant(sqltext.Tokenize(statement)))
		if name != "" && !seen[strings.ToLower(name)] {
			seen[strings.ToLower(name)] = true
			tables = append(tables, name)
		}
	}
	return tables
}

// DeclaredSchema reads table and column names from the CREATE TABLE
// statements in setup. Quotes are removed and table constraints skipped.
func DeclaredSchema(setup []string) SchemaContext {
	schema := SchemaContext{Tables: map[string][]string{}}
	for _, statement := range setup {
		tokens := sqltext.Significant(sqltext.Tokenize(statement))
		name, next := createdTable(tokens)
		if name == "" {
			continue
		}
		name = strings.ReplaceAll(name, `"`, "")
		if _, ok := schema.Tables[name]; ok {
			continue
		}
		schema.Tables[name] = declaredColumns(tokens[next:])
	}
	return schema
}

// createdTable returns the table named by a CREATE TABLE statement and the
// index of the token following the name.
func createdTable(tokens []sqltext.Token) (string, int) {
	i := 0
	if i >= len(tokens) || !tokens[i].Is("CREATE") {
		return "", 0
	}
	i++
	for i < len(tokens) && (tokens[i].Is("TEMP") || tokens[i].Is("TEMPORARY") || tokens[i].Is("UNLOGGED")) {
		i++
	}
	if i >= len(tokens) || !tokens[i].Is("TABLE") {
		return "", 0
	}
	i++
	if i+2 < len(tokens) && tokens[i].Is("IF") && tokens[i+1].Is("NOT") && tokens[i+2].Is("EXISTS") {
		i += 3
	}
	name, consumed := tableName(tokens[i:])
	return name, i + consumed
}

func tableName(tokens []sqltext.Token) (string, int) {
	var b strings.Builder
	consumed := 0
	for i, t := range tokens {
		isName := t.Kind == sqltext.Word || t.Kind == sqltext.QuotedIdent
		if i%2 == 0 && isName {
			b.WriteString(t.Text)
			consumed = i + 1
			continue
		}
		if i%2 == 1 && t.IsPunct(".") {
			b.WriteString(".")
			continue
		}
		break
	}
	return strings.TrimSuffix(b.String(), "."), consumed
}

var tableConstraintWords = map[string]bool{
	"CONSTRAINT": true, "PRIMARY": true, "FOREIGN": true, "UNIQUE": true,
	"CHECK": true, "EXCLUDE": true, "KEY": true, "INDEX": true, "LIKE": true,
}

// declaredColumns reads the first name of every top-level element of the
// parenthesised column list.
func declaredColumns(tokens []sqltext.Token) []string {
	columns := []string{}
	if len(tokens) == 0 || !tokens[0].IsPunct("(") {
		return columns
	}
	depth := 0
	expectName := false
	for _, t := range tokens {
		switch {
		case t.IsPunct("("):
			depth++
			if depth == 1 {
				expectName = true
			}
			continue
		case t.IsPunct(")"):
			depth--
			if depth == 0 {
				return columns
			}
			continue
		case depth == 1 && t.IsPunct(","):
			expectName = true
			continue
		}
		if depth != 1 || !expectName {
			continue
		}
		expectName = false
		switch t.Kind {
		case sqltext.Word:
			if !tableConstraintWords[t.Upper()] {
				columns = append(columns, t.Text)
			}
		case sqltext.QuotedIdent, sqltext.BacktickIdent:
			columns = append(columns, sqltext.Unquote(t))
		}
	}
	return columns
}
