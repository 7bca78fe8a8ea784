// Package sqlguard screens learner-submitted SQL before it reaches the sandbox.
package sqlguard

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/noah-isme/sqlpractice-api/internal/sqltext"
)

// RiskLevel grades how suspicious a query looks.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Violation codes.
const (
	CodeEmptyQuery         = "empty_query"
	CodeTooLong            = "too_long"
	CodeStackedStatements  = "stacked_statements"
	CodeStatementNotAllow  = "statement_not_allowed"
	CodeBlockedKeyword     = "blocked_keyword"
	CodeBlockedFunction    = "blocked_function"
	CodeSystemCatalog      = "system_catalog"
	CodeCommentObfuscation = "comment_obfuscation"
	CodeComment            = "comment"
	CodeTautology          = "tautology"
	CodeUnionSelect        = "union_select"
	CodeHexLiteral         = "hex_literal"
	CodeInformationSchema  = "information_schema"
	CodeUnicodeEscape      = "unicode_escape"
)

// DefaultMaxLength bounds the accepted query size in bytes.
const DefaultMaxLength = 5000

// Violation describes one finding. Blocking findings make the query invalid;
// the others only raise the risk level.
type Violation struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Blocking bool   `json:"blocking"`
}

// Result is the outcome of validating a query.
type Result struct {
	IsValid    bool        `json:"isValid"`
	RiskLevel  RiskLevel   `json:"riskLevel"`
	Violations []Violation `json:"violations"`
}

// Reasons returns the messages of the blocking violations.
func (r Result) Reasons() []string {
	reasons := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		if v.Blocking {
			reasons = append(reasons, v.Message)
		}
	}
	return reasons
}

var blockedKeywords = toSet(
	"DROP", "CREATE", "ALTER", "TRUNCATE", "RENAME", "INSERT", "UPDATE", "DELETE", "MERGE",
	"INTO", "UPSERT", "GRANT", "REVOKE", "DENY", "COPY", "COMMIT", "ROLLBACK", "SAVEPOINT",
	"BEGIN", "SET", "RESET", "LOCK", "VACUUM", "REINDEX", "CLUSTER", "LISTEN", "NOTIFY",
	"PREPARE", "EXECUTE", "DEALLOCATE", "DECLARE", "CALL", "DO", "LOAD", "HANDLER", "SHUTDOWN",
	"KILL", "FLUSH", "OUTFILE", "DUMPFILE", "INFILE", "ATTACH", "DETACH", "PRAGMA",
)

var blockedFunctions = toSet(
	"PG_SLEEP", "PG_SLEEP_FOR", "PG_SLEEP_UNTIL", "SLEEP", "BENCHMARK", "LOAD_FILE",
	"PG_READ_FILE", "PG_READ_BINARY_FILE", "PG_LS_DIR", "PG_STAT_FILE", "LO_IMPORT", "LO_EXPORT",
	"DBLINK", "DBLINK_EXEC", "PG_TERMINATE_BACKEND", "PG_CANCEL_BACKEND", "SET_CONFIG",
	"CURRENT_SETTING", "VERSION", "PG_RELOAD_CONF", "QUERY_TO_XML",
)

var systemCatalogs = toSet(
	"PG_CATALOG", "PG_SHADOW", "PG_AUTHID", "PG_ROLES", "PG_USER", "PG_STAT_ACTIVITY",
	"PG_SETTINGS", "PG_FILE_SETTINGS", "PG_HBA_FILE_RULES", "SQLITE_MASTER", "SQLITE_SCHEMA",
)

var tautologyPattern = regexp.MustCompile(`(?i)\bor\s+('[^']*'\s*=\s*'[^']*'|\d+\s*=\s*\d+|true\b)`)

var (
	rejectionsOnce sync.Once
	rejections     *prometheus.CounterVec
)

func rejectionCounter() *prometheus.CounterVec {
	rejectionsOnce.Do(func() {
		rejections = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqlp",
			Subsystem: "sqlguard",
			Name:      "rejections_total",
			Help:      "Number of learner queries rejected by the security validator.",
		}, []string{"code"})
	})
	return rejections
}

// Validator applies the rule set. It is safe for concurrent use.
type Validator struct {
	maxLength int
	logger    zerolog.Logger
}

// Option customises a Validator.
type Option func(*Validator)

// WithMaxLength overrides DefaultMaxLength.
func WithMaxLength(n int) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxLength = n
		}
	}
}

// New constructs a Validator that writes audit entries to logger.
func New(logger zerolog.Logger, opts ...Option) *Validator {
	v := &Validator{
		maxLength: DefaultMaxLength,
		logger:    logger.With().Str("component", "sqlguard").Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate inspects query on behalf of clientID.
func (v *Validator) Validate(query, clientID string) Result {
	var findings findings
	v.inspect(query, &findings)

	result := findings.result()
	if !result.IsValid || result.RiskLevel != RiskLow {
		v.audit(query, clientID, result)
	}
	return result
}

func (v *Validator) inspect(query string, f *findings) {
	if strings.TrimSpace(query) == "" {
		f.block(CodeEmptyQuery, "query must not be empty")
		return
	}
	if len(query) > v.maxLength {
		f.block(CodeTooLong, "query exceeds the maximum allowed length")
		return
	}

	tokens := sqltext.Tokenize(query)
	for i, t := range tokens {
		if t.Kind != sqltext.LineComment && t.Kind != sqltext.BlockComment {
			continue
		}
		f.warn(CodeComment, "comments are ignored during execution")
		if t.Kind == sqltext.BlockComment && i > 0 && i+1 < len(tokens) && gluesWords(tokens[i-1], tokens[i+1]) {
			f.block(CodeCommentObfuscation, "comments may not split keywords or identifiers")
		}
	}

	statements := sqltext.SplitStatements(query)
	if len(statements) == 0 {
		f.block(CodeEmptyQuery, "query must not be empty")
		return
	}
	if len(statements) > 1 {
		f.block(CodeStackedStatements, "only a single statement can be executed")
	}

	significant := sqltext.Significant(tokens)
	if !allowedLeading(significant) {
		f.block(CodeStatementNotAllow, "only SELECT queries are allowed")
	}

	for i, t := range significant {
		switch t.Kind {
		case sqltext.Word:
			upper := t.Upper()
			if blockedKeywords[upper] && !isQualifiedName(significant, i) {
				f.block(CodeBlockedKeyword, upper+" statements are not allowed")
			}
			checkName(significant, i, upper, f)
			if upper == "U" && unicodeEscape(significant, i) {
				f.block(CodeUnicodeEscape, "unicode escaped names and literals are not allowed")
			}
			if upper == "UNION" && unionSelect(significant, i) {
				f.warn(CodeUnionSelect, "UNION SELECT is monitored")
			}
		case sqltext.QuotedIdent, sqltext.BacktickIdent:
			// Quoting does not change which object the engine resolves.
			checkName(significant, i, strings.ToUpper(sqltext.Unquote(t)), f)
		case sqltext.Number:
			if strings.HasPrefix(strings.ToLower(t.Text), "0x") {
				f.warn(CodeHexLiteral, "hex literals are monitored")
			}
		}
	}

	if tautologyPattern.MatchString(sqltext.StripComments(query)) {
		f.warn(CodeTautology, "always-true conditions are monitored")
	}
}

func (v *Validator) audit(query, clientID string, result Result) {
	codes := make([]string, 0, len(result.Violations))
	for _, violation := range result.Violations {
		codes = append(codes, violation.Code)
		if violation.Blocking {
			rejectionCounter().WithLabelValues(violation.Code).Inc()
		}
	}

	event := v.logger.Warn()
	if !result.IsValid {
		event = v.logger.Error()
	}
	event.
		Str("client_id", clientID).
		Bool("valid", result.IsValid).
		Str("risk_level", string(result.RiskLevel)).
		Strs("violations", codes).
		Str("query", SanitizeForLog(query)).
		Msg("sql security event")
}

// checkName applies the function and catalog deny lists to the name at i,
// whether it was written bare or quoted.
func checkName(tokens []sqltext.Token, i int, upper string, f *findings) {
	if blockedFunctions[upper] && i+1 < len(tokens) && tokens[i+1].IsPunct("(") {
		f.block(CodeBlockedFunction, "function "+strings.ToLower(upper)+" is not allowed")
	}
	if systemCatalogs[upper] {
		f.block(CodeSystemCatalog, "system catalogs cannot be queried")
	}
	if upper == "INFORMATION_SCHEMA" {
		f.warn(CodeInformationSchema, "information_schema access is monitored")
	}
}

// unicodeEscape matches U&"..." and U&'...', whose escapes hide the real name.
func unicodeEscape(tokens []sqltext.Token, i int) bool {
	if i+2 >= len(tokens) || tokens[i+1].Kind != sqltext.Operator || tokens[i+1].Text != "&" {
		return false
	}
	next := tokens[i+2].Kind
	return next == sqltext.QuotedIdent || next == sqltext.String
}

// allowedLeading accepts read statements and the read-only introspection forms
// the dialect translator knows how to rewrite.
func allowedLeading(tokens []sqltext.Token) bool {
	for len(tokens) > 0 && tokens[0].IsPunct("(") {
		tokens = tokens[1:]
	}
	for len(tokens) > 0 && tokens[len(tokens)-1].IsPunct(";") {
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return false
	}
	first := tokens[0]
	switch {
	case first.Is("SELECT"), first.Is("WITH"), first.Is("VALUES"), first.Is("TABLE"):
		return true
	case first.Is("DESCRIBE"), first.Is("DESC"):
		return len(tokens) == 2 && isIdentifier(tokens[1])
	case first.Is("SHOW"):
		if len(tokens) == 2 && tokens[1].Is("TABLES") {
			return true
		}
		return len(tokens) == 4 && tokens[1].Is("COLUMNS") && tokens[2].Is("FROM") && isIdentifier(tokens[3])
	}
	return false
}

// isQualifiedName reports whether the keyword at i is used as a column or table
// reference, e.g. orders.update or t.set.
func isQualifiedName(tokens []sqltext.Token, i int) bool {
	return i > 0 && tokens[i-1].IsPunct(".")
}

func unionSelect(tokens []sqltext.Token, i int) bool {
	for j := i + 1; j < len(tokens) && j <= i+3; j++ {
		if tokens[j].Is("SELECT") {
			return true
		}
		if !tokens[j].Is("ALL") && !tokens[j].Is("DISTINCT") && !tokens[j].IsPunct("(") {
			return false
		}
	}
	return false
}

func gluesWords(before, after sqltext.Token) bool {
	wordy := func(t sqltext.Token) bool { return t.Kind == sqltext.Word || t.Kind == sqltext.Number }
	return wordy(before) && wordy(after)
}

func isIdentifier(t sqltext.Token) bool {
	return t.Kind == sqltext.Word || t.Kind == sqltext.QuotedIdent || t.Kind == sqltext.BacktickIdent
}

const logPreviewRunes = 200

// SanitizeForLog redacts string literals and truncates the query so audit
// entries never carry the full payload.
func SanitizeForLog(query string) string {
	var b strings.Builder
	for _, t := range sqltext.Tokenize(query) {
		switch t.Kind {
		case sqltext.String:
			b.WriteString("'***'")
		case sqltext.Whitespace:
			b.WriteByte(' ')
		default:
			b.WriteString(t.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if utf8.RuneCountInString(out) > logPreviewRunes {
		runes := []rune(out)
		out = string(runes[:logPreviewRunes]) + "..."
	}
	return out
}

type findings struct {
	violations []Violation
	seen       map[string]bool
}

func (f *findings) add(code, message string, blocking bool) {
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := code + "|" + message
	if f.seen[key] {
		return
	}
	f.seen[key] = true
	f.violations = append(f.violations, Violation{Code: code, Message: message, Blocking: blocking})
}

func (f *findings) block(code, message string) { f.add(code, message, true) }

func (f *findings) warn(code, message string) { f.add(code, message, false) }

func (f *findings) result() Result {
	result := Result{IsValid: true, RiskLevel: RiskLow, Violations: f.violations}
	if result.Violations == nil {
		result.Violations = []Violation{}
	}
	for _, v := range f.violations {
		if v.Blocking {
			result.IsValid = false
			result.RiskLevel = RiskHigh
		} else if result.RiskLevel == RiskLow {
			result.RiskLevel = RiskMedium
		}
	}
	return result
}

func toSet(values ...string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
