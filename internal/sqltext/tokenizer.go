// Package sqltext provides a small quote and comment aware SQL tokenizer.
//
// It performs no grammar analysis. Tokens carry their exact source text so that
// concatenating every token reproduces the input.
package sqltext

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a token.
type Kind int

const (
	Whitespace Kind = iota
	Word
	Number
	String
	QuotedIdent
	BacktickIdent
	LineComment
	BlockComment
	Punct
	Operator
)

// Token is a lexical unit of SQL text.
type Token struct {
	Kind Kind
	Text string
}

// Upper returns the upper-cased token text, used for keyword comparison.
func (t Token) Upper() string {
	return strings.ToUpper(t.Text)
}

// Is reports whether the token is a word matching keyword case-insensitively.
func (t Token) Is(keyword string) bool {
	return t.Kind == Word && strings.EqualFold(t.Text, keyword)
}

// IsPunct reports whether the token is the given punctuation character.
func (t Token) IsPunct(p string) bool {
	return t.Kind == Punct && t.Text == p
}

// Significant reports whether the token takes part in the statement, i.e. it is
// neither whitespace nor a comment.
func (t Token) Significant() bool {
	switch t.Kind {
	case Whitespace, LineComment, BlockComment:
		return false
	}
	return true
}

// Tokenize splits query into tokens. Unterminated strings, identifiers and
// block comments extend to the end of the input. Quoting follows standard
// conforming strings: a backslash only escapes a quote inside E'...' strings.
// Dollar-quoted bodies ($$...$$, $tag$...$tag$) are single String tokens.
func Tokenize(query string) []Token {
	tokens := make([]Token, 0, len(query)/3+1)
	i := 0
	for i < len(query) {
		start := i
		r, size := utf8.DecodeRuneInString(query[i:])
		switch {
		case unicode.IsSpace(r):
			for i < len(query) {
				r, size = utf8.DecodeRuneInString(query[i:])
				if !unicode.IsSpace(r) {
					break
				}
				i += size
			}
			tokens = append(tokens, Token{Kind: Whitespace, Text: query[start:i]})
		case r == '-' && strings.HasPrefix(query[i:], "--"):
			end := strings.IndexByte(query[i:], '\n')
			if end < 0 {
				i = len(query)
			} else {
				i += end
			}
			tokens = append(tokens, Token{Kind: LineComment, Text: query[start:i]})
		case r == '/' && strings.HasPrefix(query[i:], "/*"):
			end := strings.Index(query[i+2:], "*/")
			if end < 0 {
				i = len(query)
			} else {
				i += end + 4
			}
			tokens = append(tokens, Token{Kind: BlockComment, Text: query[start:i]})
		case r == '\'':
			i = scanQuoted(query, i, '\'')
			tokens = append(tokens, Token{Kind: String, Text: query[start:i]})
		case (r == 'E' || r == 'e') && i+1 < len(query) && query[i+1] == '\'':
			i = scanEscaped(query, i+1)
			tokens = append(tokens, Token{Kind: String, Text: query[start:i]})
		case r == '$' && dollarTagLen(query[i:]) > 0:
			i = scanDollarQuoted(query, i)
			tokens = append(tokens, Token{Kind: String, Text: query[start:i]})
		case r == '"':
			i = scanQuoted(query, i, '"')
			tokens = append(tokens, Token{Kind: QuotedIdent, Text: query[start:i]})
		case r == '`':
			i = scanQuoted(query, i, '`')
			tokens = append(tokens, Token{Kind: BacktickIdent, Text: query[start:i]})
		case isDigit(r) || (r == '.' && i+1 < len(query) && isDigit(rune(query[i+1]))):
			i = scanNumber(query, i)
			tokens = append(tokens, Token{Kind: Number, Text: query[start:i]})
		case isWordStart(r):
			for i < len(query) {
				r, size = utf8.DecodeRuneInString(query[i:])
				if !isWordPart(r) {
					break
				}
				i += size
			}
			tokens = append(tokens, Token{Kind: Word, Text: query[start:i]})
		case strings.ContainsRune("(),;.[]", r):
			i += size
			tokens = append(tokens, Token{Kind: Punct, Text: query[start:i]})
		default:
			for i < len(query) {
				r, size = utf8.DecodeRuneInString(query[i:])
				if !isOperator(r) || (i > start && (strings.HasPrefix(query[i:], "--") || strings.HasPrefix(query[i:], "/*"))) {
					break
				}
				i += size
			}
			if i == start {
				i += size
			}
			tokens = append(tokens, Token{Kind: Operator, Text: query[start:i]})
		}
	}
	return tokens
}

// Join concatenates token texts.
func Join(tokens []Token) string {
	var b strings.Builder
	for _, t := range tokens {
		b.WriteString(t.Text)
	}
	return b.String()
}

// Significant filters out whitespace and comments.
func Significant(tokens []Token) []Token {
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		if t.Significant() {
			out = append(out, t)
		}
	}
	return out
}

// StripComments removes comments, replacing each with a single space so that
// adjacent words are not glued together.
func StripComments(query string) string {
	tokens := Tokenize(query)
	var b strings.Builder
	for _, t := range tokens {
		if t.Kind == LineComment || t.Kind == BlockComment {
			b.WriteByte(' ')
			continue
		}
		b.WriteString(t.Text)
	}
	return b.String()
}

// SplitStatements splits query on top-level semicolons and returns the
// non-empty statements, trimmed. Semicolons inside literals or comments do not
// split.
func SplitStatements(query string) []string {
	var (
		statements []string
		current    strings.Builder
		meaningful bool
	)
	flush := func() {
		if meaningful {
			statements = append(statements, strings.TrimSpace(current.String()))
		}
		current.Reset()
		meaningful = false
	}
	for _, t := range Tokenize(query) {
		if t.IsPunct(";") {
			flush()
			continue
		}
		if t.Significant() {
			meaningful = true
		}
		current.WriteString(t.Text)
	}
	flush()
	return statements
}

// HasTopLevelOrderBy reports whether the last statement of query carries an
// ORDER BY clause outside any parentheses.
func HasTopLevelOrderBy(query string) bool {
	statements := SplitStatements(query)
	if len(statements) == 0 {
		return false
	}
	tokens := Significant(Tokenize(statements[len(statements)-1]))
	depth := 0
	for i, t := range tokens {
		switch {
		case t.IsPunct("("):
			depth++
		case t.IsPunct(")"):
			if depth > 0 {
				depth--
			}
		case depth == 0 && t.Is("ORDER") && i+1 < len(tokens) && tokens[i+1].Is("BY"):
			return true
		}
	}
	return false
}

// Unquote returns the content of a quoted token with doubled quote characters
// collapsed. Escape strings have their backslash escapes resolved and
// dollar-quoted bodies are returned verbatim. Other tokens are returned
// unchanged.
func Unquote(t Token) string {
	var q byte
	switch t.Kind {
	case String:
		if n := dollarTagLen(t.Text); n > 0 {
			body := t.Text[n:]
			return strings.TrimSuffix(body, t.Text[:n])
		}
		if len(t.Text) >= 2 && (t.Text[0] == 'E' || t.Text[0] == 'e') && t.Text[1] == '\'' {
			return unescape(t.Text[1:])
		}
		q = '\''
	case QuotedIdent:
		q = '"'
	case BacktickIdent:
		q = '`'
	default:
		return t.Text
	}
	text := t.Text
	if len(text) >= 1 && text[0] == q {
		text = text[1:]
	}
	if len(text) >= 1 && text[len(text)-1] == q {
		text = text[:len(text)-1]
	}
	return strings.ReplaceAll(text, string([]byte{q, q}), string(q))
}

func scanQuoted(query string, i int, quote byte) int {
	i++
	for i < len(query) {
		if query[i] == quote {
			if i+1 < len(query) && query[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(query)
}

// scanEscaped scans an E'...' body starting at the opening quote. A backslash
// escapes the next byte and a doubled quote stays inside the literal.
func scanEscaped(query string, i int) int {
	i++
	for i < len(query) {
		switch query[i] {
		case '\\':
			i += 2
			continue
		case '\'':
			if i+1 < len(query) && query[i+1] == '\'' {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(query)
}

// dollarTagLen returns the length of the opening $tag$ delimiter at the start
// of s, or zero. Tags never start with a digit, so $1 stays a parameter.
func dollarTagLen(s string) int {
	if len(s) < 2 || s[0] != '$' {
		return 0
	}
	if s[1] == '$' {
		return 2
	}
	if !isTagStart(s[1]) {
		return 0
	}
	for j := 2; j < len(s); j++ {
		switch {
		case s[j] == '$':
			return j + 1
		case !isTagStart(s[j]) && !(s[j] >= '0' && s[j] <= '9'):
			return 0
		}
	}
	return 0
}

func scanDollarQuoted(query string, i int) int {
	tag := query[i : i+dollarTagLen(query[i:])]
	end := strings.Index(query[i+len(tag):], tag)
	if end < 0 {
		return len(query)
	}
	return i + len(tag) + end + len(tag)
}

func unescape(quoted string) string {
	text := strings.TrimPrefix(quoted, "'")
	var b strings.Builder
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '\\' && i+1 < len(text):
			i++
			switch text[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteByte(text[i])
			}
		case c == '\'':
			if i+1 < len(text) && text[i+1] == '\'' {
				b.WriteByte('\'')
				i++
				continue
			}
			return b.String()
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isTagStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func scanNumber(query string, i int) int {
	if strings.HasPrefix(query[i:], "0x") || strings.HasPrefix(query[i:], "0X") {
		i += 2
		for i < len(query) && isHex(query[i]) {
			i++
		}
		return i
	}
	seenDot, seenExp := false, false
	for i < len(query) {
		c := query[i]
		switch {
		case c >= '0' && c <= '9':
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
		case (c == 'e' || c == 'E') && !seenExp && i+1 < len(query) &&
			(isDigit(rune(query[i+1])) || ((query[i+1] == '+' || query[i+1] == '-') && i+2 < len(query) && isDigit(rune(query[i+2])))):
			seenExp = true
			if query[i+1] == '+' || query[i+1] == '-' {
				i++
			}
		default:
			return i
		}
		i++
	}
	return i
}

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isWordStart(r rune) bool {
	return r == '_' || r == '$' || r == '@' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isOperator(r rune) bool {
	return strings.ContainsRune("+-*/<>=~!%^&|:?\\", r)
}
