package sqltext

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenizeRoundTrip(t *testing.T) {
	inputs := []string{
		"SELECT name FROM customers ORDER BY customer_id",
		"SELECT 'it''s', \"Col\", `tbl` FROM x -- trailing\nWHERE a>=1.5e3 /* block */ AND b <> 0x1F;",
		"SELECT 'unterminated",
		"/* open comment",
		"select ñame, 1.25, .5 from t",
	}
	for _, input := range inputs {
		require.Equal(t, input, Join(Tokenize(input)), input)
	}
}

func TestTokenizeKinds(t *testing.T) {
	tokens := Significant(Tokenize("SELECT 'a,b' , \"x\" FROM t WHERE n = 10"))
	kinds := make([]Kind, 0, len(tokens))
	for _, tok := range tokens {
		kinds = append(kinds, tok.Kind)
	}
	require.Equal(t, []Kind{Word, String, Punct, QuotedIdent, Word, Word, Word, Word, Operator, Number}, kinds)
}

func TestSplitStatementsIgnoresQuotedSemicolons(t *testing.T) {
	statements := SplitStatements("CREATE TABLE a (v TEXT); INSERT INTO a VALUES ('x;y'); -- done;\n ;")
	require.Equal(t, []string{"CREATE TABLE a (v TEXT)", "INSERT INTO a VALUES ('x;y')"}, statements)
}

func TestStripComments(t *testing.T) {
	require.Equal(t, "SELECT   1", StripComments("SELECT /* hi */ 1"))
	require.Equal(t, "SELECT '--not'  ", StripComments("SELECT '--not' -- yes"))
}

func TestHasTopLevelOrderBy(t *testing.T) {
	require.True(t, HasTopLevelOrderBy("SELECT * FROM t ORDER BY id"))
	require.False(t, HasTopLevelOrderBy("SELECT * FROM (SELECT * FROM t ORDER BY id) s"))
	require.False(t, HasTopLevelOrderBy("SELECT 'order by' FROM t"))
	require.True(t, HasTopLevelOrderBy("SELECT row_number() OVER (ORDER BY id) FROM t ORDER BY 1"))
}

func TestUnquote(t *testing.T) {
	require.Equal(t, "it's", Unquote(Token{Kind: String, Text: "'it''s'"}))
	require.Equal(t, "Col", Unquote(Token{Kind: BacktickIdent, Text: "`Col`"}))
	require.Equal(t, "plain", Unquote(Token{Kind: Word, Text: "plain"}))
}

func TestTokenizePostgresStringForms(t *testing.T) {
	cases := []struct {
		input   string
		literal string
		body    string
	}{
		{`SELECT $$it's$$ FROM t`, `$$it's$$`, "it's"},
		{`SELECT $fn$ a $$ b $fn$ FROM t`, `$fn$ a $$ b $fn$`, " a $$ b "},
		{`SELECT E'it\'s' FROM t`, `E'it\'s'`, "it's"},
		{`SELECT e'a\\' FROM t`, `e'a\\'`, `a\`},
		{`SELECT E'x''y\n' FROM t`, `E'x''y\n'`, "x'y\n"},
	}
	for _, tc := range cases {
		tokens := Significant(Tokenize(tc.input))
		require.Len(t, tokens, 4, tc.input)
		require.Equal(t, String, tokens[1].Kind, tc.input)
		require.Equal(t, tc.literal, tokens[1].Text, tc.input)
		require.Equal(t, tc.body, Unquote(tokens[1]), tc.input)
		require.Equal(t, tc.input, Join(Tokenize(tc.input)), tc.input)
	}
}

func TestTokenizeKeepsParametersAndDollarIdentifiers(t *testing.T) {
	tokens := Significant(Tokenize("SELECT a$b FROM t WHERE id = $1"))
	require.Equal(t, Word, tokens[1].Kind)
	require.Equal(t, "a$b", tokens[1].Text)
	require.Equal(t, Word, tokens[len(tokens)-1].Kind)
	require.Equal(t, "$1", tokens[len(tokens)-1].Text)

	require.Equal(t, "$$open", Join(Tokenize("$$open")))
	require.Equal(t, String, Tokenize("$$open")[0].Kind)
}
