package dialect

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTranslateNativeIsNoop(t *testing.T) {
	queries := []string{
		"SELECT CONCAT('a', col) FROM `odd` LIMIT 1, 2",
		"select * from customers where created_at > now() - interval '1 day'",
		"SHOW TABLES",
		"",
	}
	for _, q := range queries {
		require.Equal(t, q, Translate(q, PostgreSQL))
	}
}

func TestTranslateConcatSplitsTopLevelCommasOnly(t *testing.T) {
	require.Equal(t, "'a' || col || 'b,c'", Translate("CONCAT('a', col, 'b,c')", MySQL))
	require.Equal(t,
		"SELECT first_name || ' ' || UPPER(last_name) AS full_name FROM people",
		Translate("SELECT CONCAT(first_name, ' ', UPPER(last_name)) AS full_name FROM people", MySQL))
	require.Equal(t,
		"SELECT x || round(y, 2) || (p || q) FROM t",
		Translate("SELECT CONCAT(x, round(y, 2), (CONCAT(p, q))) FROM t", MySQL))
	require.Equal(t, "SELECT '' FROM t", Translate("SELECT CONCAT() FROM t", MySQL))
}

func TestTranslateDDL(t *testing.T) {
	input := "CREATE TABLE `orders` (\n" +
		"  `id` INT(11) NOT NULL AUTO_INCREMENT,\n" +
		"  big_id BIGINT UNSIGNED AUTO_INCREMENT,\n" +
		"  paid TINYINT(1) DEFAULT 0,\n" +
		"  qty TINYINT(4),\n" +
		"  level MEDIUMINT,\n" +
		"  notes LONGTEXT,\n" +
		"  created DATETIME\n" +
		") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4"
	expected := "CREATE TABLE \"orders\" (\n" +
		"  \"id\" SERIAL NOT NULL,\n" +
		"  big_id BIGSERIAL,\n" +
		"  paid BOOLEAN DEFAULT 0,\n" +
		"  qty SMALLINT,\n" +
		"  level INTEGER,\n" +
		"  notes TEXT,\n" +
		"  created TIMESTAMP\n" +
		")"
	require.Equal(t, expected, Translate(input, MySQL))
}

func TestTranslateQueriesKeepColumnsNamedLikeOptions(t *testing.T) {
	require.Equal(t,
		"SELECT model FROM cars WHERE engine = 'V8'",
		Translate("SELECT model FROM cars WHERE engine = \"V8\"", MySQL))
}

func TestTranslateFunctionsAndLimit(t *testing.T) {
	require.Equal(t,
		"SELECT COALESCE(email, 'n/a') FROM users LIMIT 10 OFFSET 20",
		Translate("SELECT IFNULL(email, 'n/a') FROM users LIMIT 20, 10", MySQL))
	require.Equal(t,
		"SELECT 'ifnull(' FROM t LIMIT 5",
		Translate("SELECT 'ifnull(' FROM t LIMIT 5", MySQL))
}

func TestTranslateIntrospection(t *testing.T) {
	require.Equal(t, showTablesSQL, Translate("show tables;", MySQL))
	require.Equal(t,
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_name = 'customers' ORDER BY ordinal_position",
		Translate("DESCRIBE Customers", MySQL))
	require.Equal(t,
		"SELECT column_name, data_type FROM information_schema.columns WHERE table_name = 'Order''s' ORDER BY ordinal_position",
		Translate("SHOW COLUMNS FROM `Order's`", MySQL))
}

func TestTranslateScript(t *testing.T) {
	statements := TranslateScript("CREATE TABLE t (id INT AUTO_INCREMENT PRIMARY KEY, v VARCHAR(5));\nINSERT INTO t (v) VALUES ('a;b');", MySQL)
	require.Equal(t, []string{
		"CREATE TABLE t (id SERIAL PRIMARY KEY, v VARCHAR(5))",
		"INSERT INTO t (v) VALUES ('a;b')",
	}, statements)
}

func TestParse(t *testing.T) {
	d, err := Parse("MySQL")
	require.NoError(t, err)
	require.Equal(t, MySQL, d)

	d, err = Parse("")
	require.NoError(t, err)
	require.Equal(t, PostgreSQL, d)

	_, err = Parse("oracle")
	require.ErrorIs(t, err, ErrUnsupportedDialect)
}
