package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

var customersSetup = []string{
	"CREATE TABLE customers (customer_id INTEGER PRIMARY KEY, name TEXT NOT NULL)",
	"INSERT INTO customers (customer_id, name) VALUES (1, 'A'), (2, 'B')",
}

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	cfg.Flavor = FlavorSQLite
	cfg.Logger = zerolog.Nop()
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 1
	}
	return NewExecutor(db, cfg)
}

func TestExecuteInEnvironmentReturnsOrderedRows(t *testing.T) {
	exec := newTestExecutor(t, Config{})

	result, err := exec.ExecuteInEnvironment(context.Background(), customersSetup, "SELECT name, customer_id FROM customers ORDER BY customer_id")
	require.NoError(t, err)
	require.Equal(t, []string{"name", "customer_id"}, result.Columns)
	require.Equal(t, [][]any{{"A", int64(1)}, {"B", int64(2)}}, result.Rows)
	require.Equal(t, 2, result.RowCount)
	require.False(t, result.Truncated)
}

func TestExecuteInEnvironmentRollsBack(t *testing.T) {
	exec := newTestExecutor(t, Config{})

	_, err := exec.ExecuteInEnvironment(context.Background(), customersSetup, "SELECT 1")
	require.NoError(t, err)

	_, err = exec.Execute(context.Background(), "SELECT * FROM customers")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Contains(t, execErr.Message, "no such table")
}

func TestExecutionErrorCarriesEnvironmentSchema(t *testing.T) {
	exec := newTestExecutor(t, Config{})

	_, err := exec.ExecuteInEnvironment(context.Background(), customersSetup, "SELECT email FROM customers")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.False(t, execErr.Timeout)
	require.Equal(t, []string{"customer_id", "name"}, execErr.Schema.Tables["customers"])
}

func TestMaterializeCommitsAndReplaces(t *testing.T) {
	exec := newTestExecutor(t, Config{})
	ctx := context.Background()

	require.NoError(t, exec.Materialize(ctx, customersSetup))
	require.NoError(t, exec.Materialize(ctx, customersSetup))

	result, err := exec.Execute(ctx, "SELECT count(*) FROM customers")
	require.NoError(t, err)
	require.Equal(t, [][]any{{int64(2)}}, result.Rows)

	schema := exec.SchemaContext(ctx)
	require.Equal(t, []string{"customers"}, schema.TableNames())
}

func TestExecuteTruncatesLargeResults(t *testing.T) {
	exec := newTestExecutor(t, Config{MaxRows: 3})

	result, err := exec.Execute(context.Background(), "WITH RECURSIVE n(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM n WHERE x < 10) SELECT x FROM n")
	require.NoError(t, err)
	require.True(t, result.Truncated)
	require.Equal(t, 3, result.RowCount)
}

func TestExecuteRejectsWhenSaturated(t *testing.T) {
	exec := newTestExecutor(t, Config{AcquireTimeout: 20 * time.Millisecond})
	require.True(t, exec.sem.TryAcquire(1))
	defer exec.sem.Release(1)

	_, err := exec.Execute(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, ErrSandboxBusy)
}

func TestExecuteEnforcesStatementTimeout(t *testing.T) {
	exec := newTestExecutor(t, Config{StatementTimeout: 50 * time.Millisecond})

	_, err := exec.Execute(context.Background(), "WITH RECURSIVE n(x) AS (SELECT 1 UNION ALL SELECT x + 1 FROM n) SELECT count(*) FROM n")
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.True(t, execErr.Timeout)
	require.Equal(t, TimeoutCode, execErr.Code)
}

func TestSetupFailureIsInfrastructure(t *testing.T) {
	exec := newTestExecutor(t, Config{})

	_, err := exec.ExecuteInEnvironment(context.Background(), []string{"CREATE TABLE broken ("}, "SELECT 1")
	require.True(t, errors.Is(err, ErrSetupFailed))

	var execErr *ExecutionError
	require.False(t, errors.As(err, &execErr))
}

func TestCreatedTables(t *testing.T) {
	tables := CreatedTables([]string{
		"CREATE TABLE IF NOT EXISTS customers (id INT)",
		"create temporary table \"Orders\" (id INT)",
		"CREATE TABLE public.items (id INT)",
		"INSERT INTO customers VALUES (1)",
		"CREATE INDEX idx ON customers (id)",
		"CREATE TABLE customers (id INT)",
	})
	require.Equal(t, []string{"customers", "\"Orders\"", "public.items"}, tables)
}

func TestDeclaredSchema(t *testing.T) {
	schema := DeclaredSchema([]string{
		`CREATE TABLE customers (
			customer_id INTEGER PRIMARY KEY,
			"Full Name" TEXT NOT NULL,
			balance NUMERIC(10, 2) DEFAULT 0,
			CONSTRAINT balance_positive CHECK (balance >= 0)
		)`,
		`CREATE TABLE IF NOT EXISTS "Orders" (id INT, customer_id INT, PRIMARY KEY (id), FOREIGN KEY (customer_id) REFERENCES customers (customer_id))`,
		"INSERT INTO customers VALUES (1, 'Ada', 10)",
		"CREATE TABLE customers (ignored INT)",
	})

	require.Equal(t, []string{"Orders", "customers"}, schema.TableNames())
	require.Equal(t, []string{"customer_id", "Full Name", "balance"}, schema.Tables["customers"])
	require.Equal(t, []string{"id", "customer_id"}, schema.Tables["Orders"])
}
