package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

var (
	execDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sqlp",
		Subsystem: "sandbox",
		Name:      "execution_duration_seconds",
		Help:      "Duration of sandbox executions",
		Buckets:   prometheus.DefBuckets,
	}, []string{"mode", "outcome"})

	execTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sqlp",
		Subsystem: "sandbox",
		Name:      "timeouts_total",
		Help:      "Number of sandbox executions that hit the statement timeout",
	}, []string{"mode"})

	execRejections = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sqlp",
		Subsystem: "sandbox",
		Name:      "rejections_total",
		Help:      "Number of executions rejected because the sandbox pool was saturated",
	})
)

const (
	modeQuery       = "query"
	modeEnvironment = "environment"
	modeMaterialize = "materialize"

	learnerSavepoint = "learner_query"
)

// Flavor selects engine specific statements.
type Flavor string

const (
	FlavorPostgres Flavor = "postgres"
	FlavorSQLite   Flavor = "sqlite"
)

// Runner is the behaviour the execution pipeline needs from a sandbox.
type Runner interface {
	Execute(ctx context.Context, query string) (Result, error)
	ExecuteInEnvironment(ctx context.Context, setup []string, query string) (Result, error)
	Materialize(ctx context.Context, setup []string) error
	SchemaContext(ctx context.Context) SchemaContext
}

// Config groups executor configuration values.
type Config struct {
	Flavor           Flavor
	MaxConcurrent    int64
	StatementTimeout time.Duration
	AcquireTimeout   time.Duration
	MaxRows          int
	// LearnerRole, when set on PostgreSQL, is assumed for the learner query
	// only. Setup statements keep running as the connection owner.
	LearnerRole string
	Logger      zerolog.Logger
}

// Executor runs learner queries against the sandbox database. The *sql.DB is
// owned by the caller, which opens it at start-up and closes it at shutdown.
type Executor struct {
	db     *sql.DB
	cfg    Config
	sem    *semaphore.Weighted
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewExecutor constructs an executor over db.
func NewExecutor(db *sql.DB, cfg Config) *Executor {
	if cfg.Flavor == "" {
		cfg.Flavor = FlavorPostgres
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	if cfg.StatementTimeout <= 0 {
		cfg.StatementTimeout = 30 * time.Second
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 1000
	}

	return &Executor{
		db:     db,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		tracer: otel.Tracer("github.com/noah-isme/sqlpractice-api/pkg/sandbox"),
		logger: cfg.Logger.With().Str("component", "sandbox").Logger(),
	}
}

// Execute runs query against the current sandbox state. The surrounding
// transaction is always rolled back.
func (e *Executor) Execute(ctx context.Context, query string) (Result, error) {
	return e.run(ctx, modeQuery, nil, query)
}

// ExecuteInEnvironment runs the setup statements and query in one transaction
// and rolls it back, so concurrent learners never observe each other's
// environments.
func (e *Executor) ExecuteInEnvironment(ctx context.Context, setup []string, query string) (Result, error) {
	return e.run(ctx, modeEnvironment, setup, query)
}

// Materialize replaces the tables created by setup and commits the result.
func (e *Executor) Materialize(parent context.Context, setup []string) error {
	ctx, span := e.tracer.Start(parent, "sandbox.materialize", trace.WithAttributes(
		attribute.Int("sandbox.setup_statements", len(setup)),
	))
	defer span.End()

	release, err := e.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.StatementTimeout)
	defer cancel()

	start := time.Now()
	outcome := "ok"
	defer func() {
		execDuration.WithLabelValues(modeMaterialize, outcome).Observe(time.Since(start).Seconds())
	}()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		outcome = "unavailable"
		span.RecordError(err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := e.prepare(ctx, tx, setup); err != nil {
		outcome = "setup_failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := tx.Commit(); err != nil {
		outcome = "commit_failed"
		span.RecordError(err)
		return fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}

	e.logger.Info().Int("statements", len(setup)).Msg("sandbox environment materialized")
	return nil
}

// SchemaContext lists the sandbox tables and their columns. It never fails:
// lookup errors are logged and an empty context is returned.
func (e *Executor) SchemaContext(ctx context.Context) SchemaContext {
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	schema, err := e.lookupSchema(lookupCtx, e.db)
	if err != nil {
		e.logger.Warn().Err(err).Msg("schema context lookup failed")
		return SchemaContext{Tables: map[string][]string{}}
	}
	return schema
}

// Ping verifies the sandbox is reachable.
func (e *Executor) Ping(ctx context.Context) error {
	if err := e.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (e *Executor) run(parent context.Context, mode string, setup []string, query string) (Result, error) {
	ctx, span := e.tracer.Start(parent, "sandbox.execute", trace.WithAttributes(
		attribute.String("sandbox.mode", mode),
		attribute.Int("sandbox.setup_statements", len(setup)),
	))
	defer span.End()

	release, err := e.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	defer release()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.StatementTimeout)
	defer cancel()

	start := time.Now()
	outcome := "ok"
	defer func() {
		execDuration.WithLabelValues(mode, outcome).Observe(time.Since(start).Seconds())
	}()

	tx, err := e.db.BeginTx(ctx, e.txOptions(mode))
	if err != nil {
		outcome = "unavailable"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := e.prepare(ctx, tx, setup); err != nil {
		outcome = "setup_failed"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+learnerSavepoint); err != nil {
		outcome = "unavailable"
		return Result{}, fmt.Errorf("%w: savepoint: %v", ErrUnavailable, err)
	}
	if role := e.roleStatement(); role != "" {
		if _, err := tx.ExecContext(ctx, role); err != nil {
			outcome = "unavailable"
			span.RecordError(err)
			return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	queryStart := time.Now()
	result, err := e.query(ctx, tx, query)
	result.ElapsedMs = time.Since(queryStart).Milliseconds()
	if err != nil {
		execErr := e.classify(ctx, err, result.ElapsedMs)
		var engineErr *ExecutionError
		if !errors.As(execErr, &engineErr) {
			outcome = "unavailable"
			span.RecordError(execErr)
			span.SetStatus(codes.Error, execErr.Error())
			return Result{}, execErr
		}

		outcome = "engine_error"
		if engineErr.Timeout {
			outcome = "timeout"
			execTimeouts.WithLabelValues(mode).Inc()
		}
		span.RecordError(engineErr)
		span.SetStatus(codes.Error, engineErr.Message)
		engineErr.ElapsedMs = result.ElapsedMs
		engineErr.Schema = e.schemaAfterFailure(parent, tx)
		return Result{}, engineErr
	}

	span.SetAttributes(attribute.Int("sandbox.row_count", result.RowCount))
	return result, nil
}

func (e *Executor) txOptions(mode string) *sql.TxOptions {
	if mode == modeQuery && e.cfg.Flavor == FlavorPostgres {
		return &sql.TxOptions{ReadOnly: true}
	}
	return nil
}

// prepare applies the session limits and runs setup statements, dropping
// the tables they create first.
func (e *Executor) prepare(ctx context.Context, tx *sql.Tx, setup []string) error {
	if e.cfg.Flavor == FlavorPostgres {
		// Literal quoting must match what the security validator tokenizes.
		for _, statement := range []string{
			"SET LOCAL statement_timeout = " + strconv.FormatInt(e.cfg.StatementTimeout.Milliseconds(), 10),
			"SET LOCAL standard_conforming_strings = on",
		} {
			if _, err := tx.ExecContext(ctx, statement); err != nil {
				return fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
		}
	}
	if len(setup) == 0 {
		return nil
	}

	for _, drop := range e.dropStatements(setup) {
		if _, err := tx.ExecContext(ctx, drop); err != nil {
			return &SetupError{Statement: drop, Err: err}
		}
	}
	for _, statement := range setup {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return &SetupError{Statement: statement, Err: err}
		}
	}
	return nil
}

func (e *Executor) dropStatements(setup []string) []string {
	tables := CreatedTables(setup)
	drops := make([]string, 0, len(tables))
	for i := len(tables) - 1; i >= 0; i-- {
		drop := "DROP TABLE IF EXISTS " + tables[i]
		if e.cfg.Flavor == FlavorPostgres {
			drop += " CASCADE"
		}
		drops = append(drops, drop)
	}
	return drops
}

func (e *Executor) query(ctx context.Context, tx *sql.Tx, query string) (Result, error) {
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return Result{}, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, err
	}

	result := Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if len(result.Rows) == e.cfg.MaxRows {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return Result{}, err
		}
		for i := range values {
			values[i] = normalizeValue(values[i])
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return Result{}, err
	}

	result.RowCount = len(result.Rows)
	return result, nil
}

// acquire applies pool backpressure: it waits at most AcquireTimeout for a
// slot before failing with ErrSandboxBusy.
func (e *Executor) acquire(ctx context.Context) (func(), error) {
	release := func() { e.sem.Release(1) }
	if e.sem.TryAcquire(1) {
		return release, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.AcquireTimeout)
	defer cancel()
	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		execRejections.Inc()
		e.logger.Warn().Int64("max_concurrent", e.cfg.MaxConcurrent).Msg("sandbox pool saturated")
		return nil, ErrSandboxBusy
	}
	return release, nil
}

// schemaAfterFailure rolls back to the savepoint taken before the learner
// query so the environment tables are still visible to the lookup.
func (e *Executor) schemaAfterFailure(parent context.Context, tx *sql.Tx) SchemaContext {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), 5*time.Second)
	defer cancel()

	if _, err := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+learnerSavepoint); err != nil {
		e.logger.Warn().Err(err).Msg("rollback to savepoint failed; schema context unavailable")
		return SchemaContext{Tables: map[string][]string{}}
	}
	schema, err := e.lookupSchema(ctx, tx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("schema context lookup failed")
		return SchemaContext{Tables: map[string][]string{}}
	}
	return schema
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const (
	postgresSchemaSQL = `SELECT table_name, column_name FROM information_schema.columns
WHERE table_schema = 'public' ORDER BY table_name, ordinal_position`
	sqliteSchemaSQL = `SELECT m.name, p.name FROM sqlite_master m JOIN pragma_table_info(m.name) p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%' ORDER BY m.name, p.cid`
)

func (e *Executor) lookupSchema(ctx context.Context, q queryer) (SchemaContext, error) {
	statement := postgresSchemaSQL
	if e.cfg.Flavor == FlavorSQLite {
		statement = sqliteSchemaSQL
	}

	rows, err := q.QueryContext(ctx, statement)
	if err != nil {
		return SchemaContext{}, err
	}
	defer rows.Close()

	schema := SchemaContext{Tables: map[string][]string{}}
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return SchemaContext{}, err
		}
		schema.Tables[table] = append(schema.Tables[table], column)
	}
	return schema, rows.Err()
}
