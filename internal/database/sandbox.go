package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

// SandboxOptions configures the sandbox connection pool.
type SandboxOptions struct {
	Driver   string
	URL      string
	MaxConns int
}

// ConnectSandbox opens the pool learner queries run on. It is separate from the
// catalog connection and owned by the caller, which must close it.
func ConnectSandbox(ctx context.Context, opts SandboxOptions) (*sql.DB, sandbox.Flavor, error) {
	if opts.URL == "" {
		return nil, "", fmt.Errorf("sandbox url must not be empty")
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = 5
	}

	var (
		driverName string
		flavor     sandbox.Flavor
	)
	switch opts.Driver {
	case "", "pgx":
		driverName, flavor = "pgx", sandbox.FlavorPostgres
	case "sqlite":
		driverName, flavor = "sqlite", sandbox.FlavorSQLite
		opts.MaxConns = 1
	default:
		return nil, "", fmt.Errorf("unsupported sandbox driver %q", opts.Driver)
	}

	db, err := sql.Open(driverName, opts.URL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open sandbox pool: %w", err)
	}
	db.SetMaxOpenConns(opts.MaxConns)
	db.SetMaxIdleConns(opts.MaxConns)
	db.SetConnMaxLifetime(15 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("unable to reach sandbox database: %w", err)
	}

	return db, flavor, nil
}
