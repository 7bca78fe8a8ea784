package sandbox

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
)

// DefaultLearnerRole is the unprivileged role learner queries run under.
const DefaultLearnerRole = "sqlp_learner"

// ErrInvalidRole rejects role names outside the plain identifier form.
var ErrInvalidRole = errors.New("invalid learner role name")

var roleNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidRoleName reports whether name can be used as a learner role.
func ValidRoleName(name string) bool {
	return roleNamePattern.MatchString(name)
}

// LearnerRoleStatements returns the idempotent statements that create role
// without login or elevated attributes and let it read the tables the sandbox
// owner creates from now on. Tables that existed earlier stay unreadable.
func LearnerRoleStatements(role string) ([]string, error) {
	if !ValidRoleName(role) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	ident := pgx.Identifier{role}.Sanitize()
	return []string{
		fmt.Sprintf(`DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = '%s') THEN
		CREATE ROLE %s NOLOGIN NOSUPERUSER NOCREATEDB NOCREATEROLE NOREPLICATION NOBYPASSRLS;
	END IF;
END
$$`, role, ident),
		"GRANT USAGE ON SCHEMA public TO " + ident,
		"ALTER DEFAULT PRIVILEGES IN SCHEMA public GRANT SELECT ON TABLES TO " + ident,
	}, nil
}

// EnsureLearnerRole creates the configured learner role on a PostgreSQL
// sandbox. It is a no-op for SQLite or when no role is configured.
func (e *Executor) EnsureLearnerRole(ctx context.Context) error {
	if e.cfg.Flavor != FlavorPostgres || e.cfg.LearnerRole == "" {
		return nil
	}
	statements, err := LearnerRoleStatements(e.cfg.LearnerRole)
	if err != nil {
		return err
	}
	for _, statement := range statements {
		if _, err := e.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("%w: learner role: %v", ErrUnavailable, err)
		}
	}
	e.logger.Info().Str("role", e.cfg.LearnerRole).Msg("learner role ready")
	return nil
}

// roleStatement switches the transaction to the learner role. A rollback to
// the learner savepoint restores the owner.
func (e *Executor) roleStatement() string {
	if e.cfg.Flavor != FlavorPostgres || e.cfg.LearnerRole == "" {
		return ""
	}
	return "SET LOCAL ROLE " + pgx.Identifier{e.cfg.LearnerRole}.Sanitize()
}
