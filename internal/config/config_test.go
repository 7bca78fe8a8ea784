package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("SQLP_JWT_SECRET", "secret")
	t.Setenv("SQLP_DATABASE_URL", "postgres://catalog")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres://catalog", cfg.SandboxURL)
	require.Equal(t, 5, cfg.SandboxMaxConns)
	require.Equal(t, 30*time.Second, cfg.SandboxStatementTimeout)
	require.Equal(t, 2*time.Second, cfg.SandboxAcquireTimeout)
	require.Equal(t, 1000, cfg.SandboxMaxRows)
	require.Equal(t, "sqlp_learner", cfg.SandboxLearnerRole)
	require.Equal(t, 5000, cfg.QueryMaxLength)
	require.Equal(t, time.Second, cfg.FastSolveThreshold)
	require.Equal(t, ":8080", cfg.HTTPAddress())
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("SQLP_JWT_SECRET", "secret")
	t.Setenv("SQLP_DATABASE_URL", "postgres://catalog")
	t.Setenv("SQLP_SANDBOX_URL", "postgres://sandbox")
	t.Setenv("SQLP_SANDBOX_STATEMENT_TIMEOUT", "5s")
	t.Setenv("SQLP_SANDBOX_MAX_CONNS", "12")
	t.Setenv("SQLP_HTTP_HOST", "127.0.0.1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "postgres://sandbox", cfg.SandboxURL)
	require.Equal(t, 5*time.Second, cfg.SandboxStatementTimeout)
	require.Equal(t, 12, cfg.SandboxMaxConns)
	require.Equal(t, "127.0.0.1:8080", cfg.HTTPAddress())
}

func TestLoadLearnerRoleCanBeDisabled(t *testing.T) {
	t.Setenv("SQLP_JWT_SECRET", "secret")
	t.Setenv("SQLP_DATABASE_URL", "postgres://catalog")
	t.Setenv("SQLP_SANDBOX_LEARNER_ROLE", "None")

	cfg, err := Load()
	require.NoError(t, err)
	require.Empty(t, cfg.SandboxLearnerRole)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("SQLP_JWT_SECRET", "")
	t.Setenv("SQLP_DATABASE_URL", "postgres://catalog")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("SQLP_JWT_SECRET", "secret")
	t.Setenv("SQLP_SANDBOX_STATEMENT_TIMEOUT", "soon")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadProvisionerNeedsNoSecrets(t *testing.T) {
	t.Setenv("SQLP_JWT_SECRET", "")
	t.Setenv("SQLP_DATABASE_URL", "")
	t.Setenv("SQLP_SANDBOX_HOST_PORT", "6543")

	cfg, err := LoadProvisioner()
	require.NoError(t, err)
	require.Equal(t, "postgres:16-alpine", cfg.Image)
	require.Equal(t, "sqlp-sandbox", cfg.Name)
	require.Equal(t, "6543", cfg.HostPort)
	require.Equal(t, int64(512), cfg.MemoryLimitMB)
	require.Equal(t, 30*time.Second, cfg.ReadyTimeout)
	require.Equal(t, "sqlp_learner", cfg.LearnerRole)

	t.Setenv("SQLP_SANDBOX_READY_TIMEOUT", "whenever")
	_, err = LoadProvisioner()
	require.Error(t, err)
}
