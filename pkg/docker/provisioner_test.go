package docker

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

func TestWithDefaults(t *testing.T) {
	cfg := withDefaults(Config{HostPort: "55432"})

	require.Equal(t, "postgres:16-alpine", cfg.Image)
	require.Equal(t, "sqlp-sandbox", cfg.Name)
	require.Equal(t, "127.0.0.1", cfg.BindAddress)
	require.Equal(t, int64(512), cfg.MemoryLimitMB)
	require.Equal(t, 30*time.Second, cfg.ReadyTimeout)
	require.Equal(t, "55432", cfg.HostPort)
	require.Equal(t, sandbox.DefaultLearnerRole, cfg.LearnerRole)
}

func TestBootstrapLearnerRoleValidatesBeforeConnecting(t *testing.T) {
	err := BootstrapLearnerRole(context.Background(), "postgres://unused@127.0.0.1:1/none", "learner; drop")
	require.ErrorIs(t, err, sandbox.ErrInvalidRole)
}

func TestContainerAndHostConfig(t *testing.T) {
	p := &Provisioner{cfg: withDefaults(Config{Password: "p@ss word", MemoryLimitMB: 256, CPUShares: 512, HostPort: "6543"})}

	containerCfg := p.containerConfig()
	require.Contains(t, containerCfg.Env, "POSTGRES_PASSWORD=p@ss word")
	require.Contains(t, containerCfg.ExposedPorts, postgresPort)
	require.Equal(t, "true", containerCfg.Labels[sandboxLabel])

	hostCfg := p.hostConfig()
	require.Equal(t, int64(256*1024*1024), hostCfg.Resources.Memory)
	require.Equal(t, int64(512), hostCfg.Resources.CPUShares)
	require.Equal(t, []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "6543"}}, hostCfg.PortBindings[postgresPort])
	require.Contains(t, hostCfg.Tmpfs, dataDir)
}

func TestDSNEscapesCredentials(t *testing.T) {
	p := &Provisioner{cfg: withDefaults(Config{Password: "p@ss word"})}

	parsed, err := url.Parse(p.dsn("6543"))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6543", parsed.Host)
	require.Equal(t, "/sandbox", parsed.Path)
	password, _ := parsed.User.Password()
	require.Equal(t, "p@ss word", password)
	require.Equal(t, "disable", parsed.Query().Get("sslmode"))
}

func TestPublishedPort(t *testing.T) {
	port, err := publishedPort(nat.PortMap{postgresPort: {{HostIP: "0.0.0.0", HostPort: ""}, {HostIP: "127.0.0.1", HostPort: "49153"}}})
	require.NoError(t, err)
	require.Equal(t, "49153", port)

	_, err = publishedPort(nat.PortMap{})
	require.Error(t, err)
}

func TestWaitReadyRetries(t *testing.T) {
	attempts := 0
	ready := func(context.Context, string) error {
		attempts++
		if attempts < 3 {
			return errors.New("the database system is starting up")
		}
		return nil
	}

	require.NoError(t, waitReady(context.Background(), ready, "dsn", time.Second, time.Millisecond))
	require.Equal(t, 3, attempts)
}

func TestWaitReadyTimesOut(t *testing.T) {
	refused := errors.New("connection refused")
	err := waitReady(context.Background(), func(context.Context, string) error { return refused }, "dsn", 20*time.Millisecond, 5*time.Millisecond)
	require.ErrorIs(t, err, refused)
}
