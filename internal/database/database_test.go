package database

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlpractice-api/pkg/sandbox"
)

func TestConnectSandboxSQLite(t *testing.T) {
	db, flavor, err := ConnectSandbox(context.Background(), SandboxOptions{Driver: "sqlite", URL: ":memory:", MaxConns: 8})
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, sandbox.FlavorSQLite, flavor)
	require.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestConnectSandboxRejectsUnknownDriver(t *testing.T) {
	_, _, err := ConnectSandbox(context.Background(), SandboxOptions{Driver: "oracle", URL: "x"})
	require.Error(t, err)

	_, _, err = ConnectSandbox(context.Background(), SandboxOptions{Driver: "pgx"})
	require.Error(t, err)
}

func TestConnectRedis(t *testing.T) {
	server := miniredis.RunT(t)

	client, err := ConnectRedis(context.Background(), "redis://"+server.Addr())
	require.NoError(t, err)
	defer client.Close()

	_, err = ConnectRedis(context.Background(), "")
	require.Error(t, err)
}
