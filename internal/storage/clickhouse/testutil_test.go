package clickhouse

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"leverage-sync/internal/storage/migrations"
)

// setupTestDB starts ClickHouse, opens the archive database with the
// embedded schema and returns a connection to it.
// Returns a cleanup function that must be called when done.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	dsn, stop := startClickHouse(t)
	ms, err := migrations.ClickHouse()
	require.NoError(t, err)

	conn, err := OpenArchive(context.Background(), dsn, ms)
	require.NoError(t, err)

	cleanup := func() {
		conn.Close()
		stop()
	}
	return conn, cleanup
}

// startClickHouse starts a container and returns a DSN naming a database
// that does not exist yet.
func startClickHouse(t *testing.T) (string, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60 * time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	dsn := fmt.Sprintf("clickhouse://%s:%s/archive", host, port.Port())
	return dsn, func() { _ = container.Terminate(ctx) }
}
