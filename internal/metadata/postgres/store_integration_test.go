//go:build integration

// Integration tests for the postgres metadata backend against a real
// PostgreSQL instance, run with:
//
//	go test -tags integration -v ./internal/metadata/postgres/...
package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/marcua/ayb/internal/metadata"
)

// startPostgresContainer boots a disposable postgres instance via
// testcontainers-go's generic container API and returns a DSN reachable
// from the test process.
func startPostgresContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "ayb",
			"POSTGRES_PASSWORD": "ayb",
			"POSTGRES_DB":       "ayb_metadata",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://ayb:ayb@%s:%s/ayb_metadata?sslmode=disable", host, port.Port())
}

// TestStore_CreateAndGetDatabase exercises the permission parity surface
// the HTTP and pgwire front ends both depend on: a database created
// through the postgres backend must read back with the same identity
// both front ends rely on for access-level computation (spec.md §4.5,
// §4.6).
func TestStore_CreateAndGetDatabase(t *testing.T) {
	dsn := startPostgresContainer(t)

	store, err := Open(dsn)
	require.NoError(t, err)

	ctx := context.Background()

	entity, err := store.CreateEntity(ctx, "acme", metadata.EntityTypeUser)
	require.NoError(t, err)

	created, err := store.CreateDatabase(ctx, entity.ID, "widgets", metadata.DBTypeSQLite, metadata.PublicSharingNoAccess)
	require.NoError(t, err)

	fetched, err := store.GetDatabase(ctx, "acme", "widgets")
	require.NoError(t, err)
	require.Equal(t, created.ID, fetched.ID)
	require.Equal(t, metadata.PublicSharingNoAccess, fetched.PublicSharingLevel)
}
