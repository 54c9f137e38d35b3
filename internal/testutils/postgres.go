// Package testutils provides shared fixtures for integration tests.
package testutils

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"fundarb/internal/database"
)

// StartPostgres boots a disposable postgres container, applies the
// repository migrations and returns an open pool. The container is torn
// down through t.Cleanup. Skipped under -short.
func StartPostgres(t *testing.T) *database.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpassword",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("could not start postgres container: %s", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("could not stop postgres container: %s", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("could not get container host: %s", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("could not get mapped port: %s", err)
	}

	db := connectWithRetry(t, host, port.Int())

	migrator, err := database.NewMigrator(db, migrationsDir(t))
	if err != nil {
		t.Fatalf("could not create migrator: %s", err)
	}
	if err := migrator.Up(); err != nil {
		t.Fatalf("could not apply migrations: %s", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// connectWithRetry absorbs the window where the container accepts TCP
// but postgres is still initializing.
func connectWithRetry(t *testing.T, host string, port int) *database.DB {
	t.Helper()

	cfg := &database.Config{
		Host:     host,
		Port:     port,
		User:     "testuser",
		Password: "testpassword",
		DBName:   "testdb",
		SSLMode:  "disable",
		MaxOpen:  5,
		MaxIdle:  2,
		Timeout:  10 * time.Second,
	}

	var (
		db  *database.DB
		err error
	)
	for attempt := 0; attempt < 5; attempt++ {
		db, err = database.NewConnection(cfg)
		if err == nil {
			return db
		}
		time.Sleep(time.Second)
	}
	t.Fatalf("could not connect to test database: %s", err)
	return nil
}

// migrationsDir resolves the repository migrations directory relative to
// this source file, so tests work from any package directory.
func migrationsDir(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("could not resolve caller path")
	}
	dir, err := filepath.Abs(filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations"))
	if err != nil {
		t.Fatalf("could not resolve migrations dir: %s", err)
	}
	return dir
}
