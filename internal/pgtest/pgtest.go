//go:build integration

// Package pgtest starts a disposable PostgreSQL server for integration tests.
package pgtest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const port = "5432/tcp"

// Start runs a postgres container for the duration of the test and returns
// its connection string.
func Start(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{port},
		Env: map[string]string{
			"POSTGRES_USER":     "graph",
			"POSTGRES_PASSWORD": "graph",
			"POSTGRES_DB":       "graph",
		},
		WaitingFor: wait.ForListeningPort(nat.Port(port)).WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start postgres: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatalf("failed to get mapped port: %v", err)
	}
	return fmt.Sprintf("postgres://graph:graph@%s:%s/graph?sslmode=disable", host, mapped.Port())
}
