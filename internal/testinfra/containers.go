// Package testinfra starts throwaway Postgres and Redis containers for store tests.
// Tests using it skip when Docker is not reachable or -short is set.
package testinfra

import (
	"context"
	"fmt"
	"os/exec"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	postgresImage = "postgres:16-alpine"
	postgresPort  = "5432/tcp"
	redisImage    = "redis:7-alpine"
	redisPort     = "6379/tcp"

	startTimeout = 90 * time.Second
)

// SkipIfNoDocker skips the test if Docker is not available
func SkipIfNoDocker(t *testing.T) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping container test in short mode")
	}
	if !IsDockerAvailable() {
		t.Skip("Skipping test: Docker not available")
	}
}

// IsDockerAvailable checks if the Docker daemon is running and accessible
func IsDockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "info")
	return cmd.Run() == nil
}

// StartPostgres runs an empty Postgres and returns its connection URL.
// The container is terminated when the test finishes.
func StartPostgres(t *testing.T) string {
	t.Helper()
	SkipIfNoDocker(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        postgresImage,
			ExposedPorts: []string{postgresPort},
			Env: map[string]string{
				"POSTGRES_USER":     "leadsync",
				"POSTGRES_PASSWORD": "leadsync",
				"POSTGRES_DB":       "leadsync",
			},
			// the server logs readiness once for the init run and once for the real start
			WaitingFor: wait.ForAll(
				wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
				wait.ForListeningPort(postgresPort),
			).WithDeadline(startTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() { CleanupContainer(t, context.Background(), container) })

	port, err := container.MappedPort(ctx, postgresPort)
	if err != nil {
		t.Fatalf("get mapped port: %v", err)
	}
	host := containerHost(t, ctx, container)
	return fmt.Sprintf("postgres://leadsync:leadsync@%s:%s/leadsync?sslmode=disable", host, port.Port())
}

// StartRedis runs an empty Redis and returns a redis:// URL for it
func StartRedis(t *testing.T) string {
	t.Helper()
	SkipIfNoDocker(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        redisImage,
			ExposedPorts: []string{redisPort},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections"),
				wait.ForListeningPort(redisPort),
			).WithDeadline(startTimeout),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() { CleanupContainer(t, context.Background(), container) })

	port, err := container.MappedPort(ctx, redisPort)
	if err != nil {
		t.Fatalf("get mapped port: %v", err)
	}
	host := containerHost(t, ctx, container)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func containerHost(t *testing.T, ctx context.Context, container testcontainers.Container) string {
	t.Helper()

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	return host
}

// CleanupContainer terminates the container and logs instead of failing
func CleanupContainer(t *testing.T, ctx context.Context, container testcontainers.Container) {
	t.Helper()

	if container != nil {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	}
}
