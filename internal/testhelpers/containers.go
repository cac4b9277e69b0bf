//go:build integration

package testhelpers

import (
	"context"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// StartContainer runs image with a single port exposed and returns the host:port it is
// reachable on. The container is terminated when the test ends. Tests are
// skipped when no container runtime is available.
func StartContainer(t *testing.T, image, port string, env map[string]string, waitFor wait.Strategy) string {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        image,
		ExposedPorts: []string{port},
		Env:          env,
		WaitingFor:   waitFor,
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start %s container: %v", image, err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	endpoint, err := c.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("container endpoint: %v", err)
	}
	return endpoint
}

// StartMemcached starts memcached and returns its address.
func StartMemcached(t *testing.T) string {
	return StartContainer(t, "memcached:1.6-alpine", "11211/tcp", nil,
		wait.ForListeningPort("11211/tcp").WithStartupTimeout(30*time.Second))
}

// StartRedis starts redis and returns its address.
func StartRedis(t *testing.T) string {
	return StartContainer(t, "redis:7-alpine", "6379/tcp", nil,
		wait.ForLog("Ready to accept connections").WithStartupTimeout(30*time.Second))
}

// StartPostgres starts postgres and returns a DSN for it.
func StartPostgres(t *testing.T) string {
	addr := StartContainer(t, "postgres:16-alpine", "5432/tcp",
		map[string]string{
			"POSTGRES_USER":     "weather",
			"POSTGRES_PASSWORD": "weather",
			"POSTGRES_DB":       "weather",
		},
		wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60*time.Second))
	return "postgres://weather:weather@" + addr + "/weather?sslmode=disable"
}
