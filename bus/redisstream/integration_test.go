package redisstream_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dockrion/dockrion/bus/redisstream"
	"github.com/dockrion/dockrion/event"
)

// setupRedisContainer starts a real redis:7 container for integration
// testing. Docker may not be available in every environment (CI sandboxes,
// local dev without a daemon running); in that case the test is skipped
// rather than failed.
func setupRedisContainer(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	var container testcontainers.Container
	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		container, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()
	if containerErr != nil {
		t.Skipf("docker not available, skipping redis integration test: %v", containerErr)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisStreamBackend_AgainstRealRedis(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed integration test in -short mode")
	}
	client := setupRedisContainer(t)

	ctx := context.Background()
	b, err := redisstream.New(redisstream.Options{Client: client, BlockDuration: 200 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "real-run", mkEvent(event.TypeStarted, "real-run", 0)))
	require.NoError(t, b.Publish(ctx, "real-run", mkEvent(event.TypeComplete, "real-run", 1)))

	got, err := b.GetEvents(ctx, "real-run", 0, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
}
