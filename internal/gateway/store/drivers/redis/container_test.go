package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// startRedisContainer runs a real Redis server so the deny list is exercised
// against actual TTL expiry instead of miniredis' simulated clock.
func startRedisContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	mappedPort, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, mappedPort.Port())
}

func TestDenyListAgainstRedisContainer(t *testing.T) {
	addr := startRedisContainer(t)
	ctx := context.Background()

	d, err := NewDenyList(ctx, addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	require.NoError(t, d.Ping(ctx))

	require.NoError(t, d.Revoke(ctx, domain.RevokedToken{
		JTI:       "short-lived",
		UserID:    "u1",
		ExpiresAt: time.Now().Add(2 * time.Second),
	}))

	ok, err := d.IsRevoked(ctx, "short-lived")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		ok, err := d.IsRevoked(ctx, "short-lived")
		return err == nil && !ok
	}, 10*time.Second, 250*time.Millisecond)
}
