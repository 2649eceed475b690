package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/stretchr/testify/require"
)

func setupDenyList(t *testing.T) (*DenyList, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	d, err := NewDenyList(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, mr
}

func TestRevokeAndExpire(t *testing.T) {
	ctx := context.Background()
	d, mr := setupDenyList(t)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.Now = func() time.Time { return now }

	require.NoError(t, d.Revoke(ctx, domain.RevokedToken{JTI: "abc", UserID: "u1", ExpiresAt: now.Add(time.Hour)}))

	ok, err := d.IsRevoked(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, time.Hour, mr.TTL(keyPrefix+"abc"))

	ok, err = d.IsRevoked(ctx, "other")
	require.NoError(t, err)
	require.False(t, ok)

	mr.FastForward(time.Hour + time.Second)
	ok, err = d.IsRevoked(ctx, "abc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRevokeAlreadyExpiredIsNoop(t *testing.T) {
	ctx := context.Background()
	d, mr := setupDenyList(t)

	require.NoError(t, d.Revoke(ctx, domain.RevokedToken{JTI: "old", ExpiresAt: time.Now().Add(-time.Minute)}))
	require.False(t, mr.Exists(keyPrefix+"old"))
}

func TestNewDenyListUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewDenyList(context.Background(), addr)
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	d, _ := setupDenyList(t)
	require.NoError(t, d.Ping(context.Background()))
}
