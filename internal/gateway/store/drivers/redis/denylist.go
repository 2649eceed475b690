// Package redis keeps the session-token deny-list in Redis so that several
// gateway replicas share one view of logged-out tokens.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/go-redis/redis/v8"
)

const keyPrefix = "securehealth:revoked:"

type DenyList struct {
	client *redis.Client

	// Now overrides the clock used to compute key TTLs.
	Now func() time.Time
}

// NewDenyList connects to addr (host:port) and verifies the connection.
func NewDenyList(ctx context.Context, addr string) (*DenyList, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &DenyList{client: client, Now: time.Now}, nil
}

// Revoke stores the jti with a TTL equal to the token's remaining lifetime.
// Tokens that have already expired need no entry.
func (d *DenyList) Revoke(ctx context.Context, t domain.RevokedToken) error {
	ttl := t.ExpiresAt.Sub(d.Now())
	if ttl <= 0 {
		return nil
	}
	if err := d.client.Set(ctx, keyPrefix+t.JTI, t.UserID, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (d *DenyList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := d.client.Exists(ctx, keyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (d *DenyList) Ping(ctx context.Context) error {
	return d.client.Ping(ctx).Err()
}

func (d *DenyList) Close() error {
	return d.client.Close()
}
