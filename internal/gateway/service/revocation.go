package service

import (
	"context"

	"github.com/aussiebroadwan/securehealth/internal/gateway/domain"
	"github.com/aussiebroadwan/securehealth/internal/gateway/store"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DenyList holds session tokens revoked before their natural expiry.
type DenyList interface {
	Revoke(ctx context.Context, t domain.RevokedToken) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

const DefaultDenyListCacheSize = 10_000

// StoreDenyList keeps revocations in the database and remembers positive
// answers in an LRU. Negative answers are never cached, so a revocation is
// visible to the next lookup.
type StoreDenyList struct {
	Store store.Store
	cache *lru.Cache[string, struct{}]
}

func NewStoreDenyList(st store.Store, cacheSize int) (*StoreDenyList, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultDenyListCacheSize
	}
	cache, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	return &StoreDenyList{Store: st, cache: cache}, nil
}

func (d *StoreDenyList) Revoke(ctx context.Context, t domain.RevokedToken) error {
	if err := d.Store.RevokedTokens().RevokeToken(ctx, t); err != nil {
		return err
	}
	d.cache.Add(t.JTI, struct{}{})
	return nil
}

func (d *StoreDenyList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if d.cache.Contains(jti) {
		return true, nil
	}
	revoked, err := d.Store.RevokedTokens().IsTokenRevoked(ctx, jti)
	if err != nil {
		return false, err
	}
	if revoked {
		d.cache.Add(jti, struct{}{})
	}
	return revoked, nil
}
