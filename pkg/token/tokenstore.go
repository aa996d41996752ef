package tokenstore

import (
	"time"

	"roomchat/pkg/cache"
)

// Store remembers revoked token ids until the token would have expired anyway.
type Store struct {
	revoked *cache.Cache[struct{}]
}

// New returns a revocation store. maxItems bounds memory; 0 means unlimited.
func New(maxItems int) *Store {
	return &Store{revoked: cache.New[struct{}](maxItems)}
}

// Revoke marks jti as revoked until exp. A past or zero exp is kept for an hour.
func (s *Store) Revoke(jti string, exp time.Time) {
	if s == nil || jti == "" {
		return
	}
	ttl := time.Until(exp)
	if ttl <= 0 {
		ttl = time.Hour
	}
	s.revoked.Set(jti, struct{}{}, ttl)
}

// IsRevoked reports whether jti was revoked and has not yet expired.
func (s *Store) IsRevoked(jti string) bool {
	if s == nil || jti == "" {
		return false
	}
	_, ok := s.revoked.Get(jti)
	return ok
}

// Janitor sweeps expired revocations until stop is closed.
func (s *Store) Janitor(interval time.Duration, stop <-chan struct{}) {
	s.revoked.Janitor(interval, stop)
}
