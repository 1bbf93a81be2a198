package auth

import (
	"context"
	"sync"
	"time"
)

// CachedStore wraps a Store with a TTL cache so a remote backend is not hit
// on every authentication. Negative results are not cached.
type CachedStore struct {
	inner Store
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	cred    Credential
	fetched time.Time
}

func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachedStore) Lookup(ctx context.Context, clientID string) (Credential, error) {
	c.mu.Lock()
	if e, ok := c.entries[clientID]; ok && c.now().Sub(e.fetched) < c.ttl {
		c.mu.Unlock()
		return e.cred, nil
	}
	c.mu.Unlock()

	cred, err := c.inner.Lookup(ctx, clientID)
	if err != nil {
		return Credential{}, err
	}
	c.mu.Lock()
	c.entries[clientID] = cacheEntry{cred: cred, fetched: c.now()}
	c.mu.Unlock()
	return cred, nil
}

// Invalidate drops the cached credential for a client id, forcing the next
// Lookup to consult the backing store. Used on key mismatch so rotated keys
// take effect before the TTL expires.
func (c *CachedStore) Invalidate(clientID string) {
	c.mu.Lock()
	delete(c.entries, clientID)
	c.mu.Unlock()
}
