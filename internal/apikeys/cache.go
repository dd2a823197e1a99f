package apikeys

import (
	"fmt"
	"sync"
	"time"
)

// plaintextCache holds freshly issued key secrets for a bounded window so
// the owner can re-read them once more. After the TTL the plaintext is gone
// for good; only the bcrypt hash survives.
type plaintextCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
}

type cacheEntry struct {
	token     string
	expiresAt time.Time
}

func newPlaintextCache(ttl time.Duration) *plaintextCache {
	c := &plaintextCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
	}
	go c.sweep()
	return c
}

// cacheKey scopes entries to both the key and its owner, so one user can
// never read another user's secret even with a guessed key ID.
func cacheKey(keyID, userID uint) string {
	return fmt.Sprintf("%d:%d", keyID, userID)
}

func (c *plaintextCache) put(keyID, userID uint, token string) {
	c.mu.Lock()
	c.entries[cacheKey(keyID, userID)] = cacheEntry{
		token:     token,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

func (c *plaintextCache) get(keyID, userID uint) (string, bool) {
	c.mu.RLock()
	entry, ok := c.entries[cacheKey(keyID, userID)]
	c.mu.RUnlock()

	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.token, true
}

func (c *plaintextCache) remove(keyID, userID uint) {
	c.mu.Lock()
	delete(c.entries, cacheKey(keyID, userID))
	c.mu.Unlock()
}

// sweep drops expired entries every few minutes to bound memory.
func (c *plaintextCache) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for key, entry := range c.entries {
			if now.After(entry.expiresAt) {
				delete(c.entries, key)
			}
		}
		c.mu.Unlock()
	}
}
