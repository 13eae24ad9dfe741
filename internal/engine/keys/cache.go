package keys

import (
	"sync"
	"time"

	"divgate/internal/platform/models"
)

type cachedCredential struct {
	cred     models.APICredential
	cachedAt time.Time
}

// CredentialCache holds recently resolved credentials keyed by hash. Expiry
// and active checks still run on every request against the cached copy.
type CredentialCache struct {
	store sync.Map // map[hash]*cachedCredential
	ttl   time.Duration
}

func NewCredentialCache(ttl time.Duration) *CredentialCache {
	return &CredentialCache{ttl: ttl}
}

func (c *CredentialCache) Get(hash string) (*models.APICredential, bool) {
	val, ok := c.store.Load(hash)
	if !ok {
		return nil, false
	}

	entry := val.(*cachedCredential)
	if time.Since(entry.cachedAt) > c.ttl {
		c.store.Delete(hash)
		return nil, false
	}

	cred := entry.cred
	return &cred, true
}

func (c *CredentialCache) Set(hash string, cred *models.APICredential) {
	c.store.Store(hash, &cachedCredential{cred: *cred, cachedAt: time.Now()})
}

func (c *CredentialCache) Delete(hash string) {
	c.store.Delete(hash)
}
