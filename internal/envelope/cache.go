package envelope

import "sync"

// CryptoCache is the process-local cache described in spec.md §4.A: it maps
// alias and DEK ids to the resolved plaintext DEK material needed to build
// an EncryptionService/DecryptionService for that key, so that encrypt/
// decrypt calls on a hot alias don't round-trip to the KeyStore (or, worse,
// to a remote EEK like AWS KMS) on every call. It is refreshed (entries
// dropped) on any alias or DEK mutation.
type CryptoCache struct {
	mu      sync.RWMutex
	aliases map[string]string // alias -> dek_id
	deks    map[string][]byte // dek_id -> plaintext key material
}

// newCryptoCache returns an empty cache. Entries are filled lazily on first
// use; nothing loads the persisted DEK or alias tables into it at boot.
func newCryptoCache() *CryptoCache {
	return &CryptoCache{
		aliases: make(map[string]string),
		deks:    make(map[string][]byte),
	}
}

func (c *CryptoCache) getAlias(alias string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dekID, ok := c.aliases[alias]
	return dekID, ok
}

func (c *CryptoCache) setAlias(alias, dekID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[alias] = dekID
}

// invalidateAlias drops a cached alias mapping. Called whenever an alias is
// created or repointed so the next resolve reads the fresh mapping
// (invariant I4 — an alias repoint is immediately visible to new lookups).
func (c *CryptoCache) invalidateAlias(alias string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.aliases, alias)
}

func (c *CryptoCache) getDEK(dekID string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	key, ok := c.deks[dekID]
	return key, ok
}

func (c *CryptoCache) setDEK(dekID string, key []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deks[dekID] = key
}
