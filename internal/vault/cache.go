package vault

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/plumwheel/ragnos-vault/internal/secure"
)

// DefaultKeyCacheTTL bounds how long an unwrapped DEK stays resident before
// the next use forces a re-unwrap through the KMS.
const DefaultKeyCacheTTL = 15 * time.Minute

// destroyDelay gives in-flight encrypt calls holding a reference to an
// evicted DEK time to finish before the backing buffer is wiped.
const destroyDelay = 30 * time.Second

type cachedKey struct {
	buf      *secure.Buffer
	version  int
	loadedAt time.Time
}

// keyCache holds unwrapped active DEKs per workspace. Concurrent misses for
// the same workspace are collapsed through singleflight so the KMS sees one
// unwrap. Older key versions are never cached; decryption of historical
// ciphertext unwraps on demand.
type keyCache struct {
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu   sync.RWMutex
	keys map[string]*cachedKey
}

func newKeyCache(ttl time.Duration, now func() time.Time) *keyCache {
	if ttl <= 0 {
		ttl = DefaultKeyCacheTTL
	}
	if now == nil {
		now = time.Now
	}
	return &keyCache{ttl: ttl, now: now, keys: make(map[string]*cachedKey)}
}

// get returns the cached active DEK for the workspace, or calls load to
// materialize it. load must return the plaintext DEK and its version; the
// cache takes ownership of the plaintext and wipes the input slice.
func (c *keyCache) get(ctx context.Context, workspaceID string, load func(ctx context.Context) ([]byte, int, error)) (*secure.Buffer, int, error) {
	c.mu.RLock()
	entry, ok := c.keys[workspaceID]
	if ok && c.now().Sub(entry.loadedAt) < c.ttl {
		buf, version := entry.buf, entry.version
		c.mu.RUnlock()
		return buf, version, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do(workspaceID, func() (interface{}, error) {
		c.mu.RLock()
		entry, ok := c.keys[workspaceID]
		if ok && c.now().Sub(entry.loadedAt) < c.ttl {
			c.mu.RUnlock()
			return entry, nil
		}
		c.mu.RUnlock()

		plaintext, version, err := load(ctx)
		if err != nil {
			return nil, err
		}
		fresh := &cachedKey{
			buf:      secure.NewBuffer(plaintext),
			version:  version,
			loadedAt: c.now(),
		}
		secure.Zero(plaintext)
		c.replace(workspaceID, fresh)
		return fresh, nil
	})
	if err != nil {
		return nil, 0, err
	}
	entry = v.(*cachedKey)
	return entry.buf, entry.version, nil
}

// peek returns the cached DEK without triggering a load.
func (c *keyCache) peek(workspaceID string) (*secure.Buffer, int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.keys[workspaceID]
	if !ok || c.now().Sub(entry.loadedAt) >= c.ttl {
		return nil, 0, false
	}
	return entry.buf, entry.version, true
}

// put stores a DEK, taking a copy of plaintext. The caller keeps ownership
// of its slice.
func (c *keyCache) put(workspaceID string, plaintext []byte, version int) *secure.Buffer {
	fresh := &cachedKey{
		buf:      secure.NewBuffer(plaintext),
		version:  version,
		loadedAt: c.now(),
	}
	c.replace(workspaceID, fresh)
	return fresh.buf
}

// invalidate drops the cached DEK for the workspace so the next call
// re-reads the keyring. The old buffer is wiped after a grace period rather
// than immediately.
func (c *keyCache) invalidate(workspaceID string) {
	c.mu.Lock()
	entry := c.keys[workspaceID]
	delete(c.keys, workspaceID)
	c.mu.Unlock()

	if entry != nil {
		scheduleDestroy(entry.buf)
	}
}

func (c *keyCache) replace(workspaceID string, fresh *cachedKey) {
	c.mu.Lock()
	old := c.keys[workspaceID]
	c.keys[workspaceID] = fresh
	c.mu.Unlock()

	if old != nil && old != fresh {
		scheduleDestroy(old.buf)
	}
}

func scheduleDestroy(buf *secure.Buffer) {
	time.AfterFunc(destroyDelay, buf.Destroy)
}

// purge destroys every cached DEK immediately. Shutdown path only.
func (c *keyCache) purge() {
	c.mu.Lock()
	keys := c.keys
	c.keys = make(map[string]*cachedKey)
	c.mu.Unlock()

	for _, entry := range keys {
		entry.buf.Destroy()
	}
}
