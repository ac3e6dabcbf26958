package duplicate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"autoclaude/internal/lock"
)

// DefaultCacheTTL is how long a cached embedding is trusted before it is
// regenerated.
const DefaultCacheTTL = 24 * time.Hour

type cacheEntry struct {
	Vector    []float32 `json:"vector"`
	ExpiresAt time.Time `json:"expires_at"`
}

type cacheFile struct {
	Entries map[string]cacheEntry `json:"entries"`
}

// Cache holds embeddings for one repo, keyed by a short content hash, so
// repeated comparisons against the same issue text never re-embed it.
type Cache struct {
	path        string
	ttl         time.Duration
	lockTimeout time.Duration
}

// NewCache returns a Cache persisting under dir/embedding_cache.json.
func NewCache(dir string, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{path: filepath.Join(dir, "embedding_cache.json"), ttl: ttl, lockTimeout: 5 * time.Second}
}

func contentKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])[:16]
}

// Get returns the cached vector for text, if present and unexpired.
func (c *Cache) Get(text string) ([]float32, bool, error) {
	data, err := readOrEmpty(c.path)
	if err != nil {
		return nil, false, err
	}
	cf := cacheFile{Entries: map[string]cacheEntry{}}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, false, err
		}
	}
	entry, ok := cf.Entries[contentKey(text)]
	if !ok || time.Now().After(entry.ExpiresAt) {
		return nil, false, nil
	}
	return entry.Vector, true, nil
}

// Put stores vector for text, expiring after the cache's TTL.
func (c *Cache) Put(text string, vector []float32) error {
	var cf cacheFile
	return lock.LockedJSONUpdate(c.path, c.lockTimeout, &cf, func() (any, error) {
		if cf.Entries == nil {
			cf.Entries = map[string]cacheEntry{}
		}
		cf.Entries[contentKey(text)] = cacheEntry{
			Vector:    vector,
			ExpiresAt: time.Now().UTC().Add(c.ttl),
		}
		return cf, nil
	})
}

func readOrEmpty(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// EmbedCached returns text's embedding, using the cache when possible and
// falling back to provider on a miss or expiry, writing the fresh result
// back to the cache.
func EmbedCached(ctx context.Context, provider Embedder, cache *Cache, text string) ([]float32, error) {
	if vec, ok, err := cache.Get(text); err != nil {
		return nil, err
	} else if ok {
		return vec, nil
	}
	vec, err := provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := cache.Put(text, vec); err != nil {
		return nil, err
	}
	return vec, nil
}
