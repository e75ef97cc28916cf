package cache

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const shardCount = 16

// MemoryCache is the default in-process cache: sharded maps with lazy TTL
// expiry. Reads and writes to different keys land on independent shards
// and do not contend; expired entries are removed on lookup, with an
// optional Sweep for memory reclamation.
type MemoryCache struct {
	shards [shardCount]*memoryShard
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	fetchedAt time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{}
	for i := range c.shards {
		c.shards[i] = &memoryShard{entries: make(map[string]memoryEntry)}
	}
	log.Info().Int("shards", shardCount).Msg("In-memory cache initialized")
	return c
}

func (c *MemoryCache) shard(key string) *memoryShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Get retrieves a value; an expired entry acts as a miss and is removed.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	s := c.shard(key)

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrCacheMiss
	}
	if time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		// Re-check under the write lock; a fresher write may have landed.
		if cur, ok := s.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, ErrCacheMiss
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, nil
}

// Set stores a value unless an entry produced by a later fetch is already
// present. Out-of-order completions for the same key therefore cannot
// clobber fresher data with stale data.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration, fetchedAt time.Time) error {
	s := c.shard(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[key]; ok && cur.fetchedAt.After(fetchedAt) && time.Now().Before(cur.expiresAt) {
		log.Debug().
			Str("key", key).
			Time("stored_fetch", cur.fetchedAt).
			Time("rejected_fetch", fetchedAt).
			Msg("Rejected stale cache write")
		return nil
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = memoryEntry{
		value:     stored,
		expiresAt: time.Now().Add(ttl),
		fetchedAt: fetchedAt,
	}
	return nil
}

// Delete removes a key from the cache
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	s := c.shard(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// InvalidateSubject removes every cached entry for one subject key.
func (c *MemoryCache) InvalidateSubject(_ context.Context, subjectKey string) error {
	prefix := subjectPrefix(subjectKey)
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key := range s.entries {
			if strings.HasPrefix(key, prefix) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		log.Debug().Str("subject", subjectKey).Int("removed", removed).Msg("Invalidated cached subject entries")
	}
	return nil
}

// Sweep removes expired entries eagerly and returns how many were
// reclaimed. Correctness does not depend on it; the engine schedules it
// periodically to bound memory.
func (c *MemoryCache) Sweep() int {
	now := time.Now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, entry := range s.entries {
			if now.After(entry.expiresAt) {
				delete(s.entries, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Cache sweep reclaimed expired entries")
	}
	return removed
}

// Len reports the number of live and expired entries currently held.
func (c *MemoryCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Ping implements Cache; the in-memory backend is always reachable.
func (c *MemoryCache) Ping(context.Context) error { return nil }

// Close implements Cache.
func (c *MemoryCache) Close() error { return nil }
