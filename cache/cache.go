package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/use-agent/labelscan/models"
)

// Analysis is a cached extraction result.
type Analysis struct {
	Report string
	Usage  *models.LLMUsage
	Model  string
}

// entry holds a cached analysis with its creation timestamp.
type entry struct {
	analysis  *Analysis
	createdAt time.Time
}

// Cache is a simple in-memory cache of analyses keyed by harvest content.
// It is safe for concurrent use.
type Cache struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration
	done       chan struct{}
	closeOnce  sync.Once
}

// New creates a new Cache with the given maximum number of entries.
// A background goroutine runs every 5 minutes to evict expired entries
// (older than 1 hour) until Close is called.
func New(maxEntries int) *Cache {
	c := &Cache{
		store:      make(map[string]*entry),
		maxEntries: max(maxEntries, 1),
		ttl:        time.Hour,
		done:       make(chan struct{}),
	}

	go c.cleanupLoop(5 * time.Minute)
	return c
}

// Key derives a cache key from everything that determines the analysis:
// the model, the instruction template, the notice text and the ordered
// SHA-256 digests of the image bytes.
func Key(model, prompt, notice string, digests [][sha256.Size]byte) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte("|"))
	h.Write([]byte(prompt))
	h.Write([]byte("|"))
	h.Write([]byte(notice))
	h.Write([]byte("|"))
	for _, d := range digests {
		h.Write(d[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get retrieves a cached analysis if it exists and is younger than maxAge.
// maxAge is in milliseconds. If maxAge <= 0, no cache lookup is performed.
// Returns the analysis and whether it was a cache hit.
func (c *Cache) Get(key string, maxAgeMs int) (*Analysis, bool) {
	if maxAgeMs <= 0 {
		return nil, false
	}

	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false
	}

	maxAge := time.Duration(maxAgeMs) * time.Millisecond
	if time.Since(e.createdAt) > maxAge {
		return nil, false
	}

	return e.analysis, true
}

// Set stores an analysis in the cache. If the cache is at capacity,
// a random entry is evicted to make room.
func (c *Cache) Set(key string, a *Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict one random entry if at capacity (map iteration is random in Go).
	if _, exists := c.store[key]; !exists && len(c.store) >= c.maxEntries {
		for k := range c.store {
			delete(c.store, k)
			break
		}
	}

	c.store[key] = &entry{
		analysis:  a,
		createdAt: time.Now(),
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// cleanupLoop evicts expired entries every interval.
func (c *Cache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired(time.Now())
		}
	}
}

func (c *Cache) evictExpired(now time.Time) {
	cutoff := now.Add(-c.ttl)
	c.mu.Lock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
	c.mu.Unlock()
}
