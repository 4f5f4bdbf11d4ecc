package embedding

import "sync"

type cacheKey struct {
	text  string
	model string
}

// Cache memoizes embedding vectors by (text, model) for the life of the
// process. There is no eviction: entries are small and the set of schema
// element texts is bounded, but a very large catalog grows it without limit.
//
// Concurrent Put calls for the same key are last-write-wins; values for a key
// are deterministic so either write is correct.
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey][]float32
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey][]float32)}
}

// Get returns a copy of the cached vector for (text, model).
func (c *Cache) Get(text, model string) ([]float32, bool) {
	c.mu.RLock()
	v, ok := c.entries[cacheKey{text, model}]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return clone(v), true
}

// Put stores a copy of vec under (text, model).
func (c *Cache) Put(text, model string, vec []float32) {
	c.mu.Lock()
	c.entries[cacheKey{text, model}] = clone(vec)
	c.mu.Unlock()
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
