// Package cache memoizes per-file analysis results by content hash.
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/zeebo/blake3"

	"github.com/kluth/npm-feature-extractor/internal/analyzer"
)

// Key identifies file content.
type Key [32]byte

// KeyOf hashes content.
func KeyOf(content []byte) Key {
	return blake3.Sum256(content)
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Len    int    `json:"len"`
}

// Cache is a bounded LRU of analysis results shared by the scans of one
// extractor. Results must not be modified after Add. A nil *Cache is a
// valid, always-missing cache.
type Cache struct {
	lru    *lru.Cache[Key, analyzer.FileResult]
	hits   atomic.Uint64
	misses atomic.Uint64
}

// New returns a cache holding up to size entries, or nil when size is not
// positive.
func New(size int) (*Cache, error) {
	if size <= 0 {
		return nil, nil
	}
	l, err := lru.New[Key, analyzer.FileResult](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get returns the cached result for content.
func (c *Cache) Get(k Key) (analyzer.FileResult, bool) {
	if c == nil {
		return analyzer.FileResult{}, false
	}
	v, ok := c.lru.Get(k)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Add stores a result.
func (c *Cache) Add(k Key, v analyzer.FileResult) {
	if c == nil {
		return
	}
	c.lru.Add(k, v)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Len: c.lru.Len()}
}
