// Package cache keeps recently resolved Responses. Responses arriving for a
// hash that is already cached are merged into the cached entry, so repeated
// answers from different peers collapse into one.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/ZentaChain/marp-node/pkg/response"
)

const (
	DefaultSize   = 4096
	DefaultMaxTTL = time.Hour
)

type entry struct {
	resp    *response.Response
	expires time.Time
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Merges  uint64 `json:"merges"`

	// Rejected counts Puts dropped because merging them would exceed
	// response.MaxRecords.
	Rejected uint64 `json:"rejected"`
}

// Cache is an adaptive replacement cache of Responses keyed by hash. It is
// safe for concurrent use; stored and returned Responses are private copies.
type Cache struct {
	mu     sync.Mutex
	arc    *lru.ARCCache
	maxTTL time.Duration
	now    func() time.Time

	hits, misses, merges, rejected uint64
}

func New(size int, maxTTL time.Duration) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	if maxTTL <= 0 {
		maxTTL = DefaultMaxTTL
	}
	arc, err := lru.NewARC(size)
	if err != nil {
		return nil, errors.Wrap(err, "cache: create ARC")
	}
	return &Cache{arc: arc, maxTTL: maxTTL, now: time.Now}, nil
}

// lifetime is the smallest record TTL capped by maxTTL. A Response without
// records, or with a zero TTL record, is not cacheable.
func (c *Cache) lifetime(resp *response.Response) time.Duration {
	if resp.RecordCount() == 0 {
		return 0
	}
	ttl := c.maxTTL
	for _, rec := range resp.Records() {
		if d := time.Duration(rec.TTL) * time.Second; d < ttl {
			ttl = d
		}
	}
	return ttl
}

// Put folds resp into the cache. An existing live entry for the same hash is
// merged with resp; otherwise a copy of resp becomes the entry. A resp that
// would leave the entry with more than response.MaxRecords records is
// dropped and the entry kept as is. It returns the number of records cached
// for the hash afterwards.
func (c *Cache) Put(resp *response.Response) int {
	if resp == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := resp.Identifier()
	now := c.now()

	var live *response.Response
	if v, ok := c.arc.Peek(key); ok {
		if e := v.(*entry); now.Before(e.expires) {
			live = e.resp
		}
	}

	count := resp.RecordCount()
	if live != nil {
		count = live.MergedCount(resp)
	}
	if count > response.MaxRecords {
		c.rejected++
		if live == nil {
			return 0
		}
		return live.RecordCount()
	}

	cached := resp.Clone()
	if live != nil {
		live.Merge(cached)
		cached = live
		c.merges++
	}

	ttl := c.lifetime(cached)
	if ttl <= 0 {
		c.arc.Remove(key)
		return 0
	}
	c.arc.Add(key, &entry{resp: cached, expires: now.Add(ttl)})
	return cached.RecordCount()
}

// Get returns a copy of the cached Response for hash. Expired entries are
// evicted on the way.
func (c *Cache) Get(hash response.Hash) (*response.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.arc.Get(hash)
	if !ok {
		c.misses++
		return nil, false
	}
	e := v.(*entry)
	if !c.now().Before(e.expires) {
		c.arc.Remove(hash)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.resp.Clone(), true
}

// Remove drops hash from the cache.
func (c *Cache) Remove(hash response.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arc.Remove(hash)
}

// ExpireOldValues removes expired entries
func (c *Cache) ExpireOldValues() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, k := range c.arc.Keys() {
		v, ok := c.arc.Peek(k)
		if !ok {
			continue
		}
		if !now.Before(v.(*entry).expires) {
			c.arc.Remove(k)
			removed++
		}
	}
	return removed
}

func (c *Cache) Len() int {
	return c.arc.Len()
}

func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.arc.Purge()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:  c.arc.Len(),
		Hits:     c.hits,
		Misses:   c.misses,
		Merges:   c.merges,
		Rejected: c.rejected,
	}
}
