package templatemeta

import (
	"container/list"
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/types"
)

// DefaultCacheCapacity bounds the in-process cache when no capacity is
// configured. Templates change rarely relative to send volume, so a small
// working set covers most executions.
const DefaultCacheCapacity = 64

// LRUCache is a bounded, least-recently-used, in-process cache in front of a
// metadata Source. A hit refreshes recency; a miss fetches from the source,
// inserts the result, and evicts the least-recently-used entry if the cache is
// over capacity. Negative results are never cached, so a transient source
// failure does not poison later lookups.
//
// The cache is owned by a single long-lived worker instance and passed by
// reference into each event handling; entries live for the instance's
// lifetime, not for a TTL.
type LRUCache struct {
	source   Source
	capacity int
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type lruEntry struct {
	key string
	md  *types.TemplateMetadata
}

// NewLRUCache creates a cache of the given capacity around source. A
// non-positive capacity falls back to DefaultCacheCapacity.
func NewLRUCache(source Source, capacity int, logger zerolog.Logger) *LRUCache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &LRUCache{
		source:   source,
		capacity: capacity,
		logger:   logger.With().Str("component", "MetadataLRUCache").Logger(),
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached metadata for key, fetching from the source on a
// miss. At most one source fetch happens per cold key per cache lifetime as
// long as the entry is not evicted or invalidated.
func (c *LRUCache) Get(ctx context.Context, key string) (*types.TemplateMetadata, error) {
	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		md := elem.Value.(*lruEntry).md
		c.mu.Unlock()
		c.logger.Debug().Str("template_key", key).Msg("Metadata cache hit.")
		return md, nil
	}
	c.mu.Unlock()

	c.logger.Debug().Str("template_key", key).Msg("Metadata cache miss, fetching from source.")
	md, err := c.source.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	c.insert(key, md)
	return md, nil
}

// Invalidate drops the entry for key, if present. The next Get refetches from
// the source.
func (c *LRUCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
		c.logger.Debug().Str("template_key", key).Msg("Metadata cache entry invalidated.")
	}
}

// Len returns the current number of cached entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *LRUCache) insert(key string, md *types.TemplateMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A concurrent Get may have inserted the key while the source fetch was in
	// flight; keep the freshest value and refresh recency either way.
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*lruEntry).md = md
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(&lruEntry{key: key, md: md})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*lruEntry)
		c.order.Remove(oldest)
		delete(c.entries, evicted.key)
		c.logger.Debug().Str("template_key", evicted.key).Msg("Evicted least-recently-used metadata entry.")
	}
}
