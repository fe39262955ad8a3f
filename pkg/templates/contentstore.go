package templates

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-mailbatch/pkg/objectstore"
)

// ContentStore reads template bodies from object storage by template key
// (the object path under the templates prefix).
type ContentStore struct {
	client objectstore.Client
	bucket string
	logger zerolog.Logger
}

// NewContentStore creates a content store over the given storage client and
// bucket.
func NewContentStore(client objectstore.Client, bucket string, logger zerolog.Logger) (*ContentStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client cannot be nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("content bucket is required")
	}
	return &ContentStore{
		client: client,
		bucket: bucket,
		logger: logger.With().Str("component", "TemplateContentStore").Logger(),
	}, nil
}

// Get returns the template body for key. A missing object surfaces
// objectstore.ErrObjectNotFound.
func (s *ContentStore) Get(ctx context.Context, key string) (string, error) {
	data, err := objectstore.ReadObject(ctx, s.client, s.bucket, key)
	if err != nil {
		return "", err
	}
	s.logger.Debug().Str("template_key", key).Int("bytes", len(data)).Msg("Fetched template content from object storage")
	return string(data), nil
}

// ContentFetcher is anything that can resolve a template body by key.
type ContentFetcher interface {
	Get(ctx context.Context, key string) (string, error)
}

// DefaultContentCacheCapacity bounds the per-instance body cache. Bodies are
// larger than metadata records so the default working set is smaller.
const DefaultContentCacheCapacity = 16

// ContentCache is a bounded LRU of template bodies in front of a
// ContentFetcher. Like the metadata cache it is scoped to one worker instance
// and holds entries for the instance's lifetime.
type ContentCache struct {
	fetcher  ContentFetcher
	capacity int
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
}

type contentEntry struct {
	key  string
	body string
}

// NewContentCache creates a body cache of the given capacity around fetcher.
func NewContentCache(fetcher ContentFetcher, capacity int, logger zerolog.Logger) *ContentCache {
	if capacity <= 0 {
		capacity = DefaultContentCacheCapacity
	}
	return &ContentCache{
		fetcher:  fetcher,
		capacity: capacity,
		logger:   logger.With().Str("component", "TemplateContentCache").Logger(),
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns the cached body for key, fetching on a miss. Fetch failures are
// not cached.
func (c *ContentCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		body := elem.Value.(*contentEntry).body
		c.mu.Unlock()
		c.logger.Debug().Str("template_key", key).Msg("Template body cache hit.")
		return body, nil
	}
	c.mu.Unlock()

	c.logger.Debug().Str("template_key", key).Msg("Template body cache miss, fetching from storage.")
	body, err := c.fetcher.Get(ctx, key)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*contentEntry).body = body
		c.order.MoveToFront(elem)
		return body, nil
	}
	c.entries[key] = c.order.PushFront(&contentEntry{key: key, body: body})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*contentEntry)
		c.order.Remove(oldest)
		delete(c.entries, evicted.key)
	}
	return body, nil
}

// Invalidate drops the cached body for key, if present.
func (c *ContentCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.Remove(elem)
		delete(c.entries, key)
	}
}
