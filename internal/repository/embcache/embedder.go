// Package embcache caches embeddings in-process with LRU eviction.
package embcache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/quiver-search/quiver/internal/domain"
)

// DefaultCapacity bounds the cache when no capacity is configured.
const DefaultCapacity = 1000

type entry struct {
	key    string
	vector []float32
}

// CachedEmbedder is a caching decorator over domain.Embedder. The key is
// the sha256 of the image bytes; identical images never hit the model
// twice while the entry is resident. Concurrent misses on the same key
// collapse into a single inner call via singleflight; distinct keys never
// block each other.
type CachedEmbedder struct {
	inner      domain.Embedder
	capacity   int
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger

	flight singleflight.Group

	mu    sync.Mutex
	ll    *list.List // front = most recently used
	items map[string]*list.Element
}

// New creates a caching decorator with the given capacity.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner domain.Embedder,
	capacity int,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedEmbedder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &CachedEmbedder{
		inner:      inner,
		capacity:   capacity,
		cacheTotal: cacheTotal,
		logger:     logger,
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
}

// Embed returns a cached embedding or computes one via the inner embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, image []byte) ([]float32, error) {
	key := cacheKey(image)

	if vec, ok := c.get(key); ok {
		c.incCache("hit")
		return vec, nil
	}
	c.incCache("miss")

	v, err, shared := c.flight.Do(key, func() (any, error) {
		// A sibling flight may have stored the vector between our miss
		// and this call.
		if vec, ok := c.get(key); ok {
			return vec, nil
		}
		vec, err := c.inner.Embed(ctx, image)
		if err != nil {
			return nil, fmt.Errorf("embed image: %w", err)
		}
		c.put(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		c.logger.Debug("Embedding computed once for concurrent callers", zap.String("key", key))
	}
	return v.([]float32), nil
}

// Len returns the number of resident entries.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *CachedEmbedder) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry).vector, true
}

func (c *CachedEmbedder) put(key string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		el.Value.(*entry).vector = vec
		return
	}

	c.items[key] = c.ll.PushFront(&entry{key: key, vector: vec})

	for c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*entry).key)
	}
}

func (c *CachedEmbedder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func cacheKey(image []byte) string {
	h := sha256.Sum256(image)
	return hex.EncodeToString(h[:])
}
