package embedding

import (
	"context"
	"sync"

	"github.com/zeebo/blake3"
)

// Cache wraps an Engine with a bounded in-memory cache keyed by the blake3
// hash of (model_id, text). Because the underlying contract is deterministic,
// a cached vector is indistinguishable from a fresh one; callers cannot
// observe the cache.
type Cache struct {
	inner Engine
	max   int

	mu    sync.Mutex
	vecs  map[[32]byte][]float32
	order [][32]byte // FIFO eviction
}

// NewCache wraps engine with a cache holding at most max entries.
func NewCache(engine Engine, max int) *Cache {
	if max <= 0 {
		max = 1024
	}
	return &Cache{
		inner: engine,
		max:   max,
		vecs:  make(map[[32]byte][]float32, max),
	}
}

func (c *Cache) key(text string) [32]byte {
	h := blake3.New()
	h.Write([]byte(c.inner.Name()))
	h.Write([]byte{0})
	h.Write([]byte(text))
	var key [32]byte
	copy(key[:], h.Sum(nil))
	return key
}

// Embed returns the cached vector when present, otherwise delegates.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	c.mu.Lock()
	if vec, ok := c.vecs[key]; ok {
		c.mu.Unlock()
		return vec, nil
	}
	c.mu.Unlock()

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(key, vec)
	return vec, nil
}

// EmbedBatch splits the batch into cached and uncached texts and delegates
// only the misses.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	c.mu.Lock()
	for i, text := range texts {
		if vec, ok := c.vecs[c.key(text)]; ok {
			out[i] = vec
		} else {
			missIdx = append(missIdx, i)
			missTexts = append(missTexts, text)
		}
	}
	c.mu.Unlock()

	if len(missTexts) > 0 {
		vecs, err := c.inner.EmbedBatch(ctx, missTexts)
		if err != nil {
			return nil, err
		}
		for j, i := range missIdx {
			out[i] = vecs[j]
			c.store(c.key(texts[i]), vecs[j])
		}
	}
	return out, nil
}

func (c *Cache) store(key [32]byte, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.vecs[key]; ok {
		return
	}
	for len(c.vecs) >= c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.vecs, oldest)
	}
	c.vecs[key] = vec
	c.order = append(c.order, key)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.vecs)
}

// Dimensions returns the dimensionality of embeddings.
func (c *Cache) Dimensions() int {
	return c.inner.Dimensions()
}

// Name returns the engine name.
func (c *Cache) Name() string {
	return c.inner.Name()
}

// HealthCheck delegates to the inner engine when it supports probing.
func (c *Cache) HealthCheck(ctx context.Context) error {
	if hc, ok := c.inner.(HealthChecker); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}
