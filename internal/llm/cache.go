package llm

import (
	"container/list"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// ModelCache keeps initialized model clients alive across requests, evicting
// the least recently used once capacity is reached. Local model handles are
// expensive to load, so eviction calls an optional unload hook.
type ModelCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
	onEvict  func(name string, model llms.Model)
}

type cacheEntry struct {
	name  string
	model llms.Model
}

func NewModelCache(capacity int, onEvict func(string, llms.Model)) *ModelCache {
	if capacity < 1 {
		capacity = 1
	}
	return &ModelCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		onEvict:  onEvict,
	}
}

// GetOrLoad returns the cached client for name, calling load on a miss. The
// load runs under the cache lock so concurrent callers share one client.
func (c *ModelCache) GetOrLoad(name string, load func() (llms.Model, error)) (llms.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[name]; ok {
		c.order.MoveToFront(el)
		return el.Value.(*cacheEntry).model, nil
	}

	model, err := load()
	if err != nil {
		return nil, err
	}
	c.entries[name] = c.order.PushFront(&cacheEntry{name: name, model: model})

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		entry := oldest.Value.(*cacheEntry)
		c.order.Remove(oldest)
		delete(c.entries, entry.name)
		if c.onEvict != nil {
			c.onEvict(entry.name, entry.model)
		}
	}
	return model, nil
}

// Unload drops a model from the cache, firing the eviction hook.
func (c *ModelCache) Unload(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[name]
	if !ok {
		return false
	}
	entry := el.Value.(*cacheEntry)
	c.order.Remove(el)
	delete(c.entries, name)
	if c.onEvict != nil {
		c.onEvict(entry.name, entry.model)
	}
	return true
}

// Len reports the number of loaded models.
func (c *ModelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
