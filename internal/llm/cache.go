package llm

import (
	"container/list"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaCache is a bounded, recency-ordered cache of compiled schemas.
type SchemaCache struct {
	mu    sync.Mutex
	cap   int
	ll    *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key string
	val *jsonschema.Schema
}

func NewSchemaCache(capacity int) *SchemaCache {
	if capacity <= 0 {
		capacity = 16
	}
	return &SchemaCache{cap: capacity, ll: list.New(), items: map[string]*list.Element{}}
}

// Get returns a cached schema and marks it most recently used.
func (c *SchemaCache) Get(key string) (*jsonschema.Schema, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).val, true
}

// Add inserts or refreshes key. It returns the evicted key, if any.
func (c *SchemaCache) Add(key string, val *jsonschema.Schema) (evicted string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, hit := c.items[key]; hit {
		el.Value.(*cacheEntry).val = val
		c.ll.MoveToFront(el)
		return "", false
	}
	c.items[key] = c.ll.PushFront(&cacheEntry{key: key, val: val})
	if c.ll.Len() <= c.cap {
		return "", false
	}
	oldest := c.ll.Back()
	c.ll.Remove(oldest)
	k := oldest.Value.(*cacheEntry).key
	delete(c.items, k)
	return k, true
}

func (c *SchemaCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Keys lists keys from most to least recently used.
func (c *SchemaCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(*cacheEntry).key)
	}
	return out
}
