package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type cacheItem struct {
	key        string
	value      []byte
	expiration time.Time
}

// MemoryCache implements an in-memory LRU cache with TTL support
type MemoryCache struct {
	maxSize int
	items   map[string]*list.Element
	lru     *list.List
	mu      sync.Mutex
	stopCh  chan struct{}
	once    sync.Once
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(maxSize int) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}

	c := &MemoryCache{
		maxSize: maxSize,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
		stopCh:  make(chan struct{}),
	}
	go c.cleanup()

	return c
}

// Get retrieves a value from cache
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return nil, ErrNotFound
	}

	item := element.Value.(*cacheItem)
	if time.Now().After(item.expiration) {
		c.remove(key)
		return nil, ErrNotFound
	}

	c.lru.MoveToFront(element)
	return item.value, nil
}

// Set stores a value in cache with TTL
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiration := time.Now().Add(ttl)

	if element, ok := c.items[key]; ok {
		item := element.Value.(*cacheItem)
		item.value = value
		item.expiration = expiration
		c.lru.MoveToFront(element)
		return nil
	}

	c.items[key] = c.lru.PushFront(&cacheItem{key: key, value: value, expiration: expiration})
	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.remove(oldest.Value.(*cacheItem).key)
		}
	}

	return nil
}

// Delete removes a key from cache
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
	return nil
}

// Close stops the cleanup goroutine. Safe to call twice.
func (c *MemoryCache) Close() error {
	c.once.Do(func() { close(c.stopCh) })
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// remove must be called with mu held.
func (c *MemoryCache) remove(key string) {
	if element, ok := c.items[key]; ok {
		c.lru.Remove(element)
		delete(c.items, key)
	}
}

func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, element := range c.items {
				if now.After(element.Value.(*cacheItem).expiration) {
					c.remove(key)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}
