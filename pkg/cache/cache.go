// Package cache holds loaded volumes within a byte budget. Volumes leaving
// the cache are dropped from the session registry and reported to the
// OnEvicted function, which unbinds them from their viewports.
package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/golang/groupcache/lru"

	"volumeview/internal/models"
	"volumeview/pkg/logging"
	"volumeview/pkg/registry"
)

// ErrTooLarge is returned when one volume exceeds the whole budget
var ErrTooLarge = errors.New("volume exceeds cache budget")

// Cache is a least-recently-used volume cache bounded by total footprint
type Cache struct {
	maxBytes int64
	registry *registry.Registry

	mu        sync.Mutex
	onEvicted func(volumeID string)
	lru       *lru.Cache
	sizes     map[string]int64
	bytes     int64
}

// New creates a cache holding at most maxBytes of volume data. Evictions
// are reported to reg, which may be nil.
func New(maxBytes int64, reg *registry.Registry) *Cache {
	c := &Cache{
		maxBytes: maxBytes,
		registry: reg,
		lru:      lru.New(0),
		sizes:    make(map[string]int64),
	}
	c.lru.OnEvicted = c.evicted
	return c
}

// evicted runs with c.mu held
func (c *Cache) evicted(key lru.Key, _ interface{}) {
	id := key.(string)
	n := c.sizes[id]
	delete(c.sizes, id)
	c.bytes -= n

	if c.registry != nil {
		c.registry.DropVolume(id)
	}
	if c.onEvicted != nil {
		c.onEvicted(id)
	}
	logging.Infof("cache: released volume %s (%s), %s of %s in use", id,
		humanize.Bytes(uint64(n)), humanize.Bytes(uint64(c.bytes)), humanize.Bytes(uint64(c.maxBytes)))
}

// OnEvicted sets a function called with the id of every volume leaving the
// cache, after its registry entries are dropped. Rendering layers use it to
// unbind the volume's actors so a registry resync does not restore them.
// fn runs with the cache locked and must not call back into it.
func (c *Cache) OnEvicted(fn func(volumeID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvicted = fn
}

// Put adds or replaces v, evicting the least recently used volumes until
// the budget holds.
func (c *Cache) Put(v *models.Volume) error {
	n := v.Footprint()
	if n > c.maxBytes {
		return fmt.Errorf("%w: volume %s needs %s, budget is %s", ErrTooLarge, v.ID,
			humanize.Bytes(uint64(n)), humanize.Bytes(uint64(c.maxBytes)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.bytes += n - c.sizes[v.ID]
	c.sizes[v.ID] = n
	c.lru.Add(v.ID, v)

	// v is the most recent entry, so it is never the one evicted here.
	for c.bytes > c.maxBytes && c.lru.Len() > 1 {
		c.lru.RemoveOldest()
	}
	logging.Debugf("cache: holding volume %s (%s)", v.ID, humanize.Bytes(uint64(n)))
	return nil
}

// Get returns the volume with the given id and marks it recently used
func (c *Cache) Get(id string) (*models.Volume, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.lru.Get(id)
	if !ok {
		return nil, false
	}
	return value.(*models.Volume), true
}

// Remove drops the volume and its registry entries, then calls the
// OnEvicted function like an eviction does
func (c *Cache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(id)
}

// Len returns the number of cached volumes
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Bytes returns the total footprint of cached volumes
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}
