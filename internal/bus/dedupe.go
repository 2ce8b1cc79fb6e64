package bus

import (
	"container/list"
	"sync"
	"time"
)

// DedupeCache remembers message ids that were already processed or sent.
// With ttl == 0 and max == 0 it grows for the process lifetime; otherwise
// entries older than ttl are dropped by Prune and the oldest entries are
// evicted once more than max are held. Safe for concurrent use.
type DedupeCache struct {
	ttl time.Duration
	max int
	now func() time.Time

	mu    sync.Mutex
	index map[string]*list.Element
	order *list.List // oldest first
}

type dedupeEntry struct {
	id string
	at time.Time
}

// NewDedupeCache creates a cache. Zero ttl and max mean unbounded.
func NewDedupeCache(ttl time.Duration, max int) *DedupeCache {
	return &DedupeCache{
		ttl:   ttl,
		max:   max,
		now:   time.Now,
		index: make(map[string]*list.Element),
		order: list.New(),
	}
}

// Seen reports whether id was marked. It never changes the cache.
func (c *DedupeCache) Seen(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.index[id]
	if !ok {
		return false
	}
	if c.ttl > 0 && c.now().Sub(el.Value.(*dedupeEntry).at) > c.ttl {
		return false
	}
	return true
}

// Mark records id. Marking a live id again keeps its first timestamp.
func (c *DedupeCache) Mark(id string) {
	c.CheckAndMark(id)
}

// CheckAndMark marks id and reports whether it had already been seen.
func (c *DedupeCache) CheckAndMark(id string) bool {
	if id == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[id]; ok {
		if c.ttl <= 0 || c.now().Sub(el.Value.(*dedupeEntry).at) <= c.ttl {
			return true
		}
		c.removeLocked(el)
	}
	c.index[id] = c.order.PushBack(&dedupeEntry{id: id, at: c.now()})
	for c.max > 0 && c.order.Len() > c.max {
		c.removeLocked(c.order.Front())
	}
	return false
}

// Prune drops entries older than the ttl and returns how many were removed.
// It is a no-op without a ttl.
func (c *DedupeCache) Prune(now time.Time) int {
	if c.ttl <= 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for el := c.order.Front(); el != nil; {
		if now.Sub(el.Value.(*dedupeEntry).at) <= c.ttl {
			break
		}
		next := el.Next()
		c.removeLocked(el)
		removed++
		el = next
	}
	return removed
}

// Len returns the number of tracked ids.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *DedupeCache) removeLocked(el *list.Element) {
	c.order.Remove(el)
	delete(c.index, el.Value.(*dedupeEntry).id)
}
