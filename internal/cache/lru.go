// Package cache provides the tenant-scoped key/value store behind alert
// de-duplication and location history. The community tier runs an in-process
// LRU; the pro tier puts Redis behind it.
package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LRUCache is the community tier store and the read tier of TieredCache.
// Claims are kept apart from the recency list so value churn cannot evict a
// reservation early.
type LRUCache struct {
	capacity int
	now      func() time.Time

	mu     sync.Mutex
	index  map[string]*list.Element
	recent *list.List           // front is most recently used
	claims map[string]time.Time // scoped key -> reservation expiry
}

type lruItem struct {
	key      string
	value    []byte
	deadline time.Time // zero never expires
}

// NewLRUCache holds at most capacity values; non-positive means 10000.
func NewLRUCache(capacity int) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	c := &LRUCache{capacity: capacity, now: time.Now}
	c.reset()
	return c
}

func (c *LRUCache) reset() {
	c.index = make(map[string]*list.Element)
	c.recent = list.New()
	c.claims = make(map[string]time.Time)
}

// Get returns nil, nil on a miss or an expired value.
func (c *LRUCache) Get(_ context.Context, tenantID string, key string) ([]byte, error) {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el := c.lookup(k)
	if el == nil {
		return nil, nil
	}
	c.recent.MoveToFront(el)
	return el.Value.(*lruItem).value, nil
}

// Set stores value; a non-positive ttl keeps it until it is evicted.
func (c *LRUCache) Set(_ context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return err
	}

	var deadline time.Time
	if ttl > 0 {
		deadline = c.now().Add(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[k]; ok {
		item := el.Value.(*lruItem)
		item.value, item.deadline = value, deadline
		c.recent.MoveToFront(el)
		return nil
	}

	c.index[k] = c.recent.PushFront(&lruItem{key: k, value: value, deadline: deadline})
	for c.recent.Len() > c.capacity {
		c.evict(c.recent.Back())
	}
	return nil
}

func (c *LRUCache) Delete(_ context.Context, tenantID string, key string) error {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[k]; ok {
		c.evict(el)
	}
	return nil
}

// Claim reserves key for ttl and reports whether this call won it. Lapsed
// reservations are swept once they reach the value capacity.
func (c *LRUCache) Claim(_ context.Context, tenantID string, key string, ttl time.Duration) (bool, error) {
	k, err := scopedKey(tenantID, key)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if until, held := c.claims[k]; held && now.Before(until) {
		return false, nil
	}
	if len(c.claims) >= c.capacity {
		for ck, until := range c.claims {
			if !now.Before(until) {
				delete(c.claims, ck)
			}
		}
	}
	c.claims[k] = now.Add(ttl)
	return true, nil
}

func (c *LRUCache) Ping(context.Context) error { return nil }

// Close drops every value and claim.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	c.reset()
	c.mu.Unlock()
	return nil
}

// Stats reports the number of held values and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recent.Len(), c.capacity
}

// lookup returns the live element for k, dropping it if it has expired.
// Caller holds mu.
func (c *LRUCache) lookup(k string) *list.Element {
	el, ok := c.index[k]
	if !ok {
		return nil
	}
	if d := el.Value.(*lruItem).deadline; !d.IsZero() && c.now().After(d) {
		c.evict(el)
		return nil
	}
	return el
}

func (c *LRUCache) evict(el *list.Element) {
	if el == nil {
		return
	}
	c.recent.Remove(el)
	delete(c.index, el.Value.(*lruItem).key)
}

func scopedKey(tenantID, key string) (string, error) {
	if tenantID == "" {
		return "", domain.ErrTenantRequired
	}
	return tenantID + ":" + key, nil
}
