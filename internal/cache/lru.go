// Package cache provides caching implementations for Kestrel.
package cache

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

const (
	viewPrefix    = "view:"
	counterPrefix = "counter:"
)

// entry is one value held in a recency list.
type entry[V any] struct {
	key       string
	val       V
	expiresAt time.Time
}

// recency is a bounded most-recently-used list with per-entry expiry.
// It is not safe for concurrent use.
type recency[V any] struct {
	limit int
	index map[string]*list.Element
	ll    *list.List
}

func newRecency[V any](limit int) *recency[V] {
	return &recency[V]{limit: limit, index: make(map[string]*list.Element), ll: list.New()}
}

func (r *recency[V]) lookup(key string, now time.Time) (*entry[V], bool) {
	el, ok := r.index[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*entry[V])
	if now.After(e.expiresAt) {
		r.drop(el)
		return nil, false
	}
	r.ll.MoveToFront(el)
	return e, true
}

func (r *recency[V]) put(key string, val V, expiresAt time.Time) *entry[V] {
	if el, ok := r.index[key]; ok {
		e := el.Value.(*entry[V])
		e.val, e.expiresAt = val, expiresAt
		r.ll.MoveToFront(el)
		return e
	}
	e := &entry[V]{key: key, val: val, expiresAt: expiresAt}
	r.index[key] = r.ll.PushFront(e)
	for r.limit > 0 && r.ll.Len() > r.limit {
		r.drop(r.ll.Back())
	}
	return e
}

func (r *recency[V]) remove(key string) {
	if el, ok := r.index[key]; ok {
		r.drop(el)
	}
}

// sweep drops every expired entry and reports how many went.
func (r *recency[V]) sweep(now time.Time) int {
	n := 0
	for el := r.ll.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry[V]).expiresAt) {
			r.drop(el)
			n++
		}
		el = prev
	}
	return n
}

func (r *recency[V]) drop(el *list.Element) {
	r.ll.Remove(el)
	delete(r.index, el.Value.(*entry[V]).key)
}

func (r *recency[V]) len() int { return r.ll.Len() }

// LRUCache is the in-process cache: a size-bounded LRU of byte values with
// TTLs, plus fixed-window counters that are only bounded by expiry.
// It is the community tier cache and the L1 of TwoPhaseCache.
type LRUCache struct {
	mu         sync.Mutex
	defaultTTL time.Duration
	values     *recency[[]byte]
	counters   *recency[int64]
	now        func() time.Time
}

// NewLRUCache creates a cache holding at most maxSize values.
// Values stored with a non-positive TTL use defaultTTL.
func NewLRUCache(maxSize int, defaultTTL time.Duration) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &LRUCache{
		defaultTTL: defaultTTL,
		values:     newRecency[[]byte](maxSize),
		counters:   newRecency[int64](0),
		now:        time.Now,
	}
}

// Get returns the value for key, or nil when absent or expired.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.values.lookup(key, c.now()); ok {
		return e.val, nil
	}
	return nil, nil
}

// Set stores value under key for ttl.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.values.put(key, value, c.now().Add(ttl))
	return nil
}

// Delete removes a value and its cached view, if any.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.values.remove(key)
	c.values.remove(viewPrefix + key)
	return nil
}

// GetView retrieves a cached decision view.
func (c *LRUCache) GetView(ctx context.Context, key string) (*domain.DecisionView, error) {
	return decodeView(c.Get(ctx, viewPrefix+key))
}

// SetView caches a decision view.
func (c *LRUCache) SetView(ctx context.Context, key string, view *domain.DecisionView, ttl time.Duration) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return c.Set(ctx, viewPrefix+key, data, ttl)
}

// IncrementCounter bumps the counter for key. A missing or expired counter
// restarts at 1 with a fresh window.
func (c *LRUCache) IncrementCounter(ctx context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	key = counterPrefix + key
	if e, ok := c.counters.lookup(key, now); ok {
		e.val++
		return e.val, nil
	}
	c.counters.put(key, 1, now.Add(window))
	return 1, nil
}

// Cleanup drops expired values and counters.
func (c *LRUCache) Cleanup(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	return c.values.sweep(now) + c.counters.sweep(now), nil
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close empties the cache.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = newRecency[[]byte](c.values.limit)
	c.counters = newRecency[int64](0)
	return nil
}

// Stats returns the number of cached values and the capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values.len(), c.values.limit
}

func decodeView(data []byte, err error) (*domain.DecisionView, error) {
	if err != nil || data == nil {
		return nil, err
	}
	var v domain.DecisionView
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
