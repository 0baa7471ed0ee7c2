// Package respcache is a bounded least-recently-used cache of split model
// responses, shared across conversations. Entries never expire; a changed
// conversation context always produces a different fingerprint, so stale
// hits cannot occur.
package respcache

import (
	"sync"

	"github.com/halim/warden/internal/observability"
)

// Response is a cached model response: the raw text plus the split
// reasoning/answer parts. Immutable once stored.
type Response struct {
	Raw          string
	Reasoning    string
	HasReasoning bool
	Answer       string
	InputTokens  int
	OutputTokens int
}

type entry struct {
	fingerprint string
	response    Response
	prev        *entry
	next        *entry
}

// Cache is a fixed-capacity LRU cache keyed by request fingerprint. All
// operations take one exclusive critical section; recency order and the
// capacity invariant hold under concurrent use.
type Cache struct {
	capacity int

	mu      sync.Mutex
	entries map[string]*entry
	head    *entry // most recently used
	tail    *entry // least recently used
}

// New creates a cache holding at most capacity entries. Capacity below one
// is treated as one.
func New(capacity int) *Cache {
	observability.EnsureRegistered()

	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*entry),
	}
}

// Get returns the cached response for a fingerprint and refreshes its
// recency. The second return is false on a miss.
func (c *Cache) Get(fingerprint string) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		observability.RecordCacheMiss()
		return Response{}, false
	}

	c.moveToFront(e)
	observability.RecordCacheHit()
	return e.response, true
}

// Put inserts a response or refreshes the recency of an existing entry.
// Inserting beyond capacity evicts the least-recently-used entry.
func (c *Cache) Put(fingerprint string, response Response) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[fingerprint]; ok {
		e.response = response
		c.moveToFront(e)
		return
	}

	e := &entry{fingerprint: fingerprint, response: response}
	c.entries[fingerprint] = e
	c.addToFront(e)

	if len(c.entries) > c.capacity {
		c.evictOldest()
	}

	observability.SetCacheSize(len(c.entries))
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether a fingerprint is cached without refreshing its
// recency.
func (c *Cache) Contains(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[fingerprint]
	return ok
}

// Clear drops all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.head = nil
	c.tail = nil
	observability.SetCacheSize(0)
}

func (c *Cache) moveToFront(e *entry) {
	if e == c.head {
		return
	}

	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if e == c.tail {
		c.tail = e.prev
	}

	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) addToFront(e *entry) {
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache) evictOldest() {
	victim := c.tail
	if victim == nil {
		return
	}

	delete(c.entries, victim.fingerprint)
	c.tail = victim.prev
	if c.tail != nil {
		c.tail.next = nil
	} else {
		c.head = nil
	}

	observability.RecordCacheEviction()
}
