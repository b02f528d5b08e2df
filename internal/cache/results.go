// Package cache holds lookup results keyed by normalized query.
package cache

import (
	"slices"
	"sync"

	"github.com/couchcryptid/place-lookup-service/internal/domain"
)

// DefaultMaxEntries bounds a Results cache when no size is given.
const DefaultMaxEntries = 1000

// Results is a thread-safe LRU cache of lookup answers. A key maps either to
// a non-empty place list or to the known-empty marker ("looked up, nothing
// found"); an absent key means the query was never resolved.
type Results struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key    string
	places []domain.GeocodePlace // nil is the known-empty marker
	prev   *entry
	next   *entry
}

// NewResults creates a cache holding at most maxEntries queries. Values <= 0
// use DefaultMaxEntries.
func NewResults(maxEntries int) *Results {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Results{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

// Get returns the cached places for key and whether the key was present.
// A present known-empty entry returns (nil, true).
func (c *Results) Get(key string) ([]domain.GeocodePlace, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return slices.Clone(e.places), true
}

// Put stores places for key. An empty list is stored as the known-empty marker.
func (c *Results) Put(key string, places []domain.GeocodePlace) {
	var stored []domain.GeocodePlace
	if len(places) > 0 {
		stored = slices.Clone(places)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.places = stored
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, places: stored}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

// Len returns the number of cached queries, known-empty ones included.
func (c *Results) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Results) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *Results) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *Results) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *Results) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
