// Arclight - Firewall Attack Telemetry and Geographic Broadcast
// Copyright 2026 The Arclight Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arcspark/arclight

package geo

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/arcspark/arclight/internal/metrics"
	"github.com/arcspark/arclight/internal/models"
)

// cacheEntry is a node in the cache's doubly-linked recency list.
// A nil value is a cached negative result: the lookup already ran and found
// no data for this address.
type cacheEntry struct {
	key       string
	value     *models.GeoRecord
	prev      *cacheEntry
	next      *cacheEntry
	expiresAt time.Time
}

// Cache is a thread-safe, capacity-bounded LRU cache with per-entry TTL in
// front of a geolocation Provider.
//
// Expiry is lazy: an entry past its TTL is treated as a miss on the next
// read and removed then. There is no background sweep. Concurrent misses
// for the same key are de-duplicated so the underlying lookup runs once.
//
// The implementation uses a doubly-linked list for recency ordering and a
// map for O(1) lookup; head.next is most recently used, tail.prev least.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*cacheEntry
	head     *cacheEntry
	tail     *cacheEntry

	group singleflight.Group

	hits   int64
	misses int64
}

// NewCache creates a cache with the given capacity and TTL.
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	c := &Cache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*cacheEntry, capacity),
		head:     &cacheEntry{},
		tail:     &cacheEntry{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the cached record for ip. ok is false on a miss or an expired
// entry. A (nil, true) return is a cached negative result.
func (c *Cache) Get(ip string) (rec *models.GeoRecord, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(ip)
}

func (c *Cache) getLocked(ip string) (*models.GeoRecord, bool) {
	entry, exists := c.items[ip]
	if !exists {
		c.misses++
		metrics.GeoCacheMisses.Inc()
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		c.removeEntry(entry)
		c.misses++
		metrics.GeoCacheMisses.Inc()
		return nil, false
	}

	c.moveToFront(entry)
	c.hits++
	metrics.GeoCacheHits.Inc()
	return entry.value, true
}

// GetOrCompute returns the cached record for ip, computing it via lookup on
// a miss. Concurrent callers missing on the same key share one lookup.
// Negative results (nil record, nil error) are cached like any other value;
// lookup errors are not cached.
func (c *Cache) GetOrCompute(ctx context.Context, ip string, lookup func(context.Context, string) (*models.GeoRecord, error)) (*models.GeoRecord, error) {
	if rec, ok := c.Get(ip); ok {
		return rec, nil
	}

	v, err, _ := c.group.Do(ip, func() (any, error) {
		// A concurrent caller may have filled the entry while we waited on
		// the flight group.
		c.mu.Lock()
		if entry, exists := c.items[ip]; exists && !time.Now().After(entry.expiresAt) {
			rec := entry.value
			c.mu.Unlock()
			return rec, nil
		}
		c.mu.Unlock()

		rec, err := lookup(ctx, ip)
		if err != nil {
			return nil, err
		}
		c.Add(ip, rec)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	rec, _ := v.(*models.GeoRecord)
	return rec, nil
}

// Add inserts or refreshes an entry, evicting the least recently used entry
// when the cache is full. A nil value records a negative result.
func (c *Cache) Add(ip string, value *models.GeoRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)

	if entry, exists := c.items[ip]; exists {
		entry.value = value
		entry.expiresAt = expiresAt
		c.moveToFront(entry)
		return
	}

	entry := &cacheEntry{key: ip, value: value, expiresAt: expiresAt}
	c.addToFront(entry)
	c.items[ip] = entry

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Len returns the current number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit/miss counts and current size.
func (c *Cache) Stats() (hits, misses int64, size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses, len(c.items)
}

// List manipulation below must be called with the lock held.

func (c *Cache) addToFront(entry *cacheEntry) {
	entry.prev = c.head
	entry.next = c.head.next
	c.head.next.prev = entry
	c.head.next = entry
}

func (c *Cache) moveToFront(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	c.addToFront(entry)
}

func (c *Cache) removeEntry(entry *cacheEntry) {
	entry.prev.next = entry.next
	entry.next.prev = entry.prev
	delete(c.items, entry.key)
}

func (c *Cache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
	metrics.GeoCacheEvictions.Inc()
}
