// Copyright 2024 The Cantor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package querycache caches query results per database, bounded by a
// list kept in store order and invalidated by collection. When a database
// cache is full, its oldest stored entry is evicted; lookups do not
// reorder the list. Storage is partitioned into a
// fixed number of shards, each guarded by a reader-writer lock: lookups
// take the reader lock, mutation takes the writer lock, and a
// database-scoped cache is destroyed only after its shard lock has been
// released to keep the critical section short.
package querycache

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"
)

// Mode is the process-wide caching mode.
type Mode int32

const (
	// ModeOff disables the cache entirely.
	ModeOff Mode = iota
	// ModeOnDemand caches only queries that ask for it.
	ModeOnDemand
	// ModeAlwaysOn caches every eligible query.
	ModeAlwaysOn
)

func (m Mode) String() string {
	switch m {
	case ModeAlwaysOn:
		return "on"
	case ModeOnDemand:
		return "demand"
	default:
		return "off"
	}
}

// ParseMode maps a mode name to a Mode; unknown names mean off.
func ParseMode(s string) Mode {
	switch s {
	case "on":
		return ModeAlwaysOn
	case "demand":
		return ModeOnDemand
	default:
		return ModeOff
	}
}

// numParts is the number of independently locked cache shards.
const numParts = 8

// defaultMaxResults bounds each per-database cache.
const defaultMaxResults = 128

// Entry is one cached query result. Readers pin an entry with Use and
// unpin it with Release; an entry evicted or invalidated while pinned is
// finalized by the last Release instead of immediately.
type Entry struct {
	// Query is the full query string; it disambiguates hash collisions.
	Query string
	// Result is the cached result payload. The cache takes ownership on
	// Store and calls the release hook once the entry is retired and
	// unpinned.
	Result any
	// Collections lists the collections the result was computed from;
	// writes to any of them invalidate the entry.
	Collections []string

	hash    uint64
	prev    *Entry
	next    *Entry
	refs    atomic.Int32
	retired atomic.Bool
	done    atomic.Bool
	release func(*Entry)
}

// Use pins the entry so it cannot be finalized while a reader holds it.
func (e *Entry) Use() {
	e.refs.Add(1)
}

// Release unpins the entry and finalizes it if its deletion was
// requested and this was the last pin.
func (e *Entry) Release() {
	if e.refs.Add(-1) == 0 && e.retired.Load() {
		e.finalize()
	}
}

// tryDelete requests deletion and finalizes right away unless a reader
// still holds the entry.
func (e *Entry) tryDelete() {
	e.retired.Store(true)
	if e.refs.Load() == 0 {
		e.finalize()
	}
}

func (e *Entry) finalize() {
	if e.done.CompareAndSwap(false, true) && e.release != nil {
		e.release(e)
	}
}

// databaseCache holds the entries of a single database: by query hash
// for lookup, by collection for invalidation, and on an intrusive list in
// store order for eviction.
type databaseCache struct {
	entriesByHash       map[uint64]*Entry
	entriesByCollection map[string]map[uint64]struct{}
	head, tail          *Entry
	numElements         int
}

func newDatabaseCache() *databaseCache {
	return &databaseCache{
		entriesByHash:       make(map[uint64]*Entry, 128),
		entriesByCollection: make(map[string]map[uint64]struct{}, 16),
	}
}

func (d *databaseCache) lookup(hash uint64, query string) *Entry {
	e, ok := d.entriesByHash[hash]
	if !ok {
		return nil
	}
	if e.Query != query {
		// The result of a different query with the same hash.
		return nil
	}
	e.Use()
	return e
}

func (d *databaseCache) store(e *Entry, maxResults int) {
	if prev, ok := d.entriesByHash[e.hash]; ok {
		d.unlink(prev)
		delete(d.entriesByHash, e.hash)
		prev.tryDelete()
	}
	d.entriesByHash[e.hash] = e

	for _, c := range e.Collections {
		set, ok := d.entriesByCollection[c]
		if !ok {
			set = make(map[uint64]struct{})
			d.entriesByCollection[c] = set
		}
		set[e.hash] = struct{}{}
	}

	d.link(e)
	d.enforceMaxResults(maxResults)
}

func (d *databaseCache) invalidateCollection(collection string) {
	set, ok := d.entriesByCollection[collection]
	if !ok {
		return
	}
	for hash := range set {
		if e, ok := d.entriesByHash[hash]; ok {
			d.unlink(e)
			delete(d.entriesByHash, hash)
			e.tryDelete()
		}
	}
	delete(d.entriesByCollection, collection)
}

// enforceMaxResults evicts from the head of the list (the oldest stored
// entry) until at most limit entries remain.
func (d *databaseCache) enforceMaxResults(limit int) {
	for d.numElements > limit {
		head := d.head
		d.unlink(head)
		delete(d.entriesByHash, head.hash)
		head.tryDelete()
	}
}

func (d *databaseCache) destroy() {
	for _, e := range d.entriesByHash {
		e.tryDelete()
	}
	d.entriesByHash = nil
	d.entriesByCollection = nil
	d.head, d.tail = nil, nil
	d.numElements = 0
}

func (d *databaseCache) unlink(e *Entry) {
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	if d.head == e {
		d.head = e.next
	}
	if d.tail == e {
		d.tail = e.prev
	}
	e.prev = nil
	e.next = nil
	d.numElements--
}

func (d *databaseCache) link(e *Entry) {
	d.numElements++
	if d.head == nil {
		d.head = e
		d.tail = e
		return
	}
	d.tail.next = e
	e.prev = d.tail
	d.tail = e
}

// Cache is a sharded query result cache. The zero value is not usable;
// construct with New or use the process-wide Instance.
type Cache struct {
	mu      [numParts]sync.RWMutex
	entries [numParts]map[string]*databaseCache

	mode atomic.Int32

	// propertiesMu guards maxResults.
	propertiesMu sync.Mutex
	maxResults   int

	release func(*Entry)
}

// New constructs an empty cache in on-demand mode. release, which may be
// nil, is invoked once for every entry that has been retired and is no
// longer pinned, e.g. to return its result payload to a pool.
func New(release func(*Entry)) *Cache {
	c := &Cache{
		maxResults: defaultMaxResults,
		release:    release,
	}
	c.mode.Store(int32(ModeOnDemand))
	for i := range c.entries {
		c.entries[i] = make(map[string]*databaseCache)
	}
	return c
}

// Mode returns the caching mode.
func (c *Cache) Mode() Mode {
	return Mode(c.mode.Load())
}

// MayBeActive is a quick test that may save the caller from further
// bothering with the cache if it returns false.
func (c *Cache) MayBeActive() bool {
	return c.Mode() != ModeOff
}

// SetMode changes the caching mode. All caches are invalidated first:
// while the cache is off, data modifications do not invalidate it, so
// anything left over would go stale undetected once re-enabled.
func (c *Cache) SetMode(mode Mode) {
	if mode == c.Mode() {
		return
	}
	c.InvalidateAll()
	c.mode.Store(int32(mode))
}

// Properties returns the mode and the per-database entry limit.
func (c *Cache) Properties() (Mode, int) {
	c.propertiesMu.Lock()
	defer c.propertiesMu.Unlock()
	return c.Mode(), c.maxResults
}

// SetProperties sets the mode and the per-database entry limit in one
// step. A limit of 0 leaves the current limit untouched; lowering the
// limit trims every per-database cache.
func (c *Cache) SetProperties(mode Mode, maxResults int) {
	c.propertiesMu.Lock()
	defer c.propertiesMu.Unlock()

	c.SetMode(mode)
	if maxResults <= 0 {
		return
	}
	if maxResults < c.maxResults {
		c.enforceMaxResults(maxResults)
	}
	c.maxResults = maxResults
}

// Lookup returns the cached entry for the query in the given database,
// or nil. A returned entry is pinned; the caller must Release it.
func (c *Cache) Lookup(database string, hash uint64, query string) *Entry {
	part := c.part(database)
	c.mu[part].RLock()
	defer c.mu[part].RUnlock()

	d, ok := c.entries[part][database]
	if !ok {
		return nil
	}
	return d.lookup(hash, query)
}

// Store caches a query result and returns its entry. The cache takes
// ownership of the result payload.
func (c *Cache) Store(database string, hash uint64, query string, result any, collections []string) *Entry {
	e := &Entry{
		Query:       query,
		Result:      result,
		Collections: collections,
		hash:        hash,
		release:     c.release,
	}

	c.propertiesMu.Lock()
	maxResults := c.maxResults
	c.propertiesMu.Unlock()

	part := c.part(database)
	c.mu[part].Lock()
	defer c.mu[part].Unlock()

	d, ok := c.entries[part][database]
	if !ok {
		d = newDatabaseCache()
		c.entries[part][database] = d
	}
	d.store(e, maxResults)
	return e
}

// InvalidateCollections drops all entries of the database that depend on
// any of the given collections.
func (c *Cache) InvalidateCollections(database string, collections []string) {
	part := c.part(database)
	c.mu[part].Lock()
	defer c.mu[part].Unlock()

	d, ok := c.entries[part][database]
	if !ok {
		return
	}
	for _, collection := range collections {
		d.invalidateCollection(collection)
	}
}

// InvalidateCollection drops all entries of the database that depend on
// the collection.
func (c *Cache) InvalidateCollection(database, collection string) {
	c.InvalidateCollections(database, []string{collection})
}

// InvalidateDatabase drops the database's entire cache. The cache is
// detached under the shard lock but destroyed after it is released.
func (c *Cache) InvalidateDatabase(database string) {
	var d *databaseCache

	part := c.part(database)
	c.mu[part].Lock()
	if dd, ok := c.entries[part][database]; ok {
		d = dd
		delete(c.entries[part], database)
	}
	c.mu[part].Unlock()

	if d != nil {
		d.destroy()
	}
}

// InvalidateAll drops every entry in every database.
func (c *Cache) InvalidateAll() {
	for part := 0; part < numParts; part++ {
		c.mu[part].Lock()
		old := c.entries[part]
		c.entries[part] = make(map[string]*databaseCache)
		c.mu[part].Unlock()

		for _, d := range old {
			d.destroy()
		}
	}
}

func (c *Cache) enforceMaxResults(limit int) {
	for part := 0; part < numParts; part++ {
		c.mu[part].Lock()
		for _, d := range c.entries[part] {
			d.enforceMaxResults(limit)
		}
		c.mu[part].Unlock()
	}
}

func (c *Cache) part(database string) int {
	return int(xxhash.Sum64String(database) % numParts)
}

// HashQuery hashes a query string for use with Lookup and Store.
func HashQuery(query string) uint64 {
	return xxhash.Sum64String(query)
}

var (
	instanceMu sync.Mutex
	instance   *Cache
)

// Instance returns the lazily-initialized process-wide cache.
func Instance() *Cache {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		instance = New(nil)
	}
	return instance
}

// Shutdown invalidates and discards the process-wide cache. A later
// Instance call starts fresh.
func Shutdown() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil {
		instance.InvalidateAll()
		instance = nil
	}
}
