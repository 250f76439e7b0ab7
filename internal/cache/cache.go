// Package cache implements the write-back queue's table cache: a
// bounded set of fixed-size cached tables addressed by backend offset,
// with LRU-ish eviction, dirty/keep-dirty tracking and inter-cache
// flush dependencies.
//
// The cache never calls into the write-back Queue directly; real
// deployments bind Config.Flush to (*wbq.Context).Write followed by
// (*wbq.Context).Barrier so cache flushes are ordered against data
// writes through the same barrier discipline.
package cache

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wbqueue/wbq/internal/constants"
	"github.com/wbqueue/wbq/internal/interfaces"
)

// errNoEvictionCandidate is returned internally by evictOneLocked when
// every cached entry is pinned; the caller should wait for a Release.
var errNoEvictionCandidate = errors.New("cache: no unpinned entry to evict")

// FetchFunc loads a table's bytes for offset from the backing store.
type FetchFunc func(offset int64) ([]byte, error)

// FlushFunc writes a dirty table's bytes back to the backing store.
type FlushFunc func(offset int64, data []byte) error

// Config configures a Cache.
type Config struct {
	// MaxEntries bounds the number of resident tables.
	MaxEntries int
	// FlushConcurrency bounds how many independent dirty entries Flush
	// writes back in parallel.
	FlushConcurrency int
	Fetch            FetchFunc
	Flush            FlushFunc
	// BackendFlush, if set, is invoked once after every dirty entry has
	// been written back, the cache-level analogue of issuing a backend
	// cache flush after table writeback.
	BackendFlush func() error
	Logger       interfaces.Logger
}

type entry struct {
	id        uuid.UUID
	offset    int64
	data      []byte
	refCount  int
	dirty     bool
	keepDirty bool
	flushing  bool
	fetching  bool
	fetchErr  error
	hits      uint64
}

// Cache is a bounded set of cached fixed-size tables.
type Cache struct {
	mu   sync.Mutex
	cond *sync.Cond
	cfg  Config

	entries map[int64]*entry
	depends *Cache

	hitCount  uint64
	missCount uint64
}

// New creates a Cache. Fetch and Flush must be non-nil.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = constants.DefaultCacheMaxEntries
	}
	if cfg.FlushConcurrency <= 0 {
		cfg.FlushConcurrency = constants.DefaultCacheFlushConcurrency
	}
	c := &Cache{cfg: cfg, entries: make(map[int64]*entry)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SetDependency establishes "flush d before this cache". If a different
// dependency was already set, it is flushed first so its pending writes
// are not silently replaced.
func (c *Cache) SetDependency(d *Cache) error {
	c.mu.Lock()
	old := c.depends
	c.mu.Unlock()

	if old != nil && old != d {
		if err := old.Flush(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.depends = d
	c.mu.Unlock()
	return nil
}

// Handle is a pinned reference to a cached table, returned by Get.
type Handle struct {
	cache *Cache
	e     *entry
}

// Offset reports the table's backend offset.
func (h *Handle) Offset() int64 { return h.e.offset }

// Data returns the table's bytes. The caller must not retain the slice
// beyond Release, and must call MarkDirty after mutating it.
func (h *Handle) Data() []byte { return h.e.data }

// ID returns the entry's identity, for log correlation only.
func (h *Handle) ID() uuid.UUID { return h.e.id }

// MarkDirty flags the entry for writeback. If the entry is mid-flush
// when this is called, the keep-dirty flag is set so that flush's
// in-flight write does not clear a bit set by a newer mutation.
func (h *Handle) MarkDirty() {
	c := h.cache
	c.mu.Lock()
	defer c.mu.Unlock()
	h.e.dirty = true
	if h.e.flushing {
		h.e.keepDirty = true
	}
}

// Release decrements the entry's reference count and wakes any Get
// waiting for a free slot.
func (h *Handle) Release() {
	c := h.cache
	c.mu.Lock()
	h.e.refCount--
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Get returns a pinned Handle for offset, fetching it if absent. A
// concurrent fetch for the same offset is waited on rather than
// duplicated. If the cache is full, the unpinned entry with the lowest
// hit counter is evicted (flushing it, and its dependency cache, first);
// if eviction fails because every entry is pinned, Get blocks until a
// Release frees one. An eviction flush error is returned to the caller
// rather than silently dropped.
func (c *Cache) Get(offset int64) (*Handle, error) {
	c.mu.Lock()
	for {
		if e, ok := c.entries[offset]; ok {
			if e.fetching {
				c.cond.Wait()
				continue
			}
			if e.fetchErr != nil {
				err := e.fetchErr
				c.mu.Unlock()
				return nil, err
			}
			e.refCount++
			e.hits++
			c.hitCount++
			c.mu.Unlock()
			return &Handle{cache: c, e: e}, nil
		}

		c.missCount++
		if len(c.entries) >= c.cfg.MaxEntries {
			err := c.evictOneLocked()
			if err == errNoEvictionCandidate {
				c.cond.Wait()
				continue
			}
			if err != nil {
				c.mu.Unlock()
				return nil, err
			}
		}

		e := &entry{offset: offset, fetching: true, id: uuid.New()}
		c.entries[offset] = e
		c.mu.Unlock()

		data, err := c.cfg.Fetch(offset)

		c.mu.Lock()
		e.fetching = false
		if err != nil {
			e.fetchErr = err
			delete(c.entries, offset)
			c.cond.Broadcast()
			c.mu.Unlock()
			return nil, err
		}
		e.data = data
		e.refCount = 1
		e.hits = 1
		c.cond.Broadcast()
		c.mu.Unlock()
		return &Handle{cache: c, e: e}, nil
	}
}

// evictOneLocked evicts the unpinned entry with the lowest hit counter.
// Must be called with c.mu held; it releases the lock around the
// dependency flush and the victim's own flush, matching the Queue
// Core's driveLocked unlock/relock convention.
func (c *Cache) evictOneLocked() error {
	var victim *entry
	for _, e := range c.entries {
		if e.refCount > 0 || e.fetching {
			continue
		}
		if victim == nil || e.hits < victim.hits {
			victim = e
		}
	}
	if victim == nil {
		return errNoEvictionCandidate
	}

	if dep := c.depends; dep != nil {
		c.mu.Unlock()
		err := dep.Flush()
		c.mu.Lock()
		if err != nil {
			return err
		}
	}

	if err := c.flushEntryLocked(victim); err != nil {
		return err
	}
	delete(c.entries, victim.offset)
	return nil
}

// flushEntryLocked writes back e if dirty. Must be called with c.mu
// held; releases it for the duration of the Flush call.
func (c *Cache) flushEntryLocked(e *entry) error {
	if !e.dirty {
		return nil
	}
	data := e.data
	offset := e.offset
	e.flushing = true
	e.keepDirty = false

	c.mu.Unlock()
	err := c.cfg.Flush(offset, data)
	c.mu.Lock()

	e.flushing = false
	if err != nil {
		return err
	}
	if !e.keepDirty {
		e.dirty = false
	}
	return nil
}

// Flush writes back every dirty entry, then issues BackendFlush if set.
// The dependency chain is resolved before self, and independent dirty
// entries are flushed concurrently (bounded by Config.FlushConcurrency)
// with golang.org/x/sync/errgroup.
func (c *Cache) Flush() error {
	c.mu.Lock()
	dep := c.depends
	c.mu.Unlock()
	if dep != nil {
		if err := dep.Flush(); err != nil {
			return err
		}
	}

	c.mu.Lock()
	dirty := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.dirty && !e.fetching {
			dirty = append(dirty, e)
		}
	}
	c.mu.Unlock()

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.FlushConcurrency)
	for _, e := range dirty {
		e := e
		g.Go(func() error {
			c.mu.Lock()
			err := c.flushEntryLocked(e)
			c.mu.Unlock()
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if c.cfg.BackendFlush != nil {
		return c.cfg.BackendFlush()
	}
	return nil
}

// Stats is a snapshot of the cache's counters.
type Stats struct {
	EntryCount int
	DirtyCount int
	HitCount   uint64
	MissCount  uint64
}

// Stats reports a point-in-time snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{EntryCount: len(c.entries), HitCount: c.hitCount, MissCount: c.missCount}
	for _, e := range c.entries {
		if e.dirty {
			s.DirtyCount++
		}
	}
	return s
}
