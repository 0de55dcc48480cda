// Package cache implements the bounded, ID-indexed packet cache at the
// center of the core (spec.md §4.3). It owns every stored buffer, evicts
// under capacity pressure with a rotating-cursor FIFO, and never promises
// ordering or fairness beyond that.
//
// The cache is not safe for concurrent use; spec.md §5 mandates a
// single-threaded dispatcher and the implementation here relies on that.
package cache

import (
	"sync/atomic"

	"github.com/cscouto/acache/internal/packet"
)

// ReleaseFunc is invoked on every entry leaving the cache, by eviction or
// explicit Remove, exactly once, before the slot is reused. It must not
// fail; a panic raised by it is not recovered.
type ReleaseFunc func(entry *Entry)

// Entry is a single live cache slot: an owned buffer, its length, and the ID
// the cache indexes it by. A zero-value Entry (Len == 0) is the FREE state.
type Entry struct {
	Buf []byte
	Len int
	ID  [packet.IDSize]byte
	set bool // whether ID is meaningful (Len>0 implies set==true)
	idx int  // slot index within the owning Cache, fixed at construction
}

// Live reports whether the slot currently holds a stored packet.
func (e *Entry) Live() bool { return e.Len > 0 }

// Predicate is the scan predicate used by GetMatch/AllMatches. It receives
// caller-supplied arg and the candidate entry.
type Predicate func(arg any, e *Entry) bool

// Cache is a fixed-capacity collection of Entry slots searched by a
// monotonically advancing cursor (rotating-first-fit), per spec.md §4.3.
// Effective capacity is Capacity-1: one slot is always kept free so that Add
// on a full cache always finds a slot immediately after evicting exactly
// one victim.
type Cache struct {
	slots   []Entry
	byID    map[[packet.IDSize]byte]int // ID -> slot index, live entries only
	cursor  int
	release ReleaseFunc

	hits      atomic.Uint64
	evictions atomic.Uint64
}

// New constructs a Cache with the given slot capacity. capacity must be >=2
// so that effective capacity (capacity-1) is at least 1.
func New(capacity int, release ReleaseFunc) *Cache {
	if capacity < 2 {
		capacity = 2
	}
	if release == nil {
		release = func(*Entry) {}
	}
	c := &Cache{
		slots:   make([]Entry, capacity),
		byID:    make(map[[packet.IDSize]byte]int, capacity),
		release: release,
	}
	for i := range c.slots {
		c.slots[i].idx = i
	}
	return c
}

// Len returns the number of live entries.
func (c *Cache) Len() int { return len(c.byID) }

// Cap returns the raw slot capacity (not the effective capacity).
func (c *Cache) Cap() int { return len(c.slots) }

// Lookup returns the live entry for id, if any.
func (c *Cache) Lookup(id [packet.IDSize]byte) (*Entry, bool) {
	idx, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return &c.slots[idx], true
}

// Add installs buf (length-derived ID already assumed absent by the caller)
// into a free slot, evicting the rotating-cursor victim first if the cache
// is already at its effective capacity. Precondition: id is not currently
// present (callers check via Lookup before calling Add, matching spec.md's
// save()/add() contract).
func (c *Cache) Add(id [packet.IDSize]byte, buf []byte) *Entry {
	idx := c.findFreeSlot()
	s := &c.slots[idx]
	s.Buf = buf
	s.Len = len(buf)
	s.ID = id
	s.set = true
	c.byID[id] = idx
	return s
}

// findFreeSlot returns the index of a slot ready to receive a new entry.
// Once len(byID) reaches the one-reserved-slot ceiling (len(slots)-1) it
// evicts the oldest live slot reachable by walking forward from cursor
// before reusing it -- cursor itself may be resting on a slot that was
// never written, or on one an ack-driven Remove already freed, so the walk
// cannot assume cursor already names a live entry. Below the ceiling it
// just walks forward for a literal free slot, as before. Either way cursor
// is left just past the slot returned, so the next call resumes the scan
// there instead of re-landing on the entry just inserted.
func (c *Cache) findFreeSlot() int {
	n := len(c.slots)
	if len(c.byID) >= n-1 {
		for i := 0; i < n; i++ {
			idx := (c.cursor + i) % n
			if c.slots[idx].Live() {
				c.removeSlot(idx)
				c.cursor = (idx + 1) % n
				return idx
			}
		}
	}
	for i := 0; i < n; i++ {
		idx := (c.cursor + i) % n
		if !c.slots[idx].Live() {
			c.cursor = (idx + 1) % n
			return idx
		}
	}
	// Unreachable given the checks above, but fall back safely.
	victim := c.cursor
	c.removeSlot(victim)
	c.cursor = (victim + 1) % n
	return victim
}

// GetMatch scans live entries in slot order and returns the first for
// which predicate(arg, entry) holds.
func (c *Cache) GetMatch(predicate Predicate, arg any) *Entry {
	n := len(c.slots)
	for i := 0; i < n; i++ {
		e := &c.slots[i]
		if e.Live() && predicate(arg, e) {
			return e
		}
	}
	return nil
}

// AllMatches returns every live entry for which predicate(arg, entry)
// holds. The caller owns the returned slice; the entries themselves remain
// cache-owned.
func (c *Cache) AllMatches(predicate Predicate, arg any) []*Entry {
	var out []*Entry
	n := len(c.slots)
	for i := 0; i < n; i++ {
		e := &c.slots[i]
		if e.Live() && predicate(arg, e) {
			out = append(out, e)
		}
	}
	return out
}

// Remove marks entry's slot free and invokes the release callback.
// entry must be a pointer previously returned by this Cache.
func (c *Cache) Remove(entry *Entry) {
	if entry.idx < 0 || entry.idx >= len(c.slots) || &c.slots[entry.idx] != entry {
		return
	}
	c.removeSlot(entry.idx)
}

// removeSlot frees slots[idx], invoking release and dropping the ID index
// entry. idx must refer to a live slot.
func (c *Cache) removeSlot(idx int) {
	e := &c.slots[idx]
	if !e.Live() {
		return
	}
	delete(c.byID, e.ID)
	c.evictions.Add(1)
	c.release(e)
	e.Buf = nil
	e.Len = 0
	e.set = false
}

// Close drains every live slot, invoking release on each -- the terminal
// transition of spec.md §4.6's state machine ("at shutdown every LIVE is
// released").
func (c *Cache) Close() {
	for i := range c.slots {
		if c.slots[i].Live() {
			c.removeSlot(i)
		}
	}
}

// Snapshot returns lightweight counters useful for metrics/inspection.
func (c *Cache) Snapshot() (live int, evictions uint64) {
	return len(c.byID), c.evictions.Load()
}
