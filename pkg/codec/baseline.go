package codec

import "fmt"

// BaselineRing keeps the most recently acknowledged snapshots keyed by
// tick so delta paths can resolve a baseline in O(1). Inserting into a
// full ring evicts the oldest entry; a baseline that has been evicted is
// gone and referencing it reports ErrBaselineMissing at the call site.
type BaselineRing struct {
	entries []ringEntry
	slots   map[Tick]int
	head    int
	count   int
	last    Tick
}

type ringEntry struct {
	tick Tick
	snap *Snapshot
}

// NewBaselineRing creates a ring holding up to capacity snapshots.
// It panics if capacity is less than one.
func NewBaselineRing(capacity int) *BaselineRing {
	if capacity < 1 {
		panic("codec: baseline ring capacity must be positive")
	}
	return &BaselineRing{
		entries: make([]ringEntry, capacity),
		slots:   make(map[Tick]int, capacity),
	}
}

// Insert stores snap under tick. Ticks must be strictly increasing; tick
// zero is rejected because it can never be referenced as a baseline.
func (r *BaselineRing) Insert(tick Tick, snap *Snapshot) error {
	if tick <= r.last {
		return fmt.Errorf("%w: tick %d, last %d", ErrBaselineOrder, tick, r.last)
	}
	idx := (r.head + r.count) % len(r.entries)
	if r.count == len(r.entries) {
		idx = r.head
		delete(r.slots, r.entries[idx].tick)
		r.head = (r.head + 1) % len(r.entries)
		r.count--
	}
	r.entries[idx] = ringEntry{tick: tick, snap: snap}
	r.slots[tick] = idx
	r.count++
	r.last = tick
	return nil
}

// Get returns the snapshot stored under exactly tick.
func (r *BaselineRing) Get(tick Tick) (*Snapshot, bool) {
	idx, ok := r.slots[tick]
	if !ok {
		return nil, false
	}
	return r.entries[idx].snap, true
}

// LatestAtOrBefore returns the newest stored snapshot whose tick does not
// exceed tick. Senders use it to pick the freshest usable baseline.
func (r *BaselineRing) LatestAtOrBefore(tick Tick) (*Snapshot, bool) {
	for i := r.count - 1; i >= 0; i-- {
		e := &r.entries[(r.head+i)%len(r.entries)]
		if e.tick <= tick {
			return e.snap, true
		}
	}
	return nil, false
}

// Len returns the number of stored snapshots.
func (r *BaselineRing) Len() int { return r.count }

// Capacity returns the maximum number of stored snapshots.
func (r *BaselineRing) Capacity() int { return len(r.entries) }

// LastTick returns the most recently inserted tick, if any.
func (r *BaselineRing) LastTick() (Tick, bool) {
	return r.last, r.count > 0
}
