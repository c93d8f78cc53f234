package driver

import (
	"sync"
	"sync/atomic"
)

// Interest is a set of I/O readiness directions a registration cares about.
type Interest uint8

const (
	// Readable requests notification when a source becomes readable.
	Readable Interest = 1 << iota
	// Writable requests notification when a source becomes writable.
	Writable
)

func (i Interest) readable() bool { return i&Readable != 0 }
func (i Interest) writable() bool { return i&Writable != 0 }

// readiness bits packed into scheduleEntry.state, alongside a tick counter.
// Layout (low to high): 5 readiness bits, then a 59-bit tick counter. The
// tick only needs to be "some value that changes on every reactor pass
// touching this entry", so a register-then-recheck race detector can tell
// whether the reactor ran between two reads; 59 bits is far more headroom
// than any process will ever need.
const (
	readyReadable Bits = 1 << iota
	readyWritable
	readyReadClosed
	readyWriteClosed
	readyError

	readyBitsWidth = 5
	readyMask      = (1 << readyBitsWidth) - 1
	tickIncrement  = Bits(1) << readyBitsWidth
)

// Bits is the packed readiness/tick word type.
type Bits = uint64

// scheduleEntry is the per-registered-source state the reactor manipulates
// on readiness events.
type scheduleEntry struct {
	// state packs {tick counter, readiness mask} into one atomically
	// updated word, so a reader can observe both without a lock.
	state atomic.Uint64

	// readWaker / writeWaker each hold at most one pending Waker; installing
	// a new one drops whatever was there. Represented as atomic.Pointer so
	// "take" (swap to nil via a CompareAndSwap loop) needs no lock -- a slot
	// holds a waker only when some task is actually waiting on it.
	readWaker  atomic.Pointer[TaskWaker]
	writeWaker atomic.Pointer[TaskWaker]

	// generation invalidates stale Refs across slot reuse.
	generation uint64

	// index is this entry's fixed slot in the registry's slab.
	index uint32
}

// readinessBits returns the current readiness mask (low readyBitsWidth bits
// of state), discarding the tick.
func (e *scheduleEntry) readinessBits() Bits {
	return e.state.Load() & readyMask
}

// tick returns the current tick counter (state shifted past the readiness bits).
func (e *scheduleEntry) tick() Bits {
	return e.state.Load() >> readyBitsWidth
}

// markReady ORs newBits into the readiness mask and bumps the tick,
// atomically. Returns the previous and new readiness masks (without the
// tick) so callers can tell which
// directions newly became ready (an edge) versus were already ready.
func (e *scheduleEntry) markReady(newBits Bits) (prev, next Bits) {
	for {
		old := e.state.Load()
		oldReady := old & readyMask
		newReady := oldReady | newBits
		newState := (newReady) | ((old>>readyBitsWidth + 1) << readyBitsWidth)
		if e.state.CompareAndSwap(old, newState) {
			return oldReady, newReady
		}
	}
}

// resetReadiness clears the tracked readiness bits for directions the
// caller is about to re-arm (e.g. after a caller has drained a socket and
// wants to go back to waiting), without touching the tick.
func (e *scheduleEntry) resetReadiness(bits Bits) {
	for {
		old := e.state.Load()
		newState := old &^ bits
		if e.state.CompareAndSwap(old, newState) {
			return
		}
	}
}

// registerWaker installs w in the slot for dir (Readable or Writable).
//
// Ordering guarantee: it samples the tick before and after storing the
// waker; if the tick changed in between, the reactor may have run (and
// fired, or be about to fire, a stale waker) so the caller must re-check
// readiness itself rather than trust the stored waker. This mirrors a
// seqlock read pattern, and guarantees a waker installed concurrently with
// the reactor reporting readiness is either invoked or reported
// already-ready -- never silently dropped.
func (e *scheduleEntry) registerWaker(dir Interest, w TaskWaker) (installed bool, alreadyReady bool) {
	bit := dirBit(dir)
	if e.readinessBits()&bit != 0 {
		return false, true
	}

	before := e.tick()
	slot := e.slotFor(dir)
	slot.Store(&w)
	after := e.tick()

	if before != after || e.readinessBits()&bit != 0 {
		// Reactor observed readiness concurrently with installation: take
		// back whatever we just stored (it may already have been taken and
		// fired, which is fine -- CompareAndSwap makes this a no-op then)
		// and tell the caller to treat this as already-ready.
		slot.CompareAndSwap(&w, nil)
		return false, true
	}
	return true, false
}

func (e *scheduleEntry) slotFor(dir Interest) *atomic.Pointer[TaskWaker] {
	if dir == Writable {
		return &e.writeWaker
	}
	return &e.readWaker
}

func dirBit(dir Interest) Bits {
	if dir == Writable {
		return readyWritable
	}
	return readyReadable
}

// takeWaker removes and returns the waker in the slot for dir, or nil if none.
func (e *scheduleEntry) takeWaker(dir Interest) *TaskWaker {
	slot := e.slotFor(dir)
	for {
		cur := slot.Load()
		if cur == nil {
			return nil
		}
		if slot.CompareAndSwap(cur, nil) {
			return cur
		}
	}
}

func (e *scheduleEntry) reset() {
	e.state.Store(0)
	e.readWaker.Store(nil)
	e.writeWaker.Store(nil)
}

// Ref is the ownership token for a registered scheduleEntry. Calling
// Ref.Release returns the slot to the registry's free list; it does not
// touch the kernel registration, which Reactor.Deregister removes before
// releasing the Ref. No entry is freed while any Ref to
// it is live, because the registry is the only thing that can mint or
// invalidate one.
type Ref struct {
	reg        *registry
	index      uint32
	generation uint64
}

// valid reports whether this Ref's generation still matches the live entry
// occupying its slot.
func (r Ref) valid() bool {
	if r.reg == nil {
		return false
	}
	_, ok := r.reg.get(r.index, r.generation)
	return ok
}

// entry resolves the Ref to its scheduleEntry, or nil if stale.
func (r Ref) entry() *scheduleEntry {
	if r.reg == nil {
		return nil
	}
	e, ok := r.reg.get(r.index, r.generation)
	if !ok {
		return nil
	}
	return e
}

// Index returns the stable slab index backing this Ref, usable as the
// kernel event's user-data / token.
func (r Ref) Index() uint32 { return r.index }

// Release frees this entry's registry slot for reuse; it does not remove
// the source from the kernel primitive. Safe to call more than once;
// subsequent calls are no-ops.
func (r Ref) Release() {
	if r.reg == nil {
		return
	}
	r.reg.free(r.index, r.generation)
}

// registry is the slab-indexed table of schedule entries. It owns its
// entries outright and reclaims them explicitly via Ref.Release, so it is
// a classic generational free-list slab rather than a scavenging ring.
//
// slots holds *scheduleEntry rather than scheduleEntry: insert grows the
// slots slice with append, and a concurrent reader (dispatch, or a Ref
// resolved outside the lock insert took) must keep working with a pointer
// handed out before that reallocation. Storing pointers means append only
// ever copies the pointers themselves into a new backing array -- the
// pointed-to scheduleEntry, and therefore every field already read out of
// it, never moves.
type registry struct {
	mu    sync.Mutex
	slots []*scheduleEntry
	free  []uint32
}

func newRegistry() *registry {
	return &registry{}
}

// insert allocates or reuses a slot and returns an owning Ref.
func (r *registry) insert() Ref {
	r.mu.Lock()
	defer r.mu.Unlock()

	var idx uint32
	var e *scheduleEntry
	if n := len(r.free); n > 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
		e = r.slots[idx]
		e.reset()
		e.generation++
	} else {
		idx = uint32(len(r.slots))
		e = &scheduleEntry{index: idx, generation: 1}
		r.slots = append(r.slots, e)
	}

	return Ref{reg: r, index: idx, generation: e.generation}
}

// get resolves (index, generation) to a live entry, returning false if the
// entry has since been freed and its generation bumped. Always called
// under r.mu so a concurrent insert growing r.slots can never be observed
// mid-write.
func (r *registry) get(index uint32, generation uint64) (*scheduleEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(index) >= len(r.slots) {
		return nil, false
	}
	e := r.slots[index]
	if e.generation != generation {
		return nil, false
	}
	return e, true
}

// at resolves index to whatever entry currently occupies that slot,
// ignoring generation. Used by the reactor's dispatch path, which only has
// a kernel-reported token (slab index) to go on; for a freed or reused
// slot it returns whatever entry occupies that slot now.
func (r *registry) at(index uint32) (*scheduleEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(index) >= len(r.slots) {
		return nil, false
	}
	return r.slots[index], true
}

// free returns a slot to the free list, provided the generation still
// matches. A stale/double free is a silent no-op: per-event mapping
// failures are dropped rather than surfaced as errors.
func (r *registry) free(index uint32, generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if int(index) >= len(r.slots) {
		return
	}
	e := r.slots[index]
	if e.generation != generation {
		return
	}
	e.reset()
	e.generation++
	r.free = append(r.free, index)
}

// len returns the number of live (allocated, not-yet-freed) slots. Used by
// tests; not part of the public surface.
func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots) - len(r.free)
}
