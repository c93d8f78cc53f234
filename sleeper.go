package driver

import (
	"sync"
	"sync/atomic"
)

// Sleeper is the worker-sleep coordinator: a packed atomic word tracking
// active/searching worker counts plus a mutex-backed idle list of parked
// worker indices. The bit layout packs high 48 bits active, low 16 bits
// searching, so both counts can be read and updated without a lock.
type Sleeper struct {
	word atomic.Uint64

	mu        sync.Mutex
	idle      []uint32
	totalSize uint32
}

const (
	searchingBits  = 16
	searchingMask  = (uint64(1) << searchingBits) - 1
	activeIncr     = uint64(1) << searchingBits
	searchingIncr  = uint64(1)
	maxActiveCount = (uint64(1) << (64 - searchingBits)) - 1
	negActiveIncr  = ^activeIncr + 1
)

// NewSleeper constructs a coordinator for a fixed-size worker pool, with
// every worker initially active (none parked, none searching).
func NewSleeper(totalWorkers int) *Sleeper {
	s := &Sleeper{totalSize: uint32(totalWorkers)}
	s.word.Store(uint64(totalWorkers) << searchingBits)
	return s
}

func decode(word uint64) (active, searching uint64) {
	return word >> searchingBits, word & searchingMask
}

// Active returns the current active-worker count.
func (s *Sleeper) Active() uint64 {
	active, _ := decode(s.word.Load())
	return active
}

// Searching returns the current searching-worker count.
func (s *Sleeper) Searching() uint64 {
	_, searching := decode(s.word.Load())
	return searching
}

// TryMarkSearching attempts to mark the calling worker as searching,
// capped at half of active workers (searching*2 < active). Returns whether
// it succeeded.
func (s *Sleeper) TryMarkSearching() bool {
	for {
		old := s.word.Load()
		active, searching := decode(old)
		if searching*2 >= active {
			return false
		}
		if s.word.CompareAndSwap(old, old+searchingIncr) {
			return true
		}
	}
}

// DecSearching decrements the searching count and reports whether the
// calling worker was the last searcher. Callers that found work and were
// the last searcher must nudge another worker into searching, so search
// capacity isn't silently lost; that responsibility lives with the
// caller, not here.
func (s *Sleeper) DecSearching() (isLast bool) {
	for {
		old := s.word.Load()
		_, searching := decode(old)
		if searching == 0 {
			return false
		}
		newWord := old - searchingIncr
		if s.word.CompareAndSwap(old, newWord) {
			return searching == 1
		}
	}
}

// PushWorker parks worker index onto the idle list and decrements active.
// Returns true iff active reached zero: the caller (the last-to-park
// worker) becomes responsible for driving the reactor/timer wheel, since
// at most one worker drives at a time.
func (s *Sleeper) PushWorker(index uint32) (isLast bool) {
	s.mu.Lock()
	s.idle = append(s.idle, index)
	s.mu.Unlock()

	for {
		old := s.word.Load()
		active, _ := decode(old)
		if active == 0 {
			// Defensive: shouldn't happen if callers only push an
			// already-active worker, but avoid underflow regardless.
			return true
		}
		newWord := old - activeIncr
		if s.word.CompareAndSwap(old, newWord) {
			newActive, _ := decode(newWord)
			return newActive == 0
		}
	}
}

// PopWorker removes and returns one parked worker index, incrementing
// active. Returns ok=false if active is already at the pool's total
// capacity or any worker is currently searching (avoids redundant
// unparks).
func (s *Sleeper) PopWorker() (index uint32, ok bool) {
	for {
		old := s.word.Load()
		active, searching := decode(old)
		if active >= uint64(s.totalSize) || searching > 0 {
			return 0, false
		}
		newWord := old + activeIncr
		if !s.word.CompareAndSwap(old, newWord) {
			continue
		}

		s.mu.Lock()
		if len(s.idle) == 0 {
			s.mu.Unlock()
			// Nothing to pop after all: undo the increment.
			s.word.Add(negActiveIncr)
			return 0, false
		}
		n := len(s.idle)
		idx := s.idle[n-1]
		s.idle = s.idle[:n-1]
		s.mu.Unlock()
		return idx, true
	}
}
