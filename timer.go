package driver

import (
	"container/heap"
	"sync"
	"time"
)

// TimerID identifies a registered timer entry for cancellation.
type TimerID uint64

// timerEntry is a (deadline, waker) pair living in the timer wheel.
// sequence breaks ties between equal deadlines in registration order.
type timerEntry struct {
	id       TimerID
	deadline time.Time
	sequence uint64
	waker    TaskWaker
	heapIdx  int
}

// timerHeap is a container/heap min-heap ordered by (deadline, sequence).
type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].sequence < h[j].sequence
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}

func (h *timerHeap) Push(x any) {
	e := x.(*timerEntry)
	e.heapIdx = len(*h)
	*h = append(*h, e)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.heapIdx = -1
	*h = old[:n-1]
	return e
}

// Timers is a heap-backed (deadline, waker) schedule. A heap is sufficient
// to realize the contract without committing to a specific timing-wheel
// granularity, and it naturally gives exact tie-breaking in registration
// order via sequence.
type Timers struct {
	mu      sync.Mutex
	heap    timerHeap
	byID    map[TimerID]*timerEntry
	nextID  TimerID
	nextSeq uint64
}

func newTimers() *Timers {
	return &Timers{byID: make(map[TimerID]*timerEntry)}
}

// Register inserts a new timer expiring at deadline, firing waker on
// expiry. The caller is responsible for waking the driver (e.g. via
// Waker.Wake) if the new deadline is sooner than whatever it's currently
// sleeping for -- Handle.TimerRegister does this.
func (t *Timers) Register(deadline time.Time, waker TaskWaker) TimerID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	t.nextSeq++
	e := &timerEntry{id: id, deadline: deadline, sequence: t.nextSeq, waker: waker}
	heap.Push(&t.heap, e)
	t.byID[id] = e
	return id
}

// Cancel removes a pending timer. A timer that has already fired or was
// never registered is a silent no-op: spurious wakeups are harmless.
func (t *Timers) Cancel(id TimerID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.byID[id]
	if !ok {
		return
	}
	delete(t.byID, id)
	if e.heapIdx >= 0 {
		heap.Remove(&t.heap, e.heapIdx)
	}
}

// Run advances the wheel to now, firing every expired entry's waker in
// (deadline, registration-order) order, and returns the duration until the
// next pending deadline. ok is false if no timers remain.
func (t *Timers) Run(now time.Time) (d time.Duration, ok bool) {
	var fired []TaskWaker

	t.mu.Lock()
	for len(t.heap) > 0 && !t.heap[0].deadline.After(now) {
		e := heap.Pop(&t.heap).(*timerEntry)
		delete(t.byID, e.id)
		fired = append(fired, e.waker)
	}

	var next time.Duration
	if len(t.heap) > 0 {
		next = t.heap[0].deadline.Sub(now)
		if next < 0 {
			next = 0
		}
		ok = true
	}
	t.mu.Unlock()

	for _, w := range fired {
		if w != nil {
			w.Wake()
		}
	}

	return next, ok
}

// Len reports the number of pending (unfired, uncancelled) timers.
func (t *Timers) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heap)
}

// NextDeadline returns the soonest pending deadline, or ok=false if no
// timers are registered.
func (t *Timers) NextDeadline() (deadline time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.heap) == 0 {
		return time.Time{}, false
	}
	return t.heap[0].deadline, true
}
