package driver

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Source is anything that can be registered with a Reactor: a raw fd
// wrapper for a socket, pipe, or similar readiness-based device. Source
// implementations only need to expose the fd; (re)registration bookkeeping
// lives in Reactor/platformPoller.
type Source interface {
	// FD returns the underlying OS file descriptor.
	FD() int
}

// pollEvent is what a platformPoller reports back per readiness
// notification: which token (registry index) it belongs to, and which
// directions are ready.
type pollEvent struct {
	token Bits
	bits  Bits
}

// platformPoller is the kernel-primitive abstraction each
// reactor_<os>.go implements: epoll on Linux, kqueue on Darwin, IOCP on
// Windows.
type platformPoller interface {
	// add registers fd under token for the given interest.
	add(fd int, token Bits, interest Interest) error
	// modify changes the interest set for an already-registered fd.
	modify(fd int, token Bits, interest Interest) error
	// remove deregisters fd.
	remove(fd int) error
	// wait blocks up to timeout (negative means forever, zero means a
	// non-blocking poll) and appends ready events to dst, returning the
	// events actually populated.
	wait(timeout time.Duration, dst []pollEvent) ([]pollEvent, error)
	// close releases the kernel primitive.
	close() error
}

// wakeSource is the per-platform cross-thread wake primitive:
// eventfd (Linux), self-pipe (Darwin), PostQueuedCompletionStatus
// (Windows). It is itself registered with the poller under reservedWakeToken
// so a pending wake interrupts an in-progress wait the same way any other
// readiness event would.
type wakeSource interface {
	// fd returns the descriptor to register for readability, or -1 if this
	// backend delivers wakes out-of-band (e.g. IOCP's completion queue) and
	// needs no registration.
	fd() int
	// wake requests that a blocked wait() return soon. May coalesce with a
	// concurrent or already-pending wake (edge-triggered).
	wake(p *platformPollerHandle) error
	// drain consumes whatever the wake primitive left readable, so the next
	// wait() doesn't immediately re-fire on stale state.
	drain() error
	close() error
}

// platformPollerHandle lets a wakeSource reach into the concrete poller to
// post a platform-native wakeup (only needed by the Windows/IOCP backend;
// unix backends wake purely by writing to their own fd and ignore this).
type platformPollerHandle struct {
	poller platformPoller
}

// reservedWakeToken is never handed out by the registry (indices start at
// 0 and grow by append), so it safely distinguishes wake events from
// registry-backed ones.
const reservedWakeToken = ^Bits(0)

// Reactor owns the kernel readiness primitive, the generational registry of
// watched sources, and the cross-thread Waker.
type Reactor struct {
	reg    *registry
	poller platformPoller
	wake   wakeSource
	handle *platformPollerHandle

	logger *logiface.Logger[*Event]

	closed atomic.Bool

	// driving is set for the duration of a drive() call so a
	// concurrent Close can tell whether it needs to force a wake to
	// unblock an in-progress wait.
	driving atomic.Bool

	mu sync.Mutex // serializes register/deregister against the free list
}

// newReactor constructs a Reactor from a concrete platform poller and wake
// source; Initialize builds both via newPlatformPoller (reactor_<os>.go)
// and newWakeSource (wakeup_<os>.go).
func newReactor(poller platformPoller, wake wakeSource, logger *logiface.Logger[*Event]) (*Reactor, error) {
	r := &Reactor{
		reg:    newRegistry(),
		poller: poller,
		wake:   wake,
		logger: logOrNop(logger),
	}
	r.handle = &platformPollerHandle{poller: poller}
	if fd := wake.fd(); fd >= 0 {
		if err := poller.add(fd, reservedWakeToken, Readable); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds source to the kernel primitive for the given interest and
// returns an owning Ref.
func (r *Reactor) Register(source Source, interest Interest) (Ref, error) {
	if r.closed.Load() {
		return Ref{}, ErrClosed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ref := r.reg.insert()
	if err := r.poller.add(source.FD(), Bits(ref.Index()), interest); err != nil {
		r.reg.free(ref.index, ref.generation)
		return Ref{}, err
	}
	return ref, nil
}

// Reregister changes the interest set for an already-registered source.
func (r *Reactor) Reregister(source Source, ref Ref, interest Interest) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if !ref.valid() {
		return ErrStaleRef
	}
	return r.poller.modify(source.FD(), Bits(ref.Index()), interest)
}

// Deregister removes source from the kernel primitive and frees its
// registry slot.
func (r *Reactor) Deregister(source Source, ref Ref) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.poller.remove(source.FD())
	ref.Release()
	return err
}

// RegisterWaker installs w in ref's slot for dir, following a tick-compare
// protocol: if the direction is already ready, it returns
// alreadyReady=true and installs nothing, so the caller must re-check/
// re-drive itself rather than wait on a waker that will never fire.
func (r *Reactor) RegisterWaker(ref Ref, dir Interest, w TaskWaker) (installed, alreadyReady bool) {
	e := ref.entry()
	if e == nil {
		return false, true
	}
	return e.registerWaker(dir, w)
}

// drive blocks up to timeout on the kernel primitive and dispatches
// readiness to stored wakers. Returns the number of kernel events
// processed.
func (r *Reactor) drive(timeout time.Duration, buf []pollEvent) (int, error) {
	if r.closed.Load() {
		return 0, ErrClosed
	}

	r.driving.Store(true)
	events, err := r.poller.wait(timeout, buf[:0])
	r.driving.Store(false)

	if err != nil {
		r.logger.Err().Err(err).Log(`driver: poll failed`)
		return 0, &FatalPollError{Err: err}
	}

	n := 0
	for _, ev := range events {
		if ev.token == reservedWakeToken {
			_ = r.wake.drain()
			continue
		}
		r.dispatch(ev)
		n++
	}
	return n, nil
}

// dispatch resolves one kernel event to its schedule entry and fires
// wakers. A token whose index lies outside the slab is silently dropped.
// Tokens carry only the slab index, not the generation, so an event for a
// freed or reused slot is applied to whatever entry occupies it.
func (r *Reactor) dispatch(ev pollEvent) {
	e, ok := r.reg.at(uint32(ev.token))
	if !ok {
		return
	}

	_, next := e.markReady(ev.bits)
	_ = next

	if ev.bits&(readyReadable|readyReadClosed|readyError) != 0 {
		if w := e.takeWaker(Readable); w != nil {
			(*w).Wake()
		}
	}
	if ev.bits&(readyWritable|readyWriteClosed|readyError) != 0 {
		if w := e.takeWaker(Writable); w != nil {
			(*w).Wake()
		}
	}
}

// Waker returns a cross-thread handle that interrupts any in-progress
// drive() call.
func (r *Reactor) Waker() *Waker {
	return &Waker{reactor: r}
}

// Close releases the kernel primitive and the wake source. If a drive() is
// in progress it is interrupted first.
func (r *Reactor) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	if r.driving.Load() {
		_ = r.wake.wake(r.handle)
	}
	err := r.poller.close()
	if werr := r.wake.close(); err == nil {
		err = werr
	}
	return err
}

// Waker is the public cross-thread wake handle bound to one Reactor.
// Multiple Wake calls made while no drive is blocked, or made
// concurrently, may coalesce.
type Waker struct {
	reactor *Reactor
}

// Wake causes at most one pending drive call on the bound Reactor to
// return soon.
func (w *Waker) Wake() error {
	if w.reactor.closed.Load() {
		return ErrClosed
	}
	return w.reactor.wake.wake(w.reactor.handle)
}
