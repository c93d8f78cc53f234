package driver

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/joeycumines/logiface"
)

// Driver is the fused reactor+timer loop: one worker at a time calls Run
// (or repeatedly RunOnce), asking the timer wheel for the next deadline,
// blocking the reactor up to that deadline, then advancing the wheel.
type Driver struct {
	reactor *Reactor
	timers  *Timers
	logger  *logiface.Logger[*Event]

	maxPollEvents int

	running atomic.Bool
	runGoID atomic.Uint64
}

// Handle is the small, shareable facade user-facing APIs call to register
// I/O or timers and to wake the driver. Safe for concurrent use from any
// goroutine.
type Handle struct {
	d *Driver
}

// Initialize creates a (Handle, Driver) pair. The Driver is the loop; the
// Handle is what the rest of the runtime calls to register work with it.
func Initialize(opts ...DriverOption) (*Handle, *Driver, error) {
	cfg := resolveDriverOptions(opts)

	poller, err := newPlatformPoller()
	if err != nil {
		return nil, nil, err
	}
	wake, err := newWakeSource()
	if err != nil {
		_ = poller.close()
		return nil, nil, err
	}

	logger := logOrNop(cfg.logger)

	reactor, err := newReactor(poller, wake, logger)
	if err != nil {
		_ = poller.close()
		_ = wake.close()
		return nil, nil, err
	}

	d := &Driver{
		reactor:       reactor,
		timers:        newTimers(),
		logger:        logger,
		maxPollEvents: cfg.maxPollEvents,
	}
	return &Handle{d: d}, d, nil
}

// IORegister registers source with the reactor for interest.
func (h *Handle) IORegister(source Source, interest Interest) (Ref, error) {
	return h.d.reactor.Register(source, interest)
}

// IODeregister removes source from the reactor.
func (h *Handle) IODeregister(source Source, ref Ref) error {
	return h.d.reactor.Deregister(source, ref)
}

// RegisterWaker installs w to be woken the next time ref becomes ready for
// dir, or reports that it already is.
func (h *Handle) RegisterWaker(ref Ref, dir Interest, w TaskWaker) (installed, alreadyReady bool) {
	return h.d.reactor.RegisterWaker(ref, dir, w)
}

// TimerRegister schedules w to fire at deadline, then wakes the driver so
// an in-progress drive recomputes its sleep deadline.
func (h *Handle) TimerRegister(deadline time.Time, w TaskWaker) TimerID {
	id := h.d.timers.Register(deadline, w)
	_ = h.d.reactor.Waker().Wake()
	return id
}

// TimerCancel cancels a previously registered timer.
func (h *Handle) TimerCancel(id TimerID) {
	h.d.timers.Cancel(id)
}

// Wake unblocks any in-progress drive.
func (h *Handle) Wake() error {
	return h.d.reactor.Waker().Wake()
}

// Waker returns the reusable, cross-thread wake handle bound to this
// driver's reactor.
func (h *Handle) Waker() *Waker {
	return h.d.reactor.Waker()
}

// Close releases the driver's kernel resources. Not safe to call
// concurrently with Run/RunOnce.
func (h *Handle) Close() error {
	return h.d.reactor.Close()
}

// RunOnce drives the reactor and timer wheel exactly once: compute the
// next timer deadline, drive the reactor up to that deadline (or the
// caller's timeout, whichever is sooner), then advance the timer wheel.
// A zero timeout performs a non-blocking poll.
//
// Other workers may call RunOnce opportunistically with a zero timeout;
// only the last-to-park worker is expected to call the long-blocking Run.
func (d *Driver) RunOnce(timeout time.Duration) error {
	now := time.Now()
	d.timers.Run(now)
	waitFor := timeout

	if deadline, ok := d.timers.NextDeadline(); ok {
		untilNext := deadline.Sub(now)
		if untilNext < 0 {
			untilNext = 0
		}
		if timeout < 0 || untilNext < timeout {
			waitFor = untilNext
		}
	}

	buf := make([]pollEvent, 0, d.maxPollEvents)
	if _, err := d.reactor.drive(waitFor, buf); err != nil {
		return err
	}

	d.timers.Run(time.Now())
	return nil
}

// Run blocks the calling goroutine, repeatedly calling RunOnce with an
// unbounded timeout (capped by the next timer deadline) until stop
// returns true on each iteration. Returns ErrAlreadyRunning if another
// goroutine is already inside Run.
func (d *Driver) Run(stop func() bool) error {
	if d.runGoID.Load() == getGoroutineID() {
		return ErrReentrantRun
	}
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	d.runGoID.Store(getGoroutineID())
	defer d.runGoID.Store(0)
	defer d.running.Store(false)

	d.logger.Debug().Log(`driver: run started`)
	defer d.logger.Debug().Log(`driver: run stopped`)

	for {
		if stop != nil && stop() {
			return nil
		}
		if err := d.RunOnce(-1); err != nil {
			return err
		}
	}
}

// getGoroutineID returns the current goroutine's ID, parsed out of the
// runtime.Stack header. Used only to detect a Run call nested inside a
// TaskWaker fired synchronously from the same Run loop.
func getGoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// PendingTimers reports the number of timers still outstanding; used by
// callers deciding whether they must keep the driver alive.
func (d *Driver) PendingTimers() int {
	return d.timers.Len()
}
