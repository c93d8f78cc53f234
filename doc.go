// Package driver implements the fused I/O reactor, timer wheel, and
// worker-sleep coordinator that sit at the core of a cooperative,
// task-based async runtime.
//
// # Architecture
//
// A [Driver] owns a [Reactor] (kernel readiness notifications translated
// into per-handle wakeups via a generational [registry]) and a [Timers]
// wheel (deadline-ordered wakers). A [Sleeper] tracks how many worker
// threads are active versus searching for work, and which are parked,
// so that at most one worker at a time blocks in [Driver.Run] driving the
// reactor and timer wheel on behalf of the rest.
//
// # Platform support
//
// The reactor is backed by epoll on Linux, kqueue on Darwin, and IOCP on
// Windows, each behind the unexported platformPoller interface.
//
// # Thread safety
//
// [Handle] is safe for concurrent use from any goroutine: registration,
// timer scheduling, and [Handle.Wake] all take short locks or use atomics.
// Only one goroutine at a time may be inside [Driver.Run] (a second caller
// gets ErrAlreadyRunning); callers pick that goroutine via [Sleeper]. Other
// workers may call [Driver.RunOnce] opportunistically with a zero timeout.
package driver
