package driver

import "errors"

// Standard errors returned by registration and driver operations.
var (
	// ErrClosed is returned by operations attempted on a closed Reactor or Driver.
	ErrClosed = errors.New("driver: closed")

	// ErrFDAlreadyRegistered is returned when a source is registered twice.
	ErrFDAlreadyRegistered = errors.New("driver: source already registered")

	// ErrFDNotRegistered is returned when deregistering or modifying an unknown source.
	ErrFDNotRegistered = errors.New("driver: source not registered")

	// ErrStaleRef is returned by registry lookups whose generation no longer matches.
	ErrStaleRef = errors.New("driver: stale reference")

	// ErrReentrantRun is returned when Run is called from within the driver's own goroutine.
	ErrReentrantRun = errors.New("driver: cannot call Run from within the driver")

	// ErrAlreadyRunning is returned when Run is called while already running.
	ErrAlreadyRunning = errors.New("driver: already running")
)

// FatalPollError wraps an error returned by the kernel readiness primitive.
// Reactor-loop errors are fatal to the driver loop: the caller of Run
// observes this and must decide whether to abort the process or retry
// with a fresh Driver.
type FatalPollError struct {
	Err error
}

func (e *FatalPollError) Error() string {
	return "driver: fatal poll error: " + e.Err.Error()
}

func (e *FatalPollError) Unwrap() error {
	return e.Err
}
