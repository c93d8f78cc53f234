package driver

import "github.com/joeycumines/logiface"

// driverOptions holds configuration applied when constructing a Driver.
type driverOptions struct {
	logger        *logiface.Logger[*Event]
	maxPollEvents int
}

// DriverOption configures a Driver instance, as returned by the With*
// functions below. The unexported method prevents construction of
// DriverOption values outside this package.
type DriverOption interface {
	applyDriver(*driverOptions)
}

type driverOptionFunc func(*driverOptions)

func (f driverOptionFunc) applyDriver(o *driverOptions) { f(o) }

// WithLogger attaches a structured logger to the Driver and its Reactor.
// A nil logger (the default) disables logging entirely: logOrNop replaces
// it with a disabled logger, so call sites need no nil check.
func WithLogger(logger *logiface.Logger[*Event]) DriverOption {
	return driverOptionFunc(func(o *driverOptions) {
		o.logger = logger
	})
}

// WithMaxPollEvents sets the initial capacity of the event slice each
// drive() call fills. Defaults to 256. It does not bound how many kernel
// events one drive() drains: each platform backend drains up to its own
// fixed batch (256 events for epoll and kqueue, one completion for IOCP).
func WithMaxPollEvents(n int) DriverOption {
	return driverOptionFunc(func(o *driverOptions) {
		if n > 0 {
			o.maxPollEvents = n
		}
	})
}

func resolveDriverOptions(opts []DriverOption) *driverOptions {
	cfg := &driverOptions{maxPollEvents: defaultMaxPollEvents}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.applyDriver(cfg)
	}
	return cfg
}

const defaultMaxPollEvents = 256
