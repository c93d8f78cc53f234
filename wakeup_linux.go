//go:build linux

package driver

import (
	"golang.org/x/sys/unix"
)

// eventfdWaker is the Linux cross-thread wake primitive, backed by a
// single eventfd used for both increment (wake) and drain.
type eventfdWaker struct {
	efd int
}

func newWakeSource() (wakeSource, error) {
	efd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return nil, err
	}
	return &eventfdWaker{efd: efd}, nil
}

func (w *eventfdWaker) fd() int { return w.efd }

func (w *eventfdWaker) wake(_ *platformPollerHandle) error {
	var buf [8]byte
	buf[7] = 1
	_, err := unix.Write(w.efd, buf[:])
	if err == unix.EAGAIN {
		// Counter already non-zero: a wake is already pending, so this
		// one coalesces with it.
		return nil
	}
	return err
}

func (w *eventfdWaker) drain() error {
	var buf [8]byte
	for {
		_, err := unix.Read(w.efd, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return err
		}
	}
}

func (w *eventfdWaker) close() error {
	return unix.Close(w.efd)
}
