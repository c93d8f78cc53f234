//go:build windows

package driver

import "golang.org/x/sys/windows"

// iocpWaker wakes a blocked GetQueuedCompletionStatus by posting a null
// completion. IOCP needs no registered fd for this, unlike the
// eventfd/self-pipe backends.
type iocpWaker struct {
	iocp windows.Handle
}

func newWakeSource() (wakeSource, error) {
	return &iocpWaker{}, nil
}

// bind stores an IOCP handle on the waker. Nothing in this package calls
// it: wake reaches the port through the platformPollerHandle instead.
func (w *iocpWaker) bind(iocp windows.Handle) { w.iocp = iocp }

func (w *iocpWaker) fd() int { return -1 }

func (w *iocpWaker) wake(h *platformPollerHandle) error {
	p, ok := h.poller.(*iocpPoller)
	if !ok {
		return nil
	}
	return windows.PostQueuedCompletionStatus(p.iocp, 0, 0, nil)
}

func (w *iocpWaker) drain() error { return nil }

func (w *iocpWaker) close() error { return nil }
