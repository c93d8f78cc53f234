//go:build windows

package driver

import (
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/windows"
)

// iocpPoller implements platformPoller via an I/O completion port.
//
// IOCP is completion-based rather than readiness-based: a real caller
// issues overlapped ReadFile/WriteFile/WSARecv/WSASend and the completion
// packet reports bytes transferred, not "you may now read". To present the
// same readiness-oriented platformPoller contract as epoll/kqueue, each
// registered handle's completion key is used as the token and an arriving
// completion is reported as both directions ready; callers drive their own
// overlapped I/O and treat this as "a reason to retry".
type iocpPoller struct {
	iocp windows.Handle

	mu     sync.Mutex
	tokens map[int]Bits
}

func newPlatformPoller() (platformPoller, error) {
	iocp, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, err
	}
	return &iocpPoller{iocp: iocp, tokens: make(map[int]Bits)}, nil
}

func (p *iocpPoller) add(fd int, token Bits, _ Interest) error {
	p.mu.Lock()
	if _, exists := p.tokens[fd]; exists {
		p.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.tokens[fd] = token
	p.mu.Unlock()

	_, err := windows.CreateIoCompletionPort(windows.Handle(fd), p.iocp, uintptr(token), 0)
	if err != nil {
		p.mu.Lock()
		delete(p.tokens, fd)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *iocpPoller) modify(fd int, token Bits, interest Interest) error {
	p.mu.Lock()
	_, exists := p.tokens[fd]
	if exists {
		p.tokens[fd] = token
	}
	p.mu.Unlock()
	if !exists {
		return ErrFDNotRegistered
	}
	return nil
}

func (p *iocpPoller) remove(fd int) error {
	p.mu.Lock()
	_, exists := p.tokens[fd]
	delete(p.tokens, fd)
	p.mu.Unlock()
	if !exists {
		return ErrFDNotRegistered
	}
	// Closing the handle detaches it from the port; IOCP has no explicit
	// deregister call.
	return nil
}

func (p *iocpPoller) wait(timeout time.Duration, dst []pollEvent) ([]pollEvent, error) {
	var timeoutMS *uint32
	if timeout >= 0 {
		ms := uint32(timeout.Milliseconds())
		timeoutMS = &ms
	}

	var bytes uint32
	var key uintptr
	var overlapped *windows.Overlapped

	err := windows.GetQueuedCompletionStatus(p.iocp, &bytes, &key, &overlapped, timeoutMS)
	if err != nil {
		if errno, ok := err.(syscall.Errno); ok && errno == windows.WAIT_TIMEOUT {
			return dst, nil
		}
		return dst, err
	}

	if overlapped == nil {
		// PostQueuedCompletionStatus wake, per wakeup_windows.go.
		return append(dst, pollEvent{token: reservedWakeToken}), nil
	}

	p.mu.Lock()
	token, ok := p.tokens[int(key)]
	p.mu.Unlock()
	if !ok {
		return dst, nil
	}
	return append(dst, pollEvent{token: token, bits: readyReadable | readyWritable}), nil
}

func (p *iocpPoller) close() error {
	return windows.CloseHandle(p.iocp)
}
