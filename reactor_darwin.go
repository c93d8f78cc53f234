//go:build darwin

package driver

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// kqueuePoller implements platformPoller via kqueue.
type kqueuePoller struct {
	kq int

	mu     sync.Mutex
	tokens map[int]Bits
}

func newPlatformPoller() (platformPoller, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &kqueuePoller{kq: kq, tokens: make(map[int]Bits)}, nil
}

func (p *kqueuePoller) changesFor(fd int, interest Interest, flags uint16) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if interest.readable() {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if interest.writable() {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return changes
}

func (p *kqueuePoller) add(fd int, token Bits, interest Interest) error {
	p.mu.Lock()
	if _, exists := p.tokens[fd]; exists {
		p.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.tokens[fd] = token
	p.mu.Unlock()

	changes := p.changesFor(fd, interest, unix.EV_ADD|unix.EV_ENABLE)
	if len(changes) == 0 {
		return nil
	}
	if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
		p.mu.Lock()
		delete(p.tokens, fd)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *kqueuePoller) modify(fd int, token Bits, interest Interest) error {
	p.mu.Lock()
	_, exists := p.tokens[fd]
	if exists {
		p.tokens[fd] = token
	}
	p.mu.Unlock()
	if !exists {
		return ErrFDNotRegistered
	}

	del := p.changesFor(fd, Readable|Writable, unix.EV_DELETE)
	_, _ = unix.Kevent(p.kq, del, nil, nil)

	add := p.changesFor(fd, interest, unix.EV_ADD|unix.EV_ENABLE)
	if len(add) == 0 {
		return nil
	}
	_, err := unix.Kevent(p.kq, add, nil, nil)
	return err
}

func (p *kqueuePoller) remove(fd int) error {
	p.mu.Lock()
	_, exists := p.tokens[fd]
	delete(p.tokens, fd)
	p.mu.Unlock()
	if !exists {
		return ErrFDNotRegistered
	}

	del := p.changesFor(fd, Readable|Writable, unix.EV_DELETE)
	_, err := unix.Kevent(p.kq, del, nil, nil)
	return err
}

func (p *kqueuePoller) wait(timeout time.Duration, dst []pollEvent) ([]pollEvent, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	var buf [256]unix.Kevent_t
	n, err := unix.Kevent(p.kq, nil, buf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}

	p.mu.Lock()
	for i := 0; i < n; i++ {
		fd := int(buf[i].Ident)
		token, ok := p.tokens[fd]
		if !ok {
			continue
		}
		if token == reservedWakeToken {
			dst = append(dst, pollEvent{token: reservedWakeToken})
			continue
		}
		var bits Bits
		switch buf[i].Filter {
		case unix.EVFILT_READ:
			bits |= readyReadable
		case unix.EVFILT_WRITE:
			bits |= readyWritable
		}
		if buf[i].Flags&unix.EV_EOF != 0 {
			bits |= readyReadClosed | readyWriteClosed
		}
		if buf[i].Flags&unix.EV_ERROR != 0 {
			bits |= readyError
		}
		dst = append(dst, pollEvent{token: token, bits: bits})
	}
	p.mu.Unlock()
	return dst, nil
}

func (p *kqueuePoller) close() error {
	return unix.Close(p.kq)
}
