//go:build linux

package driver

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller implements platformPoller via epoll.
type epollPoller struct {
	epfd int

	mu     sync.Mutex
	tokens map[int]Bits // fd -> registered token, for remove/modify bookkeeping
}

func newPlatformPoller() (platformPoller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &epollPoller{epfd: epfd, tokens: make(map[int]Bits)}, nil
}

func interestToEpoll(i Interest) uint32 {
	var ev uint32
	if i.readable() {
		ev |= unix.EPOLLIN
	}
	if i.writable() {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func epollToReadyBits(events uint32) Bits {
	var bits Bits
	if events&unix.EPOLLIN != 0 {
		bits |= readyReadable
	}
	if events&unix.EPOLLOUT != 0 {
		bits |= readyWritable
	}
	if events&unix.EPOLLHUP != 0 {
		bits |= readyReadClosed | readyWriteClosed
	}
	if events&unix.EPOLLERR != 0 {
		bits |= readyError
	}
	return bits
}

func (p *epollPoller) add(fd int, token Bits, interest Interest) error {
	p.mu.Lock()
	if _, exists := p.tokens[fd]; exists {
		p.mu.Unlock()
		return ErrFDAlreadyRegistered
	}
	p.tokens[fd] = token
	p.mu.Unlock()

	ev := &unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	// The token is also copied (truncated to 32 bits) into Pad, but wait()
	// never reads it back: it demuxes by Fd through p.tokens.
	ev.Pad = int32(token)
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		p.mu.Lock()
		delete(p.tokens, fd)
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *epollPoller) modify(fd int, token Bits, interest Interest) error {
	p.mu.Lock()
	_, exists := p.tokens[fd]
	p.mu.Unlock()
	if !exists {
		return ErrFDNotRegistered
	}

	ev := &unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	ev.Pad = int32(token)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, ev)
}

func (p *epollPoller) remove(fd int) error {
	p.mu.Lock()
	_, exists := p.tokens[fd]
	delete(p.tokens, fd)
	p.mu.Unlock()
	if !exists {
		return ErrFDNotRegistered
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *epollPoller) wait(timeout time.Duration, dst []pollEvent) ([]pollEvent, error) {
	ms := durationToEpollMillis(timeout)

	var buf [256]unix.EpollEvent
	n, err := unix.EpollWait(p.epfd, buf[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return dst, nil
		}
		return dst, err
	}

	p.mu.Lock()
	for i := 0; i < n; i++ {
		fd := int(buf[i].Fd)
		token, ok := p.tokens[fd]
		if !ok {
			continue
		}
		bits := epollToReadyBits(buf[i].Events)
		if token == reservedWakeToken {
			dst = append(dst, pollEvent{token: reservedWakeToken})
			continue
		}
		dst = append(dst, pollEvent{token: token, bits: bits})
	}
	p.mu.Unlock()
	return dst, nil
}

func (p *epollPoller) close() error {
	return unix.Close(p.epfd)
}

func durationToEpollMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)>>1) {
		ms = int64(^uint32(0) >> 1)
	}
	return int(ms)
}
