//go:build darwin

package driver

import "golang.org/x/sys/unix"

// selfPipeWaker is the Darwin cross-thread wake primitive: a non-blocking
// self-pipe.
type selfPipeWaker struct {
	readFD  int
	writeFD int
}

func newWakeSource() (wakeSource, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, err
		}
	}
	return &selfPipeWaker{readFD: fds[0], writeFD: fds[1]}, nil
}

func (w *selfPipeWaker) fd() int { return w.readFD }

func (w *selfPipeWaker) wake(_ *platformPollerHandle) error {
	_, err := unix.Write(w.writeFD, []byte{1})
	if err == unix.EAGAIN {
		// Pipe buffer already has a pending byte: the wake coalesces.
		return nil
	}
	return err
}

func (w *selfPipeWaker) drain() error {
	var buf [64]byte
	for {
		_, err := unix.Read(w.readFD, buf[:])
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			return err
		}
	}
}

func (w *selfPipeWaker) close() error {
	err := unix.Close(w.readFD)
	if werr := unix.Close(w.writeFD); err == nil {
		err = werr
	}
	return err
}
