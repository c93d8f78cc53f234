//go:build linux || darwin

package asyncfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// dupFile duplicates f's underlying descriptor into a new, independent
// *os.File, the same way std::fs::File::try_clone duplicates the OS file
// description rather than sharing a reference count with the original.
func dupFile(f *os.File) (*os.File, error) {
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(fd)
	return os.NewFile(uintptr(fd), f.Name()), nil
}
