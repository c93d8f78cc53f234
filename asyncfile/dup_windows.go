//go:build windows

package asyncfile

import (
	"os"

	"golang.org/x/sys/windows"
)

// dupFile duplicates f's underlying handle into a new, independent
// *os.File, mirroring the Unix dupFile's "independent OS handle" contract.
func dupFile(f *os.File) (*os.File, error) {
	proc := windows.CurrentProcess()
	var dup windows.Handle
	src := windows.Handle(f.Fd())
	if err := windows.DuplicateHandle(proc, src, proc, &dup, 0, false, windows.DUPLICATE_SAME_ACCESS); err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(dup), f.Name()), nil
}
