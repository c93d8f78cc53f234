package asyncfile

import "errors"

var (
	// ErrClosed is returned by operations on a File after it has been
	// dropped/closed.
	ErrClosed = errors.New("asyncfile: file closed")
)

// ConversionError is returned by TryIntoStd when a blocking job is still
// outstanding, carrying the File back out so the caller can retry after
// awaiting.
type ConversionError struct {
	File *File
}

func (e *ConversionError) Error() string {
	return "asyncfile: cannot convert to *os.File while a job is outstanding"
}
