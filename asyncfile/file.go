package asyncfile

import (
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
)

// DefaultBufferSizeLimit is the default per-operation buffer cap.
const DefaultBufferSizeLimit = 2 << 20

// sharedFile is the reference-counted handle to the underlying OS file,
// shared between a File envelope and any in-flight blocking job. It is
// never mutated by two jobs simultaneously, because the state machine
// permits at most one job outstanding at a time.
type sharedFile struct {
	f    *os.File
	refs atomic.Int32
}

func newSharedFile(f *os.File) *sharedFile {
	sf := &sharedFile{f: f}
	sf.refs.Store(1)
	return sf
}

func (sf *sharedFile) clone() *sharedFile {
	sf.refs.Add(1)
	return sf
}

// readAheadBuf holds bytes already fetched from the file but not yet
// handed to the caller (read path), or bytes the caller has appended but
// not yet flushed to the file (write path). Exactly one of these uses is
// active for any given buffer lifetime: in any Idle(buf) state the buf
// is always present.
type readAheadBuf struct {
	data  []byte
	start int // index of the first unread byte
}

func (b *readAheadBuf) unread() int { return len(b.data) - b.start }

func (b *readAheadBuf) reset() {
	b.data = b.data[:0]
	b.start = 0
}

// File is an async-file state machine: every operation acquires mu,
// inspects/transitions state, and either serves a read from buffered
// read-ahead or dispatches a blocking job to the shared pool.
//
// Read and Seek always join their own job before returning, since their
// result depends on it. Write is the one path that returns before its job
// finishes -- the in-memory append returns immediately; the job is kept
// in pendingJob and joined lazily by whichever operation next needs the
// file Idle, which is how a contended TryIntoStd and a sticky write error
// surface.
type File struct {
	pool *BlockingPool

	mu    sync.Mutex
	state stateTracker

	sf  *sharedFile
	buf readAheadBuf

	idx          int64
	bufSizeLimit int

	pendingJob *job // set only while state == stateWriting

	writeErr error // sticky; surfaces once on the next Write or Flush

	closed bool
}

func newFile(pool *BlockingPool, sf *sharedFile) *File {
	return &File{pool: pool, sf: sf, bufSizeLimit: DefaultBufferSizeLimit}
}

// Open opens name for reading, lifted into the async model via pool.
func Open(pool *BlockingPool, name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return newFile(pool, newSharedFile(f)), nil
}

// Create creates or truncates name for writing, lifted into the async
// model via pool.
func Create(pool *BlockingPool, name string) (*File, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, err
	}
	return newFile(pool, newSharedFile(f)), nil
}

// State reports the file's current variant, per testable property 2: at
// any instant, exactly one of Idle/Reading/Writing/Seeking.
func (f *File) State() string {
	return f.state.load().String()
}

// SetBufferSizeLimit changes the per-operation buffer cap. Must be called
// while the file is Idle (i.e. not concurrently with an in-flight op).
func (f *File) SetBufferSizeLimit(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n > 0 {
		f.bufSizeLimit = n
	}
}

// Read implements io.Reader. If the buffer already holds unread
// read-ahead bytes they satisfy the request immediately with no blocking
// job. Otherwise it grows the buffer up to min(len(p), bufSizeLimit) and
// dispatches a blocking job.
func (f *File) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	f.joinPendingLocked()

	if unread := f.buf.unread(); unread > 0 {
		n := copy(p, f.buf.data[f.buf.start:])
		f.buf.start += n
		f.idx += int64(n)
		return n, nil
	}

	want := len(p)
	if want > f.bufSizeLimit {
		want = f.bufSizeLimit
	}
	if want == 0 {
		return 0, nil
	}

	sf := f.sf.clone()
	f.state.store(stateReading)
	scratch := make([]byte, want)
	j := f.pool.submit(func() jobResult {
		defer sf.refs.Add(-1)
		n, err := sf.f.Read(scratch)
		if err == io.EOF {
			err = nil
		}
		return jobResult{buf: scratch[:n], err: err}
	})

	res := j.await()
	f.state.store(stateIdle)
	if res.err != nil {
		return 0, res.err
	}

	f.buf = readAheadBuf{data: res.buf}
	n := copy(p, f.buf.data)
	f.buf.start = n
	f.idx += int64(n)
	return n, nil
}

// Write implements io.Writer. Bytes are appended into the buffer (capped
// by bufSizeLimit) and a blocking job is dispatched to flush the buffer
// to the file; the call returns as soon as the in-memory append
// completes -- it does not wait for the job. Write errors are sticky:
// they surface on the next Write or Flush.
func (f *File) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	// Finish any previous write job before starting a new one -- at most
	// one job may be outstanding at a time.
	f.joinPendingLocked()

	if f.writeErr != nil {
		err := f.writeErr
		f.writeErr = nil
		return 0, err
	}

	rewind := int64(f.buf.unread())
	f.buf.reset()

	n := len(p)
	if n > f.bufSizeLimit {
		n = f.bufSizeLimit
		p = p[:n]
	}
	f.buf.data = append(f.buf.data, p...)

	sf := f.sf.clone()
	payload := append([]byte(nil), f.buf.data...)
	f.state.store(stateWriting)
	f.pendingJob = f.pool.submit(func() jobResult {
		defer sf.refs.Add(-1)
		// Discard stale read-ahead: rewind the physical cursor by the
		// unread amount before this write lands at the right spot.
		if rewind > 0 {
			if _, err := sf.f.Seek(-rewind, io.SeekCurrent); err != nil {
				return jobResult{err: err}
			}
		}
		_, err := sf.f.Write(payload)
		return jobResult{err: err}
	})

	f.idx += int64(n)
	return n, nil
}

// joinPendingLocked awaits an outstanding write job (if any), restores
// Idle, and records any job error as the sticky write_err. Callers must
// hold mu. No-op when already Idle.
func (f *File) joinPendingLocked() {
	if f.pendingJob == nil {
		return
	}
	res := f.pendingJob.await()
	f.pendingJob = nil
	f.state.store(stateIdle)
	f.buf.reset()
	if res.err != nil {
		f.writeErr = res.err
	}
}

// SeekStart, SeekCurrent, and SeekEnd mirror io.Seeker's whence values, so
// callers of this package don't need to also import io for Seek.
const (
	SeekStart   = io.SeekStart
	SeekCurrent = io.SeekCurrent
	SeekEnd     = io.SeekEnd
)

// Seek implements io.Seeker. Relative (SeekCurrent) seeks are adjusted by
// any unread read-ahead bytes so the logical cursor moves by the amount
// the caller expects rather than the (further-ahead) physical one.
// Absolute seeks pass through unchanged.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, ErrClosed
	}
	f.joinPendingLocked()

	physicalOffset := offset
	if whence == io.SeekCurrent {
		physicalOffset = offset - int64(f.buf.unread())
	}
	f.buf.reset()

	sf := f.sf.clone()
	f.state.store(stateSeeking)
	j := f.pool.submit(func() jobResult {
		defer sf.refs.Add(-1)
		pos, err := sf.f.Seek(physicalOffset, whence)
		return jobResult{n: int(pos), err: err}
	})

	res := j.await()
	f.state.store(stateIdle)
	if res.err != nil {
		return 0, res.err
	}

	switch whence {
	case io.SeekCurrent:
		f.idx += offset
	default:
		f.idx = int64(res.n)
	}
	return f.idx, nil
}

// Flush drives any outstanding write job to completion and reports only
// writing-job errors. A Flush while already Idle is a no-op.
func (f *File) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	f.joinPendingLocked()

	if f.writeErr != nil {
		err := f.writeErr
		f.writeErr = nil
		return err
	}
	return nil
}

// SetLen flushes, then truncates the file to size in the blocking pool.
// If there is read-ahead, the job seeks back by that amount first. Per
// spec's open question on set_len, the logical cursor idx is NOT
// re-normalized after truncation -- see DESIGN.md.
func (f *File) SetLen(size int64) error {
	if err := f.Flush(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	rewind := int64(f.buf.unread())
	f.buf.reset()

	sf := f.sf.clone()
	j := f.pool.submit(func() jobResult {
		defer sf.refs.Add(-1)
		if rewind > 0 {
			if _, err := sf.f.Seek(-rewind, io.SeekCurrent); err != nil {
				return jobResult{err: err}
			}
		}
		return jobResult{err: sf.f.Truncate(size)}
	})
	return j.await().err
}

// Metadata returns fs.FileInfo for the underlying file.
func (f *File) Metadata() (fs.FileInfo, error) {
	if err := f.Flush(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	return f.sf.f.Stat()
}

// SetPermissions changes the file's mode bits.
func (f *File) SetPermissions(mode fs.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return f.sf.f.Chmod(mode)
}

// SyncAll commits both file content and metadata to stable storage.
func (f *File) SyncAll() error {
	if err := f.Flush(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	return f.sf.f.Sync()
}

// SyncData commits file content; Go's os.File has no data-only sync, so
// this is equivalent to SyncAll (documented in DESIGN.md as a dropped
// distinction the standard library doesn't expose).
func (f *File) SyncData() error {
	return f.SyncAll()
}

// TryClone returns a new File wrapping an independently duplicated OS
// handle: reads, writes, and seeks on the clone do not share state with
// the original, and the clone's lifecycle does not keep the original
// pinned from IntoStd. Only a job's own temporary hold on sf -- not a
// TryClone sibling -- counts as "a job still holds a clone" for
// IntoStd/TryIntoStd's contention check.
func (f *File) TryClone() (*File, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ErrClosed
	}
	sf := f.sf
	f.mu.Unlock()

	sfRef := sf.clone()
	j := f.pool.submit(func() jobResult {
		defer sfRef.refs.Add(-1)
		dup, err := dupFile(sfRef.f)
		return jobResult{file: dup, err: err}
	})
	res := j.await()
	if res.err != nil {
		return nil, res.err
	}
	return newFile(f.pool, newSharedFile(res.file)), nil
}

// IntoStd flushes (joining any outstanding write job) then requires sole
// ownership of the shared file handle -- no job still holding its own
// temporary clone -- returning the raw *os.File.
func (f *File) IntoStd() (*os.File, error) {
	if err := f.Flush(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if f.sf.refs.Load() > 1 {
		return nil, &ConversionError{File: f}
	}
	f.closed = true
	return f.sf.f, nil
}

// TryIntoStd is like IntoStd but never waits: if a write job is still
// outstanding, it returns the file back as the error payload immediately
// rather than blocking.
func (f *File) TryIntoStd() (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if f.pendingJob != nil || f.sf.refs.Load() > 1 {
		return nil, &ConversionError{File: f}
	}
	if f.writeErr != nil {
		err := f.writeErr
		f.writeErr = nil
		return nil, err
	}
	f.closed = true
	return f.sf.f, nil
}
