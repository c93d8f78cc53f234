package asyncfile

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestPool(t *testing.T) *BlockingPool {
	t.Helper()
	pool := NewBlockingPool(2)
	t.Cleanup(pool.Close)
	return pool
}

// Write bytes [65..=73], reopen, and run a seek/read sequence that exercises
// SeekCurrent, SeekStart, and SeekEnd, checking every intermediate result.
func TestFileSeekReadRoundTripScenarioS2(t *testing.T) {
	require := assert.New(t)
	pool := newTestPool(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "s2.bin")

	payload := make([]byte, 9)
	for i := range payload {
		payload[i] = byte(65 + i) // 'A'..'I'
	}

	wf, err := Create(pool, path)
	require.NoError(err)
	n, err := wf.Write(payload)
	require.NoError(err)
	require.Equal(len(payload), n)
	require.NoError(wf.Flush())
	require.NoError(wf.SyncAll())
	_, err = wf.IntoStd()
	require.NoError(err)

	f, err := Open(pool, path)
	require.NoError(err)

	pos, err := f.Seek(3, SeekCurrent)
	require.NoError(err)
	require.EqualValues(3, pos)

	buf := make([]byte, 1)
	n, err = f.Read(buf)
	require.NoError(err)
	require.Equal(1, n)
	require.Equal(byte(68), buf[0])

	pos, err = f.Seek(1, SeekCurrent)
	require.NoError(err)
	require.EqualValues(5, pos)

	n, err = f.Read(buf)
	require.NoError(err)
	require.Equal(1, n)
	require.Equal(byte(70), buf[0])

	pos, err = f.Seek(2, SeekCurrent)
	require.NoError(err)
	require.EqualValues(8, pos)

	buf2 := make([]byte, 2)
	n, err = f.Read(buf2)
	require.NoError(err)
	require.Equal(1, n)
	require.Equal(byte(73), buf2[0])

	pos, err = f.Seek(0, SeekStart)
	require.NoError(err)
	require.EqualValues(0, pos)

	buf9 := make([]byte, 9)
	n, err = f.Read(buf9)
	require.NoError(err)
	require.Equal(9, n)
	require.Equal(payload, buf9)

	pos, err = f.Seek(-1, SeekEnd)
	require.NoError(err)
	require.EqualValues(8, pos)

	n, err = f.Read(buf2)
	require.NoError(err)
	require.Equal(1, n)
	require.Equal(byte(73), buf2[0])
}

// Scenario S3: write without flush, TryIntoStd fails as contended; after an
// explicit Flush completes, TryIntoStd succeeds.
func TestFileIntoStdContentionScenarioS3(t *testing.T) {
	require := assert.New(t)
	pool := newTestPool(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "s3.bin")

	f, err := Create(pool, path)
	require.NoError(err)

	_, err = f.Write([]byte("hello"))
	require.NoError(err)

	_, err = f.TryIntoStd()
	var convErr *ConversionError
	require.Error(err)
	require.True(errors.As(err, &convErr), "expected ConversionError while a job is outstanding")

	require.NoError(f.Flush())

	std, err := f.TryIntoStd()
	require.NoError(err)
	require.NotNil(std)
	_ = std.Close()
}

func TestFileWriteErrorIsSticky(t *testing.T) {
	require := assert.New(t)
	pool := newTestPool(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "sticky.bin")

	f, err := Create(pool, path)
	require.NoError(err)

	_, err = f.Write([]byte("ok"))
	require.NoError(err)
	require.NoError(f.Flush())

	// Release the writable handle, then reopen the file read-only so the
	// next write job fails; confirm the error surfaces exactly once.
	std, err := f.IntoStd()
	require.NoError(err)
	require.NoError(std.Close())

	f2, err := Open(pool, path)
	require.NoError(err)

	// Re-open read-only and attempt a write to synthesize a sticky error.
	_, err = f2.Write([]byte("nope"))
	require.NoError(err) // buffered append always succeeds; error surfaces on flush
	flushErr := f2.Flush()
	require.Error(flushErr)

	// The error must be consumed (sticky, one-shot): a second Flush is clean.
	require.NoError(f2.Flush())
}

func TestFileStateReflectsCurrentOperation(t *testing.T) {
	require := assert.New(t)
	pool := newTestPool(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "state.bin")

	f, err := Create(pool, path)
	require.NoError(err)
	require.Equal("Idle", f.State())

	_, err = f.Write([]byte("data"))
	require.NoError(err)
	require.Equal("Writing", f.State())
	require.NoError(f.Flush())
	require.Equal("Idle", f.State())
}

func TestFileTryCloneIsIndependentOfOriginal(t *testing.T) {
	require := assert.New(t)
	pool := newTestPool(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "clone.bin")

	f, err := Create(pool, path)
	require.NoError(err)

	clone, err := f.TryClone()
	require.NoError(err)

	// A TryClone sibling does not pin the original: both convert to
	// *os.File immediately, since neither has an outstanding job.
	std, err := f.IntoStd()
	require.NoError(err)
	require.NotNil(std)
	defer std.Close()

	cloneStd, err := clone.IntoStd()
	require.NoError(err)
	require.NotNil(cloneStd)
	defer cloneStd.Close()
}

func TestFileSetLenDoesNotRenormalizeCursor(t *testing.T) {
	require := assert.New(t)
	pool := newTestPool(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "setlen.bin")

	f, err := Create(pool, path)
	require.NoError(err)

	_, err = f.Write([]byte("0123456789"))
	require.NoError(err)
	require.NoError(f.Flush())

	pos, err := f.Seek(8, SeekStart)
	require.NoError(err)
	require.EqualValues(8, pos)

	require.NoError(f.SetLen(4))

	// Per the documented Open Question decision, idx is left at 8 even
	// though the file is now only 4 bytes long.
	buf := make([]byte, 4)
	n, err := f.Read(buf)
	require.NoError(err)
	require.Equal(0, n, "reading past the truncated end yields EOF-as-zero, not an error")
}

func TestBlockingPoolRecoversPanics(t *testing.T) {
	require := assert.New(t)
	pool := NewBlockingPool(1)
	defer pool.Close()

	j := pool.submit(func() jobResult {
		panic("boom")
	})
	res := j.await()
	require.Error(res.err)
	var panicErr PanicError
	require.True(errors.As(res.err, &panicErr))
}

func TestBlockingPoolJobsRunConcurrently(t *testing.T) {
	require := assert.New(t)
	pool := NewBlockingPool(2)
	defer pool.Close()

	start := time.Now()
	j1 := pool.submit(func() jobResult {
		time.Sleep(50 * time.Millisecond)
		return jobResult{}
	})
	j2 := pool.submit(func() jobResult {
		time.Sleep(50 * time.Millisecond)
		return jobResult{}
	})
	j1.await()
	j2.await()
	require.Less(time.Since(start), 90*time.Millisecond)
}
