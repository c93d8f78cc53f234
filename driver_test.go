package driver

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fdSource struct{ fd int }

func (s fdSource) FD() int { return s.fd }

// Scenario S4: a Wake() call from another goroutine must unblock an
// in-progress RunOnce well within its timeout.
func TestDriverCrossThreadWakeScenarioS4(t *testing.T) {
	require := assert.New(t)

	handle, d, err := Initialize()
	require.NoError(err)
	defer handle.Close()

	start := time.Now()
	done := make(chan time.Duration, 1)
	go func() {
		_ = d.RunOnce(time.Second)
		done <- time.Since(start)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(handle.Wake())

	select {
	case elapsed := <-done:
		require.Less(elapsed, 100*time.Millisecond)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("RunOnce did not return after Wake")
	}
}

// Scenario S6 (registration growth): registering many new sources while a
// background goroutine is continuously driving must not lose a waker to a
// registry slab reallocation -- every waker installed against a freshly
// grown slot must still fire once its source becomes readable.
func TestDriverConcurrentRegisterDuringDriveScenarioS6(t *testing.T) {
	require := assert.New(t)

	handle, d, err := Initialize()
	require.NoError(err)
	defer handle.Close()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = d.RunOnce(time.Millisecond)
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	const n = 64
	refs := make([]Ref, n)
	writers := make([]*os.File, n)
	for i := 0; i < n; i++ {
		r, w, err := os.Pipe()
		require.NoError(err)
		defer r.Close()
		defer w.Close()
		writers[i] = w

		ref, err := handle.IORegister(fdSource{fd: int(r.Fd())}, Readable)
		require.NoError(err)
		refs[i] = ref
	}

	for i := 0; i < n; i++ {
		var fired atomic.Bool
		handle.RegisterWaker(refs[i], Readable, TaskWakerFunc(func() { fired.Store(true) }))
		_, err := writers[i].Write([]byte{1})
		require.NoError(err)
		require.Eventually(func() bool { return fired.Load() }, 200*time.Millisecond, time.Millisecond,
			"waker for a newly registered source must still fire after the slab has grown")
	}
}

// Scenario S6: installing a read waker while the reactor concurrently
// reports readable must never silently drop the notification -- either the
// waker fires, or RegisterWaker itself reports alreadyReady.
func TestDriverRegisterWakerRaceScenarioS6(t *testing.T) {
	require := assert.New(t)

	handle, d, err := Initialize()
	require.NoError(err)
	defer handle.Close()

	r, w, err := os.Pipe()
	require.NoError(err)
	defer r.Close()
	defer w.Close()

	ref, err := handle.IORegister(fdSource{fd: int(r.Fd())}, Readable)
	require.NoError(err)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = d.RunOnce(5 * time.Millisecond)
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for i := 0; i < 50; i++ {
		var fired atomic.Bool
		waker := TaskWakerFunc(func() { fired.Store(true) })

		var writeDone sync.WaitGroup
		writeDone.Add(1)
		go func() {
			defer writeDone.Done()
			_, _ = w.Write([]byte{1})
		}()

		_, alreadyReady := handle.RegisterWaker(ref, Readable, waker)
		writeDone.Wait()

		time.Sleep(5 * time.Millisecond)

		require.True(fired.Load() || alreadyReady,
			"waker must either be invoked by the reactor or installation must report already-ready")

		buf := make([]byte, 1)
		_, _ = r.Read(buf)
		if e := ref.entry(); e != nil {
			e.resetReadiness(readyReadable)
		}
	}
}
