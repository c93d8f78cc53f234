package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recordingWaker struct {
	fired *[]string
	name  string
}

func (w recordingWaker) Wake() { *w.fired = append(*w.fired, w.name) }

// Scenario S5: two timers sharing a deadline fire in registration order.
func TestTimersEqualDeadlineFiresInRegistrationOrder(t *testing.T) {
	timers := newTimers()
	var fired []string

	deadline := time.Unix(1000, 0)
	timers.Register(deadline, recordingWaker{fired: &fired, name: "first"})
	timers.Register(deadline, recordingWaker{fired: &fired, name: "second"})

	_, ok := timers.Run(deadline)
	assert.False(t, ok)
	assert.Equal(t, []string{"first", "second"}, fired)
}

func TestTimersCancelIsSilentNoOp(t *testing.T) {
	timers := newTimers()
	var fired []string

	id := timers.Register(time.Unix(1000, 0), recordingWaker{fired: &fired, name: "a"})
	timers.Cancel(id)
	timers.Cancel(id) // double-cancel, must not panic

	_, ok := timers.Run(time.Unix(2000, 0))
	assert.False(t, ok)
	assert.Empty(t, fired)
}

func TestTimersRunReturnsNextDeadline(t *testing.T) {
	timers := newTimers()
	var fired []string

	timers.Register(time.Unix(1000, 0), recordingWaker{fired: &fired, name: "a"})
	timers.Register(time.Unix(2000, 0), recordingWaker{fired: &fired, name: "b"})

	d, ok := timers.Run(time.Unix(1000, 0))
	assert.True(t, ok)
	assert.Equal(t, 1000*time.Second, d)
	assert.Equal(t, []string{"a"}, fired)
	assert.Equal(t, 1, timers.Len())

	deadline, ok := timers.NextDeadline()
	assert.True(t, ok)
	assert.True(t, deadline.Equal(time.Unix(2000, 0)))
}
