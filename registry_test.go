package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistryInsertFreeReuse(t *testing.T) {
	reg := newRegistry()
	require := assert.New(t)

	ref1 := reg.insert()
	require.Equal(1, reg.len())

	ref1.Release()
	require.Equal(0, reg.len())

	ref2 := reg.insert()
	require.Equal(uint32(0), ref2.Index(), "freed slot should be reused")
	require.False(ref1.valid(), "stale ref must not resolve to the reused slot")
	require.True(ref2.valid())

	// Double release is a no-op.
	ref1.Release()
	require.Equal(1, reg.len())
}

// A Ref resolved before a burst of concurrent inserts must still resolve to
// the exact same entry afterward: growing the slab must never orphan a
// pointer already handed out.
func TestRegistryEntryPointerStableAcrossGrowth(t *testing.T) {
	require := assert.New(t)
	reg := newRegistry()

	ref := reg.insert()
	e := ref.entry()
	require.NotNil(e)

	for i := 0; i < 10_000; i++ {
		reg.insert()
	}

	e.markReady(readyReadable)
	e2 := ref.entry()
	require.NotNil(e2)
	require.Same(e, e2, "slab growth must not relocate an already-resolved entry")
	require.Equal(readyReadable, e2.readinessBits())
}

func TestScheduleEntryMarkReadyAndTakeWaker(t *testing.T) {
	e := &scheduleEntry{}
	require := assert.New(t)

	var fired bool
	installed, alreadyReady := e.registerWaker(Readable, TaskWakerFunc(func() { fired = true }))
	require.True(installed)
	require.False(alreadyReady)

	prev, next := e.markReady(readyReadable)
	require.Equal(Bits(0), prev)
	require.Equal(readyReadable, next)

	w := e.takeWaker(Readable)
	require.NotNil(w)
	(*w).Wake()
	require.True(fired)

	require.Nil(e.takeWaker(Readable), "waker slot must be empty after take")
}

// Scenario S6: installing a waker when the direction is already ready must
// report alreadyReady rather than silently installing a waker nothing will
// ever fire.
func TestScheduleEntryRegisterWakerAlreadyReadyScenarioS6(t *testing.T) {
	e := &scheduleEntry{}
	require := assert.New(t)

	e.markReady(readyReadable)

	fired := false
	installed, alreadyReady := e.registerWaker(Readable, TaskWakerFunc(func() { fired = true }))
	require.False(installed)
	require.True(alreadyReady)
	require.Nil(e.takeWaker(Readable))
	require.False(fired)
}
