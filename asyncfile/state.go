package asyncfile

import "sync/atomic"

// fileState is a four-variant enumeration: exactly one is current;
// transitions only occur under the file's mutex. Represented as an
// atomic.Int32 so State() can report it without contending the mutex a
// concurrent operation might be holding across a blocking-pool round
// trip.
type fileState int32

const (
	stateIdle fileState = iota
	stateReading
	stateWriting
	stateSeeking
)

func (s fileState) String() string {
	switch s {
	case stateIdle:
		return "Idle"
	case stateReading:
		return "Reading"
	case stateWriting:
		return "Writing"
	case stateSeeking:
		return "Seeking"
	default:
		return "Unknown"
	}
}

// stateTracker is embedded in File to expose the current variant.
type stateTracker struct {
	v atomic.Int32
}

func (s *stateTracker) load() fileState   { return fileState(s.v.Load()) }
func (s *stateTracker) store(v fileState) { s.v.Store(int32(v)) }
