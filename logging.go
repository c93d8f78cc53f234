package driver

import (
	"github.com/joeycumines/logiface"
	izerolog "github.com/joeycumines/logiface-zerolog"
)

// Event is the concrete structured logging event type used by this module:
// github.com/joeycumines/logiface's Event interface, implemented here via
// github.com/joeycumines/logiface-zerolog against github.com/rs/zerolog.
//
// Components accept a *logiface.Logger[*Event] rather than hand-rolling a
// bespoke logging interface, so every package in this module logs through
// the same structured, leveled, field-based API.
type Event = izerolog.Event

// logOrNop returns logger unless it is nil, in which case it returns a
// disabled logger so call sites never need a nil check before logging.
func logOrNop(logger *logiface.Logger[*Event]) *logiface.Logger[*Event] {
	if logger == nil {
		return izerolog.L.New(izerolog.L.WithLevel(logiface.LevelDisabled))
	}
	return logger
}
