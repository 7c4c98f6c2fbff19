package bikecep

import "time"

// TripEvent is a single bike-share trip. Once handed to the pipeline it is
// treated as read-only and may be shared by reference among several partial
// matches until it ages out of the pattern window.
type TripEvent struct {
	BikeID       string
	StartStation int
	EndStation   int
	StartTime    time.Time
	EndTime      time.Time

	// Duration and Name fields are carried through from the source record
	// for projection/debugging purposes but are never interpreted by the
	// core.
	Duration         time.Duration
	StartStationName string
	EndStationName   string
}

// Valid reports whether the event satisfies the basic trip invariant.
func (e *TripEvent) Valid() bool {
	return e != nil && !e.StartTime.After(e.EndTime)
}
