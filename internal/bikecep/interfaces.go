package bikecep

// EventSource is the collaborator interface the pipeline pulls trip events
// from. Implementations (CSV readers, synthetic generators, Kafka
// consumers) live outside this package; the core only needs an iterator
// that yields events in non-decreasing StartTime order and signals end of
// stream by returning ok=false.
type EventSource interface {
	Next() (event *TripEvent, ok bool, err error)
}

// CompletedMatch is the payload delivered to a MatchSink.
type CompletedMatch struct {
	Events             []*TripEvent
	Projection         Projection
	DetectionLatencyMS float64
}

// Projection is the triple identifying a completed match: the first chain
// event's start station, the last chain event's end station before the
// terminal event, and the terminal event's end station.
type Projection struct {
	A1Start     int
	LastAEnd    int
	TerminalEnd int
}

// MatchSink is the collaborator interface completed matches are delivered
// to. A sink may return an error, which the driver propagates up from Run.
type MatchSink interface {
	Emit(match CompletedMatch) error
}

// MatchSinkFunc adapts a function to a MatchSink.
type MatchSinkFunc func(match CompletedMatch) error

func (f MatchSinkFunc) Emit(match CompletedMatch) error { return f(match) }
