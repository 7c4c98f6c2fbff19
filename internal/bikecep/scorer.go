package bikecep

import "time"

// UtilityLabel is the coarse class EventUtilityScorer assigns to an event.
type UtilityLabel string

const (
	LabelCritical    UtilityLabel = "critical"
	LabelSupporting  UtilityLabel = "supporting"
	LabelNonCritical UtilityLabel = "non_critical"
)

// sequenceState is the most recent accepted chain observed for a bike, used
// only to estimate utility — it is a cheap, lossy shadow of the evaluator's
// own per-bike chain set, not a source of truth for matching.
type sequenceState struct {
	firstStart     time.Time
	lastEnd        time.Time
	lastEndStation int
	length         int
}

// EventUtilityScorer estimates, cheaply and locally, the probability that
// dropping an event destroys a future match.
type EventUtilityScorer struct {
	activeWindow time.Duration
	targets      map[int]struct{}
	byBike       map[string]*sequenceState
}

// NewEventUtilityScorer builds a scorer over the given target stations and
// active window.
func NewEventUtilityScorer(targets map[int]struct{}, activeWindow time.Duration) *EventUtilityScorer {
	return &EventUtilityScorer{
		activeWindow: activeWindow,
		targets:      targets,
		byBike:       make(map[string]*sequenceState),
	}
}

// UpdateTargets swaps in a new target-station set.
func (s *EventUtilityScorer) UpdateTargets(targets map[int]struct{}) {
	s.targets = targets
}

// UpdateWindow refreshes the active window bounding sequence relevance.
func (s *EventUtilityScorer) UpdateWindow(window time.Duration) {
	s.activeWindow = window
}

// ScoreEvent scores how much a future match would suffer if e were dropped.
func (s *EventUtilityScorer) ScoreEvent(e *TripEvent) (float64, UtilityLabel) {
	s.pruneExpired(e.StartTime)

	score := 0.05

	if state, ok := s.byBike[e.BikeID]; ok {
		score += 0.20
		if state.lastEndStation == e.StartStation && e.StartTime.Sub(state.lastEnd) <= s.activeWindow {
			score += 0.35
		} else if e.StartTime.Sub(state.firstStart) <= s.activeWindow {
			score += 0.15
		}
	}

	if _, ok := s.targets[e.StartStation]; ok {
		score += 0.15
	}
	if _, ok := s.targets[e.EndStation]; ok {
		score += 0.30
	}

	if e.EndTime.Sub(e.StartTime) <= 15*time.Minute {
		score += 0.05
	}

	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	var label UtilityLabel
	switch {
	case score >= 0.75:
		label = LabelCritical
	case score >= 0.45:
		label = LabelSupporting
	default:
		label = LabelNonCritical
	}
	return score, label
}

// NoteEvent records whether an event was accepted, advancing the live chain
// state for its bike or starting a new singleton.
func (s *EventUtilityScorer) NoteEvent(e *TripEvent, accepted bool) {
	s.pruneExpired(e.EndTime)

	if !accepted {
		return
	}

	if state, ok := s.byBike[e.BikeID]; ok &&
		state.lastEndStation == e.StartStation &&
		e.StartTime.Sub(state.lastEnd) <= s.activeWindow {
		state.lastEnd = e.EndTime
		state.lastEndStation = e.EndStation
		state.length++
		return
	}

	s.byBike[e.BikeID] = &sequenceState{
		firstStart:     e.StartTime,
		lastEnd:        e.EndTime,
		lastEndStation: e.EndStation,
		length:         1,
	}
}

// pruneExpired drops live chain state that has aged out of the active
// window, using currentTime as the reference instant.
func (s *EventUtilityScorer) pruneExpired(currentTime time.Time) {
	cutoff := currentTime.Add(-s.activeWindow)
	for bike, state := range s.byBike {
		if state.lastEnd.Before(cutoff) {
			delete(s.byBike, bike)
		}
	}
}
