package bikecep

import (
	"time"
)

// chain is a partial match: an ordered, same-bike, station-chained sequence
// of events within the pattern window. It is indexed, per bike, by
// lastEndStation — the station the bike is currently at — which is what
// lets the evaluator keep at most one active chain per bike at a given
// suffix station.
type chain struct {
	bikeID         string
	events         []*TripEvent
	firstStart     time.Time
	lastEnd        time.Time
	lastEndStation int
	length         int

	// firstArrivalWall is the wall-clock instant the chain's first event
	// was handed to the evaluator, carried unchanged through extension. It
	// is the basis for match-detection latency, which must be a real
	// wall-clock duration, not an event-time span.
	firstArrivalWall time.Time
}

func newSingletonChain(e *TripEvent, arrivalWall time.Time) *chain {
	return &chain{
		bikeID:           e.BikeID,
		events:           []*TripEvent{e},
		firstStart:       e.StartTime,
		lastEnd:          e.EndTime,
		lastEndStation:   e.EndStation,
		length:           1,
		firstArrivalWall: arrivalWall,
	}
}

func (c *chain) extend(e *TripEvent) *chain {
	events := make([]*TripEvent, len(c.events)+1)
	copy(events, c.events)
	events[len(c.events)] = e
	return &chain{
		bikeID:           c.bikeID,
		events:           events,
		firstStart:       c.firstStart,
		lastEnd:          e.EndTime,
		lastEndStation:   e.EndStation,
		length:           c.length + 1,
		firstArrivalWall: c.firstArrivalWall,
	}
}

// dedupWinner resolves two chains sharing a suffix station: keep the
// longest chain, and on equal length keep the one with the earliest
// first_start.
func dedupWinner(existing, incoming *chain) *chain {
	if existing == nil {
		return incoming
	}
	if incoming.length != existing.length {
		if incoming.length > existing.length {
			return incoming
		}
		return existing
	}
	if incoming.firstStart.Before(existing.firstStart) {
		return incoming
	}
	return existing
}

// PatternEvaluator maintains partial matches for the bike hot-path pattern
// and emits completed matches with their projections.
type PatternEvaluator struct {
	targets   map[int]struct{}
	window    time.Duration
	maxKleene int

	// perBike[bikeID][lastEndStation] = chain currently occupying that
	// suffix, satisfying the at-most-one-per-suffix invariant.
	perBike map[string]map[int]*chain

	counters *Counters
}

// NewPatternEvaluator builds an evaluator over the given configuration.
func NewPatternEvaluator(cfg *Config, counters *Counters) *PatternEvaluator {
	targets := make(map[int]struct{}, len(cfg.Targets))
	for t := range cfg.Targets {
		targets[t] = struct{}{}
	}
	return &PatternEvaluator{
		targets:   targets,
		window:    cfg.TimeWindow,
		maxKleene: cfg.MaxKleene,
		perBike:   make(map[string]map[int]*chain),
		counters:  counters,
	}
}

// UpdateTargets swaps in a new target-station set, taking effect on the
// next event processed.
func (p *PatternEvaluator) UpdateTargets(targets map[int]struct{}) {
	next := make(map[int]struct{}, len(targets))
	for t := range targets {
		next[t] = struct{}{}
	}
	p.targets = next
}

// SetMaxKleene installs a new effective Kleene cap. If the cap shrinks,
// every live chain whose length exceeds the new cap is evicted immediately
// and counted.
func (p *PatternEvaluator) SetMaxKleene(newCap int) {
	if newCap >= p.maxKleene {
		p.maxKleene = newCap
		return
	}
	evicted := 0
	for bike, chains := range p.perBike {
		for station, c := range chains {
			if c.length > newCap {
				delete(chains, station)
				evicted++
			}
		}
		if len(chains) == 0 {
			delete(p.perBike, bike)
		}
	}
	p.maxKleene = newCap
	if evicted > 0 && p.counters != nil {
		p.counters.AddPartialEvicted(evicted)
	}
}

// Process ingests one accepted, in-order event and returns the completed
// matches it triggers, if any. arrivalWall is the wall-clock instant the
// event was handed to the evaluator. It seeds new chains' detection-latency
// baseline and is also the emission instant against which the latency of
// any match this event completes is measured.
func (p *PatternEvaluator) Process(e *TripEvent, arrivalWall time.Time) []CompletedMatch {
	bikeChains := p.perBike[e.BikeID]
	if bikeChains == nil {
		bikeChains = make(map[int]*chain)
		p.perBike[e.BikeID] = bikeChains
	}

	// Step 1: expire.
	p.expire(bikeChains, e.StartTime)

	var matches []CompletedMatch

	candidate := bikeChains[e.StartStation]

	// Step 2: terminal test. Does not consume candidate.
	if candidate != nil {
		if _, isTarget := p.targets[e.EndStation]; isTarget &&
			e.EndTime.Sub(candidate.firstStart) <= p.window {
			matches = append(matches, p.project(candidate, e, arrivalWall))
		}
	}

	// Step 3: extension.
	extended := candidate != nil &&
		candidate.length < p.maxKleene &&
		e.EndTime.Sub(candidate.firstStart) <= p.window
	if extended {
		delete(bikeChains, e.StartStation)
		p.install(bikeChains, candidate.extend(e))
	}

	// Step 4: singleton seed.
	p.install(bikeChains, newSingletonChain(e, arrivalWall))

	if len(bikeChains) == 0 {
		delete(p.perBike, e.BikeID)
	}
	return matches
}

func (p *PatternEvaluator) install(bikeChains map[int]*chain, incoming *chain) {
	existing := bikeChains[incoming.lastEndStation]
	bikeChains[incoming.lastEndStation] = dedupWinner(existing, incoming)
}

// expire drops chains for this bike whose window has been violated relative
// to the incoming event's start time.
func (p *PatternEvaluator) expire(bikeChains map[int]*chain, now time.Time) {
	evicted := 0
	for station, c := range bikeChains {
		if now.Sub(c.firstStart) > p.window {
			delete(bikeChains, station)
			evicted++
		}
	}
	if evicted > 0 && p.counters != nil {
		p.counters.AddPartialPruned(evicted)
	}
}

func (p *PatternEvaluator) project(c *chain, terminal *TripEvent, emissionWall time.Time) CompletedMatch {
	events := make([]*TripEvent, len(c.events)+1)
	copy(events, c.events)
	events[len(c.events)] = terminal
	return CompletedMatch{
		Events: events,
		Projection: Projection{
			A1Start:     c.events[0].StartStation,
			LastAEnd:    c.events[len(c.events)-1].EndStation,
			TerminalEnd: terminal.EndStation,
		},
		DetectionLatencyMS: float64(emissionWall.Sub(c.firstArrivalWall)) / float64(time.Millisecond),
	}
}

// LiveChainCount returns the total number of partial matches currently
// tracked, for tests and diagnostics.
func (p *PatternEvaluator) LiveChainCount() int {
	n := 0
	for _, chains := range p.perBike {
		n += len(chains)
	}
	return n
}
