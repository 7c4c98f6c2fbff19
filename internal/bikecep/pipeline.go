package bikecep

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
)

// Pipeline drives EventSource -> [LoadShedder] -> PatternEvaluator -> MatchSink
// on a single logical execution context. Each Pipeline owns its own
// evaluator, detector, shedder and counters; sharding trip events across
// independent instances keyed by bike id is left to the caller, not modeled
// here.
type Pipeline struct {
	cfg       *Config
	source    EventSource
	sink      MatchSink
	evaluator *PatternEvaluator
	detector  *OverloadDetector
	shedder   *LoadShedder
	counters  *Counters

	log *logrus.Entry

	lastEventTime time.Time
	haveLastEvent bool
	lastYield     time.Time
	haveLastYield bool
}

// PipelineOption configures optional Pipeline behavior.
type PipelineOption func(*Pipeline)

// WithLogger overrides the default logrus entry.
func WithLogger(entry *logrus.Entry) PipelineOption {
	return func(p *Pipeline) { p.log = entry }
}

// WithRand overrides the shedder's random source (tests pin this for
// deterministic Bernoulli draws).
func WithRand(rng *rand.Rand) PipelineOption {
	return func(p *Pipeline) {
		p.shedder = NewLoadShedder(p.cfg, p.shedder.scorer, p.detector, rng)
	}
}

// NewPipeline validates cfg and wires the four core components together.
func NewPipeline(cfg Config, source EventSource, sink MatchSink, opts ...PipelineOption) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	counters := NewCounters()
	detector, err := NewOverloadDetector(cfg.TargetLatencyMS, cfg.EMAAlpha, cfg.ExitHysteresis, cfg.WindowEvents)
	if err != nil {
		return nil, err
	}
	scorer := NewEventUtilityScorer(cfg.Targets, cfg.TimeWindow)
	shedder := NewLoadShedder(&cfg, scorer, detector, nil)
	evaluator := NewPatternEvaluator(&cfg, counters)

	p := &Pipeline{
		cfg:       &cfg,
		source:    source,
		sink:      sink,
		evaluator: evaluator,
		detector:  detector,
		shedder:   shedder,
		counters:  counters,
		log:       logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Counters exposes the pipeline's metrics surface.
func (p *Pipeline) Counters() *Counters { return p.counters }

// Detector exposes the overload detector for diagnostics.
func (p *Pipeline) Detector() *OverloadDetector { return p.detector }

// UpdateTargets swaps the target-station set used by both the evaluator's
// terminal test and the utility scorer's critical-label boost, taking
// effect starting with the next event processed.
func (p *Pipeline) UpdateTargets(targets map[int]struct{}) {
	p.cfg.Targets = targets
	p.evaluator.UpdateTargets(targets)
	p.shedder.scorer.UpdateTargets(targets)
}

// Run drives the pipeline to completion or until cancel is closed. It
// returns the first source or sink error encountered, or nil on a clean end
// of stream or cancellation.
func (p *Pipeline) Run(cancel <-chan struct{}) error {
	for {
		select {
		case <-cancel:
			p.log.Debug("Pipeline, cancellation received, draining")
			return nil
		default:
		}

		yieldTime := time.Now()
		event, ok, err := p.source.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		if err := p.processOne(event, yieldTime); err != nil {
			return err
		}

		select {
		case <-cancel:
			return nil
		default:
		}
	}
}

// processOne runs a single event through shed->evaluate->sink and updates
// the detector with both latency signals.
func (p *Pipeline) processOne(e *TripEvent, yieldTime time.Time) error {
	p.counters.IncEventsIngested()

	if p.haveLastEvent && e.StartTime.Before(p.lastEventTime.Add(-p.cfg.TimeToleranceNegative)) {
		p.log.Warnf("Pipeline, event time went backward for bike %s, skipping", e.BikeID)
		p.counters.IncEventsDropped()
		return nil
	}
	p.lastEventTime = e.StartTime
	p.haveLastEvent = true

	if p.haveLastYield {
		eventLatencyMS := float64(yieldTime.Sub(p.lastYield)) / float64(time.Millisecond)
		if eventLatencyMS >= 0 {
			p.detector.NoteEventLatency(eventLatencyMS)
		}
	}
	p.lastYield = yieldTime
	p.haveLastYield = true

	effectiveCap := p.shedder.EffectiveKleeneCap(p.cfg.MaxKleene)
	p.evaluator.SetMaxKleene(effectiveCap)

	decision := p.shedder.Decide(e)
	if decision.Dropped {
		p.counters.IncEventsDropped()
		p.log.Debugf("Pipeline, dropped event for bike %s (label=%s, score=%.2f)", e.BikeID, decision.Label, decision.Score)
		return nil
	}

	matches := p.evaluator.Process(e, yieldTime)
	for _, m := range matches {
		p.counters.RecordMatch(m.Projection, m.DetectionLatencyMS)
		p.detector.NoteMatchLatency(m.DetectionLatencyMS)

		p.log.Infof("Pipeline, match completed for bike %s: %+v", e.BikeID, m.Projection)
		if err := p.sink.Emit(m); err != nil {
			return err
		}
	}
	return nil
}
