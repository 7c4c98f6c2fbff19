package bikecep

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceSource is a minimal in-memory EventSource for tests, grounded on the
// same Next()-based iterator contract internal/ingest's readers implement.
type sliceSource struct {
	events []*TripEvent
	pos    int
}

func (s *sliceSource) Next() (*TripEvent, bool, error) {
	if s.pos >= len(s.events) {
		return nil, false, nil
	}
	e := s.events[s.pos]
	s.pos++
	return e, true, nil
}

func collectingSink(out *[]CompletedMatch) MatchSink {
	return MatchSinkFunc(func(m CompletedMatch) error {
		*out = append(*out, m)
		return nil
	})
}

func scenarioOneEvents() []*TripEvent {
	return []*TripEvent{
		trip("100", 0, 10, 100, 200),
		trip("100", 15, 25, 200, 300),
		trip("100", 30, 50, 300, 426),
	}
}

func TestPipelineScenarioOneProducesExactlyOneMatch(t *testing.T) {
	cfg := DefaultConfig()
	var out []CompletedMatch
	p, err := NewPipeline(cfg, &sliceSource{events: scenarioOneEvents()}, collectingSink(&out))
	require.NoError(t, err)

	require.NoError(t, p.Run(nil))

	require.Len(t, out, 1)
	assert.Equal(t, Projection{A1Start: 100, LastAEnd: 300, TerminalEnd: 426}, out[0].Projection)
	assert.Equal(t, int64(3), p.Counters().EventsIngested())
	assert.Equal(t, int64(1), p.Counters().MatchesCompleted())
	assert.Equal(t, int64(0), p.Counters().EventsDropped())
}

// TestPipelineShedDisabledIsPassThrough is the pipeline-level half of R4:
// with shedding disabled, no event is ever dropped regardless of declared
// overload.
func TestPipelineShedDisabledIsPassThrough(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShedEnabled = false

	events := make([]*TripEvent, 0, 50)
	for i := 0; i < 50; i++ {
		events = append(events, trip("bike", i, i+1, 1, 2))
	}

	var out []CompletedMatch
	p, err := NewPipeline(cfg, &sliceSource{events: events}, collectingSink(&out), WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	require.NoError(t, p.Run(nil))

	assert.Equal(t, int64(0), p.Counters().EventsDropped())
}

// TestPipelineCounterInvariant exercises I8:
// events_ingested == events_dropped + events_accepted, and
// events_accepted >= matches_completed.
func TestPipelineCounterInvariant(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShedEnabled = true
	cfg.BaseDropProb = 0.5

	events := make([]*TripEvent, 0, 200)
	for i := 0; i < 200; i++ {
		// A distinct bike per event keeps every event's label at
		// non_critical, so base_drop_prob alone governs the drop rate.
		events = append(events, trip(fmt.Sprintf("bike-%d", i), i, i+1, 1, 2))
	}

	var out []CompletedMatch
	p, err := NewPipeline(cfg, &sliceSource{events: events}, collectingSink(&out), WithRand(rand.New(rand.NewSource(3))))
	require.NoError(t, err)
	require.NoError(t, p.Run(nil))

	ingested := p.Counters().EventsIngested()
	dropped := p.Counters().EventsDropped()
	accepted := ingested - dropped
	assert.Equal(t, int64(200), ingested)
	assert.GreaterOrEqual(t, accepted, p.Counters().MatchesCompleted())
	assert.Greater(t, dropped, int64(0))
}

func TestPipelineCancellationStopsDraining(t *testing.T) {
	cfg := DefaultConfig()
	var out []CompletedMatch
	p, err := NewPipeline(cfg, &sliceSource{events: scenarioOneEvents()}, collectingSink(&out))
	require.NoError(t, err)

	cancel := make(chan struct{})
	close(cancel)
	require.NoError(t, p.Run(cancel))

	assert.Equal(t, int64(0), p.Counters().EventsIngested(), "closed cancel channel must stop the pipeline before it pulls any event")
}

func TestPipelineSinkErrorPropagates(t *testing.T) {
	cfg := DefaultConfig()
	sentinel := errors.New("sink exploded")
	sink := MatchSinkFunc(func(m CompletedMatch) error { return sentinel })

	p, err := NewPipeline(cfg, &sliceSource{events: scenarioOneEvents()}, sink)
	require.NoError(t, err)

	err = p.Run(nil)
	assert.ErrorIs(t, err, sentinel)
}

// TestPipelineShedUnderSustainedOverload is scenario 6 of the seed scenario
// set: feeding scenario (1) 100 times with an aggressively low target
// latency must push the detector into overload, drop some non-critical
// events, yet keep recall against the shed_enabled=false baseline in (0, 1].
func TestPipelineShedUnderSustainedOverload(t *testing.T) {
	var repeated []*TripEvent
	for i := 0; i < 100; i++ {
		repeated = append(repeated, scenarioOneEvents()...)
	}

	baselineCfg := DefaultConfig()
	baselineCfg.ShedEnabled = false
	var baselineOut []CompletedMatch
	baseline, err := NewPipeline(baselineCfg, &sliceSource{events: repeated}, collectingSink(&baselineOut))
	require.NoError(t, err)
	require.NoError(t, baseline.Run(nil))

	shedCfg := DefaultConfig()
	shedCfg.ShedEnabled = true
	shedCfg.ShedMode = ShedModeEvent
	shedCfg.TargetLatencyMS = 1
	shedCfg.BaseDropProb = 0.5
	var shedOut []CompletedMatch
	shed, err := NewPipeline(shedCfg, &sliceSource{events: repeated}, collectingSink(&shedOut), WithRand(rand.New(rand.NewSource(11))))
	require.NoError(t, err)
	require.NoError(t, shed.Run(nil))

	assert.Greater(t, shed.Counters().EventsDropped(), int64(0))

	recall := Recall(baseline.Counters().Projections(), shed.Counters().Projections())
	assert.Greater(t, recall, 0.0)
	assert.LessOrEqual(t, recall, 1.0)
}
