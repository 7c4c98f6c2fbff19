package bikecep

import (
	"sort"

	metrics "github.com/rcrowley/go-metrics"
)

// Counters holds the pipeline's event/match/partial-match counters, backed
// by go-metrics (metrics.NewRegisteredCounter/metrics.NewRegisteredHistogram
// against a private registry), plus the latency histogram and projection multiset
// needed for the summary/recall helpers.
type Counters struct {
	registry metrics.Registry

	eventsIngested  metrics.Counter
	eventsDropped   metrics.Counter
	matchesComplete metrics.Counter
	partialPruned   metrics.Counter
	partialEvicted  metrics.Counter

	latencyHist metrics.Histogram

	// detectionLatenciesMS is a flat, emission-ordered list of per-match
	// detection latencies in ms; the histogram above feeds off the same
	// samples but keeping the flat list lets Summary and CSV export work
	// directly off ordered raw data.
	detectionLatenciesMS []float64

	// projections is the emission-ordered projection multiset.
	projections []Projection
}

// NewCounters constructs a Counters backed by a fresh go-metrics registry.
func NewCounters() *Counters {
	reg := metrics.NewRegistry()
	c := &Counters{
		registry:        reg,
		eventsIngested:  metrics.NewRegisteredCounter("events_ingested", reg),
		eventsDropped:   metrics.NewRegisteredCounter("events_dropped", reg),
		matchesComplete: metrics.NewRegisteredCounter("matches_completed", reg),
		partialPruned:   metrics.NewRegisteredCounter("partial_pruned", reg),
		partialEvicted:  metrics.NewRegisteredCounter("partial_evicted", reg),
		latencyHist: metrics.NewRegisteredHistogram(
			"match_detection_latency_ms", reg, metrics.NewExpDecaySample(1028, 0.015)),
	}
	return c
}

func (c *Counters) IncEventsIngested()      { c.eventsIngested.Inc(1) }
func (c *Counters) IncEventsDropped()       { c.eventsDropped.Inc(1) }
func (c *Counters) AddPartialPruned(n int)  { c.partialPruned.Inc(int64(n)) }
func (c *Counters) AddPartialEvicted(n int) { c.partialEvicted.Inc(int64(n)) }

// RecordMatch appends a completed match's projection and detection latency
// to the ordered multiset/sample list, and feeds the go-metrics histogram.
func (c *Counters) RecordMatch(projection Projection, detectionLatencyMS float64) {
	c.matchesComplete.Inc(1)
	c.projections = append(c.projections, projection)
	c.detectionLatenciesMS = append(c.detectionLatenciesMS, detectionLatencyMS)
	c.latencyHist.Update(int64(detectionLatencyMS))
}

// EventsIngested returns the current ingested count.
func (c *Counters) EventsIngested() int64 { return c.eventsIngested.Count() }

// EventsDropped returns the current dropped count.
func (c *Counters) EventsDropped() int64 { return c.eventsDropped.Count() }

// MatchesCompleted returns the current completed-match count.
func (c *Counters) MatchesCompleted() int64 { return c.matchesComplete.Count() }

// PartialPruned returns the current window-eviction count.
func (c *Counters) PartialPruned() int64 { return c.partialPruned.Count() }

// PartialEvicted returns the current cap-shrink eviction count.
func (c *Counters) PartialEvicted() int64 { return c.partialEvicted.Count() }

// Projections returns the ordered projection multiset.
func (c *Counters) Projections() []Projection {
	out := make([]Projection, len(c.projections))
	copy(out, c.projections)
	return out
}

// DetectionLatenciesMS returns the ordered per-match detection latency
// samples.
func (c *Counters) DetectionLatenciesMS() []float64 {
	out := make([]float64, len(c.detectionLatenciesMS))
	copy(out, c.detectionLatenciesMS)
	return out
}

// Snapshot is a name/value view of one counter, used by the counter CSV
// sink with rows sorted by name.
type Snapshot struct {
	Name  string
	Value int64
}

// CounterSnapshot returns the counters as name/value pairs sorted by name,
// matching the counter CSV's `name,value` row ordering.
func (c *Counters) CounterSnapshot() []Snapshot {
	rows := []Snapshot{
		{"events_dropped", c.EventsDropped()},
		{"events_ingested", c.EventsIngested()},
		{"matches_completed", c.MatchesCompleted()},
		{"partial_evicted", c.PartialEvicted()},
		{"partial_pruned", c.PartialPruned()},
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })
	return rows
}

// LatencySummary is a descriptive-statistics result over a set of latency
// samples: count, min, max, mean, p50, and p95.
type LatencySummary struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
	P50   float64
	P95   float64
}

// Summary computes LatencySummary over a list of latency samples. An empty
// sample list yields a zero-value summary with Count == 0.
func Summary(samplesMS []float64) LatencySummary {
	if len(samplesMS) == 0 {
		return LatencySummary{}
	}
	sorted := make([]float64, len(samplesMS))
	copy(sorted, samplesMS)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	n := len(sorted)

	return LatencySummary{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Mean:  sum / float64(n),
		P50:   median(sorted),
		P95:   p95(sorted),
	}
}

// median is the conventional median: the middle value for an odd count, the
// average of the two middle values for an even count.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// p95 computes the 95th percentile: for fewer than 20 samples, nearest-rank
// on the sorted sample list; otherwise linear-interpolated percentile.
func p95(sorted []float64) float64 {
	n := len(sorted)
	if n < 20 {
		index := int(0.95*float64(n-1) + 0.5)
		if index >= n {
			index = n - 1
		}
		return sorted[index]
	}
	rank := 0.95 * float64(n-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Recall computes the multiset recall of a shed projection list against an
// unshed baseline: sum_t min(B[t], S[t]) / sum_t B[t], or 1.0 if the
// baseline is empty.
func Recall(baseline, shed []Projection) float64 {
	if len(baseline) == 0 {
		return 1.0
	}
	baseCounts := make(map[Projection]int, len(baseline))
	for _, p := range baseline {
		baseCounts[p]++
	}
	shedCounts := make(map[Projection]int, len(shed))
	for _, p := range shed {
		shedCounts[p]++
	}

	var matched, total int
	for t, b := range baseCounts {
		total += b
		if s := shedCounts[t]; s < b {
			matched += s
		} else {
			matched += b
		}
	}
	return float64(matched) / float64(total)
}
