package bikecep

import (
	"time"
)

// OverloadDetector tracks an exponential moving average over two latency
// signals (match detection latency and event processing latency) and
// exposes an overshoot ratio with hysteresis.
type OverloadDetector struct {
	targetLatencyMS float64
	emaAlpha        float64
	exitHysteresis  float64

	emaMatch *float64
	emaEvent *float64

	overloaded    bool
	burstStart    time.Time
	overloadStart time.Time

	history    []float64
	historyPos int
	historyLen int
	historyCap int

	lastLatencyMS float64
	haveLast      bool

	now func() time.Time
}

// NewOverloadDetector validates its parameters and constructs a detector.
func NewOverloadDetector(targetLatencyMS, emaAlpha, exitHysteresis float64, windowEvents int) (*OverloadDetector, error) {
	if targetLatencyMS <= 0 {
		return nil, ErrInvalidTargetLatency
	}
	if !(emaAlpha > 0 && emaAlpha <= 1) {
		return nil, ErrInvalidEMAAlpha
	}
	if !(exitHysteresis > 0 && exitHysteresis < 1) {
		return nil, ErrInvalidHysteresis
	}
	if windowEvents <= 0 {
		return nil, ErrInvalidWindowEvents
	}
	return &OverloadDetector{
		targetLatencyMS: targetLatencyMS,
		emaAlpha:        emaAlpha,
		exitHysteresis:  exitHysteresis,
		history:         make([]float64, windowEvents),
		historyCap:      windowEvents,
		now:             time.Now,
	}, nil
}

// NoteMatchLatency records an end-to-end match-detection latency sample.
func (d *OverloadDetector) NoteMatchLatency(latencyMS float64) {
	d.emaMatch = d.updateEMA(d.emaMatch, latencyMS)
	d.record(latencyMS)
	d.refresh()
}

// NoteEventLatency records a per-event processing latency sample. It feeds
// the same state machine as match latency but does not push to the
// diagnostic history, which tracks raw match-latency samples only.
func (d *OverloadDetector) NoteEventLatency(latencyMS float64) {
	d.emaEvent = d.updateEMA(d.emaEvent, latencyMS)
	d.refresh()
}

func (d *OverloadDetector) updateEMA(current *float64, sample float64) *float64 {
	if current == nil {
		v := sample
		return &v
	}
	v := d.emaAlpha*sample + (1-d.emaAlpha)*(*current)
	return &v
}

func (d *OverloadDetector) record(sample float64) {
	d.history[d.historyPos] = sample
	d.historyPos = (d.historyPos + 1) % d.historyCap
	if d.historyLen < d.historyCap {
		d.historyLen++
	}
	d.lastLatencyMS = sample
	d.haveLast = true
}

// latest returns max(ema_match, ema_event), or the defined one if only one
// signal has been observed, or false if neither has.
func (d *OverloadDetector) latest() (float64, bool) {
	switch {
	case d.emaMatch != nil && d.emaEvent != nil:
		if *d.emaMatch > *d.emaEvent {
			return *d.emaMatch, true
		}
		return *d.emaEvent, true
	case d.emaMatch != nil:
		return *d.emaMatch, true
	case d.emaEvent != nil:
		return *d.emaEvent, true
	default:
		return 0, false
	}
}

func (d *OverloadDetector) refresh() {
	latest, ok := d.latest()
	if !ok {
		return
	}
	if latest > d.targetLatencyMS {
		if d.burstStart.IsZero() {
			d.burstStart = d.now()
		}
		if !d.overloaded {
			d.overloaded = true
			d.overloadStart = d.now()
		}
	} else if d.overloaded && latest <= d.targetLatencyMS*d.exitHysteresis {
		d.overloaded = false
		d.burstStart = time.Time{}
		d.overloadStart = time.Time{}
	}
}

// Overloaded reports the current overload state.
func (d *OverloadDetector) Overloaded() bool { return d.overloaded }

// Overshoot returns max(0, (latest-target)/target), or 0 if no signal has
// been observed yet.
func (d *OverloadDetector) Overshoot() float64 {
	latest, ok := d.latest()
	if !ok {
		return 0
	}
	v := (latest - d.targetLatencyMS) / d.targetLatencyMS
	if v < 0 {
		return 0
	}
	return v
}

// DetectionLatencyMS returns the wall-clock time from burst start to
// overload entry for the current burst, or (0, false) if unavailable.
func (d *OverloadDetector) DetectionLatencyMS() (float64, bool) {
	if d.burstStart.IsZero() || d.overloadStart.IsZero() {
		return 0, false
	}
	return float64(d.overloadStart.Sub(d.burstStart)) / float64(time.Millisecond), true
}

// LastLatencyMS exposes the latest raw match-latency sample; event-latency
// samples do not update it.
func (d *OverloadDetector) LastLatencyMS() (float64, bool) {
	return d.lastLatencyMS, d.haveLast
}

// History returns the bounded set of recent raw match-latency samples, most
// recent last.
func (d *OverloadDetector) History() []float64 {
	out := make([]float64, 0, d.historyLen)
	if d.historyLen == 0 {
		return out
	}
	start := (d.historyPos - d.historyLen + d.historyCap) % d.historyCap
	for i := 0; i < d.historyLen; i++ {
		out = append(out, d.history[(start+i)%d.historyCap])
	}
	return out
}

// Reset clears overload state while keeping configuration intact.
func (d *OverloadDetector) Reset() {
	d.emaMatch = nil
	d.emaEvent = nil
	d.overloaded = false
	d.burstStart = time.Time{}
	d.overloadStart = time.Time{}
	d.history = make([]float64, d.historyCap)
	d.historyPos = 0
	d.historyLen = 0
	d.haveLast = false
	d.lastLatencyMS = 0
}
