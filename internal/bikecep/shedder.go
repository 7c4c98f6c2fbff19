package bikecep

import "math/rand"

// ShedDecision is the outcome of scoring and (possibly) dropping one event.
type ShedDecision struct {
	Score   float64
	Label   UtilityLabel
	Dropped bool
}

// LoadShedder composes the utility scorer and the overload detector into a
// per-event drop decision, and in hybrid mode additionally recommends a
// shrunk Kleene cap (spec.md §4.3).
type LoadShedder struct {
	cfg      *Config
	scorer   *EventUtilityScorer
	detector *OverloadDetector
	rng      *rand.Rand

	lastDropProbability float64
}

// NewLoadShedder builds a shedder over the given scorer and detector. rng
// may be nil, in which case a private source seeded with 1 is used; tests
// that need a particular Bernoulli draw sequence pass
// rand.New(rand.NewSource(seed)).
func NewLoadShedder(cfg *Config, scorer *EventUtilityScorer, detector *OverloadDetector, rng *rand.Rand) *LoadShedder {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &LoadShedder{cfg: cfg, scorer: scorer, detector: detector, rng: rng}
}

// Decide scores e and, if shedding is enabled, decides whether to drop it.
// The scorer's state is advanced with NoteEvent(accepted=!dropped)
// regardless of the shedEnabled switch, matching R4's "scorer still
// updates state" pass-through requirement.
func (s *LoadShedder) Decide(e *TripEvent) ShedDecision {
	score, label := s.scorer.ScoreEvent(e)

	dropped := false
	if s.cfg.ShedEnabled {
		overshoot := s.detector.Overshoot()
		dropProb := s.cfg.BaseDropProb + 0.5*overshoot
		if dropProb < 0 {
			dropProb = 0
		}
		if dropProb > 0.9 {
			dropProb = 0.9
		}
		s.lastDropProbability = dropProb

		var dropChance float64
		switch {
		case label == LabelNonCritical:
			dropChance = dropProb
		case label == LabelSupporting && overshoot > 0.6:
			m := overshoot
			if m > 1 {
				m = 1
			}
			dropChance = dropProb * m
		default:
			dropChance = 0
		}

		if dropChance > 0 && s.rng.Float64() < dropChance {
			dropped = true
		}
	}

	s.scorer.NoteEvent(e, !dropped)
	return ShedDecision{Score: score, Label: label, Dropped: dropped}
}

// LastDropProbability exposes the most recently computed p_drop, for
// diagnostics.
func (s *LoadShedder) LastDropProbability() float64 { return s.lastDropProbability }

// EffectiveKleeneCap implements the hybrid-mode cap shrink of spec.md §4.3.
// baseCap is the configured base Kleene cap.
func (s *LoadShedder) EffectiveKleeneCap(baseCap int) int {
	if s.cfg.ShedMode != ShedModeHybrid || !s.cfg.ShedEnabled || !s.detector.Overloaded() {
		return baseCap
	}
	overshoot := s.detector.Overshoot()
	shrink := 1 + int(overshoot*2)
	target := baseCap - shrink
	if target < 2 {
		target = 2
	}
	return target
}
