package bikecep

import "errors"

// Sentinel errors for the §7 failure taxonomy. Construction errors are
// returned directly; ErrTimeWentBackward is surfaced through the driver's
// per-event accounting rather than returned, since a single malformed
// timestamp must not abort the pipeline.
var (
	ErrInvalidTargetLatency = errors.New("bikecep: target_latency_ms must be positive")
	ErrInvalidEMAAlpha      = errors.New("bikecep: ema_alpha must be in (0, 1]")
	ErrInvalidHysteresis    = errors.New("bikecep: exit_hysteresis must be in (0, 1)")
	ErrInvalidWindowEvents  = errors.New("bikecep: window_events must be positive")
	ErrInvalidTimeWindow    = errors.New("bikecep: time_window must be positive")
	ErrInvalidMaxKleene     = errors.New("bikecep: max_kleene must be >= 1")
	ErrInvalidDropProb      = errors.New("bikecep: base_drop_prob must be in [0, 1]")
	ErrInvalidShedMode      = errors.New("bikecep: shed_mode must be \"event\" or \"hybrid\"")
	ErrNoTargets            = errors.New("bikecep: at least one target station is required")

	// ErrTimeWentBackward marks an event whose start_time regressed beyond
	// tolerance relative to the previous event. The pipeline counts and
	// skips it rather than returning it to the caller.
	ErrTimeWentBackward = errors.New("bikecep: event time went backward")
)
