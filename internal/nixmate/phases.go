package nixmate

import "time"

// Phase is one of the five ordered stages a rebuild passes through.
// Fetching and Bootloader are optional and may never appear in a run.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseEvaluation
	PhaseFetching
	PhaseBuilding
	PhaseActivating
	PhaseBootloader
)

// PipelinePhases is the fixed phase order shown on the dashboard.
var PipelinePhases = [5]Phase{
	PhaseEvaluation,
	PhaseFetching,
	PhaseBuilding,
	PhaseActivating,
	PhaseBootloader,
}

func (p Phase) String() string {
	switch p {
	case PhaseEvaluation:
		return "evaluation"
	case PhaseFetching:
		return "fetching"
	case PhaseBuilding:
		return "building"
	case PhaseActivating:
		return "activating"
	case PhaseBootloader:
		return "bootloader"
	default:
		return "idle"
	}
}

// Label returns the human-readable phase name for the dashboard.
func (p Phase) Label() string {
	switch p {
	case PhaseEvaluation:
		return "Evaluating"
	case PhaseFetching:
		return "Fetching"
	case PhaseBuilding:
		return "Building"
	case PhaseActivating:
		return "Activating"
	case PhaseBootloader:
		return "Bootloader"
	default:
		return "Idle"
	}
}

// Explanation is the longer educational text shown while a phase is active.
func (p Phase) Explanation() string {
	switch p {
	case PhaseEvaluation:
		return "Nix is evaluating your configuration and computing the dependency graph of derivations to realise."
	case PhaseFetching:
		return "Pre-built store paths are being downloaded from the binary cache instead of compiled locally."
	case PhaseBuilding:
		return "Derivations with no cached substitute are being compiled on this machine."
	case PhaseActivating:
		return "The new system configuration is being activated: /etc regenerated, systemd units reloaded, restarted or stopped."
	case PhaseBootloader:
		return "Boot entries are being written so the new generation is selectable at the next boot."
	default:
		return ""
	}
}

// PhaseRecord captures the wall-clock span of one visited phase.
// EndedAt stays zero until the phase ends.
type PhaseRecord struct {
	Phase     Phase
	StartedAt time.Time
	EndedAt   time.Time
}

// Ended reports whether the record has been closed.
func (r PhaseRecord) Ended() bool { return !r.EndedAt.IsZero() }

// PhaseTracker derives the active phase from classification events and
// enforces strictly forward progression through the fixed order.
type PhaseTracker struct {
	records    []PhaseRecord
	current    Phase
	minVisible time.Duration
	now        func() time.Time
}

func NewPhaseTracker(minVisible time.Duration) *PhaseTracker {
	if minVisible <= 0 {
		minVisible = defaultMinPhaseVisible * time.Millisecond
	}
	return &PhaseTracker{minVisible: minVisible, now: time.Now}
}

// Current returns the active phase, PhaseNone before the first signal.
func (t *PhaseTracker) Current() Phase { return t.current }

// Records returns the visited phases in order. The last record is open while
// the run is still in flight.
func (t *PhaseTracker) Records() []PhaseRecord { return t.records }

// Advance moves to phase p if it is strictly later in the fixed order than the
// current phase. Signals for the current or an earlier phase are noise from
// re-evaluation chatter mid-build and are ignored; the displayed phase never
// rewinds. Returns true when a transition happened.
func (t *PhaseTracker) Advance(p Phase) bool {
	if p == PhaseNone || p <= t.current {
		return false
	}
	now := t.now()
	t.closeCurrent(now)
	t.records = append(t.records, PhaseRecord{Phase: p, StartedAt: now})
	t.current = p
	return true
}

// Finish closes the open record when the run reaches a terminal status.
func (t *PhaseTracker) Finish() {
	t.closeCurrent(t.now())
}

func (t *PhaseTracker) closeCurrent(now time.Time) {
	if n := len(t.records); n > 0 && !t.records[n-1].Ended() {
		t.records[n-1].EndedAt = now
	}
}

// Elapsed returns the true elapsed time of the current phase, zero before the
// first signal.
func (t *PhaseTracker) Elapsed() time.Duration {
	n := len(t.records)
	if n == 0 {
		return 0
	}
	rec := t.records[n-1]
	if rec.Ended() {
		return rec.EndedAt.Sub(rec.StartedAt)
	}
	return t.now().Sub(rec.StartedAt)
}

// VisibleDuration floors a finished phase's duration to the minimum visible
// value so very fast phases remain perceivable on screen. Display only; the
// stored timestamps are never altered.
func (t *PhaseTracker) VisibleDuration(rec PhaseRecord) time.Duration {
	var d time.Duration
	if rec.Ended() {
		d = rec.EndedAt.Sub(rec.StartedAt)
	} else {
		d = t.now().Sub(rec.StartedAt)
	}
	if rec.Ended() && d < t.minVisible {
		return t.minVisible
	}
	return d
}

// Visited reports whether phase p was entered at any point.
func (t *PhaseTracker) Visited(p Phase) bool {
	for _, rec := range t.records {
		if rec.Phase == p {
			return true
		}
	}
	return false
}
