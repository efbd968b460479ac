package nixmate

import (
	"testing"
	"time"
)

// fakeClock drives the tracker deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(clock *fakeClock) *PhaseTracker {
	tr := NewPhaseTracker(400 * time.Millisecond)
	tr.now = clock.now
	return tr
}

func TestPhaseAdvanceForwardOnly(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := newTestTracker(clock)

	if !tr.Advance(PhaseEvaluation) {
		t.Fatal("first advance rejected")
	}
	if !tr.Advance(PhaseBuilding) {
		t.Fatal("forward advance rejected")
	}

	// Late evaluation chatter must not rewind the displayed phase.
	if tr.Advance(PhaseEvaluation) {
		t.Error("backward advance accepted")
	}
	if tr.Advance(PhaseBuilding) {
		t.Error("same-phase advance accepted")
	}
	if tr.Current() != PhaseBuilding {
		t.Errorf("Current: got %v, want building", tr.Current())
	}
}

func TestPhaseSkippedStagesAreNotRecorded(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := newTestTracker(clock)

	// A fully cached run jumps evaluation -> activating.
	tr.Advance(PhaseEvaluation)
	tr.Advance(PhaseActivating)

	if tr.Visited(PhaseFetching) || tr.Visited(PhaseBuilding) {
		t.Error("skipped phases reported as visited")
	}
	if len(tr.Records()) != 2 {
		t.Errorf("Records: got %d, want 2", len(tr.Records()))
	}
}

func TestPhaseRecordsCloseOnTransition(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := newTestTracker(clock)

	tr.Advance(PhaseEvaluation)
	clock.advance(3 * time.Second)
	tr.Advance(PhaseBuilding)

	recs := tr.Records()
	if !recs[0].Ended() {
		t.Fatal("previous record left open after transition")
	}
	if d := recs[0].EndedAt.Sub(recs[0].StartedAt); d != 3*time.Second {
		t.Errorf("evaluation span: got %v, want 3s", d)
	}
	if recs[1].Ended() {
		t.Error("active record closed prematurely")
	}

	clock.advance(time.Second)
	tr.Finish()
	if !tr.Records()[1].Ended() {
		t.Error("Finish did not close the open record")
	}
}

func TestPhaseElapsed(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := newTestTracker(clock)

	if tr.Elapsed() != 0 {
		t.Error("Elapsed before first signal should be zero")
	}
	tr.Advance(PhaseBuilding)
	clock.advance(90 * time.Second)
	if tr.Elapsed() != 90*time.Second {
		t.Errorf("Elapsed: got %v, want 90s", tr.Elapsed())
	}
}

func TestVisibleDurationFloorsFastPhases(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := newTestTracker(clock)

	tr.Advance(PhaseEvaluation)
	clock.advance(50 * time.Millisecond)
	tr.Advance(PhaseBuilding)

	fast := tr.Records()[0]
	if got := tr.VisibleDuration(fast); got != 400*time.Millisecond {
		t.Errorf("fast phase floor: got %v, want 400ms", got)
	}

	// True timestamps stay untouched.
	if d := fast.EndedAt.Sub(fast.StartedAt); d != 50*time.Millisecond {
		t.Errorf("stored span altered: %v", d)
	}

	// An open phase is never floored; it grows in real time.
	clock.advance(10 * time.Millisecond)
	open := tr.Records()[1]
	if got := tr.VisibleDuration(open); got != 10*time.Millisecond {
		t.Errorf("open phase: got %v, want 10ms", got)
	}
}

func TestPhaseNoneIsIgnored(t *testing.T) {
	t.Parallel()
	clock := &fakeClock{t: time.Unix(1000, 0)}
	tr := newTestTracker(clock)

	if tr.Advance(PhaseNone) {
		t.Error("PhaseNone advanced the tracker")
	}
	if tr.Current() != PhaseNone || len(tr.Records()) != 0 {
		t.Error("tracker state changed by PhaseNone")
	}
}
