package nixmate

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Status is the lifecycle state of a BuildRun.
type Status int

const (
	StatusIdle Status = iota
	StatusRunning
	StatusCancelling
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

// Terminal reports whether the status is a final outcome.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCancelling:
		return "cancelling"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// BuildStats are rolling counters parsed from the build output.
type BuildStats struct {
	DerivationsBuilt int
	DerivationsTotal int // 0 while unknown
	PathsFetched     int
	Warnings         int
	Errors           int
}

// BuildRequest starts one rebuild. Immutable, consumed once.
type BuildRequest struct {
	Mode      Mode
	ShowTrace bool
}

// errPreviewLines bounds how many recent error lines feed the history
// error preview.
const errPreviewLines = 3

// buildRun is the single in-flight (or just-completed) execution. Owned
// exclusively by the Coordinator and mutated only while draining messages.
type buildRun struct {
	id        string
	mode      Mode
	showTrace bool
	command   string
	startTime time.Time
	endTime   time.Time
	status    Status
	phases    *PhaseTracker
	buffer    *LogBuffer
	asm       LineAssembler
	stats     BuildStats
	activity  string
	errLines  []string
	handle    *RunHandle
	events    <-chan StreamMsg
	exit      *ExitStatus

	preCh  chan *SystemSnapshot
	diffCh chan *DiffResult
	diff   *DiffResult
}

// Coordinator owns the active run, drives the supervisor, drains
// pipeline/state-machine updates and exposes immutable snapshots to the
// presentation layer. One Coordinator exists per process, created at startup
// and passed by reference; there is no ambient singleton.
type Coordinator struct {
	mu      sync.Mutex
	cfg     *Config
	sup     *Supervisor
	history *HistoryStore
	sysinfo *SystemInfo

	run       *buildRun
	mode      Mode // mode and trace flag for the next run
	showTrace bool

	// test seams
	now      func() time.Time
	takeSnap func() *SystemSnapshot
	notify   func()
	archive  func(run *buildRun)
}

func NewCoordinator(cfg *Config, sup *Supervisor, history *HistoryStore, sysinfo *SystemInfo) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		sup:      sup,
		history:  history,
		sysinfo:  sysinfo,
		mode:     ModeSwitch,
		now:      time.Now,
		takeSnap: TakeSystemSnapshot,
		notify:   terminalBell,
	}
	c.archive = func(run *buildRun) {
		go archiveRunLog(cfg, run.id, run.buffer.All())
	}
	return c
}

// terminalBell is the single completion side effect: an audible alert the
// first time a run reaches a terminal status.
func terminalBell() {
	fmt.Print("\a")
	os.Stdout.Sync()
}

// Mode returns the mode the next run would use.
func (c *Coordinator) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// CycleMode advances the pending mode; ignored while a run is in flight.
func (c *Coordinator) CycleMode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busyLocked() {
		return
	}
	c.mode = c.mode.Next()
}

// ToggleTrace flips --show-trace for the next run; ignored while running.
func (c *Coordinator) ToggleTrace() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busyLocked() {
		return
	}
	c.showTrace = !c.showTrace
}

// TraceEnabled reports the pending --show-trace flag.
func (c *Coordinator) TraceEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showTrace
}

func (c *Coordinator) busyLocked() bool {
	return c.run != nil && !c.run.status.Terminal()
}

// StartRun spawns the rebuild for the request. It fails with
// ErrAlreadyRunning while a run is Running or Cancelling, and with a
// SpawnError when the command cannot be started; no BuildRun is created in
// either case.
func (c *Coordinator) StartRun(req BuildRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busyLocked() {
		return ErrAlreadyRunning
	}

	name, args := BuildCommand(req.Mode, req.ShowTrace, c.sysinfo)
	handle, err := c.sup.Start(name, args...)
	if err != nil {
		return err
	}

	now := c.now()
	run := &buildRun{
		id:        now.Format("20060102-150405"),
		mode:      req.Mode,
		showTrace: req.ShowTrace,
		command:   CommandLine(req.Mode, req.ShowTrace, c.sysinfo),
		startTime: now,
		status:    StatusRunning,
		phases:    NewPhaseTracker(c.cfg.MinPhaseVisible),
		buffer:    NewLogBuffer(logBufferCap),
		handle:    handle,
		events:    handle.Events(),
		preCh:     make(chan *SystemSnapshot, 1),
		diffCh:    make(chan *DiffResult, 1),
	}
	run.buffer.Append(run.asm.Synthesize("$ " + run.command))

	c.run = run
	c.mode = req.Mode
	c.showTrace = req.ShowTrace

	// Pre-run snapshot off the UI path; the diff goroutine picks it up
	// after a successful run.
	snap := c.takeSnap
	go func() { run.preCh <- snap() }()

	return nil
}

// CancelRun requests cancellation of the active run. Not an error when
// nothing is Running: it is a silent no-op. The status moves to Cancelling
// now and to Cancelled only once the supervisor confirms the process group
// exited, observed through a later Drain.
func (c *Coordinator) CancelRun() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run == nil || c.run.status != StatusRunning {
		return
	}
	c.run.status = StatusCancelling
	c.run.buffer.Append(c.run.asm.Synthesize("cancelling build, waiting for the process group to exit"))
	c.sup.Cancel(c.run.handle)
}

// Drain consumes everything currently queued by the supervisor without
// blocking. The presentation layer calls it once per tick; it is the only
// place run state is mutated.
func (c *Coordinator) Drain() {
	c.mu.Lock()
	defer c.mu.Unlock()

	run := c.run
	if run == nil {
		return
	}

	// Diff arrives from its background goroutine after completion.
	select {
	case d := <-run.diffCh:
		run.diff = d
	default:
	}

	if run.events == nil {
		return
	}
	// Bounded per tick so one tick never monopolises the UI thread.
	for i := 0; i < 256; i++ {
		select {
		case msg, ok := <-run.events:
			if !ok {
				run.events = nil
				return
			}
			if msg.Exit != nil {
				c.finishLocked(run, msg.Exit)
				continue
			}
			c.ingestLocked(run, run.asm.Feed(msg.Chunk))
		default:
			return
		}
	}
}

func (c *Coordinator) ingestLocked(run *buildRun, lines []LogLine) {
	for _, line := range lines {
		run.buffer.Append(line)
		run.activity = line.Display()

		ev := line.Event
		if ev == nil {
			continue
		}
		if ev.Phase != PhaseNone {
			run.phases.Advance(ev.Phase)
		}
		switch ev.Kind {
		case EventBuilding:
			run.stats.DerivationsBuilt++
		case EventBuildPlan:
			if n, ok := extractNumber(line.Raw); ok {
				run.stats.DerivationsTotal = n
			}
		case EventFetchingPath:
			run.stats.PathsFetched++
		case EventWarning:
			run.stats.Warnings++
		case EventError:
			run.stats.Errors++
			run.errLines = append(run.errLines, line.Raw)
			if len(run.errLines) > errPreviewLines {
				run.errLines = run.errLines[1:]
			}
		}
	}
}

func (c *Coordinator) finishLocked(run *buildRun, exit *ExitStatus) {
	c.ingestLocked(run, run.asm.Flush())

	if exit.StreamErr != nil {
		run.buffer.Append(run.asm.Synthesize(fmt.Sprintf("output stream broken: %v", exit.StreamErr)))
	}

	run.phases.Finish()
	run.endTime = c.now()
	run.exit = exit

	switch exit.Outcome {
	case RunSucceeded:
		run.status = StatusSucceeded
	case RunCancelled:
		run.status = StatusCancelled
		run.buffer.Append(run.asm.Synthesize("build cancelled"))
	default:
		run.status = StatusFailed
		run.buffer.Append(run.asm.Synthesize(fmt.Sprintf("build failed: exit code %d", exit.Code)))
	}

	// Exactly one alert per run, on the first transition into a terminal
	// state.
	c.notify()

	c.history.Append(HistoryEntry{
		Timestamp:       FormatTimestamp(run.endTime),
		Mode:            string(run.mode),
		DurationSeconds: run.endTime.Sub(run.startTime).Seconds(),
		Outcome:         outcomeFor(run.status),
		ErrorPreview:    errorPreview(run),
	})
	c.archive(run)

	if run.status == StatusSucceeded {
		// Post-run snapshot and diff stay off the hot path; the result
		// lands on diffCh and is picked up by a later Drain.
		snap := c.takeSnap
		go func() {
			pre := <-run.preCh
			run.diffCh <- Diff(pre, snap())
		}()
	}
}

func outcomeFor(s Status) Outcome {
	switch s {
	case StatusSucceeded:
		return OutcomeSucceeded
	case StatusCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFailed
	}
}

// errorPreview joins the most recent error-classified lines for non-succeeded
// history entries.
func errorPreview(run *buildRun) *string {
	if run.status == StatusSucceeded || len(run.errLines) == 0 {
		return nil
	}
	preview := truncateUTF8(strings.Join(run.errLines, " | "), 160)
	return &preview
}

// PhaseState is the display condition of one pipeline phase box.
type PhaseState int

const (
	PhaseWaiting PhaseState = iota
	PhaseActive
	PhaseDone
	PhaseSkipped
	PhaseFailedState
)

// PhaseView is one dashboard phase box.
type PhaseView struct {
	Phase   Phase
	State   PhaseState
	Elapsed time.Duration // display duration, floored for finished phases
}

// SnapshotView is the immutable state handed to the presentation layer each
// tick. Slices are copies; the caller may hold them across ticks.
type SnapshotView struct {
	Status         Status
	Mode           Mode
	ShowTrace      bool
	Command        string
	Phase          Phase
	PhaseElapsed   time.Duration
	OverallElapsed time.Duration
	ETA            time.Duration
	HasETA         bool
	Activity       string
	Stats          BuildStats
	Phases         []PhaseView
	Tail           []LogLine
	Diff           *DiffResult
}

// Snapshot returns the latest drained state. It never blocks and never waits
// on the background run; the presentation layer polls it on its own cadence.
func (c *Coordinator) Snapshot(tailLen int) SnapshotView {
	c.mu.Lock()
	defer c.mu.Unlock()

	view := SnapshotView{
		Status:    StatusIdle,
		Mode:      c.mode,
		ShowTrace: c.showTrace,
		Command:   CommandLine(c.mode, c.showTrace, c.sysinfo),
	}
	if eta, ok := c.history.ETA(string(c.mode)); ok {
		view.ETA, view.HasETA = eta, true
	}

	run := c.run
	if run == nil {
		return view
	}

	view.Status = run.status
	view.Mode = run.mode
	view.ShowTrace = run.showTrace
	view.Command = run.command
	view.Phase = run.phases.Current()
	view.PhaseElapsed = run.phases.Elapsed()
	view.Activity = run.activity
	view.Stats = run.stats
	view.Tail = run.buffer.Tail(tailLen)
	view.Diff = run.diff

	if run.status.Terminal() {
		view.OverallElapsed = run.endTime.Sub(run.startTime)
	} else {
		view.OverallElapsed = c.now().Sub(run.startTime)
	}

	view.Phases = c.phaseViewsLocked(run)
	return view
}

func (c *Coordinator) phaseViewsLocked(run *buildRun) []PhaseView {
	current := run.phases.Current()
	terminal := run.status.Terminal()

	views := make([]PhaseView, 0, len(PipelinePhases))
	for _, p := range PipelinePhases {
		pv := PhaseView{Phase: p}
		switch {
		case run.phases.Visited(p) && p == current && run.status == StatusFailed:
			pv.State = PhaseFailedState
		case run.phases.Visited(p) && p == current && !terminal:
			pv.State = PhaseActive
		case run.phases.Visited(p):
			pv.State = PhaseDone
		case terminal || p < current:
			pv.State = PhaseSkipped
		default:
			pv.State = PhaseWaiting
		}
		if run.phases.Visited(p) {
			for _, rec := range run.phases.Records() {
				if rec.Phase == p {
					pv.Elapsed = run.phases.VisibleDuration(rec)
				}
			}
		}
		views = append(views, pv)
	}
	return views
}
