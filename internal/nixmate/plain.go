package nixmate

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
)

// plainTailLen is how far back each tick looks for unseen lines. A tick
// that falls more than this many lines behind drops the overflow from the
// terminal; the full log still reaches the archive.
const plainTailLen = 5000

// RunPlain executes one rebuild without the TUI, for non-interactive
// terminals and scripting. Classified events stream to stdout above a phase
// progress bar; Ctrl-C cancels the run and waits for the process group.
func RunPlain(ctx context.Context, coord *Coordinator, req BuildRequest) int {
	view := coord.Snapshot(0)
	colArrow.Print("-> ")
	fmt.Println("$ " + view.Command)
	if view.HasETA {
		colNote.Printf("estimated time: ~%s\n", formatDuration(view.ETA))
	}

	if err := coord.StartRun(req); err != nil {
		colError.Println("cannot start rebuild:", err)
		return 1
	}

	bar := progressbar.NewOptions(len(PipelinePhases),
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(30),
		progressbar.OptionClearOnFinish(),
	)

	ticker := time.NewTicker(400 * time.Millisecond)
	defer ticker.Stop()

	var lastSeq uint64
	cancelled := false
	for {
		select {
		case <-ctx.Done():
			if !cancelled {
				cancelled = true
				bar.Clear()
				colWarn.Println("cancelling, waiting for the process group to exit")
				coord.CancelRun()
			}
		case <-ticker.C:
		}

		coord.Drain()
		view = coord.Snapshot(plainTailLen)
		lastSeq = printPlainEvents(bar, view.Tail, lastSeq)

		done := 0
		for _, pv := range view.Phases {
			if pv.State == PhaseDone || pv.State == PhaseSkipped {
				done++
			}
		}
		bar.Set(done)
		if view.Phase != PhaseNone {
			desc := view.Phase.Label()
			if view.Activity != "" {
				desc = view.Activity
			}
			bar.Describe(trimDescription(desc))
		}

		if view.Status.Terminal() {
			bar.Finish()
			bar.Clear()
			return plainEpilogue(coord, view)
		}
	}
}

// printPlainEvents writes log lines newer than lastSeq that carry a
// classified event, plus monitor-synthesized lines. Raw noise stays in the
// buffer for the archive.
func printPlainEvents(bar *progressbar.ProgressBar, tail []LogLine, lastSeq uint64) uint64 {
	for _, line := range tail {
		if line.Seq <= lastSeq {
			continue
		}
		lastSeq = line.Seq
		ev := line.Event
		if ev == nil && !Verbose {
			continue
		}
		bar.Clear()
		switch {
		case ev == nil:
			fmt.Println(line.Raw)
		case ev.Kind == EventError:
			colError.Println(line.Display())
		case ev.Kind == EventWarning:
			colWarn.Println(line.Display())
		case ev.Phase == PhaseActivating || ev.Phase == PhaseBootloader:
			colSuccess.Println(line.Display())
		default:
			colInfo.Println(line.Display())
		}
	}
	return lastSeq
}

func trimDescription(s string) string {
	const max = 48
	if len(s) <= max {
		return s
	}
	return truncateUTF8(s, max-3) + "..."
}

func plainEpilogue(coord *Coordinator, view SnapshotView) int {
	elapsed := formatDuration(view.OverallElapsed)
	switch view.Status {
	case StatusSucceeded:
		colSuccess.Printf("rebuild succeeded in %s\n", elapsed)
	case StatusCancelled:
		colWarn.Printf("rebuild cancelled after %s\n", elapsed)
		return 130
	default:
		colError.Printf("rebuild failed after %s\n", elapsed)
		return 1
	}

	// The diff arrives from a background snapshot; give it a moment.
	deadline := time.Now().Add(15 * time.Second)
	for view.Diff == nil && time.Now().Before(deadline) {
		time.Sleep(200 * time.Millisecond)
		coord.Drain()
		view = coord.Snapshot(0)
	}
	if view.Diff == nil {
		colNote.Println("no system diff available")
		return 0
	}
	printDiff(view.Diff)
	return 0
}

func printDiff(d *DiffResult) {
	fmt.Printf("changes: +%d added, -%d removed, ~%d updated\n",
		len(d.Added), len(d.Removed), len(d.Updated))
	if d.KernelChanged {
		colWarn.Printf("kernel changed %s -> %s, reboot recommended\n", d.KernelOld, d.KernelNew)
	}
	if d.NixOSVersionNew != "" && d.NixOSVersionOld != d.NixOSVersionNew {
		fmt.Printf("NixOS: %s -> %s\n", d.NixOSVersionOld, d.NixOSVersionNew)
	}
	for _, p := range d.Added {
		colSuccess.Printf("  + %s %s\n", p.Name, p.Version)
	}
	for _, p := range d.Removed {
		colError.Printf("  - %s %s\n", p.Name, p.Version)
	}
	for _, p := range d.Updated {
		colWarn.Printf("  ~ %s %s -> %s\n", p.Name, p.OldVersion, p.NewVersion)
	}
	if len(d.ServicesRestarted) > 0 {
		fmt.Printf("services restarted (%d):\n", len(d.ServicesRestarted))
		for _, svc := range d.ServicesRestarted {
			fmt.Println("    " + svc)
		}
	}
}
