package nixmate

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var (
	tuiApp        *tview.Application
	tuiHeaderBox  *tview.TextView
	tuiPhaseBox   *tview.TextView
	tuiLogView    *tview.TextView
	tuiFooterBox  *tview.TextView
	tuiFlex       *tview.Flex
	tuiPages      *tview.Pages
	tuiShowDiff   bool
	tuiLastSeq    uint64
	tuiConfirming bool
)

// RunDashboard drives the interactive rebuild dashboard. It owns the
// presentation tick: every 400ms it drains the coordinator and redraws from
// a fresh snapshot.
func RunDashboard(coord *Coordinator, history *HistoryStore) int {
	tuiShowDiff = false
	tuiLastSeq = 0
	tuiConfirming = false

	tuiApp = tview.NewApplication()

	tuiHeaderBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetTextAlign(tview.AlignLeft)
	tuiHeaderBox.SetBorder(true)
	tuiHeaderBox.SetTitle(" nixmate Rebuild Dashboard ")

	tuiPhaseBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextAlign(tview.AlignLeft)
	tuiPhaseBox.SetBorder(true)

	tuiLogView = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false).
		SetScrollable(true)
	tuiLogView.SetBorder(true)
	tuiLogView.SetTitle(" Live Output ")

	tuiFooterBox = tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetTextAlign(tview.AlignLeft)
	tuiFooterBox.SetBorder(true)

	tuiFlex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(tuiHeaderBox, 4, 0, false).
		AddItem(tuiPhaseBox, 5, 0, false).
		AddItem(tuiLogView, 0, 1, true).
		AddItem(tuiFooterBox, 3, 0, false)

	tuiPages = tview.NewPages().AddPage("main", tuiFlex, true, true)

	tuiFlex.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if tuiConfirming {
			return event
		}
		switch event.Key() {
		case tcell.KeyCtrlQ, tcell.KeyEsc:
			tuiApp.Stop()
			return nil
		case tcell.KeyHome:
			tuiLogView.ScrollToBeginning()
			return nil
		case tcell.KeyEnd:
			tuiLogView.ScrollToEnd()
			return nil
		case tcell.KeyTab:
			tuiShowDiff = !tuiShowDiff
			renderDashboard(coord.Snapshot(logTailLen()), history)
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				tuiApp.Stop()
				return nil
			case 'r':
				confirmStart(coord, history)
				return nil
			case 'm':
				coord.CycleMode()
				renderDashboard(coord.Snapshot(logTailLen()), history)
				return nil
			case 't':
				coord.ToggleTrace()
				renderDashboard(coord.Snapshot(logTailLen()), history)
				return nil
			case 'c':
				coord.CancelRun()
				return nil
			case 'h':
				showHistory(history)
				return nil
			}
		}
		return event
	})

	// Presentation tick: drain, snapshot, draw. The coordinator never
	// blocks this goroutine.
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(400 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				coord.Drain()
				view := coord.Snapshot(logTailLen())
				tuiApp.QueueUpdateDraw(func() {
					renderDashboard(view, history)
				})
			case <-stop:
				return
			}
		}
	}()

	tuiApp.SetRoot(tuiPages, true).SetFocus(tuiLogView)
	renderDashboard(coord.Snapshot(logTailLen()), history)

	err := tuiApp.Run()
	close(stop)
	if err != nil {
		colError.Println("tui:", err)
		return 1
	}
	return 0
}

// logTailLen bounds how many lines are painted per tick. The buffer holds far
// more for archiving; the screen only needs a recent window.
func logTailLen() int { return 500 }

func confirmStart(coord *Coordinator, history *HistoryStore) {
	view := coord.Snapshot(0)
	if view.Status == StatusRunning || view.Status == StatusCancelling {
		return
	}
	tuiConfirming = true

	text := fmt.Sprintf("Start rebuild?\n\n$ %s", view.Command)
	if view.HasETA {
		text += fmt.Sprintf("\n\nEstimated time: ~%s", formatDuration(view.ETA))
	}
	modal := tview.NewModal().
		SetText(text).
		AddButtons([]string{"Rebuild", "Cancel"}).
		SetDoneFunc(func(_ int, label string) {
			tuiConfirming = false
			tuiPages.RemovePage("confirm")
			tuiApp.SetFocus(tuiLogView)
			if label != "Rebuild" {
				return
			}
			if err := coord.StartRun(BuildRequest{Mode: view.Mode, ShowTrace: view.ShowTrace}); err != nil {
				tuiHeaderBox.SetText(fmt.Sprintf("[red]cannot start: %v[white]", err))
				return
			}
			tuiLastSeq = 0
			tuiLogView.Clear()
			renderDashboard(coord.Snapshot(logTailLen()), history)
		})
	tuiPages.AddPage("confirm", modal, true, true)
}

// showHistory overlays the past-runs list until 'h', Esc or q closes it.
func showHistory(history *HistoryStore) {
	list := tview.NewTextView().SetDynamicColors(true).SetScrollable(true)
	list.SetBorder(true)
	list.SetTitle(" Rebuild History ")

	entries := history.Recent("")
	if len(entries) == 0 {
		fmt.Fprint(list, "[gray]No rebuilds recorded yet.[white]\n")
	}
	for _, e := range entries {
		var col string
		switch e.Outcome {
		case OutcomeSucceeded:
			col = "green"
		case OutcomeCancelled:
			col = "orange"
		default:
			col = "red"
		}
		fmt.Fprintf(list, "%-25s %-10s %8s  [%s]%s[white]\n",
			e.Timestamp, e.Mode,
			formatDuration(time.Duration(e.DurationSeconds*float64(time.Second))),
			col, e.Outcome)
		if e.Outcome == OutcomeFailed && e.ErrorPreview != nil {
			fmt.Fprintf(list, "    [gray]%s[white]\n", tview.Escape(*e.ErrorPreview))
		}
	}

	list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEsc || event.Rune() == 'h' || event.Rune() == 'q' {
			tuiPages.RemovePage("history")
			tuiApp.SetFocus(tuiLogView)
			return nil
		}
		return event
	})
	tuiPages.AddPage("history", list, true, true)
	tuiApp.SetFocus(list)
}

func renderDashboard(view SnapshotView, history *HistoryStore) {
	if tuiApp == nil {
		return
	}
	renderHeader(view, history)
	renderPhaseStrip(view)
	if tuiShowDiff {
		renderChanges(view)
	} else {
		renderLogTail(view)
	}
	renderFooter(view)
}

func renderHeader(view SnapshotView, history *HistoryStore) {
	var b strings.Builder
	fmt.Fprintf(&b, "[gray]mode[white] %s  [gray]--show-trace[white] %v  [gray]status[white] %s",
		view.Mode, view.ShowTrace, statusTag(view.Status))
	if view.Status != StatusIdle {
		fmt.Fprintf(&b, "  [gray]elapsed[white] %s", formatClock(view.OverallElapsed))
	}
	if view.HasETA {
		fmt.Fprintf(&b, "  [gray]eta[white] ~%s", formatDuration(view.ETA))
	}
	b.WriteString("\n[gray]$[white] " + view.Command)
	if view.Status == StatusIdle {
		if entries := history.Recent(""); len(entries) > 0 {
			last := entries[0]
			fmt.Fprintf(&b, "\n[gray]last run[white] %s %s (%s)",
				last.Outcome, last.Mode, formatDuration(time.Duration(last.DurationSeconds*float64(time.Second))))
		}
	} else {
		fmt.Fprintf(&b, "\n[gray]built[white] %d/%s  [gray]fetched[white] %d  [gray]warn[white] %d  [gray]err[white] %d",
			view.Stats.DerivationsBuilt, totalLabel(view.Stats.DerivationsTotal),
			view.Stats.PathsFetched, view.Stats.Warnings, view.Stats.Errors)
	}
	tuiHeaderBox.SetText(b.String())
}

func totalLabel(total int) string {
	if total == 0 {
		return "?"
	}
	return fmt.Sprintf("%d", total)
}

func statusTag(s Status) string {
	switch s {
	case StatusRunning:
		return "[yellow]running[white]"
	case StatusCancelling:
		return "[orange]cancelling[white]"
	case StatusSucceeded:
		return "[green]succeeded[white]"
	case StatusFailed:
		return "[red]failed[white]"
	case StatusCancelled:
		return "[orange]cancelled[white]"
	default:
		return "[gray]idle[white]"
	}
}

func renderPhaseStrip(view SnapshotView) {
	if len(view.Phases) == 0 {
		tuiPhaseBox.SetTitle(" Phases ")
		tuiPhaseBox.SetText("[gray]Press 'r' to start a rebuild.[white]")
		return
	}

	var cells []string
	for _, pv := range view.Phases {
		var icon, col string
		switch pv.State {
		case PhaseActive:
			icon, col = "◉", "yellow"
		case PhaseDone:
			icon, col = "✓", "green"
		case PhaseFailedState:
			icon, col = "✗", "red"
		case PhaseSkipped:
			icon, col = "─", "gray"
		default:
			icon, col = "○", "gray"
		}
		cell := fmt.Sprintf("[%s]%s %s[white]", col, icon, pv.Phase.Label())
		if pv.Elapsed > 0 {
			cell += fmt.Sprintf(" [gray]%s[white]", formatDuration(pv.Elapsed))
		}
		cells = append(cells, cell)
	}
	text := strings.Join(cells, "   ")

	if view.Phase != PhaseNone {
		if explain := view.Phase.Explanation(); explain != "" {
			text += fmt.Sprintf("\n\n[gray]%s[white]", explain)
		}
	}
	tuiPhaseBox.SetTitle(" Phases ")
	tuiPhaseBox.SetText(text)
}

func renderLogTail(view SnapshotView) {
	tuiLogView.SetTitle(" Live Output ")

	// Seq 0 means the pane was repainted by the changes view or a fresh
	// run, so drop whatever is on screen before appending.
	if tuiLastSeq == 0 {
		tuiLogView.Clear()
	}

	// Append only what is new since the last tick; a full repaint every
	// 400ms flickers on long buffers.
	var fresh []LogLine
	for _, line := range view.Tail {
		if line.Seq > tuiLastSeq {
			fresh = append(fresh, line)
		}
	}
	if len(fresh) == 0 {
		return
	}
	var b strings.Builder
	for _, line := range fresh {
		b.WriteString(logLineTag(line))
		b.WriteString(tview.Escape(line.Display()))
		b.WriteString("[white]\n")
		if line.Seq > tuiLastSeq {
			tuiLastSeq = line.Seq
		}
	}
	fmt.Fprint(tuiLogView, b.String())
	tuiLogView.ScrollToEnd()
}

func logLineTag(line LogLine) string {
	if line.Event == nil {
		return "[white]"
	}
	switch line.Event.Kind {
	case EventError:
		return "[red]"
	case EventWarning:
		return "[yellow]"
	case EventBuilding, EventFetchingPath, EventBuildPlan, EventFetchPlan:
		return "[blue]"
	case EventActivating, EventBootloader, EventUnitsRestart, EventUnitsStart,
		EventUnitsStop, EventUnitsReload, EventEtcSetup:
		return "[green]"
	default:
		return "[white]"
	}
}

func renderChanges(view SnapshotView) {
	tuiLogView.SetTitle(" Changes ")
	tuiLogView.Clear()
	tuiLastSeq = 0

	d := view.Diff
	if d == nil {
		msg := "No diff available yet."
		switch view.Status {
		case StatusRunning, StatusCancelling:
			msg = "Diff is computed after a successful rebuild."
		case StatusSucceeded:
			msg = "Computing diff..."
		}
		fmt.Fprintf(tuiLogView, "[gray]%s[white]\n", msg)
		return
	}

	fmt.Fprintf(tuiLogView, "[white]+%d added / -%d removed / ~%d updated[white]\n\n",
		len(d.Added), len(d.Removed), len(d.Updated))
	if d.KernelChanged {
		fmt.Fprintf(tuiLogView, "[yellow]kernel changed %s → %s, reboot recommended[white]\n\n",
			d.KernelOld, d.KernelNew)
	}
	if d.NixOSVersionOld != d.NixOSVersionNew && d.NixOSVersionNew != "" {
		fmt.Fprintf(tuiLogView, "NixOS: [red]%s[white] → [green]%s[white]\n\n",
			d.NixOSVersionOld, d.NixOSVersionNew)
	}
	if len(d.ServicesRestarted) > 0 {
		fmt.Fprintf(tuiLogView, "[blue]services restarted (%d)[white]\n", len(d.ServicesRestarted))
		for _, svc := range d.ServicesRestarted {
			fmt.Fprintf(tuiLogView, "    %s\n", svc)
		}
		fmt.Fprintln(tuiLogView)
	}
	for _, p := range d.Added {
		fmt.Fprintf(tuiLogView, "[green]  + %s[white] [gray]%s[white]\n", p.Name, p.Version)
	}
	for _, p := range d.Removed {
		fmt.Fprintf(tuiLogView, "[red]  - %s[white] [gray]%s[white]\n", p.Name, p.Version)
	}
	for _, p := range d.Updated {
		fmt.Fprintf(tuiLogView, "[yellow]  ~ %s[white] [gray]%s → %s[white]\n",
			p.Name, p.OldVersion, p.NewVersion)
	}
	if d.Changes() == 0 && !d.KernelChanged && len(d.ServicesRestarted) == 0 {
		fmt.Fprint(tuiLogView, "[gray]No changes.[white]\n")
	}
}

func renderFooter(view SnapshotView) {
	segments := []string{"'q' quit", "Tab log/changes", "'h' history", "↑ ↓ scroll"}
	switch view.Status {
	case StatusRunning:
		segments = append(segments, "'c' cancel")
	case StatusCancelling:
		segments = append(segments, "waiting for process group to exit")
	default:
		segments = append(segments, "'r' rebuild", "'m' cycle mode", "'t' toggle --show-trace")
	}
	tuiFooterBox.SetText(fmt.Sprintf("[gray]%s[white]", strings.Join(segments, " | ")))
}
