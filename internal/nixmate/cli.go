package nixmate

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/term"
)

// RunCLI parses the command line and dispatches. The returned code is the
// process exit status.
func RunCLI(ctx context.Context, args []string) int {
	cfg, err := LoadConfig(ConfigPath())
	if err != nil {
		colWarn.Println("config:", err)
	}
	if cfg.Values["VERBOSE"] == "1" {
		Verbose = true
	}

	if len(args) == 0 {
		return cmdDashboard(ctx, cfg)
	}

	switch args[0] {
	case "run":
		return cmdRun(ctx, cfg, args[1:])
	case "history":
		return cmdHistory(cfg, args[1:])
	case "eta":
		return cmdETA(cfg, args[1:])
	case "version":
		fmt.Printf("nixmate %s (built %s)\n", version, buildDate)
		return 0
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Println("Unknown command:", args[0])
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Println("Usage: nixmate [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  (none)            open the interactive rebuild dashboard")
	fmt.Println("  run <mode>        run a rebuild (switch, boot, test, build, dry-build)")
	fmt.Println("      --show-trace  pass --show-trace to nixos-rebuild")
	fmt.Println("      --no-tui      stream plain output instead of the dashboard")
	fmt.Println("  history           show past rebuilds")
	fmt.Println("  eta <mode>        print the duration estimate for a mode")
	fmt.Println("  version           print the version")
	fmt.Println("  help              show this help")
}

func newCoordinator(ctx context.Context, cfg *Config) (*Coordinator, *HistoryStore, error) {
	info := DetectSystem(cfg)
	debugf("host %s flakes=%v path=%s\n", info.Hostname, info.UsesFlakes, info.FlakePath)

	if err := EnsureSudo(ctx); err != nil {
		return nil, nil, err
	}

	history := LoadHistory(cfg.HistoryPath)
	sup := NewSupervisor(cfg.CancelGrace)
	coord := NewCoordinator(cfg, sup, history, info)
	return coord, history, nil
}

func cmdDashboard(ctx context.Context, cfg *Config) int {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		colError.Println("stdout is not a terminal; use 'nixmate run <mode> --no-tui'")
		return 1
	}
	coord, history, err := newCoordinator(ctx, cfg)
	if err != nil {
		colError.Println(err)
		return 1
	}
	code := RunDashboard(coord, history)
	history.Flush()
	return code
}

func cmdRun(ctx context.Context, cfg *Config, args []string) int {
	if len(args) < 1 {
		fmt.Println("Usage: nixmate run <mode> [--show-trace] [--no-tui]")
		return 1
	}
	mode, err := ParseMode(args[0])
	if err != nil {
		colError.Println(err)
		return 1
	}

	showTrace := false
	noTUI := false
	for _, arg := range args[1:] {
		switch arg {
		case "--show-trace":
			showTrace = true
		case "--no-tui":
			noTUI = true
		default:
			fmt.Println("Unknown flag:", arg)
			return 1
		}
	}

	if !noTUI && term.IsTerminal(int(os.Stdout.Fd())) {
		coord, history, err := newCoordinator(ctx, cfg)
		if err != nil {
			colError.Println(err)
			return 1
		}
		if err := coord.StartRun(BuildRequest{Mode: mode, ShowTrace: showTrace}); err != nil {
			colError.Println("cannot start rebuild:", err)
			return 1
		}
		code := RunDashboard(coord, history)
		history.Flush()
		return code
	}

	coord, history, err := newCoordinator(ctx, cfg)
	if err != nil {
		colError.Println(err)
		return 1
	}
	code := RunPlain(ctx, coord, BuildRequest{Mode: mode, ShowTrace: showTrace})
	history.Flush()
	return code
}

func cmdHistory(cfg *Config, args []string) int {
	mode := ""
	if len(args) >= 1 {
		m, err := ParseMode(args[0])
		if err != nil {
			colError.Println(err)
			return 1
		}
		mode = string(m)
	}

	history := LoadHistory(cfg.HistoryPath)
	entries := history.Recent(mode)
	if len(entries) == 0 {
		fmt.Println("No rebuilds recorded.")
		return 0
	}

	for _, e := range entries {
		line := fmt.Sprintf("%-25s %-10s %8s  %s",
			e.Timestamp, e.Mode, formatDuration(time.Duration(e.DurationSeconds*float64(time.Second))), e.Outcome)
		switch e.Outcome {
		case OutcomeSucceeded:
			colSuccess.Println(line)
		case OutcomeCancelled:
			colWarn.Println(line)
		default:
			colError.Println(line)
			if e.ErrorPreview != nil {
				fmt.Println("    " + *e.ErrorPreview)
			}
		}
	}
	return 0
}

func cmdETA(cfg *Config, args []string) int {
	if len(args) < 1 {
		fmt.Println("Usage: nixmate eta <mode>")
		return 1
	}
	mode, err := ParseMode(args[0])
	if err != nil {
		colError.Println(err)
		return 1
	}

	history := LoadHistory(cfg.HistoryPath)
	eta, ok := history.ETA(string(mode))
	if !ok {
		fmt.Printf("No successful %s rebuilds recorded yet.\n", mode)
		return 0
	}
	fmt.Printf("Estimated %s rebuild time: ~%s\n", mode, formatDuration(eta))
	return 0
}
