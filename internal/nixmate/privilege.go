package nixmate

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// runInteractiveCommand executes a command attached to the TTY for
// interactive prompts. No process group isolation, so sudo can reach the
// terminal for password input.
func runInteractiveCommand(ctx context.Context, name string, arg ...string) error {
	cmd := exec.CommandContext(ctx, name, arg...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// EnsureSudo checks whether the sudo ticket is still valid and re-prompts if
// necessary. The rebuild itself runs non-interactively inside the dashboard,
// so the ticket must be fresh before the run starts; otherwise sudo would
// fail silently behind the TUI.
func EnsureSudo(ctx context.Context) error {
	if os.Geteuid() == 0 {
		return nil
	}

	// Non-interactive check first (`sudo -nv`); fast and silent when the
	// ticket is fresh.
	checkCmd := exec.CommandContext(ctx, "sudo", "-nv")
	checkCmd.Stdout = io.Discard
	checkCmd.Stderr = io.Discard
	if err := checkCmd.Run(); err == nil {
		return nil
	}

	colArrow.Print("-> ")
	colSuccess.Println("Authenticating via sudo for nixos-rebuild")
	if err := runInteractiveCommand(ctx, "sudo", "-v"); err != nil {
		return fmt.Errorf("sudo authentication failed: %w", err)
	}
	return nil
}
