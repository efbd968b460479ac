package nixmate

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Mode selects the nixos-rebuild subcommand.
type Mode string

const (
	ModeSwitch   Mode = "switch"
	ModeBoot     Mode = "boot"
	ModeTest     Mode = "test"
	ModeBuild    Mode = "build"
	ModeDryBuild Mode = "dry-build"
)

// Modes lists every mode in cycling order.
var Modes = []Mode{ModeSwitch, ModeBoot, ModeTest, ModeBuild, ModeDryBuild}

// ParseMode validates a user-supplied mode string.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown rebuild mode %q (expected switch, boot, test, build or dry-build)", s)
}

// Next returns the following mode, wrapping around; used by the dashboard's
// mode cycling key.
func (m Mode) Next() Mode {
	for i, cur := range Modes {
		if cur == m {
			return Modes[(i+1)%len(Modes)]
		}
	}
	return ModeSwitch
}

// SystemInfo describes the detected configuration layout.
type SystemInfo struct {
	Hostname   string
	UsesFlakes bool
	FlakePath  string // directory containing flake.nix, "" for channels
}

// DetectSystem probes the usual flake.nix locations. An explicit FLAKE_PATH
// config value wins over detection.
func DetectSystem(cfg *Config) *SystemInfo {
	info := &SystemInfo{Hostname: hostname()}

	if cfg != nil && cfg.FlakePath != "" {
		info.UsesFlakes = true
		info.FlakePath = cfg.FlakePath
		return info
	}

	home, _ := os.UserHomeDir()
	candidates := []string{
		"/etc/nixos/flake.nix",
		filepath.Join(home, ".config", "nixos", "flake.nix"),
		filepath.Join(home, "nixos", "flake.nix"),
		filepath.Join(home, ".nixos", "flake.nix"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			info.UsesFlakes = true
			info.FlakePath = filepath.Dir(c)
			break
		}
	}
	return info
}

func hostname() string {
	if data, err := os.ReadFile("/etc/hostname"); err == nil {
		if h := strings.TrimSpace(string(data)); h != "" {
			return h
		}
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "unknown"
}

// BuildCommand assembles the privilege-escalated rebuild invocation for the
// given mode. The returned args feed the supervisor unchanged.
func BuildCommand(mode Mode, showTrace bool, info *SystemInfo) (string, []string) {
	args := []string{"nixos-rebuild", string(mode)}
	if info != nil && info.UsesFlakes {
		path := info.FlakePath
		if path == "" {
			path = "/etc/nixos"
		}
		args = append(args, "--flake", path+"#")
	}
	if showTrace {
		args = append(args, "--show-trace")
	}
	return "sudo", args
}

// CommandLine renders the invocation for display.
func CommandLine(mode Mode, showTrace bool, info *SystemInfo) string {
	name, args := BuildCommand(mode, showTrace, info)
	return name + " " + strings.Join(args, " ")
}
