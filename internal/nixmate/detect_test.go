package nixmate

import (
	"reflect"
	"testing"
)

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, m := range Modes {
		got, err := ParseMode(string(m))
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m, got, err)
		}
	}
	if _, err := ParseMode("upgrade"); err == nil {
		t.Error("invalid mode accepted")
	}
}

func TestModeCycling(t *testing.T) {
	t.Parallel()

	m := ModeSwitch
	seen := map[Mode]bool{}
	for i := 0; i < len(Modes); i++ {
		seen[m] = true
		m = m.Next()
	}
	if m != ModeSwitch {
		t.Errorf("cycle did not wrap: ended on %v", m)
	}
	if len(seen) != len(Modes) {
		t.Errorf("cycle visited %d modes, want %d", len(seen), len(Modes))
	}
}

func TestBuildCommandChannels(t *testing.T) {
	t.Parallel()

	name, args := BuildCommand(ModeSwitch, false, &SystemInfo{})
	if name != "sudo" {
		t.Errorf("name: %q", name)
	}
	want := []string{"nixos-rebuild", "switch"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args: %v, want %v", args, want)
	}
}

func TestBuildCommandFlakesAndTrace(t *testing.T) {
	t.Parallel()

	info := &SystemInfo{UsesFlakes: true, FlakePath: "/etc/nixos"}
	_, args := BuildCommand(ModeBoot, true, info)
	want := []string{"nixos-rebuild", "boot", "--flake", "/etc/nixos#", "--show-trace"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args: %v, want %v", args, want)
	}

	if got := CommandLine(ModeBoot, true, info); got != "sudo nixos-rebuild boot --flake /etc/nixos# --show-trace" {
		t.Errorf("CommandLine: %q", got)
	}
}

func TestDetectSystemExplicitFlakePath(t *testing.T) {
	t.Parallel()

	cfg := &Config{FlakePath: "/home/user/dotfiles"}
	info := DetectSystem(cfg)
	if !info.UsesFlakes || info.FlakePath != "/home/user/dotfiles" {
		t.Errorf("explicit flake path ignored: %+v", info)
	}
}
