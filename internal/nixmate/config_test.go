package nixmate

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConf(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nixmate.conf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigParsesKeyValues(t *testing.T) {
	path := writeConf(t, `
# comment
CANCEL_GRACE = 9
FLAKE_PATH="/etc/nixos"
KEEP_LOGS='4'
malformed line without equals
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CancelGrace != 9*time.Second {
		t.Errorf("CancelGrace: %v", cfg.CancelGrace)
	}
	if cfg.FlakePath != "/etc/nixos" {
		t.Errorf("FlakePath: %q (quotes not stripped?)", cfg.FlakePath)
	}
	if cfg.KeepLogs != 4 {
		t.Errorf("KeepLogs: %d", cfg.KeepLogs)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.conf"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CancelGrace != defaultCancelGrace*time.Second {
		t.Errorf("CancelGrace default: %v", cfg.CancelGrace)
	}
	if cfg.MinPhaseVisible != defaultMinPhaseVisible*time.Millisecond {
		t.Errorf("MinPhaseVisible default: %v", cfg.MinPhaseVisible)
	}
	if cfg.KeepLogs != defaultKeepLogs {
		t.Errorf("KeepLogs default: %d", cfg.KeepLogs)
	}
	if cfg.HistoryPath == "" || cfg.LogDir == "" {
		t.Error("state paths not defaulted")
	}
}

func TestEnvOverridesConfigFile(t *testing.T) {
	t.Setenv("NIXMATE_CANCEL_GRACE", "30")
	path := writeConf(t, "CANCEL_GRACE=5\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CancelGrace != 30*time.Second {
		t.Errorf("env override lost: %v", cfg.CancelGrace)
	}
}

func TestInvalidIntFallsBackToDefault(t *testing.T) {
	path := writeConf(t, "KEEP_LOGS=lots\nCANCEL_GRACE=-3\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.KeepLogs != defaultKeepLogs {
		t.Errorf("KeepLogs: %d, want default", cfg.KeepLogs)
	}
	if cfg.CancelGrace != defaultCancelGrace*time.Second {
		t.Errorf("CancelGrace: %v, want default", cfg.CancelGrace)
	}
}
