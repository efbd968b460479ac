package nixmate

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds the raw key=value pairs from nixmate.conf plus the typed
// settings derived from them.
type Config struct {
	Values map[string]string

	CancelGrace     time.Duration // SIGTERM -> SIGKILL escalation window
	MinPhaseVisible time.Duration // display floor for very fast phases
	KeepLogs        int           // archived build logs retained
	FlakePath       string        // explicit flake dir, overrides detection
	HistoryPath     string
	LogDir          string
}

// ConfigPath returns the per-user config file location.
func ConfigPath() string {
	if p := os.Getenv("NIXMATE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(userConfigDir(), "nixmate.conf")
}

func userConfigDir() string {
	if d := os.Getenv("XDG_CONFIG_HOME"); d != "" {
		return filepath.Join(d, "nixmate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nixmate")
}

func userStateDir() string {
	if d := os.Getenv("XDG_STATE_HOME"); d != "" {
		return filepath.Join(d, "nixmate")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "state", "nixmate")
}

// LoadConfig reads the config file and applies defaults. A missing file is not
// an error; every setting has a usable default.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	// Merge NIXMATE_* env overrides
	mergeEnvOverrides(cfg)
	cfg.applyDefaults()
	return cfg, nil
}

// Merge NIXMATE_* env overrides; NIXMATE_CANCEL_GRACE maps to CANCEL_GRACE etc.
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "NIXMATE_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[strings.TrimPrefix(parts[0], "NIXMATE_")] = parts[1]
			}
		}
	}
}

func (cfg *Config) applyDefaults() {
	cfg.CancelGrace = time.Duration(cfg.intValue("CANCEL_GRACE", defaultCancelGrace)) * time.Second
	cfg.MinPhaseVisible = time.Duration(cfg.intValue("MIN_PHASE_VISIBLE", defaultMinPhaseVisible)) * time.Millisecond
	cfg.KeepLogs = cfg.intValue("KEEP_LOGS", defaultKeepLogs)
	cfg.FlakePath = cfg.Values["FLAKE_PATH"]

	cfg.HistoryPath = cfg.Values["HISTORY_PATH"]
	if cfg.HistoryPath == "" {
		cfg.HistoryPath = filepath.Join(userStateDir(), "rebuild_history.json")
	}
	cfg.LogDir = cfg.Values["LOG_DIR"]
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(userStateDir(), "logs")
	}

	if cfg.Values["DEBUG"] == "1" {
		Debug = true
	}
}

func (cfg *Config) intValue(key string, def int) int {
	v := cfg.Values[key]
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		colWarn.Printf("ignoring invalid %s=%q in config\n", key, v)
		return def
	}
	return n
}
