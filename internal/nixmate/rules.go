package nixmate

import (
	"fmt"
	"strconv"
	"strings"
)

// EventKind identifies what a classified output line means to the user.
type EventKind int

const (
	EventError EventKind = iota
	EventWarning
	EventTrace
	EventBuilding
	EventBuildPlan
	EventFetchPlan
	EventFetchingPath
	EventBootloader
	EventUnitsRestart
	EventUnitsStart
	EventUnitsStop
	EventUnitsReload
	EventActivating
	EventEtcSetup
	EventEvaluating
	EventActivity
)

// Event is the classified, human-readable form of a raw output line.
// Phase is non-zero when the event kind doubles as a phase signal.
type Event struct {
	Kind    EventKind
	Display string
	Phase   Phase
}

// IsError reports whether the event should feed the history error preview.
func (e *Event) IsError() bool { return e != nil && e.Kind == EventError }

// classifierRule is one entry of the ordered rule table. apply returns the
// display text and whether the rule matched. More specific rules are listed
// before generic ones; the first match wins.
type classifierRule struct {
	kind  EventKind
	phase Phase
	apply func(raw, lower string) (string, bool)
}

// containsAny builds a matcher for a fixed keyword set, rendering the raw
// line unchanged.
func containsAny(keys ...string) func(raw, lower string) (string, bool) {
	return func(raw, lower string) (string, bool) {
		for _, k := range keys {
			if strings.Contains(lower, k) {
				return raw, true
			}
		}
		return "", false
	}
}

// unitsRule extracts the unit list from "<verb> the following units: a, b".
func unitsRule(marker, label string) func(raw, lower string) (string, bool) {
	return func(raw, lower string) (string, bool) {
		if !strings.Contains(lower, marker) {
			return "", false
		}
		if _, units, ok := strings.Cut(raw, "units:"); ok {
			return fmt.Sprintf("%s: %s", label, strings.TrimSpace(units)), true
		}
		return raw, true
	}
}

// The classification table. Order is significant: nixos-rebuild prints
// "error:" lines during every phase, so diagnostics come first, and
// bootloader keywords are checked before the generic activation verbs that
// would otherwise swallow them.
var classifierRules = []classifierRule{
	{EventError, PhaseNone, func(raw, lower string) (string, bool) {
		if strings.HasPrefix(lower, "error") || strings.Contains(lower, "error:") {
			return raw, true
		}
		return "", false
	}},
	{EventWarning, PhaseNone, func(raw, lower string) (string, bool) {
		if strings.Contains(lower, "warning:") {
			return raw, true
		}
		return "", false
	}},
	{EventTrace, PhaseEvaluation, func(raw, lower string) (string, bool) {
		if !strings.HasPrefix(lower, "trace:") {
			return "", false
		}
		return truncateUTF8(raw, 100), true
	}},
	{EventBuilding, PhaseBuilding, func(raw, lower string) (string, bool) {
		if !strings.Contains(lower, "building '") {
			return "", false
		}
		if name, ver, ok := storePathInLine(raw); ok {
			name = strings.TrimSuffix(name, ".drv")
			ver = strings.TrimSuffix(ver, ".drv")
			if ver == "" {
				return "Building " + name, true
			}
			return fmt.Sprintf("Building %s %s", name, ver), true
		}
		return raw, true
	}},
	{EventBuildPlan, PhaseBuilding, func(raw, lower string) (string, bool) {
		if !strings.Contains(lower, "derivations will be built") &&
			!strings.Contains(lower, "derivation(s) will be built") {
			return "", false
		}
		if n, ok := extractNumber(raw); ok {
			return fmt.Sprintf("%d derivations to build", n), true
		}
		return raw, true
	}},
	{EventFetchPlan, PhaseBuilding, func(raw, lower string) (string, bool) {
		if !strings.Contains(lower, "paths will be fetched") {
			return "", false
		}
		n, ok := extractNumber(raw)
		if !ok {
			return raw, true
		}
		// "(M MiB download, ...)" size detail when present
		if open := strings.IndexByte(raw, '('); open >= 0 {
			if span := strings.IndexByte(raw[open:], ')'); span > 0 {
				return fmt.Sprintf("%d paths to fetch (%s)", n, raw[open+1:open+span]), true
			}
		}
		return fmt.Sprintf("%d paths to fetch from cache", n), true
	}},
	{EventFetchingPath, PhaseFetching, func(raw, lower string) (string, bool) {
		if !strings.Contains(lower, "copying path") && !strings.Contains(lower, "fetching path") {
			return "", false
		}
		if name, ver, ok := storePathInLine(raw); ok {
			if ver == "" {
				return "Fetching " + name, true
			}
			return fmt.Sprintf("Fetching %s %s", name, ver), true
		}
		return raw, true
	}},
	{EventFetchingPath, PhaseFetching, containsAny("downloading ", "fetching ")},
	{EventBootloader, PhaseBootloader, func(raw, lower string) (string, bool) {
		switch {
		case strings.Contains(lower, "updating grub"), strings.Contains(lower, "installing grub"):
			return "Updating GRUB bootloader", true
		case strings.Contains(lower, "updating systemd-boot"), strings.Contains(lower, "installing systemd-boot"):
			return "Updating systemd-boot", true
		case strings.Contains(lower, "updating boot"), strings.Contains(lower, "installing boot"),
			strings.Contains(lower, "updating the boot"), strings.Contains(lower, "bootctl"),
			strings.Contains(lower, "updating efi"):
			return raw, true
		// NixOS phrasing varies ("installing the GRUB 2 boot loader on ...");
		// a bare mention is still a bootloader step.
		case strings.Contains(lower, "grub"):
			return "Updating GRUB bootloader", true
		case strings.Contains(lower, "systemd-boot"):
			return "Updating systemd-boot", true
		}
		return "", false
	}},
	{EventUnitsRestart, PhaseActivating, unitsRule("restarting the following units:", "Restarting")},
	{EventUnitsStart, PhaseActivating, unitsRule("starting the following units:", "Starting")},
	{EventUnitsStop, PhaseActivating, unitsRule("stopping the following units:", "Stopping")},
	{EventUnitsReload, PhaseActivating, unitsRule("reloading the following units:", "Reloading")},
	{EventActivating, PhaseActivating, func(raw, lower string) (string, bool) {
		if strings.Contains(lower, "activating the configuration") {
			return "Activating new system configuration", true
		}
		return "", false
	}},
	{EventEtcSetup, PhaseActivating, func(raw, lower string) (string, bool) {
		if strings.Contains(lower, "setting up /etc") {
			return "Updating /etc configuration files", true
		}
		return "", false
	}},
	{EventEvaluating, PhaseEvaluation, containsAny("evaluating")},
	{EventActivity, PhaseActivating, containsAny(
		"switching to", "updating systemd", "reloading systemd",
		"restarting", "stopping", "starting")},
}

// Classify runs the rule table over one raw line. A nil result is not an
// error: the line is simply stored unclassified.
func Classify(raw string) *Event {
	lower := strings.ToLower(raw)
	for _, r := range classifierRules {
		if display, ok := r.apply(raw, lower); ok {
			return &Event{Kind: r.kind, Display: display, Phase: r.phase}
		}
	}
	return nil
}

// storePathInLine finds the first /nix/store path in the line and splits it
// into package name and version.
func storePathInLine(raw string) (name, version string, ok bool) {
	start := strings.Index(raw, "/nix/store/")
	if start < 0 {
		return "", "", false
	}
	rest := raw[start:]
	end := len(rest)
	for i, c := range rest {
		if c == '\'' || c == ' ' || c == '"' {
			end = i
			break
		}
	}
	return parseStorePathName(rest[:end])
}

// parseStorePathName splits /nix/store/<hash>-<name>-<version> into name and
// version. Version is empty when the trailing component does not start with a
// digit (unversioned paths, hooks, sources).
func parseStorePathName(path string) (name, version string, ok bool) {
	base := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		base = path[i+1:]
	}
	// 32-char hash plus the dash separator
	if len(base) < 34 {
		return "", "", false
	}
	rest := base[33:]
	if i := strings.LastIndexByte(rest, '-'); i > 0 {
		maybeVer := rest[i+1:]
		if maybeVer != "" && maybeVer[0] >= '0' && maybeVer[0] <= '9' {
			return rest[:i], maybeVer, true
		}
	}
	return rest, "", true
}

// extractNumber returns the first whitespace-delimited integer in the line.
func extractNumber(raw string) (int, bool) {
	for _, word := range strings.Fields(raw) {
		if n, err := strconv.Atoi(word); err == nil {
			return n, true
		}
	}
	return 0, false
}
