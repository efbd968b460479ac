package nixmate

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"lukechampine.com/blake3"
)

// SystemSnapshot captures the parts of the running system the diff engine
// compares: the package closure of the current generation, the kernel and
// NixOS versions, and per-service start timestamps.
type SystemSnapshot struct {
	Packages     map[string]string // name -> version ("" when unknown)
	Kernel       string
	NixOSVersion string
	Services     map[string]uint64 // unit -> ActiveEnterTimestampMonotonic (usec)
	Fingerprint  string            // blake3 over the sorted package list
}

const currentSystem = "/run/current-system"

// TakeSystemSnapshot inspects /run/current-system and systemd. It is slow
// (nix path-info walks the whole closure) and must only run off the UI path.
// Every probe is best-effort; missing data leaves the field empty.
func TakeSystemSnapshot() *SystemSnapshot {
	return takeSnapshotAt(currentSystem)
}

func takeSnapshotAt(systemPath string) *SystemSnapshot {
	snap := &SystemSnapshot{
		Packages: map[string]string{},
		Services: map[string]uint64{},
	}

	if v, err := os.ReadFile(filepath.Join(systemPath, "nixos-version")); err == nil {
		snap.NixOSVersion = strings.TrimSpace(string(v))
	}
	snap.Kernel = readKernelVersion(systemPath)
	snap.Packages = listClosurePackages(systemPath)
	snap.Services = serviceStartTimes()
	snap.Fingerprint = packageFingerprint(snap.Packages)
	return snap
}

// readKernelVersion picks the module directory name under
// kernel-modules/lib/modules, which is the running kernel release string.
func readKernelVersion(systemPath string) string {
	dir := filepath.Join(systemPath, "kernel-modules", "lib", "modules")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if name := e.Name(); !strings.HasPrefix(name, ".") {
			return name
		}
	}
	return ""
}

// listClosurePackages asks nix for the closure of the system profile and
// falls back to listing sw/bin when nix is unavailable. The fallback yields
// names without versions, which the diff engine tolerates.
func listClosurePackages(systemPath string) map[string]string {
	pkgs := map[string]string{}

	out, err := exec.Command("nix", "path-info", "-r", "--json", systemPath).Output()
	if err == nil {
		for _, p := range parsePathInfo(out) {
			if name, ver, ok := parseStorePathName(p); ok && !skipInfraPackage(name) {
				pkgs[name] = ver
			}
		}
	}
	if len(pkgs) > 0 {
		return pkgs
	}

	entries, err := os.ReadDir(filepath.Join(systemPath, "sw", "bin"))
	if err != nil {
		return pkgs
	}
	for _, e := range entries {
		pkgs[e.Name()] = ""
	}
	return pkgs
}

// parsePathInfo extracts store paths from nix path-info --json, which is an
// object keyed by path on current nix and an array of {path: ...} on older
// releases.
func parsePathInfo(data []byte) []string {
	var paths []string

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err == nil {
		for p := range obj {
			paths = append(paths, p)
		}
		return paths
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil
	}
	for _, item := range arr {
		var entry struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(item, &entry); err == nil && entry.Path != "" {
			paths = append(paths, entry.Path)
			continue
		}
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			paths = append(paths, s)
		}
	}
	return paths
}

// skipInfraPackage filters build plumbing that is meaningless in a user-facing
// diff (setup hooks, patch inputs, stdenv internals).
func skipInfraPackage(name string) bool {
	skipPrefixes := []string{
		"hook", "setup-hook", "source", "patch", "wrap",
		"move-", "make-", "compress-", "strip-",
		"audit-", "fixup-",
	}
	skipNames := []string{"stdenv", "builder", "raw", "env-manifest"}

	for _, p := range skipPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	for _, n := range skipNames {
		if name == n {
			return true
		}
	}
	return false
}

// serviceStartTimes queries systemd for the monotonic start timestamp of
// every running service. A service whose value later increased was restarted.
func serviceStartTimes() map[string]uint64 {
	out, err := exec.Command("systemctl", "list-units", "--type=service",
		"--state=running", "--no-legend", "--plain").Output()
	if err != nil {
		return nil
	}
	var units []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 && strings.HasSuffix(fields[0], ".service") {
			units = append(units, fields[0])
		}
	}
	if len(units) == 0 {
		return nil
	}

	args := append([]string{"show", "--property=Id,ActiveEnterTimestampMonotonic"}, units...)
	out, err = exec.Command("systemctl", args...).Output()
	if err != nil {
		return nil
	}
	return parseServiceShow(string(out))
}

// parseServiceShow reads the blank-line separated Id/timestamp blocks printed
// by systemctl show.
func parseServiceShow(out string) map[string]uint64 {
	times := map[string]uint64{}
	var id string
	var ts uint64
	flush := func() {
		if id != "" {
			times[id] = ts
		}
		id, ts = "", 0
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "Id":
			id = val
		case "ActiveEnterTimestampMonotonic":
			ts, _ = strconv.ParseUint(val, 10, 64)
		}
	}
	flush()
	return times
}

// packageFingerprint hashes the sorted name@version list so identical
// pre/post package sets are recognised without a full comparison.
func packageFingerprint(pkgs map[string]string) string {
	names := make([]string, 0, len(pkgs))
	for name := range pkgs {
		names = append(names, name)
	}
	sort.Strings(names)

	h := blake3.New(32, nil)
	for _, name := range names {
		fmt.Fprintf(h, "%s@%s\n", name, pkgs[name])
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
