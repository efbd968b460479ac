package nixmate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/pgzip"
)

// archiveRunLog writes the complete raw log of a finished run to the log
// directory as parallel gzip, then prunes old archives. Runs off the hot
// path; failures are logged and swallowed, never surfaced as run failures.
func archiveRunLog(cfg *Config, runID string, lines []LogLine) {
	if cfg == nil || len(lines) == 0 {
		return
	}
	if err := writeLogArchive(cfg.LogDir, runID, lines); err != nil {
		colWarn.Printf("could not archive build log: %v\n", err)
		return
	}
	pruneLogArchives(cfg.LogDir, cfg.KeepLogs)
}

func writeLogArchive(dir, runID string, lines []LogLine) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	path := filepath.Join(dir, "rebuild-"+runID+".log.gz")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	gz := pgzip.NewWriter(f)
	for _, line := range lines {
		if _, err := fmt.Fprintln(gz, line.Raw); err != nil {
			gz.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("finish %s: %w", path, err)
	}
	return nil
}

// pruneLogArchives keeps the newest keep archives and removes the rest.
func pruneLogArchives(dir string, keep int) {
	if keep <= 0 {
		return
	}
	paths, err := filepath.Glob(filepath.Join(dir, "rebuild-*.log.gz"))
	if err != nil || len(paths) <= keep {
		return
	}
	// The run id embeds the start time, so name order is age order.
	sort.Strings(paths)
	for _, p := range paths[:len(paths)-keep] {
		if err := os.Remove(p); err != nil {
			debugf("prune log archive %s: %v\n", p, err)
		}
	}
}
