package nixmate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome is the terminal result of a run as persisted to history.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// HistoryEntry is one completed run. Entries are never mutated after being
// written. The JSON field names are a stable on-disk contract.
type HistoryEntry struct {
	Timestamp       string  `json:"timestamp"` // ISO-8601
	Mode            string  `json:"mode"`
	DurationSeconds float64 `json:"duration_seconds"`
	Outcome         Outcome `json:"outcome"`
	ErrorPreview    *string `json:"error_preview"`
}

// HistoryStore is the append-only persisted record of past runs, used to
// compute the rolling time estimate for the next run of the same mode.
type HistoryStore struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	path    string
	entries []HistoryEntry
}

// LoadHistory reads the store from disk. A corrupt file never aborts
// startup: the unreadable file is moved aside as a backup and history starts
// empty.
func LoadHistory(path string) *HistoryStore {
	s := &HistoryStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			debugf("history: read %s: %v\n", path, err)
		}
		return s
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		colWarn.Printf("history file %s is corrupt, starting fresh: %v\n", path, err)
		// Keep the unreadable file around for inspection.
		_ = os.Rename(path, path+".corrupt")
		s.entries = nil
		return s
	}
	if len(s.entries) > historyCap {
		s.entries = s.entries[len(s.entries)-historyCap:]
	}
	return s
}

// Append records one completed run, trims to the cap and persists on a
// background goroutine so a slow disk cannot stall run completion. Persist
// failures are logged and swallowed; they never fail the run.
func (s *HistoryStore) Append(entry HistoryEntry) {
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	if len(s.entries) > historyCap {
		s.entries = s.entries[len(s.entries)-historyCap:]
	}
	snapshot := make([]HistoryEntry, len(s.entries))
	copy(snapshot, s.entries)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.save(snapshot); err != nil {
			colWarn.Printf("could not persist rebuild history: %v\n", err)
		}
	}()
}

// Flush blocks until every persist started by Append has finished. Called
// before process exit so a run completing just before shutdown is not lost.
func (s *HistoryStore) Flush() {
	s.wg.Wait()
}

func (s *HistoryStore) save(entries []HistoryEntry) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create history dir: %w", err)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// Recent returns the stored entries for the given mode, newest first.
// An empty mode returns everything.
func (s *HistoryStore) Recent(mode string) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]HistoryEntry, 0, len(s.entries))
	for i := len(s.entries) - 1; i >= 0; i-- {
		if mode == "" || s.entries[i].Mode == mode {
			out = append(out, s.entries[i])
		}
	}
	return out
}

// Len returns the number of stored entries.
func (s *HistoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ETA estimates the next run's duration for the given mode: the arithmetic
// mean over the most recent successful entries of that mode, or false when
// none exist.
func (s *HistoryStore) ETA(mode string) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	var count int
	for i := len(s.entries) - 1; i >= 0 && count < etaWindow; i-- {
		e := s.entries[i]
		if e.Outcome == OutcomeSucceeded && e.Mode == mode {
			total += e.DurationSeconds
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return time.Duration(total / float64(count) * float64(time.Second)), true
}

// FormatTimestamp renders t the way history entries store it.
func FormatTimestamp(t time.Time) string {
	return t.Format(time.RFC3339)
}
