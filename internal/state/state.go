// Package state persists per-source collection history between runs.
//
// The ledger lives outside the snapshot repository so that it never
// shows up in commits; it answers operational questions the git history
// cannot, like "when did osxprofiles last collect successfully" and
// "how many runs in a row has it been failing".
package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

const DefaultStateFile = ".jamfwatch-state.json"

// Ledger is the on-disk run history, keyed by source name.
type Ledger struct {
	// Version of the ledger format.
	Version int `json:"version"`
	Sources map[string]SourceState `json:"sources"`
}

// SourceState records the most recent collection outcomes of one source.
type SourceState struct {
	Source      string `json:"source"`
	LastRunID   string `json:"last_run_id"`
	LastSuccess string `json:"last_success,omitempty"` // RFC 3339
	LastFailure string `json:"last_failure,omitempty"` // RFC 3339
	// FailureStreak counts consecutive failed collections; reset to
	// zero by the next success.
	FailureStreak int `json:"failure_streak"`
	// Items is the number of files observed at the last success.
	Items int `json:"items"`
	// Fingerprint is the SHA-256 over the sorted observed paths at the
	// last success, for cheap "did the shape change" comparisons.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// NewLedger returns an initialised empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		Version: 1,
		Sources: make(map[string]SourceState),
	}
}

// Load reads and parses a ledger file.
// Returns an empty ledger if the file does not exist.
func Load(path string) (*Ledger, error) {
	l := NewLedger()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	if err := json.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}

	if l.Sources == nil {
		l.Sources = make(map[string]SourceState)
	}

	return l, nil
}

// Save writes the ledger to the given path.
func (l *Ledger) Save(path string) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state file: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}

	return nil
}

// RecordSuccess notes a successful collection and resets the failure
// streak. paths are the observed file paths of this collection.
func (l *Ledger) RecordSuccess(source, runID string, paths []string) {
	s := l.Sources[source]
	s.Source = source
	s.LastRunID = runID
	s.LastSuccess = time.Now().UTC().Format(time.RFC3339)
	s.FailureStreak = 0
	s.Items = len(paths)
	s.Fingerprint = fingerprint(paths)
	l.Sources[source] = s
}

// RecordFailure notes a failed collection and bumps the failure streak.
func (l *Ledger) RecordFailure(source, runID string) {
	s := l.Sources[source]
	s.Source = source
	s.LastRunID = runID
	s.LastFailure = time.Now().UTC().Format(time.RFC3339)
	s.FailureStreak++
	l.Sources[source] = s
}

// Get retrieves one source's state, if it has any history.
func (l *Ledger) Get(source string) (SourceState, bool) {
	s, ok := l.Sources[source]
	return s, ok
}

// fingerprint returns the hex-encoded SHA-256 over the sorted paths.
func fingerprint(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)
	h := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return fmt.Sprintf("%x", h)
}
