// Package commit turns a cycle's change records into one atomic,
// store-verified commit of the snapshot tree.
package commit

import (
	"fmt"
	"path/filepath"
	"time"

	"jamfwatch/internal/logging"
	"jamfwatch/internal/reconcile"
	"jamfwatch/internal/snapshot"
)

// Orchestrator is the single writer of the snapshot tree. Exactly one
// Apply runs at a time, serialized by the cycle runner's lock.
type Orchestrator struct {
	store snapshot.Store
	fs    FileWriter
	push  bool
}

// New creates an Orchestrator writing through fs into store's tree.
func New(store snapshot.Store, fs FileWriter, push bool) *Orchestrator {
	return &Orchestrator{store: store, fs: fs, push: push}
}

// Result reports what one cycle's commit actually did. Verified is the
// store's own view of the staged diff and is the authoritative input to
// the report, protecting against reconciler/store disagreement.
type Result struct {
	Committed bool
	Baseline  bool
	Message   string
	Verified  *snapshot.Outcome
}

// Apply writes every change record into the tree and commits the lot as
// one transaction. On commit failure the working tree is left as an
// uncommitted diff for inspection; nothing is ever half-committed.
func (o *Orchestrator) Apply(records []reconcile.ChangeRecord, now time.Time) (*Result, error) {
	touched := make([]string, 0, len(records))
	counts := map[reconcile.Kind]int{}

	for _, rec := range records {
		abs := filepath.Join(o.store.Root(), filepath.FromSlash(rec.Path))
		switch rec.Kind {
		case reconcile.DirCreated:
			if err := o.fs.MkdirAll(abs); err != nil {
				return nil, fmt.Errorf("creating directory %s: %w", rec.Path, err)
			}
		case reconcile.Created, reconcile.Updated:
			if err := o.fs.Write(abs, rec.NewPayload); err != nil {
				return nil, fmt.Errorf("writing %s: %w", rec.Path, err)
			}
			touched = append(touched, rec.Path)
		case reconcile.Removed:
			if err := o.fs.Remove(abs); err != nil {
				return nil, fmt.Errorf("removing %s: %w", rec.Path, err)
			}
			touched = append(touched, rec.Path)
		}
		counts[rec.Kind]++
	}

	if len(touched) == 0 {
		logging.Info("Commit", "no changes this cycle")
		return &Result{Verified: &snapshot.Outcome{}}, nil
	}

	if err := o.store.Stage(touched); err != nil {
		return nil, err
	}

	message := summary(now, counts)
	return o.commitStaged(message, false)
}

// Baseline stages and commits the entire current tree as-is, bypassing
// per-item deltas. Used to (re)initialize tracking without flooding the
// report with spurious creates.
func (o *Orchestrator) Baseline(records []reconcile.ChangeRecord, now time.Time) (*Result, error) {
	for _, rec := range records {
		if rec.Kind == reconcile.Removed {
			continue
		}
		abs := filepath.Join(o.store.Root(), filepath.FromSlash(rec.Path))
		if rec.Kind == reconcile.DirCreated {
			if err := o.fs.MkdirAll(abs); err != nil {
				return nil, fmt.Errorf("creating directory %s: %w", rec.Path, err)
			}
			continue
		}
		if err := o.fs.Write(abs, rec.NewPayload); err != nil {
			return nil, fmt.Errorf("writing %s: %w", rec.Path, err)
		}
	}

	if err := o.store.StageAll(); err != nil {
		return nil, err
	}

	message := fmt.Sprintf("jamfwatch baseline %s", now.UTC().Format(time.RFC3339))
	result, err := o.commitStaged(message, true)
	if err != nil {
		return nil, err
	}
	result.Baseline = true
	return result, nil
}

func (o *Orchestrator) commitStaged(message string, baseline bool) (*Result, error) {
	verified, err := o.store.Commit(message)
	if err != nil {
		// The staged diff stays in the working tree for inspection and
		// for the next cycle's natural retry.
		logging.Error("Commit", err, "commit failed, changes left uncommitted")
		return nil, err
	}
	if verified.Empty() {
		return &Result{Verified: verified, Message: message}, nil
	}

	logging.Info("Commit", "committed %d path(s): %s", verified.Total(), message)

	if o.push {
		if err := o.store.Push(); err != nil {
			return &Result{Committed: true, Message: message, Verified: verified}, err
		}
	}
	return &Result{Committed: true, Message: message, Verified: verified}, nil
}

// summary renders the commit message: run timestamp plus per-kind counts.
func summary(now time.Time, counts map[reconcile.Kind]int) string {
	return fmt.Sprintf("jamfwatch run %s: %d created, %d updated, %d removed",
		now.UTC().Format(time.RFC3339),
		counts[reconcile.Created],
		counts[reconcile.Updated],
		counts[reconcile.Removed])
}
