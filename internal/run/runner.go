// Package run drives one full monitoring cycle: collect all sources,
// reconcile against the snapshot, commit atomically, aggregate the
// report.
package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"jamfwatch/internal/commit"
	"jamfwatch/internal/jamf"
	"jamfwatch/internal/logging"
	"jamfwatch/internal/reconcile"
	"jamfwatch/internal/report"
	"jamfwatch/internal/scheduler"
	"jamfwatch/internal/snapshot"
	"jamfwatch/internal/source"
	"jamfwatch/internal/state"
)

// Runner owns the cycle lock: reconciliation and commit for a cycle
// happen only after every adapter has returned or timed out, and no new
// cycle starts while a previous one is still committing.
type Runner struct {
	mu       sync.Mutex
	registry *source.Registry
	store    snapshot.Store
	orch     *commit.Orchestrator
	timeout  time.Duration
	// statePath locates the run-history ledger; empty disables it.
	statePath string
}

// New creates a Runner.
func New(registry *source.Registry, store snapshot.Store, orch *commit.Orchestrator, timeout time.Duration, statePath string) *Runner {
	return &Runner{
		registry:  registry,
		store:     store,
		orch:      orch,
		timeout:   timeout,
		statePath: statePath,
	}
}

// Options tunes one cycle.
type Options struct {
	// Module restricts the cycle to one adapter, for testing.
	Module string
	// Force commits the entire current state as a baseline instead of
	// computing per-item deltas.
	Force bool
}

// Outcome is what the CLI layer needs for its exit-code decision.
type Outcome struct {
	RunID     string
	Succeeded bool
	Report    *report.Report
	Failures  []source.Failure
	Counts    map[reconcile.Kind]int
	Duration  time.Duration
}

// Cycle runs one full monitoring pass. An error is returned only for
// cycle-fatal problems (store failure, overlapping cycle); per-source
// failures land in the outcome instead.
func (r *Runner) Cycle(ctx context.Context, clients *jamf.Clients, opts Options) (*Outcome, error) {
	if !r.mu.TryLock() {
		return nil, fmt.Errorf("a previous cycle is still in progress")
	}
	defer r.mu.Unlock()

	start := time.Now()
	runID := uuid.NewString()
	logging.Info("Run", "cycle %s starting", runID)

	outcomes, err := scheduler.Run(ctx, clients, r.registry.All(), scheduler.Options{
		Timeout: r.timeout,
		Only:    opts.Module,
	})
	if err != nil {
		return nil, err
	}

	ledger := r.loadLedger()

	var (
		records  []reconcile.ChangeRecord
		failures []source.Failure
		warnings []string
	)
	for _, adapter := range r.registry.All() {
		outcome, ran := outcomes[adapter.Name()]
		if !ran {
			continue
		}
		if outcome.Failure != nil {
			// No observation this run. Never treated as deletion.
			failures = append(failures, *outcome.Failure)
			if ledger != nil {
				ledger.RecordFailure(adapter.Name(), runID)
				if s, ok := ledger.Get(adapter.Name()); ok && s.FailureStreak >= failureStreakWarn {
					warnings = append(warnings, fmt.Sprintf(
						"%s has failed %d consecutive runs (last success: %s)",
						adapter.Name(), s.FailureStreak, lastSuccessLabel(s)))
				}
			}
			continue
		}
		if ledger != nil {
			ledger.RecordSuccess(adapter.Name(), runID, observedPaths(outcome.Result))
		}

		tracked, err := r.store.ListTracked(adapter.Category())
		if err != nil {
			return nil, err
		}
		recs, errs := reconcile.Source(outcome.Result, tracked, r.store.ReadTracked)
		for _, e := range errs {
			logging.Warn("Reconcile", "%v", e)
			warnings = append(warnings, e.Error())
		}
		records = append(records, recs...)
	}

	var commitResult *commit.Result
	var commitErr error
	if opts.Force {
		commitResult, commitErr = r.orch.Baseline(records, start)
	} else {
		commitResult, commitErr = r.orch.Apply(records, start)
	}

	var verified *snapshot.Outcome
	if commitResult != nil {
		verified = commitResult.Verified
	}
	rep := report.Build(runID, records, verified, failures, opts.Force)
	rep.Warnings = warnings

	outcome := &Outcome{
		RunID:     runID,
		Succeeded: commitErr == nil,
		Report:    rep,
		Failures:  failures,
		Counts:    countVerified(verified),
		Duration:  time.Since(start),
	}

	if ledger != nil {
		if err := ledger.Save(r.statePath); err != nil {
			logging.Warn("Run", "saving run history: %v", err)
		}
	}

	if commitErr != nil {
		logging.Error("Run", commitErr, "cycle %s failed, working tree left uncommitted", runID)
		return outcome, commitErr
	}
	logging.Info("Run", "cycle %s finished in %s (%d changes, %d failed sources)",
		runID, outcome.Duration.Round(time.Millisecond), total(outcome.Counts), len(failures))
	return outcome, nil
}

// failureStreakWarn is how many consecutive failed collections a source
// gets before the report starts calling it out.
const failureStreakWarn = 3

func (r *Runner) loadLedger() *state.Ledger {
	if r.statePath == "" {
		return nil
	}
	ledger, err := state.Load(r.statePath)
	if err != nil {
		logging.Warn("Run", "run history unreadable, starting fresh: %v", err)
		return state.NewLedger()
	}
	return ledger
}

func observedPaths(result *source.Result) []string {
	var paths []string
	for _, item := range result.Items {
		paths = append(paths, item.Path)
	}
	for _, op := range result.Ops {
		if op.Op == source.OpAdded {
			paths = append(paths, op.Path)
		}
	}
	return paths
}

func lastSuccessLabel(s state.SourceState) string {
	if s.LastSuccess == "" {
		return "never"
	}
	return s.LastSuccess
}

func countVerified(verified *snapshot.Outcome) map[reconcile.Kind]int {
	counts := map[reconcile.Kind]int{}
	if verified == nil {
		return counts
	}
	counts[reconcile.Created] = len(verified.Created)
	counts[reconcile.Updated] = len(verified.Modified)
	counts[reconcile.Removed] = len(verified.Deleted)
	return counts
}

func total(counts map[reconcile.Kind]int) int {
	n := 0
	for _, c := range counts {
		n += c
	}
	return n
}
