// Package report folds per-source outcomes into one ordered report for
// downstream delivery. Pure transformation, no I/O.
package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"jamfwatch/internal/reconcile"
	"jamfwatch/internal/snapshot"
	"jamfwatch/internal/source"
)

// Severity grades a report line.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	}
	return "info"
}

// Line is one report entry: (severity, module, item, action).
type Line struct {
	Severity Severity
	Module   string
	Item     string
	Action   string
}

// Diff carries a unified diff of an updated payload.
type Diff struct {
	Module  string
	Item    string
	Path    string
	Unified string
}

// Report is the ordered outcome of one cycle.
type Report struct {
	RunID    string
	Baseline bool
	Lines    []Line
	Diffs    []Diff
	Failures []source.Failure
	// Warnings are per-item reconciliation conflicts: the item was
	// excluded from the change set, the rest of its source went through.
	Warnings []string
}

// HasContent reports whether there is anything worth delivering. A
// cycle with only failures still has content: silence must never be
// mistaken for "nothing changed".
func (r *Report) HasContent() bool {
	return len(r.Lines) > 0 || len(r.Failures) > 0 || len(r.Warnings) > 0
}

// Build merges the cycle's change records, the store-verified outcome
// and the per-source failures into one report.
//
// The verified outcome is authoritative for which paths changed; the
// records supply the human labels. A verified path with no matching
// record (for example one written by a legacy adapter behind the
// reconciler's back) still gets a line, labelled from its path.
func Build(runID string, records []reconcile.ChangeRecord, verified *snapshot.Outcome, failures []source.Failure, baseline bool) *Report {
	r := &Report{RunID: runID, Baseline: baseline}

	byPath := make(map[string]reconcile.ChangeRecord, len(records))
	for _, rec := range records {
		if rec.Kind != reconcile.DirCreated {
			byPath[rec.Path] = rec
		}
	}

	if verified != nil {
		appendLines(r, "Created", verified.Created, byPath)
		appendLines(r, "Changed", verified.Modified, byPath)
		appendLines(r, "Removed", verified.Deleted, byPath)
	}

	for _, rec := range records {
		if rec.Kind != reconcile.Updated || len(rec.OldPayload) == 0 {
			continue
		}
		unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(rec.OldPayload)),
			B:        difflib.SplitLines(string(rec.NewPayload)),
			FromFile: rec.Path + " (previous)",
			ToFile:   rec.Path + " (current)",
			Context:  3,
		})
		if err != nil || unified == "" {
			continue
		}
		r.Diffs = append(r.Diffs, Diff{
			Module:  rec.Source,
			Item:    rec.DisplayName,
			Path:    rec.Path,
			Unified: unified,
		})
	}
	sort.Slice(r.Diffs, func(i, j int) bool { return r.Diffs[i].Path < r.Diffs[j].Path })

	r.Failures = append(r.Failures, failures...)
	sort.Slice(r.Failures, func(i, j int) bool {
		return r.Failures[i].SourceName < r.Failures[j].SourceName
	})

	return r
}

func appendLines(r *Report, action string, paths []string, byPath map[string]reconcile.ChangeRecord) {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	for _, p := range sorted {
		module, item := labelFor(p, byPath)
		r.Lines = append(r.Lines, Line{
			Severity: SeverityInfo,
			Module:   module,
			Item:     item,
			Action:   action,
		})
	}
}

// labelFor prefers the reconciler's labels and falls back to the path.
func labelFor(p string, byPath map[string]reconcile.ChangeRecord) (module, item string) {
	if rec, ok := byPath[p]; ok {
		return rec.Source, rec.DisplayName
	}
	parts := strings.SplitN(p, "/", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return "unknown", p
}

// Render flattens the report into delivery-ready text. The notifier and
// the CLI both print this verbatim.
func (r *Report) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "jamfwatch run %s\n", r.RunID)
	if r.Baseline {
		b.WriteString("baseline commit: entire current state captured\n")
	}
	b.WriteString("\n")

	if len(r.Lines) == 0 {
		b.WriteString("No changes detected.\n")
	}
	for _, line := range r.Lines {
		fmt.Fprintf(&b, "%s: %s: %s\n", line.Action, line.Module, line.Item)
	}

	if len(r.Warnings) > 0 {
		b.WriteString("\nReconciliation warnings:\n")
		for _, w := range r.Warnings {
			fmt.Fprintf(&b, "  %s\n", w)
		}
	}

	if len(r.Failures) > 0 {
		b.WriteString("\nSources that could not be reached:\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  %s (%s): %s\n", f.SourceName, f.ErrorKind, f.Message)
		}
	}

	for _, d := range r.Diffs {
		fmt.Fprintf(&b, "\n--- diff %s (%s: %s) ---\n%s", d.Path, d.Module, d.Item, d.Unified)
	}

	return b.String()
}
