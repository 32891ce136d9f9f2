// Package reconcile compares one source's observed state against the
// snapshot store's tracked state and produces classified change records.
//
// The identity-based diff here is the primary decision mechanism; the
// store's own working-tree diff is used downstream only as a cross-check.
package reconcile

import (
	"bytes"
	"fmt"
	"path"
	"sort"

	"jamfwatch/internal/logging"
	"jamfwatch/internal/source"
)

// Kind classifies a change record.
type Kind int

const (
	Created Kind = iota
	Updated
	Removed
	DirCreated
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	case DirCreated:
		return "dir-created"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ChangeRecord is one classified change. Records are immutable once
// produced and consumed exactly once by the commit orchestrator.
type ChangeRecord struct {
	Kind        Kind
	Source      string
	DisplayName string
	Identity    string
	Path        string
	// OldPayload and NewPayload carry content for diff rendering.
	// Old is nil for Created, New is nil for Removed; both are nil
	// for DirCreated.
	OldPayload []byte
	NewPayload []byte
}

// PayloadReader returns the committed payload at a path, or nil when the
// path is not tracked.
type PayloadReader func(path string) ([]byte, error)

// entry is the normalized internal form of one observed item.
type entry struct {
	identity    string
	displayName string
	payload     []byte
}

// Source reconciles one source's result against the tracked paths of its
// category. Per-item conflicts are returned as errors alongside the
// records for the items that were consistent; the conflicting items
// produce no records.
//
// A failed source must not be passed here at all: absence of data is not
// evidence of deletion. An empty-but-successful result, by contrast,
// removes everything the source previously tracked.
func Source(result *source.Result, tracked []string, read PayloadReader) ([]ChangeRecord, []error) {
	observed, dirCreates, conflicted, errs := normalize(result)

	trackedSet := make(map[string]bool, len(tracked))
	for _, p := range tracked {
		trackedSet[p] = true
	}

	var records []ChangeRecord
	records = append(records, dirCreates...)

	// Observed side: creations and updates.
	newDirs := map[string]bool{}
	for p, e := range observed {
		if !trackedSet[p] {
			if dir := path.Dir(p); dir != "." && !hasTrackedUnder(tracked, dir) {
				newDirs[dir] = true
			}
			records = append(records, ChangeRecord{
				Kind:        Created,
				Source:      result.SourceName,
				DisplayName: e.displayName,
				Identity:    e.identity,
				Path:        p,
				NewPayload:  e.payload,
			})
			continue
		}

		old, err := read(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: reading tracked payload %s: %w", result.SourceName, p, err))
			continue
		}
		if !bytes.Equal(old, e.payload) {
			records = append(records, ChangeRecord{
				Kind:        Updated,
				Source:      result.SourceName,
				DisplayName: e.displayName,
				Identity:    e.identity,
				Path:        p,
				OldPayload:  old,
				NewPayload:  e.payload,
			})
		}
		// Byte-identical payloads produce no record at all.
	}

	// Tracked side: removals. Only reached for successful results, so
	// an item absent from a complete listing really is gone. A
	// conflicted path had observations this run, just contradictory
	// ones, so it is left untouched rather than removed.
	for _, p := range tracked {
		if _, stillThere := observed[p]; stillThere {
			continue
		}
		if conflicted[p] {
			continue
		}
		records = append(records, ChangeRecord{
			Kind:        Removed,
			Source:      result.SourceName,
			DisplayName: path.Base(p),
			Identity:    p,
			Path:        p,
		})
	}

	// One DirCreated per newly introduced directory per run, counting
	// any the adapter already signalled explicitly.
	for _, r := range dirCreates {
		delete(newDirs, r.Path)
	}
	for dir := range newDirs {
		records = append(records, ChangeRecord{
			Kind:   DirCreated,
			Source: result.SourceName,
			Path:   dir,
		})
	}

	sortRecords(records)
	return records, errs
}

// normalize folds both result forms into one path-keyed view. The
// returned conflicted set holds every path whose observations
// contradicted each other; those paths produce no records at all.
func normalize(result *source.Result) (map[string]entry, []ChangeRecord, map[string]bool, []error) {
	observed := make(map[string]entry)
	var dirCreates []ChangeRecord
	var errs []error

	conflicted := map[string]bool{}
	add := func(id, displayName, p string, payload []byte) {
		if conflicted[p] {
			return
		}
		if prev, dup := observed[p]; dup {
			if bytes.Equal(prev.payload, payload) {
				logging.Debug(result.SourceName, "duplicate observation of %s with identical payload", p)
				return
			}
			// Contradictory duplicate: reject the identity rather than
			// silently picking a winner.
			errs = append(errs, fmt.Errorf(
				"%s: conflicting payloads for %s (identities %s, %s)",
				result.SourceName, p, prev.identity, id))
			delete(observed, p)
			conflicted[p] = true
			return
		}
		observed[p] = entry{identity: id, displayName: displayName, payload: payload}
	}

	if result.Legacy {
		for _, op := range result.Ops {
			switch op.Op {
			case source.OpAdded:
				add(op.Path, op.Item, op.Path, op.Payload)
			case source.OpDeleted:
				// Explicit removal claim; the tracked-side sweep will
				// pick it up because it is absent from observed.
			case source.OpDirCreated:
				dirCreates = append(dirCreates, ChangeRecord{
					Kind:   DirCreated,
					Source: result.SourceName,
					Path:   op.Path,
				})
			}
		}
		return observed, dedupeDirs(dirCreates), conflicted, errs
	}

	seen := map[string]string{}
	for _, item := range result.Items {
		if prevPath, dup := seen[item.Identity]; dup && prevPath != item.Path {
			errs = append(errs, fmt.Errorf(
				"%s: identity %q observed at both %s and %s",
				result.SourceName, item.Identity, prevPath, item.Path))
			// Both paths are tainted: a later observation at either
			// must not re-enter the change set.
			delete(observed, prevPath)
			conflicted[item.Path] = true
			conflicted[prevPath] = true
			continue
		}
		seen[item.Identity] = item.Path
		add(item.Identity, item.DisplayName, item.Path, item.Payload)
	}
	return observed, dirCreates, conflicted, errs
}

// hasTrackedUnder reports whether any tracked path lives under dir.
func hasTrackedUnder(tracked []string, dir string) bool {
	prefix := dir + "/"
	for _, p := range tracked {
		if len(p) > len(prefix) && p[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func dedupeDirs(records []ChangeRecord) []ChangeRecord {
	seen := map[string]bool{}
	out := records[:0]
	for _, r := range records {
		if seen[r.Path] {
			continue
		}
		seen[r.Path] = true
		out = append(out, r)
	}
	return out
}

// sortRecords orders records deterministically: structural creates
// first, then created, updated, removed, each by path.
func sortRecords(records []ChangeRecord) {
	rank := func(k Kind) int {
		switch k {
		case DirCreated:
			return 0
		case Created:
			return 1
		case Updated:
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(records, func(i, j int) bool {
		if ri, rj := rank(records[i].Kind), rank(records[j].Kind); ri != rj {
			return ri < rj
		}
		return records[i].Path < records[j].Path
	})
}
