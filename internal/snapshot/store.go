// Package snapshot is the versioned snapshot tree the monitor commits
// observed state into. The production implementation wraps the git
// binary; the core only consumes the Store interface.
package snapshot

import "fmt"

// Outcome is the store's own view of what changed, per path kind.
type Outcome struct {
	Created  []string
	Modified []string
	Deleted  []string
}

// Empty reports whether the outcome contains no paths at all.
func (o *Outcome) Empty() bool {
	return len(o.Created) == 0 && len(o.Modified) == 0 && len(o.Deleted) == 0
}

// Total returns the number of affected paths.
func (o *Outcome) Total() int {
	return len(o.Created) + len(o.Modified) + len(o.Deleted)
}

// Store is the snapshot tree abstraction consumed by the reconciler and
// the commit orchestrator. All paths are relative to the tree root.
type Store interface {
	// Root returns the absolute path of the snapshot tree.
	Root() string

	// ListTracked returns every tracked path under the given category
	// directory as of the last commit.
	ListTracked(category string) ([]string, error)

	// ReadTracked returns the payload of a tracked path as of the last
	// commit. Returns nil and no error when the path is not tracked.
	ReadTracked(path string) ([]byte, error)

	// Stage marks paths (including deletions) for the next commit.
	Stage(paths []string) error

	// StageAll stages the entire tree, for baseline commits.
	StageAll() error

	// Commit commits everything staged as one transaction and returns
	// what landed. An empty staging area is a clean no-op.
	Commit(message string) (*Outcome, error)

	// Push publishes the committed history to the configured remote.
	Push() error

	// Status returns the uncommitted working-tree diff.
	Status() (*Outcome, error)
}

// StoreError wraps a failed store operation with its underlying cause.
type StoreError struct {
	Op     string
	Err    error
	Detail string
}

func (e *StoreError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("snapshot store %s: %v: %s", e.Op, e.Err, e.Detail)
	}
	return fmt.Sprintf("snapshot store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
