// Package source defines the adapter contract for Jamf data sources and
// the result types the scheduler and reconciler consume.
package source

import (
	"context"
	"fmt"
	"path"

	"jamfwatch/internal/jamf"
)

// ObservedItem is one trackable unit of remote state.
type ObservedItem struct {
	// DisplayName is the human label shown in reports.
	DisplayName string
	// Identity is the stable unique key within the source. Names may
	// repeat or change; identities never do.
	Identity string
	// Path is the repo-relative path the payload is persisted at.
	Path string
	// Payload is the serialized content to persist.
	Payload []byte
}

// OpKind is the operation of a legacy FileOp record.
type OpKind int

const (
	OpAdded OpKind = iota
	OpDeleted
	OpDirCreated
)

func (k OpKind) String() string {
	switch k {
	case OpAdded:
		return "added"
	case OpDeleted:
		return "deleted"
	case OpDirCreated:
		return "dir-created"
	}
	return fmt.Sprintf("OpKind(%d)", int(k))
}

// FileOp is the legacy adapter result form: a per-path operation claim
// (add with payload, delete, directory create) that the reconciler
// normalizes into the same change records as ObservedItems. Nothing is
// written until the commit orchestrator applies the records.
type FileOp struct {
	Path    string
	Module  string
	Item    string
	Op      OpKind
	Payload []byte // content for OpAdded; nil otherwise
}

// Result is the output of one adapter for one run. Exactly one of Items
// or Ops is populated; Legacy reports which.
type Result struct {
	SourceName string
	Items      []ObservedItem
	Ops        []FileOp
	Legacy     bool
}

// Failure records a source that could not be collected this run.
type Failure struct {
	SourceName string
	ErrorKind  string
	Message    string
}

func (f *Failure) String() string {
	return fmt.Sprintf("%s: %s: %s", f.SourceName, f.ErrorKind, f.Message)
}

// Adapter is the uniform contract each data source satisfies.
//
// Collect must return a complete, self-consistent snapshot of everything
// the source tracks. Recoverable per-item problems are logged and the
// item skipped; unrecoverable problems (network outage, auth failure)
// fail the whole call so the scheduler can mark the source failed
// without merging partial output.
type Adapter interface {
	// Name is the stable identifier of the source.
	Name() string
	// Category is the on-disk subdirectory the source's items live under.
	Category() string
	// Collect produces the source's current state. The clients are
	// shared with other adapters and must be treated as read-only.
	Collect(ctx context.Context, clients *jamf.Clients) (*Result, error)
}

// ItemPath builds the repo-relative payload path for an item id within
// a category, with an optional extension.
func ItemPath(category, id, ext string) string {
	return path.Join(category, id+ext)
}
