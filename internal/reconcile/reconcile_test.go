package reconcile

import (
	"fmt"
	"reflect"
	"testing"

	"jamfwatch/internal/source"
)

// payloads is a PayloadReader backed by a map.
func payloads(m map[string]string) PayloadReader {
	return func(path string) ([]byte, error) {
		if v, ok := m[path]; ok {
			return []byte(v), nil
		}
		return nil, nil
	}
}

func item(id, path, payload string) source.ObservedItem {
	return source.ObservedItem{
		DisplayName: id,
		Identity:    id,
		Path:        path,
		Payload:     []byte(payload),
	}
}

func kinds(records []ChangeRecord) map[string]Kind {
	out := make(map[string]Kind, len(records))
	for _, r := range records {
		out[r.Path] = r.Kind
	}
	return out
}

func TestSource_NewItemOnly(t *testing.T) {
	t.Parallel()

	// Prior tracked {A: "x"}; fetch returns {A: "x", B: "y"}.
	result := &source.Result{
		SourceName: "directory",
		Items: []source.ObservedItem{
			item("A", "directory/A", "x"),
			item("B", "directory/B", "y"),
		},
	}
	tracked := []string{"directory/A"}

	records, errs := Source(result, tracked, payloads(map[string]string{"directory/A": "x"}))
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if len(records) != 1 {
		t.Fatalf("records = %+v, want exactly one CREATED for B", records)
	}
	if records[0].Kind != Created || records[0].Path != "directory/B" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestSource_UpdateAndRemove(t *testing.T) {
	t.Parallel()

	// Next fetch returns {A: "z"}, B missing, fetch succeeded.
	result := &source.Result{
		SourceName: "directory",
		Items:      []source.ObservedItem{item("A", "directory/A", "z")},
	}
	tracked := []string{"directory/A", "directory/B"}

	records, errs := Source(result, tracked, payloads(map[string]string{
		"directory/A": "x",
		"directory/B": "y",
	}))
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}

	got := kinds(records)
	want := map[string]Kind{
		"directory/A": Updated,
		"directory/B": Removed,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("records = %v, want %v", got, want)
	}

	for _, r := range records {
		if r.Kind == Updated {
			if string(r.OldPayload) != "x" || string(r.NewPayload) != "z" {
				t.Errorf("updated payloads = %q -> %q", r.OldPayload, r.NewPayload)
			}
		}
	}
}

func TestSource_ByteIdenticalProducesNoRecord(t *testing.T) {
	t.Parallel()

	result := &source.Result{
		SourceName: "scripts",
		Items:      []source.ObservedItem{item("1", "scripts/1.json", "same")},
	}
	records, errs := Source(result, []string{"scripts/1.json"},
		payloads(map[string]string{"scripts/1.json": "same"}))
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if len(records) != 0 {
		t.Errorf("records = %+v, want none for unchanged payload", records)
	}
}

func TestSource_Idempotent(t *testing.T) {
	t.Parallel()

	result := &source.Result{
		SourceName: "scripts",
		Items: []source.ObservedItem{
			item("1", "scripts/1.json", "a"),
			item("2", "scripts/2.json", "b"),
		},
	}
	tracked := []string{"scripts/1.json", "scripts/3.json"}
	read := payloads(map[string]string{"scripts/1.json": "old", "scripts/3.json": "c"})

	first, _ := Source(result, tracked, read)
	second, _ := Source(result, tracked, read)
	if !reflect.DeepEqual(first, second) {
		t.Errorf("reconciliation not idempotent:\n%+v\nvs\n%+v", first, second)
	}
}

func TestSource_EmptySuccessfulFetchRemovesEverything(t *testing.T) {
	t.Parallel()

	result := &source.Result{SourceName: "categories"}
	tracked := []string{"categories/1.json", "categories/2.json"}

	records, errs := Source(result, tracked, payloads(nil))
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if len(records) != 2 {
		t.Fatalf("records = %+v, want 2 removals", records)
	}
	for _, r := range records {
		if r.Kind != Removed {
			t.Errorf("kind = %v, want Removed", r.Kind)
		}
	}
}

func TestSource_DirCreatedOncePerNewDirectory(t *testing.T) {
	t.Parallel()

	result := &source.Result{
		SourceName: "scripts",
		Items: []source.ObservedItem{
			item("1", "scripts/1.json", "a"),
			item("2", "scripts/2.json", "b"),
		},
	}

	// Nothing tracked: the scripts directory itself is new.
	records, errs := Source(result, nil, payloads(nil))
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}

	var dirs int
	for _, r := range records {
		if r.Kind == DirCreated {
			dirs++
			if r.Path != "scripts" {
				t.Errorf("dir path = %q", r.Path)
			}
		}
	}
	if dirs != 1 {
		t.Errorf("got %d DirCreated records, want exactly 1", dirs)
	}
	// Structural creates sort ahead of the file creates.
	if records[0].Kind != DirCreated {
		t.Errorf("first record = %+v, want DirCreated", records[0])
	}
}

func TestSource_IdentityConflictExcludesItem(t *testing.T) {
	t.Parallel()

	result := &source.Result{
		SourceName: "scripts",
		Items: []source.ObservedItem{
			item("1", "scripts/1.json", "a"),
			item("1", "scripts/other.json", "b"), // same identity, different path
			item("2", "scripts/2.json", "c"),
		},
	}

	records, errs := Source(result, nil, payloads(nil))
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one conflict", errs)
	}

	for _, r := range records {
		if r.Identity == "1" {
			t.Errorf("conflicting identity produced a record: %+v", r)
		}
	}
	// The consistent item still goes through.
	found := false
	for _, r := range records {
		if r.Kind == Created && r.Path == "scripts/2.json" {
			found = true
		}
	}
	if !found {
		t.Error("conflict corrupted the rest of the source's output")
	}
}

func TestSource_ConflictTaintsBothPaths(t *testing.T) {
	t.Parallel()

	// After identity "1" is seen at two paths, a later observation at
	// the first path under a different identity must not re-enter the
	// change set.
	result := &source.Result{
		SourceName: "scripts",
		Items: []source.ObservedItem{
			item("1", "scripts/1.json", "a"),
			item("1", "scripts/other.json", "b"),
			item("3", "scripts/1.json", "c"),
		},
	}

	records, errs := Source(result, nil, payloads(nil))
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one conflict", errs)
	}
	for _, r := range records {
		if r.Path == "scripts/1.json" || r.Path == "scripts/other.json" {
			t.Errorf("tainted path produced a record: %+v", r)
		}
	}
}

func TestSource_ConflictedTrackedPathIsNotRemoved(t *testing.T) {
	t.Parallel()

	// scripts/1.json is tracked and was observed this run, just
	// contradictorily. Excluding it from the change set must leave it
	// alone, not report it as gone.
	result := &source.Result{
		SourceName: "scripts",
		Items: []source.ObservedItem{
			item("1", "scripts/1.json", "a"),
			item("1", "scripts/other.json", "b"),
		},
	}
	tracked := []string{"scripts/1.json"}

	records, errs := Source(result, tracked, payloads(map[string]string{"scripts/1.json": "old"}))
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one conflict", errs)
	}
	for _, r := range records {
		if r.Kind == Removed {
			t.Errorf("conflicted tracked path was removed: %+v", r)
		}
	}
}

func TestSource_DuplicatePayloadConflictAtSamePath(t *testing.T) {
	t.Parallel()

	result := &source.Result{
		SourceName: "scripts",
		Items: []source.ObservedItem{
			{Identity: "a", Path: "scripts/1.json", Payload: []byte("x")},
			{Identity: "b", Path: "scripts/1.json", Payload: []byte("y")},
		},
	}

	records, errs := Source(result, nil, payloads(nil))
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one conflict", errs)
	}
	for _, r := range records {
		if r.Path == "scripts/1.json" && r.Kind != DirCreated {
			t.Errorf("conflicted path produced a record: %+v", r)
		}
	}
}

func TestSource_LegacyOpsNormalized(t *testing.T) {
	t.Parallel()

	result := &source.Result{
		SourceName: "computergroups",
		Legacy:     true,
		Ops: []source.FileOp{
			{Path: "computergroups", Module: "computergroups", Op: source.OpDirCreated},
			{Path: "computergroups/5.json", Module: "computergroups", Item: "Labs", Op: source.OpAdded, Payload: []byte("g5")},
		},
	}

	records, errs := Source(result, nil, payloads(nil))
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}

	got := kinds(records)
	want := map[string]Kind{
		"computergroups":        DirCreated,
		"computergroups/5.json": Created,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("records = %v, want %v", got, want)
	}
}

func TestSource_LegacyDeleteOfTrackedItem(t *testing.T) {
	t.Parallel()

	result := &source.Result{
		SourceName: "computergroups",
		Legacy:     true,
		Ops: []source.FileOp{
			{Path: "computergroups/5.json", Item: "Labs", Op: source.OpAdded, Payload: []byte("g5")},
			{Path: "computergroups/6.json", Item: "Gone", Op: source.OpDeleted},
		},
	}
	tracked := []string{"computergroups/5.json", "computergroups/6.json"}

	records, errs := Source(result, tracked, payloads(map[string]string{
		"computergroups/5.json": "g5",
		"computergroups/6.json": "g6",
	}))
	if len(errs) != 0 {
		t.Fatalf("errs = %v", errs)
	}
	if len(records) != 1 {
		t.Fatalf("records = %+v, want one removal", records)
	}
	if records[0].Kind != Removed || records[0].Path != "computergroups/6.json" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestSource_ReadErrorExcludesItemNotSource(t *testing.T) {
	t.Parallel()

	result := &source.Result{
		SourceName: "scripts",
		Items: []source.ObservedItem{
			item("1", "scripts/1.json", "a"),
			item("2", "scripts/2.json", "b"),
		},
	}
	tracked := []string{"scripts/1.json", "scripts/2.json"}
	read := func(path string) ([]byte, error) {
		if path == "scripts/1.json" {
			return nil, fmt.Errorf("objects database corrupt")
		}
		return []byte("old"), nil
	}

	records, errs := Source(result, tracked, read)
	if len(errs) != 1 {
		t.Fatalf("errs = %v, want one read error", errs)
	}
	for _, r := range records {
		if r.Path == "scripts/1.json" {
			t.Errorf("unreadable item produced a record: %+v", r)
		}
	}
	if got := kinds(records); got["scripts/2.json"] != Updated {
		t.Errorf("readable item should still reconcile: %v", got)
	}
}
