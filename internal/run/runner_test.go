package run

import (
	"context"
	"errors"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jamfwatch/internal/commit"
	"jamfwatch/internal/jamf"
	"jamfwatch/internal/reconcile"
	"jamfwatch/internal/snapshot"
	"jamfwatch/internal/source"
	"jamfwatch/internal/state"
)

// memStore is an in-memory snapshot.Store whose tracked state is a
// simple path -> payload map.
type memStore struct {
	mu        sync.Mutex
	tracked   map[string]string
	staged    []string
	stagedAll bool
	commits   []string
	commitErr error
}

func newMemStore(tracked map[string]string) *memStore {
	if tracked == nil {
		tracked = map[string]string{}
	}
	return &memStore{tracked: tracked}
}

func (s *memStore) Root() string { return "/snap" }

func (s *memStore) ListTracked(category string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var paths []string
	for p := range s.tracked {
		if strings.HasPrefix(p, category+"/") {
			paths = append(paths, p)
		}
	}
	return paths, nil
}

func (s *memStore) ReadTracked(p string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.tracked[p]; ok {
		return []byte(v), nil
	}
	return nil, nil
}

func (s *memStore) Stage(paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = append(s.staged, paths...)
	return nil
}

func (s *memStore) StageAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stagedAll = true
	return nil
}

func (s *memStore) Commit(message string) (*snapshot.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return nil, s.commitErr
	}
	s.commits = append(s.commits, message)
	outcome := &snapshot.Outcome{}
	for _, p := range s.staged {
		if _, was := s.tracked[p]; was {
			outcome.Modified = append(outcome.Modified, p)
		} else {
			outcome.Created = append(outcome.Created, p)
		}
	}
	if s.stagedAll {
		outcome.Created = append(outcome.Created, "baseline")
	}
	return outcome, nil
}

func (s *memStore) Push() error { return nil }
func (s *memStore) Status() (*snapshot.Outcome, error) {
	return &snapshot.Outcome{}, nil
}

// nullWriter discards all filesystem operations.
type nullWriter struct{}

func (nullWriter) Write(string, []byte) error { return nil }
func (nullWriter) MkdirAll(string) error      { return nil }
func (nullWriter) Remove(string) error        { return nil }
func (nullWriter) Exists(string) bool         { return false }

type stubAdapter struct {
	name    string
	collect func(ctx context.Context) (*source.Result, error)
}

func (s *stubAdapter) Name() string     { return s.name }
func (s *stubAdapter) Category() string { return s.name }
func (s *stubAdapter) Collect(ctx context.Context, _ *jamf.Clients) (*source.Result, error) {
	return s.collect(ctx)
}

func fixedAdapter(name string, items map[string]string) *stubAdapter {
	return &stubAdapter{name: name, collect: func(context.Context) (*source.Result, error) {
		r := &source.Result{SourceName: name}
		for id, payload := range items {
			r.Items = append(r.Items, source.ObservedItem{
				DisplayName: id,
				Identity:    id,
				Path:        path.Join(name, id+".json"),
				Payload:     []byte(payload),
			})
		}
		return r, nil
	}}
}

func newRunner(store *memStore, adapters ...source.Adapter) *Runner {
	registry := source.NewRegistry()
	for _, a := range adapters {
		registry.MustRegister(a)
	}
	orch := commit.New(store, nullWriter{}, false)
	return New(registry, store, orch, time.Second, "")
}

func TestCycle_CommitsChangesFromHealthySources(t *testing.T) {
	t.Parallel()

	store := newMemStore(map[string]string{"scripts/1.json": "old"})
	runner := newRunner(store,
		fixedAdapter("scripts", map[string]string{"1": "new", "2": "fresh"}),
		fixedAdapter("categories", map[string]string{"9": "cat"}),
	)

	outcome, err := runner.Cycle(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded)
	assert.NotEmpty(t, outcome.RunID)

	require.Len(t, store.commits, 1)
	assert.Contains(t, store.commits[0], "2 created, 1 updated, 0 removed")
	assert.Equal(t, 2, outcome.Counts[reconcile.Created])
	assert.Equal(t, 1, outcome.Counts[reconcile.Updated])
}

func TestCycle_FailedSourceNeverCausesRemovals(t *testing.T) {
	t.Parallel()

	// osxprofiles has tracked items but its fetch fails: they must
	// survive the cycle, while the healthy source still commits.
	store := newMemStore(map[string]string{
		"osxprofiles/1.json": "profile",
		"osxprofiles/2.json": "profile2",
	})
	failing := &stubAdapter{name: "osxprofiles", collect: func(context.Context) (*source.Result, error) {
		return nil, errors.New("network outage")
	}}
	runner := newRunner(store,
		failing,
		fixedAdapter("scripts", map[string]string{"1": "new"}),
	)

	outcome, err := runner.Cycle(context.Background(), nil, Options{})
	require.NoError(t, err)

	for _, p := range store.staged {
		assert.NotContains(t, p, "osxprofiles", "failed source's items must not be touched")
	}
	require.Len(t, outcome.Failures, 1)
	assert.Equal(t, "osxprofiles", outcome.Failures[0].SourceName)
	assert.True(t, outcome.Report.HasContent(), "failures must appear in the report")
	require.Len(t, store.commits, 1, "healthy sources still commit in the same cycle")
}

func TestCycle_EmptySuccessfulSourceRemoves(t *testing.T) {
	t.Parallel()

	store := newMemStore(map[string]string{"categories/1.json": "x"})
	runner := newRunner(store, fixedAdapter("categories", nil))

	outcome, err := runner.Cycle(context.Background(), nil, Options{})
	require.NoError(t, err)
	require.Empty(t, outcome.Failures)
	assert.Contains(t, store.commits[0], "1 removed")
}

func TestCycle_ForceRunsBaseline(t *testing.T) {
	t.Parallel()

	store := newMemStore(nil)
	runner := newRunner(store, fixedAdapter("scripts", map[string]string{"1": "x"}))

	outcome, err := runner.Cycle(context.Background(), nil, Options{Force: true})
	require.NoError(t, err)
	assert.True(t, store.stagedAll, "force mode stages the whole tree")
	assert.True(t, outcome.Report.Baseline)
	require.Len(t, store.commits, 1)
	assert.Contains(t, store.commits[0], "baseline")
}

func TestCycle_StoreFailureFailsCycle(t *testing.T) {
	t.Parallel()

	store := newMemStore(nil)
	store.commitErr = &snapshot.StoreError{Op: "commit", Err: errors.New("disk full")}
	runner := newRunner(store, fixedAdapter("scripts", map[string]string{"1": "x"}))

	outcome, err := runner.Cycle(context.Background(), nil, Options{})
	require.Error(t, err)
	require.NotNil(t, outcome, "a failed cycle still produces an outcome for reporting")
	assert.False(t, outcome.Succeeded)
}

func TestCycle_RejectsOverlap(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{})
	slow := &stubAdapter{name: "slow", collect: func(context.Context) (*source.Result, error) {
		close(started)
		<-release
		return &source.Result{SourceName: "slow"}, nil
	}}

	store := newMemStore(nil)
	runner := newRunner(store, slow)
	runner.timeout = 10 * time.Second

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = runner.Cycle(context.Background(), nil, Options{})
	}()

	<-started
	_, err := runner.Cycle(context.Background(), nil, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still in progress")

	close(release)
	<-done
}

func TestCycle_SingleModuleFilter(t *testing.T) {
	t.Parallel()

	store := newMemStore(map[string]string{"categories/1.json": "x"})
	runner := newRunner(store,
		fixedAdapter("scripts", map[string]string{"1": "s"}),
		fixedAdapter("categories", map[string]string{"1": "x"}),
	)

	outcome, err := runner.Cycle(context.Background(), nil, Options{Module: "scripts"})
	require.NoError(t, err)
	require.Empty(t, outcome.Failures)
	// categories was not collected, so its tracked item must survive.
	for _, p := range store.staged {
		assert.NotContains(t, p, "categories")
	}
}

func TestCycle_LedgerTracksOutcomes(t *testing.T) {
	t.Parallel()

	statePath := filepath.Join(t.TempDir(), state.DefaultStateFile)
	failing := &stubAdapter{name: "osxprofiles", collect: func(context.Context) (*source.Result, error) {
		return nil, errors.New("boom")
	}}
	store := newMemStore(nil)
	registry := source.NewRegistry()
	registry.MustRegister(fixedAdapter("scripts", map[string]string{"1": "x"}))
	registry.MustRegister(failing)
	runner := New(registry, store, commit.New(store, nullWriter{}, false), time.Second, statePath)

	// Three consecutive failures push the source over the warning
	// threshold.
	var outcome *Outcome
	for i := 0; i < 3; i++ {
		var err error
		outcome, err = runner.Cycle(context.Background(), nil, Options{})
		require.NoError(t, err)
	}

	ledger, err := state.Load(statePath)
	require.NoError(t, err)

	healthy, ok := ledger.Get("scripts")
	require.True(t, ok)
	assert.Zero(t, healthy.FailureStreak)
	assert.Equal(t, 1, healthy.Items)
	assert.NotEmpty(t, healthy.LastSuccess)

	broken, ok := ledger.Get("osxprofiles")
	require.True(t, ok)
	assert.Equal(t, 3, broken.FailureStreak)

	found := false
	for _, w := range outcome.Report.Warnings {
		if strings.Contains(w, "osxprofiles") && strings.Contains(w, "3 consecutive") {
			found = true
		}
	}
	assert.True(t, found, "report must call out the persistent failure, got %v", outcome.Report.Warnings)
}

func TestCycle_ConflictSurfacesAsWarning(t *testing.T) {
	t.Parallel()

	conflicted := &stubAdapter{name: "scripts", collect: func(context.Context) (*source.Result, error) {
		return &source.Result{
			SourceName: "scripts",
			Items: []source.ObservedItem{
				{Identity: "1", Path: "scripts/1.json", Payload: []byte("a")},
				{Identity: "1", Path: "scripts/other.json", Payload: []byte("b")},
			},
		}, nil
	}}
	store := newMemStore(nil)
	runner := newRunner(store, conflicted)

	outcome, err := runner.Cycle(context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, outcome.Report.Warnings)
	assert.Empty(t, outcome.Failures, "a conflict is not a source failure")
}
