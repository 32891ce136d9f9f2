package snapshot

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"jamfwatch/internal/logging"
)

// gitRunner executes one git command in dir and returns its stdout.
// Swappable in tests.
type gitRunner func(dir string, args ...string) (string, error)

func execGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("git %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// GitStore implements Store on top of the git binary.
type GitStore struct {
	root        string
	remote      string
	authorName  string
	authorEmail string
	run         gitRunner
}

var _ Store = (*GitStore)(nil)

// Open ensures root exists, initializes a repository there if needed and
// sets the commit author.
func Open(root, authorName, authorEmail, remote string) (*GitStore, error) {
	return open(root, authorName, authorEmail, remote, execGit)
}

func open(root, authorName, authorEmail, remote string, run gitRunner) (*GitStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, &StoreError{Op: "open", Err: err}
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, &StoreError{Op: "open", Err: err, Detail: "creating snapshot tree"}
	}

	s := &GitStore{root: abs, remote: remote, authorName: authorName, authorEmail: authorEmail, run: run}

	if _, err := s.run(abs, "rev-parse", "--git-dir"); err != nil {
		logging.Info("Store", "initializing snapshot repository at %s", abs)
		if _, err := s.run(abs, "init"); err != nil {
			return nil, &StoreError{Op: "init", Err: err}
		}
	}
	if err := s.configureAuthor(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *GitStore) configureAuthor() error {
	if _, err := s.run(s.root, "config", "user.name", s.authorName); err != nil {
		return &StoreError{Op: "config", Err: err}
	}
	if _, err := s.run(s.root, "config", "user.email", s.authorEmail); err != nil {
		return &StoreError{Op: "config", Err: err}
	}
	return nil
}

func (s *GitStore) Root() string { return s.root }

// hasHead reports whether the repository has at least one commit.
func (s *GitStore) hasHead() bool {
	_, err := s.run(s.root, "rev-parse", "--verify", "HEAD")
	return err == nil
}

func (s *GitStore) ListTracked(category string) ([]string, error) {
	if !s.hasHead() {
		return nil, nil
	}
	out, err := s.run(s.root, "ls-tree", "-r", "--name-only", "HEAD", "--", category)
	if err != nil {
		return nil, &StoreError{Op: "list-tracked", Err: err}
	}
	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			paths = append(paths, line)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *GitStore) ReadTracked(path string) ([]byte, error) {
	if !s.hasHead() {
		return nil, nil
	}
	out, err := s.run(s.root, "show", "HEAD:"+path)
	if err != nil {
		// Untracked path, not an error: callers treat nil as "absent".
		if strings.Contains(err.Error(), "does not exist") ||
			strings.Contains(err.Error(), "exists on disk, but not in") {
			return nil, nil
		}
		return nil, &StoreError{Op: "read-tracked", Err: err}
	}
	return []byte(out), nil
}

func (s *GitStore) Stage(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	// -A stages deletions too.
	args := append([]string{"add", "-A", "--"}, paths...)
	if _, err := s.run(s.root, args...); err != nil {
		return &StoreError{Op: "stage", Err: err}
	}
	return nil
}

// StageAll stages the entire tree, for baseline commits.
func (s *GitStore) StageAll() error {
	if _, err := s.run(s.root, "add", "-A"); err != nil {
		return &StoreError{Op: "stage-all", Err: err}
	}
	return nil
}

func (s *GitStore) Commit(message string) (*Outcome, error) {
	outcome, err := s.staged()
	if err != nil {
		return nil, err
	}
	if outcome.Empty() {
		logging.Debug("Store", "nothing staged, skipping commit")
		return outcome, nil
	}
	if _, err := s.run(s.root, "commit", "-m", message); err != nil {
		return nil, &StoreError{Op: "commit", Err: err}
	}
	return outcome, nil
}

// staged parses the staged diff into an Outcome.
func (s *GitStore) staged() (*Outcome, error) {
	args := []string{"diff", "--cached", "--name-status"}
	if !s.hasHead() {
		// No HEAD to diff against yet; everything staged is new.
		out, err := s.run(s.root, "diff", "--cached", "--name-only")
		if err != nil {
			return nil, &StoreError{Op: "staged", Err: err}
		}
		outcome := &Outcome{}
		for _, line := range strings.Split(out, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				outcome.Created = append(outcome.Created, line)
			}
		}
		return outcome, nil
	}
	out, err := s.run(s.root, args...)
	if err != nil {
		return nil, &StoreError{Op: "staged", Err: err}
	}
	return parseNameStatus(out), nil
}

func parseNameStatus(out string) *Outcome {
	outcome := &Outcome{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			continue
		}
		switch fields[0][0] {
		case 'A':
			outcome.Created = append(outcome.Created, fields[1])
		case 'M':
			outcome.Modified = append(outcome.Modified, fields[1])
		case 'D':
			outcome.Deleted = append(outcome.Deleted, fields[1])
		}
	}
	return outcome
}

func (s *GitStore) Status() (*Outcome, error) {
	out, err := s.run(s.root, "status", "--porcelain")
	if err != nil {
		return nil, &StoreError{Op: "status", Err: err}
	}
	return parsePorcelain(out), nil
}

func parsePorcelain(out string) *Outcome {
	outcome := &Outcome{}
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code, path := line[:2], line[3:]
		// Renames and copies list "old -> new"; a rename is a removal
		// of the old path plus a creation of the new one.
		if strings.ContainsAny(code, "RC") {
			if oldPath, newPath, ok := strings.Cut(path, " -> "); ok {
				if strings.ContainsRune(code, 'R') {
					outcome.Deleted = append(outcome.Deleted, unquotePath(oldPath))
				}
				outcome.Created = append(outcome.Created, unquotePath(newPath))
				continue
			}
		}
		path = unquotePath(path)
		switch {
		case code == "??" || strings.Contains(code, "A"):
			outcome.Created = append(outcome.Created, path)
		case strings.Contains(code, "D"):
			outcome.Deleted = append(outcome.Deleted, path)
		case strings.Contains(code, "M"):
			outcome.Modified = append(outcome.Modified, path)
		}
	}
	return outcome
}

// unquotePath undoes git's C-style quoting of paths with unusual
// characters.
func unquotePath(p string) string {
	if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
		if unquoted, err := strconv.Unquote(p); err == nil {
			return unquoted
		}
	}
	return p
}

func (s *GitStore) Push() error {
	if s.remote == "" {
		return &StoreError{Op: "push", Err: fmt.Errorf("no remote configured")}
	}
	if _, err := s.run(s.root, "push", s.remote, "HEAD"); err != nil {
		return &StoreError{Op: "push", Err: err}
	}
	return nil
}

// RepairHistory wipes the commit history and rebuilds it from the
// current tree: one commit per top-level entry. Intended for local
// repositories whose history has become corrupt.
func (s *GitStore) RepairHistory() error {
	logging.Warn("Store", "discarding git history at %s", s.root)
	if err := os.RemoveAll(filepath.Join(s.root, ".git")); err != nil {
		return &StoreError{Op: "repair", Err: err}
	}
	if _, err := s.run(s.root, "init"); err != nil {
		return &StoreError{Op: "repair", Err: err}
	}
	if err := s.configureAuthor(); err != nil {
		return err
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return &StoreError{Op: "repair", Err: err}
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if _, err := s.run(s.root, "add", "--", entry.Name()); err != nil {
			return &StoreError{Op: "repair", Err: err}
		}
		if _, err := s.run(s.root, "commit", "-m", "Initializing: "+entry.Name()); err != nil {
			return &StoreError{Op: "repair", Err: err}
		}
	}

	status, err := s.Status()
	if err != nil {
		return err
	}
	if !status.Empty() {
		return &StoreError{Op: "repair", Err: fmt.Errorf("tree still dirty after repair")}
	}
	return nil
}
