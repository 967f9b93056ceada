// Package vcs wraps the git operations the pipeline needs over a project
// workspace: init, manual-change reconciliation, commit, and hard rollback.
package vcs

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// excluded lists paths owned by the pipeline itself. They never count as
// manual changes and are never committed by CommitManualChanges.
var excluded = []string{"agents.md", "progress.txt", ".ralph/"}

// Gate performs version-control operations on a single project root.
type Gate struct {
	git    GitRunner
	root   string
	logger *slog.Logger
}

// NewGate creates a Gate for the given project root.
func NewGate(git GitRunner, root string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{git: git, root: root, logger: logger}
}

// Init creates the repository if needed and, when any files exist, stages
// everything and produces the initial commit.
func (g *Gate) Init() error {
	if _, err := g.git.Run(g.root, "rev-parse", "--git-dir"); err != nil {
		if _, err := g.git.Run(g.root, "init"); err != nil {
			return fmt.Errorf("git init: %w", err)
		}
	}

	status, err := g.git.Run(g.root, "status", "--porcelain")
	if err != nil {
		return fmt.Errorf("git status: %w", err)
	}
	if strings.TrimSpace(status) == "" {
		return nil
	}
	return g.AddAndCommit("initial-commit: Project initialized")
}

// Status returns the list of changed paths (staged, unstaged, untracked).
func (g *Gate) Status() ([]string, error) {
	out, err := g.git.Run(g.root, "status", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("git status: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		// Porcelain lines are "XY path" (or "XY old -> new" for renames)
		// with a fixed two-character status field: the path starts at
		// column 3. Splitting on whitespace would mangle paths that
		// contain spaces, which git emits quoted.
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		if path = unquotePath(path); path != "" {
			paths = append(paths, path)
		}
	}
	return paths, nil
}

// unquotePath strips the C-style quoting git applies to paths containing
// spaces or special characters.
func unquotePath(path string) string {
	if len(path) < 2 || path[0] != '"' || path[len(path)-1] != '"' {
		return path
	}
	if unquoted, err := strconv.Unquote(path); err == nil {
		return unquoted
	}
	return path[1 : len(path)-1]
}

// isExcluded reports whether a path belongs to the pipeline-owned set.
func isExcluded(path string) bool {
	for _, ex := range excluded {
		if path == ex || strings.HasPrefix(path, ex) {
			return true
		}
	}
	return false
}

// HasUncommittedChanges reports whether any non-excluded path changed.
func (g *Gate) HasUncommittedChanges() (bool, error) {
	paths, err := g.Status()
	if err != nil {
		return false, err
	}
	for _, p := range paths {
		if !isExcluded(p) {
			return true, nil
		}
	}
	return false, nil
}

// CommitManualChanges stages and commits the non-excluded changed paths,
// returning the committed list. The commit message marks the commit as a
// user edit so it survives rollback attribution.
func (g *Gate) CommitManualChanges() ([]string, error) {
	paths, err := g.Status()
	if err != nil {
		return nil, err
	}

	var manual []string
	for _, p := range paths {
		if !isExcluded(p) {
			manual = append(manual, p)
		}
	}
	if len(manual) == 0 {
		return nil, nil
	}

	for _, p := range manual {
		if _, err := g.git.Run(g.root, "add", p); err != nil {
			return nil, fmt.Errorf("git add %s: %w", p, err)
		}
	}

	msg := "[USER_MANUAL_CHANGE] Detected changes in: " + strings.Join(manual, ", ")
	if _, err := g.git.Run(g.root, "commit", "-m", msg); err != nil {
		return nil, fmt.Errorf("commit manual changes: %w", err)
	}
	g.logger.Info("committed manual changes", "paths", manual)
	return manual, nil
}

// AddAndCommit stages all changes and commits with the given message.
func (g *Gate) AddAndCommit(message string) error {
	if _, err := g.git.Run(g.root, "add", "-A"); err != nil {
		return fmt.Errorf("git add: %w", err)
	}
	if _, err := g.git.Run(g.root, "commit", "-m", message); err != nil {
		return fmt.Errorf("git commit: %w", err)
	}
	return nil
}

// RollbackToLastCommit hard-resets to HEAD and cleans untracked files.
// Failures are logged and swallowed so a broken rollback never masks the
// error that triggered it.
func (g *Gate) RollbackToLastCommit() {
	if _, err := g.git.Run(g.root, "reset", "--hard", "HEAD"); err != nil {
		g.logger.Error("rollback reset failed", "error", err)
		return
	}
	if _, err := g.git.Run(g.root, "clean", "-fd"); err != nil {
		g.logger.Error("rollback clean failed", "error", err)
	}
}
