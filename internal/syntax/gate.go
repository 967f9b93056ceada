// Package syntax provides a fast, fail-open syntax check over the
// JavaScript files a project emits. The gate's own failures are never an
// error: missing tooling must not stall a pipeline.
package syntax

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"
)

// checkTimeout bounds a single per-file check invocation.
const checkTimeout = 30 * time.Second

// Result is the outcome of a validation pass.
type Result struct {
	Valid bool   `json:"valid"`
	File  string `json:"file,omitempty"`
	Error string `json:"error,omitempty"`
}

// Validator is the pluggable gate capability.
type Validator interface {
	Validate(ctx context.Context, root string) Result
}

// Gate validates every *.js file under a root with an external per-file
// syntax check.
type Gate struct {
	cmd     CommandRunner
	command string // per-file check command; the file path is appended
}

// NewGate creates a Gate. An empty command defaults to "node --check".
func NewGate(cmd CommandRunner, command string) *Gate {
	if command == "" {
		command = "node --check"
	}
	return &Gate{cmd: cmd, command: command}
}

// Validate checks each JavaScript file and stops at the first failure.
// Enumeration failure returns valid: a broken walk is a diagnostic defect,
// not a pipeline error.
func (g *Gate) Validate(ctx context.Context, root string) Result {
	files, err := g.enumerate(root)
	if err != nil {
		return Result{Valid: true}
	}

	for _, file := range files {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		_, stderr, exitCode, err := g.cmd.Run(checkCtx, root, fmt.Sprintf("%s %q", g.command, file))
		cancel()
		if err != nil {
			// Checker itself unavailable: fail open.
			return Result{Valid: true}
		}
		if exitCode != 0 {
			return Result{
				Valid: false,
				File:  file,
				Error: strings.TrimSpace(stderr),
			}
		}
	}
	return Result{Valid: true}
}

// enumerate lists *.js files under root, skipping node_modules.
func (g *Gate) enumerate(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == "node_modules" || d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(d.Name(), ".js") {
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
