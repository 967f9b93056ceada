package syntax

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// scriptedRunner fails commands that mention paths in failFiles.
type scriptedRunner struct {
	failFiles map[string]string // file → stderr
	execErr   error
	commands  []string
}

func (r *scriptedRunner) Run(ctx context.Context, dir, command string) (string, string, int, error) {
	r.commands = append(r.commands, command)
	if r.execErr != nil {
		return "", "", -1, r.execErr
	}
	for file, stderr := range r.failFiles {
		if strings.Contains(command, file) {
			return "", stderr, 1, nil
		}
	}
	return "", "", 0, nil
}

func writeFiles(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestValidatePassesCleanTree(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.js", "src/b.js", "notes.txt")

	runner := &scriptedRunner{}
	gate := NewGate(runner, "")
	res := gate.Validate(context.Background(), root)
	if !res.Valid {
		t.Fatalf("result = %+v, want valid", res)
	}
	// Only .js files are checked.
	if len(runner.commands) != 2 {
		t.Errorf("commands = %v, want 2 js checks", runner.commands)
	}
	for _, cmd := range runner.commands {
		if !strings.HasPrefix(cmd, "node --check ") {
			t.Errorf("command %q missing default checker", cmd)
		}
	}
}

func TestValidateStopsAtFirstFailure(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.js", "b.js")

	runner := &scriptedRunner{failFiles: map[string]string{"a.js": "SyntaxError: unexpected token"}}
	gate := NewGate(runner, "")
	res := gate.Validate(context.Background(), root)
	if res.Valid {
		t.Fatal("expected failure")
	}
	if res.File != "a.js" {
		t.Errorf("file = %q, want a.js", res.File)
	}
	if res.Error != "SyntaxError: unexpected token" {
		t.Errorf("error = %q", res.Error)
	}
}

func TestValidateSkipsNodeModules(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.js", "node_modules/dep/index.js", ".git/hooks/x.js")

	runner := &scriptedRunner{}
	gate := NewGate(runner, "")
	gate.Validate(context.Background(), root)
	for _, cmd := range runner.commands {
		if strings.Contains(cmd, "node_modules") || strings.Contains(cmd, ".git") {
			t.Errorf("checked excluded path: %q", cmd)
		}
	}
}

func TestValidateFailsOpenWhenCheckerUnavailable(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.js")

	runner := &scriptedRunner{execErr: fmt.Errorf("sh: node: not found")}
	gate := NewGate(runner, "")
	res := gate.Validate(context.Background(), root)
	if !res.Valid {
		t.Errorf("result = %+v, want fail-open", res)
	}
}

func TestCustomCheckerCommand(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "a.js")

	runner := &scriptedRunner{}
	gate := NewGate(runner, "deno check")
	gate.Validate(context.Background(), root)
	if len(runner.commands) != 1 || !strings.HasPrefix(runner.commands[0], "deno check ") {
		t.Errorf("commands = %v", runner.commands)
	}
}
