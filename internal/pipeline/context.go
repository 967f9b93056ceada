package pipeline

import (
	"context"
	"io/fs"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ralphlabs/ralphd/internal/store"
	"github.com/ralphlabs/ralphd/internal/workspace"
)

const (
	agentLogTail    = 3000
	maxContextFiles = 15
	maxFileChars    = 5000
	lessonWindow    = 3
)

// iterationContext is everything gathered ahead of a developer run.
type iterationContext struct {
	AgentLog     string
	Progress     string
	Tree         string
	CodeExcerpts []codeExcerpt
	Lessons      []store.Lesson
	ManualNote   string
	Strategy     string
}

type codeExcerpt struct {
	Path    string
	Content string
}

// prepareContext reconciles manual edits and assembles the workspace
// snapshot the developer prompt is built from.
func (p *Pipeline) prepareContext(ctx context.Context) (*iterationContext, error) {
	dirty, err := p.vcs.HasUncommittedChanges()
	if err != nil {
		return nil, err
	}
	if dirty {
		changed, err := p.vcs.CommitManualChanges()
		if err != nil {
			p.logger.Warn("manual change commit failed", "error", err)
		}
		p.manualChangeLog = strings.Join(changed, ", ")
		if p.manualChangeLog != "" {
			p.logger.Info("manual changes reconciled", "paths", p.manualChangeLog)
			p.logEvent("manual_change", "", p.manualChangeLog)
		}
		for _, path := range changed {
			if filepath.Base(path) == "package.json" {
				p.installDependencies()
				break
			}
		}
	} else {
		p.manualChangeLog = ""
	}

	agentLog := workspace.ReadString(filepath.Join(p.root, "agents.md"))
	if len(agentLog) > agentLogTail {
		agentLog = "... [Truncated] ...\n" + agentLog[len(agentLog)-agentLogTail:]
	}

	ic := &iterationContext{
		AgentLog:     agentLog,
		Progress:     workspace.ReadString(filepath.Join(p.root, "progress.txt")),
		Tree:         workspace.Tree(p.root),
		CodeExcerpts: p.collectSources(),
		Lessons:      p.recentLessons(),
		ManualNote:   p.manualChangeLog,
		Strategy:     "PATCH",
	}
	if p.retryCount > 2 {
		ic.Strategy = "REWRITE"
	}
	return ic, nil
}

// installDependencies runs npm install detached; the iteration does not
// wait on it.
func (p *Pipeline) installDependencies() {
	p.logger.Info("package.json changed, running npm install")
	cmd := exec.Command("sh", "-c", "npm install")
	cmd.Dir = p.root
	if err := cmd.Start(); err != nil {
		p.logger.Warn("npm install failed to start", "error", err)
		return
	}
	go func() { _ = cmd.Wait() }()
}

var sourceExts = map[string]bool{
	".ts":   true,
	".js":   true,
	".css":  true,
	".html": true,
}

// collectSources gathers up to maxContextFiles source files from src/ or
// the project root, each capped at maxFileChars.
func (p *Pipeline) collectSources() []codeExcerpt {
	var paths []string
	for _, base := range []string{filepath.Join(p.root, "src"), p.root} {
		found, err := listSourceFiles(base, base == p.root)
		if err != nil {
			continue
		}
		paths = found
		if len(paths) > 0 {
			break
		}
	}
	sort.Strings(paths)
	if len(paths) > maxContextFiles {
		paths = paths[:maxContextFiles]
	}

	var excerpts []codeExcerpt
	for _, path := range paths {
		content := workspace.ReadString(path)
		if content == "" {
			continue
		}
		if len(content) > maxFileChars {
			content = content[:maxFileChars]
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			rel = path
		}
		excerpts = append(excerpts, codeExcerpt{Path: rel, Content: content})
	}
	return excerpts
}

// listSourceFiles returns source files under base. When topOnly is set
// only the immediate directory is scanned (the project-root fallback).
func listSourceFiles(base string, topOnly bool) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path == base {
				return nil
			}
			if topOnly || d.Name() == "node_modules" || d.Name() == ".git" || d.Name() == ".ralph" {
				return filepath.SkipDir
			}
			return nil
		}
		name := d.Name()
		if strings.Contains(name, ".test.") {
			return nil
		}
		if sourceExts[filepath.Ext(name)] {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

// recentLessons returns the most recent lessons, newest last.
func (p *Pipeline) recentLessons() []store.Lesson {
	lessons := p.store.Lessons()
	if len(lessons) > lessonWindow {
		lessons = lessons[len(lessons)-lessonWindow:]
	}
	return lessons
}
