// Package store persists all orchestrator state in a single JSON document.
// Every mutation rewrites the document atomically under one writer lock, so
// concurrent pipelines serialise through the store rather than racing on
// the file.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ralphlabs/ralphd/internal/plan"
	"github.com/ralphlabs/ralphd/internal/workspace"
)

// maxLessons caps the process-global lessons FIFO.
const maxLessons = 50

// legacyCodexPath is rewritten to "codex" on load.
const legacyCodexPath = "npx codex-cli"

// Store manages the orchestrator document on disk.
type Store struct {
	path string

	mu  sync.Mutex
	doc document
}

// DefaultPath is the document location relative to the working directory.
const DefaultPath = "data/db.json"

// Open loads (or initialises) the document at path.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the document from disk, applying defaults and migrations. A
// missing file yields a fresh document with default settings.
func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var doc document
	if err := workspace.ReadJSON(s.path, &doc); err != nil {
		if os.IsNotExist(err) {
			s.doc = document{Settings: DefaultSettings()}
			return nil
		}
		return fmt.Errorf("load store: %w", err)
	}

	if doc.Settings == (Settings{}) {
		doc.Settings = DefaultSettings()
	}
	if doc.Settings.CodexPath == legacyCodexPath {
		doc.Settings.CodexPath = "codex"
	}
	if len(doc.Lessons) > maxLessons {
		doc.Lessons = doc.Lessons[len(doc.Lessons)-maxLessons:]
	}
	s.doc = doc
	return nil
}

// persist writes the document atomically. Callers must hold mu.
func (s *Store) persist() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(s.path), err)
	}
	return workspace.WriteJSON(s.path, &s.doc)
}

// Projects returns a copy of all projects.
func (s *Store) Projects() []Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Project, len(s.doc.Projects))
	copy(out, s.doc.Projects)
	return out
}

// Project returns the project with the given id.
func (s *Store) Project(id string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.doc.Projects {
		if s.doc.Projects[i].ID == id {
			p := s.doc.Projects[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("project %q not found", id)
}

// SaveProject inserts or replaces a project by id and bumps UpdatedAt.
func (s *Store) SaveProject(p Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	p.UpdatedAt = now
	for i := range s.doc.Projects {
		if s.doc.Projects[i].ID == p.ID {
			if p.CreatedAt == "" {
				p.CreatedAt = s.doc.Projects[i].CreatedAt
			}
			s.doc.Projects[i] = p
			return s.persist()
		}
	}
	if p.CreatedAt == "" {
		p.CreatedAt = now
	}
	s.doc.Projects = append(s.doc.Projects, p)
	return s.persist()
}

// UpdateProject performs a read-modify-write of one project under the
// writer lock and bumps UpdatedAt.
func (s *Store) UpdateProject(id string, fn func(*Project)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Projects {
		if s.doc.Projects[i].ID == id {
			fn(&s.doc.Projects[i])
			s.doc.Projects[i].UpdatedAt = time.Now().UTC().Format(time.RFC3339)
			return s.persist()
		}
	}
	return fmt.Errorf("project %q not found", id)
}

// UpdatePlan replaces the plan for a project.
func (s *Store) UpdatePlan(id string, p plan.Plan) error {
	return s.UpdateProject(id, func(proj *Project) {
		proj.Plan = p
	})
}

// Settings returns the current settings.
func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Settings
}

// UpdateSettings replaces the full settings object.
func (s *Store) UpdateSettings(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Settings = settings
	return s.persist()
}

// Lessons returns a copy of the lessons FIFO, oldest first.
func (s *Store) Lessons() []Lesson {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Lesson, len(s.doc.Lessons))
	copy(out, s.doc.Lessons)
	return out
}

// SaveLesson appends a lesson, evicting the oldest beyond the FIFO cap.
// Error text is truncated to 500 characters.
func (s *Store) SaveLesson(l Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(l.Error) > 500 {
		l.Error = l.Error[:500]
	}
	if l.Timestamp == "" {
		l.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	s.doc.Lessons = append(s.doc.Lessons, l)
	if len(s.doc.Lessons) > maxLessons {
		s.doc.Lessons = s.doc.Lessons[len(s.doc.Lessons)-maxLessons:]
	}
	return s.persist()
}

// DeleteLesson removes the lesson with the given timestamp.
func (s *Store) DeleteLesson(timestamp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.doc.Lessons {
		if s.doc.Lessons[i].Timestamp == timestamp {
			s.doc.Lessons = append(s.doc.Lessons[:i], s.doc.Lessons[i+1:]...)
			return s.persist()
		}
	}
	return fmt.Errorf("lesson %q not found", timestamp)
}
