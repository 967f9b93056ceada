package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ralphlabs/ralphd/internal/approval"
	"github.com/ralphlabs/ralphd/internal/llm"
	"github.com/ralphlabs/ralphd/internal/pipeline"
	"github.com/ralphlabs/ralphd/internal/plan"
	"github.com/ralphlabs/ralphd/internal/store"
	"github.com/ralphlabs/ralphd/internal/syntax"
	"github.com/ralphlabs/ralphd/internal/vcs"
)

// Registry is the process-wide projectId → Pipeline map. Each project gets
// at most one Pipeline instance for the life of the process.
type Registry struct {
	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline

	store       *store.Store
	llm         pipeline.Invoker
	events      pipeline.EventSink
	broadcaster *Broadcaster
	oracle      *approval.Oracle
	logger      *slog.Logger
}

// RegistryConfig wires the Registry's collaborators.
type RegistryConfig struct {
	Store       *store.Store
	LLM         pipeline.Invoker
	Events      pipeline.EventSink
	Broadcaster *Broadcaster
	Oracle      *approval.Oracle
	Logger      *slog.Logger
}

// NewRegistry creates a Registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	oracle := cfg.Oracle
	if oracle == nil {
		oracle = approval.NewOracle(nil)
	}
	return &Registry{
		pipelines:   make(map[string]*pipeline.Pipeline),
		store:       cfg.Store,
		llm:         cfg.LLM,
		events:      cfg.Events,
		broadcaster: cfg.Broadcaster,
		oracle:      oracle,
		logger:      logger,
	}
}

// Projects lists all known projects.
func (r *Registry) Projects() []store.Project {
	return r.store.Projects()
}

// Oracle exposes the shared approval rendezvous for the chat bridge.
func (r *Registry) Oracle() *approval.Oracle {
	return r.oracle
}

// GetOrCreate returns the singleton Pipeline for a project, building one on
// first use with a settings snapshot taken now.
func (r *Registry) GetOrCreate(proj *store.Project) *pipeline.Pipeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pipelines[proj.ID]; ok {
		return p
	}

	settings := r.store.Settings()
	projectID := proj.ID
	p := pipeline.New(pipeline.Config{
		ProjectID: proj.ID,
		Root:      proj.RootPath,
		Store:     r.store,
		VCS:       vcs.NewGate(&vcs.ExecGit{}, proj.RootPath, r.logger),
		LLM:       r.llm,
		Gate:      syntax.NewGate(&syntax.ExecRunner{}, gateCommand()),
		Approver:  r.oracle,
		Events:    r.events,
		Broadcast: func(eventType string, payload map[string]interface{}) {
			r.broadcaster.Broadcast(eventType, projectID, payload)
		},
		Logger: r.logger,
		Params: pipeline.ParamsFromSettings(settings, proj.UseHumanReview),
	})
	r.pipelines[proj.ID] = p
	return p
}

// Start launches the pipeline for a project id.
func (r *Registry) Start(id string) error {
	proj, err := r.store.Project(id)
	if err != nil {
		return err
	}
	return r.GetOrCreate(proj).Start()
}

// Stop requests cessation of a project's pipeline, if one exists, and
// resolves any pending approval to reject so the loop can observe the stop.
func (r *Registry) Stop(id string) {
	r.mu.Lock()
	p, ok := r.pipelines[id]
	r.mu.Unlock()
	if !ok {
		return
	}
	p.Stop()
	r.oracle.Resolve(false)
}

// ResumeOnStart restarts pipelines for every project the store says was
// running when the process last exited.
func (r *Registry) ResumeOnStart() {
	for _, proj := range r.store.Projects() {
		if proj.Status != store.StatusRunning {
			continue
		}
		p := proj
		r.logger.Info("resuming project", "project", p.ID)
		if err := r.GetOrCreate(&p).Start(); err != nil {
			r.logger.Error("resume failed", "project", p.ID, "error", err)
		}
	}
}

// CreateProject records a new project. An empty path defaults to
// <cwd>/Projects/<name>; a nil plan defaults to an empty one.
func (r *Registry) CreateProject(name, path string, pl *plan.Plan) (*store.Project, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if _, err := r.store.Project(name); err == nil {
		return nil, fmt.Errorf("project %q already exists", name)
	}
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(cwd, "Projects", name)
	}
	if pl == nil {
		pl = &plan.Plan{}
	}

	now := time.Now().Format(time.RFC3339)
	proj := store.Project{
		ID:        name,
		RootPath:  path,
		Plan:      *pl,
		Status:    store.StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.SaveProject(proj); err != nil {
		return nil, err
	}
	return &proj, nil
}

// InitProject materialises the workspace scaffold and the initial commit.
func (r *Registry) InitProject(id string) error {
	proj, err := r.store.Project(id)
	if err != nil {
		return err
	}
	if err := scaffoldWorkspace(proj.RootPath, &proj.Plan); err != nil {
		return fmt.Errorf("scaffold workspace: %w", err)
	}
	gate := vcs.NewGate(&vcs.ExecGit{}, proj.RootPath, r.logger)
	if err := gate.Init(); err != nil {
		return fmt.Errorf("init repository: %w", err)
	}
	return r.store.UpdateProject(id, func(p *store.Project) {
		if p.Status == store.StatusCreated {
			p.Status = store.StatusInitialized
		}
	})
}

// GeneratePlan asks the planner model for a staged plan from a free-form
// prompt.
func (r *Registry) GeneratePlan(ctx context.Context, prompt string) (*plan.Plan, error) {
	result, err := r.llm.Invoke(ctx, llm.RolePRD, prompt, "")
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}
	var pl plan.Plan
	if err := llm.ExtractJSON(result.Content, &pl); err != nil {
		return nil, fmt.Errorf("plan generation returned no parseable JSON: %w", err)
	}
	if err := plan.Validate(&pl); err != nil {
		return nil, fmt.Errorf("generated plan invalid: %w", err)
	}
	return &pl, nil
}

// SetPlan replaces a project's plan in the store and on disk.
func (r *Registry) SetPlan(id string, pl *plan.Plan) error {
	proj, err := r.store.Project(id)
	if err != nil {
		return err
	}
	if err := plan.SaveFile(proj.RootPath, pl); err != nil {
		return err
	}
	return r.store.UpdatePlan(id, *pl)
}

// CreateNewProject is the chat bridge's one-shot path: create, generate a
// plan from the prompt, initialise, and start.
func (r *Registry) CreateNewProject(ctx context.Context, name, prompt string) (*store.Project, error) {
	pl, err := r.GeneratePlan(ctx, prompt)
	if err != nil {
		return nil, err
	}
	proj, err := r.CreateProject(name, "", pl)
	if err != nil {
		return nil, err
	}
	if err := r.InitProject(proj.ID); err != nil {
		return nil, err
	}
	if err := r.Start(proj.ID); err != nil {
		return nil, err
	}
	return r.store.Project(proj.ID)
}

// validateName checks a project name. Names double as store ids and as
// workspace directory names, so path separators are rejected.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("project name is required")
	}
	if len(name) > 64 {
		return fmt.Errorf("project name exceeds 64 characters")
	}
	if strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("project name must not contain path separators")
	}
	return nil
}

// gateCommand returns the per-file syntax check command, overridable via
// CODEX_COMMAND.
func gateCommand() string {
	if cmd := os.Getenv("CODEX_COMMAND"); cmd != "" {
		return cmd
	}
	return "node --check"
}
