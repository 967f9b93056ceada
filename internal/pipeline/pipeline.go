// Package pipeline drives the per-project iteration loop: pick the next
// pending story, ask the developer model to implement it, gate the output,
// optionally ask a reviewer model and a human, then commit — with retry,
// backoff, skip, and rollback when the model lets us down.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ralphlabs/ralphd/internal/llm"
	"github.com/ralphlabs/ralphd/internal/plan"
	"github.com/ralphlabs/ralphd/internal/store"
	"github.com/ralphlabs/ralphd/internal/syntax"
)

// Invoker is the LLM capability the pipeline depends on.
type Invoker interface {
	Invoke(ctx context.Context, role llm.Role, prompt, workdir string) (*llm.Result, error)
}

// VCS is the version-control capability over the project root.
type VCS interface {
	Init() error
	HasUncommittedChanges() (bool, error)
	CommitManualChanges() ([]string, error)
	AddAndCommit(message string) error
	RollbackToLastCommit()
}

// Approver asks the human reviewer for a verdict.
type Approver interface {
	Ask(ctx context.Context, stage, task string) (bool, error)
}

// EventSink receives best-effort pipeline event records (the Postgres
// mirror). Implementations must not block.
type EventSink interface {
	LogPipelineEvent(project, event, stage string, iteration int, detail string)
}

// Broadcast delivers one observer envelope. Payload fields are merged with
// a timestamp by the broadcaster.
type Broadcast func(eventType string, payload map[string]interface{})

// Params is the settings snapshot a pipeline runs with. Taken once at
// start; later settings changes apply to the next run.
type Params struct {
	MaxIterations     int
	MaxRetriesPerTask int
	BaseSleep         time.Duration
	BackoffMultiplier float64
	UseReviewerAgent  bool
	UseHumanReview    bool
	ChatEnabled       bool
}

// ParamsFromSettings builds a snapshot from stored settings and the
// project's own review flag.
func ParamsFromSettings(s store.Settings, projectHumanReview bool) Params {
	return Params{
		MaxIterations:     s.MaxIterations,
		MaxRetriesPerTask: s.MaxRetriesPerTask,
		BaseSleep:         time.Duration(s.BaseSleepTime) * time.Millisecond,
		BackoffMultiplier: s.BackoffMultiplier,
		UseReviewerAgent:  s.UseReviewerAgent,
		UseHumanReview:    projectHumanReview || s.Chat.UseHumanReview,
		ChatEnabled:       s.Chat.Enabled,
	}
}

// Pipeline is the per-project state machine. Within one project the loop
// is strictly sequential; Stop is observed at iteration boundaries and
// between major steps.
type Pipeline struct {
	projectID string
	root      string

	store     *store.Store
	vcs       VCS
	llm       Invoker
	gate      syntax.Validator
	approver  Approver
	events    EventSink
	broadcast Broadcast
	logger    *slog.Logger
	params    Params

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc

	// Per-run mutable state, touched only by the run goroutine.
	iteration       int
	retryCount      int
	lastError       string
	manualChangeLog string
	lastLogStamp    string
	logSeq          int
}

// Config wires a Pipeline's collaborators.
type Config struct {
	ProjectID string
	Root      string
	Store     *store.Store
	VCS       VCS
	LLM       Invoker
	Gate      syntax.Validator
	Approver  Approver
	Events    EventSink
	Broadcast Broadcast
	Logger    *slog.Logger
	Params    Params
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	broadcast := cfg.Broadcast
	if broadcast == nil {
		broadcast = func(string, map[string]interface{}) {}
	}
	return &Pipeline{
		projectID: cfg.ProjectID,
		root:      cfg.Root,
		store:     cfg.Store,
		vcs:       cfg.VCS,
		llm:       cfg.LLM,
		gate:      cfg.Gate,
		approver:  cfg.Approver,
		events:    cfg.Events,
		broadcast: broadcast,
		logger:    logger.With("project", cfg.ProjectID),
		params:    cfg.Params,
	}
}

// IsRunning reports whether the loop is active.
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isRunning
}

// Start launches the loop in its own goroutine. Starting an already
// running pipeline is an error.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return fmt.Errorf("pipeline %q is already running", p.projectID)
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.isRunning = true
	p.cancel = cancel
	p.mu.Unlock()

	if err := p.store.UpdateProject(p.projectID, func(proj *store.Project) {
		proj.Status = store.StatusRunning
	}); err != nil {
		p.finish()
		return err
	}
	p.emit("status", map[string]interface{}{"status": store.StatusRunning, "message": "Pipeline started"})

	go p.run(ctx)
	return nil
}

// Stop requests cessation. The loop observes the flag at the next
// checkpoint; in-flight LLM calls are cancelled through the context.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isRunning {
		return
	}
	p.isRunning = false
	if p.cancel != nil {
		p.cancel()
	}
}

// stopped reports whether a stop was requested.
func (p *Pipeline) stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.isRunning
}

func (p *Pipeline) finish() {
	p.mu.Lock()
	p.isRunning = false
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}

// run is the iteration loop. A fatal error in any step transitions the
// project to error; a stop request transitions it to paused.
func (p *Pipeline) run(ctx context.Context) {
	defer p.finish()

	if proj, err := p.store.Project(p.projectID); err == nil {
		p.iteration = proj.Iteration
	}

	for {
		if p.stopped() {
			p.pause()
			return
		}
		if p.iteration >= p.params.MaxIterations {
			p.logger.Info("iteration budget exhausted", "iterations", p.iteration)
			p.pause()
			return
		}

		outcome, err := p.iterate(ctx)
		if err != nil {
			if ctx.Err() != nil {
				p.pause()
				return
			}
			p.fatal(err)
			return
		}
		if outcome == outcomeDone {
			// A stop honoured mid-iteration also ends up here; pause is a
			// no-op when the project already reached a terminal status.
			if p.stopped() {
				p.pause()
			}
			return
		}

		// Unconditional inter-iteration pause bounds throughput.
		if !p.sleep(ctx, p.params.BaseSleep) {
			p.pause()
			return
		}
	}
}

// pause transitions the project to paused (resumable). Projects already in
// a terminal status are left alone.
func (p *Pipeline) pause() {
	paused := false
	_ = p.store.UpdateProject(p.projectID, func(proj *store.Project) {
		if proj.Status == store.StatusRunning {
			proj.Status = store.StatusPaused
			paused = true
		}
	})
	if !paused {
		return
	}
	p.emit("status", map[string]interface{}{"status": store.StatusPaused, "message": "Pipeline paused"})
	p.logEvent("paused", "", "")
}

// fatal transitions the project to error after an unrecoverable exception.
func (p *Pipeline) fatal(err error) {
	p.logger.Error("pipeline failed", "error", err)
	_ = p.store.UpdateProject(p.projectID, func(proj *store.Project) {
		proj.Status = store.StatusError
	})
	p.emit("error", map[string]interface{}{
		"status":  store.StatusError,
		"message": fmt.Sprintf("Pipeline error: %v", err),
	})
	p.logEvent("error", "", err.Error())
}

// complete marks the project finished.
func (p *Pipeline) complete() {
	_ = p.store.UpdateProject(p.projectID, func(proj *store.Project) {
		proj.Status = store.StatusCompleted
	})
	p.emit("status", map[string]interface{}{"status": store.StatusCompleted, "message": "All stages complete"})
	p.logEvent("completed", "", "")
}

// backoffDelay returns the wait before retry n (1-based):
// base × multiplier^(n-1).
func (p *Pipeline) backoffDelay(retry int) time.Duration {
	factor := math.Pow(p.params.BackoffMultiplier, float64(retry-1))
	return time.Duration(float64(p.params.BaseSleep) * factor)
}

// sleep waits for d, honouring cancellation. Returns false when cancelled.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !p.stopped()
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return !p.stopped()
	}
}

// emit broadcasts an observer envelope with the current iteration merged in.
func (p *Pipeline) emit(eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	if _, ok := payload["iteration"]; !ok {
		payload["iteration"] = p.iteration
	}
	p.broadcast(eventType, payload)
}

// logEvent mirrors a transition to the event sink, when configured.
func (p *Pipeline) logEvent(event, stage, detail string) {
	if p.events != nil {
		p.events.LogPipelineEvent(p.projectID, event, stage, p.iteration, detail)
	}
}

// persistPlan writes the plan to disk and to the store. After every
// iteration boundary the two copies are identical.
func (p *Pipeline) persistPlan(pl *plan.Plan) error {
	if err := plan.SaveFile(p.root, pl); err != nil {
		return fmt.Errorf("persist plan to disk: %w", err)
	}
	if err := p.store.UpdatePlan(p.projectID, *pl); err != nil {
		return fmt.Errorf("persist plan to store: %w", err)
	}
	return nil
}
