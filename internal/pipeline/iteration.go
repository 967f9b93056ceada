package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/ralphlabs/ralphd/internal/llm"
	"github.com/ralphlabs/ralphd/internal/plan"
	"github.com/ralphlabs/ralphd/internal/store"
)

type outcome int

const (
	outcomeContinue outcome = iota
	outcomeDone
)

// splitThreshold is the description length above which a story is split
// into subtasks before execution.
const splitThreshold = 300

// iterate performs one pass of the state machine: pick_task through
// commit-or-retry. It returns outcomeDone when the loop must stop (plan
// complete, critical failure, or stop request honoured mid-iteration).
func (p *Pipeline) iterate(ctx context.Context) (outcome, error) {
	// The plan on disk is the source of truth for an active run; external
	// plan replacements are picked up here.
	pl, err := plan.LoadFile(p.root)
	if err != nil {
		return outcomeDone, fmt.Errorf("load plan: %w", err)
	}

	// Fold completion flags forward before picking.
	for i := range pl.Stages {
		plan.MarkStageCompleteIfDone(&pl.Stages[i])
	}

	stage, _ := plan.ActiveStage(pl)
	if stage == nil {
		if err := p.persistPlan(pl); err != nil {
			return outcomeDone, err
		}
		p.complete()
		return outcomeDone, nil
	}

	story, storyIdx := plan.ActiveStory(stage)
	if story == nil {
		// All stories terminated; record the stage as complete and go
		// around without consuming an iteration slot.
		plan.MarkStageCompleteIfDone(stage)
		if err := p.persistPlan(pl); err != nil {
			return outcomeDone, err
		}
		p.logEvent("stage_complete", stage.Name, "")
		return outcomeContinue, nil
	}

	// Oversized stories are split into subtasks first. Split failure is
	// not fatal: the original story runs as-is.
	if len(story.Description) > splitThreshold && !story.IsSubtasked {
		if ok := p.splitStory(ctx, pl, stage, storyIdx); ok {
			return outcomeContinue, nil
		}
	}

	p.iteration++
	if err := p.store.UpdateProject(p.projectID, func(proj *store.Project) {
		proj.Iteration = p.iteration
	}); err != nil {
		return outcomeDone, err
	}
	p.emit("iteration", map[string]interface{}{
		"currentTask": story.Title,
		"message":     fmt.Sprintf("Iteration %d: %s", p.iteration, story.Title),
	})
	p.logEvent("iteration_start", stage.Name, story.Title)

	if p.stopped() {
		return outcomeDone, ctx.Err()
	}

	ictx, err := p.prepareContext(ctx)
	if err != nil {
		return outcomeDone, fmt.Errorf("prepare context: %w", err)
	}

	devPrompt := p.developerPrompt(stage, story, ictx)
	devResult, err := p.llm.Invoke(ctx, llm.RoleDeveloper, devPrompt, p.root)
	if err != nil {
		// LLM transport errors are treated as a failed attempt, not a
		// fatal exception.
		if ctx.Err() != nil {
			return outcomeDone, ctx.Err()
		}
		return p.failure(ctx, pl, stage, story, fmt.Sprintf("LLM error: %v", err))
	}
	p.recordRun(llm.RoleDeveloper, devPrompt, devResult)

	if p.stopped() {
		return outcomeDone, nil
	}

	// Syntax gate, with a single self-healing pass. The self-heal is in
	// addition to the retry budget, never a replacement for it.
	if gateResult := p.gate.Validate(ctx, p.root); !gateResult.Valid {
		p.logger.Warn("syntax gate failed", "file", gateResult.File, "error", gateResult.Error)
		p.logEvent("syntax_fail", stage.Name, gateResult.File)
		healPrompt := devPrompt + selfHealBlock(gateResult.File, gateResult.Error)
		healed, err := p.llm.Invoke(ctx, llm.RoleDeveloper, healPrompt, p.root)
		if err == nil {
			p.recordRun(llm.RoleDeveloper, healPrompt, healed)
			devResult = healed
		}
	}

	isValid, feedback := p.review(ctx, stage, story, devResult)

	if isValid && p.params.ChatEnabled && p.params.UseHumanReview {
		approved, err := p.approver.Ask(ctx, stage.Name, story.Title)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return outcomeDone, ctx.Err()
			}
			// A failed delivery is not a verdict; retry without blaming
			// the human.
			isValid = false
			feedback = fmt.Sprintf("Human approval request failed: %v", err)
		case !approved:
			isValid = false
			feedback = "USER REJECTED via Telegram Mobile."
		}
	}

	if isValid {
		return p.success(pl, stage, story)
	}
	return p.failure(ctx, pl, stage, story, feedback)
}

// review runs the reviewer model when enabled, otherwise falls back to the
// developer's promise token.
func (p *Pipeline) review(ctx context.Context, stage *plan.Stage, story *plan.Story, devResult *llm.Result) (bool, string) {
	if !p.params.UseReviewerAgent {
		if strings.Contains(devResult.Content, llm.TokenPromiseMet) {
			return true, ""
		}
		return false, "Developer output did not contain the " + llm.TokenPromiseMet + " completion token."
	}

	revPrompt := p.reviewerPrompt(stage, story, devResult.Content)
	revResult, err := p.llm.Invoke(ctx, llm.RoleReviewer, revPrompt, p.root)
	if err != nil {
		return false, fmt.Sprintf("Reviewer LLM error: %v", err)
	}
	p.recordRun(llm.RoleReviewer, revPrompt, revResult)

	if strings.Contains(revResult.Content, llm.TokenReviewPassed) {
		return true, ""
	}
	return false, revResult.Content
}

// success marks the story passed, persists, commits, and resets retry
// state.
func (p *Pipeline) success(pl *plan.Plan, stage *plan.Stage, story *plan.Story) (outcome, error) {
	if err := plan.MarkStoryPassed(story); err != nil {
		return outcomeDone, err
	}
	plan.MarkStageCompleteIfDone(stage)
	p.retryCount = 0
	p.lastError = ""

	// The plan file goes to disk before the commit so prd.json rides along
	// with the story's files; the store copy follows the commit.
	if err := plan.SaveFile(p.root, pl); err != nil {
		return outcomeDone, fmt.Errorf("persist plan to disk: %w", err)
	}

	msg := fmt.Sprintf("Completed: %s - %s", stage.Name, story.Title)
	if err := p.vcs.AddAndCommit(msg); err != nil {
		p.logger.Error("commit failed", "error", err)
	}

	if err := p.store.UpdatePlan(p.projectID, *pl); err != nil {
		return outcomeDone, fmt.Errorf("persist plan to store: %w", err)
	}

	p.emit("task_complete", map[string]interface{}{
		"currentTask": story.Title,
		"message":     msg,
	})
	p.logEvent("task_complete", stage.Name, story.Title)
	return outcomeContinue, nil
}

// failure applies the retry/skip/rollback policy for one failed attempt.
func (p *Pipeline) failure(ctx context.Context, pl *plan.Plan, stage *plan.Stage, story *plan.Story, feedback string) (outcome, error) {
	p.retryCount++
	p.lastError = feedback
	p.logger.Warn("task attempt failed", "task", story.Title, "retry", p.retryCount, "feedback", truncateStr(feedback, 200))

	if len(feedback) > 20 {
		_ = p.store.SaveLesson(store.Lesson{
			Project: p.projectID,
			Stage:   stage.Name,
			Task:    story.Title,
			Error:   feedback,
		})
	}

	if p.retryCount >= p.params.MaxRetriesPerTask {
		if story.Priority != plan.PriorityCritical {
			if err := plan.MarkStorySkipped(story, feedback); err != nil {
				return outcomeDone, err
			}
			plan.MarkStageCompleteIfDone(stage)
			p.retryCount = 0
			if err := p.persistPlan(pl); err != nil {
				return outcomeDone, err
			}
			p.emit("task_skipped", map[string]interface{}{
				"currentTask": story.Title,
				"message":     fmt.Sprintf("Skipped after %d retries: %s", p.params.MaxRetriesPerTask, story.Title),
			})
			p.logEvent("task_skipped", stage.Name, story.Title)
			return outcomeContinue, nil
		}

		// Critical story out of retries: undo the workspace and halt.
		p.vcs.RollbackToLastCommit()
		_ = p.store.UpdateProject(p.projectID, func(proj *store.Project) {
			proj.Status = store.StatusError
		})
		p.emit("error", map[string]interface{}{
			"status":      store.StatusError,
			"currentTask": story.Title,
			"message":     fmt.Sprintf("Critical task failed after %d retries: %s", p.params.MaxRetriesPerTask, story.Title),
		})
		p.logEvent("critical_failure", stage.Name, story.Title)
		return outcomeDone, nil
	}

	p.emit("task_retry", map[string]interface{}{
		"currentTask": story.Title,
		"message":     fmt.Sprintf("Retry %d/%d: %s", p.retryCount, p.params.MaxRetriesPerTask, story.Title),
	})
	if !p.sleep(ctx, p.backoffDelay(p.retryCount)) {
		return outcomeDone, nil
	}
	return outcomeContinue, nil
}

// splitStory asks the model to break an oversized story into 3–5
// sequential subtasks and replaces it in place. Returns false when the
// split failed and the original story should run.
func (p *Pipeline) splitStory(ctx context.Context, pl *plan.Plan, stage *plan.Stage, idx int) bool {
	story := &stage.Stories[idx]
	title := story.Title
	prompt := subtaskPrompt(stage, story)

	result, err := p.llm.Invoke(ctx, llm.RoleJSON, prompt, "")
	if err != nil {
		p.logger.Warn("subtask split failed", "task", title, "error", err)
		return false
	}
	p.recordRun(llm.RoleJSON, prompt, result)

	var subtasks []plan.Story
	if err := llm.ExtractJSON(result.Content, &subtasks); err != nil {
		p.logger.Warn("subtask split unparseable", "task", title, "error", err)
		return false
	}
	if len(subtasks) < 2 {
		return false
	}

	if err := plan.ReplaceStory(stage, idx, subtasks); err != nil {
		p.logger.Warn("subtask replace failed", "error", err)
		return false
	}
	if err := p.persistPlan(pl); err != nil {
		p.logger.Error("persist after split failed", "error", err)
		return false
	}
	p.emit("task_split", map[string]interface{}{
		"message": fmt.Sprintf("Split %q into %d subtasks", title, len(subtasks)),
	})
	p.logEvent("task_split", stage.Name, fmt.Sprintf("%d subtasks", len(subtasks)))
	return true
}

func truncateStr(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
