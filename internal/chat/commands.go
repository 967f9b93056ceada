package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/ralphlabs/ralphd/internal/plan"
	"github.com/ralphlabs/ralphd/internal/store"
)

// ProjectRegistry is the orchestrator surface the bridge drives.
type ProjectRegistry interface {
	Projects() []store.Project
	CreateNewProject(ctx context.Context, name, prompt string) (*store.Project, error)
}

const helpText = `*Commands*
/new [name] — create a project (then send the goal prompt)
/status — overall status
/current — what each running project is doing
/projects — list projects
/help — this message`

func (b *Bridge) handleMessage(ctx context.Context, text string) {
	text = strings.TrimSpace(text)

	// The creation dialogue consumes non-command messages.
	b.mu.Lock()
	state := b.dialog
	b.mu.Unlock()
	if !strings.HasPrefix(text, "/") && state != dialogIdle {
		b.continueDialog(ctx, text)
		return
	}

	cmd, arg := text, ""
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmd, arg = text[:i], strings.TrimSpace(text[i+1:])
	}

	switch cmd {
	case "/new":
		b.startDialog(arg)
	case "/status":
		b.SendMessage(b.statusText())
	case "/current":
		b.SendMessage(b.currentText())
	case "/projects":
		b.SendMessage(b.projectsText())
	case "/help":
		b.SendMessage(helpText)
	default:
		b.SendMessage("Unknown command. " + helpText)
	}
}

func (b *Bridge) startDialog(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if name != "" {
		b.name = name
		b.dialog = dialogAwaitingPrompt
		b.SendMessage(fmt.Sprintf("Creating *%s*. Now send the goal prompt.", name))
		return
	}
	b.dialog = dialogAwaitingName
	b.SendMessage("What should the project be called?")
}

func (b *Bridge) continueDialog(ctx context.Context, text string) {
	b.mu.Lock()
	state := b.dialog
	b.mu.Unlock()

	switch state {
	case dialogAwaitingName:
		b.mu.Lock()
		b.name = text
		b.dialog = dialogAwaitingPrompt
		b.mu.Unlock()
		b.SendMessage(fmt.Sprintf("Creating *%s*. Now send the goal prompt.", text))

	case dialogAwaitingPrompt:
		b.mu.Lock()
		name := b.name
		b.dialog = dialogIdle
		b.name = ""
		b.mu.Unlock()

		b.SendMessage(fmt.Sprintf("Generating plan for *%s*…", name))
		proj, err := b.registry.CreateNewProject(ctx, name, text)
		if err != nil {
			b.SendMessage(fmt.Sprintf("Failed to create *%s*: %v", name, err))
			return
		}
		done, total := plan.Progress(&proj.Plan)
		b.SendMessage(fmt.Sprintf("🚀 *%s* started: %d stages, %d/%d stories done.",
			proj.ID, len(proj.Plan.Stages), done, total))
	}
}

func (b *Bridge) statusText() string {
	projects := b.registry.Projects()
	if len(projects) == 0 {
		return "No projects yet. Use /new to create one."
	}
	var sb strings.Builder
	sb.WriteString("*Status*\n")
	for _, p := range projects {
		done, total := plan.Progress(&p.Plan)
		fmt.Fprintf(&sb, "• %s — %s (%d/%d stories, iteration %d)\n",
			p.ID, p.Status, done, total, p.Iteration)
	}
	return sb.String()
}

func (b *Bridge) currentText() string {
	var sb strings.Builder
	running := 0
	for _, p := range b.registry.Projects() {
		if p.Status != store.StatusRunning {
			continue
		}
		running++
		stage, _ := plan.ActiveStage(&p.Plan)
		if stage == nil {
			fmt.Fprintf(&sb, "• %s — finishing up\n", p.ID)
			continue
		}
		story, _ := plan.ActiveStory(stage)
		if story == nil {
			fmt.Fprintf(&sb, "• %s — closing stage %s\n", p.ID, stage.Name)
			continue
		}
		fmt.Fprintf(&sb, "• %s — [%s] %s\n", p.ID, stage.Name, story.Title)
	}
	if running == 0 {
		return "Nothing is running."
	}
	return "*Currently working on*\n" + sb.String()
}

func (b *Bridge) projectsText() string {
	projects := b.registry.Projects()
	if len(projects) == 0 {
		return "No projects yet."
	}
	var sb strings.Builder
	sb.WriteString("*Projects*\n")
	for _, p := range projects {
		fmt.Fprintf(&sb, "• %s (%s) — %s\n", p.ID, p.Status, p.RootPath)
	}
	return sb.String()
}
