package pipeline

import (
	"fmt"
	"strings"

	"github.com/ralphlabs/ralphd/internal/plan"
	"github.com/ralphlabs/ralphd/internal/workspace"
)

const reviewerTreeTail = 1000

// developerPrompt assembles the prompt for one implementation attempt.
func (p *Pipeline) developerPrompt(stage *plan.Stage, story *plan.Story, ic *iterationContext) string {
	var b strings.Builder

	fmt.Fprintf(&b, "MISSION: %s\n\n", stage.Mission)
	fmt.Fprintf(&b, "CURRENT TASK: %s\n", story.Title)
	fmt.Fprintf(&b, "DESCRIPTION: %s\n", story.Description)
	fmt.Fprintf(&b, "PRIORITY: %s\n", story.Priority)
	fmt.Fprintf(&b, "STRATEGY: %s\n", ic.Strategy)
	if ic.Strategy == "REWRITE" {
		b.WriteString("Previous patches kept failing. Rewrite the affected files from scratch instead of patching.\n")
	}
	b.WriteString("\n")

	if ic.ManualNote != "" {
		fmt.Fprintf(&b, "User modified: %s\n", ic.ManualNote)
		b.WriteString("Respect these manual changes; do not revert them.\n\n")
	}

	if len(ic.Lessons) > 0 {
		b.WriteString("FAILURES TO AVOID:\n")
		for _, l := range ic.Lessons {
			fmt.Fprintf(&b, "- [%s / %s] %s\n", l.Stage, l.Task, l.Error)
		}
		b.WriteString("\n")
	}

	if ic.AgentLog != "" {
		b.WriteString("AGENT LOG:\n")
		b.WriteString(ic.AgentLog)
		b.WriteString("\n\n")
	}
	if ic.Progress != "" {
		fmt.Fprintf(&b, "CURRENT PROGRESS: %s\n\n", strings.TrimSpace(ic.Progress))
	}

	if len(ic.CodeExcerpts) > 0 {
		b.WriteString("EXISTING CODE:\n")
		for _, ex := range ic.CodeExcerpts {
			fmt.Fprintf(&b, "--- %s ---\n%s\n", ex.Path, ex.Content)
		}
		b.WriteString("\n")
	}

	b.WriteString("PROJECT TREE:\n")
	b.WriteString(ic.Tree)
	b.WriteString("\n")

	b.WriteString("When the task is fully complete, write PROMISE_MET into progress.txt using a file block.\n")
	return b.String()
}

// reviewerPrompt assembles the verdict request for a developer result.
func (p *Pipeline) reviewerPrompt(stage *plan.Stage, story *plan.Story, devContent string) string {
	tree := workspaceTreeTail(p.root, reviewerTreeTail)

	var b strings.Builder
	fmt.Fprintf(&b, "MISSION: %s\n", stage.Mission)
	fmt.Fprintf(&b, "TASK UNDER REVIEW: %s\n\n", story.Title)
	b.WriteString("DEVELOPER OUTPUT:\n")
	b.WriteString(devContent)
	b.WriteString("\n\nPROJECT TREE:\n")
	b.WriteString(tree)
	b.WriteString("\n")
	return b.String()
}

// subtaskPrompt asks for an oversized story to be broken into 3-5
// sequential subtasks.
func subtaskPrompt(stage *plan.Stage, story *plan.Story) string {
	var b strings.Builder
	b.WriteString("The following task is too large to implement in one pass. ")
	b.WriteString("Break it into 3-5 smaller sequential subtasks.\n\n")
	fmt.Fprintf(&b, "MISSION: %s\n", stage.Mission)
	fmt.Fprintf(&b, "TASK: %s\n", story.Title)
	fmt.Fprintf(&b, "DESCRIPTION: %s\n\n", story.Description)
	b.WriteString("Respond with a JSON array of objects, each with fields ")
	b.WriteString(`"title" and "description". Order matters: earlier subtasks must not depend on later ones.`)
	b.WriteString("\n")
	return b.String()
}

// workspaceTreeTail renders the filtered tree, keeping only the last n
// characters when it overflows.
func workspaceTreeTail(root string, n int) string {
	tree := workspace.Tree(root)
	if len(tree) > n {
		return "... [Truncated] ...\n" + tree[len(tree)-n:]
	}
	return tree
}

// selfHealBlock is appended to the developer prompt after a syntax-gate
// failure.
func selfHealBlock(file, errText string) string {
	return fmt.Sprintf(
		"\n\nSELF-HEALING: your previous output left %s with a syntax error:\n%s\nFix this file now. Re-emit it in full.\n",
		file, errText,
	)
}
