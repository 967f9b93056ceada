package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ralphlabs/ralphd/internal/llm"
	"github.com/ralphlabs/ralphd/internal/workspace"
)

const summaryFallback = 500

// recordRun writes the raw exchange under .ralph/logs/ and appends a
// summary line to agents.md with a pointer to the raw log.
func (p *Pipeline) recordRun(role llm.Role, prompt string, result *llm.Result) {
	stamp := p.uniqueStamp()
	name := fmt.Sprintf("%s_%s.md", stamp, strings.ToLower(string(role)))
	rel := filepath.Join(".ralph", "logs", name)

	raw := fmt.Sprintf("# %s run %s\n\n## Prompt\n\n%s\n\n## Response\n\n%s\n", role, stamp, prompt, result.Content)
	if err := workspace.WriteUnder(p.root, rel, raw); err != nil {
		p.logger.Warn("raw log write failed", "path", rel, "error", err)
	}

	entry := fmt.Sprintf("\n### [%s] %s\n%s\n(raw: %s)\n", stamp, role, extractSummary(result.Content), rel)
	if err := workspace.AppendString(filepath.Join(p.root, "agents.md"), entry); err != nil {
		p.logger.Warn("agent log append failed", "error", err)
	}
}

// uniqueStamp returns a timestamp that is unique even within one second,
// by appending a sequence suffix on collision.
func (p *Pipeline) uniqueStamp() string {
	stamp := time.Now().Format("2006-01-02T15-04-05")
	if stamp == p.lastLogStamp {
		p.logSeq++
		return fmt.Sprintf("%s-%d", stamp, p.logSeq)
	}
	p.lastLogStamp = stamp
	p.logSeq = 0
	return stamp
}

var summaryMarkers = []string{"summary:", "findings:", "criteria:"}

// extractSummary pulls the human-relevant portion of a model response:
// from the first marker line until a code fence, or the first five
// non-empty lines when no marker is present. Degenerate captures fall back
// to a raw prefix.
func extractSummary(response string) string {
	lines := strings.Split(response, "\n")

	start := -1
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, marker := range summaryMarkers {
			if strings.Contains(lower, marker) {
				start = i
				break
			}
		}
		if start >= 0 {
			break
		}
	}

	var captured []string
	if start >= 0 {
		for _, line := range lines[start:] {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				break
			}
			captured = append(captured, line)
		}
	} else {
		for _, line := range lines {
			if strings.TrimSpace(line) == "" {
				continue
			}
			captured = append(captured, line)
			if len(captured) == 5 {
				break
			}
		}
	}

	summary := strings.TrimSpace(strings.Join(captured, "\n"))
	if len(summary) <= 10 {
		if len(response) > summaryFallback {
			return response[:summaryFallback] + "... [truncated]"
		}
		return response
	}
	return summary
}
