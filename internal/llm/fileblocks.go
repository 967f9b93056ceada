package llm

import (
	"regexp"

	"github.com/ralphlabs/ralphd/internal/workspace"
)

// fileBlockRe matches the "### FILE: path" + fenced-content pattern the
// roles are contracted to use. The language tag on the opening fence is
// optional and ignored; content is captured verbatim up to the closing
// fence.
var fileBlockRe = regexp.MustCompile("### FILE: (.*?)\n+```[^\n]*\n([\\s\\S]*?)```")

// FileBlock is one parsed file write request.
type FileBlock struct {
	Path    string
	Content string
}

// ParseFileBlocks extracts every file block from a response, left to right,
// non-overlapping.
func ParseFileBlocks(response string) []FileBlock {
	matches := fileBlockRe.FindAllStringSubmatch(response, -1)
	blocks := make([]FileBlock, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, FileBlock{Path: m[1], Content: m[2]})
	}
	return blocks
}

// RenderFileBlock renders a single file block in the contract syntax.
// Round-tripping through ParseFileBlocks reproduces the same path and
// content.
func RenderFileBlock(path, content string) string {
	return "### FILE: " + path + "\n```\n" + content + "```"
}

// applyFileBlocks writes each extracted block under workdir. A block whose
// path escapes the root is skipped and logged; the remaining blocks are
// still applied.
func (c *Client) applyFileBlocks(response, workdir string) []string {
	var applied []string
	for _, b := range ParseFileBlocks(response) {
		if err := workspace.WriteUnder(workdir, b.Path, b.Content); err != nil {
			c.logger.Warn("skipping file block", "path", b.Path, "error", err)
			continue
		}
		applied = append(applied, b.Path)
	}
	return applied
}
