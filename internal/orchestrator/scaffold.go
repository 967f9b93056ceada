package orchestrator

import (
	"os"
	"path/filepath"

	"github.com/ralphlabs/ralphd/internal/plan"
	"github.com/ralphlabs/ralphd/internal/workspace"
)

const gitignoreContent = `node_modules/
.ralph/
agents.md
progress.txt
`

// scaffoldWorkspace lays down the files a pipeline expects before the
// first iteration. Existing files are left alone.
func scaffoldWorkspace(root string, pl *plan.Plan) error {
	if err := os.MkdirAll(filepath.Join(root, ".ralph", "logs"), 0o755); err != nil {
		return err
	}

	if _, err := os.Stat(plan.PathFor(root)); os.IsNotExist(err) {
		if err := plan.SaveFile(root, pl); err != nil {
			return err
		}
	}

	seed := map[string]string{
		"agents.md":    "# Agent Log\n",
		"progress.txt": "",
		filepath.Join(".ralph", "internal_status.txt"): "created\n",
		".gitignore": gitignoreContent,
	}
	for rel, content := range seed {
		path := filepath.Join(root, rel)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := workspace.WriteUnder(root, rel, content); err != nil {
			return err
		}
	}
	return nil
}
