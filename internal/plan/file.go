package plan

import (
	"os"
	"path/filepath"

	"github.com/ralphlabs/ralphd/internal/workspace"
)

// FileName is the canonical on-disk plan document, relative to the plans
// directory of a project root.
const FileName = "prd.json"

// PathFor returns the plan file path for a project root.
func PathFor(root string) string {
	return filepath.Join(root, "plans", FileName)
}

// LoadFile reads the plan from disk. A missing file yields an empty plan;
// the file on disk is the source of truth for an active run.
func LoadFile(root string) (*Plan, error) {
	var p Plan
	if err := workspace.ReadJSON(PathFor(root), &p); err != nil {
		if os.IsNotExist(err) {
			return &Plan{}, nil
		}
		return nil, err
	}
	return &p, nil
}

// SaveFile writes the plan to disk as pretty-printed JSON, atomically.
func SaveFile(root string, p *Plan) error {
	return workspace.WriteJSON(PathFor(root), p)
}
