package workspace

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// treeSkip lists entries omitted from the rendered directory tree.
var treeSkip = map[string]bool{
	"node_modules":      true,
	".git":              true,
	".DS_Store":         true,
	"dist":              true,
	"build":             true,
	"target":            true,
	".next":             true,
	"package-lock.json": true,
	".ralph":            true,
}

func skipEntry(name string) bool {
	if treeSkip[name] {
		return true
	}
	return strings.HasSuffix(name, ".tsbuildinfo")
}

// Tree renders a filtered directory listing of root in the familiar
// ├──/└── layout, directories before recursion into them.
func Tree(root string) string {
	var b strings.Builder
	b.WriteString(filepath.Base(root) + "\n")
	renderTree(&b, root, "")
	return b.String()
}

func renderTree(b *strings.Builder, dir, prefix string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	var names []string
	for _, e := range entries {
		if skipEntry(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for i, name := range names {
		connector := "├── "
		childPrefix := prefix + "│   "
		if i == len(names)-1 {
			connector = "└── "
			childPrefix = prefix + "    "
		}
		b.WriteString(prefix + connector + name + "\n")

		full := filepath.Join(dir, name)
		if info, err := os.Stat(full); err == nil && info.IsDir() {
			renderTree(b, full, childPrefix)
		}
	}
}
