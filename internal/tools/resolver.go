// Package tools implements the four built-in tools available to the
// agent runtime: read_file, write_file, list_dir, run_cmd. Every
// filesystem tool resolves its path under a configured work root and
// refuses to escape it.
package tools

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// resolver resolves and validates work-root-relative paths, the same
// jail-all-paths-under-a-root convention the file tools use.
type resolver struct {
	root string
}

func newResolver(root string) resolver {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	return resolver{root: root}
}

// resolve returns an absolute, cleaned path within the work root, or
// an error if the requested path escapes it.
func (r resolver) resolve(path string) (string, error) {
	clean := strings.TrimSpace(path)
	if clean == "" {
		return "", fmt.Errorf("path is required")
	}
	rootAbs, err := filepath.Abs(r.root)
	if err != nil {
		return "", fmt.Errorf("resolve work root: %w", err)
	}
	var target string
	if filepath.IsAbs(clean) {
		target = filepath.Clean(clean)
	} else {
		target = filepath.Join(rootAbs, clean)
	}
	targetAbs, err := filepath.Abs(target)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path escapes work root")
	}
	return targetAbs, nil
}
