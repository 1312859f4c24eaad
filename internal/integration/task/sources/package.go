package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dshills/tasksmith/internal/integration/task"
)

// PackageJSONSource offers one task per package.json script, run through the
// package manager detected from the lock file.
type PackageJSONSource struct {
	path string
}

// NewPackageJSONSource creates a package.json source. An empty path uses
// package.json in the workspace root.
func NewPackageJSONSource(path string) *PackageJSONSource {
	if path == "" {
		path = DefaultPackageJSON
	}
	return &PackageJSONSource{path: path}
}

// Name returns the source name.
func (s *PackageJSONSource) Name() string {
	return "npm"
}

type packageJSON struct {
	Name    string            `json:"name"`
	Scripts map[string]string `json:"scripts"`
}

// TasksToSchedule returns a template per script, sorted by script name.
func (s *PackageJSONSource) TasksToSchedule(ctx context.Context, ws *task.Workspace) (task.TaskTemplates, error) {
	path := workspacePath(ws, s.path)
	data, err := readOptional(path)
	if err != nil || data == nil {
		return nil, err
	}

	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(pkg.Scripts) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(pkg.Scripts))
	for name := range pkg.Scripts {
		names = append(names, name)
	}
	sort.Strings(names)

	dir := filepath.Dir(path)
	manager := detectPackageManager(dir)

	templates := make(task.TaskTemplates, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		templates = append(templates, task.TaskTemplate{
			Label:   manager + " run " + name,
			Command: manager,
			Args:    []string{"run", name},
			Cwd:     dir,
			Tags:    inferTags("npm", name),
		})
	}
	return templates, nil
}

// detectPackageManager picks the package manager from the lock file present
// in dir, defaulting to npm.
func detectPackageManager(dir string) string {
	lockFiles := []struct {
		file    string
		manager string
	}{
		{"pnpm-lock.yaml", "pnpm"},
		{"yarn.lock", "yarn"},
		{"bun.lockb", "bun"},
		{"package-lock.json", "npm"},
	}

	for _, lf := range lockFiles {
		if _, err := os.Stat(filepath.Join(dir, lf.file)); err == nil {
			return lf.manager
		}
	}
	return "npm"
}
