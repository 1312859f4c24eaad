// Package sources provides task template sources for common project files.
//
// Every source reads a file relative to the workspace root. A missing file is
// not an error: the source simply reports no templates.
package sources

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dshills/tasksmith/internal/integration/task"
)

// Default file locations, relative to the workspace root.
const (
	DefaultStaticFile  = ".tasksmith/tasks.json"
	DefaultLuaFile     = ".tasksmith/tasks.lua"
	DefaultVSCodeFile  = ".vscode/tasks.json"
	DefaultTaskfile    = "Taskfile.yml"
	DefaultMakefile    = "Makefile"
	DefaultPackageJSON = "package.json"
)

// workspacePath resolves p against the workspace root.
func workspacePath(ws *task.Workspace, p string) string {
	if filepath.IsAbs(p) || ws == nil || ws.Root == "" {
		return p
	}
	return filepath.Join(ws.Root, p)
}

// readOptional reads path. A missing file yields nil data and no error.
func readOptional(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// firstExisting returns the first candidate that exists under the workspace.
func firstExisting(ws *task.Workspace, candidates ...string) (string, bool) {
	for _, c := range candidates {
		p := workspacePath(ws, c)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
