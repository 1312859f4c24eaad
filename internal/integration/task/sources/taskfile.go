package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dshills/tasksmith/internal/integration/task"
)

// TaskfileSource offers the public tasks of a go-task Taskfile.
type TaskfileSource struct {
	candidates []string
}

// NewTaskfileSource creates a Taskfile source. With no paths it looks for the
// usual Taskfile names in the workspace root.
func NewTaskfileSource(paths ...string) *TaskfileSource {
	if len(paths) == 0 {
		paths = []string{DefaultTaskfile, "Taskfile.yaml", "taskfile.yml", "taskfile.yaml"}
	}
	return &TaskfileSource{candidates: paths}
}

// Name returns the source name.
func (s *TaskfileSource) Name() string {
	return "taskfile"
}

type taskfile struct {
	Version string                 `yaml:"version"`
	Tasks   map[string]taskfileDef `yaml:"tasks"`
	Env     map[string]string      `yaml:"env"`
	Dotenv  []string               `yaml:"dotenv"`
}

type taskfileDef struct {
	Desc     string            `yaml:"desc"`
	Dir      string            `yaml:"dir"`
	Env      map[string]string `yaml:"env"`
	Internal bool              `yaml:"internal"`
}

// TasksToSchedule returns a template per public task, sorted by name. The
// environment of each template layers dotenv files, then the global env, then
// the task env.
func (s *TaskfileSource) TasksToSchedule(ctx context.Context, ws *task.Workspace) (task.TaskTemplates, error) {
	path, ok := firstExisting(ws, s.candidates...)
	if !ok {
		return nil, nil
	}
	data, err := readOptional(path)
	if err != nil || data == nil {
		return nil, err
	}

	var tf taskfile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(tf.Tasks) == 0 {
		return nil, nil
	}

	dir := filepath.Dir(path)
	dotenv, err := loadDotenv(dir, tf.Dotenv)
	if err != nil {
		return nil, err
	}
	global := mergeEnv(dotenv, tf.Env)

	names := make([]string, 0, len(tf.Tasks))
	for name, def := range tf.Tasks {
		if !def.Internal {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	templates := make(task.TaskTemplates, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		def := tf.Tasks[name]

		cwd := dir
		if def.Dir != "" {
			cwd = def.Dir
			if !filepath.IsAbs(cwd) {
				cwd = filepath.Join(dir, cwd)
			}
		}

		tags := inferTags("taskfile", name)
		if name == "default" {
			tags = append(tags, "default")
		}

		templates = append(templates, task.TaskTemplate{
			Label:   "task " + name,
			Command: "task",
			Args:    []string{name},
			Env:     mergeEnv(global, def.Env),
			Cwd:     cwd,
			Tags:    tags,
		})
	}
	return templates, nil
}

// loadDotenv reads the dotenv files relative to dir. Missing files are
// skipped, matching go-task. Earlier files win.
func loadDotenv(dir string, files []string) (map[string]string, error) {
	env := make(map[string]string)
	for _, f := range files {
		if !filepath.IsAbs(f) {
			f = filepath.Join(dir, f)
		}
		values, err := godotenv.Read(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("dotenv %s: %w", f, err)
		}
		for k, v := range values {
			if _, ok := env[k]; !ok {
				env[k] = v
			}
		}
	}
	return env, nil
}

// mergeEnv layers local over base. It returns nil when both are empty.
func mergeEnv(base, local map[string]string) map[string]string {
	if len(base) == 0 && len(local) == 0 {
		return nil
	}
	result := make(map[string]string, len(base)+len(local))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range local {
		result[k] = v
	}
	return result
}
