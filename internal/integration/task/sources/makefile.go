package sources

import (
	"bufio"
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dshills/tasksmith/internal/integration/task"
)

var (
	makeTargetPattern  = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_-]*)\s*:(?:[^=]|$)`)
	makePhonyPattern   = regexp.MustCompile(`^\.PHONY\s*:\s*(.+)$`)
	makeDefaultPattern = regexp.MustCompile(`^\.DEFAULT_GOAL\s*[:?]?=\s*(\S+)`)
)

// MakefileSource offers one task per runnable Makefile target.
type MakefileSource struct {
	candidates []string
}

// NewMakefileSource creates a Makefile source. With no paths it looks for
// Makefile, makefile and GNUmakefile in the workspace root.
func NewMakefileSource(paths ...string) *MakefileSource {
	if len(paths) == 0 {
		paths = []string{DefaultMakefile, "makefile", "GNUmakefile"}
	}
	return &MakefileSource{candidates: paths}
}

// Name returns the source name.
func (s *MakefileSource) Name() string {
	return "make"
}

// TasksToSchedule returns a template per target. When the Makefile declares
// .PHONY targets only those are offered.
func (s *MakefileSource) TasksToSchedule(ctx context.Context, ws *task.Workspace) (task.TaskTemplates, error) {
	path, ok := firstExisting(ws, s.candidates...)
	if !ok {
		return nil, nil
	}
	data, err := readOptional(path)
	if err != nil || data == nil {
		return nil, err
	}

	targets, err := parseMakefile(ctx, data)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	goal := makefileDefaultGoal(data)
	templates := make(task.TaskTemplates, 0, len(targets))
	for _, t := range targets {
		tags := inferTags("make", t)
		if t == goal {
			tags = append(tags, "default")
		}
		templates = append(templates, task.TaskTemplate{
			Label:   "make " + t,
			Command: "make",
			Args:    []string{t},
			Cwd:     dir,
			Tags:    tags,
		})
	}
	ws.Log().Debug("make: %d targets in %s", len(templates), path)
	return templates, nil
}

func parseMakefile(ctx context.Context, data []byte) ([]string, error) {
	phony := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if m := makePhonyPattern.FindStringSubmatch(scanner.Text()); m != nil {
			for _, target := range strings.Fields(m[1]) {
				phony[target] = true
			}
		}
	}

	var targets []string
	seen := make(map[string]bool)
	scanner = bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m := makeTargetPattern.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}

		// Targets starting with _ are conventionally private.
		name := m[1]
		if strings.HasPrefix(name, "_") || seen[name] {
			continue
		}
		if len(phony) == 0 || phony[name] {
			seen[name] = true
			targets = append(targets, name)
		}
	}
	return targets, scanner.Err()
}

// makefileDefaultGoal returns the .DEFAULT_GOAL of a Makefile, or the first
// target when none is declared.
func makefileDefaultGoal(data []byte) string {
	var first string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if m := makeDefaultPattern.FindStringSubmatch(line); m != nil {
			return m[1]
		}
		if first == "" {
			if m := makeTargetPattern.FindStringSubmatch(line); m != nil {
				first = m[1]
			}
		}
	}
	return first
}

// inferTags tags a task with its origin and a coarse group guessed from its
// name.
func inferTags(origin, name string) []string {
	tags := []string{origin}
	lower := strings.ToLower(name)
	for _, g := range []struct {
		tag   string
		words []string
	}{
		{"build", []string{"build", "compile", "install"}},
		{"test", []string{"test", "check", "spec"}},
		{"lint", []string{"lint", "fmt", "format", "vet"}},
		{"clean", []string{"clean"}},
		{"run", []string{"run", "start", "serve", "dev"}},
	} {
		for _, w := range g.words {
			if strings.Contains(lower, w) {
				return append(tags, g.tag)
			}
		}
	}
	return tags
}
