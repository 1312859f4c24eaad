package sources

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"

	"github.com/dshills/tasksmith/internal/integration/task"
)

// ErrInvalidVSCodeTasks is returned when tasks.json is not valid JSON after
// comments are removed.
var ErrInvalidVSCodeTasks = errors.New("vscode tasks: invalid json")

// VSCodeSource translates .vscode/tasks.json into task templates.
type VSCodeSource struct {
	path string
}

// NewVSCodeSource creates a VS Code tasks source. An empty path uses
// .vscode/tasks.json in the workspace root.
func NewVSCodeSource(path string) *VSCodeSource {
	if path == "" {
		path = DefaultVSCodeFile
	}
	return &VSCodeSource{path: path}
}

// Name returns the source name.
func (s *VSCodeSource) Name() string {
	return "vscode"
}

// TasksToSchedule returns one template per task that has a command. Compound
// tasks made only of dependsOn are skipped.
func (s *VSCodeSource) TasksToSchedule(ctx context.Context, ws *task.Workspace) (task.TaskTemplates, error) {
	path := workspacePath(ws, s.path)
	data, err := readOptional(path)
	if err != nil || data == nil {
		return nil, err
	}
	return ParseVSCodeTasks(ctx, data)
}

// ParseVSCodeTasks translates the contents of a VS Code tasks.json. Comments
// and trailing commas are accepted.
func ParseVSCodeTasks(ctx context.Context, data []byte) (task.TaskTemplates, error) {
	data = jsonc.ToJSON(data)
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidVSCodeTasks
	}

	var templates task.TaskTemplates
	gjson.GetBytes(data, "tasks").ForEach(func(_, t gjson.Result) bool {
		if ctx.Err() != nil {
			return false
		}
		if tmpl, ok := translateVSCodeTask(t); ok {
			templates = append(templates, tmpl)
		}
		return true
	})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return templates, nil
}

func translateVSCodeTask(t gjson.Result) (task.TaskTemplate, bool) {
	var command string
	var args []string

	switch kind := t.Get("type").String(); kind {
	case "npm":
		script := t.Get("script").String()
		if script == "" {
			return task.TaskTemplate{}, false
		}
		command, args = "npm", []string{"run", script}
	case "gulp":
		name := t.Get("task").String()
		if name == "" {
			return task.TaskTemplate{}, false
		}
		command, args = "gulp", []string{name}
	case "", "shell", "process":
		command = t.Get("command").String()
		t.Get("args").ForEach(func(_, a gjson.Result) bool {
			// Quoted args are objects with a value field.
			if a.IsObject() {
				args = append(args, a.Get("value").String())
			} else {
				args = append(args, a.String())
			}
			return true
		})
	default:
		return task.TaskTemplate{}, false
	}
	if command == "" {
		return task.TaskTemplate{}, false
	}

	label := t.Get("label").String()
	if label == "" {
		label = strings.TrimSpace(command + " " + strings.Join(args, " "))
	}

	tmpl := task.TaskTemplate{
		Label:   label,
		Command: replaceVSCodeVariables(command),
		Cwd:     replaceVSCodeVariables(t.Get("options.cwd").String()),
		Tags:    []string{"vscode"},
	}
	for _, a := range args {
		tmpl.Args = append(tmpl.Args, replaceVSCodeVariables(a))
	}
	if env := t.Get("options.env"); env.IsObject() {
		tmpl.Env = make(map[string]string)
		env.ForEach(func(k, v gjson.Result) bool {
			tmpl.Env[k.String()] = replaceVSCodeVariables(v.String())
			return true
		})
	}
	if group := t.Get("group"); group.Exists() {
		kind := group.String()
		if group.IsObject() {
			kind = group.Get("kind").String()
		}
		if kind != "" {
			tmpl.Tags = append(tmpl.Tags, kind)
		}
	}

	switch t.Get("presentation.reveal").String() {
	case "never":
		tmpl.Reveal = task.RevealNever
	case "silent":
		tmpl.Reveal = task.RevealOnFailure
	}
	if t.Get("presentation.panel").String() == "new" {
		tmpl.UseNewTerminal = true
	}
	if t.Get("runOptions.instanceLimit").Int() > 1 {
		tmpl.AllowConcurrentRuns = true
	}
	return tmpl, true
}

var vscodeVariablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

var vscodeVariables = map[string]task.VariableName{
	"workspaceFolder": task.VariableWorktreeRoot,
	"workspaceRoot":   task.VariableWorktreeRoot,
	"file":            task.VariableFile,
	"lineNumber":      task.VariableRow,
	"selectedText":    task.VariableSelectedText,
}

// replaceVSCodeVariables maps VS Code variables onto task variables.
// Unsupported variables are left as is.
func replaceVSCodeVariables(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return vscodeVariablePattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[2 : len(m)-1]
		if v, ok := vscodeVariables[name]; ok {
			return "${" + v.String() + "}"
		}
		if env, ok := strings.CutPrefix(name, "env:"); ok && env != "" {
			return "${" + env + "}"
		}
		return m
	})
}
