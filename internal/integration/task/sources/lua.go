package sources

import (
	"context"
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/tasksmith/internal/integration/task"
)

// ErrLuaResult is returned when a task script does not return a table.
var ErrLuaResult = errors.New("lua task script must return a table")

// LuaSource runs a sandboxed Lua script that returns task templates and
// custom variables:
//
//	return {
//	  tasks = {
//	    { label = "test " .. workspace.file, command = "go", args = { "test", "$ZED_FILE" } },
//	  },
//	  variables = { PROFILE = "debug" },
//	}
//
// The script sees a read-only-by-convention workspace table with root, file,
// symbol, row, column, selected_text and env. Each call runs the script in a
// fresh state.
type LuaSource struct {
	path string
}

// NewLuaSource creates a Lua source. An empty path uses .tasksmith/tasks.lua
// in the workspace root.
func NewLuaSource(path string) *LuaSource {
	if path == "" {
		path = DefaultLuaFile
	}
	return &LuaSource{path: path}
}

// Name returns the source name.
func (s *LuaSource) Name() string {
	return "lua"
}

// TasksToSchedule runs the script and returns its tasks.
func (s *LuaSource) TasksToSchedule(ctx context.Context, ws *task.Workspace) (task.TaskTemplates, error) {
	var templates task.TaskTemplates
	err := s.run(ctx, ws, func(result *lua.LTable) error {
		tasks, ok := result.RawGetString("tasks").(*lua.LTable)
		if !ok {
			return nil
		}
		var errs []error
		tasks.ForEach(func(_, v lua.LValue) {
			tbl, ok := v.(*lua.LTable)
			if !ok {
				errs = append(errs, fmt.Errorf("task entry is %s, not a table", v.Type()))
				return
			}
			tmpl, err := luaTemplate(tbl)
			if err != nil {
				errs = append(errs, err)
				return
			}
			templates = append(templates, tmpl)
		})
		return errors.Join(errs...)
	})
	if err != nil {
		return nil, err
	}
	return templates, nil
}

// TaskVariables runs the script and returns its variables as custom task
// variables.
func (s *LuaSource) TaskVariables(ctx context.Context, ws *task.Workspace) (task.TaskVariables, error) {
	var vars task.TaskVariables
	err := s.run(ctx, ws, func(result *lua.LTable) error {
		tbl, ok := result.RawGetString("variables").(*lua.LTable)
		if !ok {
			return nil
		}
		tbl.ForEach(func(k, v lua.LValue) {
			name, ok := k.(lua.LString)
			if !ok || v == lua.LNil {
				return
			}
			vars.Insert(task.CustomVariable(string(name)), lua.LVAsString(v))
		})
		return nil
	})
	return vars, err
}

func (s *LuaSource) run(ctx context.Context, ws *task.Workspace, fn func(*lua.LTable) error) error {
	path := workspacePath(ws, s.path)
	data, err := readOptional(path)
	if err != nil || data == nil {
		return err
	}

	L := newSandboxedState()
	defer L.Close()
	L.SetContext(ctx)

	L.SetGlobal("workspace", workspaceTable(L, ws))

	if err := L.DoString(string(data)); err != nil {
		return fmt.Errorf("lua %s: %w", path, err)
	}
	if L.GetTop() == 0 {
		return fmt.Errorf("lua %s: %w", path, ErrLuaResult)
	}
	result, ok := L.Get(-1).(*lua.LTable)
	if !ok {
		return fmt.Errorf("lua %s: %w", path, ErrLuaResult)
	}
	if err := fn(result); err != nil {
		return fmt.Errorf("lua %s: %w", path, err)
	}
	return nil
}

// newSandboxedState opens only libraries without filesystem or process
// access.
func newSandboxedState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "module", "require"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func workspaceTable(L *lua.LState, ws *task.Workspace) *lua.LTable {
	tbl := L.NewTable()
	if ws == nil {
		return tbl
	}
	tbl.RawSetString("root", lua.LString(ws.Root))
	tbl.RawSetString("file", lua.LString(ws.Editor.File))
	tbl.RawSetString("symbol", lua.LString(ws.Editor.Symbol))
	tbl.RawSetString("row", lua.LNumber(ws.Editor.Row))
	tbl.RawSetString("column", lua.LNumber(ws.Editor.Column))
	tbl.RawSetString("selected_text", lua.LString(ws.Editor.SelectedText))

	env := L.NewTable()
	for k, v := range ws.Env {
		env.RawSetString(k, lua.LString(v))
	}
	tbl.RawSetString("env", env)
	return tbl
}

func luaTemplate(tbl *lua.LTable) (task.TaskTemplate, error) {
	tmpl := task.TaskTemplate{
		Label:               luaString(tbl, "label"),
		Command:             luaString(tbl, "command"),
		Cwd:                 luaString(tbl, "cwd"),
		UseNewTerminal:      lua.LVAsBool(tbl.RawGetString("use_new_terminal")),
		AllowConcurrentRuns: lua.LVAsBool(tbl.RawGetString("allow_concurrent_runs")),
		Args:                luaStrings(tbl.RawGetString("args")),
		Tags:                luaStrings(tbl.RawGetString("tags")),
	}

	if env, ok := tbl.RawGetString("env").(*lua.LTable); ok {
		tmpl.Env = make(map[string]string)
		env.ForEach(func(k, v lua.LValue) {
			tmpl.Env[lua.LVAsString(k)] = lua.LVAsString(v)
		})
	}

	if reveal := luaString(tbl, "reveal"); reveal != "" {
		r, err := task.ParseRevealStrategy(reveal)
		if err != nil {
			return task.TaskTemplate{}, fmt.Errorf("task %q: %w", tmpl.Label, err)
		}
		tmpl.Reveal = r
	}
	return tmpl, nil
}

func luaString(tbl *lua.LTable, key string) string {
	v := tbl.RawGetString(key)
	if v == lua.LNil {
		return ""
	}
	return lua.LVAsString(v)
}

func luaStrings(v lua.LValue) []string {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil
	}
	out := make([]string, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		out = append(out, lua.LVAsString(tbl.RawGetInt(i)))
	}
	return out
}
