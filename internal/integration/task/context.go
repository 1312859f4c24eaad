package task

import "strconv"

// TaskContext is the editor state a template is resolved against.
type TaskContext struct {
	// Cwd is the directory the task should run in. Empty means the
	// spawn layer decides.
	Cwd string `json:"cwd,omitempty"`

	// Variables are the values available for substitution.
	Variables TaskVariables `json:"variables"`
}

// Equal reports whether two contexts carry the same state.
func (c TaskContext) Equal(other TaskContext) bool {
	return c.Cwd == other.Cwd && c.Variables.Equal(other.Variables)
}

// Clone returns a copy that shares no mutable state with c.
func (c TaskContext) Clone() TaskContext {
	return TaskContext{Cwd: c.Cwd, Variables: c.Variables.Clone()}
}

// EditorState is a snapshot of the editor taken right before resolution.
// Zero-valued fields are not exported as variables.
type EditorState struct {
	// WorktreeRoot is the root of the worktree containing File.
	WorktreeRoot string

	// File is the absolute path of the active file.
	File string

	// Symbol is the innermost symbol around the cursor.
	Symbol string

	// Row and Column are the 1-based cursor position.
	Row    int
	Column int

	// SelectedText is the text of the latest selection.
	SelectedText string
}

// Variables returns the built-in variables derived from the snapshot.
func (s EditorState) Variables() TaskVariables {
	var tv TaskVariables
	if s.WorktreeRoot != "" {
		tv.Insert(VariableWorktreeRoot, s.WorktreeRoot)
	}
	if s.File != "" {
		tv.Insert(VariableFile, s.File)
	}
	if s.Symbol != "" {
		tv.Insert(VariableSymbol, s.Symbol)
	}
	if s.Row > 0 {
		tv.Insert(VariableRow, strconv.Itoa(s.Row))
	}
	if s.Column > 0 {
		tv.Insert(VariableColumn, strconv.Itoa(s.Column))
	}
	if s.SelectedText != "" {
		tv.Insert(VariableSelectedText, s.SelectedText)
	}
	return tv
}

// Context builds a TaskContext rooted at the worktree.
func (s EditorState) Context() TaskContext {
	return TaskContext{
		Cwd:       s.WorktreeRoot,
		Variables: s.Variables(),
	}
}
