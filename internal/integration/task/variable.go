package task

import (
	"encoding/json"
	"sort"
	"strings"
)

// VariableNamePrefix is prepended to every variable exposed to templates and
// to the environment of spawned processes.
const VariableNamePrefix = "ZED_"

// customPrefix namespaces provider-defined variables under the global prefix.
const customPrefix = "CUSTOM_"

type variableKind uint8

const (
	kindCustom variableKind = iota
	kindFile
	kindWorktreeRoot
	kindSymbol
	kindRow
	kindColumn
	kindSelectedText
)

// builtinSuffixes maps each built-in kind to its token suffix.
var builtinSuffixes = map[variableKind]string{
	kindFile:         "FILE",
	kindWorktreeRoot: "WORKTREE_ROOT",
	kindSymbol:       "SYMBOL",
	kindRow:          "ROW",
	kindColumn:       "COLUMN",
	kindSelectedText: "SELECTED_TEXT",
}

// VariableName identifies a variable available during task resolution.
//
// It is a comparable value type: two custom variables with the same name are
// equal and hash to the same map slot.
type VariableName struct {
	kind   variableKind
	custom string
}

// Built-in variables.
var (
	// VariableFile is the absolute path of the currently opened file.
	VariableFile = VariableName{kind: kindFile}
	// VariableWorktreeRoot is the absolute path of the worktree containing the file.
	VariableWorktreeRoot = VariableName{kind: kindWorktreeRoot}
	// VariableSymbol is the symbol containing the latest cursor position.
	VariableSymbol = VariableName{kind: kindSymbol}
	// VariableRow is the 1-based row of the latest cursor position.
	VariableRow = VariableName{kind: kindRow}
	// VariableColumn is the 1-based column of the latest cursor position.
	VariableColumn = VariableName{kind: kindColumn}
	// VariableSelectedText is the text of the latest selection.
	VariableSelectedText = VariableName{kind: kindSelectedText}
)

// BuiltinVariables returns every built-in variable in declaration order.
func BuiltinVariables() []VariableName {
	return []VariableName{
		VariableFile,
		VariableWorktreeRoot,
		VariableSymbol,
		VariableRow,
		VariableColumn,
		VariableSelectedText,
	}
}

// CustomVariable returns a provider-defined variable. The name is kept as
// given; it is rendered as ZED_CUSTOM_<name>.
func CustomVariable(name string) VariableName {
	return VariableName{kind: kindCustom, custom: name}
}

// IsCustom reports whether v is a provider-defined variable.
func (v VariableName) IsCustom() bool {
	return v.kind == kindCustom
}

// CustomName returns the payload of a custom variable, or "" for built-ins.
func (v VariableName) CustomName() string {
	if v.kind != kindCustom {
		return ""
	}
	return v.custom
}

// String returns the environment variable form, e.g. ZED_FILE.
func (v VariableName) String() string {
	if v.kind == kindCustom {
		return VariableNamePrefix + customPrefix + v.custom
	}
	return VariableNamePrefix + builtinSuffixes[v.kind]
}

// TemplateValue returns the form used inside templates. Custom variables are
// braced because their names may run into adjacent template text.
func (v VariableName) TemplateValue() string {
	if v.kind == kindCustom {
		return "${" + v.String() + "}"
	}
	return "$" + v.String()
}

// ParseVariableName parses ZED_FILE, $ZED_FILE or ${ZED_FILE} back into a
// variable. The second result is false when s names no known variable.
func ParseVariableName(s string) (VariableName, bool) {
	token := s
	switch {
	case strings.HasPrefix(token, "${") && strings.HasSuffix(token, "}"):
		token = token[2 : len(token)-1]
	case strings.HasPrefix(token, "$"):
		token = token[1:]
	}

	rest, ok := strings.CutPrefix(token, VariableNamePrefix)
	if !ok {
		return VariableName{}, false
	}

	if name, ok := strings.CutPrefix(rest, customPrefix); ok {
		return CustomVariable(name), true
	}

	for kind, suffix := range builtinSuffixes {
		if rest == suffix {
			return VariableName{kind: kind}, true
		}
	}
	return VariableName{}, false
}

// MarshalText encodes the variable as its environment token.
func (v VariableName) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText decodes an environment token.
func (v *VariableName) UnmarshalText(text []byte) error {
	parsed, ok := ParseVariableName(string(text))
	if !ok {
		return &UnknownVariableError{Token: string(text)}
	}
	*v = parsed
	return nil
}

// TaskVariables holds the values of variables for a single resolution.
// The zero value is an empty, ready to use set.
type TaskVariables struct {
	values map[VariableName]string
}

// NewTaskVariables builds a variable set from a map. The map is copied.
func NewTaskVariables(values map[VariableName]string) TaskVariables {
	tv := TaskVariables{values: make(map[VariableName]string, len(values))}
	for name, value := range values {
		tv.values[name] = value
	}
	return tv
}

// Insert sets a variable, returning the value it replaced, if any.
func (tv *TaskVariables) Insert(name VariableName, value string) (string, bool) {
	if tv.values == nil {
		tv.values = make(map[VariableName]string)
	}
	prev, replaced := tv.values[name]
	tv.values[name] = value
	return prev, replaced
}

// Extend copies every variable of other into tv. Values from other win.
func (tv *TaskVariables) Extend(other TaskVariables) {
	if len(other.values) == 0 {
		return
	}
	if tv.values == nil {
		tv.values = make(map[VariableName]string, len(other.values))
	}
	for name, value := range other.values {
		tv.values[name] = value
	}
}

// Get returns the value of a variable.
func (tv TaskVariables) Get(name VariableName) (string, bool) {
	value, ok := tv.values[name]
	return value, ok
}

// Len returns the number of variables.
func (tv TaskVariables) Len() int {
	return len(tv.values)
}

// Names returns the variable names sorted by their token.
func (tv TaskVariables) Names() []VariableName {
	names := make([]VariableName, 0, len(tv.values))
	for name := range tv.values {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return names[i].String() < names[j].String()
	})
	return names
}

// Clone returns an independent copy.
func (tv TaskVariables) Clone() TaskVariables {
	return NewTaskVariables(tv.values)
}

// Equal reports whether both sets hold the same variables and values.
func (tv TaskVariables) Equal(other TaskVariables) bool {
	if len(tv.values) != len(other.values) {
		return false
	}
	for name, value := range tv.values {
		if ov, ok := other.values[name]; !ok || ov != value {
			return false
		}
	}
	return true
}

// EnvVariables converts the set into environment variables keyed by token.
func (tv TaskVariables) EnvVariables() map[string]string {
	env := make(map[string]string, len(tv.values))
	for name, value := range tv.values {
		env[name.String()] = value
	}
	return env
}

// MarshalJSON encodes the set as an object keyed by token.
func (tv TaskVariables) MarshalJSON() ([]byte, error) {
	return json.Marshal(tv.EnvVariables())
}

// UnmarshalJSON decodes an object keyed by token.
func (tv *TaskVariables) UnmarshalJSON(data []byte) error {
	var values map[VariableName]string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	*tv = NewTaskVariables(values)
	return nil
}
