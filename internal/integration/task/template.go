package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RevealStrategy describes what the terminal pane does once a task starts.
type RevealStrategy string

const (
	// RevealAlways reveals the terminal and focuses it.
	RevealAlways RevealStrategy = "always"
	// RevealNoFocus reveals the terminal without moving focus.
	RevealNoFocus RevealStrategy = "no_focus"
	// RevealNever keeps the terminal in the background.
	RevealNever RevealStrategy = "never"
	// RevealOnFailure reveals the terminal only if the task exits non-zero.
	RevealOnFailure RevealStrategy = "on_failure"
)

// ParseRevealStrategy parses a reveal strategy; "" yields RevealAlways.
func ParseRevealStrategy(s string) (RevealStrategy, error) {
	switch RevealStrategy(s) {
	case "":
		return RevealAlways, nil
	case RevealAlways, RevealNoFocus, RevealNever, RevealOnFailure:
		return RevealStrategy(s), nil
	default:
		return "", fmt.Errorf("unknown reveal strategy %q", s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *RevealStrategy) UnmarshalText(text []byte) error {
	parsed, err := ParseRevealStrategy(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// TaskTemplate is a provider-authored task definition. Any string field may
// contain variable tokens.
type TaskTemplate struct {
	// Label is the human readable name of the task.
	Label string `json:"label"`

	// Command is the executable or shell command line.
	Command string `json:"command"`

	// Args are passed to Command.
	Args []string `json:"args,omitempty"`

	// Env overrides the environment of the spawned process.
	Env map[string]string `json:"env,omitempty"`

	// Cwd overrides the working directory of the context.
	Cwd string `json:"cwd,omitempty"`

	// UseNewTerminal spawns into a new terminal tab instead of reusing the
	// tab of a previous run of the same task.
	UseNewTerminal bool `json:"use_new_terminal,omitempty"`

	// AllowConcurrentRuns permits several instances of the task at once.
	AllowConcurrentRuns bool `json:"allow_concurrent_runs,omitempty"`

	// Reveal controls the terminal pane after the task starts.
	Reveal RevealStrategy `json:"reveal,omitempty"`

	// Tags are free-form labels used for filtering.
	Tags []string `json:"tags,omitempty"`
}

// Validate reports structural problems that prevent spawning the task.
func (t TaskTemplate) Validate() error {
	var errs []error
	if strings.TrimSpace(t.Label) == "" {
		errs = append(errs, ErrEmptyLabel)
	}
	if strings.TrimSpace(t.Command) == "" {
		errs = append(errs, ErrEmptyCommand)
	}
	return errors.Join(errs...)
}

// reveal returns the effective reveal strategy.
func (t TaskTemplate) reveal() RevealStrategy {
	if t.Reveal == "" {
		return RevealAlways
	}
	return t.Reveal
}

// TaskTemplates is an ordered list of templates. Order is display priority.
type TaskTemplates []TaskTemplate

// ParseTaskTemplates decodes a JSON array of templates.
func ParseTaskTemplates(data []byte) (TaskTemplates, error) {
	var templates TaskTemplates
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, err
	}
	return templates, nil
}

// Find returns the first template with the given label.
func (ts TaskTemplates) Find(label string) (TaskTemplate, bool) {
	for _, t := range ts {
		if t.Label == label {
			return t, true
		}
	}
	return TaskTemplate{}, false
}
