package task

// TaskID identifies a resolved task within the application. Reruns and
// terminal tab affinity are keyed by it.
type TaskID string

// SpawnInTerminal is everything the spawn layer needs to start a task.
// It never contains unresolved variables of the resolution context.
type SpawnInTerminal struct {
	// ID is used for terminal tab affinity and concurrency control.
	ID TaskID `json:"id"`

	// FullLabel is the label with all variables substituted.
	FullLabel string `json:"full_label"`

	// Label is the tab title, with long variable values shortened.
	Label string `json:"label"`

	// Command is the executable command line.
	Command string `json:"command"`

	// Args are the command arguments.
	Args []string `json:"args,omitempty"`

	// Cwd is the working directory. Empty means the spawn layer default.
	Cwd string `json:"cwd,omitempty"`

	// Env is layered on top of the spawn layer's environment.
	Env map[string]string `json:"env,omitempty"`

	// UseNewTerminal requests a new terminal tab instead of reusing one.
	UseNewTerminal bool `json:"use_new_terminal"`

	// AllowConcurrentRuns permits several running instances with this ID.
	AllowConcurrentRuns bool `json:"allow_concurrent_runs"`

	// Reveal controls the terminal pane after the task starts.
	Reveal RevealStrategy `json:"reveal"`
}

// ResolvedTask is a template resolved against a particular context.
type ResolvedTask struct {
	// ID distinguishes tasks produced by the same template in different
	// contexts. Identical labels and commands may still have different IDs.
	ID TaskID `json:"id"`

	// Original is the template the task was resolved from.
	Original TaskTemplate `json:"original_task"`

	// ResolvedLabel is the full label after substitution.
	ResolvedLabel string `json:"resolved_label"`

	// Resolved is nil when the template cannot be spawned.
	Resolved *SpawnInTerminal `json:"resolved,omitempty"`
}

// Spawnable reports whether the task carries a spawn payload.
func (rt ResolvedTask) Spawnable() bool {
	return rt.Resolved != nil
}
