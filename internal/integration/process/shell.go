package process

import (
	"os"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
)

// commandLine joins a command with its arguments. The command is kept as
// written so it may carry its own shell syntax; arguments are quoted.
func commandLine(command string, args []string) string {
	if len(args) == 0 {
		return command
	}
	return command + " " + shellquote.Join(args...)
}

// buildEnv layers the given maps over os.Environ. Later layers win. The
// result is sorted by key.
func buildEnv(layers ...map[string]string) []string {
	merged := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			merged[k] = v
		}
	}
	for _, layer := range layers {
		for k, v := range layer {
			merged[k] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+merged[k])
	}
	return env
}
