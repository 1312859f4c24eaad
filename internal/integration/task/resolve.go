package task

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// maxDisplayVariableLength caps variable values in shortened labels.
const maxDisplayVariableLength = 15

// idHashLength is the number of hex characters kept from each id hash.
const idHashLength = 16

// Resolve substitutes the context into the template. It never fails: unknown
// tokens are left as written and unusable templates yield a task without a
// spawn payload.
func Resolve(t TaskTemplate, cx TaskContext) ResolvedTask {
	return ResolveWithBase("", t, cx)
}

// ResolveWithBase is Resolve with an id prefix, typically the name of the
// source the template came from.
func ResolveWithBase(idBase string, t TaskTemplate, cx TaskContext) ResolvedTask {
	values := cx.Variables.EnvVariables()
	id := deriveID(idBase, t, cx.Cwd, values)
	fullLabel := substitute(t.Label, values)

	rt := ResolvedTask{
		ID:            id,
		Original:      t,
		ResolvedLabel: fullLabel,
	}
	if t.Validate() != nil {
		return rt
	}

	cwd := cx.Cwd
	if t.Cwd != "" {
		cwd = substitute(t.Cwd, values)
	}

	rt.Resolved = &SpawnInTerminal{
		ID:                  id,
		FullLabel:           fullLabel,
		Label:               substitute(t.Label, truncateValues(values)),
		Command:             substitute(t.Command, values),
		Args:                substituteAll(t.Args, values),
		Cwd:                 cwd,
		Env:                 resolveEnv(t.Env, values),
		UseNewTerminal:      t.UseNewTerminal,
		AllowConcurrentRuns: t.AllowConcurrentRuns,
		Reveal:              t.reveal(),
	}
	return rt
}

// resolveEnv substitutes template env values and exports every task
// variable on top of them.
func resolveEnv(templateEnv, values map[string]string) map[string]string {
	if len(templateEnv) == 0 && len(values) == 0 {
		return nil
	}
	env := make(map[string]string, len(templateEnv)+len(values))
	for k, v := range templateEnv {
		env[k] = substitute(v, values)
	}
	for k, v := range values {
		env[k] = v
	}
	return env
}

func substituteAll(in []string, values map[string]string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = substitute(s, values)
	}
	return out
}

// substitute replaces $NAME and ${NAME} tokens whose NAME is a key of values.
// Unbraced names extend over [A-Za-z0-9_]. Everything else is copied as is
// and substituted values are not scanned again.
func substitute(s string, values map[string]string) string {
	if len(values) == 0 || !strings.Contains(s, "$") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '$' || i+1 == len(s) {
			b.WriteByte(s[i])
			i++
			continue
		}

		if s[i+1] == '{' {
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteString(s[i:])
				break
			}
			next := i + 2 + end + 1
			if v, ok := values[s[i+2:i+2+end]]; ok {
				b.WriteString(v)
			} else {
				b.WriteString(s[i:next])
			}
			i = next
			continue
		}

		j := i + 1
		for j < len(s) && isNameByte(s[j]) {
			j++
		}
		if j == i+1 {
			b.WriteByte('$')
			i++
			continue
		}
		if v, ok := values[s[i+1:j]]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i:j])
		}
		i = j
	}
	return b.String()
}

func isNameByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

// truncateValues shortens long values for display labels.
func truncateValues(values map[string]string) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if utf8.RuneCountInString(v) > maxDisplayVariableLength {
			runes := []rune(v)
			v = string(runes[:maxDisplayVariableLength]) + "…"
		}
		out[k] = v
	}
	return out
}

// deriveID combines a hash of the template with a hash of the context
// (cwd and every variable). encoding/json sorts map keys, so both hashes are
// stable across runs.
func deriveID(idBase string, t TaskTemplate, cwd string, values map[string]string) TaskID {
	t.Reveal = t.reveal()
	templateHash := hashJSON(t)
	contextHash := hashJSON(struct {
		Cwd       string            `json:"cwd"`
		Variables map[string]string `json:"variables"`
	}{cwd, values})

	id := templateHash + "_" + contextHash
	if idBase != "" {
		id = idBase + "_" + id
	}
	return TaskID(id)
}

func hashJSON(v any) string {
	// Marshalling plain structs, string slices and string maps cannot fail.
	data, _ := json.Marshal(v)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:idHashLength]
}
