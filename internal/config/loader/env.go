package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// DefaultEnvPrefix prefixes every tasksmith environment variable.
const DefaultEnvPrefix = "TASKSMITH_"

// EnvLoader loads settings from environment variables. Variables listed in
// the mapping go to their mapped path; other prefixed variables are
// converted by name, TASKSMITH_RUNNER_MAX_CONCURRENT becoming
// runner.maxConcurrent.
type EnvLoader struct {
	prefix  string
	mapping map[string]string
	environ func() []string
}

// NewEnvLoader creates a loader for variables starting with prefix. The
// prefix includes its trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{
		prefix:  prefix,
		mapping: DefaultEnvMapping(prefix),
		environ: os.Environ,
	}
}

// DefaultEnvMapping returns the short names that do not follow the
// section_setting pattern.
func DefaultEnvMapping(prefix string) map[string]string {
	return map[string]string{
		prefix + "LOG_LEVEL":       "logging.level",
		prefix + "SHELL":           "runner.shell",
		prefix + "MAX_CONCURRENT":  "runner.maxConcurrent",
		prefix + "HISTORY":         "history.path",
		prefix + "OTLP_ENDPOINT":   "telemetry.endpoint",
		prefix + "TRACING":         "telemetry.enabled",
		prefix + "WATCH":           "tasks.watch",
		prefix + "SOURCES":         "tasks.sources",
		prefix + "BLOCKED_COMMAND": "policy.blockedCommands",
	}
}

// AddMapping maps an environment variable to a setting path.
func (l *EnvLoader) AddMapping(envVar, path string) {
	l.mapping[envVar] = path
}

// Load reads the process environment. Empty values count as set.
func (l *EnvLoader) Load() (map[string]any, error) {
	vars := make(map[string]string)
	for _, kv := range l.environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			vars[k] = v
		}
	}
	return l.fromVars(vars), nil
}

func (l *EnvLoader) fromVars(vars map[string]string) map[string]any {
	config := make(map[string]any)
	for name, value := range vars {
		if !strings.HasPrefix(name, l.prefix) {
			continue
		}
		path, ok := l.mapping[name]
		if !ok {
			path = l.envToPath(name)
		}
		if path == "" {
			continue
		}
		SetByPath(config, path, ParseValue(value))
	}
	return config
}

// envToPath converts TASKSMITH_TASKS_STATIC_FILE to tasks.staticFile. A
// name without a setting part maps to nothing.
func (l *EnvLoader) envToPath(env string) string {
	parts := strings.Split(strings.TrimPrefix(env, l.prefix), "_")
	if len(parts) < 2 || parts[0] == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(strings.ToLower(parts[0]))
	sb.WriteByte('.')
	sb.WriteString(strings.ToLower(parts[1]))
	for _, part := range parts[2:] {
		if part == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(part[:1]))
		sb.WriteString(strings.ToLower(part[1:]))
	}
	return sb.String()
}

// ParseValue converts an environment string to the most specific type:
// bool, int64, float64, JSON array or object, or string.
func ParseValue(s string) any {
	if s == "" {
		return s
	}

	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}

	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err == nil {
			return v
		}
	}
	return s
}

// DotenvLoader loads prefixed settings from a dotenv file, using the same
// names as EnvLoader.
type DotenvLoader struct {
	env  *EnvLoader
	path string
}

// NewDotenvLoader creates a loader for the dotenv file at path.
func NewDotenvLoader(path, prefix string) *DotenvLoader {
	return &DotenvLoader{env: NewEnvLoader(prefix), path: path}
}

// Load reads the file. A missing file yields nil, nil.
func (l *DotenvLoader) Load() (map[string]any, error) {
	vars, err := godotenv.Read(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading dotenv file %s: %w", l.path, err)
	}
	return l.env.fromVars(vars), nil
}
