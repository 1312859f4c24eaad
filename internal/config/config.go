package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/dshills/tasksmith/internal/config/loader"
)

// FileName is the configuration file looked up in the user config
// directory and the workspace root.
const FileName = "tasksmith.toml"

// Source names accepted in tasks.sources.
var KnownSources = []string{"static", "vscode", "taskfile", "make", "npm", "lua"}

// Config is the complete tasksmith configuration.
type Config struct {
	Logging   LoggingConfig   `toml:"logging"`
	Runner    RunnerConfig    `toml:"runner"`
	Tasks     TasksConfig     `toml:"tasks"`
	History   HistoryConfig   `toml:"history"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Policy    PolicyConfig    `toml:"policy"`

	// Files lists the configuration files that were read, lowest
	// precedence first.
	Files []string `toml:"-"`
}

// LoggingConfig configures the application logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level"`
}

// RunnerConfig configures how tasks are spawned.
type RunnerConfig struct {
	Shell         string            `toml:"shell"`
	ShellArgs     []string          `toml:"shellArgs"`
	Env           map[string]string `toml:"env"`
	MaxConcurrent int               `toml:"maxConcurrent"`
	OutputLines   int               `toml:"outputLines"`

	// ShutdownTimeout is a Go duration string such as "5s".
	ShutdownTimeout string `toml:"shutdownTimeout"`
}

// ShutdownTimeoutDuration returns ShutdownTimeout parsed. Validate rejects
// unparsable values, so the zero fallback only applies to invalid configs.
func (r RunnerConfig) ShutdownTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(r.ShutdownTimeout)
	if err != nil {
		return 0
	}
	return d
}

// TasksConfig selects and configures task sources.
type TasksConfig struct {
	// Sources are the enabled source names, in registration order.
	Sources    []string `toml:"sources"`
	StaticFile string   `toml:"staticFile"`
	LuaFile    string   `toml:"luaFile"`
	VSCodeFile string   `toml:"vscodeFile"`

	// Watch reloads the static task file when it changes.
	Watch bool `toml:"watch"`

	// SourceTimeout bounds each source call, as a Go duration. "0s"
	// disables the limit.
	SourceTimeout string `toml:"sourceTimeout"`
}

// SourceTimeoutDuration returns SourceTimeout parsed, or zero when invalid.
func (t TasksConfig) SourceTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(t.SourceTimeout)
	if err != nil {
		return 0
	}
	return d
}

// HistoryConfig configures the SQLite history.
type HistoryConfig struct {
	Enabled bool `toml:"enabled"`

	// Path is relative to the workspace root unless absolute.
	Path string `toml:"path"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool   `toml:"enabled"`
	Endpoint    string `toml:"endpoint"`
	Insecure    bool   `toml:"insecure"`
	ServiceName string `toml:"serviceName"`
}

// PolicyConfig configures the spawn policy.
type PolicyConfig struct {
	BlockedCommands    []string `toml:"blockedCommands"`
	BlockedPatterns    []string `toml:"blockedPatterns"`
	MaxCommandLength   int      `toml:"maxCommandLength"`
	RestrictWorkingDir bool     `toml:"restrictWorkingDir"`
}

// listPaths may be given as comma separated strings, mostly from the
// environment.
var listPaths = []string{
	"runner.shellArgs",
	"tasks.sources",
	"policy.blockedCommands",
	"policy.blockedPatterns",
}

// Defaults returns the built-in configuration as a settings map.
func Defaults() map[string]any {
	return map[string]any{
		"logging": map[string]any{
			"level": "info",
		},
		"runner": map[string]any{
			"shell":           "",
			"shellArgs":       []any{"-c"},
			"maxConcurrent":   int64(8),
			"outputLines":     int64(1000),
			"shutdownTimeout": "5s",
		},
		"tasks": map[string]any{
			"sources":       []any{"static", "vscode", "taskfile", "make", "npm", "lua"},
			"staticFile":    ".tasksmith/tasks.json",
			"luaFile":       ".tasksmith/tasks.lua",
			"vscodeFile":    ".vscode/tasks.json",
			"watch":         false,
			"sourceTimeout": "10s",
		},
		"history": map[string]any{
			"enabled": true,
			"path":    ".tasksmith/history.db",
		},
		"telemetry": map[string]any{
			"enabled":     false,
			"endpoint":    "",
			"serviceName": "tasksmith",
		},
		"policy": map[string]any{
			"blockedCommands": []any{
				"sudo", "su", "doas", "pkexec",
				"shutdown", "reboot", "halt", "poweroff",
				"mkfs", "fdisk", "dd",
			},
			"blockedPatterns":    []any{`rm\s+(-[a-zA-Z]*\s+)*(/|~)(\s|$)`, `>\s*/etc/`},
			"maxCommandLength":   int64(8192),
			"restrictWorkingDir": false,
		},
	}
}

// Option configures Load.
type Option func(*options)

type options struct {
	fs            loader.FileSystem
	userDir       string
	projectDir    string
	file          string
	envPrefix     string
	useEnv        bool
	dotenvFiles   []string
	overrides     map[string]any
	skipUserFiles bool
}

// WithUserConfigDir sets the directory holding the user tasksmith.toml.
func WithUserConfigDir(dir string) Option {
	return func(o *options) { o.userDir = dir }
}

// WithoutUserConfig skips the user configuration file.
func WithoutUserConfig() Option {
	return func(o *options) { o.skipUserFiles = true }
}

// WithProjectDir sets the workspace root holding the project tasksmith.toml.
func WithProjectDir(dir string) Option {
	return func(o *options) { o.projectDir = dir }
}

// WithFile adds an explicit configuration file above the project file.
func WithFile(path string) Option {
	return func(o *options) { o.file = path }
}

// WithFS reads configuration files from fsys.
func WithFS(fsys loader.FileSystem) Option {
	return func(o *options) { o.fs = fsys }
}

// WithEnv enables or disables environment variables.
func WithEnv(enable bool) Option {
	return func(o *options) { o.useEnv = enable }
}

// WithEnvPrefix changes the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(o *options) { o.envPrefix = prefix }
}

// WithDotenv reads prefixed settings from dotenv files, below the process
// environment.
func WithDotenv(paths ...string) Option {
	return func(o *options) { o.dotenvFiles = append(o.dotenvFiles, paths...) }
}

// WithOverrides applies settings above every other source, for example
// from command line flags. Keys are dot-separated paths.
func WithOverrides(values map[string]any) Option {
	return func(o *options) {
		if o.overrides == nil {
			o.overrides = make(map[string]any)
		}
		for k, v := range values {
			o.overrides[k] = v
		}
	}
}

// Load builds the configuration. Sources, lowest precedence first:
// defaults, the user file, the project file, the explicit file, dotenv
// files, the environment, overrides. The result is validated.
func Load(opts ...Option) (*Config, error) {
	o := options{
		fs:        loader.OSFS{},
		envPrefix: loader.DefaultEnvPrefix,
		useEnv:    true,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.userDir == "" && !o.skipUserFiles {
		o.userDir = DefaultUserConfigDir()
	}

	settings := Defaults()
	var files []string

	var paths []string
	if !o.skipUserFiles && o.userDir != "" {
		paths = append(paths, filepath.Join(o.userDir, FileName))
	}
	if o.projectDir != "" {
		paths = append(paths, filepath.Join(o.projectDir, FileName))
	}
	for _, path := range paths {
		m, err := loader.NewTOMLLoaderWithFS(o.fs, path).Load()
		if err != nil {
			return nil, err
		}
		if m != nil {
			settings = loader.DeepMerge(settings, m)
			files = append(files, path)
		}
	}

	if o.file != "" {
		m, err := loader.NewTOMLLoaderWithFS(o.fs, o.file).Load()
		if err != nil {
			return nil, err
		}
		if m == nil {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, o.file)
		}
		settings = loader.DeepMerge(settings, m)
		files = append(files, o.file)
	}

	var envLoaders []loader.Loader
	for _, path := range o.dotenvFiles {
		envLoaders = append(envLoaders, loader.NewDotenvLoader(path, o.envPrefix))
	}
	if o.useEnv {
		envLoaders = append(envLoaders, loader.NewEnvLoader(o.envPrefix))
	}
	for _, l := range envLoaders {
		m, err := l.Load()
		if err != nil {
			return nil, err
		}
		settings = loader.DeepMerge(settings, m)
	}

	for path, value := range o.overrides {
		loader.SetByPath(settings, path, value)
	}

	cfg, err := Decode(settings)
	if err != nil {
		return nil, err
	}
	cfg.Files = files

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode converts a settings map into a Config.
func Decode(settings map[string]any) (*Config, error) {
	settings = loader.Clone(settings)
	for _, path := range listPaths {
		if s, ok := loader.GetByPath(settings, path); ok {
			if str, isString := s.(string); isString {
				loader.SetByPath(settings, path, splitList(str))
			}
		}
	}

	data, err := toml.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("encode settings: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			return nil, &ValidationError{Path: strings.Join(derr.Key(), "."), Message: derr.Error(), Code: ValidationInvalidType}
		}
		return nil, &ValidationError{Message: err.Error(), Code: ValidationInvalidType}
	}
	return &cfg, nil
}

func splitList(s string) []any {
	var out []any
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks every setting and returns all problems joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(path string, value any, code ValidationErrorCode, format string, args ...any) {
		errs = append(errs, &ValidationError{Path: path, Value: value, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		add("logging.level", c.Logging.Level, ValidationInvalidValue, "must be debug, info, warn or error")
	}

	if c.Runner.MaxConcurrent < 0 {
		add("runner.maxConcurrent", c.Runner.MaxConcurrent, ValidationOutOfRange, "must not be negative")
	}
	if c.Runner.OutputLines < 0 {
		add("runner.outputLines", c.Runner.OutputLines, ValidationOutOfRange, "must not be negative")
	}
	if d, err := time.ParseDuration(c.Runner.ShutdownTimeout); err != nil || d < 0 {
		add("runner.shutdownTimeout", c.Runner.ShutdownTimeout, ValidationInvalidValue, "must be a non-negative duration")
	}

	if d, err := time.ParseDuration(c.Tasks.SourceTimeout); err != nil || d < 0 {
		add("tasks.sourceTimeout", c.Tasks.SourceTimeout, ValidationInvalidValue, "must be a non-negative duration")
	}

	seen := make(map[string]bool)
	for _, name := range c.Tasks.Sources {
		if !isKnownSource(name) {
			add("tasks.sources", name, ValidationInvalidValue, "unknown source %q", name)
		}
		if seen[name] {
			add("tasks.sources", name, ValidationInvalidValue, "source %q listed twice", name)
		}
		seen[name] = true
	}

	if c.History.Enabled && c.History.Path == "" {
		add("history.path", "", ValidationRequired, "required when history is enabled")
	}
	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		add("telemetry.serviceName", "", ValidationRequired, "required when telemetry is enabled")
	}
	if c.Policy.MaxCommandLength < 0 {
		add("policy.maxCommandLength", c.Policy.MaxCommandLength, ValidationOutOfRange, "must not be negative")
	}

	return errors.Join(errs...)
}

// SourceEnabled reports whether a source name is listed in tasks.sources.
func (c *Config) SourceEnabled(name string) bool {
	for _, s := range c.Tasks.Sources {
		if s == name {
			return true
		}
	}
	return false
}

func isKnownSource(name string) bool {
	for _, s := range KnownSources {
		if s == name {
			return true
		}
	}
	return false
}

// DefaultUserConfigDir returns $XDG_CONFIG_HOME/tasksmith, or
// ~/.config/tasksmith.
func DefaultUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "tasksmith")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tasksmith")
}
