package app

import (
	"context"
	"maps"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/dshills/tasksmith/internal/config"
	"github.com/dshills/tasksmith/internal/integration/process"
	"github.com/dshills/tasksmith/internal/integration/task"
	"github.com/dshills/tasksmith/internal/integration/task/sources"
	"github.com/dshills/tasksmith/internal/store"
	"github.com/dshills/tasksmith/internal/telemetry"
)

// bootstrapper initializes components in dependency order and cleans up
// the ones already started when a later step fails.
type bootstrapper struct {
	app       *Application
	opts      Options
	initOrder []string
}

func newBootstrapper(app *Application, opts Options) *bootstrapper {
	return &bootstrapper{
		app:       app,
		opts:      opts,
		initOrder: make([]string, 0, 6),
	}
}

func (b *bootstrapper) bootstrap(ctx context.Context) error {
	steps := []struct {
		name string
		init func(context.Context) error
	}{
		{"config", b.initConfig},
		{"telemetry", b.initTelemetry},
		{"history", b.initHistory},
		{"inventory", b.initInventory},
		{"policy", b.initPolicy},
		{"runner", b.initRunner},
	}
	for _, step := range steps {
		if err := step.init(ctx); err != nil {
			// The failed step may have started part of its component.
			b.initOrder = append(b.initOrder, step.name)
			b.cleanup()
			return NewComponentError(step.name, "init", err)
		}
		b.initOrder = append(b.initOrder, step.name)
	}
	return nil
}

func (b *bootstrapper) initConfig(_ context.Context) error {
	app := b.app
	root, err := filepath.Abs(b.opts.WorkspacePath)
	if err != nil {
		return err
	}
	app.root = root

	opts := []config.Option{config.WithProjectDir(root)}
	if b.opts.ConfigPath != "" {
		opts = append(opts, config.WithFile(b.opts.ConfigPath))
	}
	if len(b.opts.EnvFiles) > 0 {
		opts = append(opts, config.WithDotenv(b.opts.EnvFiles...))
	}
	overrides := maps.Clone(b.opts.Overrides)
	if b.opts.LogLevel != "" {
		if overrides == nil {
			overrides = make(map[string]any)
		}
		overrides["logging.level"] = b.opts.LogLevel
	}
	if overrides != nil {
		opts = append(opts, config.WithOverrides(overrides))
	}
	opts = append(opts, b.opts.ConfigOptions...)

	cfg, err := config.Load(opts...)
	if err != nil {
		return err
	}
	app.config = cfg

	if app.logger == nil {
		lc := DefaultLoggerConfig()
		lc.Level = ParseLogLevel(cfg.Logging.Level)
		if b.opts.LogOutput != nil {
			lc.Output = b.opts.LogOutput
		}
		app.logger = NewLogger(lc)
	}
	for _, f := range cfg.Files {
		app.logger.Debug("config file: %s", f)
	}

	app.env = make(map[string]string)
	if len(b.opts.EnvFiles) > 0 {
		env, err := godotenv.Read(b.opts.EnvFiles...)
		if err != nil {
			return err
		}
		app.env = env
	}
	return nil
}

func (b *bootstrapper) initTelemetry(ctx context.Context) error {
	app := b.app
	tc := app.config.Telemetry
	tp, shutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        tc.Enabled,
		ServiceName:    tc.ServiceName,
		ServiceVersion: b.opts.Version,
		Endpoint:       tc.Endpoint,
		Insecure:       tc.Insecure,
	})
	if err != nil {
		return err
	}
	app.tracerProvider = tp
	app.shutdownTelemetry = shutdown
	return nil
}

func (b *bootstrapper) initHistory(_ context.Context) error {
	app := b.app
	if !app.config.History.Enabled {
		return nil
	}
	path := app.config.History.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(app.root, path)
	}
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	app.history = s
	return nil
}

func (b *bootstrapper) initInventory(ctx context.Context) error {
	app := b.app
	cfg := app.config.Tasks

	opts := []task.InventoryOption{
		task.WithTracerProvider(app.tracerProvider),
		task.WithSourceTimeout(cfg.SourceTimeoutDuration()),
	}
	if app.history != nil {
		opts = append(opts, task.WithHistory(app.history))
	}
	inv := task.NewInventory(opts...)

	if cfg.Watch && !app.config.SourceEnabled("static") {
		app.logger.Warn("tasks.watch is set but the static source is not enabled")
	}

	for _, name := range cfg.Sources {
		var src task.Source
		switch name {
		case "static":
			static := sources.NewStaticSource(cfg.StaticFile)
			if cfg.Watch {
				watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
				err := static.Watch(watchCtx, app.root, func() {
					app.logger.Debug("static task file changed")
				})
				if err != nil {
					cancel()
					app.logger.Warn("watch %s: %v", cfg.StaticFile, err)
				} else {
					app.stopWatch = cancel
				}
			}
			src = static
		case "vscode":
			src = sources.NewVSCodeSource(cfg.VSCodeFile)
		case "taskfile":
			src = sources.NewTaskfileSource()
		case "make":
			src = sources.NewMakefileSource()
		case "npm":
			src = sources.NewPackageJSONSource("")
		case "lua":
			src = sources.NewLuaSource(cfg.LuaFile)
		}
		if err := inv.Register(src); err != nil {
			return err
		}
	}
	app.inventory = inv
	return nil
}

func (b *bootstrapper) initPolicy(_ context.Context) error {
	pc := b.app.config.Policy
	policy, err := process.NewPolicy(process.PolicyConfig{
		BlockedCommands:    pc.BlockedCommands,
		BlockedPatterns:    pc.BlockedPatterns,
		MaxCommandLength:   pc.MaxCommandLength,
		RestrictWorkingDir: pc.RestrictWorkingDir,
		WorkspaceRoot:      b.app.root,
	})
	if err != nil {
		return err
	}
	b.app.policy = policy
	return nil
}

func (b *bootstrapper) initRunner(_ context.Context) error {
	app := b.app
	rc := app.config.Runner

	cfg := process.DefaultConfig()
	if rc.Shell != "" {
		cfg.Shell = rc.Shell
	}
	if len(rc.ShellArgs) > 0 {
		cfg.ShellArgs = rc.ShellArgs
	}
	cfg.Env = maps.Clone(app.env)
	if cfg.Env == nil {
		cfg.Env = make(map[string]string)
	}
	maps.Copy(cfg.Env, rc.Env)
	cfg.WorkingDir = app.root
	cfg.MaxConcurrent = rc.MaxConcurrent
	if rc.OutputLines > 0 {
		cfg.OutputLines = rc.OutputLines
	}

	opts := []process.Option{
		process.WithPolicy(app.policy),
		process.WithLogger(app.logger.WithComponent("runner")),
		process.WithListener(app.metrics),
		process.WithListener(telemetry.NewRunTracer(app.tracerProvider)),
	}
	if app.history != nil {
		opts = append(opts, process.WithListener(store.NewRunRecorder(app.history, app.logger.WithComponent("history"))))
	}
	app.runner = process.NewRunner(cfg, opts...)
	return nil
}

// cleanup releases initialized components in reverse order.
func (b *bootstrapper) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	for i := len(b.initOrder) - 1; i >= 0; i-- {
		_ = b.app.closeComponent(ctx, b.initOrder[i])
	}
}
