package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/tasksmith/internal/app"
	"github.com/dshills/tasksmith/internal/config"
	"github.com/dshills/tasksmith/internal/integration/task"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	workspace  string
	logLevel   string
	envFiles   []string

	configOptions []config.Option
}

// newRootCmd builds the command tree. configOptions are passed to every
// configuration load.
func newRootCmd(configOptions ...config.Option) *cobra.Command {
	g := &globalFlags{configOptions: configOptions}

	root := &cobra.Command{
		Use:   "tasksmith",
		Short: "Resolve and run workspace tasks",
		Long: `tasksmith collects task templates from the workspace (static task files,
.vscode/tasks.json, Taskfile.yml, Makefile, package.json, Lua scripts),
resolves ZED_* variables against an editor snapshot and runs the result.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "explicit configuration file")
	root.PersistentFlags().StringVarP(&g.workspace, "workspace", "w", ".", "workspace root")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringArrayVar(&g.envFiles, "env-file", nil, "dotenv file passed to tasks (repeatable)")

	root.AddCommand(
		newListCmd(g),
		newResolveCmd(g),
		newRunCmd(g),
		newHistoryCmd(g),
		newVersionCmd(),
	)
	return root
}

// openApp bootstraps the application for cmd and returns a close function
// that must be deferred. Logs go to the command's error stream.
func (g *globalFlags) openApp(cmd *cobra.Command) (*app.Application, func(), error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	application, err := app.New(ctx, app.Options{
		WorkspacePath: g.workspace,
		ConfigPath:    g.configPath,
		EnvFiles:      g.envFiles,
		LogLevel:      g.logLevel,
		LogOutput:     cmd.ErrOrStderr(),
		Version:       version,
		ConfigOptions: g.configOptions,
	})
	if err != nil {
		return nil, nil, err
	}
	closeApp := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := application.Close(ctx); err != nil {
			application.Logger().Warn("shutdown: %v", err)
		}
	}
	return application, closeApp, nil
}

// requestFlags describe the editor snapshot for resolve and run.
type requestFlags struct {
	file      string
	row       int
	column    int
	symbol    string
	selection string
	cwd       string
	vars      []string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.file, "file", "", "active file (ZED_FILE)")
	cmd.Flags().IntVar(&f.row, "row", 0, "cursor row, 1-based (ZED_ROW)")
	cmd.Flags().IntVar(&f.column, "column", 0, "cursor column, 1-based (ZED_COLUMN)")
	cmd.Flags().StringVar(&f.symbol, "symbol", "", "symbol at the cursor (ZED_SYMBOL)")
	cmd.Flags().StringVar(&f.selection, "selection", "", "selected text (ZED_SELECTED_TEXT)")
	cmd.Flags().StringVar(&f.cwd, "cwd", "", "working directory override")
	cmd.Flags().StringArrayVar(&f.vars, "var", nil, "custom variable NAME=VALUE, available as ZED_CUSTOM_NAME (repeatable)")
}

func (f *requestFlags) request() (app.Request, error) {
	vars, err := parseVars(f.vars)
	if err != nil {
		return app.Request{}, err
	}
	file := f.file
	if file != "" && !filepath.IsAbs(file) {
		if file, err = filepath.Abs(file); err != nil {
			return app.Request{}, err
		}
	}
	return app.Request{
		Editor: task.EditorState{
			File:         file,
			Row:          f.row,
			Column:       f.column,
			Symbol:       f.symbol,
			SelectedText: f.selection,
		},
		Cwd:       f.cwd,
		Variables: vars,
	}, nil
}

// parseVars parses NAME=VALUE pairs. Values may contain '='.
func parseVars(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --var %q: want NAME=VALUE", p)
		}
		vars[name] = value
	}
	return vars, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tasksmith %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		},
	}
}
