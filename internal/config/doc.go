// Package config loads the tasksmith configuration.
//
// Settings are layered, later layers overriding earlier ones:
//
//	┌─────────────────────────────┐
//	│  7. Overrides (CLI flags)   │  ← Highest priority
//	├─────────────────────────────┤
//	│  6. Environment Variables   │  ← TASKSMITH_*
//	├─────────────────────────────┤
//	│  5. Dotenv Files            │  ← --env-file
//	├─────────────────────────────┤
//	│  4. Explicit File           │  ← --config
//	├─────────────────────────────┤
//	│  3. Project File            │  ← <workspace>/tasksmith.toml
//	├─────────────────────────────┤
//	│  2. User File               │  ← ~/.config/tasksmith/tasksmith.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Layers are plain maps merged with loader.DeepMerge and decoded into a
// Config at the end:
//
//	cfg, err := config.Load(config.WithProjectDir(root))
//	if err != nil {
//	    return err
//	}
//	fmt.Println(cfg.Runner.Shell)
//
// Lists may be given as comma separated strings, which is convenient in
// environment variables:
//
//	TASKSMITH_SOURCES=static,make
package config
