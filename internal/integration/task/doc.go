// Package task resolves task templates against editor state.
//
// Templates are shell commands parameterised with variables describing the
// editor at the moment a task is requested: the active file, the worktree
// root, the cursor position, the selection. Resolution turns a template and
// a context snapshot into a spawn-ready description that the process layer
// runs without doing any substitution of its own.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                         Inventory                                │
//	│  - Holds heterogeneous Sources in registration order            │
//	│  - Isolates per-source failures                                 │
//	│  - Orders recently scheduled tasks first                        │
//	└─────────────────────────────────────────────────────────────────┘
//	                              │ TaskTemplates
//	                              ▼
//	┌─────────────────────────────────────────────────────────────────┐
//	│                          Resolve                                 │
//	│  - Substitutes $ZED_* and ${ZED_*} tokens                        │
//	│  - Derives a stable TaskID                                       │
//	│  - Produces SpawnInTerminal                                      │
//	└─────────────────────────────────────────────────────────────────┘
//
// # Variables
//
// Built-in variables render as $ZED_FILE, $ZED_WORKTREE_ROOT, $ZED_SYMBOL,
// $ZED_ROW, $ZED_COLUMN and $ZED_SELECTED_TEXT. Variables contributed by
// sources render as ${ZED_CUSTOM_<NAME>}; the braces keep the name from
// running into adjacent text. Tokens naming no known variable are left in
// place so the shell can expand them.
//
// # Usage
//
//	inv := task.NewInventory()
//	_ = inv.Register(sources.NewStaticSource(path))
//
//	ws := &task.Workspace{Root: root, Editor: task.EditorState{File: file, Row: 12}}
//	cx := inv.BuildContext(ctx, ws)
//	scheduled, errs := inv.ResolveAll(ctx, ws, cx)
//
// # Identity
//
// A TaskID is "<source>_<template hash>_<context hash>". The template hash
// covers every template field; the context hash covers the working
// directory and every variable. Resolving the same template against equal
// contexts yields equal ids, which the process layer uses to refuse
// duplicate runs and to reuse terminal tabs.
//
// # Subpackages
//
//   - sources: static JSON, VS Code, Taskfile, Makefile, package.json and
//     Lua task sources
package task
