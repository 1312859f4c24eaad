package sources

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dshills/tasksmith/internal/integration/task"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func hasTag(tmpl task.TaskTemplate, tag string) bool {
	for _, t := range tmpl.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func TestMakefileSource_Name(t *testing.T) {
	if got := NewMakefileSource().Name(); got != "make" {
		t.Errorf("Name() = %q, want %q", got, "make")
	}
}

func TestMakefileSource_TasksToSchedule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Makefile", `.PHONY: build test clean
.DEFAULT_GOAL := build

build:
	go build ./...

test: build
	go test ./...

clean:
	rm -rf bin/

_private:
	echo hidden

bin/app: main.go
	go build -o bin/app

VERSION := 1.0
`)

	templates, err := NewMakefileSource().TasksToSchedule(context.Background(), &task.Workspace{Root: dir})
	if err != nil {
		t.Fatalf("TasksToSchedule() error = %v", err)
	}
	if len(templates) != 3 {
		t.Fatalf("got %d templates, want 3: %+v", len(templates), templates)
	}

	build := templates[0]
	if build.Label != "make build" || build.Command != "make" {
		t.Errorf("build = %+v", build)
	}
	if len(build.Args) != 1 || build.Args[0] != "build" {
		t.Errorf("build args = %v", build.Args)
	}
	if build.Cwd != dir {
		t.Errorf("build cwd = %q, want %q", build.Cwd, dir)
	}
	if !hasTag(build, "default") || !hasTag(build, "build") {
		t.Errorf("build tags = %v", build.Tags)
	}
	if hasTag(templates[1], "default") {
		t.Error("only the default goal should be tagged default")
	}
}

func TestMakefileSource_NoPhony(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "makefile", "all:\n\techo all\nlint:\n\techo lint\n")

	templates, err := NewMakefileSource().TasksToSchedule(context.Background(), &task.Workspace{Root: dir})
	if err != nil {
		t.Fatalf("TasksToSchedule() error = %v", err)
	}
	if len(templates) != 2 {
		t.Fatalf("got %d templates, want 2", len(templates))
	}
	if !hasTag(templates[0], "default") {
		t.Error("first target should be the default goal")
	}
}

func TestMakefileSource_Missing(t *testing.T) {
	templates, err := NewMakefileSource().TasksToSchedule(context.Background(), &task.Workspace{Root: t.TempDir()})
	if err != nil || templates != nil {
		t.Errorf("TasksToSchedule() = %v, %v; want nil, nil", templates, err)
	}
}

func TestMakefileSource_ContextCanceled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "Makefile", "build:\n\tgo build\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewMakefileSource().TasksToSchedule(ctx, &task.Workspace{Root: dir}); err == nil {
		t.Error("expected error for canceled context")
	}
}

func TestInferTags(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"build", "build"},
		{"test-unit", "test"},
		{"fmt", "lint"},
		{"clean", "clean"},
		{"dev", "run"},
		{"release", ""},
	}

	for _, tt := range tests {
		tags := inferTags("make", tt.name)
		if tags[0] != "make" {
			t.Errorf("inferTags(%q)[0] = %q, want origin", tt.name, tags[0])
		}
		got := ""
		if len(tags) > 1 {
			got = tags[1]
		}
		if got != tt.want {
			t.Errorf("inferTags(%q) group = %q, want %q", tt.name, got, tt.want)
		}
	}
}
