package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dshills/tasksmith/internal/config"
	"github.com/dshills/tasksmith/internal/integration/task"
)

func TestParseVars(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]string
		wantErr bool
	}{
		{"none", nil, nil, false},
		{"pairs", []string{"A=1", "B=x=y"}, map[string]string{"A": "1", "B": "x=y"}, false},
		{"empty value", []string{"A="}, map[string]string{"A": ""}, false},
		{"missing equals", []string{"A"}, nil, true},
		{"missing name", []string{"=1"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVars(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseVars() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseVars() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate() = %q", got)
	}
	if got := truncate("abcdefghij", 5); got != "abcd…" {
		t.Errorf("truncate() = %q", got)
	}
}

func setupWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, ".tasksmith")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	tasks := `[
		{"label": "hello", "command": "echo hello ${ZED_CUSTOM_NAME}"},
		{"label": "row", "command": "echo", "args": ["$ZED_ROW"]},
		{"label": "broken", "command": "echo oops >&2; exit 4"}
	]`
	if err := os.WriteFile(filepath.Join(dir, "tasks.json"), []byte(tasks), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := "[runner]\nshell = \"/bin/sh\"\n\n[tasks]\nsources = [\"static\"]\n"
	if err := os.WriteFile(filepath.Join(root, "tasksmith.toml"), []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd(config.WithoutUserConfig(), config.WithEnv(false))
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestListCommand(t *testing.T) {
	root := setupWorkspace(t)

	stdout, _, err := execute(t, "list", "--json", "-w", root)
	if err != nil {
		t.Fatalf("list error = %v", err)
	}
	var entries []listEntry
	if err := json.Unmarshal([]byte(stdout), &entries); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if len(entries) != 3 || entries[0].Key != "static:hello" {
		t.Errorf("entries = %+v", entries)
	}

	stdout, _, err = execute(t, "list", "-w", root)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "SOURCE") || !strings.Contains(stdout, "broken") {
		t.Errorf("table output = %q", stdout)
	}
}

func TestResolveCommand(t *testing.T) {
	root := setupWorkspace(t)

	stdout, _, err := execute(t, "resolve", "row", "-w", root, "--row", "12")
	if err != nil {
		t.Fatalf("resolve error = %v", err)
	}
	var rt task.ResolvedTask
	if err := json.Unmarshal([]byte(stdout), &rt); err != nil {
		t.Fatalf("invalid JSON %q: %v", stdout, err)
	}
	if rt.Resolved == nil || len(rt.Resolved.Args) != 1 || rt.Resolved.Args[0] != "12" {
		t.Errorf("resolved = %+v", rt.Resolved)
	}

	if _, _, err := execute(t, "resolve", "missing", "-w", root); err == nil {
		t.Error("expected error for unknown label")
	}
	if _, _, err := execute(t, "resolve", "row", "-w", root, "--var", "bad"); err == nil {
		t.Error("expected error for malformed --var")
	}
}

func TestRunCommand(t *testing.T) {
	root := setupWorkspace(t)

	stdout, stderr, err := execute(t, "run", "hello", "-w", root, "--var", "NAME=world")
	if err != nil {
		t.Fatalf("run error = %v (stderr %q)", err, stderr)
	}
	if strings.TrimSpace(stdout) != "hello world" {
		t.Errorf("stdout = %q", stdout)
	}
	if !strings.Contains(stderr, "finished") {
		t.Errorf("stderr = %q", stderr)
	}

	stdout, stderr, err = execute(t, "run", "broken", "-q", "-w", root)
	var exit *exitError
	if !errors.As(err, &exit) || exit.code != 4 {
		t.Fatalf("run error = %v, want exit status 4", err)
	}
	if stdout != "" || !strings.Contains(stderr, "oops") {
		t.Errorf("stdout = %q, stderr = %q", stdout, stderr)
	}

	stdout, _, err = execute(t, "history", "-w", root)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, "broken") || !strings.Contains(stdout, "failed") {
		t.Errorf("history = %q", stdout)
	}

	stdout, _, err = execute(t, "history", "--scheduled", "--json", "-w", root)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stdout, `"source": "static"`) {
		t.Errorf("scheduled = %q", stdout)
	}
}

func TestVersionCommand(t *testing.T) {
	stdout, _, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(stdout, "tasksmith "+version) {
		t.Errorf("version = %q", stdout)
	}
}
