package process

import (
	"os/exec"
	"strings"
	"testing"
)

func TestShellEscape(t *testing.T) {
	args := []string{
		"",
		"simple",
		"./path/to-file_1.go",
		"KEY=a,b",
		"hello world",
		"it's",
		"$HOME",
		"a;b",
		"`date`",
		"~user",
		"tab\there",
		"*.go",
	}

	line := commandLine(`printf '%s\n'`, args)
	out, err := exec.Command("/bin/sh", "-c", line).Output()
	if err != nil {
		t.Fatalf("sh -c %q: %v", line, err)
	}
	got := strings.Split(strings.TrimSuffix(string(out), "\n"), "\n")
	if len(got) != len(args) {
		t.Fatalf("shell saw %d args, want %d: %q", len(got), len(args), got)
	}
	for i, want := range args {
		if got[i] != want {
			t.Errorf("arg %d = %q, want %q", i, got[i], want)
		}
	}
}

func TestCommandLine(t *testing.T) {
	tests := []struct {
		command string
		args    []string
		want    string
	}{
		{"make", nil, "make"},
		{"go test", []string{"-run", "Test Foo", "./..."}, "go test -run 'Test Foo' ./..."},
		{"echo", []string{""}, "echo ''"},
		{"echo $HOME", []string{"KEY=a,b"}, "echo $HOME KEY=a,b"},
	}
	for _, tt := range tests {
		if got := commandLine(tt.command, tt.args); got != tt.want {
			t.Errorf("commandLine(%q, %q) = %q, want %q", tt.command, tt.args, got, tt.want)
		}
	}
}

func TestBuildEnv(t *testing.T) {
	t.Setenv("TASKSMITH_LAYER", "process")

	env := buildEnv(
		map[string]string{"TASKSMITH_LAYER": "runner", "A": "1"},
		map[string]string{"A": "2"},
	)

	values := make(map[string]string)
	prev := ""
	for i, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		values[k] = v
		if i > 0 && prev > k {
			t.Fatalf("env not sorted at %d", i)
		}
		prev = k
	}
	if values["TASKSMITH_LAYER"] != "runner" {
		t.Errorf("runner env should override process env, got %q", values["TASKSMITH_LAYER"])
	}
	if values["A"] != "2" {
		t.Errorf("spawn env should win, got %q", values["A"])
	}
}
