package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dshills/tasksmith/internal/integration/task"
)

type recordingListener struct {
	mu        sync.Mutex
	events    []string
	reveals   []task.RevealStrategy
	lines     []string
	completed int
}

func (l *recordingListener) OnStarted(e *Execution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "started")
}

func (l *recordingListener) OnOutput(e *Execution, line OutputLine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, line.Content)
}

func (l *recordingListener) OnReveal(e *Execution, reveal task.RevealStrategy) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "reveal")
	l.reveals = append(l.reveals, reveal)
}

func (l *recordingListener) OnCompleted(e *Execution) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, "completed")
	l.completed++
}

func newTestRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	r := NewRunner(Config{Shell: "/bin/sh", ShellArgs: []string{"-c"}}, opts...)
	t.Cleanup(func() { r.Shutdown(time.Second) })
	return r
}

func waitDone(t *testing.T, e *Execution) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("execution %s did not finish: %v", e.ID, err)
	}
}

func TestRunner_Spawn(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	l := &recordingListener{}
	r := NewRunner(Config{
		Shell:     "/bin/sh",
		ShellArgs: []string{"-c"},
		Env:       map[string]string{"GREETING": "hello", "TARGET": "runner"},
	}, WithListener(l))
	defer r.Shutdown(time.Second)

	e, err := r.Spawn(context.Background(), task.SpawnInTerminal{
		ID:      "greet",
		Label:   "greet",
		Command: `echo "$GREETING $TARGET"; ls; echo oops >&2; echo`,
		Args:    []string{"two words"},
		Cwd:     dir,
		Env:     map[string]string{"TARGET": "task"},
	})
	if err != nil {
		t.Fatalf("Spawn() error = %v", err)
	}
	waitDone(t, e)

	if e.State() != ExecutionStateSucceeded || e.ExitCode() != 0 {
		t.Errorf("State() = %s, ExitCode() = %d", e.State(), e.ExitCode())
	}
	if got := e.OutputText(OutputStreamStdout); got != "hello task\nmarker.txt\ntwo words" {
		t.Errorf("stdout = %q", got)
	}
	if got := e.OutputText(OutputStreamStderr); got != "oops" {
		t.Errorf("stderr = %q", got)
	}
	if e.Duration() <= 0 || e.EndTime().Before(e.StartTime()) {
		t.Error("timestamps not recorded")
	}
	ran := e.Duration()
	time.Sleep(10 * time.Millisecond)
	if e.Duration() != ran {
		t.Error("Duration() should be fixed once the execution ended")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.lines) != 4 {
		t.Errorf("listener saw %d lines, want 4", len(l.lines))
	}
	if len(l.events) != 3 || l.events[0] != "started" || l.events[1] != "reveal" || l.events[2] != "completed" {
		t.Errorf("events = %v", l.events)
	}
}

func TestRunner_FailedExit(t *testing.T) {
	r := newTestRunner(t)
	e, err := r.Spawn(context.Background(), task.SpawnInTerminal{ID: "fail", Command: "exit 3"})
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, e)

	if e.State() != ExecutionStateFailed {
		t.Errorf("State() = %s, want failed", e.State())
	}
	if e.ExitCode() != 3 {
		t.Errorf("ExitCode() = %d, want 3", e.ExitCode())
	}
	if e.Err() == nil {
		t.Error("Err() should be set")
	}
}

func TestRunner_AlreadyRunning(t *testing.T) {
	r := newTestRunner(t)
	spawn := task.SpawnInTerminal{ID: "serve", Label: "serve", Command: "sleep 10"}

	first, err := r.Spawn(context.Background(), spawn)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Spawn(context.Background(), spawn); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Spawn() = %v, want ErrAlreadyRunning", err)
	}

	// A different task is unaffected.
	other, err := r.Spawn(context.Background(), task.SpawnInTerminal{ID: "other", Command: "true"})
	if err != nil {
		t.Fatalf("Spawn(other) error = %v", err)
	}
	waitDone(t, other)

	first.Cancel()
	waitDone(t, first)
	if first.State() != ExecutionStateCanceled {
		t.Errorf("State() = %s, want canceled", first.State())
	}

	again, err := r.Spawn(context.Background(), spawn)
	if err != nil {
		t.Fatalf("Spawn() after cancel error = %v", err)
	}
	again.Cancel()
	waitDone(t, again)
}

func TestRunner_ConcurrentRuns(t *testing.T) {
	r := newTestRunner(t)
	spawn := task.SpawnInTerminal{ID: "watch", Command: "sleep 10", AllowConcurrentRuns: true}

	a, err := r.Spawn(context.Background(), spawn)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Spawn(context.Background(), spawn)
	if err != nil {
		t.Fatalf("concurrent Spawn() error = %v", err)
	}
	if got := len(r.Running("watch")); got != 2 {
		t.Errorf("Running() = %d, want 2", got)
	}

	slot, ok := r.Terminal("watch")
	if !ok || a.TerminalID != slot {
		t.Errorf("first run should own the terminal slot")
	}
	if b.TerminalID == a.TerminalID {
		t.Error("a busy terminal must not be shared")
	}

	r.CancelAll()
	waitDone(t, a)
	waitDone(t, b)
}

func TestRunner_TerminalReuse(t *testing.T) {
	r := newTestRunner(t)
	spawn := task.SpawnInTerminal{ID: "build", Command: "true"}

	first, err := r.Spawn(context.Background(), spawn)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, first)

	second, err := r.Spawn(context.Background(), spawn)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, second)
	if second.TerminalID != first.TerminalID {
		t.Errorf("TerminalID = %s, want reused %s", second.TerminalID, first.TerminalID)
	}

	spawn.UseNewTerminal = true
	third, err := r.Spawn(context.Background(), spawn)
	if err != nil {
		t.Fatal(err)
	}
	waitDone(t, third)
	if third.TerminalID == first.TerminalID {
		t.Error("UseNewTerminal should allocate a fresh terminal")
	}
	if slot, _ := r.Terminal("build"); slot != first.TerminalID {
		t.Error("a new terminal must not replace the reusable slot")
	}
}

func TestRunner_Reveal(t *testing.T) {
	tests := []struct {
		name    string
		reveal  task.RevealStrategy
		command string
		want    []task.RevealStrategy
	}{
		{"always", task.RevealAlways, "true", []task.RevealStrategy{task.RevealAlways}},
		{"default", "", "true", []task.RevealStrategy{task.RevealAlways}},
		{"no focus", task.RevealNoFocus, "true", []task.RevealStrategy{task.RevealNoFocus}},
		{"never", task.RevealNever, "exit 1", nil},
		{"on failure succeeded", task.RevealOnFailure, "true", nil},
		{"on failure failed", task.RevealOnFailure, "exit 1", []task.RevealStrategy{task.RevealOnFailure}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &recordingListener{}
			r := newTestRunner(t, WithListener(l))

			e, err := r.Spawn(context.Background(), task.SpawnInTerminal{ID: "t", Command: tt.command, Reveal: tt.reveal})
			if err != nil {
				t.Fatal(err)
			}
			waitDone(t, e)

			l.mu.Lock()
			defer l.mu.Unlock()
			if len(l.reveals) != len(tt.want) {
				t.Fatalf("reveals = %v, want %v", l.reveals, tt.want)
			}
			for i := range tt.want {
				if l.reveals[i] != tt.want[i] {
					t.Errorf("reveal[%d] = %s, want %s", i, l.reveals[i], tt.want[i])
				}
			}
		})
	}
}

func TestRunner_PolicyRejects(t *testing.T) {
	policy, err := NewPolicy(DefaultPolicyConfig())
	if err != nil {
		t.Fatal(err)
	}
	r := newTestRunner(t, WithPolicy(policy))

	_, err = r.Spawn(context.Background(), task.SpawnInTerminal{ID: "x", Command: "sudo", Args: []string{"ls"}})
	if !errors.Is(err, ErrPolicyViolation) {
		t.Errorf("Spawn() = %v, want ErrPolicyViolation", err)
	}
	if len(r.List()) != 0 {
		t.Error("rejected spawn must not be tracked")
	}
}

func TestRunner_MaxConcurrent(t *testing.T) {
	r := NewRunner(Config{Shell: "/bin/sh", ShellArgs: []string{"-c"}, MaxConcurrent: 1})
	defer r.Shutdown(time.Second)

	first, err := r.Spawn(context.Background(), task.SpawnInTerminal{ID: "a", Command: "sleep 10"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := r.Spawn(ctx, task.SpawnInTerminal{ID: "b", Command: "true"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Spawn() = %v, want DeadlineExceeded", err)
	}

	if err := r.Cancel(first.ID); err != nil {
		t.Fatal(err)
	}
	waitDone(t, first)

	second, err := r.Spawn(context.Background(), task.SpawnInTerminal{ID: "b", Command: "true"})
	if err != nil {
		t.Fatalf("Spawn() after slot freed = %v", err)
	}
	waitDone(t, second)
}

func TestRunner_Stop(t *testing.T) {
	r := newTestRunner(t)
	e, err := r.Spawn(context.Background(), task.SpawnInTerminal{ID: "s", Command: "sleep 10"})
	if err != nil {
		t.Fatal(err)
	}

	if err := r.Stop(e.ID); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	waitDone(t, e)
	if e.State() != ExecutionStateCanceled {
		t.Errorf("State() = %s, want canceled", e.State())
	}

	if err := r.Stop("missing"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("Stop(missing) = %v", err)
	}
	if err := r.Cancel("missing"); !errors.Is(err, ErrExecutionNotFound) {
		t.Errorf("Cancel(missing) = %v", err)
	}

	if n := r.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if _, ok := r.Get(e.ID); ok {
		t.Error("pruned execution should be gone")
	}
}

func TestRunner_ContextCancelKills(t *testing.T) {
	r := newTestRunner(t)
	ctx, cancel := context.WithCancel(context.Background())

	e, err := r.Spawn(ctx, task.SpawnInTerminal{ID: "c", Command: "sleep 10; true"})
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	waitDone(t, e)

	if e.State() != ExecutionStateCanceled {
		t.Errorf("State() = %s, want canceled", e.State())
	}
}

func TestRunner_Shutdown(t *testing.T) {
	l := &recordingListener{}
	r := NewRunner(Config{Shell: "/bin/sh", ShellArgs: []string{"-c"}}, WithListener(l))

	e, err := r.Spawn(context.Background(), task.SpawnInTerminal{ID: "long", Command: "sleep 10"})
	if err != nil {
		t.Fatal(err)
	}

	r.Shutdown(time.Second)

	select {
	case <-e.Done():
	default:
		t.Fatal("Shutdown() should wait for executions")
	}
	l.mu.Lock()
	completed := l.completed
	l.mu.Unlock()
	if completed != 1 {
		t.Errorf("completed = %d, want 1", completed)
	}

	if _, err := r.Spawn(context.Background(), task.SpawnInTerminal{ID: "x", Command: "true"}); !errors.Is(err, ErrRunnerClosed) {
		t.Errorf("Spawn() after Shutdown = %v, want ErrRunnerClosed", err)
	}
}

func TestListenerFuncs(t *testing.T) {
	var started, completed bool
	var l Listener = ListenerFuncs{
		Started:   func(*Execution) { started = true },
		Completed: func(*Execution) { completed = true },
	}
	l.OnStarted(nil)
	l.OnOutput(nil, OutputLine{})
	l.OnReveal(nil, task.RevealAlways)
	l.OnCompleted(nil)
	if !started || !completed {
		t.Error("ListenerFuncs should forward set callbacks")
	}
}
