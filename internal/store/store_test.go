package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dshills/tasksmith/internal/integration/process"
	"github.com/dshills/tasksmith/internal/integration/task"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history", "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func resolved(label string, id task.TaskID) task.ResolvedTask {
	return task.ResolvedTask{
		ID:            id,
		Original:      task.TaskTemplate{Label: label, Command: "echo"},
		ResolvedLabel: label + " (resolved)",
	}
}

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "history.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file was not created: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}

	if _, err := Open(""); err == nil {
		t.Error("Open(\"\") should fail")
	}
}

func TestStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.RecordScheduled(ctx, "static", resolved("build", "id1")); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	last, err := s.LastScheduled(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := last["static:build"]; !ok {
		t.Errorf("LastScheduled() = %v, want static:build", last)
	}
}

func TestStore_LastScheduled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, step := range []struct {
		source, label string
	}{
		{"static", "build"},
		{"make", "test"},
		{"static", "build"},
	} {
		if err := s.RecordScheduled(ctx, step.source, resolved(step.label, "id")); err != nil {
			t.Fatalf("RecordScheduled() error = %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	last, err := s.LastScheduled(ctx)
	if err != nil {
		t.Fatalf("LastScheduled() error = %v", err)
	}
	if len(last) != 2 {
		t.Fatalf("LastScheduled() = %d keys, want 2", len(last))
	}
	if !last["static:build"].After(last["make:test"]) {
		t.Error("the second build should be the most recent")
	}

	recent, err := s.RecentScheduled(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 || recent[0].Label != "build" || recent[1].Label != "test" {
		t.Errorf("RecentScheduled() = %+v", recent)
	}
	if recent[0].ResolvedLabel != "build (resolved)" || recent[0].TaskID != "id" {
		t.Errorf("RecentScheduled()[0] = %+v", recent[0])
	}
}

func TestStore_PruneScheduled(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordScheduled(ctx, "static", resolved("old", "1")); err != nil {
		t.Fatal(err)
	}
	cutoff := time.Now()
	time.Sleep(2 * time.Millisecond)
	if err := s.RecordScheduled(ctx, "static", resolved("new", "2")); err != nil {
		t.Fatal(err)
	}

	n, err := s.PruneScheduled(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("PruneScheduled() = %d, want 1", n)
	}
	last, _ := s.LastScheduled(ctx)
	if _, ok := last["static:old"]; ok {
		t.Error("old entry should be pruned")
	}
}

func TestStore_Runs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	started := time.Now()

	run := Run{
		ID:         "exec-1",
		TaskID:     "build_1",
		Label:      "build",
		Command:    "go",
		Args:       []string{"build", "./..."},
		Cwd:        "/work",
		TerminalID: "term-1",
		State:      "running",
		StartedAt:  started,
	}
	if err := s.StartRun(ctx, run); err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	got, err := s.GetRun(ctx, "exec-1")
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if got.ExitCode != nil || !got.EndedAt.IsZero() {
		t.Error("unfinished run should have no exit code")
	}
	if len(got.Args) != 2 || got.Args[1] != "./..." {
		t.Errorf("Args = %v", got.Args)
	}

	if err := s.FinishRun(ctx, "exec-1", "failed", 2, "boom", started.Add(time.Second)); err != nil {
		t.Fatalf("FinishRun() error = %v", err)
	}
	got, err = s.GetRun(ctx, "exec-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.State != "failed" || got.ExitCode == nil || *got.ExitCode != 2 || got.Output != "boom" {
		t.Errorf("finished run = %+v", got)
	}
	if got.EndedAt.Sub(got.StartedAt) != time.Second {
		t.Errorf("duration = %v, want 1s", got.EndedAt.Sub(got.StartedAt))
	}

	if err := s.FinishRun(ctx, "missing", "failed", 1, "", time.Now()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun(missing) = %v, want ErrRunNotFound", err)
	}
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("GetRun(missing) = %v, want ErrRunNotFound", err)
	}
}

func TestStore_RecentRuns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now()

	for i, id := range []task.TaskID{"a", "b", "a"} {
		err := s.StartRun(ctx, Run{
			ID:        string(id) + string(rune('0'+i)),
			TaskID:    id,
			Label:     string(id),
			Command:   "true",
			State:     "running",
			StartedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.RecentRuns(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 || all[0].ID != "a2" {
		t.Errorf("RecentRuns() = %+v", all)
	}

	onlyA, err := s.RecentRuns(ctx, "a", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyA) != 2 {
		t.Errorf("RecentRuns(a) = %d runs, want 2", len(onlyA))
	}
}

func TestStore_OrdersInventory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	inv := task.NewInventory(task.WithHistory(s))
	src := staticSource{templates: task.TaskTemplates{
		{Label: "first", Command: "echo"},
		{Label: "second", Command: "echo"},
	}}
	if err := inv.Register(src); err != nil {
		t.Fatal(err)
	}
	ws := &task.Workspace{Root: t.TempDir()}

	scheduled, errs := inv.ResolveAll(ctx, ws, task.TaskContext{})
	if len(errs) != 0 {
		t.Fatal(errs)
	}
	if err := inv.MarkScheduled(ctx, scheduled[1]); err != nil {
		t.Fatalf("MarkScheduled() error = %v", err)
	}

	coll := inv.Collect(ctx, ws)
	if coll.Templates[0].Template.Label != "second" {
		t.Errorf("recently scheduled template should be first, got %q", coll.Templates[0].Template.Label)
	}
}

type staticSource struct {
	templates task.TaskTemplates
}

func (staticSource) Name() string { return "fixed" }

func (s staticSource) TasksToSchedule(context.Context, *task.Workspace) (task.TaskTemplates, error) {
	return s.templates, nil
}

func TestRunRecorder(t *testing.T) {
	s := newTestStore(t)
	runner := process.NewRunner(process.Config{Shell: "/bin/sh", ShellArgs: []string{"-c"}},
		process.WithListener(NewRunRecorder(s, nil)))
	defer runner.Shutdown(time.Second)

	e, err := runner.Spawn(context.Background(), task.SpawnInTerminal{
		ID:      "greet_1",
		Label:   "greet",
		Command: "echo hello; exit 4",
	})
	if err != nil {
		t.Fatal(err)
	}
	<-e.Done()

	run, err := s.GetRun(context.Background(), e.ID)
	if err != nil {
		t.Fatalf("GetRun() error = %v", err)
	}
	if run.TaskID != "greet_1" || run.TerminalID != e.TerminalID {
		t.Errorf("run = %+v", run)
	}
	if run.State != string(process.ExecutionStateFailed) || run.ExitCode == nil || *run.ExitCode != 4 {
		t.Errorf("State = %s, ExitCode = %v", run.State, run.ExitCode)
	}
	if run.Output != "hello" {
		t.Errorf("Output = %q, want hello", run.Output)
	}
}
