package task

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type fakeSource struct {
	name      string
	templates TaskTemplates
	err       error
	panicMsg  string
	vars      TaskVariables
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) TasksToSchedule(_ context.Context, _ *Workspace) (TaskTemplates, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.templates, s.err
}

type providerSource struct {
	fakeSource
}

func (s *providerSource) TaskVariables(_ context.Context, _ *Workspace) (TaskVariables, error) {
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	return s.vars, s.err
}

// blockingSource never answers until release is closed and ignores its
// context.
type blockingSource struct {
	name    string
	release chan struct{}
}

func (s *blockingSource) Name() string { return s.name }

func (s *blockingSource) TasksToSchedule(context.Context, *Workspace) (TaskTemplates, error) {
	<-s.release
	return TaskTemplates{{Label: "late", Command: "true"}}, nil
}

func (s *blockingSource) TaskVariables(context.Context, *Workspace) (TaskVariables, error) {
	<-s.release
	return NewTaskVariables(map[VariableName]string{CustomVariable("LATE"): "1"}), nil
}

func newBlockingSource(t *testing.T, name string) *blockingSource {
	t.Helper()
	s := &blockingSource{name: name, release: make(chan struct{})}
	t.Cleanup(func() { close(s.release) })
	return s
}

type fakeHistory struct {
	last     map[string]time.Time
	recorded []string
}

func (h *fakeHistory) LastScheduled(context.Context) (map[string]time.Time, error) {
	return h.last, nil
}

func (h *fakeHistory) RecordScheduled(_ context.Context, source string, rt ResolvedTask) error {
	h.recorded = append(h.recorded, TemplateKey(source, rt.Original.Label))
	return nil
}

func labels(coll *Collection) []string {
	out := make([]string, len(coll.Templates))
	for i, st := range coll.Templates {
		out[i] = st.Source + "/" + st.Template.Label
	}
	return out
}

func TestInventory_RegisterDuplicate(t *testing.T) {
	inv := NewInventory()
	if err := inv.Register(&fakeSource{name: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := inv.Register(&fakeSource{name: "a"}); !errors.Is(err, ErrSourceExists) {
		t.Errorf("Register duplicate = %v, want ErrSourceExists", err)
	}

	inv.Unregister("a")
	if len(inv.Sources()) != 0 {
		t.Errorf("Sources() = %v, want empty", inv.Sources())
	}
}

func TestInventory_CollectPreservesOrder(t *testing.T) {
	inv := NewInventory()
	_ = inv.Register(&fakeSource{name: "first", templates: TaskTemplates{{Label: "b"}, {Label: "a"}}})
	_ = inv.Register(&fakeSource{name: "second", templates: TaskTemplates{{Label: "c"}}})

	coll := inv.Collect(context.Background(), &Workspace{})
	got := strings.Join(labels(coll), ",")
	if got != "first/b,first/a,second/c" {
		t.Errorf("order = %s", got)
	}
}

func TestInventory_IsolatesFailures(t *testing.T) {
	inv := NewInventory()
	_ = inv.Register(&fakeSource{name: "broken", err: errors.New("bad json")})
	_ = inv.Register(&fakeSource{name: "panicky", panicMsg: "boom"})
	_ = inv.Register(&fakeSource{name: "ok", templates: TaskTemplates{{Label: "x", Command: "y"}}})

	coll := inv.Collect(context.Background(), nil)

	if len(coll.Templates) != 1 || coll.Templates[0].Source != "ok" {
		t.Errorf("templates = %v, want only the ok source", labels(coll))
	}
	if len(coll.Errors) != 2 {
		t.Fatalf("got %d errors, want 2", len(coll.Errors))
	}
	if coll.Errors[0].Source != "broken" {
		t.Errorf("first error source = %q", coll.Errors[0].Source)
	}
	if !errors.Is(coll.Errors[1], ErrSourcePanic) {
		t.Errorf("panic error = %v, want ErrSourcePanic", coll.Errors[1])
	}
}

func TestInventory_HistoryOrdering(t *testing.T) {
	now := time.Now()
	hist := &fakeHistory{last: map[string]time.Time{
		TemplateKey("s", "c"): now,
		TemplateKey("s", "a"): now.Add(-time.Hour),
	}}

	inv := NewInventory(WithHistory(hist))
	_ = inv.Register(&fakeSource{name: "s", templates: TaskTemplates{{Label: "a"}, {Label: "b"}, {Label: "c"}, {Label: "d"}}})

	got := strings.Join(labels(inv.Collect(context.Background(), nil)), ",")
	if got != "s/c,s/a,s/b,s/d" {
		t.Errorf("order = %s", got)
	}
}

func TestInventory_BuildContext(t *testing.T) {
	inv := NewInventory()
	_ = inv.Register(&providerSource{fakeSource{name: "p1", vars: NewTaskVariables(map[VariableName]string{
		CustomVariable("MODE"): "debug",
		CustomVariable("ONE"):  "1",
	})}})
	_ = inv.Register(&fakeSource{name: "plain"})
	_ = inv.Register(&providerSource{fakeSource{name: "p2", vars: NewTaskVariables(map[VariableName]string{
		CustomVariable("MODE"): "release",
	})}})
	_ = inv.Register(&providerSource{fakeSource{name: "p3", err: errors.New("lua error")}})
	_ = inv.Register(&providerSource{fakeSource{name: "p4", panicMsg: "provider exploded"}})
	_ = inv.Register(&providerSource{fakeSource{name: "p5", vars: NewTaskVariables(map[VariableName]string{
		CustomVariable("X"): "1",
	})}})

	ws := &Workspace{Root: "/root", Editor: EditorState{File: "/root/a.go"}}
	cx := inv.BuildContext(context.Background(), ws)

	if cx.Cwd != "/root" {
		t.Errorf("Cwd = %q, want workspace root", cx.Cwd)
	}
	if v, _ := cx.Variables.Get(CustomVariable("MODE")); v != "release" {
		t.Errorf("MODE = %q, want later provider to win", v)
	}
	if v, _ := cx.Variables.Get(CustomVariable("ONE")); v != "1" {
		t.Errorf("ONE = %q", v)
	}
	if v, _ := cx.Variables.Get(VariableFile); v != "/root/a.go" {
		t.Errorf("FILE = %q", v)
	}
	if v, _ := cx.Variables.Get(CustomVariable("X")); v != "1" {
		t.Errorf("X = %q, want providers after a panicking one to contribute", v)
	}
}

func TestInventory_CollectSourceTimeout(t *testing.T) {
	inv := NewInventory(WithSourceTimeout(20 * time.Millisecond))
	_ = inv.Register(newBlockingSource(t, "stuck"))
	_ = inv.Register(&fakeSource{name: "ok", templates: TaskTemplates{{Label: "x", Command: "y"}}})

	done := make(chan *Collection, 1)
	go func() { done <- inv.Collect(context.Background(), nil) }()

	var coll *Collection
	select {
	case coll = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Collect blocked on a source that never returns")
	}

	if got := strings.Join(labels(coll), ","); got != "ok/x" {
		t.Errorf("templates = %s, want only ok/x", got)
	}
	if len(coll.Errors) != 1 || coll.Errors[0].Source != "stuck" {
		t.Fatalf("errors = %v, want one for stuck", coll.Errors)
	}
	if !errors.Is(coll.Errors[0], ErrSourceTimeout) || !errors.Is(coll.Errors[0], context.DeadlineExceeded) {
		t.Errorf("error = %v, want ErrSourceTimeout wrapping DeadlineExceeded", coll.Errors[0])
	}
}

func TestInventory_BuildContextProviderTimeout(t *testing.T) {
	inv := NewInventory(WithSourceTimeout(20 * time.Millisecond))
	_ = inv.Register(newBlockingSource(t, "stuck"))
	_ = inv.Register(&providerSource{fakeSource{name: "p", vars: NewTaskVariables(map[VariableName]string{
		CustomVariable("MODE"): "debug",
	})}})

	cx := inv.BuildContext(context.Background(), &Workspace{Root: "/w"})

	if v, _ := cx.Variables.Get(CustomVariable("MODE")); v != "debug" {
		t.Errorf("MODE = %q", v)
	}
	if _, ok := cx.Variables.Get(CustomVariable("LATE")); ok {
		t.Error("variables from a timed out provider should be dropped")
	}
}

func TestInventory_NoSourceTimeout(t *testing.T) {
	inv := NewInventory(WithSourceTimeout(0))
	_ = inv.Register(&fakeSource{name: "ok", templates: TaskTemplates{{Label: "x", Command: "y"}}})

	coll := inv.Collect(context.Background(), nil)
	if len(coll.Templates) != 1 || len(coll.Errors) != 0 {
		t.Errorf("templates = %v, errors = %v", labels(coll), coll.Errors)
	}
}

func TestInventory_ResolveAllAndMarkScheduled(t *testing.T) {
	hist := &fakeHistory{}
	inv := NewInventory(WithHistory(hist))
	_ = inv.Register(&fakeSource{name: "static", templates: TaskTemplates{
		{Label: "echo", Command: "echo $ZED_FILE"},
		{Label: "broken"},
	}})

	cx := EditorState{File: "/x"}.Context()
	scheduled, errs := inv.ResolveAll(context.Background(), nil, cx)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(scheduled) != 2 {
		t.Fatalf("got %d tasks, want 2", len(scheduled))
	}
	if !strings.HasPrefix(string(scheduled[0].Task.ID), "static_") {
		t.Errorf("ID = %q, want source prefix", scheduled[0].Task.ID)
	}
	if scheduled[0].Task.Resolved.Command != "echo /x" {
		t.Errorf("Command = %q", scheduled[0].Task.Resolved.Command)
	}
	if scheduled[1].Task.Resolved != nil {
		t.Error("template without command should not be spawnable")
	}

	if err := inv.MarkScheduled(context.Background(), scheduled[0]); err != nil {
		t.Fatalf("MarkScheduled: %v", err)
	}
	if len(hist.recorded) != 1 || hist.recorded[0] != "static:echo" {
		t.Errorf("recorded = %v", hist.recorded)
	}
}

func TestFindSource(t *testing.T) {
	inv := NewInventory()
	_ = inv.Register(&fakeSource{name: "plain"})
	_ = inv.Register(&providerSource{fakeSource{name: "provider"}})

	p, ok := FindSource[*providerSource](inv)
	if !ok || p.Name() != "provider" {
		t.Errorf("FindSource = %v, %v", p, ok)
	}

	if _, ok := FindSource[*stubSource](inv); ok {
		t.Error("FindSource should fail for unregistered type")
	}
}

type stubSource struct{}

func (stubSource) Name() string { return "stub" }
func (stubSource) TasksToSchedule(context.Context, *Workspace) (TaskTemplates, error) {
	return nil, nil
}

func TestInventory_CollectSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	inv := NewInventory(WithTracerProvider(tp))
	_ = inv.Register(&fakeSource{name: "a", templates: TaskTemplates{{Label: "x"}}})
	_ = inv.Register(&fakeSource{name: "b", err: errors.New("nope")})

	inv.Collect(context.Background(), nil)

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("got %d spans, want 3", len(spans))
	}
	names := map[string]int{}
	for _, s := range spans {
		names[s.Name]++
	}
	if names["task.inventory.collect"] != 1 || names["task.source.tasks_to_schedule"] != 2 {
		t.Errorf("span names = %v", names)
	}
}
