package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/dshills/tasksmith/internal/integration/task"

// DefaultSourceTimeout bounds a single source call.
const DefaultSourceTimeout = 10 * time.Second

// History records which tasks were scheduled so the inventory can list
// recently used tasks first.
type History interface {
	// LastScheduled returns the last schedule time per TemplateKey.
	LastScheduled(ctx context.Context) (map[string]time.Time, error)

	// RecordScheduled stores that a task from source was scheduled.
	RecordScheduled(ctx context.Context, source string, rt ResolvedTask) error
}

// TemplateKey identifies a template across collections.
func TemplateKey(source, label string) string {
	return source + ":" + label
}

// SourcedTemplate is a template together with the source that produced it.
type SourcedTemplate struct {
	Source   string
	Template TaskTemplate
}

// Scheduled is a resolved task together with its source.
type Scheduled struct {
	Source string
	Task   ResolvedTask
}

// Collection is the result of querying every source.
type Collection struct {
	// Templates in source registration order, then source order, unless
	// history reordered them.
	Templates []SourcedTemplate

	// Errors holds one entry per failed source.
	Errors []SourceError

	// Duration is how long collection took.
	Duration time.Duration
}

// Inventory aggregates task sources. A failing source never prevents the
// others from reporting.
type Inventory struct {
	mu      sync.RWMutex
	sources []Source
	history History
	tracer  trace.Tracer
	timeout time.Duration
}

// InventoryOption configures an Inventory.
type InventoryOption func(*Inventory)

// WithHistory enables recently-used ordering.
func WithHistory(h History) InventoryOption {
	return func(inv *Inventory) {
		inv.history = h
	}
}

// WithTracerProvider sets the tracer provider used for collection spans.
func WithTracerProvider(tp trace.TracerProvider) InventoryOption {
	return func(inv *Inventory) {
		inv.tracer = tp.Tracer(tracerName)
	}
}

// WithSourceTimeout bounds each source call. A source still running when
// the timeout expires is reported as failed and its result discarded.
// Zero or negative disables the limit.
func WithSourceTimeout(d time.Duration) InventoryOption {
	return func(inv *Inventory) {
		inv.timeout = d
	}
}

// NewInventory creates an inventory with the given sources registered in
// order.
func NewInventory(opts ...InventoryOption) *Inventory {
	inv := &Inventory{
		tracer:  otel.Tracer(tracerName),
		timeout: DefaultSourceTimeout,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Register adds a source. Names must be unique.
func (inv *Inventory) Register(src Source) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for _, existing := range inv.sources {
		if existing.Name() == src.Name() {
			return fmt.Errorf("%w: %s", ErrSourceExists, src.Name())
		}
	}
	inv.sources = append(inv.sources, src)
	return nil
}

// Unregister removes a source by name.
func (inv *Inventory) Unregister(name string) {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	for i, src := range inv.sources {
		if src.Name() == name {
			inv.sources = append(inv.sources[:i], inv.sources[i+1:]...)
			return
		}
	}
}

// Source returns a registered source by name.
func (inv *Inventory) Source(name string) (Source, bool) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	for _, src := range inv.sources {
		if src.Name() == name {
			return src, true
		}
	}
	return nil, false
}

// Sources returns the registered source names in registration order.
func (inv *Inventory) Sources() []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	names := make([]string, len(inv.sources))
	for i, src := range inv.sources {
		names[i] = src.Name()
	}
	return names
}

func (inv *Inventory) snapshot() []Source {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	sources := make([]Source, len(inv.sources))
	copy(sources, inv.sources)
	return sources
}

type sourceResult struct {
	templates TaskTemplates
	err       error
}

// Collect queries every source concurrently.
func (inv *Inventory) Collect(ctx context.Context, ws *Workspace) *Collection {
	ctx, span := inv.tracer.Start(ctx, "task.inventory.collect")
	defer span.End()

	start := time.Now()
	sources := inv.snapshot()
	results := make([]sourceResult, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		i, src := i, src
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = inv.collectSource(ctx, src, ws)
		}()
	}
	wg.Wait()

	coll := &Collection{}
	for i, res := range results {
		name := sources[i].Name()
		if res.err != nil {
			ws.Log().Warn("task source %s failed: %v", name, res.err)
			coll.Errors = append(coll.Errors, SourceError{Source: name, Err: res.err})
			continue
		}
		for _, t := range res.templates {
			coll.Templates = append(coll.Templates, SourcedTemplate{Source: name, Template: t})
		}
	}

	inv.orderByHistory(ctx, ws, coll.Templates)

	coll.Duration = time.Since(start)
	span.SetAttributes(
		attribute.Int("task.templates", len(coll.Templates)),
		attribute.Int("task.source_errors", len(coll.Errors)),
	)
	return coll
}

func (inv *Inventory) collectSource(ctx context.Context, src Source, ws *Workspace) sourceResult {
	ctx, span := inv.tracer.Start(ctx, "task.source.tasks_to_schedule",
		trace.WithAttributes(attribute.String("task.source", src.Name())))
	defer span.End()

	var templates TaskTemplates
	err := inv.call(ctx, func(ctx context.Context) error {
		var err error
		templates, err = src.TasksToSchedule(ctx, ws)
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return sourceResult{err: err}
	}
	span.SetAttributes(attribute.Int("task.templates", len(templates)))
	return sourceResult{templates: templates}
}

// call runs fn under the source timeout and turns a panic into
// ErrSourcePanic. fn's goroutine is abandoned if it ignores the timeout.
func (inv *Inventory) call(ctx context.Context, fn func(context.Context) error) error {
	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", ErrSourcePanic, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s: %w", ErrSourceTimeout, inv.timeout, ctx.Err())
		}
		return ctx.Err()
	}
}

// orderByHistory moves recently scheduled templates to the front, most
// recent first. Templates never scheduled keep their relative order.
func (inv *Inventory) orderByHistory(ctx context.Context, ws *Workspace, templates []SourcedTemplate) {
	if inv.history == nil || len(templates) < 2 {
		return
	}
	last, err := inv.history.LastScheduled(ctx)
	if err != nil {
		ws.Log().Warn("task history unavailable: %v", err)
		return
	}
	sort.SliceStable(templates, func(i, j int) bool {
		ti := last[TemplateKey(templates[i].Source, templates[i].Template.Label)]
		tj := last[TemplateKey(templates[j].Source, templates[j].Template.Label)]
		return ti.After(tj)
	})
}

// BuildContext combines the editor snapshot with custom variables from every
// ContextProvider source. Later sources win on collisions. A provider that
// fails, panics or times out is logged and skipped.
func (inv *Inventory) BuildContext(ctx context.Context, ws *Workspace) TaskContext {
	var cx TaskContext
	if ws != nil {
		cx = ws.Editor.Context()
		if cx.Cwd == "" {
			cx.Cwd = ws.Root
		}
	}

	for _, src := range inv.snapshot() {
		provider, ok := src.(ContextProvider)
		if !ok {
			continue
		}
		var vars TaskVariables
		err := inv.call(ctx, func(ctx context.Context) error {
			var err error
			vars, err = provider.TaskVariables(ctx, ws)
			return err
		})
		if err != nil {
			ws.Log().Warn("task source %s: variables: %v", src.Name(), err)
			continue
		}
		cx.Variables.Extend(vars)
	}
	return cx
}

// ResolveAll collects every template and resolves it against cx. Source
// names are used as id bases.
func (inv *Inventory) ResolveAll(ctx context.Context, ws *Workspace, cx TaskContext) ([]Scheduled, []SourceError) {
	coll := inv.Collect(ctx, ws)
	scheduled := make([]Scheduled, 0, len(coll.Templates))
	for _, st := range coll.Templates {
		scheduled = append(scheduled, Scheduled{
			Source: st.Source,
			Task:   ResolveWithBase(st.Source, st.Template, cx),
		})
	}
	return scheduled, coll.Errors
}

// MarkScheduled records a task in the history, if one is configured.
func (inv *Inventory) MarkScheduled(ctx context.Context, s Scheduled) error {
	if inv.history == nil {
		return nil
	}
	return inv.history.RecordScheduled(ctx, s.Source, s.Task)
}
