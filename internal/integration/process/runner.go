package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/tasksmith/internal/integration/task"
)

// Config configures a Runner.
type Config struct {
	// Shell runs every task command.
	Shell string

	// ShellArgs precede the command line, for example ["-c"].
	ShellArgs []string

	// Env is layered between the process environment and the task env.
	Env map[string]string

	// WorkingDir is used when a task has no cwd. Empty means the current
	// directory of this process.
	WorkingDir string

	// OutputLines is the number of output lines kept per execution.
	OutputLines int

	// MaxLineLength splits longer output lines.
	MaxLineLength int

	// MaxConcurrent limits running executions. Zero means no limit.
	MaxConcurrent int

	// WaitDelay bounds how long output is drained after a task is killed.
	WaitDelay time.Duration
}

// DefaultConfig runs tasks through $SHELL, or /bin/sh.
func DefaultConfig() Config {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return Config{
		Shell:         shell,
		ShellArgs:     []string{"-c"},
		OutputLines:   DefaultOutputLines,
		MaxLineLength: defaultLineBufferSize,
		MaxConcurrent: 8,
		WaitDelay:     5 * time.Second,
	}
}

// ExecutionState is the lifecycle state of an execution.
type ExecutionState string

const (
	ExecutionStateRunning   ExecutionState = "running"
	ExecutionStateSucceeded ExecutionState = "succeeded"
	ExecutionStateFailed    ExecutionState = "failed"
	ExecutionStateCanceled  ExecutionState = "canceled"
)

// Execution is one spawned run of a task.
type Execution struct {
	// ID is unique per execution.
	ID string

	// TerminalID names the terminal slot the run is shown in. Runs of the
	// same task share it unless a new terminal was requested.
	TerminalID string

	// Spawn is the payload the execution was started from.
	Spawn task.SpawnInTerminal

	output   *OutputBuffer
	proc     *Process
	cancel   context.CancelFunc
	canceled atomic.Bool
	flush    func()
	ready    chan struct{}
	done     chan struct{}

	mu       sync.RWMutex
	state    ExecutionState
	exitCode int
	err      error
	started  time.Time
	ended    time.Time
}

// TaskID returns the ID of the task being run.
func (e *Execution) TaskID() task.TaskID {
	return e.Spawn.ID
}

// State returns the current state.
func (e *Execution) State() ExecutionState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// IsRunning reports whether the execution has not finished yet.
func (e *Execution) IsRunning() bool {
	return e.State() == ExecutionStateRunning
}

// ExitCode returns the exit code, or -1 while running or when killed.
func (e *Execution) ExitCode() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.exitCode
}

// Err returns the error the process ended with, if any.
func (e *Execution) Err() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.err
}

// StartTime returns when the process was started.
func (e *Execution) StartTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.started
}

// EndTime returns when the process ended, or the zero time.
func (e *Execution) EndTime() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ended
}

// Duration returns how long the execution ran, or has been running.
func (e *Execution) Duration() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.proc != nil {
		return e.proc.Runtime()
	}
	if e.ended.IsZero() {
		return time.Since(e.started)
	}
	return e.ended.Sub(e.started)
}

// PID returns the shell process ID.
func (e *Execution) PID() int {
	return e.proc.PID()
}

// Output returns the retained output lines.
func (e *Execution) Output() []OutputLine {
	return e.output.Lines()
}

// OutputText returns the retained output of the given streams, or of both.
func (e *Execution) OutputText(streams ...OutputStream) string {
	return e.output.Content(streams...)
}

// Done returns a channel closed once the execution has finished and every
// listener has been told.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the execution finishes or ctx is done.
func (e *Execution) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel kills the process group.
func (e *Execution) Cancel() {
	e.canceled.Store(true)
	e.cancel()
}

// Listener receives execution events. Calls for one execution are made
// from the goroutines that run it, in order: start, reveal, output,
// completion.
type Listener interface {
	OnStarted(e *Execution)
	OnOutput(e *Execution, line OutputLine)
	OnReveal(e *Execution, reveal task.RevealStrategy)
	OnCompleted(e *Execution)
}

// ListenerFuncs adapts functions to a Listener. Nil fields are skipped.
type ListenerFuncs struct {
	Started   func(e *Execution)
	Output    func(e *Execution, line OutputLine)
	Reveal    func(e *Execution, reveal task.RevealStrategy)
	Completed func(e *Execution)
}

func (f ListenerFuncs) OnStarted(e *Execution) {
	if f.Started != nil {
		f.Started(e)
	}
}

func (f ListenerFuncs) OnOutput(e *Execution, line OutputLine) {
	if f.Output != nil {
		f.Output(e, line)
	}
}

func (f ListenerFuncs) OnReveal(e *Execution, reveal task.RevealStrategy) {
	if f.Reveal != nil {
		f.Reveal(e, reveal)
	}
}

func (f ListenerFuncs) OnCompleted(e *Execution) {
	if f.Completed != nil {
		f.Completed(e)
	}
}

// Option configures a Runner.
type Option func(*Runner)

// WithPolicy checks every spawn against p.
func WithPolicy(p *Policy) Option {
	return func(r *Runner) { r.policy = p }
}

// WithLogger sets the runner logger.
func WithLogger(l task.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithSupervisor uses s instead of a private supervisor.
func WithSupervisor(s *Supervisor) Option {
	return func(r *Runner) {
		if s != nil {
			r.supervisor = s
		}
	}
}

// WithListener registers l.
func WithListener(l Listener) Option {
	return func(r *Runner) { r.listeners = append(r.listeners, l) }
}

// Runner spawns resolved tasks. It enforces the concurrency and terminal
// reuse rules carried by each SpawnInTerminal.
type Runner struct {
	config     Config
	policy     *Policy
	logger     task.Logger
	supervisor *Supervisor
	sem        chan struct{}
	wg         sync.WaitGroup
	closed     atomic.Bool

	mu         sync.RWMutex
	executions map[string]*Execution
	terminals  map[task.TaskID]string
	listeners  []Listener
}

// NewRunner creates a runner.
func NewRunner(config Config, opts ...Option) *Runner {
	defaults := DefaultConfig()
	if config.Shell == "" {
		config.Shell = defaults.Shell
		if len(config.ShellArgs) == 0 {
			config.ShellArgs = defaults.ShellArgs
		}
	}
	if config.OutputLines <= 0 {
		config.OutputLines = defaults.OutputLines
	}
	if config.MaxLineLength <= 0 {
		config.MaxLineLength = defaults.MaxLineLength
	}
	if config.WaitDelay <= 0 {
		config.WaitDelay = defaults.WaitDelay
	}

	r := &Runner{
		config:     config,
		logger:     task.NopLogger(),
		supervisor: NewSupervisor(),
		executions: make(map[string]*Execution),
		terminals:  make(map[task.TaskID]string),
	}
	if config.MaxConcurrent > 0 {
		r.sem = make(chan struct{}, config.MaxConcurrent)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddListener registers l for future executions.
func (r *Runner) AddListener(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Spawn starts the task described by spawn. It waits for a free slot when
// MaxConcurrent runs are already going. Canceling ctx kills the task.
func (r *Runner) Spawn(ctx context.Context, spawn task.SpawnInTerminal) (*Execution, error) {
	if r.closed.Load() {
		return nil, ErrRunnerClosed
	}
	if err := r.policy.Check(&spawn); err != nil {
		return nil, fmt.Errorf("spawn %q: %w", spawn.Label, err)
	}
	if err := r.acquire(ctx); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e, err := r.reserve(spawn, cancel)
	if err != nil {
		cancel()
		r.release()
		return nil, err
	}

	if err := r.start(runCtx, e); err != nil {
		cancel()
		r.mu.Lock()
		delete(r.executions, e.ID)
		r.mu.Unlock()
		r.release()
		return nil, fmt.Errorf("spawn %q: %w", spawn.Label, err)
	}

	r.logger.Info("task spawned: %s (task %s, execution %s, terminal %s, pid %d)",
		spawn.Label, spawn.ID, e.ID, e.TerminalID, e.PID())

	r.notifyStarted(e)
	switch spawn.Reveal {
	case task.RevealAlways, task.RevealNoFocus, "":
		r.notifyReveal(e, revealOrDefault(spawn.Reveal))
	}
	close(e.ready)

	r.wg.Add(1)
	go r.wait(e)
	return e, nil
}

// reserve checks the concurrency rule and picks a terminal slot while
// holding the lock, so two spawns of the same task cannot both pass.
func (r *Runner) reserve(spawn task.SpawnInTerminal, cancel context.CancelFunc) (*Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	running := r.runningLocked(spawn.ID)
	if !spawn.AllowConcurrentRuns && len(running) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, spawn.Label)
	}

	terminalID := ""
	if !spawn.UseNewTerminal {
		if slot, ok := r.terminals[spawn.ID]; ok && !terminalBusy(running, slot) {
			terminalID = slot
		}
	}
	if terminalID == "" {
		terminalID = uuid.NewString()
		if !spawn.UseNewTerminal {
			if _, ok := r.terminals[spawn.ID]; !ok {
				r.terminals[spawn.ID] = terminalID
			}
		}
	}

	e := &Execution{
		ID:         uuid.NewString(),
		TerminalID: terminalID,
		Spawn:      spawn,
		output:     NewOutputBuffer(r.config.OutputLines),
		cancel:     cancel,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
		state:      ExecutionStateRunning,
		exitCode:   -1,
	}
	r.executions[e.ID] = e
	return e, nil
}

func terminalBusy(running []*Execution, terminalID string) bool {
	for _, e := range running {
		if e.TerminalID == terminalID {
			return true
		}
	}
	return false
}

func (r *Runner) start(runCtx context.Context, e *Execution) error {
	spawn := e.Spawn

	args := append(append([]string{}, r.config.ShellArgs...), commandLine(spawn.Command, spawn.Args))
	cmd := exec.CommandContext(runCtx, r.config.Shell, args...)
	cmd.Env = buildEnv(r.config.Env, spawn.Env)
	cmd.Dir = r.workingDir(spawn.Cwd)
	cmd.Cancel = func() error {
		err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	cmd.WaitDelay = r.config.WaitDelay

	notify := func(line OutputLine) {
		<-e.ready
		r.notifyOutput(e, line)
	}
	stdout := newLineWriter(OutputStreamStdout, e.output, r.config.MaxLineLength, notify)
	stderr := newLineWriter(OutputStreamStderr, e.output, r.config.MaxLineLength, notify)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	proc, err := r.supervisor.StartWithID(e.ID, spawn.ID, spawn.Label, cmd)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.proc = proc
	e.started = proc.Started
	e.mu.Unlock()
	e.flush = func() {
		stdout.Flush()
		stderr.Flush()
	}
	return nil
}

func (r *Runner) workingDir(cwd string) string {
	if cwd != "" {
		return cwd
	}
	return r.config.WorkingDir
}

// wait records how the execution ended and notifies listeners.
func (r *Runner) wait(e *Execution) {
	defer r.wg.Done()

	<-e.proc.Done()
	e.flush()
	e.cancel()

	exitCode := e.proc.ExitCode()
	state := ExecutionStateSucceeded
	switch {
	case e.canceled.Load() || e.proc.State() == StateKilled:
		state = ExecutionStateCanceled
	case exitCode != 0:
		state = ExecutionStateFailed
	}

	e.mu.Lock()
	e.state = state
	e.exitCode = exitCode
	e.err = e.proc.ExitError()
	e.ended = time.Now()
	e.mu.Unlock()
	r.release()

	r.logger.Info("task finished: %s %s (exit %d, execution %s) in %s",
		e.Spawn.Label, state, exitCode, e.ID, e.Duration())

	if e.Spawn.Reveal == task.RevealOnFailure && exitCode != 0 {
		r.notifyReveal(e, task.RevealOnFailure)
	}
	r.notifyCompleted(e)
	close(e.done)
}

func (r *Runner) acquire(ctx context.Context) error {
	if r.sem == nil {
		return nil
	}
	select {
	case r.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) release() {
	if r.sem != nil {
		<-r.sem
	}
}

// Get returns an execution by ID.
func (r *Runner) Get(id string) (*Execution, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executions[id]
	return e, ok
}

// List returns every tracked execution, finished ones included.
func (r *Runner) List() []*Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Execution, 0, len(r.executions))
	for _, e := range r.executions {
		result = append(result, e)
	}
	return result
}

// Running returns the running executions of a task.
func (r *Runner) Running(id task.TaskID) []*Execution {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runningLocked(id)
}

func (r *Runner) runningLocked(id task.TaskID) []*Execution {
	var result []*Execution
	for _, e := range r.executions {
		if e.Spawn.ID == id && e.IsRunning() {
			result = append(result, e)
		}
	}
	return result
}

// Terminal returns the terminal slot reused by runs of a task.
func (r *Runner) Terminal(id task.TaskID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.terminals[id]
	return t, ok
}

// Cancel kills an execution.
func (r *Runner) Cancel(id string) error {
	e, ok := r.Get(id)
	if !ok {
		return ErrExecutionNotFound
	}
	e.Cancel()
	return nil
}

// Stop asks an execution to terminate with SIGTERM.
func (r *Runner) Stop(id string) error {
	e, ok := r.Get(id)
	if !ok {
		return ErrExecutionNotFound
	}
	e.canceled.Store(true)
	if err := r.supervisor.Terminate(id); err != nil && !errors.Is(err, ErrProcessNotFound) {
		return err
	}
	return nil
}

// CancelAll kills every running execution.
func (r *Runner) CancelAll() {
	for _, e := range r.List() {
		if e.IsRunning() {
			e.Cancel()
		}
	}
}

// Prune forgets finished executions and returns how many were removed.
func (r *Runner) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, e := range r.executions {
		if !e.IsRunning() {
			delete(r.executions, id)
			n++
		}
	}
	return n
}

// Shutdown refuses new spawns, terminates running tasks and kills those
// still alive after timeout. It returns once every listener has been told.
func (r *Runner) Shutdown(timeout time.Duration) {
	if r.closed.Swap(true) {
		return
	}
	for _, e := range r.List() {
		if e.IsRunning() {
			e.canceled.Store(true)
		}
	}
	r.supervisor.Shutdown(timeout)
	r.wg.Wait()
}

func (r *Runner) snapshotListeners() []Listener {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Listener(nil), r.listeners...)
}

func (r *Runner) notifyStarted(e *Execution) {
	for _, l := range r.snapshotListeners() {
		l.OnStarted(e)
	}
}

func (r *Runner) notifyOutput(e *Execution, line OutputLine) {
	for _, l := range r.snapshotListeners() {
		l.OnOutput(e, line)
	}
}

func (r *Runner) notifyReveal(e *Execution, reveal task.RevealStrategy) {
	for _, l := range r.snapshotListeners() {
		l.OnReveal(e, reveal)
	}
}

func (r *Runner) notifyCompleted(e *Execution) {
	for _, l := range r.snapshotListeners() {
		l.OnCompleted(e)
	}
}

func revealOrDefault(r task.RevealStrategy) task.RevealStrategy {
	if r == "" {
		return task.RevealAlways
	}
	return r
}
