package process

import (
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/tasksmith/internal/integration/task"
)

// Supervisor tracks the task processes that are running and shuts them down
// together. It is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process
	closed    atomic.Bool
}

// NewSupervisor creates a process supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{processes: make(map[string]*Process)}
}

// Start starts cmd for the given task under a fresh process ID.
func (s *Supervisor) Start(taskID task.TaskID, label string, cmd *exec.Cmd) (*Process, error) {
	return s.StartWithID(uuid.NewString(), taskID, label, cmd)
}

// StartWithID starts cmd under a caller-chosen process ID.
func (s *Supervisor) StartWithID(id string, taskID task.TaskID, label string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateProcess, id)
	}

	proc := NewProcess(id, taskID, label, cmd)
	if err := proc.start(); err != nil {
		return nil, err
	}
	s.processes[id] = proc

	go s.monitor(proc)
	return proc, nil
}

func (s *Supervisor) monitor(proc *Process) {
	<-proc.Done()

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Get returns a process by ID, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// ByTask returns the live processes running the given task.
func (s *Supervisor) ByTask(id task.TaskID) []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Process
	for _, p := range s.processes {
		if p.TaskID == id {
			result = append(result, p)
		}
	}
	return result
}

// List returns all live processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of live processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// Kill kills a process group by process ID.
func (s *Supervisor) Kill(id string) error {
	proc := s.Get(id)
	if proc == nil {
		return ErrProcessNotFound
	}
	if !proc.IsRunning() {
		return nil
	}
	return proc.Kill()
}

// Terminate sends SIGTERM to a process group by process ID.
func (s *Supervisor) Terminate(id string) error {
	proc := s.Get(id)
	if proc == nil {
		return ErrProcessNotFound
	}
	if !proc.IsRunning() {
		return nil
	}
	return proc.Terminate()
}

// KillAll kills every live process.
func (s *Supervisor) KillAll() {
	for _, p := range s.List() {
		if p.IsRunning() {
			_ = p.Kill()
		}
	}
}

// Shutdown stops accepting processes, sends SIGTERM to the live ones and
// kills whatever is still running after timeout. It returns once every
// process has been reaped and forgotten.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	procs := s.List()
	if len(procs) == 0 {
		return
	}

	for _, p := range procs {
		if p.IsRunning() {
			_ = p.Terminate()
		}
	}

	done := make(chan struct{})
	go func() {
		for _, p := range procs {
			<-p.Done()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		for _, p := range procs {
			if p.IsRunning() {
				_ = p.Kill()
			}
		}
		<-done
	}

	// Monitors remove entries asynchronously.
	for s.Count() > 0 {
		time.Sleep(time.Millisecond)
	}
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}

// Sentinel errors.
var (
	// ErrProcessNotFound is returned when a process ID is unknown.
	ErrProcessNotFound = errors.New("process not found")

	// ErrDuplicateProcess is returned when a process ID is already in use.
	ErrDuplicateProcess = errors.New("process ID already exists")

	// ErrSupervisorShutdown is returned once the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")
)
