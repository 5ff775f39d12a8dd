package process

import (
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Spawner starts commands and tracks the resulting processes.
//
// *Supervisor is the production implementation. Tests substitute fakes to
// observe which commands the runner spawns.
type Spawner interface {
	Start(name string, cmd *exec.Cmd) (*Process, error)
}

// Supervisor is the registry of every child process spawned during a session.
//
// Processes are added when they start and removed once they exit. At
// shutdown every process still running receives one SIGTERM; Shutdown then
// escalates to SIGKILL for anything that outlives the grace period.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process

	// closed indicates the supervisor has been shut down
	closed atomic.Bool

	// onProcessExit is called when a process exits
	onProcessExit func(p *Process)

	// descendants lists the PIDs below a process, used before a forced kill
	descendants func(pid int) []int32
}

// SupervisorOption configures a Supervisor instance.
type SupervisorOption func(*Supervisor)

// WithProcessExitCallback sets a callback for when processes exit.
func WithProcessExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onProcessExit = fn
	}
}

// NewSupervisor creates a new process supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes:   make(map[string]*Process),
		descendants: Descendants,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start starts a new managed process.
//
// The command's standard streams are used as configured by the caller.
// Returns ErrSupervisorShutdown if the supervisor is shutting down.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	return s.StartWithID(uuid.New().String(), name, cmd)
}

// StartWithID starts a new managed process with a specific ID.
func (s *Supervisor) StartWithID(id, name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Check shutdown state under lock so a late start cannot escape teardown
	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}

	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("process ID already exists: %s", id)
	}

	proc := NewProcess(id, name, cmd)

	// Start the process before tracking (so we don't track failed starts)
	if err := proc.start(); err != nil {
		return nil, err
	}

	s.processes[id] = proc

	go s.monitorProcess(proc)

	return proc, nil
}

// monitorProcess watches for process exit and cleans up.
func (s *Supervisor) monitorProcess(proc *Process) {
	<-proc.Done()

	if s.onProcessExit != nil {
		func() {
			defer func() {
				// Callback panics must not leak the process entry.
				_ = recover()
			}()
			s.onProcessExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Get returns a process by ID.
// Returns nil if the process is not found.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns all managed processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		result = append(result, p)
	}
	return result
}

// Count returns the number of managed processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// TerminateAll sends SIGTERM to every running process without waiting for
// any of them to exit.
func (s *Supervisor) TerminateAll() {
	for _, p := range s.List() {
		if p.IsRunning() {
			_ = p.Terminate()
		}
	}
}

// Shutdown terminates all processes and refuses new ones.
//
// It sends SIGTERM to every running process and waits up to timeout for
// them to exit. Processes still running after the timeout are killed with
// SIGKILL together with their descendants.
//
// Shutdown blocks until all processes have exited and been removed.
func (s *Supervisor) Shutdown(timeout time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	// Take the snapshot under the write lock so no start can interleave.
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		procs = append(procs, p)
	}
	s.mu.Unlock()

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
				s.forceKill(p)
			}
		}
		<-done
	}

	// Wait for monitor goroutines to remove the entries so Count() is 0.
	s.waitForCleanup()
}

// forceKill kills a process and everything it spawned.
func (s *Supervisor) forceKill(p *Process) {
	killTree(p, s.descendants)
}

// waitForCleanup waits for all processes to be removed from the map.
func (s *Supervisor) waitForCleanup() {
	for {
		if s.Count() == 0 {
			return
		}
		time.Sleep(1 * time.Millisecond)
	}
}

// Ensure Supervisor implements Spawner.
var _ Spawner = (*Supervisor)(nil)
