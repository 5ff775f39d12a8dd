package process

import (
	"errors"
	"fmt"
	"io/fs"
	"os/exec"
)

// Sentinel errors for the process package.
var (
	// ErrProcessNotStarted is returned when operations require a started process.
	ErrProcessNotStarted = errors.New("process not started")

	// ErrProcessAlreadyStarted is returned when trying to start an already running process.
	ErrProcessAlreadyStarted = errors.New("process already started")

	// ErrSupervisorShutdown is returned when the supervisor is shutting down.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrCommandFailed is wrapped by every CommandError. Callers that do not
	// care why a command failed match on it alone.
	ErrCommandFailed = errors.New("command failed")

	// ErrCommandNotFound means the executable could not be located.
	ErrCommandNotFound = errors.New("command not found")

	// ErrSpawn means the command could not be started for another reason.
	ErrSpawn = errors.New("spawn failed")

	// ErrNonZeroExit means the command ran and exited with a non-zero status.
	ErrNonZeroExit = errors.New("non-zero exit")

	// ErrSignaled means the command was terminated by a signal.
	ErrSignaled = errors.New("terminated by signal")
)

// CommandError reports a failed command.
type CommandError struct {
	// Command is the command line as logged.
	Command string

	// Kind is one of ErrCommandNotFound, ErrSpawn, ErrNonZeroExit, ErrSignaled.
	Kind error

	// ExitCode is the exit status, or -1 if the command never started or
	// was killed by a signal. A command line the shell could not run keeps
	// the shell's status (127 or 126).
	ExitCode int

	// Err is the underlying error.
	Err error
}

func (e *CommandError) Error() string {
	switch {
	case errors.Is(e.Kind, ErrNonZeroExit):
		return fmt.Sprintf("%q exited with code %d", e.Command, e.ExitCode)
	case e.Err != nil:
		return fmt.Sprintf("%q: %s: %v", e.Command, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%q: %s", e.Command, e.Kind)
	}
}

// Unwrap exposes ErrCommandFailed, the kind and the cause to errors.Is/As.
func (e *CommandError) Unwrap() []error {
	errs := []error{ErrCommandFailed, e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// spawnError classifies an error returned while starting a command.
func spawnError(command string, err error) *CommandError {
	kind := ErrSpawn
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		kind = ErrCommandNotFound
	}
	return &CommandError{Command: command, Kind: kind, ExitCode: -1, Err: err}
}

// exitError converts the result of a finished process into an error.
func exitError(command string, p *Process) error {
	err := p.ExitError()
	if err == nil {
		return nil
	}
	if p.State() == StateKilled {
		return &CommandError{Command: command, Kind: ErrSignaled, ExitCode: -1, Err: err}
	}
	return &CommandError{Command: command, Kind: ErrNonZeroExit, ExitCode: p.ExitCode(), Err: err}
}

// shellExitError reclassifies the statuses a POSIX shell uses for a command
// it could not find (127) or could not execute (126).
func shellExitError(err error) error {
	var cerr *CommandError
	if !errors.As(err, &cerr) || !errors.Is(cerr.Kind, ErrNonZeroExit) {
		return err
	}
	switch cerr.ExitCode {
	case 127:
		cerr.Kind = ErrCommandNotFound
	case 126:
		cerr.Kind = ErrSpawn
	}
	return err
}
