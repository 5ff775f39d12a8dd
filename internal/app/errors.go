package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/colorseasons/buildpipe/internal/integration/process"
	"github.com/colorseasons/buildpipe/internal/integration/task"
)

// Application errors.
var (
	// ErrEnvironment indicates a failed startup precondition, such as a
	// Node version that does not match the project's pin.
	ErrEnvironment = errors.New("environment check failed")

	// ErrManifest indicates the asset manifest is missing or malformed.
	ErrManifest = errors.New("invalid asset manifest")
)

// Exit codes returned by the command.
const (
	ExitOK          = 0
	ExitConfig      = 1
	ExitTaskFailed  = 2
	ExitInterrupted = 130
)

// OperationError is a failure of a pipeline step outside any task, such as
// reading package.json.
type OperationError struct {
	Op     string // Operation name (e.g., "check node", "read manifest")
	Target string // Target of the operation, usually a file path
	Err    error
}

func (e *OperationError) Error() string {
	msg := e.Op
	if e.Target != "" {
		msg = fmt.Sprintf("%s %s", e.Op, e.Target)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// ExitCode maps an error returned by the pipeline to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	if errors.Is(err, ErrEnvironment) {
		return ExitConfig
	}
	var graphErr *task.GraphError
	if errors.As(err, &graphErr) {
		return ExitConfig
	}
	var invErr *task.InvocationError
	if errors.As(err, &invErr) || errors.Is(err, process.ErrCommandFailed) {
		return ExitTaskFailed
	}
	return ExitConfig
}
