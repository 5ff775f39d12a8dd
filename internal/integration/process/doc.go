// Package process runs the external tools behind every build task.
//
// # Supervisor
//
// The Supervisor is the registry of spawned child processes. It is owned by
// the application rather than being global state, and is handed to the
// Runner through the Spawner interface:
//
//	supervisor := process.NewSupervisor()
//	defer supervisor.Shutdown(5 * time.Second)
//
//	runner := process.NewRunner(supervisor, process.WithLogger(logger))
//
// Shutdown sends SIGTERM once to each running process, waits up to the
// grace period, then kills survivors and their descendants. TerminateAll
// only sends the SIGTERM and returns immediately.
//
// # Runner
//
// The Runner has three modes:
//
//   - Run: inherited stdio, for long-lived tools (dev server, watchers).
//   - Capture: shell command line with buffered output, logged when the
//     command exits and optionally summarized with a problem matcher.
//   - Report: Capture that logs its own start, finish or failure line
//     instead of returning an error.
//
// # Errors
//
// All failures are *CommandError values wrapping ErrCommandFailed. The Kind
// field separates a missing executable (ErrCommandNotFound), other start
// failures (ErrSpawn), a non-zero exit (ErrNonZeroExit) and death by signal
// (ErrSignaled).
//
// # Thread Safety
//
// Supervisor, Process and Runner are safe for concurrent use.
package process
