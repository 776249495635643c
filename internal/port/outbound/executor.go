// Package outbound defines the driven-side ports of the gateway.
package outbound

import (
	"context"
	"time"
)

// CommandResult is the terminal outcome of one command execution.
type CommandResult struct {
	// ExitCode is the process exit code. -1 when the process never ran
	// or was killed.
	ExitCode int
	// TimedOut is true when the command was killed at its deadline.
	TimedOut bool
	// Duration is the wall-clock execution time.
	Duration time.Duration
}

// OutputFunc receives one line of combined stdout/stderr as the command
// produces it. Called from the executor's reader goroutine; callers must
// not block.
type OutputFunc func(line string)

// Executor runs a single shell command on the agent host and streams
// its output. Implementations enforce the timeout and always return a
// result, even for failed commands; the error return is reserved for
// failures to start the process at all.
type Executor interface {
	Execute(ctx context.Context, command string, timeout time.Duration, onOutput OutputFunc) (*CommandResult, error)
}
