// Package exec runs commands on the local host through the system shell.
package exec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"time"

	"github.com/Command-Relay/commandrelay/internal/port/outbound"
)

// DefaultTimeout bounds commands whose policy did not set one.
const DefaultTimeout = 60 * time.Second

// LocalExecutor implements outbound.Executor with os/exec through the
// platform shell.
type LocalExecutor struct {
	logger         *slog.Logger
	defaultTimeout time.Duration
}

// Option configures a LocalExecutor.
type Option func(*LocalExecutor)

// WithDefaultTimeout overrides the fallback deadline applied when a
// command has no policy timeout.
func WithDefaultTimeout(d time.Duration) Option {
	return func(e *LocalExecutor) {
		if d > 0 {
			e.defaultTimeout = d
		}
	}
}

// NewLocalExecutor creates a local shell executor.
func NewLocalExecutor(logger *slog.Logger, opts ...Option) *LocalExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &LocalExecutor{logger: logger, defaultTimeout: DefaultTimeout}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the command with a deadline, streaming combined output
// line by line. The returned result always carries an exit code; the
// error return means the process could not be started.
func (e *LocalExecutor) Execute(ctx context.Context, command string, timeout time.Duration, onOutput outbound.OutputFunc) (*outbound.CommandResult, error) {
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := shellCommand(ctx, command)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	if onOutput != nil {
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			onOutput(scanner.Text())
		}
	}

	err = cmd.Wait()
	result := &outbound.CommandResult{
		ExitCode: exitCode(cmd, err),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
		Duration: time.Since(start),
	}

	e.logger.Debug("command finished",
		"exit_code", result.ExitCode,
		"timed_out", result.TimedOut,
		"duration", result.Duration)

	return result, nil
}

// shellCommand wraps the command in the platform shell so pipelines and
// redirections work the way operators expect.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}

func exitCode(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// Compile-time interface verification.
var _ outbound.Executor = (*LocalExecutor)(nil)
