// Package providers defines the CommandExecutor interface the run loop
// uses to spawn external processes, and its implementations.
package providers

import (
	"context"
	"time"
)

// CommandResult holds the output of a single command execution.
type CommandResult struct {
	Stdout   []byte        `json:"stdout"`
	Stderr   []byte        `json:"stderr"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Success reports whether the command exited cleanly.
func (r *CommandResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// CommandExecutor abstracts process execution so the run loop can be tested
// without spawning anything. Execute spawns the program directly;
// ExecuteShell re-runs a full command line through a shell interpreter,
// which the run loop uses as its single fallback attempt for commands that
// rely on shell constructs such as redirection.
type CommandExecutor interface {
	Execute(ctx context.Context, command string, args []string, env []string) (*CommandResult, error)
	ExecuteShell(ctx context.Context, cmdline string, env []string) (*CommandResult, error)
}
