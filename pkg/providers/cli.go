package providers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"time"
)

// RealExecutor runs commands via os/exec.
type RealExecutor struct{}

// Execute runs a command with the given arguments and environment.
func (r *RealExecutor) Execute(ctx context.Context, command string, args []string, env []string) (*CommandResult, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	return run(cmd, env, command)
}

// ExecuteShell runs a full command line through the platform shell. On unix
// that is `sh -c`, on Windows `cmd.exe /C`.
func (r *RealExecutor) ExecuteShell(ctx context.Context, cmdline string, env []string) (*CommandResult, error) {
	var cmd *exec.Cmd
	if runtime.GOOS == "windows" {
		cmd = exec.CommandContext(ctx, "cmd.exe", "/C", cmdline)
	} else {
		cmd = exec.CommandContext(ctx, "sh", "-c", cmdline)
	}
	return run(cmd, env, cmdline)
}

func run(cmd *exec.Cmd, env []string, label string) (*CommandResult, error) {
	if len(env) > 0 {
		cmd.Env = env
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("execute command %q: %w", label, err)
		}
	}

	return &CommandResult{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		ExitCode: exitCode,
		Duration: duration,
	}, nil
}
