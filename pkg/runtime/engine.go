package runtime

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ormasoftchile/stepflow/pkg/compiler"
	"github.com/ormasoftchile/stepflow/pkg/ops"
	"github.com/ormasoftchile/stepflow/pkg/providers"
)

// Engine executes a plan sequentially and keeps the workflow log in sync.
type Engine struct {
	Executor  providers.CommandExecutor
	Toolchain ops.Toolchain
	Log       *WorkflowLog
	Logger    *zap.Logger

	// NoExecution prints each command instead of running it. The workflow
	// log is still written, with no step marked completed.
	NoExecution bool

	// ManifestPath is recorded in the run summary.
	ManifestPath string
	// OutputDir receives run_info.json alongside the workflow log.
	OutputDir string
}

// Run executes every record in the plan in order. The first failure aborts
// the run; the workflow log is flushed before the error propagates so the run
// can be resumed. On success the log and the run summary are written once.
func (e *Engine) Run(ctx context.Context, plan *Plan) error {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if e.NoExecution {
		for i, rec := range plan.Records {
			fmt.Printf("▶ Step %d/%d [order %d]: %s\n", i+1, len(plan.Records), rec.Order, describe(rec))
		}
		fmt.Printf("\n⊘ %d step(s) printed, none executed\n", len(plan.Records))
		return e.Log.Write()
	}

	info := RunInfo{
		StartedAt: Timestamp(time.Now()),
		Manifest:  e.ManifestPath,
	}

	for i, rec := range plan.Records {
		fmt.Printf("\n▶ Step %d/%d [order %d]: %s\n", i+1, len(plan.Records), rec.Order, describe(rec))
		logger.Info("executing step",
			zap.Int64("order", rec.Order),
			zap.String("program", rec.Program),
			zap.Bool("builtin", !rec.IsExternal()))

		stepStart := time.Now()
		if err := e.runRecord(ctx, rec, logger); err != nil {
			fmt.Printf("  ✗ Step [order %d] failed: %v\n", rec.Order, err)
			fmt.Printf("  Resume with: stepflow run --manifest %s --output %s --resume\n", e.Log.Path(), e.OutputDir)
			order := rec.Order
			info.FailedAt = &order
			info.EndedAt = Timestamp(time.Now())
			e.flush(info, logger)
			return fmt.Errorf("step with order %d (%s): %w", rec.Order, rec.Program, err)
		}

		if err := e.Log.MarkCompleted(rec.Trajectory); err != nil {
			info.EndedAt = Timestamp(time.Now())
			e.flush(info, logger)
			return fmt.Errorf("record completion of step %d: %w", rec.Order, err)
		}
		info.Executed = append(info.Executed, StepRun{
			Order:   rec.Order,
			Program: rec.Program,
			Runtime: time.Since(stepStart).Round(time.Millisecond).String(),
		})
		fmt.Printf("  ✓ Step [order %d] completed\n", rec.Order)
	}

	info.Succeeded = true
	info.EndedAt = Timestamp(time.Now())
	if err := e.Log.Write(); err != nil {
		return err
	}
	if err := AppendRunInfo(e.OutputDir, info); err != nil {
		return err
	}
	fmt.Printf("\n✓ Workflow completed (%d steps)\n  Log: %s\n", len(plan.Records), e.Log.Path())
	return nil
}

// flush persists the log and summary on the abort path. Failures here are
// logged but do not mask the step error.
func (e *Engine) flush(info RunInfo, logger *zap.Logger) {
	if err := e.Log.Write(); err != nil {
		logger.Error("flushing workflow log after failure", zap.Error(err))
	}
	if err := AppendRunInfo(e.OutputDir, info); err != nil {
		logger.Error("writing run summary after failure", zap.Error(err))
	}
}

func (e *Engine) runRecord(ctx context.Context, rec *compiler.CommandRecord, logger *zap.Logger) error {
	if !rec.IsExternal() {
		return rec.Builtin.Run(ctx, e.Toolchain)
	}
	return e.runExternal(ctx, rec, logger)
}

// runExternal spawns the program directly, and on failure retries the full
// command line through a shell exactly once. Arguments that rely on shell
// constructs such as redirection or globbing only work on the second attempt.
func (e *Engine) runExternal(ctx context.Context, rec *compiler.CommandRecord, logger *zap.Logger) error {
	res, err := e.Executor.Execute(ctx, rec.Program, rec.Args, nil)
	if err == nil && res.Success() {
		return nil
	}
	if err != nil {
		logger.Warn("direct execution failed, retrying through shell",
			zap.String("program", rec.Program), zap.Error(err))
	} else {
		logger.Warn("direct execution failed, retrying through shell",
			zap.String("program", rec.Program), zap.Int("exit_code", res.ExitCode))
	}

	res, err = e.Executor.ExecuteShell(ctx, rec.CommandLine(), nil)
	if err != nil {
		return fmt.Errorf("shell fallback: %w", err)
	}
	if !res.Success() {
		return fmt.Errorf("exited with status %d: %s", res.ExitCode, bytes.TrimSpace(res.Stderr))
	}
	return nil
}

func describe(rec *compiler.CommandRecord) string {
	if rec.IsExternal() {
		return rec.CommandLine()
	}
	return rec.Program
}
