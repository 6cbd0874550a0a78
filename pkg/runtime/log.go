// Package runtime drives compiled workflow queues: it plans which steps run,
// executes them in order, and maintains the on-disk workflow log that makes
// interrupted runs resumable.
package runtime

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ormasoftchile/stepflow/pkg/manifest"
)

// WorkflowLog is the persistent record of a run. It owns a deep clone of the
// compiled manifest; when a step completes, its Execution Order is negated in
// place, so the log file doubles as a restartable manifest.
type WorkflowLog struct {
	Tree *manifest.Tree
	path string
}

// NewWorkflowLog clones src and binds the log to its on-disk location,
// <outputDir>/<basename of manifestPath>.json.
func NewWorkflowLog(src *manifest.Tree, outputDir, manifestPath string) *WorkflowLog {
	base := filepath.Base(manifestPath)
	if ext := filepath.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	return &WorkflowLog{
		Tree: src.Clone(),
		path: filepath.Join(outputDir, base+".json"),
	}
}

// Path returns where Write will place the log file.
func (l *WorkflowLog) Path() string { return l.path }

// MarkCompleted negates the Execution Order of the step node the trajectory
// points at. Negating twice is an error: it would flip the step back to
// runnable and corrupt resume.
func (l *WorkflowLog) MarkCompleted(traj []int) error {
	node, err := l.Tree.Resolve(traj)
	if err != nil {
		return fmt.Errorf("locate step: %w", err)
	}
	leaf, ok := l.Tree.Child(node, manifest.FieldExecutionOrder)
	if !ok {
		return fmt.Errorf("trajectory does not point at a step node")
	}
	val, err := l.Tree.LeafString(leaf)
	if err != nil {
		return fmt.Errorf("read %s: %w", manifest.FieldExecutionOrder, err)
	}
	order, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fmt.Errorf("parse %s %q: %w", manifest.FieldExecutionOrder, val, err)
	}
	if order < 0 {
		return fmt.Errorf("step with order %d is already marked completed", -order)
	}
	quoted := strconv.Quote(strconv.FormatInt(-order, 10))
	return l.Tree.SetLeaf(leaf, json.RawMessage(quoted))
}

// Write serializes the log tree to its path, creating the output directory if
// needed. The file is replaced whole on every write.
func (l *WorkflowLog) Write() error {
	data, err := l.Tree.Encode()
	if err != nil {
		return fmt.Errorf("encode workflow log: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("write workflow log: %w", err)
	}
	return nil
}

// CompletedOrders scans a manifest tree and returns the absolute values of
// every negated Execution Order, i.e. the steps a previous run finished.
func CompletedOrders(tree *manifest.Tree) ([]int64, error) {
	var done []int64
	type frame struct{ node int }
	stack := []frame{{tree.Root}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := tree.Nodes[f.node]
		for _, field := range n.Fields {
			child := tree.Nodes[field.Child]
			if child.Kind != manifest.KindObject {
				continue
			}
			if leaf, ok := tree.Child(field.Child, manifest.FieldExecutionOrder); ok {
				val, err := tree.LeafString(leaf)
				if err != nil {
					return nil, err
				}
				order, err := strconv.ParseInt(val, 10, 64)
				if err != nil {
					return nil, fmt.Errorf("parse %s %q: %w", manifest.FieldExecutionOrder, val, err)
				}
				if order < 0 {
					done = append(done, -order)
				}
				continue
			}
			stack = append(stack, frame{field.Child})
		}
	}
	return done, nil
}

// RunInfo is the per-run summary written next to the workflow log. Runs
// accumulate: each invocation appends itself to the history in run_info.json.
type RunInfo struct {
	StartedAt string    `json:"started_at"`
	EndedAt   string    `json:"ended_at"`
	Manifest  string    `json:"manifest"`
	Executed  []StepRun `json:"executed_steps"`
	FailedAt  *int64    `json:"failed_at,omitempty"`
	Succeeded bool      `json:"succeeded"`
}

// StepRun records one completed step and how long it took.
type StepRun struct {
	Order   int64  `json:"order"`
	Program string `json:"program"`
	Runtime string `json:"runtime"`
}

// RunHistory is the shape of run_info.json.
type RunHistory struct {
	Runs []RunInfo `json:"runs"`
}

// AppendRunInfo loads the existing history in outputDir (if any), appends
// info, and writes the file back.
func AppendRunInfo(outputDir string, info RunInfo) error {
	path := filepath.Join(outputDir, "run_info.json")
	var hist RunHistory
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &hist); err != nil {
			return fmt.Errorf("parse existing %s: %w", path, err)
		}
	}
	hist.Runs = append(hist.Runs, info)
	data, err := json.MarshalIndent(&hist, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run info: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write run info: %w", err)
	}
	return nil
}

// Timestamp formats t the way run_info.json records times.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
