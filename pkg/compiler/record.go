package compiler

import (
	"strings"

	"github.com/ormasoftchile/stepflow/pkg/ops"
)

// CommandRecord is one runnable unit compiled from a manifest step node.
// Exactly one of Builtin or Args is set: built-in steps carry the parsed
// structured command, external steps carry their positional argument
// vector. Trajectory is the path of field IDs from the manifest root down
// to the step node; it is a read path into the workflow log's tree, never
// an independent copy.
type CommandRecord struct {
	Order      int64
	Program    string
	Builtin    ops.Command
	Args       []string
	Trajectory []int
	// Inactive marks a step whose "Active" field is false. The step keeps
	// its place in the manifest but is never queued or marked completed.
	Inactive bool
}

// IsExternal reports whether the record spawns an external process.
func (r *CommandRecord) IsExternal() bool {
	return r.Builtin == nil
}

// CommandLine renders the external invocation as a single shell command
// line, used for the one-shot shell fallback.
func (r *CommandRecord) CommandLine() string {
	parts := append([]string{r.Program}, r.Args...)
	return strings.Join(parts, " ")
}

// Queue is the ordered list of compiled command records. Records whose
// order was already negative at compile time (completed in a previous run)
// are never queued.
type Queue struct {
	Records []*CommandRecord
}

// Len reports the number of queued records.
func (q *Queue) Len() int {
	return len(q.Records)
}
