// Package compiler turns a parsed manifest tree into an ordered queue of
// command records. A step node is any object carrying both "Execution
// Order" and "Program Name"; everything else is structure to descend
// through. All validation failures are collected and reported per step
// before anything executes.
package compiler

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ormasoftchile/stepflow/pkg/manifest"
	"github.com/ormasoftchile/stepflow/pkg/ops"
)

type frame struct {
	node int
	traj []int
	path []string
}

// Compile walks the manifest tree and builds the command queue. The walk
// uses an explicit stack since nesting depth is caller-controlled. Sibling
// order follows document order, so trajectories are reproducible for a
// given input encoding. The returned queue is sorted by execution order
// ascending.
func Compile(tree *manifest.Tree) (*Queue, error) {
	q := &Queue{}
	var errs []error
	// path of the step (or the completed step's order) keyed by absolute
	// order, for duplicate detection across the whole manifest
	seen := make(map[int64]string)

	stack := []frame{{node: tree.Root}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node := tree.Nodes[fr.node]
		for _, f := range node.Fields {
			name, _ := tree.Fields.Name(f.Name)
			if fr.node == tree.Root && name == manifest.MetaInfoField {
				continue
			}
			child := tree.Nodes[f.Child]
			if child.Kind != manifest.KindObject {
				continue
			}
			traj := append(append([]int(nil), fr.traj...), f.Name)
			path := append(append([]string(nil), fr.path...), name)

			if _, isStep := tree.Child(f.Child, manifest.FieldExecutionOrder); !isStep {
				stack = append(stack, frame{node: f.Child, traj: traj, path: path})
				continue
			}

			rec, err := compileStep(tree, f.Child, traj)
			if err != nil {
				errs = append(errs, fmt.Errorf("step %q: %w", strings.Join(path, "."), err))
				continue
			}
			abs := rec.Order
			if abs < 0 {
				abs = -abs
			}
			if prev, dup := seen[abs]; dup {
				errs = append(errs, fmt.Errorf("step %q: duplicate execution order %d (also used by %q)",
					strings.Join(path, "."), abs, prev))
				continue
			}
			seen[abs] = strings.Join(path, ".")
			if rec.Order < 0 || rec.Inactive {
				// completed in a previous run or switched off; stays in
				// the log, never queued
				continue
			}
			q.Records = append(q.Records, rec)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	sort.SliceStable(q.Records, func(i, j int) bool {
		return q.Records[i].Order < q.Records[j].Order
	})
	return q, nil
}

// compileStep builds the record for one step node.
func compileStep(tree *manifest.Tree, node int, traj []int) (*CommandRecord, error) {
	orderNode, _ := tree.Child(node, manifest.FieldExecutionOrder)
	orderStr, err := tree.LeafString(orderNode)
	if err != nil {
		return nil, fmt.Errorf("%s must be a string: %w", manifest.FieldExecutionOrder, err)
	}
	order, err := strconv.ParseInt(orderStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cannot parse %s %q as an integer", manifest.FieldExecutionOrder, orderStr)
	}
	if order == 0 {
		return nil, fmt.Errorf("%s must be non-zero", manifest.FieldExecutionOrder)
	}

	pnNode, ok := tree.Child(node, manifest.FieldProgramName)
	if !ok {
		return nil, fmt.Errorf("missing %s", manifest.FieldProgramName)
	}
	program, err := tree.LeafString(pnNode)
	if err != nil || program == "" {
		return nil, fmt.Errorf("%s must be a non-empty string", manifest.FieldProgramName)
	}

	rec := &CommandRecord{Order: order, Program: program, Trajectory: traj}
	if actNode, ok := tree.Child(node, manifest.FieldActive); ok {
		actStr, err := tree.LeafString(actNode)
		if err != nil {
			return nil, fmt.Errorf("%s must be a string value: %w", manifest.FieldActive, err)
		}
		active, err := strconv.ParseBool(actStr)
		if err != nil {
			return nil, fmt.Errorf("cannot parse %s %q as a boolean", manifest.FieldActive, actStr)
		}
		rec.Inactive = !active
	}
	if order < 0 || rec.Inactive {
		// completed or deactivated step: record order and identity only,
		// arguments are not revalidated
		return rec, nil
	}

	if kind, builtin := ops.Resolve(program); builtin {
		argv, err := builtinArgv(tree, node)
		if err != nil {
			return nil, err
		}
		cmd, err := ops.Parse(kind, argv)
		if err != nil {
			return nil, err
		}
		rec.Builtin = cmd
		return rec, nil
	}

	args, err := positionalArgv(tree, node)
	if err != nil {
		return nil, err
	}
	rec.Args = args
	return rec, nil
}

// reservedStepField reports whether a step-node key is bookkeeping rather
// than an argument.
func reservedStepField(name string) bool {
	return name == manifest.FieldExecutionOrder ||
		name == manifest.FieldProgramName ||
		name == manifest.FieldActive
}

// builtinArgv reconstructs a CLI argument vector from a built-in step's
// flag map, in document field order. An empty value denotes a boolean
// flag's presence.
func builtinArgv(tree *manifest.Tree, node int) ([]string, error) {
	var argv []string
	for _, f := range tree.Nodes[node].Fields {
		name, _ := tree.Fields.Name(f.Name)
		if reservedStepField(name) {
			continue
		}
		val, err := tree.LeafString(f.Child)
		if err != nil {
			return nil, fmt.Errorf("argument %q must be a string value", name)
		}
		argv = append(argv, name)
		if val != "" {
			argv = append(argv, val)
		}
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("built-in step has an empty argument list")
	}
	return argv, nil
}

// positionalArgv collects an external step's numeric-keyed arguments,
// sorted ascending by position.
func positionalArgv(tree *manifest.Tree, node int) ([]string, error) {
	type posArg struct {
		pos int
		val string
	}
	var args []posArg
	for _, f := range tree.Nodes[node].Fields {
		name, _ := tree.Fields.Name(f.Name)
		if reservedStepField(name) {
			continue
		}
		pos, err := strconv.Atoi(name)
		if err != nil || pos < 0 {
			return nil, fmt.Errorf("external step argument key %q is not a non-negative position", name)
		}
		val, err := tree.LeafString(f.Child)
		if err != nil {
			return nil, fmt.Errorf("argument %q must be a string value", name)
		}
		args = append(args, posArg{pos: pos, val: val})
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("external step has an empty argument list")
	}
	sort.Slice(args, func(i, j int) bool { return args[i].pos < args[j].pos })
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a.val
	}
	return out, nil
}
