// Package ops defines the built-in structured operations the runner can
// dispatch in-process: reference index construction and quantification.
// Each operation owns its flag parser, so the compiler can reconstruct an
// argument vector from a manifest step and have it validated before any
// execution starts. The heavy lifting (driving the underlying alignment
// binaries) stays behind the Toolchain interface.
package ops

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies a built-in operation.
type Kind int

const (
	// Index builds a reference index.
	Index Kind = iota
	// Quant quantifies reads against an index.
	Quant
)

func (k Kind) String() string {
	switch k {
	case Index:
		return "stepflow index"
	case Quant:
		return "stepflow quant"
	default:
		return fmt.Sprintf("ops.Kind(%d)", int(k))
	}
}

// Resolve maps a manifest Program Name to a built-in kind. Names beginning
// with "stepflow" and ending with "index" or "quant" are reserved; anything
// else denotes an external program.
func Resolve(name string) (Kind, bool) {
	if !strings.HasPrefix(name, "stepflow") {
		return 0, false
	}
	switch {
	case strings.HasSuffix(name, "index"):
		return Index, true
	case strings.HasSuffix(name, "quant"):
		return Quant, true
	default:
		return 0, false
	}
}

// Command is a parsed, validated built-in invocation.
type Command interface {
	Kind() Kind
	Run(ctx context.Context, tc Toolchain) error
}

// Toolchain is the collaborator that actually drives the underlying
// bioinformatics binaries. The runner only needs these two entry points.
type Toolchain interface {
	RunIndex(ctx context.Context, cmd *IndexCommand) error
	RunQuant(ctx context.Context, cmd *QuantCommand) error
}

// Parse validates argv against the operation's own flag parser and returns
// the structured command. A flag the parser does not know, a missing
// required flag, or a malformed value is an error.
func Parse(k Kind, argv []string) (Command, error) {
	switch k {
	case Index:
		return parseIndex(argv)
	case Quant:
		return parseQuant(argv)
	default:
		return nil, fmt.Errorf("unknown built-in operation %v", k)
	}
}
