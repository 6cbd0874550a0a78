package ops

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"
)

// QuantCommand holds the parsed arguments of a `stepflow quant` step.
type QuantCommand struct {
	Chemistry         string
	Output            string
	Index             string
	MapDir            string
	Reads1            []string
	Reads2            []string
	Threads           int
	Resolution        string
	ExpectedOri       string
	T2GMap            string
	Knee              bool
	UnfilteredPL      string
	ExpectCells       int
	ForcedCells       int
	ExplicitPL        string
	MinReads          int
	UsePiscem         bool
	UseSelectiveAlign bool
}

func (c *QuantCommand) Kind() Kind { return Quant }

// Run dispatches to the toolchain collaborator.
func (c *QuantCommand) Run(ctx context.Context, tc Toolchain) error {
	return tc.RunQuant(ctx, c)
}

func parseQuant(argv []string) (*QuantCommand, error) {
	cmd := &QuantCommand{}
	fs := QuantFlags(cmd)
	if err := fs.Parse(argv); err != nil {
		return nil, fmt.Errorf("stepflow quant: %w", err)
	}
	if args := fs.Args(); len(args) > 0 {
		return nil, fmt.Errorf("stepflow quant: unexpected positional arguments %v", args)
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("stepflow quant: %w", err)
	}
	return cmd, nil
}

// QuantFlags builds the flag set for a quant invocation, binding into cmd.
func QuantFlags(cmd *QuantCommand) *pflag.FlagSet {
	fs := pflag.NewFlagSet("stepflow quant", pflag.ContinueOnError)
	fs.StringVarP(&cmd.Chemistry, "chemistry", "c", "", "chemistry of the input reads (required)")
	fs.StringVarP(&cmd.Output, "output", "o", "", "output directory (required)")
	fs.StringVarP(&cmd.Index, "index", "i", "", "index directory to map against")
	fs.StringVar(&cmd.MapDir, "map-dir", "", "directory of an existing mapping result")
	fs.StringSliceVar(&cmd.Reads1, "reads1", nil, "comma-separated barcode read files")
	fs.StringSliceVar(&cmd.Reads2, "reads2", nil, "comma-separated biological read files")
	fs.IntVarP(&cmd.Threads, "threads", "t", 16, "number of threads")
	fs.StringVarP(&cmd.Resolution, "resolution", "r", "cr-like", "UMI resolution strategy")
	fs.StringVar(&cmd.ExpectedOri, "expected-ori", "", "expected read orientation")
	fs.StringVarP(&cmd.T2GMap, "t2g-map", "m", "", "transcript-to-gene map file")
	fs.BoolVar(&cmd.Knee, "knee", false, "use knee filtering")
	fs.StringVarP(&cmd.UnfilteredPL, "unfiltered-pl", "u", "", "unfiltered permit list file")
	fs.Lookup("unfiltered-pl").NoOptDefVal = "<default>"
	fs.IntVar(&cmd.ExpectCells, "expect-cells", 0, "expected number of cells")
	fs.IntVar(&cmd.ForcedCells, "forced-cells", 0, "forced number of cells")
	fs.StringVar(&cmd.ExplicitPL, "explicit-pl", "", "explicit permit list file")
	fs.IntVar(&cmd.MinReads, "min-reads", 10, "minimum reads per barcode")
	fs.BoolVar(&cmd.UsePiscem, "use-piscem", false, "map with piscem instead of salmon")
	fs.BoolVar(&cmd.UseSelectiveAlign, "use-selective-alignment", false, "use selective alignment for mapping")
	return fs
}

// Validate checks required flags and flag combinations after parsing.
func (c *QuantCommand) Validate() error {
	if c.Chemistry == "" {
		return fmt.Errorf("--chemistry is required")
	}
	if c.Output == "" {
		return fmt.Errorf("--output is required")
	}
	if c.Index == "" && c.MapDir == "" {
		return fmt.Errorf("provide either --index or --map-dir")
	}
	if c.Index != "" && (len(c.Reads1) == 0 || len(c.Reads2) == 0) {
		return fmt.Errorf("--index requires --reads1 and --reads2")
	}
	return nil
}
