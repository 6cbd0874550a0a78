package ops

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"
)

// IndexCommand holds the parsed arguments of a `stepflow index` step.
type IndexCommand struct {
	RefType        string
	Fasta          string
	GTF            string
	RefSeq         string
	Output         string
	Threads        int
	KmerLength     int
	Sparse         bool
	KeepDuplicates bool
	UsePiscem      bool
	Overwrite      bool
}

func (c *IndexCommand) Kind() Kind { return Index }

// Run dispatches to the toolchain collaborator.
func (c *IndexCommand) Run(ctx context.Context, tc Toolchain) error {
	return tc.RunIndex(ctx, c)
}

func parseIndex(argv []string) (*IndexCommand, error) {
	cmd := &IndexCommand{}
	fs := IndexFlags(cmd)
	if err := fs.Parse(argv); err != nil {
		return nil, fmt.Errorf("stepflow index: %w", err)
	}
	if args := fs.Args(); len(args) > 0 {
		return nil, fmt.Errorf("stepflow index: unexpected positional arguments %v", args)
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("stepflow index: %w", err)
	}
	return cmd, nil
}

// IndexFlags builds the flag set for an index invocation, binding into cmd.
// Shared by the manifest compiler and the CLI subcommand.
func IndexFlags(cmd *IndexCommand) *pflag.FlagSet {
	fs := pflag.NewFlagSet("stepflow index", pflag.ContinueOnError)
	fs.StringVar(&cmd.RefType, "ref-type", "spliced+intronic", "reference sequence type to build")
	fs.StringVar(&cmd.Fasta, "fasta", "", "genome FASTA file")
	fs.StringVar(&cmd.GTF, "gtf", "", "gene annotation GTF file")
	fs.StringVar(&cmd.RefSeq, "ref-seq", "", "pre-built direct reference sequence FASTA")
	fs.StringVarP(&cmd.Output, "output", "o", "", "output directory (required)")
	fs.IntVarP(&cmd.Threads, "threads", "t", 16, "number of threads")
	fs.IntVarP(&cmd.KmerLength, "kmer-length", "k", 31, "k-mer length for the index")
	fs.BoolVar(&cmd.Sparse, "sparse", false, "build a sparse index")
	fs.BoolVar(&cmd.KeepDuplicates, "keep-duplicates", false, "keep duplicate reference sequences")
	fs.BoolVar(&cmd.UsePiscem, "use-piscem", false, "build a piscem index instead of a salmon one")
	fs.BoolVar(&cmd.Overwrite, "overwrite", false, "overwrite an existing index directory")
	return fs
}

// Validate checks required flags and flag combinations after parsing.
func (c *IndexCommand) Validate() error {
	if c.Output == "" {
		return fmt.Errorf("--output is required")
	}
	haveExpanded := c.Fasta != "" && c.GTF != ""
	if haveExpanded == (c.RefSeq != "") {
		return fmt.Errorf("provide either --fasta with --gtf, or --ref-seq")
	}
	if c.KmerLength <= 0 {
		return fmt.Errorf("--kmer-length must be positive")
	}
	return nil
}
