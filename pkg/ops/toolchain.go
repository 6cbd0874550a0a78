package ops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ormasoftchile/stepflow/pkg/providers"
)

// Binaries names the external tools the CLI toolchain drives. Empty fields
// fall back to the bare program name, resolved through PATH.
type Binaries struct {
	Salmon    string
	Piscem    string
	AlevinFry string
	Pyroe     string
}

func (b *Binaries) defaults() {
	if b.Salmon == "" {
		b.Salmon = "salmon"
	}
	if b.Piscem == "" {
		b.Piscem = "piscem"
	}
	if b.AlevinFry == "" {
		b.AlevinFry = "alevin-fry"
	}
	if b.Pyroe == "" {
		b.Pyroe = "pyroe"
	}
}

// CLIToolchain implements Toolchain by shelling out to the salmon, piscem,
// alevin-fry and pyroe binaries.
type CLIToolchain struct {
	exec providers.CommandExecutor
	bins Binaries
	log  *zap.Logger

	// PermitListDir holds bundled permit list files, consulted when a quant
	// step asks for the chemistry's default unfiltered permit list.
	PermitListDir string
}

// NewCLIToolchain builds a toolchain around the given executor.
func NewCLIToolchain(exec providers.CommandExecutor, bins Binaries, log *zap.Logger) *CLIToolchain {
	bins.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &CLIToolchain{exec: exec, bins: bins, log: log}
}

func (t *CLIToolchain) run(ctx context.Context, program string, argv []string) error {
	t.log.Info("invoking tool", zap.String("program", program), zap.Strings("args", argv))
	res, err := t.exec.Execute(ctx, program, argv, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", program, err)
	}
	if !res.Success() {
		return fmt.Errorf("%s exited with status %d: %s",
			program, res.ExitCode, bytes.TrimSpace(res.Stderr))
	}
	return nil
}

// Splici references are extracted with a fixed read length of 91 and the
// default flank trim of 5, so pyroe writes <prefix>_fl86.fa.
const (
	spliciReadLength = 91
	spliciFlankTrim  = 5
)

// RunIndex builds (if needed) an augmented reference and then an index under
// cmd.Output/index.
func (t *CLIToolchain) RunIndex(ctx context.Context, cmd *IndexCommand) error {
	indexDir := filepath.Join(cmd.Output, "index")
	if _, err := os.Stat(indexDir); err == nil {
		if !cmd.Overwrite {
			return fmt.Errorf("index directory %s already exists; pass --overwrite to replace it", indexDir)
		}
		if err := os.RemoveAll(indexDir); err != nil {
			return fmt.Errorf("clearing index directory: %w", err)
		}
	}
	if err := os.MkdirAll(cmd.Output, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	seq := cmd.RefSeq
	if seq == "" {
		var err error
		if seq, err = t.buildReference(ctx, cmd); err != nil {
			return err
		}
	}

	if cmd.UsePiscem {
		if err := os.MkdirAll(indexDir, 0o755); err != nil {
			return fmt.Errorf("creating index directory: %w", err)
		}
		return t.run(ctx, t.bins.Piscem, []string{
			"build",
			"-k", strconv.Itoa(cmd.KmerLength),
			"-t", strconv.Itoa(cmd.Threads),
			"-s", seq,
			"-o", filepath.Join(indexDir, "piscem_idx"),
		})
	}

	argv := []string{
		"index",
		"-t", seq,
		"-i", indexDir,
		"-k", strconv.Itoa(cmd.KmerLength),
		"-p", strconv.Itoa(cmd.Threads),
	}
	if cmd.Sparse {
		argv = append(argv, "--sparse")
	}
	if cmd.KeepDuplicates {
		argv = append(argv, "--keepDuplicates")
	}
	return t.run(ctx, t.bins.Salmon, argv)
}

// buildReference extracts the augmented transcriptome from the genome with
// pyroe and returns the path of the FASTA it wrote.
func (t *CLIToolchain) buildReference(ctx context.Context, cmd *IndexCommand) (string, error) {
	refDir := filepath.Join(cmd.Output, "ref")
	if err := os.MkdirAll(refDir, 0o755); err != nil {
		return "", fmt.Errorf("creating reference directory: %w", err)
	}
	switch cmd.RefType {
	case "spliced+intronic", "splici":
		err := t.run(ctx, t.bins.Pyroe, []string{
			"make-splici",
			cmd.Fasta, cmd.GTF,
			strconv.Itoa(spliciReadLength),
			refDir,
			"--flank-trim-length", strconv.Itoa(spliciFlankTrim),
			"--filename-prefix", "splici",
		})
		if err != nil {
			return "", err
		}
		name := fmt.Sprintf("splici_fl%d.fa", spliciReadLength-spliciFlankTrim)
		return filepath.Join(refDir, name), nil
	case "spliced+unspliced", "spliceu":
		err := t.run(ctx, t.bins.Pyroe, []string{
			"make-spliceu",
			cmd.Fasta, cmd.GTF,
			refDir,
			"--filename-prefix", "spliceu",
		})
		if err != nil {
			return "", err
		}
		return filepath.Join(refDir, "spliceu.fa"), nil
	default:
		return "", fmt.Errorf("unknown reference type %q", cmd.RefType)
	}
}

// RunQuant maps the reads (unless a mapping directory was supplied) and runs
// the permit-list, collate and quant stages under cmd.Output.
func (t *CLIToolchain) RunQuant(ctx context.Context, cmd *QuantCommand) error {
	if err := os.MkdirAll(cmd.Output, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	mapDir := cmd.MapDir
	if mapDir == "" {
		mapDir = filepath.Join(cmd.Output, "af_map")
		if err := t.mapReads(ctx, cmd, mapDir); err != nil {
			return err
		}
	}

	quantDir := filepath.Join(cmd.Output, "af_quant")
	gplArgv := []string{"generate-permit-list", "-i", mapDir, "-o", quantDir}
	if cmd.ExpectedOri != "" {
		gplArgv = append(gplArgv, "-d", cmd.ExpectedOri)
	} else {
		gplArgv = append(gplArgv, "-d", "fw")
	}
	filter, err := t.filterArgs(cmd)
	if err != nil {
		return err
	}
	gplArgv = append(gplArgv, filter...)
	if err := t.run(ctx, t.bins.AlevinFry, gplArgv); err != nil {
		return err
	}

	if err := t.run(ctx, t.bins.AlevinFry, []string{
		"collate",
		"-i", quantDir,
		"-r", mapDir,
		"-t", strconv.Itoa(cmd.Threads),
	}); err != nil {
		return err
	}

	t2g := cmd.T2GMap
	if t2g == "" {
		if cmd.Index == "" {
			return fmt.Errorf("--t2g-map is required when quantifying from --map-dir")
		}
		t2g = filepath.Join(filepath.Dir(cmd.Index), "ref", "t2g_3col.tsv")
	}
	return t.run(ctx, t.bins.AlevinFry, []string{
		"quant",
		"-i", quantDir,
		"-m", t2g,
		"-r", cmd.Resolution,
		"-o", quantDir,
		"-t", strconv.Itoa(cmd.Threads),
		"--use-mtx",
	})
}

func (t *CLIToolchain) mapReads(ctx context.Context, cmd *QuantCommand, mapDir string) error {
	if cmd.UsePiscem {
		return t.run(ctx, t.bins.Piscem, []string{
			"map-sc",
			"--index", filepath.Join(cmd.Index, "piscem_idx"),
			"--geometry", piscemGeometry(cmd.Chemistry),
			"-1", joinPaths(cmd.Reads1),
			"-2", joinPaths(cmd.Reads2),
			"--threads", strconv.Itoa(cmd.Threads),
			"-o", mapDir,
		})
	}

	argv := []string{
		"alevin",
		"-l", "ISR",
		"-i", cmd.Index,
		"-p", strconv.Itoa(cmd.Threads),
		"-o", mapDir,
	}
	switch cmd.Chemistry {
	case "10xv2":
		argv = append(argv, "--chromium")
	case "10xv3":
		argv = append(argv, "--chromiumV3")
	default:
		return fmt.Errorf("unsupported chemistry %q for salmon mapping", cmd.Chemistry)
	}
	for _, r := range cmd.Reads1 {
		argv = append(argv, "-1", r)
	}
	for _, r := range cmd.Reads2 {
		argv = append(argv, "-2", r)
	}
	if cmd.UseSelectiveAlign {
		argv = append(argv, "--rad")
	} else {
		argv = append(argv, "--sketch")
	}
	return t.run(ctx, t.bins.Salmon, argv)
}

// piscemGeometry maps a chemistry name to a piscem --geometry value. Names
// that are not known chemistries are taken as custom geometry strings and
// passed through unchanged.
func piscemGeometry(chemistry string) string {
	switch chemistry {
	case "10xv2":
		return "chromium_v2"
	case "10xv3":
		return "chromium_v3"
	}
	return chemistry
}

// filterArgs translates the cell filtering options into generate-permit-list
// flags. With no explicit choice, knee filtering is used.
func (t *CLIToolchain) filterArgs(cmd *QuantCommand) ([]string, error) {
	switch {
	case cmd.UnfilteredPL != "":
		pl := cmd.UnfilteredPL
		if pl == "<default>" {
			var err error
			if pl, err = t.defaultPermitList(cmd.Chemistry); err != nil {
				return nil, err
			}
		}
		args := []string{"--unfiltered-pl", pl}
		if cmd.MinReads > 0 {
			args = append(args, "--min-reads", strconv.Itoa(cmd.MinReads))
		}
		return args, nil
	case cmd.ExplicitPL != "":
		return []string{"--valid-bc", cmd.ExplicitPL}, nil
	case cmd.ForcedCells > 0:
		return []string{"--force-cells", strconv.Itoa(cmd.ForcedCells)}, nil
	case cmd.ExpectCells > 0:
		return []string{"--expect-cells", strconv.Itoa(cmd.ExpectCells)}, nil
	default:
		return []string{"--knee-distance"}, nil
	}
}

func (t *CLIToolchain) defaultPermitList(chemistry string) (string, error) {
	var name string
	switch chemistry {
	case "10xv2":
		name = "10x_v2_permit.txt"
	case "10xv3":
		name = "10x_v3_permit.txt"
	default:
		return "", fmt.Errorf("no bundled permit list for chemistry %q; pass a file to --unfiltered-pl", chemistry)
	}
	if t.PermitListDir == "" {
		return "", fmt.Errorf("permit list directory is not configured; pass a file to --unfiltered-pl")
	}
	path := filepath.Join(t.PermitListDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("bundled permit list %s is missing: %w", path, err)
	}
	return path, nil
}

func joinPaths(paths []string) string {
	return strings.Join(paths, ",")
}
