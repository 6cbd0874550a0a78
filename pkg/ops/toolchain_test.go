package ops

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/stepflow/pkg/providers"
)

// recordingExecutor captures every invocation and replies with canned results.
type recordingExecutor struct {
	calls    []string
	failWhen func(command string, args []string) bool
}

func (e *recordingExecutor) Execute(ctx context.Context, command string, args []string, env []string) (*providers.CommandResult, error) {
	e.calls = append(e.calls, command+" "+strings.Join(args, " "))
	if e.failWhen != nil && e.failWhen(command, args) {
		return &providers.CommandResult{ExitCode: 1, Stderr: []byte("boom")}, nil
	}
	return &providers.CommandResult{ExitCode: 0}, nil
}

func (e *recordingExecutor) ExecuteShell(ctx context.Context, cmdline string, env []string) (*providers.CommandResult, error) {
	return nil, fmt.Errorf("toolchain must not fall back to a shell")
}

func TestRunIndexSalmonDirectReference(t *testing.T) {
	exec := &recordingExecutor{}
	tc := NewCLIToolchain(exec, Binaries{}, nil)
	out := t.TempDir()

	err := tc.RunIndex(context.Background(), &IndexCommand{
		RefSeq:     "txome.fa",
		Output:     out,
		Threads:    4,
		KmerLength: 31,
		Sparse:     true,
	})
	if err != nil {
		t.Fatalf("RunIndex: %v", err)
	}
	if len(exec.calls) != 1 {
		t.Fatalf("calls = %v, want a single salmon invocation", exec.calls)
	}
	call := exec.calls[0]
	for _, want := range []string{"salmon index", "-t txome.fa", "-k 31", "-p 4", "--sparse"} {
		if !strings.Contains(call, want) {
			t.Errorf("call %q missing %q", call, want)
		}
	}
}

func TestRunIndexSpliciBuildsReferenceFirst(t *testing.T) {
	exec := &recordingExecutor{}
	tc := NewCLIToolchain(exec, Binaries{Piscem: "/opt/piscem"}, nil)
	out := t.TempDir()

	err := tc.RunIndex(context.Background(), &IndexCommand{
		RefType:    "spliced+intronic",
		Fasta:      "genome.fa",
		GTF:        "genes.gtf",
		Output:     out,
		Threads:    2,
		KmerLength: 23,
		UsePiscem:  true,
	})
	if err != nil {
		t.Fatalf("RunIndex: %v", err)
	}
	if len(exec.calls) != 2 {
		t.Fatalf("calls = %v, want pyroe then piscem", exec.calls)
	}
	if !strings.Contains(exec.calls[0], "pyroe make-splici genome.fa genes.gtf") {
		t.Errorf("first call %q should extract the splici reference", exec.calls[0])
	}
	if !strings.HasPrefix(exec.calls[1], "/opt/piscem build") {
		t.Errorf("second call %q should use the configured piscem binary", exec.calls[1])
	}
	wantSeq := filepath.Join(out, "ref", "splici_fl86.fa")
	if !strings.Contains(exec.calls[1], "-s "+wantSeq) {
		t.Errorf("piscem call %q should index %s", exec.calls[1], wantSeq)
	}
}

func TestRunIndexRefusesExistingIndexDir(t *testing.T) {
	exec := &recordingExecutor{}
	tc := NewCLIToolchain(exec, Binaries{}, nil)
	out := t.TempDir()
	mustMkdir(t, filepath.Join(out, "index"))

	cmd := &IndexCommand{RefSeq: "txome.fa", Output: out, Threads: 1, KmerLength: 31}
	if err := tc.RunIndex(context.Background(), cmd); err == nil {
		t.Fatal("expected error for existing index directory")
	}
	if len(exec.calls) != 0 {
		t.Errorf("no tool should run, got %v", exec.calls)
	}

	cmd.Overwrite = true
	if err := tc.RunIndex(context.Background(), cmd); err != nil {
		t.Fatalf("RunIndex with --overwrite: %v", err)
	}
}

func TestRunQuantStages(t *testing.T) {
	exec := &recordingExecutor{}
	tc := NewCLIToolchain(exec, Binaries{}, nil)
	out := t.TempDir()

	err := tc.RunQuant(context.Background(), &QuantCommand{
		Chemistry:  "10xv3",
		Output:     out,
		Index:      "idx",
		Reads1:     []string{"a_1.fq", "b_1.fq"},
		Reads2:     []string{"a_2.fq", "b_2.fq"},
		Threads:    4,
		Resolution: "cr-like",
		T2GMap:     "t2g.tsv",
		Knee:       true,
	})
	if err != nil {
		t.Fatalf("RunQuant: %v", err)
	}
	if len(exec.calls) != 4 {
		t.Fatalf("calls = %v, want map, generate-permit-list, collate, quant", exec.calls)
	}
	if !strings.Contains(exec.calls[0], "salmon alevin") || !strings.Contains(exec.calls[0], "--chromiumV3") {
		t.Errorf("mapping call = %q", exec.calls[0])
	}
	if !strings.Contains(exec.calls[1], "generate-permit-list") || !strings.Contains(exec.calls[1], "--knee-distance") {
		t.Errorf("permit-list call = %q", exec.calls[1])
	}
	if !strings.Contains(exec.calls[2], "collate") {
		t.Errorf("collate call = %q", exec.calls[2])
	}
	if !strings.Contains(exec.calls[3], "quant") || !strings.Contains(exec.calls[3], "-m t2g.tsv") {
		t.Errorf("quant call = %q", exec.calls[3])
	}
}

func TestRunQuantPiscemMapping(t *testing.T) {
	exec := &recordingExecutor{}
	tc := NewCLIToolchain(exec, Binaries{}, nil)
	out := t.TempDir()

	err := tc.RunQuant(context.Background(), &QuantCommand{
		Chemistry:  "10xv3",
		Output:     out,
		Index:      "idx",
		Reads1:     []string{"a_1.fq"},
		Reads2:     []string{"a_2.fq"},
		Threads:    2,
		Resolution: "cr-like",
		T2GMap:     "t2g.tsv",
		Knee:       true,
		UsePiscem:  true,
	})
	if err != nil {
		t.Fatalf("RunQuant: %v", err)
	}
	if len(exec.calls) != 4 {
		t.Fatalf("calls = %v, want map, generate-permit-list, collate, quant", exec.calls)
	}
	mapping := exec.calls[0]
	if !strings.Contains(mapping, "piscem map-sc") {
		t.Errorf("mapping call = %q, want piscem map-sc", mapping)
	}
	if !strings.Contains(mapping, "--geometry chromium_v3") {
		t.Errorf("mapping call = %q, want --geometry chromium_v3", mapping)
	}
	if !strings.Contains(mapping, "--index "+filepath.Join("idx", "piscem_idx")) {
		t.Errorf("mapping call = %q, want the piscem_idx prefix", mapping)
	}
}

func TestPiscemGeometry(t *testing.T) {
	cases := map[string]string{
		"10xv2":             "chromium_v2",
		"10xv3":             "chromium_v3",
		"1{b[16]u[12]}2{r}": "1{b[16]u[12]}2{r}",
	}
	for chem, want := range cases {
		if got := piscemGeometry(chem); got != want {
			t.Errorf("piscemGeometry(%q) = %q, want %q", chem, got, want)
		}
	}
}

func TestRunQuantSkipsMappingWithMapDir(t *testing.T) {
	exec := &recordingExecutor{}
	tc := NewCLIToolchain(exec, Binaries{}, nil)
	out := t.TempDir()

	err := tc.RunQuant(context.Background(), &QuantCommand{
		Chemistry:  "10xv3",
		Output:     out,
		MapDir:     "premapped",
		Threads:    1,
		Resolution: "cr-like",
		T2GMap:     "t2g.tsv",
	})
	if err != nil {
		t.Fatalf("RunQuant: %v", err)
	}
	if len(exec.calls) != 3 {
		t.Fatalf("calls = %v, want only the alevin-fry stages", exec.calls)
	}
	if !strings.Contains(exec.calls[0], "-i premapped") {
		t.Errorf("permit-list call %q should read the supplied map dir", exec.calls[0])
	}
}

func TestRunQuantRequiresT2GWithoutIndex(t *testing.T) {
	exec := &recordingExecutor{}
	tc := NewCLIToolchain(exec, Binaries{}, nil)

	err := tc.RunQuant(context.Background(), &QuantCommand{
		Chemistry:  "10xv3",
		Output:     t.TempDir(),
		MapDir:     "premapped",
		Threads:    1,
		Resolution: "cr-like",
	})
	if err == nil || !strings.Contains(err.Error(), "--t2g-map") {
		t.Fatalf("err = %v, want missing t2g map error", err)
	}
}

func TestRunQuantToolFailurePropagates(t *testing.T) {
	exec := &recordingExecutor{
		failWhen: func(command string, args []string) bool {
			return len(args) > 0 && args[0] == "collate"
		},
	}
	tc := NewCLIToolchain(exec, Binaries{}, nil)

	err := tc.RunQuant(context.Background(), &QuantCommand{
		Chemistry:  "10xv3",
		Output:     t.TempDir(),
		MapDir:     "premapped",
		Threads:    1,
		Resolution: "cr-like",
		T2GMap:     "t2g.tsv",
	})
	if err == nil || !strings.Contains(err.Error(), "status 1") {
		t.Fatalf("err = %v, want collate failure", err)
	}
	if len(exec.calls) != 2 {
		t.Errorf("quant stage should not run after collate fails, calls = %v", exec.calls)
	}
}

func mustMkdir(t *testing.T, dir string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
}
