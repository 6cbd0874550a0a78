package ops

import (
	"strings"
	"testing"
)

func TestResolveReservedNames(t *testing.T) {
	cases := []struct {
		name  string
		kind  Kind
		found bool
	}{
		{"stepflow index", Index, true},
		{"stepflow quant", Quant, true},
		{"stepflow build-index", Index, true},
		{"stepflowquant", Quant, true},
		{"stepflow", 0, false},
		{"salmon index", 0, false},
		{"gunzip", 0, false},
		{"index", 0, false},
	}
	for _, tc := range cases {
		kind, ok := Resolve(tc.name)
		if ok != tc.found {
			t.Errorf("Resolve(%q) found = %v, want %v", tc.name, ok, tc.found)
			continue
		}
		if ok && kind != tc.kind {
			t.Errorf("Resolve(%q) = %v, want %v", tc.name, kind, tc.kind)
		}
	}
}

func TestParseIndex(t *testing.T) {
	cmd, err := Parse(Index, []string{
		"--fasta", "genome.fa",
		"--gtf", "genes.gtf",
		"--output", "out",
		"--threads", "8",
		"--sparse",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	idx := cmd.(*IndexCommand)
	if idx.Fasta != "genome.fa" || idx.GTF != "genes.gtf" || idx.Output != "out" {
		t.Errorf("parsed = %+v", idx)
	}
	if idx.Threads != 8 || !idx.Sparse {
		t.Errorf("flag values not applied: %+v", idx)
	}
	if idx.KmerLength != 31 {
		t.Errorf("KmerLength default = %d, want 31", idx.KmerLength)
	}
}

func TestParseIndexRejectsBadInvocations(t *testing.T) {
	cases := []struct {
		name string
		argv []string
		want string
	}{
		{"no output", []string{"--fasta", "a", "--gtf", "b"}, "--output is required"},
		{"no reference", []string{"--output", "out"}, "--fasta with --gtf"},
		{"both references", []string{"--output", "out", "--fasta", "a", "--gtf", "b", "--ref-seq", "c"}, "--fasta with --gtf"},
		{"fasta without gtf", []string{"--output", "out", "--fasta", "a"}, "--fasta with --gtf"},
		{"unknown flag", []string{"--output", "out", "--ref-seq", "c", "--wat", "x"}, "unknown flag"},
		{"positional leftover", []string{"--output", "out", "--ref-seq", "c", "stray"}, "unexpected positional"},
		{"bad kmer", []string{"--output", "out", "--ref-seq", "c", "-k", "0"}, "--kmer-length"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(Index, tc.argv)
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestParseQuant(t *testing.T) {
	cmd, err := Parse(Quant, []string{
		"--chemistry", "10xv3",
		"--output", "out",
		"--index", "idx",
		"--reads1", "a_1.fq,b_1.fq",
		"--reads2", "a_2.fq",
		"--reads2", "b_2.fq",
		"--resolution", "cr-like-em",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	q := cmd.(*QuantCommand)
	if len(q.Reads1) != 2 || q.Reads1[1] != "b_1.fq" {
		t.Errorf("Reads1 = %v", q.Reads1)
	}
	if len(q.Reads2) != 2 {
		t.Errorf("repeated --reads2 should accumulate, got %v", q.Reads2)
	}
	if q.Resolution != "cr-like-em" {
		t.Errorf("Resolution = %q", q.Resolution)
	}
}

func TestParseQuantBareUnfilteredPL(t *testing.T) {
	cmd, err := Parse(Quant, []string{
		"--chemistry", "10xv3",
		"--output", "out",
		"--index", "idx",
		"--reads1", "r1.fq",
		"--reads2", "r2.fq",
		"--unfiltered-pl",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cmd.(*QuantCommand).UnfilteredPL; got != "<default>" {
		t.Errorf("bare --unfiltered-pl = %q, want sentinel default", got)
	}
}

func TestParseQuantRejectsBadInvocations(t *testing.T) {
	cases := []struct {
		name string
		argv []string
		want string
	}{
		{"no chemistry", []string{"--output", "out", "--map-dir", "m"}, "--chemistry is required"},
		{"no source", []string{"--chemistry", "10xv3", "--output", "out"}, "--index or --map-dir"},
		{"index without reads", []string{"--chemistry", "10xv3", "--output", "out", "--index", "idx"}, "--reads1 and --reads2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(Quant, tc.argv)
			if err == nil {
				t.Fatal("expected parse error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
