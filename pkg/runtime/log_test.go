package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/stepflow/pkg/compiler"
	"github.com/ormasoftchile/stepflow/pkg/manifest"
)

const workflowDoc = `{
  "meta_info": {
    "template_name": "rna-basic"
  },
  "preprocess": {
    "unpack": {
      "Execution Order": "1",
      "Program Name": "gunzip",
      "1": "-c",
      "2": "barcodes.tsv.gz"
    },
    "count lines": {
      "Execution Order": "2",
      "Program Name": "wc",
      "1": "-l",
      "2": "barcodes.tsv"
    }
  },
  "report": {
    "announce": {
      "Execution Order": "3",
      "Program Name": "echo",
      "1": "done"
    }
  }
}`

func compileDoc(t *testing.T, doc string) (*manifest.Tree, *compiler.Queue) {
	t.Helper()
	tree, err := manifest.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	queue, err := compiler.Compile(tree)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return tree, queue
}

func TestWorkflowLogPathFromManifestName(t *testing.T) {
	tree, _ := compileDoc(t, workflowDoc)
	log := NewWorkflowLog(tree, "/tmp/out", "/data/workflows/rna_basic.json")
	if got, want := log.Path(), filepath.Join("/tmp/out", "rna_basic.json"); got != want {
		t.Errorf("Path = %q, want %q", got, want)
	}
}

func TestMarkCompletedNegatesInPlace(t *testing.T) {
	tree, queue := compileDoc(t, workflowDoc)
	log := NewWorkflowLog(tree, t.TempDir(), "wf.json")

	if err := log.MarkCompleted(queue.Records[0].Trajectory); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	done, err := CompletedOrders(log.Tree)
	if err != nil {
		t.Fatalf("CompletedOrders: %v", err)
	}
	if len(done) != 1 || done[0] != 1 {
		t.Errorf("completed orders = %v, want [1]", done)
	}

	// the source tree must be untouched
	srcDone, err := CompletedOrders(tree)
	if err != nil {
		t.Fatalf("CompletedOrders on source: %v", err)
	}
	if len(srcDone) != 0 {
		t.Errorf("source tree mutated: completed orders = %v", srcDone)
	}
}

func TestMarkCompletedTwiceFails(t *testing.T) {
	tree, queue := compileDoc(t, workflowDoc)
	log := NewWorkflowLog(tree, t.TempDir(), "wf.json")

	if err := log.MarkCompleted(queue.Records[0].Trajectory); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	err := log.MarkCompleted(queue.Records[0].Trajectory)
	if err == nil || !strings.Contains(err.Error(), "already marked") {
		t.Fatalf("err = %v, want already-marked error", err)
	}
}

func TestWriteRoundTrips(t *testing.T) {
	tree, queue := compileDoc(t, workflowDoc)
	out := t.TempDir()
	log := NewWorkflowLog(tree, out, "wf.json")

	for _, rec := range queue.Records[:2] {
		if err := log.MarkCompleted(rec.Trajectory); err != nil {
			t.Fatalf("MarkCompleted: %v", err)
		}
	}
	if err := log.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reloaded, err := manifest.Load(log.Path())
	if err != nil {
		t.Fatalf("Load written log: %v", err)
	}
	done, err := CompletedOrders(reloaded)
	if err != nil {
		t.Fatalf("CompletedOrders: %v", err)
	}
	if len(done) != 2 {
		t.Fatalf("completed orders = %v, want two entries", done)
	}

	// the log is still a compilable manifest with only step 3 pending
	queue2, err := compiler.Compile(reloaded)
	if err != nil {
		t.Fatalf("Compile reloaded log: %v", err)
	}
	if queue2.Len() != 1 || queue2.Records[0].Order != 3 {
		t.Errorf("reloaded queue = %+v, want only order 3", queue2.Records)
	}
}

func TestAppendRunInfoAccumulates(t *testing.T) {
	out := t.TempDir()
	if err := AppendRunInfo(out, RunInfo{Manifest: "a.json", Succeeded: false}); err != nil {
		t.Fatalf("AppendRunInfo: %v", err)
	}
	if err := AppendRunInfo(out, RunInfo{Manifest: "a.json", Succeeded: true}); err != nil {
		t.Fatalf("AppendRunInfo: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(out, "run_info.json"))
	if err != nil {
		t.Fatalf("read run_info.json: %v", err)
	}
	if got := strings.Count(string(data), `"manifest"`); got != 2 {
		t.Errorf("history holds %d runs, want 2:\n%s", got, data)
	}
}
