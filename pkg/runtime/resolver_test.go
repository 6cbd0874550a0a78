package runtime

import (
	"path/filepath"
	"strings"
	"testing"
)

func orders(p *Plan) []int64 {
	var out []int64
	for _, rec := range p.Records {
		out = append(out, rec.Order)
	}
	return out
}

func TestResolvePlanStartAt(t *testing.T) {
	_, queue := compileDoc(t, workflowDoc)
	plan, err := ResolvePlan(queue, PlanOptions{StartAt: 3}, "")
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	if got := orders(plan); len(got) != 1 || got[0] != 3 {
		t.Errorf("orders = %v, want [3]", got)
	}
	if plan.Dropped != 2 {
		t.Errorf("Dropped = %d, want 2", plan.Dropped)
	}
}

func TestResolvePlanSkipSteps(t *testing.T) {
	_, queue := compileDoc(t, workflowDoc)
	plan, err := ResolvePlan(queue, PlanOptions{SkipSteps: []int64{2}}, "")
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	if got := orders(plan); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("orders = %v, want [1 3]", got)
	}
}

func TestResolvePlanResume(t *testing.T) {
	tree, queue := compileDoc(t, workflowDoc)
	out := t.TempDir()
	log := NewWorkflowLog(tree, out, "wf.json")
	if err := log.MarkCompleted(queue.Records[0].Trajectory); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if err := log.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	plan, err := ResolvePlan(queue, PlanOptions{Resume: true}, log.Path())
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	if got := orders(plan); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Errorf("orders = %v, want [2 3]", got)
	}
}

func TestResolvePlanResumeWithoutLog(t *testing.T) {
	_, queue := compileDoc(t, workflowDoc)
	_, err := ResolvePlan(queue, PlanOptions{Resume: true}, filepath.Join(t.TempDir(), "absent.json"))
	if err == nil || !strings.Contains(err.Error(), "nothing to resume") {
		t.Fatalf("err = %v, want nothing-to-resume error", err)
	}
}

func TestResolvePlanResumeFreshLogStartsAtBeginning(t *testing.T) {
	tree, queue := compileDoc(t, workflowDoc)
	out := t.TempDir()
	log := NewWorkflowLog(tree, out, "wf.json")
	if err := log.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	plan, err := ResolvePlan(queue, PlanOptions{Resume: true}, log.Path())
	if err != nil {
		t.Fatalf("ResolvePlan: %v", err)
	}
	if got := orders(plan); len(got) != 3 {
		t.Errorf("orders = %v, want all three steps", got)
	}
}
