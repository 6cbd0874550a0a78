package manifest

import (
	"strings"
	"testing"
)

func TestValidateAcceptsWellFormedManifest(t *testing.T) {
	if errs := Validate([]byte(sampleManifest)); len(errs) > 0 {
		t.Fatalf("unexpected validation errors: %v", errs)
	}
}

func TestValidateRejectsStepWithoutProgramName(t *testing.T) {
	doc := `{
		"group": {
			"step": {
				"Execution Order": "1",
				"--output": "out"
			}
		}
	}`
	errs := Validate([]byte(doc))
	if len(errs) == 0 {
		t.Fatal("step with Execution Order but no Program Name should fail")
	}
}

func TestValidateRejectsNonNumericOrder(t *testing.T) {
	doc := `{
		"group": {
			"step": {
				"Execution Order": "first",
				"Program Name": "echo"
			}
		}
	}`
	errs := Validate([]byte(doc))
	if len(errs) == 0 {
		t.Fatal("non-numeric Execution Order should fail")
	}
	found := false
	for _, e := range errs {
		if strings.Contains(e.Path, "Execution Order") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an error located at Execution Order, got %v", errs)
	}
}

func TestValidateAllowsNegativeOrder(t *testing.T) {
	doc := `{
		"group": {
			"step": {
				"Execution Order": "-3",
				"Program Name": "echo",
				"1": "done"
			}
		}
	}`
	if errs := Validate([]byte(doc)); len(errs) > 0 {
		t.Fatalf("negative order is a valid completed step: %v", errs)
	}
}

func TestValidateIgnoresMetaInfoShape(t *testing.T) {
	doc := `{
		"meta_info": {
			"anything": {"nested": [1, 2, 3]},
			"number": 7
		}
	}`
	if errs := Validate([]byte(doc)); len(errs) > 0 {
		t.Fatalf("meta_info is free-form: %v", errs)
	}
}
