package runtime

import (
	"fmt"
	"os"

	"github.com/ormasoftchile/stepflow/pkg/compiler"
	"github.com/ormasoftchile/stepflow/pkg/manifest"
)

// PlanOptions selects which part of a compiled queue actually runs.
type PlanOptions struct {
	// StartAt drops every record with a smaller execution order. Zero means
	// start from the beginning.
	StartAt int64
	// Resume derives StartAt from the previous run's workflow log instead.
	Resume bool
	// SkipSteps lists execution orders to leave out regardless of StartAt.
	SkipSteps []int64
}

// Plan is the subset of the queue selected for execution.
type Plan struct {
	Records []*compiler.CommandRecord
	// Dropped counts records filtered out by the options.
	Dropped int
}

// ResolvePlan applies opts to the queue. With Resume set, logPath must name
// the workflow log of the previous run; execution picks up after the highest
// completed order recorded there.
func ResolvePlan(queue *compiler.Queue, opts PlanOptions, logPath string) (*Plan, error) {
	startAt := opts.StartAt
	if opts.Resume {
		var err error
		if startAt, err = resumePoint(logPath); err != nil {
			return nil, err
		}
	}

	skip := make(map[int64]bool, len(opts.SkipSteps))
	for _, s := range opts.SkipSteps {
		skip[s] = true
	}

	plan := &Plan{}
	for _, rec := range queue.Records {
		if rec.Order < startAt || skip[rec.Order] {
			plan.Dropped++
			continue
		}
		plan.Records = append(plan.Records, rec)
	}
	return plan, nil
}

// resumePoint reads the previous workflow log and returns the order right
// after the highest completed step.
func resumePoint(logPath string) (int64, error) {
	if _, err := os.Stat(logPath); err != nil {
		return 0, fmt.Errorf("nothing to resume: no workflow log at %s", logPath)
	}
	prev, err := manifest.Load(logPath)
	if err != nil {
		return 0, fmt.Errorf("load workflow log: %w", err)
	}
	done, err := CompletedOrders(prev)
	if err != nil {
		return 0, fmt.Errorf("scan workflow log: %w", err)
	}
	var max int64
	for _, order := range done {
		if order > max {
			max = order
		}
	}
	return max + 1, nil
}
