// Package scheduler implements the Scheduler (spec.md §4.C): it partitions
// a discovered Item Set into skip, sequential, and parallel cohorts and
// orders them into a DispatchPlan, plus a pre-dispatch Filter step.
package scheduler

import (
	"runtime"

	"github.com/standardbeagle/taut/internal/types"
)

// Plan partitions items per spec.md §4.C's policy: skip items never enter a
// cohort and are reported immediately; the remainder split by the Parallel
// flag into one unordered parallel cohort and one ordered sequential
// cohort, in that order (the "run parallel first" discipline, chosen here
// and held stable across runs as spec.md §4.C point 4 requires).
//
// workerCount is not used to shape the plan itself — dispatch concurrency
// is the Supervisor's concern — but a non-positive value is resolved to
// runtime.NumCPU() so callers can pass the same value straight through to
// the Supervisor's pool size.
func Plan(items []types.TestItem, workerCount int) (*types.DispatchPlan, []types.Outcome, int) {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	var skipped []types.Outcome
	var parallel, sequential []types.TestItem

	for _, item := range items {
		if item.Markers.Skip {
			resp := types.Response{Skipped: true}
			if item.Markers.SkipReason != "" {
				resp.Error = &types.TestError{Message: item.Markers.SkipReason}
			}
			skipped = append(skipped, types.Outcome{Item: item, Response: resp})
			continue
		}
		if item.Markers.Parallel {
			parallel = append(parallel, item)
		} else {
			sequential = append(sequential, item)
		}
	}

	plan := &types.DispatchPlan{}
	if len(parallel) > 0 {
		plan.Cohorts = append(plan.Cohorts, types.Cohort{Parallel: true, Items: parallel})
	}
	if len(sequential) > 0 {
		plan.Cohorts = append(plan.Cohorts, types.Cohort{Parallel: false, Items: sequential})
	}

	return plan, skipped, workerCount
}
