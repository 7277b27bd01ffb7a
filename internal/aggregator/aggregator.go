// Package aggregator implements the Result Aggregator (spec.md §4.G): it
// merges per-item outcomes into counts, per-item detail, aggregate timing,
// and a coverage union, guaranteeing every item in the input Item Set is
// accounted for exactly once regardless of the arrival order the
// Supervisor delivered them in.
//
// The per-path merge follows a per-bucket set-merge idiom (build a set by
// unioning per-key occurrences, then sort), generalized here from postings
// lists to per-file coverage line sets.
package aggregator

import (
	"fmt"
	"sort"
	"time"

	"github.com/standardbeagle/taut/internal/types"
)

// Report is the structured result of one run.
type Report struct {
	Total   int
	Passed  int
	Failed  int
	Skipped int
	Errored int

	// WallTime is the elapsed time of the run as measured by the caller
	// around Supervisor.Run; Aggregate does not measure it itself.
	WallTime time.Duration
	// CPUTime sums every item's reported DurationSec, a proxy for total
	// interpreter work performed across every worker.
	CPUTime time.Duration

	// Items holds every outcome in discovery order, per spec.md §5 ("the
	// aggregator records arrival order but reports items in the discovery
	// order ... for reproducibility").
	Items []types.Outcome

	// Coverage is the union of executed line numbers per absolute path,
	// across every item that reported coverage.
	Coverage map[string][]int
}

// ExitCode maps the report to the exit-code convention spec.md §6
// attaches to the CLI collaborator: 0 when nothing failed, 1 when
// anything did. The discovery-error (2) and internal-error (3) codes are
// not produced here — those are fatal conditions raised before a Report
// can exist at all.
func (r *Report) ExitCode() int {
	if r.Failed > 0 || r.Errored > 0 {
		return 1
	}
	return 0
}

// Aggregate merges items and their outcomes into a Report. It returns an
// error if any item in items has no corresponding outcome — every item
// produced by discovery must be accounted for exactly once, by spec.md §8's
// invariant, and a gap here is a supervisor-internal bug, not a runnable
// error condition.
func Aggregate(items []types.TestItem, outcomes []types.Outcome, wallTime time.Duration) (*Report, error) {
	byKey := make(map[uint64]types.Response, len(outcomes))
	for _, o := range outcomes {
		byKey[o.Item.Key()] = o.Response
	}

	report := &Report{
		WallTime: wallTime,
		Items:    make([]types.Outcome, 0, len(items)),
		Coverage: make(map[string][]int),
	}

	var cpuTime time.Duration
	for _, item := range items {
		resp, ok := byKey[item.Key()]
		if !ok {
			return nil, fmt.Errorf("aggregator: no outcome recorded for %s", item.String())
		}

		report.Items = append(report.Items, types.Outcome{Item: item, Response: resp})
		report.Total++

		switch {
		case resp.Skipped:
			report.Skipped++
		case resp.Errored:
			report.Errored++
		case resp.Passed:
			report.Passed++
		default:
			report.Failed++
		}

		cpuTime += time.Duration(resp.DurationSec * float64(time.Second))
		mergeCoverage(report.Coverage, resp.Coverage)
	}
	report.CPUTime = cpuTime

	return report, nil
}

// mergeCoverage unions src's line sets into dst in place, per path,
// producing a sorted, deduplicated slice as spec.md §3's coverage
// invariant requires ("strictly ascending with no duplicates").
func mergeCoverage(dst, src map[string][]int) {
	for path, lines := range src {
		seen := make(map[int]bool, len(dst[path])+len(lines))
		for _, l := range dst[path] {
			seen[l] = true
		}
		for _, l := range lines {
			seen[l] = true
		}
		merged := make([]int, 0, len(seen))
		for l := range seen {
			merged = append(merged, l)
		}
		sort.Ints(merged)
		dst[path] = merged
	}
}
