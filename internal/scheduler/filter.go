package scheduler

import (
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/taut/internal/types"
)

// FilterOptions selects the subset of a discovered Item Set that should be
// scheduled at all, per spec.md §6: "Filtering operates on marker sets ...
// and on item identity substrings. Filters are applied after discovery,
// before scheduling." This is a supplemented convenience layer — spec.md's
// core scheduling policy itself has no notion of filtering.
type FilterOptions struct {
	// GroupInclude, if non-empty, keeps only items whose `group` marker
	// contains at least one of these names.
	GroupInclude []string
	// GroupExclude drops any item whose `group` marker contains one of
	// these names.
	GroupExclude []string
	// TruthyMarker, if set, keeps only items whose marker value of this
	// name is Truthy (e.g. "slow").
	TruthyMarker string
	// IdentitySubstring, if set, keeps only items whose String() contains
	// this substring.
	IdentitySubstring string
}

// Filter applies opts to items in order: group include, group exclude,
// marker truthiness, identity substring. When the GroupInclude step keeps
// no item at all, it reports a "did you mean" suggestion nominated by
// Levenshtein distance over every group name actually present; no
// suggestion is made while at least one requested group matches.
func Filter(items []types.TestItem, opts FilterOptions) (kept []types.TestItem, suggestion string) {
	known := knownGroups(items)

	kept = items
	if len(opts.GroupInclude) > 0 {
		kept = filterByGroup(kept, opts.GroupInclude, true)
		if len(kept) == 0 {
			suggestion = suggestGroup(opts.GroupInclude, known)
		}
	}
	if len(opts.GroupExclude) > 0 {
		kept = filterByGroup(kept, opts.GroupExclude, false)
	}
	if opts.TruthyMarker != "" {
		kept = filterTruthy(kept, opts.TruthyMarker)
	}
	if opts.IdentitySubstring != "" {
		kept = filterSubstring(kept, opts.IdentitySubstring)
	}
	return kept, suggestion
}

func filterByGroup(items []types.TestItem, names []string, include bool) []types.TestItem {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []types.TestItem
	for _, item := range items {
		matches := false
		for _, g := range item.Markers.Group() {
			if want[g] {
				matches = true
				break
			}
		}
		if matches == include {
			out = append(out, item)
		}
	}
	return out
}

func filterTruthy(items []types.TestItem, marker string) []types.TestItem {
	var out []types.TestItem
	for _, item := range items {
		if v, ok := item.Markers.Values[marker]; ok && v.Truthy() {
			out = append(out, item)
		}
	}
	return out
}

func filterSubstring(items []types.TestItem, substr string) []types.TestItem {
	var out []types.TestItem
	for _, item := range items {
		if strings.Contains(item.String(), substr) {
			out = append(out, item)
		}
	}
	return out
}

func knownGroups(items []types.TestItem) []string {
	seen := make(map[string]bool)
	var names []string
	for _, item := range items {
		for _, g := range item.Markers.Group() {
			if !seen[g] {
				seen[g] = true
				names = append(names, g)
			}
		}
	}
	return names
}

// suggestGroup finds the known group name with the smallest Levenshtein
// distance to any of the requested (and apparently nonexistent) names.
func suggestGroup(requested, known []string) string {
	if len(known) == 0 {
		return ""
	}
	best := ""
	bestDistance := -1
	for _, want := range requested {
		for _, candidate := range known {
			distance := edlib.LevenshteinDistance(want, candidate)
			if bestDistance == -1 || distance < bestDistance {
				bestDistance = distance
				best = candidate
			}
		}
	}
	return best
}
