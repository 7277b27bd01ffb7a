// Package types defines the data model shared by every stage of the
// runner: discovered items, their marker metadata, the wire messages
// exchanged with worker subprocesses, and the final report shape.
package types

import (
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Default resource limits referenced by the configuration defaults and the
// worker protocol codec.
const (
	// DefaultMaxMessageBytes bounds a single framed protocol message.
	// Rationale: bounds memory even if a worker misbehaves or a test
	// produces pathological stdout/stderr capture.
	DefaultMaxMessageBytes = 64 * 1024 * 1024 // 64 MiB, per spec.md §4.D

	// DefaultWorkerCount is used when the caller does not specify one.
	DefaultWorkerCount = 0 // 0 means "caller resolves runtime.NumCPU()"
)

// TestItem uniquely identifies one executable test. Items are immutable
// once produced; identity is the tuple (File, Class, Function).
type TestItem struct {
	File     string // absolute source-file path
	Class    string // enclosing class name, empty if none
	Function string
	Markers  MarkerSet
}

// Identity returns the canonical (file, class, function) tuple used for
// display, sorting, and filtering.
func (t TestItem) Identity() (file, class, function string) {
	return t.File, t.Class, t.Function
}

// Key returns a fast, content-stable 64-bit hash of the item's identity
// tuple, used as the Item Set's de-duplication map key. Collisions are not
// detected: two items with the same hash are treated as the same item.
func (t TestItem) Key() uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(t.File)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(t.Class)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(t.Function)
	return h.Sum64()
}

// String renders the item the way a reporter would: file::Class.function
// or file::function for module-level items.
func (t TestItem) String() string {
	if t.Class != "" {
		return fmt.Sprintf("%s::%s.%s", t.File, t.Class, t.Function)
	}
	return fmt.Sprintf("%s::%s", t.File, t.Function)
}

// Less orders two items lexicographically by (file, class, function), the
// deterministic ordering spec.md §4.B requires of the Item Set.
func (t TestItem) Less(other TestItem) bool {
	if t.File != other.File {
		return t.File < other.File
	}
	if t.Class != other.Class {
		return t.Class < other.Class
	}
	return t.Function < other.Function
}

// SortItems sorts items in place per TestItem.Less.
func SortItems(items []TestItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].Less(items[j]) })
}

// MarkerValue is the value of one marker: boolean, string, or an ordered
// list of strings, per spec.md §3.
type MarkerValue struct {
	Bool    *bool
	String  *string
	strList []string
	isList  bool
}

// BoolValue constructs a boolean marker value.
func BoolValue(b bool) MarkerValue { return MarkerValue{Bool: &b} }

// StringValue constructs a string marker value.
func StringValue(s string) MarkerValue { return MarkerValue{String: &s} }

// ListValue constructs an ordered string-list marker value.
func ListValue(items []string) MarkerValue {
	cp := append([]string(nil), items...)
	return MarkerValue{strList: cp, isList: true}
}

// IsList reports whether this value is an ordered string list.
func (v MarkerValue) IsList() bool { return v.isList }

// List returns the ordered string list, or nil if this value is not a list.
func (v MarkerValue) List() []string { return v.strList }

// Truthy reports whether the value should be treated as "on" by a boolean
// filter: a true bool, a non-empty string, or a non-empty list.
func (v MarkerValue) Truthy() bool {
	switch {
	case v.Bool != nil:
		return *v.Bool
	case v.String != nil:
		return *v.String != ""
	case v.isList:
		return len(v.strList) > 0
	default:
		return false
	}
}

// Contains reports whether a string-list (or single-string) value contains
// the given entry, used for `group` membership checks.
func (v MarkerValue) Contains(s string) bool {
	if v.isList {
		for _, item := range v.strList {
			if item == s {
				return true
			}
		}
		return false
	}
	return v.String != nil && *v.String == s
}

// MarkerSet is a mapping from marker name to marker value plus the two
// derived flags the Scheduler partitions on. Class-level markers are
// inherited by method items; method-level markers override by key.
type MarkerSet struct {
	Skip       bool
	SkipReason string
	Parallel   bool
	Values     map[string]MarkerValue
}

// NewMarkerSet returns an empty, ready-to-use MarkerSet.
func NewMarkerSet() MarkerSet {
	return MarkerSet{Values: make(map[string]MarkerValue)}
}

// Merge returns a new MarkerSet with method markers layered over class
// markers: method wins on key collision, per spec.md §3 ("last write
// wins, with the method winning over the class").
func (base MarkerSet) Merge(method MarkerSet) MarkerSet {
	out := NewMarkerSet()
	for k, v := range base.Values {
		out.Values[k] = v
	}
	for k, v := range method.Values {
		out.Values[k] = v
	}
	out.Skip = base.Skip || method.Skip
	out.SkipReason = base.SkipReason
	if method.Skip {
		out.SkipReason = method.SkipReason
	}
	out.Parallel = base.Parallel || method.Parallel
	return out
}

// Group returns the item's group membership list. A bare string value is
// treated as a single-element group.
func (m MarkerSet) Group() []string {
	v, ok := m.Values["group"]
	if !ok {
		return nil
	}
	if v.IsList() {
		return v.List()
	}
	if v.String != nil {
		return []string{*v.String}
	}
	return nil
}

// IsolationMode selects whether workers are reused across items or
// discarded after every completed request, per spec.md §4.C point 5.
type IsolationMode int

const (
	// ProcessPerRun reuses workers until discovery is exhausted or they
	// crash. The default optimization.
	ProcessPerRun IsolationMode = iota
	// ProcessPerTest discards and respawns a worker after every request.
	ProcessPerTest
)

func (m IsolationMode) String() string {
	if m == ProcessPerTest {
		return "process-per-test"
	}
	return "process-per-run"
}

// RequestKind is the tag distinguishing the three message shapes a
// supervisor may send a worker.
type RequestKind string

const (
	RequestRun      RequestKind = "run"
	RequestPing     RequestKind = "ping"
	RequestShutdown RequestKind = "shutdown"
)

// Request is a worker instruction, tagged by a monotonically increasing id.
type Request struct {
	ID              uint64
	Kind            RequestKind
	File            string
	Function        string
	Class           string
	CollectCoverage bool
}

// TestError is the non-nil Response.Error payload for a failed item, or the
// skip reason of a skipped one.
type TestError struct {
	Message    string
	Traceback  string
}

// Response is a worker reply, tagged by the id of the request it answers.
// A skipped item never reaches a worker; the Scheduler synthesizes its
// Response directly with Skipped set, Passed false, and Error carrying the
// skip reason when one was given (nil otherwise).
type Response struct {
	ID      uint64
	Passed  bool
	Skipped bool
	// Errored marks a failure the Supervisor synthesized itself (worker
	// crash, protocol desync, timeout) rather than one the worker reported
	// from inside the item's own execution, per spec.md §7's distinction
	// between "test failure" and "worker crash"/"protocol error". Never set
	// by a real worker response.
	Errored     bool
	Error       *TestError
	Stdout      string
	Stderr      string
	DurationSec float64
	Coverage    map[string][]int // absolute path -> sorted, deduplicated line numbers
	Pong        bool
}

// WorkerState is the lifecycle of one supervisor-owned worker handle, per
// spec.md §3: Spawning -> Ready -> Busy(id) -> Ready ... -> Draining ->
// Terminated | Crashed.
type WorkerState int

const (
	WorkerSpawning WorkerState = iota
	WorkerReady
	WorkerBusy
	WorkerDraining
	WorkerTerminated
	WorkerCrashed
)

func (s WorkerState) String() string {
	switch s {
	case WorkerSpawning:
		return "spawning"
	case WorkerReady:
		return "ready"
	case WorkerBusy:
		return "busy"
	case WorkerDraining:
		return "draining"
	case WorkerTerminated:
		return "terminated"
	case WorkerCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

// Cohort is one unit of the DispatchPlan: either an ordered list of items
// run one at a time (Parallel false), or a batch of parallel-safe items
// dispatchable concurrently.
type Cohort struct {
	Parallel bool
	Items    []TestItem
}

// DispatchPlan is an ordered sequence of cohorts produced by the Scheduler.
type DispatchPlan struct {
	Cohorts []Cohort
}

// TotalItems returns the number of items across every cohort in the plan.
func (p *DispatchPlan) TotalItems() int {
	n := 0
	for _, c := range p.Cohorts {
		n += len(c.Items)
	}
	return n
}

// Outcome pairs a TestItem with the Response the Supervisor (or the
// Scheduler, for a skipped item) produced for it. This is the Result
// Aggregator's unit of input, per spec.md §4.G.
type Outcome struct {
	Item     TestItem
	Response Response
}
