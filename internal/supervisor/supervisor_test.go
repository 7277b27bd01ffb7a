package supervisor

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/taut/internal/types"
	"github.com/standardbeagle/taut/internal/worker"
)

// TestMain doubles as the self-exec helper-process entry point: when a
// worker subprocess is spawned with TAUT_TEST_WORKER=1 it drives
// internal/worker.Run instead of the normal test suite, the same
// "spawn yourself as a fake child process" idiom os/exec's own test suite
// uses to test subprocess-spawning code without an external binary. Every
// other Test in this package runs under goleak to catch a supervisor
// leaving worker-reader goroutines or subprocesses behind.
func TestMain(m *testing.M) {
	if os.Getenv("TAUT_TEST_WORKER") == "1" {
		runHelperWorker()
		os.Exit(0)
	}
	goleak.VerifyTestMain(m)
}

func runHelperWorker() {
	reg := worker.Registry{}
	if raw := os.Getenv("TAUT_TEST_WORKER_REGISTRY"); raw != "" {
		_ = json.Unmarshal([]byte(raw), &reg)
	}
	_ = worker.Run(os.Stdin, os.Stdout, reg)
}

// testInterpreter builds an Interpreter that re-execs this test binary as a
// fake worker driven by reg.
func testInterpreter(t *testing.T, reg worker.Registry) Interpreter {
	t.Helper()
	data, err := json.Marshal(reg)
	require.NoError(t, err)
	return Interpreter{
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		Env: []string{
			"TAUT_TEST_WORKER=1",
			"TAUT_TEST_WORKER_REGISTRY=" + string(data),
		},
	}
}

func itemFor(file, fn string) types.TestItem {
	return types.TestItem{File: file, Function: fn, Markers: types.NewMarkerSet()}
}

func TestPoolRunsParallelCohortAndReportsAllOutcomes(t *testing.T) {
	reg := worker.Registry{
		worker.Key("/t/test_a.py", "", "test_one"): {Passed: true},
		worker.Key("/t/test_a.py", "", "test_two"): {Passed: true},
	}
	pool, err := NewPool(testInterpreter(t, reg), 2, types.ProcessPerRun)
	require.NoError(t, err)
	defer pool.Shutdown(2 * time.Second)

	plan := &types.DispatchPlan{Cohorts: []types.Cohort{{
		Parallel: true,
		Items:    []types.TestItem{itemFor("/t/test_a.py", "test_one"), itemFor("/t/test_a.py", "test_two")},
	}}}

	outcomes, err := pool.Run(context.Background(), plan, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.True(t, o.Response.Passed)
		assert.Nil(t, o.Response.Error)
	}
}

func TestPoolSequentialCohortPreservesDiscoveryOrder(t *testing.T) {
	reg := worker.Registry{
		worker.Key("/t/test_a.py", "", "test_1"): {Passed: true},
		worker.Key("/t/test_a.py", "", "test_2"): {Passed: true},
		worker.Key("/t/test_a.py", "", "test_3"): {Passed: true},
	}
	pool, err := NewPool(testInterpreter(t, reg), 3, types.ProcessPerRun)
	require.NoError(t, err)
	defer pool.Shutdown(2 * time.Second)

	items := []types.TestItem{
		itemFor("/t/test_a.py", "test_1"),
		itemFor("/t/test_a.py", "test_2"),
		itemFor("/t/test_a.py", "test_3"),
	}
	plan := &types.DispatchPlan{Cohorts: []types.Cohort{{Parallel: false, Items: items}}}

	outcomes, err := pool.Run(context.Background(), plan, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	assert.Equal(t, "test_1", outcomes[0].Item.Function)
	assert.Equal(t, "test_2", outcomes[1].Item.Function)
	assert.Equal(t, "test_3", outcomes[2].Item.Function)
}

// TestPoolCrashRecoveryLosesNoItems exercises spec.md §8 scenario 4: one
// item crashes its worker mid-test, the rest still report correctly, and
// the pool keeps its configured capacity.
func TestPoolCrashRecoveryLosesNoItems(t *testing.T) {
	reg := worker.Registry{
		worker.Key("/t/test_a.py", "", "test_aborts"): {Crash: true},
	}
	for i := 0; i < 9; i++ {
		reg[worker.Key("/t/test_a.py", "", fnName(i))] = worker.Behavior{Passed: true}
	}
	pool, err := NewPool(testInterpreter(t, reg), 1, types.ProcessPerRun)
	require.NoError(t, err)
	defer pool.Shutdown(2 * time.Second)

	var items []types.TestItem
	for i := 0; i < 4; i++ {
		items = append(items, itemFor("/t/test_a.py", fnName(i)))
	}
	items = append(items, itemFor("/t/test_a.py", "test_aborts"))
	for i := 4; i < 9; i++ {
		items = append(items, itemFor("/t/test_a.py", fnName(i)))
	}

	plan := &types.DispatchPlan{Cohorts: []types.Cohort{{Parallel: false, Items: items}}}
	outcomes, err := pool.Run(context.Background(), plan, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 10)

	passed, failed := 0, 0
	for _, o := range outcomes {
		if o.Item.Function == "test_aborts" {
			assert.False(t, o.Response.Passed)
			require.NotNil(t, o.Response.Error)
			assert.Contains(t, o.Response.Error.Message, "worker exited")
			failed++
			continue
		}
		assert.True(t, o.Response.Passed)
		passed++
	}
	assert.Equal(t, 9, passed)
	assert.Equal(t, 1, failed)

	// The pool replaced the crashed worker: more than one distinct pid was
	// observed for the single slot it used.
	assert.GreaterOrEqual(t, len(pool.PIDs()), 2)
}

func fnName(i int) string {
	return "test_" + string(rune('a'+i))
}

func TestPoolProcessPerTestSpawnsDistinctWorkerPerItem(t *testing.T) {
	reg := worker.Registry{}
	for i := 0; i < 5; i++ {
		reg[worker.Key("/t/test_a.py", "", fnName(i))] = worker.Behavior{Passed: true}
	}
	pool, err := NewPool(testInterpreter(t, reg), 1, types.ProcessPerTest)
	require.NoError(t, err)
	defer pool.Shutdown(2 * time.Second)

	var items []types.TestItem
	for i := 0; i < 5; i++ {
		items = append(items, itemFor("/t/test_a.py", fnName(i)))
	}
	plan := &types.DispatchPlan{Cohorts: []types.Cohort{{Parallel: false, Items: items}}}

	outcomes, err := pool.Run(context.Background(), plan, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 5)

	pids := pool.PIDs()
	seen := make(map[int]bool)
	for _, pid := range pids {
		seen[pid] = true
	}
	// Initial spawn + one respawn per completed item = 6 distinct pids.
	assert.Equal(t, len(pids), len(seen), "expected every observed pid to be distinct")
	assert.GreaterOrEqual(t, len(pids), 6)
}

func TestPoolTimeoutTreatsSlowWorkerAsCrashed(t *testing.T) {
	reg := worker.Registry{
		worker.Key("/t/test_a.py", "", "test_slow"): {Passed: true, Sleep: 200 * time.Millisecond},
	}
	pool, err := NewPool(testInterpreter(t, reg), 1, types.ProcessPerRun, WithTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer pool.Shutdown(2 * time.Second)

	plan := &types.DispatchPlan{Cohorts: []types.Cohort{{
		Parallel: false, Items: []types.TestItem{itemFor("/t/test_a.py", "test_slow")},
	}}}
	outcomes, err := pool.Run(context.Background(), plan, false)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Response.Passed)
	require.NotNil(t, outcomes[0].Response.Error)
	assert.Contains(t, outcomes[0].Response.Error.Message, "timed out")
}

func TestPoolPingPong(t *testing.T) {
	pool, err := NewPool(testInterpreter(t, worker.Registry{}), 1, types.ProcessPerRun)
	require.NoError(t, err)
	defer pool.Shutdown(2 * time.Second)

	resp, err := pool.Ping(0)
	require.NoError(t, err)
	assert.True(t, resp.Pong)
}

func TestNewPoolRejectsNonPositiveWorkerCount(t *testing.T) {
	_, err := NewPool(testInterpreter(t, worker.Registry{}), 0, types.ProcessPerRun)
	assert.Error(t, err)
}
