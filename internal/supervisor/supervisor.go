// Package supervisor implements the Worker Supervisor (spec.md §4.E): it
// owns a pool of long-lived interpreter subprocesses, dispatches Requests,
// correlates Responses, and detects and replaces crashed workers so a
// single pathological test can never hang or crash the whole run. Subprocess
// shelling generalizes the usual os/exec one-shot command idiom to a
// long-lived piped subprocess; readiness-multiplexing follows a
// one-goroutine-per-source-plus-channel shape for the spec.md §5
// concurrency model.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	runnererrors "github.com/standardbeagle/taut/internal/errors"
	"github.com/standardbeagle/taut/internal/protocol"
	"github.com/standardbeagle/taut/internal/types"
)

// Interpreter identifies the external worker entry point the Pool spawns.
// spec.md does not specify how the worker binary is discovered; this
// module resolves that Open Question by requiring the caller to supply it
// explicitly rather than guessing a default (see DESIGN.md).
type Interpreter struct {
	Command string
	Args    []string
	// Env, if non-empty, is appended to the inherited process environment.
	Env []string
}

// workerHandle is the supervisor's view of one worker subprocess.
type workerHandle struct {
	index  int
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *bytes.Buffer
	state  types.WorkerState
	pid    int
}

// Pool owns worker_count worker subprocesses and dispatches a DispatchPlan
// across them, per spec.md §4.E.
type Pool struct {
	interpreter   Interpreter
	workerCount   int
	isolation     types.IsolationMode
	timeout       time.Duration
	captureStderr bool
	codec         *protocol.Codec

	mu      sync.Mutex
	workers []*workerHandle
	nextID  uint64

	pidHistoryMu sync.Mutex
	pidHistory   []int
}

// Option configures a Pool at construction time.
type Option func(*Pool)

// WithTimeout bounds how long the Pool waits for a single item's Response
// before treating its worker as crashed. Zero (the default) is unbounded,
// per spec.md §4.E point 4's stated default.
func WithTimeout(d time.Duration) Option {
	return func(p *Pool) { p.timeout = d }
}

// WithCaptureStderr captures each worker's stderr into a buffer surfaced on
// crash diagnostics, instead of inheriting the supervisor's stderr.
func WithCaptureStderr(capture bool) Option {
	return func(p *Pool) { p.captureStderr = capture }
}

// WithMaxMessageBytes overrides the codec's frame-size cap (spec.md §4.D).
func WithMaxMessageBytes(n int) Option {
	return func(p *Pool) { p.codec.MaxMessageBytes = n }
}

// NewPool spawns workerCount worker subprocesses and returns a ready Pool.
// Per spec.md §4.E ("On pool creation, spawn worker_count worker
// processes"), spawning happens here, not on first dispatch.
func NewPool(interp Interpreter, workerCount int, isolation types.IsolationMode, opts ...Option) (*Pool, error) {
	if workerCount <= 0 {
		return nil, fmt.Errorf("supervisor: worker count must be positive, got %d", workerCount)
	}

	p := &Pool{
		interpreter: interp,
		workerCount: workerCount,
		isolation:   isolation,
		codec:       protocol.New(),
		workers:     make([]*workerHandle, workerCount),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < workerCount; i++ {
		w, err := p.spawnWorker(i)
		if err != nil {
			p.killAll()
			return nil, fmt.Errorf("supervisor: spawning worker %d: %w", i, err)
		}
		p.workers[i] = w
	}
	return p, nil
}

func (p *Pool) spawnWorker(index int) (*workerHandle, error) {
	cmd := exec.Command(p.interpreter.Command, p.interpreter.Args...)
	if len(p.interpreter.Env) > 0 {
		cmd.Env = append(os.Environ(), p.interpreter.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	var stderrBuf bytes.Buffer
	if p.captureStderr {
		cmd.Stderr = &stderrBuf
	} else {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	pid := cmd.Process.Pid
	p.pidHistoryMu.Lock()
	p.pidHistory = append(p.pidHistory, pid)
	p.pidHistoryMu.Unlock()

	return &workerHandle{
		index:  index,
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		stderr: &stderrBuf,
		state:  types.WorkerReady,
		pid:    pid,
	}, nil
}

// PIDs returns every worker PID the Pool has ever spawned, in spawn order —
// used to observe process-per-test isolation (spec.md §8 scenario 6).
func (p *Pool) PIDs() []int {
	p.pidHistoryMu.Lock()
	defer p.pidHistoryMu.Unlock()
	out := make([]int, len(p.pidHistory))
	copy(out, p.pidHistory)
	return out
}

// Run dispatches plan's cohorts in order: a parallel cohort is spread
// across every worker at once, a sequential cohort is run one item at a
// time, in discovery order, on a single worker (spec.md §4.C point 4's
// "run parallel first" discipline, matching internal/scheduler.Plan).
func (p *Pool) Run(ctx context.Context, plan *types.DispatchPlan, collectCoverage bool) ([]types.Outcome, error) {
	var outcomes []types.Outcome
	for _, cohort := range plan.Cohorts {
		concurrency := 1
		if cohort.Parallel {
			concurrency = p.workerCount
		}
		out, err := p.runCohort(ctx, cohort.Items, collectCoverage, concurrency)
		if err != nil {
			return outcomes, err
		}
		outcomes = append(outcomes, out...)
	}
	return outcomes, nil
}

// runCohort dispatches items across at most concurrency worker slots,
// bounded by a semaphore sized to the cohort's concurrency, coordinated by
// an errgroup so a single internal panic-level failure does not strand the
// others. A free-slot channel hands each goroutine an exclusive worker
// index for the duration of one dispatch, so crash-and-replace on that slot
// never races a concurrent user of the same subprocess.
func (p *Pool) runCohort(ctx context.Context, items []types.TestItem, collectCoverage bool, concurrency int) ([]types.Outcome, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if concurrency > p.workerCount {
		concurrency = p.workerCount
	}
	if concurrency < 1 {
		concurrency = 1
	}

	freeSlots := make(chan int, concurrency)
	for i := 0; i < concurrency; i++ {
		freeSlots <- i
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	eg, egCtx := errgroup.WithContext(ctx)
	outCh := make(chan types.Outcome, len(items))

	for _, item := range items {
		item := item
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)
			slot := <-freeSlots
			outcome := p.dispatchOne(egCtx, slot, item, collectCoverage)
			freeSlots <- slot
			outCh <- outcome
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		close(outCh)
		return nil, err
	}
	close(outCh)

	results := make([]types.Outcome, 0, len(items))
	for o := range outCh {
		results = append(results, o)
	}
	return results, nil
}

type readResult struct {
	msg map[string]interface{}
	err error
}

// dispatchOne sends one run request to the worker occupying slot and
// returns its outcome, synthesizing a failure Outcome and replacing the
// worker on any crash condition from spec.md §4.E: closed stdout, process
// exit, deserialization error, or (if configured) a per-item timeout.
func (p *Pool) dispatchOne(ctx context.Context, slot int, item types.TestItem, collectCoverage bool) types.Outcome {
	p.mu.Lock()
	w := p.workers[slot]
	w.state = types.WorkerBusy
	p.mu.Unlock()

	id := atomic.AddUint64(&p.nextID, 1)
	req := types.Request{
		ID: id, Kind: types.RequestRun,
		File: item.File, Function: item.Function, Class: item.Class,
		CollectCoverage: collectCoverage,
	}

	if err := p.codec.WriteMessage(w.stdin, protocol.EncodeRequest(req)); err != nil {
		return types.Outcome{Item: item, Response: p.crash(slot, fmt.Errorf("failed to send request to worker: %w", err))}
	}

	respCh := make(chan readResult, 1)
	go func() {
		msg, err := p.codec.ReadMessage(w.stdout)
		respCh <- readResult{msg, err}
	}()

	var timeoutCh <-chan time.Time
	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case res := <-respCh:
		if res.err != nil {
			return types.Outcome{Item: item, Response: p.crash(slot, fmt.Errorf("worker exited before responding: %w", res.err))}
		}
		resp, err := protocol.DecodeResponse(res.msg)
		if err != nil {
			return types.Outcome{Item: item, Response: p.desync(slot, err)}
		}
		if resp.ID != id {
			return types.Outcome{Item: item, Response: p.desync(slot, fmt.Errorf("response id %d does not match request id %d", resp.ID, id))}
		}

		p.mu.Lock()
		w.state = types.WorkerReady
		p.mu.Unlock()

		if p.isolation == types.ProcessPerTest {
			p.respawn(slot)
		}
		return types.Outcome{Item: item, Response: resp}

	case <-timeoutCh:
		return types.Outcome{Item: item, Response: p.crash(slot, fmt.Errorf("worker timed out before responding"))}

	case <-ctx.Done():
		return types.Outcome{Item: item, Response: p.crash(slot, fmt.Errorf("run cancelled before worker responded"))}
	}
}

// crash tears down and replaces the worker at slot and synthesizes the
// failure Response spec.md §4.E.a requires, carrying captured stderr as a
// diagnostic. cause is wrapped as an ErrorTypeWorkerCrash RunnerError
// attributed to slot.
func (p *Pool) crash(slot int, cause error) types.Response {
	return p.fail(slot, runnererrors.New(runnererrors.ErrorTypeWorkerCrash, "worker.crash", cause).WithWorker(slot))
}

// desync is crash's counterpart for a malformed frame or mismatched
// response id: the worker process may still be alive, but its side of the
// protocol state machine can no longer be trusted, so it is replaced the
// same way a crash is.
func (p *Pool) desync(slot int, cause error) types.Response {
	return p.fail(slot, runnererrors.New(runnererrors.ErrorTypeProtocol, "worker.desync", cause).WithWorker(slot))
}

func (p *Pool) fail(slot int, re *runnererrors.RunnerError) types.Response {
	p.mu.Lock()
	w := p.workers[slot]
	w.state = types.WorkerCrashed
	stderr := ""
	if w.stderr != nil {
		stderr = w.stderr.String()
	}
	p.mu.Unlock()

	p.respawn(slot)

	return types.Response{
		Passed:  false,
		Errored: true,
		Error:   &types.TestError{Message: re.Error(), Traceback: stderr},
	}
}

// respawn kills whatever is running in slot (if anything) and starts a
// fresh worker in its place, preserving pool capacity per spec.md §4.E.b.
func (p *Pool) respawn(slot int) {
	p.mu.Lock()
	old := p.workers[slot]
	p.mu.Unlock()

	terminate(old)

	fresh, err := p.spawnWorker(slot)
	if err != nil {
		// Degrade in place: leave a crashed placeholder rather than a nil
		// entry, so subsequent dispatches to this slot fail loudly instead
		// of panicking on a nil pointer.
		fresh = &workerHandle{index: slot, state: types.WorkerCrashed}
	}

	p.mu.Lock()
	p.workers[slot] = fresh
	p.mu.Unlock()
}

func terminate(w *workerHandle) {
	if w == nil || w.cmd == nil {
		return
	}
	if w.stdin != nil {
		_ = w.stdin.Close()
	}
	if w.stdout != nil {
		_ = w.stdout.Close()
	}
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	_ = w.cmd.Wait()
}

func (p *Pool) killAll() {
	p.mu.Lock()
	workers := append([]*workerHandle(nil), p.workers...)
	p.mu.Unlock()
	for _, w := range workers {
		terminate(w)
	}
}

// Shutdown sends every Ready worker a shutdown request, waits up to grace
// for clean exit, then forcibly terminates any stragglers, per spec.md
// §4.E's shutdown policy. It always reaps every spawned child, satisfying
// §5's zombie-prevention requirement. A worker that fails to accept its
// shutdown request (already dead, pipe closed) is still terminated and
// reaped; its write error is collected rather than discarded, and Shutdown
// returns every such error together as a MultiError.
func (p *Pool) Shutdown(grace time.Duration) error {
	p.mu.Lock()
	workers := append([]*workerHandle(nil), p.workers...)
	p.mu.Unlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var errs []error

	for _, w := range workers {
		if w == nil || w.cmd == nil {
			continue
		}
		wg.Add(1)
		go func(w *workerHandle) {
			defer wg.Done()

			p.mu.Lock()
			w.state = types.WorkerDraining
			p.mu.Unlock()

			if err := p.codec.WriteMessage(w.stdin, protocol.EncodeRequest(types.Request{Kind: types.RequestShutdown})); err != nil {
				errMu.Lock()
				errs = append(errs, runnererrors.New(runnererrors.ErrorTypeWorkerCrash, "worker.shutdown", err).WithWorker(w.index))
				errMu.Unlock()
			}
			_ = w.stdin.Close()

			done := make(chan error, 1)
			go func() { done <- w.cmd.Wait() }()

			select {
			case <-done:
			case <-time.After(grace):
				if w.cmd.Process != nil {
					_ = w.cmd.Process.Kill()
				}
				<-done
			}

			p.mu.Lock()
			w.state = types.WorkerTerminated
			p.mu.Unlock()
			_ = w.stdout.Close()
		}(w)
	}
	wg.Wait()

	if len(errs) == 0 {
		return nil
	}
	return runnererrors.NewMultiError(errs)
}

// Ping sends a ping request to the worker in slot and reports whether it
// answered, exercised by liveness checks and spec.md §4.F point 7's
// ping/pong contract.
func (p *Pool) Ping(slot int) (types.Response, error) {
	p.mu.Lock()
	w := p.workers[slot]
	p.mu.Unlock()

	id := atomic.AddUint64(&p.nextID, 1)
	if err := p.codec.WriteMessage(w.stdin, protocol.EncodeRequest(types.Request{ID: id, Kind: types.RequestPing})); err != nil {
		return types.Response{}, err
	}
	msg, err := p.codec.ReadMessage(w.stdout)
	if err != nil {
		return types.Response{}, err
	}
	return protocol.DecodeResponse(msg)
}

// States returns a snapshot of every worker's current lifecycle state, in
// slot order, for diagnostics and tests.
func (p *Pool) States() []types.WorkerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.WorkerState, len(p.workers))
	for i, w := range p.workers {
		if w == nil {
			continue
		}
		out[i] = w.state
	}
	return out
}
