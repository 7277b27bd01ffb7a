// Package worker is a Go-native reference implementation of the Worker
// Runtime Contract (spec.md §4.F). spec.md is explicit that the contract
// is "specified but not implemented by the core" — a real worker is a
// python3 subprocess running original_source/src/worker.py's
// run_test/_read_message/_send_message loop. This package exists purely
// so the Worker Supervisor and Worker Protocol Codec can be exercised
// end-to-end in this Go test environment, where no Python interpreter is
// available; it is test-only infrastructure, never a shipped worker.
package worker

import (
	"io"
	"time"

	"github.com/standardbeagle/taut/internal/protocol"
	"github.com/standardbeagle/taut/internal/types"
)

// Behavior is the canned outcome a fake worker returns for one registered
// item, transliterated from original_source/src/worker.py's run_test
// result shape.
type Behavior struct {
	Passed      bool
	Error       *types.TestError
	Stdout      string
	Stderr      string
	DurationSec float64
	Coverage    map[string][]int

	// Sleep simulates a slow test so scheduler/timeout behavior is
	// observable on the wall clock (spec.md §8 scenario 2).
	Sleep time.Duration

	// Crash makes the loop exit without writing a response for this
	// request, simulating the worker dying mid-test (spec.md §8 scenario 4).
	Crash bool
}

// Registry maps an item identity to the behavior a fake worker should
// produce when asked to run it.
type Registry map[string]Behavior

// Key builds the Registry lookup key for an item identity tuple.
func Key(file, class, function string) string {
	return file + "\x00" + class + "\x00" + function
}

// defaultBehavior is returned for any item with no registered entry: it
// passes immediately with empty captured output.
var defaultBehavior = Behavior{Passed: true}

// Run drives the contract loop: read framed requests from r, write framed
// responses to w, until a shutdown request arrives or r reaches EOF. It
// returns nil on a clean shutdown/EOF and a non-nil error on a protocol
// desync, matching spec.md §4.F point 8 ("an unrecoverable worker-internal
// error must not silently consume a request: the worker should exit").
func Run(r io.Reader, w io.Writer, reg Registry) error {
	codec := protocol.New()

	for {
		raw, err := codec.ReadMessage(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		req, err := protocol.DecodeRequest(raw)
		if err != nil {
			return err
		}

		switch req.Kind {
		case types.RequestShutdown:
			return nil

		case types.RequestPing:
			resp := types.Response{ID: req.ID, Pong: true}
			if err := codec.WriteMessage(w, protocol.EncodeResponse(resp)); err != nil {
				return err
			}

		case types.RequestRun:
			behavior, ok := reg[Key(req.File, req.Class, req.Function)]
			if !ok {
				behavior = defaultBehavior
			}
			if behavior.Sleep > 0 {
				time.Sleep(behavior.Sleep)
			}
			if behavior.Crash {
				return nil
			}

			resp := types.Response{
				ID:          req.ID,
				Passed:      behavior.Passed,
				Error:       behavior.Error,
				Stdout:      behavior.Stdout,
				Stderr:      behavior.Stderr,
				DurationSec: behavior.DurationSec,
				Coverage:    behavior.Coverage,
			}
			if !resp.Passed && resp.Error == nil {
				resp.Error = &types.TestError{Message: "test failed"}
			}
			if err := codec.WriteMessage(w, protocol.EncodeResponse(resp)); err != nil {
				return err
			}
		}
	}
}
