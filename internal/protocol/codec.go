// Package protocol implements the length-prefixed binary IPC protocol
// between the supervisor and a worker subprocess (spec.md §4.D, §6).
//
// Each message on the wire is a 4-byte little-endian unsigned length
// prefix followed by a msgpack-encoded map with string keys. This is the
// literal wire format original_source/src/worker.py speaks
// (struct.pack('<I', len(data)) + msgpack.packb(dict)); the codec here is
// the Go side of the same contract.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	runnererrors "github.com/standardbeagle/taut/internal/errors"
	"github.com/standardbeagle/taut/internal/types"
)

// prefixLen is the size in bytes of the length prefix.
const prefixLen = 4

// ErrOversizedMessage is returned when a frame's declared length exceeds
// the configured cap.
var ErrOversizedMessage = fmt.Errorf("protocol: message exceeds maximum frame size")

// Codec reads and writes framed messages on a byte stream, enforcing the
// configured maximum frame size (spec.md §4.D: "configurable cap, default
// 64 MiB, to bound memory").
type Codec struct {
	MaxMessageBytes int
}

// New returns a Codec with spec.md's default 64 MiB frame cap.
func New() *Codec {
	return &Codec{MaxMessageBytes: types.DefaultMaxMessageBytes}
}

// WriteFrame emits a single length-prefixed message atomically: one Write
// call carrying the prefix and the payload together, so a partial write
// can never interleave with a concurrent writer's frame.
func (c *Codec) WriteFrame(w io.Writer, payload []byte) error {
	if c.MaxMessageBytes > 0 && len(payload) > c.MaxMessageBytes {
		return ErrOversizedMessage
	}
	buf := make([]byte, prefixLen+len(payload))
	binary.LittleEndian.PutUint32(buf[:prefixLen], uint32(len(payload)))
	copy(buf[prefixLen:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads exactly one length-prefixed message. A clean EOF before
// any prefix byte is read is reported as io.EOF (worker terminated
// cleanly between messages). A short read after the prefix, or any read
// error mid-payload, is a protocol error: the worker died or desynced
// mid-frame.
func (c *Codec) ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [prefixLen]byte
	n, err := io.ReadFull(r, lenBuf[:])
	if n == 0 && err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, runnererrors.New(runnererrors.ErrorTypeProtocol, "protocol.read_frame", fmt.Errorf("short read on length prefix: %w", err))
	}

	length := binary.LittleEndian.Uint32(lenBuf[:])
	if c.MaxMessageBytes > 0 && int(length) > c.MaxMessageBytes {
		return nil, runnererrors.New(runnererrors.ErrorTypeProtocol, "protocol.read_frame", ErrOversizedMessage)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, runnererrors.New(runnererrors.ErrorTypeProtocol, "protocol.read_frame", fmt.Errorf("short read on payload: %w", err))
	}
	return payload, nil
}

// WriteMessage encodes msg as msgpack and writes it as one frame.
func (c *Codec) WriteMessage(w io.Writer, msg map[string]interface{}) error {
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return runnererrors.New(runnererrors.ErrorTypeProtocol, "protocol.encode", err)
	}
	return c.WriteFrame(w, payload)
}

// ReadMessage reads one frame and decodes it as a msgpack map.
func (c *Codec) ReadMessage(r io.Reader) (map[string]interface{}, error) {
	payload, err := c.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	var msg map[string]interface{}
	if err := msgpack.Unmarshal(payload, &msg); err != nil {
		return nil, runnererrors.New(runnererrors.ErrorTypeProtocol, "protocol.decode", err)
	}
	return msg, nil
}

// EncodeRequest serializes a Request into the wire map shape.
func EncodeRequest(req types.Request) map[string]interface{} {
	msg := map[string]interface{}{
		"cmd": string(req.Kind),
		"id":  req.ID,
	}
	if req.Kind == types.RequestRun {
		msg["file"] = req.File
		msg["function"] = req.Function
		if req.Class != "" {
			msg["class"] = req.Class
		}
		msg["collect_coverage"] = req.CollectCoverage
	}
	return msg
}

// DecodeRequest parses the wire map shape into a Request.
func DecodeRequest(msg map[string]interface{}) (types.Request, error) {
	var req types.Request
	cmd, _ := msg["cmd"].(string)
	if cmd == "" {
		cmd = string(types.RequestRun)
	}
	req.Kind = types.RequestKind(cmd)
	req.ID = toUint64(msg["id"])
	req.File, _ = msg["file"].(string)
	req.Function, _ = msg["function"].(string)
	req.Class, _ = msg["class"].(string)
	if v, ok := msg["collect_coverage"].(bool); ok {
		req.CollectCoverage = v
	}
	return req, nil
}

// EncodeResponse serializes a Response into the wire map shape.
func EncodeResponse(resp types.Response) map[string]interface{} {
	msg := map[string]interface{}{
		"id":           resp.ID,
		"passed":       resp.Passed,
		"skipped":      resp.Skipped,
		"stdout":       resp.Stdout,
		"stderr":       resp.Stderr,
		"duration_sec": resp.DurationSec,
	}
	if resp.Error != nil {
		msg["error"] = map[string]interface{}{
			"message":   resp.Error.Message,
			"traceback": resp.Error.Traceback,
		}
	} else {
		msg["error"] = nil
	}
	if resp.Coverage != nil {
		cov := make(map[string]interface{}, len(resp.Coverage))
		for path, lines := range resp.Coverage {
			ls := make([]interface{}, len(lines))
			for i, l := range lines {
				ls[i] = l
			}
			cov[path] = ls
		}
		msg["coverage"] = cov
	}
	if resp.Pong {
		msg["pong"] = true
	}
	return msg
}

// DecodeResponse parses the wire map shape into a Response.
func DecodeResponse(msg map[string]interface{}) (types.Response, error) {
	var resp types.Response
	resp.ID = toUint64(msg["id"])
	if v, ok := msg["passed"].(bool); ok {
		resp.Passed = v
	}
	if v, ok := msg["skipped"].(bool); ok {
		resp.Skipped = v
	}
	resp.Stdout, _ = msg["stdout"].(string)
	resp.Stderr, _ = msg["stderr"].(string)
	resp.DurationSec = toFloat64(msg["duration_sec"])
	if v, ok := msg["pong"].(bool); ok {
		resp.Pong = v
	}

	if errVal, ok := msg["error"].(map[string]interface{}); ok {
		resp.Error = &types.TestError{}
		resp.Error.Message, _ = errVal["message"].(string)
		resp.Error.Traceback, _ = errVal["traceback"].(string)
	}

	if covVal, ok := msg["coverage"].(map[string]interface{}); ok {
		resp.Coverage = make(map[string][]int, len(covVal))
		for path, raw := range covVal {
			list, ok := raw.([]interface{})
			if !ok {
				continue
			}
			lines := make([]int, 0, len(list))
			for _, item := range list {
				lines = append(lines, int(toFloat64(item)))
			}
			resp.Coverage[path] = lines
		}
	}

	if resp.Passed && resp.Error != nil {
		err := fmt.Errorf("malformed response %d: passed=true with non-nil error", resp.ID)
		return resp, runnererrors.New(runnererrors.ErrorTypeProtocol, "protocol.decode_response", err)
	}
	if !resp.Passed && resp.Error == nil && !resp.Pong && !resp.Skipped {
		err := fmt.Errorf("malformed response %d: passed=false with nil error", resp.ID)
		return resp, runnererrors.New(runnererrors.ErrorTypeProtocol, "protocol.decode_response", err)
	}
	return resp, nil
}

func toUint64(v interface{}) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case int:
		return uint64(n)
	case uint8, uint16, uint32, int8, int16, int32:
		return toUint64(toFloat64(n))
	case float64:
		return uint64(n)
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	default:
		return 0
	}
}

// RoundTrip is a small helper exercised by property tests: encode then
// decode a Response and report whether the result matches.
func RoundTrip(resp types.Response) (types.Response, error) {
	encoded := EncodeResponse(resp)
	var buf bytes.Buffer
	c := New()
	if err := c.WriteMessage(&buf, encoded); err != nil {
		return types.Response{}, err
	}
	msg, err := c.ReadMessage(&buf)
	if err != nil {
		return types.Response{}, err
	}
	return DecodeResponse(msg)
}
