package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/taut/internal/types"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	c := New()
	payload := []byte("hello frame")
	require.NoError(t, c.WriteFrame(&buf, payload))

	got, err := c.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrameCleanEOFBetweenMessages(t *testing.T) {
	c := New()
	_, err := c.ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameShortPrefixIsProtocolError(t *testing.T) {
	c := New()
	_, err := c.ReadFrame(bytes.NewReader([]byte{1, 2}))
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestReadFrameShortPayloadIsProtocolError(t *testing.T) {
	c := New()
	var buf bytes.Buffer
	require.NoError(t, c.WriteFrame(&buf, []byte("0123456789")))
	truncated := buf.Bytes()[:len(buf.Bytes())-3]
	_, err := c.ReadFrame(bytes.NewReader(truncated))
	require.Error(t, err)
}

func TestReadFrameRejectsOversizedMessage(t *testing.T) {
	c := &Codec{MaxMessageBytes: 4}
	var buf bytes.Buffer
	plain := New()
	require.NoError(t, plain.WriteFrame(&buf, []byte("too long for this cap")))

	_, err := c.ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrOversizedMessage)
}

func TestWriteFrameRejectsOversizedMessage(t *testing.T) {
	c := &Codec{MaxMessageBytes: 2}
	var buf bytes.Buffer
	err := c.WriteFrame(&buf, []byte("abc"))
	assert.ErrorIs(t, err, ErrOversizedMessage)
}

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	req := types.Request{
		ID:              7,
		Kind:            types.RequestRun,
		File:            "/tmp/test_a.py",
		Function:        "test_m",
		Class:           "TestX",
		CollectCoverage: true,
	}
	msg := EncodeRequest(req)

	var buf bytes.Buffer
	c := New()
	require.NoError(t, c.WriteMessage(&buf, msg))
	decoded, err := c.ReadMessage(&buf)
	require.NoError(t, err)

	got, err := DecodeRequest(decoded)
	require.NoError(t, err)
	assert.Equal(t, req, got)
}

func TestEncodeDecodeResponsePassRoundTrip(t *testing.T) {
	resp := types.Response{
		ID:          3,
		Passed:      true,
		Stdout:      "out",
		Stderr:      "",
		DurationSec: 0.125,
		Coverage: map[string][]int{
			"/tmp/a.py": {1, 2, 5},
		},
	}
	got, err := RoundTrip(resp)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestEncodeDecodeResponseFailureRoundTrip(t *testing.T) {
	resp := types.Response{
		ID:          4,
		Passed:      false,
		Error:       &types.TestError{Message: "AssertionError: boom", Traceback: "Traceback...\nline 1"},
		Stdout:      "",
		Stderr:      "warn\n",
		DurationSec: 0.002,
	}
	got, err := RoundTrip(resp)
	require.NoError(t, err)
	assert.Equal(t, resp, got)
}

func TestEncodeDecodePongRoundTrip(t *testing.T) {
	resp := types.Response{ID: 9, Pong: true}
	got, err := RoundTrip(resp)
	require.NoError(t, err)
	assert.True(t, got.Pong)
	assert.Equal(t, uint64(9), got.ID)
}

func TestDecodeResponseRejectsPassedWithError(t *testing.T) {
	msg := map[string]interface{}{
		"id":     uint64(1),
		"passed": true,
		"error":  map[string]interface{}{"message": "x", "traceback": "y"},
	}
	_, err := DecodeResponse(msg)
	assert.Error(t, err)
}

func TestDecodeResponseRejectsFailedWithoutError(t *testing.T) {
	msg := map[string]interface{}{
		"id":     uint64(1),
		"passed": false,
	}
	_, err := DecodeResponse(msg)
	assert.Error(t, err)
}

func TestEncodeShutdownRequestHasNoBody(t *testing.T) {
	req := types.Request{Kind: types.RequestShutdown}
	msg := EncodeRequest(req)
	_, hasFile := msg["file"]
	assert.False(t, hasFile)
	assert.Equal(t, "shutdown", msg["cmd"])
}
