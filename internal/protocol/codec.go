package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrNotEnvelope is returned for lines that are not JSON objects.
var ErrNotEnvelope = errors.New("not a JSON-RPC envelope")

// EncodeRequest serializes a Request as a single JSON line and writes it to w.
// Returns an error if marshaling or writing fails.
func EncodeRequest(w io.Writer, req *Request) error {
	if req.JSONRPC != JSONRPCVersion {
		return fmt.Errorf("unsupported jsonrpc version: %q", req.JSONRPC)
	}
	if req.Method == "" {
		return fmt.Errorf("request missing required field: method")
	}
	return encodeLine(w, req)
}

// EncodeNotification serializes a Notification as a single JSON line.
func EncodeNotification(w io.Writer, n *Notification) error {
	if n.Method == "" {
		return fmt.Errorf("notification missing required field: method")
	}
	return encodeLine(w, n)
}

// encodeLine marshals v and writes it with a trailing newline in one Write,
// so a peer never observes a partial message.
func encodeLine(w io.Writer, v any) error {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// DecodeEnvelope parses one line of candidate output.
// Lines that are not JSON objects yield ErrNotEnvelope; the caller treats them
// as noise. A parseable object is returned even when it is not a response
// (missing marker, missing id) so the caller can decide to drop it.
func DecodeEnvelope(line []byte) (*Response, error) {
	decoder := json.NewDecoder(bytes.NewReader(line))
	decoder.UseNumber()

	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotEnvelope, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: null", ErrNotEnvelope)
	}
	// Trailing garbage after the object means the line is not a clean envelope.
	if decoder.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrNotEnvelope)
	}

	resp := &Response{}
	resp.JSONRPC, _ = raw["jsonrpc"].(string)
	if id, ok := raw["id"].(json.Number); ok {
		if n, ok := integerID(id); ok {
			resp.ID = n
			resp.hasID = true
		}
	}
	resp.Result, resp.hasResult = raw["result"]
	resp.Error, resp.hasError = raw["error"]
	return resp, nil
}

func integerID(n json.Number) (int64, bool) {
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

// Compact renders v as compact JSON for diagnostics; it never fails.
func Compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}
