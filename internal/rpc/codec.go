// Package rpc implements the JSON-RPC 2.0 framing used over the BLE transport.
//
// Requests are encoded as a single JSON object and split into fixed-size
// fragments for consecutive characteristic writes. Responses arrive as a stream
// of notifications with no explicit boundaries; a response is complete when the
// accumulated bytes parse as a JSON object.
package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	// Version is the JSON-RPC protocol version carried in every request.
	Version = "2.0"

	// DefaultFragmentSize is the largest payload written in one characteristic write.
	DefaultFragmentSize = 512

	// CodeUnauthorized is the application error code the peer returns for
	// requests that require a pairing token.
	CodeUnauthorized = -32001
)

// Request is the JSON-RPC request envelope. Field order matches the wire order.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int64  `json:"id"`
}

// Response is a parsed JSON-RPC response object.
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC error member of a response.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (%s)", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NumericID returns the response id as an integer. ok is false when the id is
// absent, null or not an integer.
func (r *Response) NumericID() (id int64, ok bool) {
	raw := bytes.TrimSpace(r.ID)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	id, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// EncodeRequest builds the UTF-8 JSON encoding of a JSON-RPC request.
// A nil params value is encoded as JSON null rather than omitted.
func EncodeRequest(id int64, method string, params any) ([]byte, error) {
	if method == "" {
		return nil, fmt.Errorf("rpc: method is empty")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(Request{JSONRPC: Version, Method: method, Params: params, ID: id}); err != nil {
		return nil, fmt.Errorf("rpc: encode request %q: %w", method, err)
	}
	// Encoder appends a newline; the peer parses the raw object.
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Fragment splits data into consecutive chunks of at most size bytes.
// The chunks alias data. Empty input, or a non-positive size, yields nil.
func Fragment(data []byte, size int) [][]byte {
	if len(data) == 0 || size <= 0 {
		return nil
	}

	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > 0 {
		n := min(size, len(data))
		chunks = append(chunks, data[:n:n])
		data = data[n:]
	}
	return chunks
}

// TryParse reports whether buf holds one complete JSON-RPC response object.
// Any decode failure, including a valid prefix of an object, means the
// message is not complete yet and is not an error.
func TryParse(buf []byte) (*Response, bool) {
	trimmed := bytes.TrimSpace(buf)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}

	var resp Response
	if err := json.Unmarshal(trimmed, &resp); err != nil {
		return nil, false
	}
	return &resp, true
}
