package rpc

import (
	"errors"
	"fmt"
)

// ErrOversized is returned by Reassembler.Append when the accumulated bytes
// exceed MaxSize without forming a complete response.
var ErrOversized = errors.New("response exceeds maximum size")

// Reassembler accumulates notification payloads until they form a complete
// response. It never retains a message after the parse that produced it.
//
// A Reassembler is not safe for concurrent use; the session serializes access.
type Reassembler struct {
	// MaxSize bounds the buffer; 0 means unbounded.
	MaxSize int

	buf []byte
}

// NewReassembler creates an empty buffer with the given size bound.
func NewReassembler(maxSize int) *Reassembler {
	return &Reassembler{MaxSize: maxSize}
}

// Append adds chunk to the buffer and attempts a parse. On success the buffer
// is cleared and the response returned. When MaxSize is exceeded the buffer is
// cleared and ErrOversized returned.
func (r *Reassembler) Append(chunk []byte) (*Response, bool, error) {
	r.buf = append(r.buf, chunk...)

	if resp, ok := TryParse(r.buf); ok {
		r.Reset()
		return resp, true, nil
	}

	if r.MaxSize > 0 && len(r.buf) > r.MaxSize {
		n := len(r.buf)
		r.Reset()
		return nil, false, fmt.Errorf("%w: %d > %d bytes", ErrOversized, n, r.MaxSize)
	}
	return nil, false, nil
}

// Reset discards any partial message.
func (r *Reassembler) Reset() {
	r.buf = r.buf[:0]
}

// Len returns the number of buffered bytes.
func (r *Reassembler) Len() int {
	return len(r.buf)
}
