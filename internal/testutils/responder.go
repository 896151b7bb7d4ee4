package testutils

import (
	"encoding/json"
	"sync"

	"github.com/srg/blerpc/internal/rpc"
)

// ReceivedRequest is a request reassembled by a Responder.
type ReceivedRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      int64           `json:"id"`
}

// HandlerFunc answers one request. Returning ok=false leaves it unanswered.
type HandlerFunc func(req ReceivedRequest) (result any, rpcErr *rpc.Error, ok bool)

// Responder plays the peer firmware: it reassembles request fragments written
// to the request characteristic and streams the JSON-RPC response back as
// notifications of at most ChunkSize bytes.
type Responder struct {
	ChunkSize int
	Handler   HandlerFunc

	mu       sync.Mutex
	buf      []byte
	requests []ReceivedRequest
	wg       sync.WaitGroup
}

// NewResponder creates a responder that streams 20-byte notifications.
func NewResponder(handler HandlerFunc) *Responder {
	return &Responder{ChunkSize: 20, Handler: handler}
}

// Echo answers every request with its method name as the result.
func Echo(req ReceivedRequest) (any, *rpc.Error, bool) {
	return req.Method, nil, true
}

// Attach wires the responder to the RPC characteristics of p.
func (r *Responder) Attach(p *FakePeripheral) *Responder {
	resp := p.ResponseChar()
	p.RequestChar().OnWrite = func(data []byte) {
		r.onWrite(resp, data)
	}
	return r
}

func (r *Responder) onWrite(resp *FakeCharacteristic, data []byte) {
	r.mu.Lock()
	r.buf = append(r.buf, data...)
	var req ReceivedRequest
	if err := json.Unmarshal(r.buf, &req); err != nil {
		r.mu.Unlock()
		return
	}
	r.buf = nil
	r.requests = append(r.requests, req)
	handler := r.Handler
	r.mu.Unlock()

	if handler == nil {
		return
	}
	result, rpcErr, ok := handler(req)
	if !ok {
		return
	}

	reply := map[string]any{"jsonrpc": rpc.Version, "id": req.ID}
	if rpcErr != nil {
		reply["error"] = rpcErr
	} else {
		reply["result"] = result
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		panic(err)
	}

	chunks := rpc.Fragment(payload, r.ChunkSize)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for _, c := range chunks {
			resp.Notify(c)
		}
	}()
}

// Requests returns every request received so far.
func (r *Responder) Requests() []ReceivedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReceivedRequest(nil), r.requests...)
}

// Wait blocks until every queued response has been delivered.
func (r *Responder) Wait() {
	r.wg.Wait()
}
