package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/internal/rpc"
)

// Pending is the single in-flight request of a Session. It resolves exactly once.
type Pending struct {
	ID     int64
	Method string

	once  sync.Once
	done  chan struct{}
	resp  *rpc.Response
	err   error
	timer *time.Timer
}

func newPending(id int64, method string) *Pending {
	return &Pending{ID: id, Method: method, done: make(chan struct{})}
}

func (p *Pending) resolve(resp *rpc.Response) {
	p.settle(resp, nil)
}

func (p *Pending) reject(err error) {
	p.settle(nil, err)
}

func (p *Pending) settle(resp *rpc.Response, err error) {
	p.once.Do(func() {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.resp, p.err = resp, err
		close(p.done)
	})
}

// Done is closed once the request resolves.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome after Done is closed.
func (p *Pending) Result() (*rpc.Response, error) {
	<-p.done
	return p.resp, p.err
}

// Begin registers a new pending request and writes it to the peer. It fails
// fast with ErrNotReady unless the session is Ready and with ErrBusy while
// another request is pending.
func (s *Session) Begin(method string, params any) (*Pending, error) {
	s.mu.Lock()
	if s.status != Ready {
		st := s.status
		s.mu.Unlock()
		return nil, device.Errorf(device.KindNotReady, nil, "session is %s", st)
	}
	if s.pending != nil {
		id := s.pending.ID
		s.mu.Unlock()
		return nil, device.Errorf(device.KindBusy, nil, "request %d is in flight", id)
	}

	s.nextID++
	p := newPending(s.nextID, method)
	s.pending = p
	s.reassembler.Reset()
	if s.opts.RequestTimeout > 0 {
		timeout := s.opts.RequestTimeout
		p.timer = time.AfterFunc(timeout, func() {
			s.expire(p, timeout)
		})
	}
	char := s.reqChar
	s.mu.Unlock()

	if err := s.write(char, p.ID, method, params); err != nil {
		s.abandon(p)
		p.reject(err)
		return nil, err
	}
	return p, nil
}

// Wait blocks until p resolves or ctx is done. A cancelled wait abandons the
// request so the session accepts the next one.
func (s *Session) Wait(ctx context.Context, p *Pending) (*rpc.Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		s.abandon(p)
		p.reject(ctx.Err())
		return p.Result()
	}
}

// Call sends a request and waits for its response.
func (s *Session) Call(ctx context.Context, method string, params any) (*rpc.Response, error) {
	p, err := s.Begin(method, params)
	if err != nil {
		return nil, err
	}
	return s.Wait(ctx, p)
}

// HasPending reports whether a request is in flight.
func (s *Session) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

func (s *Session) abandon(p *Pending) {
	s.mu.Lock()
	if s.pending == p {
		s.pending = nil
		s.reassembler.Reset()
	}
	s.mu.Unlock()
}

func (s *Session) expire(p *Pending, timeout time.Duration) {
	s.mu.Lock()
	if s.pending != p {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	s.reassembler.Reset()
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"id":      p.ID,
		"method":  p.Method,
		"timeout": timeout,
	}).Warn("Request timed out")
	p.reject(device.Errorf(device.KindTimeout, nil, "request %d (%s) after %s", p.ID, p.Method, timeout))
}
