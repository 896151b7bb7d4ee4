// Package session owns the single GATT connection to a JSON-RPC peer: the
// Disconnected/Connecting/Connected/Ready state machine, characteristic
// resolution, notification subscription, the fragmenting write path and the
// reassembling notification path.
//
// Every callback from the platform stack and every public call meet at one
// mutex guarding the status, the reassembly buffer and the pending request.
// Stale callbacks from an earlier connection attempt are recognised by the
// attempt counter and ignored.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/internal/events"
	"github.com/srg/blerpc/internal/groutine"
	"github.com/srg/blerpc/internal/rpc"
)

// Options configures a Session.
type Options struct {
	Descriptor      device.ServiceDescriptor
	FragmentSize    int           // bytes per request write
	MaxResponseSize int           // 0 disables the reassembly cap
	ConnectTimeout  time.Duration // 0 waits until Disconnect
	RequestTimeout  time.Duration // 0 waits until a response or Disconnect
}

// DefaultOptions returns the options matching the peer firmware.
func DefaultOptions() Options {
	return Options{
		Descriptor:   device.RPCService,
		FragmentSize: rpc.DefaultFragmentSize,
	}
}

// Session is a single connection to a JSON-RPC peer.
type Session struct {
	central device.Central
	opts    Options
	logger  *logrus.Logger

	mu            sync.Mutex
	status        Status
	address       string
	attempt       uint64
	settled       chan struct{}
	cancelConnect context.CancelFunc
	link          device.Link
	reqChar       device.Characteristic
	respChar      device.Characteristic
	reassembler   *rpc.Reassembler
	lastErr       error
	nextID        int64
	pending       *Pending

	writeMu sync.Mutex

	feed  *events.Feed[StatusEvent]
	group groutine.Group
}

// New creates a disconnected Session using central for the physical link.
func New(central device.Central, opts Options, logger *logrus.Logger) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.Descriptor == (device.ServiceDescriptor{}) {
		opts.Descriptor = device.RPCService
	}
	if opts.FragmentSize <= 0 {
		opts.FragmentSize = rpc.DefaultFragmentSize
	}

	settled := make(chan struct{})
	close(settled)

	return &Session{
		central:     central,
		opts:        opts,
		logger:      logger,
		settled:     settled,
		reassembler: rpc.NewReassembler(opts.MaxResponseSize),
		feed:        events.NewFeed[StatusEvent]("session-status"),
	}
}

// Status returns the current status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Address returns the address of the current or last connection attempt.
func (s *Session) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address
}

// LastError returns the error that ended the last connection attempt, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Subscribe returns every status transition from now on, in order. The
// channel is closed by cancel or Close.
func (s *Session) Subscribe() (<-chan StatusEvent, func()) {
	return s.feed.Subscribe()
}

// Connect starts a connection attempt to address and returns once the session
// is Connecting. The outcome arrives as status events and through WaitReady.
// ctx scopes only this call; the attempt itself runs until Ready, failure,
// ConnectTimeout or Disconnect.
func (s *Session) Connect(ctx context.Context, address string) error {
	if address == "" {
		return device.Errorf(device.KindConnectFailed, nil, "empty device address")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.status != Disconnected {
		st := s.status
		s.mu.Unlock()
		return device.Errorf(device.KindBusy, nil, "session is %s", st)
	}

	s.attempt++
	gen := s.attempt
	s.address = address
	s.lastErr = nil
	s.settled = make(chan struct{})

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelConnect = cancel
	s.setStatusLocked(Connecting, nil)
	s.mu.Unlock()

	s.logger.WithField("address", address).Info("Connecting")

	s.group.Go(connCtx, "session-connect", func(ctx context.Context) {
		s.runConnect(ctx, gen, address)
	})
	return nil
}

func (s *Session) runConnect(ctx context.Context, gen uint64, address string) {
	if s.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.ConnectTimeout)
		defer cancel()
	}

	link, err := s.central.Dial(ctx, address)
	if err != nil {
		s.failAttempt(gen, device.Errorf(device.KindConnectFailed, device.NormalizeError(err), "dial %s", address))
		return
	}

	s.mu.Lock()
	if s.attempt != gen || s.status != Connecting {
		s.mu.Unlock()
		_ = link.Close()
		return
	}
	s.link = link
	s.setStatusLocked(Connected, nil)
	s.mu.Unlock()

	s.logger.WithField("address", address).Info("Link established, discovering services")

	s.group.Go(context.Background(), "session-link-watch", func(context.Context) {
		<-link.Disconnected()
		s.onLinkLost(gen)
	})

	reqChar, respChar, err := s.resolve(ctx, link)
	if err != nil {
		s.failAttempt(gen, err)
		return
	}

	err = respChar.Subscribe(func(data []byte) {
		s.onNotification(gen, data)
	})
	if err != nil {
		var nf *device.NotFoundError
		if errors.As(err, &nf) {
			s.failAttempt(gen, device.Errorf(device.KindServiceNotFound, err, "peer %s", address))
		} else {
			s.failAttempt(gen, device.Errorf(device.KindConnectFailed, device.NormalizeError(err), "subscribe to responses"))
		}
		return
	}

	s.mu.Lock()
	if s.attempt != gen || s.status != Connected {
		s.mu.Unlock()
		_ = respChar.Unsubscribe()
		return
	}
	s.reqChar = reqChar
	s.respChar = respChar
	s.reassembler.Reset()
	if s.cancelConnect != nil {
		s.cancelConnect()
		s.cancelConnect = nil
	}
	s.setStatusLocked(Ready, nil)
	close(s.settled)
	s.mu.Unlock()

	s.logger.WithField("address", address).Info("Session ready")
}

// resolve locates the request and response characteristics of the RPC service.
func (s *Session) resolve(ctx context.Context, link device.Link) (device.Characteristic, device.Characteristic, error) {
	desc := s.opts.Descriptor

	services, err := link.DiscoverServices(ctx)
	if err != nil {
		return nil, nil, device.Errorf(device.KindConnectFailed, device.NormalizeError(err), "discover services")
	}

	svc, err := device.FindService(services, desc.Service)
	if err != nil {
		return nil, nil, device.Errorf(device.KindServiceNotFound, err, "peer %s", link.Address())
	}
	reqChar, err := device.FindCharacteristic(svc, desc.RequestChar)
	if err != nil {
		return nil, nil, device.Errorf(device.KindServiceNotFound, err, "peer %s", link.Address())
	}
	respChar, err := device.FindCharacteristic(svc, desc.ResponseChar)
	if err != nil {
		return nil, nil, device.Errorf(device.KindServiceNotFound, err, "peer %s", link.Address())
	}
	return reqChar, respChar, nil
}

// WaitReady blocks until the current attempt reaches Ready or fails.
func (s *Session) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	settled := s.settled
	s.mu.Unlock()

	select {
	case <-settled:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.status == Ready:
		return nil
	case s.lastErr != nil:
		return s.lastErr
	case s.address == "":
		return device.Errorf(device.KindNotReady, nil, "no connection attempt")
	default:
		return device.Errorf(device.KindConnectionLost, nil, "disconnected before ready")
	}
}

// Disconnect tears the connection down from any state, fails a pending
// request with ErrConnectionLost and publishes Disconnected. It is safe to call
// at any time.
func (s *Session) Disconnect() {
	s.mu.Lock()
	prev := s.status
	cleanup := s.teardownLocked(nil, device.Errorf(device.KindConnectionLost, nil, "disconnected"))
	s.mu.Unlock()

	cleanup()
	s.logger.WithField("previous", prev).Info("Disconnected")
}

// Close disconnects and closes every status subscription once the final
// Disconnected event has been delivered, then waits for the session
// goroutines to return.
func (s *Session) Close() {
	s.Disconnect()
	s.feed.Close()
	s.group.Wait()
}

func (s *Session) failAttempt(gen uint64, err error) {
	s.mu.Lock()
	if s.attempt != gen || s.status == Disconnected {
		s.mu.Unlock()
		return
	}
	s.lastErr = err
	cleanup := s.teardownLocked(err, device.Errorf(device.KindConnectionLost, err, "connection attempt failed"))
	s.mu.Unlock()

	cleanup()
	s.logger.WithError(err).Warn("Connection attempt failed")
}

func (s *Session) onLinkLost(gen uint64) {
	s.mu.Lock()
	if s.attempt != gen || s.status == Disconnected {
		s.mu.Unlock()
		return
	}
	err := device.Errorf(device.KindConnectionLost, nil, "link to %s lost", s.address)
	s.lastErr = err
	cleanup := s.teardownLocked(err, err)
	s.mu.Unlock()

	cleanup()
	s.logger.WithField("address", s.Address()).Warn("Link lost")
}

// teardownLocked moves to Disconnected and returns the I/O that must run
// after s.mu is released.
func (s *Session) teardownLocked(reason, pendingErr error) func() {
	link, respChar, cancel, p := s.link, s.respChar, s.cancelConnect, s.pending
	s.link, s.reqChar, s.respChar, s.cancelConnect, s.pending = nil, nil, nil, nil, nil
	s.reassembler.Reset()
	s.attempt++

	select {
	case <-s.settled:
	default:
		close(s.settled)
	}
	s.setStatusLocked(Disconnected, reason)

	return func() {
		if cancel != nil {
			cancel()
		}
		if p != nil {
			p.reject(pendingErr)
		}
		if respChar != nil {
			if err := respChar.Unsubscribe(); err != nil {
				s.logger.WithError(err).Debug("Unsubscribe failed during teardown")
			}
		}
		if link != nil {
			if err := link.Close(); err != nil {
				s.logger.WithError(err).Debug("Link close failed during teardown")
			}
		}
	}
}

func (s *Session) setStatusLocked(st Status, err error) {
	s.status = st
	s.feed.Publish(StatusEvent{Status: st, Address: s.address, Err: err})
	s.logger.WithFields(logrus.Fields{
		"status":  st,
		"address": s.address,
	}).Debug("Status changed")
}

// Send encodes a request and writes it fragment by fragment to the request
// characteristic. It returns once every write has been issued.
func (s *Session) Send(id int64, method string, params any) error {
	s.mu.Lock()
	if s.status != Ready {
		st := s.status
		s.mu.Unlock()
		return device.Errorf(device.KindNotReady, nil, "session is %s", st)
	}
	char := s.reqChar
	s.mu.Unlock()

	return s.write(char, id, method, params)
}

func (s *Session) write(char device.Characteristic, id int64, method string, params any) error {
	payload, err := rpc.EncodeRequest(id, method, params)
	if err != nil {
		return err
	}
	fragments := rpc.Fragment(payload, s.opts.FragmentSize)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"id":        id,
		"method":    method,
		"bytes":     len(payload),
		"fragments": len(fragments),
	}).Debug("Sending request")

	for i, frag := range fragments {
		if err := char.Write(frag); err != nil {
			return device.Errorf(device.KindConnectionLost, device.NormalizeError(err), "write fragment %d/%d", i+1, len(fragments))
		}
	}
	return nil
}

func (s *Session) onNotification(gen uint64, data []byte) {
	s.mu.Lock()
	if s.attempt != gen {
		s.mu.Unlock()
		s.logger.WithField("bytes", len(data)).Debug("Dropping notification from stale link")
		return
	}

	resp, complete, err := s.reassembler.Append(data)
	if err != nil {
		p := s.pending
		s.pending = nil
		s.mu.Unlock()
		s.logger.WithError(err).Warn("Discarding oversized response")
		if p != nil {
			p.reject(device.Errorf(device.KindMalformedResponse, err, "request %d", p.ID))
		}
		return
	}
	if !complete {
		s.mu.Unlock()
		s.logger.WithField("bytes", len(data)).Debug("Buffered partial response")
		return
	}

	p := s.pending
	if p == nil {
		s.mu.Unlock()
		s.logger.WithField("id", string(resp.ID)).Warn("Dropping response with no pending request")
		return
	}
	if id, ok := resp.NumericID(); ok && id != p.ID {
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{
			"id":      id,
			"pending": p.ID,
		}).Warn("Dropping response for another request")
		return
	}
	s.pending = nil
	s.mu.Unlock()

	p.resolve(resp)
}
