// Package scanner discovers peripherals advertising the JSON-RPC service.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/internal/events"
	"github.com/srg/blerpc/internal/groutine"
)

const stopTimeout = 3 * time.Second

// State is the scanner state.
type State int

const (
	Idle State = iota
	Scanning
)

func (s State) String() string {
	if s == Scanning {
		return "scanning"
	}
	return "idle"
}

// DiscoveredDevice is created for every advertisement observed while scanning.
type DiscoveredDevice struct {
	Address     string    `json:"address"`
	Name        string    `json:"name,omitempty"`
	RSSI        int       `json:"rssi"`
	Services    []string  `json:"services,omitempty"`
	Connectable bool      `json:"connectable"`
	SeenAt      time.Time `json:"seen_at"`
}

// Options configures scanning behavior.
type Options struct {
	// ServiceFilter is the service UUID an advertisement must carry.
	ServiceFilter string
	// BufferSize bounds the event channel; the oldest events are dropped when full.
	BufferSize int
	AllowList  []string
	BlockList  []string
}

// DefaultOptions scans for the JSON-RPC service.
func DefaultOptions() Options {
	return Options{
		ServiceFilter: device.ServiceUUID,
		BufferSize:    100,
	}
}

// Scanner handles BLE device discovery.
type Scanner struct {
	central device.Central
	gate    device.PermissionGate
	opts    Options
	logger  *logrus.Logger

	events  *events.Ring[DiscoveredDevice]
	devices atomic.Pointer[hashmap.Map[string, DiscoveredDevice]]

	mu      sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	lastErr error
}

// NewScanner creates an idle scanner. A nil gate grants every request.
func NewScanner(central device.Central, gate device.PermissionGate, opts Options, logger *logrus.Logger) (*Scanner, error) {
	if central == nil {
		return nil, device.Errorf(device.KindUnavailable, nil, "no bluetooth central")
	}
	if gate == nil {
		gate = device.AllowAll{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}

	s := &Scanner{
		central: central,
		gate:    gate,
		opts:    opts,
		logger:  logger,
		events:  events.NewRing[DiscoveredDevice](opts.BufferSize),
	}
	s.devices.Store(hashmap.New[string, DiscoveredDevice]())
	return s, nil
}

// Start begins scanning until Stop or ctx is done. Starting while already
// scanning is a no-op.
func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Scanning {
		s.logger.Debug("Scan already running")
		return nil
	}
	if !s.gate.HasPermissions() {
		return device.Errorf(device.KindPermissionDenied, nil, "bluetooth scan not permitted")
	}
	if err := s.central.Enable(); err != nil {
		return device.Errorf(device.KindUnavailable, device.NormalizeError(err), "enable adapter")
	}

	scanCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.state = Scanning
	s.cancel = cancel
	s.done = done
	s.lastErr = nil

	s.logger.WithField("service", s.opts.ServiceFilter).Info("Starting BLE scan...")

	groutine.Go(scanCtx, "scanner", func(ctx context.Context) {
		err := s.central.Scan(ctx, s.opts.ServiceFilter, s.handleAdvertisement)
		s.finish(done, err)
	})
	return nil
}

func (s *Scanner) finish(done chan struct{}, err error) {
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		err = nil
	}

	s.mu.Lock()
	if s.done == done {
		s.state = Idle
		s.cancel = nil
		s.lastErr = err
	}
	s.mu.Unlock()
	close(done)

	if err != nil {
		s.logger.WithError(err).Warn("BLE scan stopped with error")
		return
	}
	s.logger.WithField("device_count", s.devices.Load().Len()).Info("BLE scan completed")
}

// Stop ends the running scan and waits briefly for the backend to return.
// Stopping an idle scanner is not an error.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	scanning := s.state == Scanning
	s.mu.Unlock()

	if !scanning {
		s.logger.Debug("Stop requested while idle")
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		s.logger.WithField("timeout", stopTimeout).Debug("Scan did not stop in time, ignoring")
	}
}

// State returns the current state.
func (s *Scanner) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that ended the last scan, if any.
func (s *Scanner) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Events returns one event per advertisement. Events are never merged.
func (s *Scanner) Events() <-chan DiscoveredDevice {
	return s.events.C()
}

// Dropped returns how many events were discarded because nobody read them.
func (s *Scanner) Dropped() int64 {
	return s.events.Stats().Overwritten
}

// Devices returns the latest report of every device seen, strongest signal first.
func (s *Scanner) Devices() []DiscoveredDevice {
	m := s.devices.Load()
	devs := make([]DiscoveredDevice, 0, m.Len())
	m.Range(func(_ string, d DiscoveredDevice) bool {
		devs = append(devs, d)
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].RSSI != devs[j].RSSI {
			return devs[i].RSSI > devs[j].RSSI
		}
		return devs[i].Address < devs[j].Address
	})
	return devs
}

// Device returns the latest report for address.
func (s *Scanner) Device(address string) (DiscoveredDevice, bool) {
	return s.devices.Load().Get(address)
}

// Reset forgets every device seen so far.
func (s *Scanner) Reset() {
	s.devices.Store(hashmap.New[string, DiscoveredDevice]())
}

// Close stops scanning and closes the event channel.
func (s *Scanner) Close() {
	s.Stop()
	s.events.Close()
}

func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	if !s.shouldInclude(adv) {
		return
	}

	dev := DiscoveredDevice{
		Address:     adv.Addr(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Services:    adv.Services(),
		Connectable: adv.Connectable(),
		SeenAt:      time.Now(),
	}

	if _, existing := s.devices.Load().Get(dev.Address); !existing {
		s.logger.WithFields(logrus.Fields{
			"device":  dev.Name,
			"address": dev.Address,
			"rssi":    dev.RSSI,
		}).Info("Discovered new device")
	}
	s.devices.Load().Set(dev.Address, dev)

	if s.events.Send(dev) {
		s.logger.WithField("address", dev.Address).Debug("Event buffer full, dropped oldest")
	}
}

// shouldInclude applies the allow/block lists and the service filter.
func (s *Scanner) shouldInclude(adv device.Advertisement) bool {
	addr := adv.Addr()

	for _, blocked := range s.opts.BlockList {
		if addr == blocked {
			return false
		}
	}

	if len(s.opts.AllowList) > 0 {
		allowed := false
		for _, a := range s.opts.AllowList {
			if addr == a {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	// backends may deliver unfiltered reports
	if s.opts.ServiceFilter != "" && !device.ContainsUUID(adv.Services(), s.opts.ServiceFilter) {
		return false
	}
	return true
}

func (d DiscoveredDevice) String() string {
	name := d.Name
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("%s %s (%d dBm)", d.Address, name, d.RSSI)
}
