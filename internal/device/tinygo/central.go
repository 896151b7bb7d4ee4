// Package tinygo implements the device layer on top of tinygo.org/x/bluetooth,
// which drives CoreBluetooth on macOS, BlueZ over D-Bus on Linux and WinRT on
// Windows.
package tinygo

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
	"tinygo.org/x/bluetooth"
)

// Central is a device.Central backed by a tinygo bluetooth adapter.
type Central struct {
	adapter *bluetooth.Adapter
	logger  *logrus.Logger
	links   *registry

	enableOnce sync.Once
	enableErr  error
}

// NewCentral creates a Central on the default adapter.
func NewCentral(logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger,
		links:   newRegistry(),
	}
}

func (c *Central) Enable() error {
	c.enableOnce.Do(func() {
		if err := c.adapter.Enable(); err != nil {
			c.enableErr = device.Errorf(device.KindUnavailable, device.NormalizeError(err), "enable adapter")
			return
		}
		// Fired with connected=false when a peripheral goes away.
		c.adapter.SetConnectHandler(func(d bluetooth.Device, connected bool) {
			if connected {
				return
			}
			addr := d.Address.String()
			c.logger.WithField("address", addr).Debug("Adapter reported disconnection")
			c.links.disconnected(addr)
		})
	})
	return c.enableErr
}

// Scan delivers matching scan results until ctx is done. The payload API does
// not list service UUIDs, so Services reports only the matched filter.
func (c *Central) Scan(ctx context.Context, serviceFilter string, handler func(device.Advertisement)) error {
	if ctx.Err() != nil {
		return nil
	}
	if err := c.Enable(); err != nil {
		return err
	}

	var filter bluetooth.UUID
	hasFilter := serviceFilter != ""
	if hasFilter {
		var err error
		filter, err = bluetooth.ParseUUID(serviceFilter)
		if err != nil {
			return fmt.Errorf("parse service UUID %q: %w", serviceFilter, err)
		}
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := c.adapter.StopScan(); err != nil {
				c.logger.WithError(err).Debug("StopScan failed")
			}
		case <-done:
		}
	}()

	// StopScan from the watcher is lost when ctx ends before Scan starts;
	// the callback stops the scan on the next advertisement instead.
	err := c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if ctx.Err() != nil {
			if err := adapter.StopScan(); err != nil {
				c.logger.WithError(err).Debug("StopScan failed")
			}
			return
		}
		if hasFilter && !result.HasServiceUUID(filter) {
			return
		}
		adv := &advertisement{
			addr: result.Address.String(),
			name: result.LocalName(),
			rssi: int(result.RSSI),
		}
		if hasFilter {
			adv.services = []string{serviceFilter}
		}
		handler(adv)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return device.NormalizeError(fmt.Errorf("scan: %w", err))
	}
	return nil
}

func (c *Central) Dial(ctx context.Context, address string) (device.Link, error) {
	if err := c.Enable(); err != nil {
		return nil, err
	}

	var addr bluetooth.Address
	addr.Set(address)

	// Connect cannot be cancelled; a late success is disconnected right away.
	type connectResult struct {
		dev bluetooth.Device
		err error
	}
	ch := make(chan connectResult, 1)
	go func() {
		d, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{d, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.err == nil {
				_ = r.dev.Disconnect()
			}
		}()
		return nil, fmt.Errorf("connect to %s: %w", address, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, device.NormalizeError(fmt.Errorf("connect to %s: %w", address, r.err))
		}
		dev := r.dev
		l := newLink(address, &dev, c.links)
		c.links.add(l)
		return l, nil
	}
}

type advertisement struct {
	addr     string
	name     string
	rssi     int
	services []string
}

func (a *advertisement) Addr() string       { return a.addr }
func (a *advertisement) LocalName() string  { return a.name }
func (a *advertisement) RSSI() int          { return a.rssi }
func (a *advertisement) Services() []string { return a.services }
func (a *advertisement) Connectable() bool  { return true }
