// Package client is the host-facing facade over the scanner and the GATT
// session: permission handling, discovery, connection, JSON-RPC calls and
// auto-connect to a remembered or nearby peer.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/internal/rpc"
	"github.com/srg/blerpc/internal/session"
	"github.com/srg/blerpc/scanner"
)

// Options configures a Client.
type Options struct {
	Session session.Options
	Scanner scanner.Options

	// ScanWindow bounds the discovery phase of AutoConnect.
	ScanWindow time.Duration
	// NamePrefix selects auto-connect candidates by advertised name.
	NamePrefix string
	// VerifyMethod is called after Ready during AutoConnect. Empty disables it.
	VerifyMethod string
	// StorePath is the remembered-device file. Empty disables remembering.
	StorePath string
}

func DefaultOptions() Options {
	return Options{
		Session:      session.DefaultOptions(),
		Scanner:      scanner.DefaultOptions(),
		ScanWindow:   3 * time.Second,
		NamePrefix:   "comma-",
		VerifyMethod: "getDeviceInfo",
	}
}

// Client owns one scanner and one session over a shared central.
type Client struct {
	central device.Central
	gate    device.PermissionGate
	opts    Options
	logger  *logrus.Logger

	scanner *scanner.Scanner
	session *session.Session
	store   *Store

	status       <-chan session.StatusEvent
	cancelStatus func()
}

// New creates a client. A nil gate grants every request.
func New(central device.Central, gate device.PermissionGate, opts Options, logger *logrus.Logger) (*Client, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if gate == nil {
		gate = device.AllowAll{}
	}
	if opts.ScanWindow <= 0 {
		opts.ScanWindow = DefaultOptions().ScanWindow
	}

	sc, err := scanner.NewScanner(central, gate, opts.Scanner, logger)
	if err != nil {
		return nil, err
	}

	c := &Client{
		central: central,
		gate:    gate,
		opts:    opts,
		logger:  logger,
		scanner: sc,
		session: session.New(central, opts.Session, logger),
	}
	if opts.StorePath != "" {
		c.store = NewStore(opts.StorePath)
	}
	c.status, c.cancelStatus = c.session.Subscribe()
	return c, nil
}

// ensurePermission asks the gate when access has not been granted yet.
func (c *Client) ensurePermission(ctx context.Context) error {
	if c.gate.HasPermissions() {
		return nil
	}
	c.logger.Info("Requesting Bluetooth permission")
	granted, err := c.gate.RequestPermissions(ctx)
	if err != nil {
		return err
	}
	if !granted {
		return device.Errorf(device.KindPermissionDenied, nil, "bluetooth permission denied")
	}
	return nil
}

// StartScan begins discovery; results arrive on DeviceFound.
func (c *Client) StartScan(ctx context.Context) error {
	if err := c.ensurePermission(ctx); err != nil {
		return err
	}
	return c.scanner.Start(ctx)
}

func (c *Client) StopScan() {
	c.scanner.Stop()
}

// DeviceFound delivers one event per matching advertisement. The channel is
// bounded by Options.Scanner.BufferSize: when the consumer falls behind, the
// oldest unread events are discarded and counted by DroppedDevices.
func (c *Client) DeviceFound() <-chan scanner.DiscoveredDevice {
	return c.scanner.Events()
}

// DroppedDevices returns how many DeviceFound events were discarded unread.
func (c *Client) DroppedDevices() int64 {
	return c.scanner.Dropped()
}

// Devices returns the last-seen snapshot, strongest signal first.
func (c *Client) Devices() []scanner.DiscoveredDevice {
	return c.scanner.Devices()
}

// Connect starts connecting to address. Use WaitReady for the outcome.
func (c *Client) Connect(ctx context.Context, address string) error {
	if err := c.ensurePermission(ctx); err != nil {
		return err
	}
	return c.session.Connect(ctx, address)
}

func (c *Client) WaitReady(ctx context.Context) error {
	return c.session.WaitReady(ctx)
}

func (c *Client) Disconnect() {
	c.session.Disconnect()
}

func (c *Client) Status() session.Status {
	return c.session.Status()
}

func (c *Client) Address() string {
	return c.session.Address()
}

// StatusChanged delivers every status transition in order. It is closed by Close.
func (c *Client) StatusChanged() <-chan session.StatusEvent {
	return c.status
}

// Call performs one JSON-RPC request and returns its result. A JSON-RPC error
// member is returned as *rpc.Error; code -32001 additionally matches
// device.ErrUnauthorized.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	resp, err := c.session.Call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		if resp.Error.Code == rpc.CodeUnauthorized {
			return nil, device.Errorf(device.KindUnauthorized, resp.Error, "%s", method)
		}
		return nil, resp.Error
	}
	return resp.Result, nil
}

// AutoConnect reconnects to the remembered device, or scans for ScanWindow
// and connects to the strongest peer whose name starts with NamePrefix. The
// peer must answer VerifyMethod before it is remembered. Any running scan is
// stopped.
func (c *Client) AutoConnect(ctx context.Context) (RememberedDevice, error) {
	if c.store != nil {
		remembered, ok, err := c.store.Load()
		if err != nil {
			c.logger.WithError(err).Warn("Ignoring unreadable device store")
		}
		if ok {
			log := c.logger.WithField("address", remembered.Address)
			log.Info("Connecting to remembered device")
			if err := c.connectAndVerify(ctx, remembered); err == nil {
				return remembered, nil
			} else if ctx.Err() != nil {
				return RememberedDevice{}, ctx.Err()
			} else {
				log.WithError(err).Warn("Remembered device unreachable, scanning")
			}
		}
	}

	candidate, err := c.discover(ctx)
	if err != nil {
		return RememberedDevice{}, err
	}
	if err := c.connectAndVerify(ctx, candidate); err != nil {
		return RememberedDevice{}, err
	}
	return candidate, nil
}

func (c *Client) discover(ctx context.Context) (RememberedDevice, error) {
	c.scanner.Stop()
	c.scanner.Reset()

	scanCtx, cancel := context.WithTimeout(ctx, c.opts.ScanWindow)
	defer cancel()

	if err := c.StartScan(scanCtx); err != nil {
		return RememberedDevice{}, err
	}
	<-scanCtx.Done()
	c.scanner.Stop()

	if err := ctx.Err(); err != nil {
		return RememberedDevice{}, err
	}
	if err := c.scanner.Err(); err != nil {
		return RememberedDevice{}, err
	}

	for _, d := range c.scanner.Devices() {
		if strings.HasPrefix(d.Name, c.opts.NamePrefix) {
			c.logger.WithFields(logrus.Fields{
				"address": d.Address,
				"name":    d.Name,
				"rssi":    d.RSSI,
			}).Info("Selected device")
			return RememberedDevice{Address: d.Address, Name: d.Name}, nil
		}
	}
	return RememberedDevice{}, device.Errorf(device.KindConnectFailed, nil,
		"no device named %s* found within %s", c.opts.NamePrefix, c.opts.ScanWindow)
}

func (c *Client) connectAndVerify(ctx context.Context, dev RememberedDevice) error {
	if c.session.Status() != session.Disconnected {
		c.session.Disconnect()
	}
	if err := c.Connect(ctx, dev.Address); err != nil {
		return err
	}
	if err := c.session.WaitReady(ctx); err != nil {
		c.session.Disconnect()
		return err
	}

	if c.opts.VerifyMethod != "" {
		if _, err := c.Call(ctx, c.opts.VerifyMethod, nil); err != nil {
			c.session.Disconnect()
			return err
		}
	}

	if c.store != nil {
		if err := c.store.Save(dev); err != nil {
			c.logger.WithError(err).Warn("Failed to remember device")
		}
	}
	return nil
}

// Forget clears the remembered device.
func (c *Client) Forget() error {
	if c.store == nil {
		return nil
	}
	return c.store.Forget()
}

// Close stops scanning, disconnects and releases the central and gate when
// they hold resources.
func (c *Client) Close() error {
	c.scanner.Close()
	c.cancelStatus()
	c.session.Close()

	var errs []error
	if closer, ok := c.central.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	if closer, ok := c.gate.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
