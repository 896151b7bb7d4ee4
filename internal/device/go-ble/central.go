// Package goble implements the device layer on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests).
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// Central is a device.Central backed by a go-ble HCI or CoreBluetooth device.
type Central struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

// NewCentral creates a Central. The platform device is opened by Enable.
func NewCentral(logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{logger: logger}
}

func (c *Central) device() (ble.Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.dev != nil {
		return c.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		c.logger.WithError(err).Error("Failed to create BLE device")
		return nil, device.Errorf(device.KindUnavailable, NormalizeError(err), "create BLE device")
	}
	c.dev = dev
	return dev, nil
}

func (c *Central) Enable() error {
	_, err := c.device()
	return err
}

func (c *Central) Scan(ctx context.Context, serviceFilter string, handler func(device.Advertisement)) error {
	dev, err := c.device()
	if err != nil {
		return err
	}

	bleHandler := func(adv ble.Advertisement) {
		a := NewBLEAdvertisement(adv)
		if serviceFilter != "" && !device.ContainsUUID(a.Services(), serviceFilter) {
			return
		}
		handler(a)
	}

	err = dev.Scan(ctx, true, bleHandler)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return nil
}

func (c *Central) Dial(ctx context.Context, address string) (device.Link, error) {
	dev, err := c.device()
	if err != nil {
		return nil, err
	}

	c.logger.WithField("address", address).Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return newLink(client, address, c.logger), nil
}

// Close stops the platform device.
func (c *Central) Close() error {
	c.mu.Lock()
	dev := c.dev
	c.dev = nil
	c.mu.Unlock()

	if dev == nil {
		return nil
	}
	return dev.Stop()
}
