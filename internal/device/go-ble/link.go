package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
)

// Link is a device.Link over a ble.Client.
type Link struct {
	client  ble.Client
	address string
	logger  *logrus.Logger

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newLink(client ble.Client, address string, logger *logrus.Logger) *Link {
	l := &Link{
		client:  client,
		address: address,
		logger:  logger,
		done:    make(chan struct{}),
	}

	go func() {
		select {
		case <-client.Disconnected():
			l.logger.WithField("address", address).Debug("BLE client reported disconnection")
			l.markDone()
		case <-l.done:
		}
	}()
	return l
}

func (l *Link) Address() string {
	return l.address
}

func (l *Link) DiscoverServices(ctx context.Context) ([]device.Service, error) {
	type result struct {
		profile *ble.Profile
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := l.client.DiscoverProfile(true)
		ch <- result{p, err}
	}()

	var r result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.err != nil {
		return nil, NormalizeError(r.err)
	}

	services := make([]device.Service, 0, len(r.profile.Services))
	for _, svc := range r.profile.Services {
		services = append(services, &service{svc: svc, link: l})
	}

	l.logger.WithFields(logrus.Fields{
		"address":  l.address,
		"services": len(services),
	}).Debug("Profile discovered successfully")
	return services, nil
}

func (l *Link) Disconnected() <-chan struct{} {
	return l.done
}

func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = l.client.CancelConnection()
		l.markDone()
	})
	return l.closeErr
}

func (l *Link) markDone() {
	l.doneOnce.Do(func() { close(l.done) })
}

type service struct {
	svc  *ble.Service
	link *Link
}

func (s *service) UUID() string {
	return s.svc.UUID.String()
}

func (s *service) Characteristics() []device.Characteristic {
	chars := make([]device.Characteristic, 0, len(s.svc.Characteristics))
	for _, c := range s.svc.Characteristics {
		chars = append(chars, &characteristic{char: c, link: s.link})
	}
	return chars
}

type characteristic struct {
	char *ble.Characteristic
	link *Link
}

func (c *characteristic) UUID() string {
	return c.char.UUID.String()
}

// Write uses write-without-response when the peer supports it.
func (c *characteristic) Write(data []byte) error {
	noRsp := c.char.Property&ble.CharWriteNR != 0
	if err := c.link.client.WriteCharacteristic(c.char, data, noRsp); err != nil {
		return NormalizeError(err)
	}
	return nil
}

func (c *characteristic) Subscribe(handler func([]byte)) error {
	if c.char.CCCD == nil {
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{c.UUID(), "2902"}}
	}
	indicate := c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0
	if err := c.link.client.Subscribe(c.char, indicate, ble.NotificationHandler(handler)); err != nil {
		return NormalizeError(err)
	}
	return nil
}

func (c *characteristic) Unsubscribe() error {
	indicate := c.char.Property&ble.CharNotify == 0 && c.char.Property&ble.CharIndicate != 0
	if err := c.link.client.Unsubscribe(c.char, indicate); err != nil {
		return NormalizeError(err)
	}
	return nil
}
