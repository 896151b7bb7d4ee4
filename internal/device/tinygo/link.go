package tinygo

import (
	"context"
	"sync"

	"github.com/srg/blerpc/internal/device"
	"tinygo.org/x/bluetooth"
)

// registry maps addresses to live links for the adapter disconnect callback.
type registry struct {
	mu    sync.Mutex
	links map[string]*Link
}

func newRegistry() *registry {
	return &registry{links: make(map[string]*Link)}
}

func (r *registry) add(l *Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links[l.address] = l
}

func (r *registry) remove(l *Link) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.links[l.address] == l {
		delete(r.links, l.address)
	}
}

func (r *registry) disconnected(address string) {
	r.mu.Lock()
	l, ok := r.links[address]
	if ok {
		delete(r.links, address)
	}
	r.mu.Unlock()

	if ok {
		l.markDone()
	}
}

// Link is a device.Link over a tinygo bluetooth.Device.
type Link struct {
	address string
	dev     *bluetooth.Device
	links   *registry

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

func newLink(address string, dev *bluetooth.Device, links *registry) *Link {
	return &Link{
		address: address,
		dev:     dev,
		links:   links,
		done:    make(chan struct{}),
	}
}

func (l *Link) Address() string {
	return l.address
}

func (l *Link) DiscoverServices(ctx context.Context) ([]device.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	svcs, err := l.dev.DiscoverServices(nil)
	if err != nil {
		return nil, device.NormalizeError(err)
	}

	out := make([]device.Service, 0, len(svcs))
	for i := range svcs {
		svc := svcs[i]
		chars, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, device.NormalizeError(err)
		}
		out = append(out, &service{uuid: svc.UUID().String(), chars: chars})
	}
	return out, nil
}

func (l *Link) Disconnected() <-chan struct{} {
	return l.done
}

func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		l.links.remove(l)
		if l.dev != nil {
			l.closeErr = l.dev.Disconnect()
		}
		l.markDone()
	})
	return l.closeErr
}

func (l *Link) markDone() {
	l.doneOnce.Do(func() { close(l.done) })
}

type service struct {
	uuid  string
	chars []bluetooth.DeviceCharacteristic
}

func (s *service) UUID() string {
	return s.uuid
}

func (s *service) Characteristics() []device.Characteristic {
	out := make([]device.Characteristic, 0, len(s.chars))
	for i := range s.chars {
		out = append(out, &characteristic{char: s.chars[i]})
	}
	return out
}

type characteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *characteristic) UUID() string {
	return c.char.UUID().String()
}

func (c *characteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

// Subscribe writes the CCCD through the platform stack, which reports a
// missing descriptor as an error.
func (c *characteristic) Subscribe(handler func([]byte)) error {
	return c.char.EnableNotifications(handler)
}

// Unsubscribe passes a nil callback, which disables notifications.
func (c *characteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}
