package testutils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/srg/blerpc/internal/device"
)

// FakeCentral is an in-memory device.Central. Scans replay the configured
// advertisements and then deliver whatever Advertise pushes until the scan
// context is done. Dial connects to peripherals registered by address.
type FakeCentral struct {
	EnableErr error
	ScanErr   error

	mu             sync.Mutex
	advertisements []device.Advertisement
	peripherals    map[string]*FakePeripheral
	handler        func(device.Advertisement)
	filter         string
	scanStarted    chan struct{}
	scans          int
	dials          []string
}

// NewFakeCentral creates a FakeCentral serving the given peripherals.
func NewFakeCentral(peripherals ...*FakePeripheral) *FakeCentral {
	c := &FakeCentral{
		peripherals: make(map[string]*FakePeripheral),
		scanStarted: make(chan struct{}),
	}
	for _, p := range peripherals {
		c.AddPeripheral(p)
	}
	return c
}

// AddPeripheral registers p for Dial and adds its advertisement to scans.
func (c *FakeCentral) AddPeripheral(p *FakePeripheral) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peripherals[p.Address] = p
	c.advertisements = append(c.advertisements, p.Advertisement())
}

// AddAdvertisements appends advertisements replayed by every scan.
func (c *FakeCentral) AddAdvertisements(advs ...device.Advertisement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advertisements = append(c.advertisements, advs...)
}

// Peripheral returns the peripheral registered at address.
func (c *FakeCentral) Peripheral(address string) *FakePeripheral {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peripherals[address]
}

func (c *FakeCentral) Enable() error {
	return c.EnableErr
}

func (c *FakeCentral) Scan(ctx context.Context, serviceFilter string, handler func(device.Advertisement)) error {
	if c.ScanErr != nil {
		return c.ScanErr
	}

	c.mu.Lock()
	c.handler = handler
	c.filter = serviceFilter
	c.scans++
	advs := append([]device.Advertisement(nil), c.advertisements...)
	started := c.scanStarted
	c.mu.Unlock()

	for _, adv := range advs {
		if matchesFilter(adv, serviceFilter) {
			handler(adv)
		}
	}
	close(started)

	<-ctx.Done()

	c.mu.Lock()
	c.handler = nil
	c.scanStarted = make(chan struct{})
	c.mu.Unlock()
	return nil
}

// ScanStarted is closed once the current scan has replayed its advertisements.
func (c *FakeCentral) ScanStarted() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scanStarted
}

// Advertise delivers adv to the running scan. It reports false when no scan
// is running or adv does not match the scan filter.
func (c *FakeCentral) Advertise(adv device.Advertisement) bool {
	c.mu.Lock()
	handler, filter := c.handler, c.filter
	c.mu.Unlock()

	if handler == nil || !matchesFilter(adv, filter) {
		return false
	}
	handler(adv)
	return true
}

// Scanning reports whether a scan is running.
func (c *FakeCentral) Scanning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// ScanCount returns how many scans were started.
func (c *FakeCentral) ScanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}

// Dials returns every address passed to Dial.
func (c *FakeCentral) Dials() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.dials...)
}

func (c *FakeCentral) Dial(ctx context.Context, address string) (device.Link, error) {
	c.mu.Lock()
	c.dials = append(c.dials, address)
	p, ok := c.peripherals[address]
	c.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("fake: no peripheral at %s", address)
	}
	if p.DialErr != nil {
		return nil, p.DialErr
	}
	if p.DialGate != nil {
		select {
		case <-p.DialGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	link := &FakeLink{peripheral: p, disconnected: make(chan struct{})}
	p.setLink(link)
	return link, nil
}

func matchesFilter(adv device.Advertisement, filter string) bool {
	return filter == "" || device.ContainsUUID(adv.Services(), filter)
}

// FakePeripheral is a remote device with a GATT database.
type FakePeripheral struct {
	Address      string
	Name         string
	RSSI         int
	Services     []*FakeService
	Advertised   []string // advertised service UUIDs, defaults to the GATT services
	DialErr      error
	DiscoverErr  error
	DialGate     chan struct{} // when set, Dial blocks until it is closed
	DiscoverGate chan struct{} // when set, DiscoverServices blocks until it is closed

	mu   sync.Mutex
	link *FakeLink
}

// Advertisement returns the advertisement this peripheral broadcasts.
func (p *FakePeripheral) Advertisement() device.Advertisement {
	services := p.Advertised
	if services == nil {
		for _, svc := range p.Services {
			services = append(services, svc.UUIDValue)
		}
	}
	return NewAdvertisementBuilder().
		WithAddress(p.Address).
		WithName(p.Name).
		WithRSSI(p.RSSI).
		WithServices(services...).
		Build()
}

// Link returns the most recent link to this peripheral.
func (p *FakePeripheral) Link() *FakeLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.link
}

func (p *FakePeripheral) setLink(l *FakeLink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.link = l
}

// Characteristic finds a characteristic by UUID in any service.
func (p *FakePeripheral) Characteristic(uuid string) *FakeCharacteristic {
	want := device.NormalizeUUID(uuid)
	for _, svc := range p.Services {
		for _, c := range svc.Chars {
			if device.NormalizeUUID(c.UUIDValue) == want {
				return c
			}
		}
	}
	return nil
}

// RequestChar returns the JSON-RPC request characteristic.
func (p *FakePeripheral) RequestChar() *FakeCharacteristic {
	return p.Characteristic(device.RequestCharUUID)
}

// ResponseChar returns the JSON-RPC response characteristic.
func (p *FakePeripheral) ResponseChar() *FakeCharacteristic {
	return p.Characteristic(device.ResponseCharUUID)
}

// FakeLink is an established connection to a FakePeripheral.
type FakeLink struct {
	peripheral   *FakePeripheral
	disconnected chan struct{}
	once         sync.Once
	closed       atomic.Bool
}

func (l *FakeLink) Address() string {
	return l.peripheral.Address
}

func (l *FakeLink) DiscoverServices(ctx context.Context) ([]device.Service, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if gate := l.peripheral.DiscoverGate; gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if l.peripheral.DiscoverErr != nil {
		return nil, l.peripheral.DiscoverErr
	}
	services := make([]device.Service, 0, len(l.peripheral.Services))
	for _, svc := range l.peripheral.Services {
		services = append(services, svc)
	}
	return services, nil
}

func (l *FakeLink) Disconnected() <-chan struct{} {
	return l.disconnected
}

// Close is the host-initiated teardown.
func (l *FakeLink) Close() error {
	l.closed.Store(true)
	l.drop()
	return nil
}

// Drop simulates the peer going away.
func (l *FakeLink) Drop() {
	l.drop()
}

// Closed reports whether the host closed the link.
func (l *FakeLink) Closed() bool {
	return l.closed.Load()
}

func (l *FakeLink) drop() {
	l.once.Do(func() { close(l.disconnected) })
}

// FakeService is a GATT service.
type FakeService struct {
	UUIDValue string
	Chars     []*FakeCharacteristic
}

func (s *FakeService) UUID() string {
	return s.UUIDValue
}

func (s *FakeService) Characteristics() []device.Characteristic {
	chars := make([]device.Characteristic, 0, len(s.Chars))
	for _, c := range s.Chars {
		chars = append(chars, c)
	}
	return chars
}

// FakeCharacteristic records writes and delivers notifications to its subscriber.
type FakeCharacteristic struct {
	UUIDValue    string
	Properties   string
	HasCCCD      bool
	WriteErr     error
	SubscribeErr error

	// OnWrite is called after each successful write, outside the lock.
	OnWrite func(data []byte)

	mu      sync.Mutex
	writes  [][]byte
	handler func([]byte)
}

func (c *FakeCharacteristic) UUID() string {
	return c.UUIDValue
}

func (c *FakeCharacteristic) Write(data []byte) error {
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	hook := c.OnWrite
	c.mu.Unlock()

	if hook != nil {
		hook(data)
	}
	return nil
}

func (c *FakeCharacteristic) Subscribe(handler func([]byte)) error {
	if c.SubscribeErr != nil {
		return c.SubscribeErr
	}
	if !c.HasCCCD {
		return &device.NotFoundError{Resource: "descriptor", UUIDs: []string{c.UUIDValue, "2902"}}
	}
	c.mu.Lock()
	c.handler = handler
	c.mu.Unlock()
	return nil
}

func (c *FakeCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
	return nil
}

// Subscribed reports whether notifications are enabled.
func (c *FakeCharacteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// Notify delivers data to the subscriber. It reports false when nobody is subscribed.
func (c *FakeCharacteristic) Notify(data []byte) bool {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		return false
	}
	handler(data)
	return true
}

// Writes returns a copy of every value written so far.
func (c *FakeCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// WriteSizes returns the length of every write.
func (c *FakeCharacteristic) WriteSizes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	sizes := make([]int, len(c.writes))
	for i, w := range c.writes {
		sizes[i] = len(w)
	}
	return sizes
}

// Written returns all writes concatenated.
func (c *FakeCharacteristic) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []byte
	for _, w := range c.writes {
		out = append(out, w...)
	}
	return out
}

// ResetWrites forgets recorded writes.
func (c *FakeCharacteristic) ResetWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = nil
}
