package device

import (
	"context"
)

// GATT identifiers of the JSON-RPC service. They are fixed for every peer.
const (
	ServiceUUID          = "a51a5a10-0001-4c0d-b8e6-a51a5a100001"
	RequestCharUUID      = "a51a5a10-0002-4c0d-b8e6-a51a5a100001"
	ResponseCharUUID     = "a51a5a10-0003-4c0d-b8e6-a51a5a100001"
	ClientCharConfigUUID = "00002902-0000-1000-8000-00805f9b34fb"
)

// ServiceDescriptor names the service and attributes a session resolves after discovery.
type ServiceDescriptor struct {
	Service      string
	RequestChar  string
	ResponseChar string
	CCCD         string
}

// RPCService is the descriptor of the JSON-RPC service.
var RPCService = ServiceDescriptor{
	Service:      ServiceUUID,
	RequestChar:  RequestCharUUID,
	ResponseChar: ResponseCharUUID,
	CCCD:         ClientCharConfigUUID,
}

// Advertisement is a single advertising report observed during a scan.
type Advertisement interface {
	Addr() string
	LocalName() string
	RSSI() int
	Services() []string
	Connectable() bool
}

// Central is the host side of the platform BLE stack.
type Central interface {
	// Enable prepares the adapter. It fails with ErrUnavailable when no
	// radio is present or it is switched off.
	Enable() error

	// Scan reports advertisements containing serviceFilter until ctx is done.
	// Duplicate reports are delivered. Scan returns nil when ctx is cancelled.
	Scan(ctx context.Context, serviceFilter string, handler func(Advertisement)) error

	// Dial establishes a physical link to address.
	Dial(ctx context.Context, address string) (Link, error)
}

// Link is an established connection to one peripheral.
type Link interface {
	Address() string

	// DiscoverServices resolves the remote GATT database.
	DiscoverServices(ctx context.Context) ([]Service, error)

	// Disconnected is closed when the link drops for any reason.
	Disconnected() <-chan struct{}

	// Close tears the link down. Safe to call more than once.
	Close() error
}

// Service is a discovered GATT service.
type Service interface {
	UUID() string
	Characteristics() []Characteristic
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() string

	// Write sends one value without waiting for a peer acknowledgement.
	Write(data []byte) error

	// Subscribe enables notifications and writes the client characteristic
	// configuration descriptor. It returns a *NotFoundError for the descriptor
	// when the characteristic cannot notify.
	Subscribe(handler func([]byte)) error

	Unsubscribe() error
}

// PermissionGate is supplied by the host and reports whether the process may
// scan and connect.
type PermissionGate interface {
	HasPermissions() bool

	// RequestPermissions asks the platform or the user and reports the outcome.
	RequestPermissions(ctx context.Context) (bool, error)
}

// AllowAll is a PermissionGate for platforms without runtime permissions.
type AllowAll struct{}

func (AllowAll) HasPermissions() bool { return true }

func (AllowAll) RequestPermissions(context.Context) (bool, error) { return true, nil }

// FindService returns the service with the given UUID.
func FindService(services []Service, uuid string) (Service, error) {
	want := NormalizeUUID(uuid)
	for _, svc := range services {
		if NormalizeUUID(svc.UUID()) == want {
			return svc, nil
		}
	}
	return nil, &NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

// FindCharacteristic returns the characteristic with the given UUID inside svc.
func FindCharacteristic(svc Service, uuid string) (Characteristic, error) {
	want := NormalizeUUID(uuid)
	for _, char := range svc.Characteristics() {
		if NormalizeUUID(char.UUID()) == want {
			return char, nil
		}
	}
	return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{svc.UUID(), uuid}}
}
