// Package devicefactory selects the BLE backend and permission gate for the
// host platform.
package devicefactory

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
	"github.com/srg/blerpc/internal/device/bluez"
	goble "github.com/srg/blerpc/internal/device/go-ble"
	"github.com/srg/blerpc/internal/device/tinygo"
)

const (
	BackendGoBLE  = "goble"
	BackendTinyGo = "tinygo"

	DefaultBackend = BackendGoBLE
)

// Constructor builds a central for one backend.
type Constructor func(logger *logrus.Logger) (device.Central, error)

// Backends lists the available centrals by name.
// This is a variable so that it can be overridden in tests.
var Backends = map[string]Constructor{
	BackendGoBLE: func(logger *logrus.Logger) (device.Central, error) {
		return goble.NewCentral(logger), nil
	},
	BackendTinyGo: func(logger *logrus.Logger) (device.Central, error) {
		return tinygo.NewCentral(logger), nil
	},
}

// GateFactory creates the permission gate.
// This is a variable so that it can be overridden in tests.
var GateFactory = newPlatformGate

// BackendNames returns the registered backend names, sorted.
func BackendNames() []string {
	names := make([]string, 0, len(Backends))
	for name := range Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewCentral creates the central for the named backend. An empty name picks
// DefaultBackend.
func NewCentral(backend string, logger *logrus.Logger) (device.Central, error) {
	if backend == "" {
		backend = DefaultBackend
	}
	ctor, ok := Backends[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (available: %s)", backend, strings.Join(BackendNames(), ", "))
	}
	central, err := ctor(logger)
	if err != nil {
		return nil, device.Errorf(device.KindUnavailable, err, "create %s central", backend)
	}
	return central, nil
}

// NewPermissionGate returns the gate for this platform.
func NewPermissionGate(logger *logrus.Logger) device.PermissionGate {
	return GateFactory(logger)
}

func newPlatformGate(logger *logrus.Logger) device.PermissionGate {
	if runtime.GOOS != "linux" {
		return device.AllowAll{}
	}
	gate, err := bluez.NewGate(logger)
	if err != nil {
		if logger != nil {
			logger.WithError(err).Debug("BlueZ unavailable, skipping adapter power check")
		}
		return device.AllowAll{}
	}
	return gate
}
