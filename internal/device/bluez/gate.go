// Package bluez implements a device.PermissionGate for Linux hosts by talking
// to the BlueZ daemon over the system D-Bus.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/blerpc/internal/device"
)

const (
	busName      = "org.bluez"
	adapterPath  = dbus.ObjectPath("/org/bluez/hci0")
	adapterIface = "org.bluez.Adapter1"
	propsIface   = "org.freedesktop.DBus.Properties"
)

// PropertyBus reads and writes D-Bus properties.
type PropertyBus interface {
	Get(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error)
	Set(path dbus.ObjectPath, iface, prop string, val interface{}) error
}

type systemBus struct {
	conn *dbus.Conn
}

func (b *systemBus) Get(path dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	var v dbus.Variant
	err := b.conn.Object(busName, path).Call(propsIface+".Get", 0, iface, prop).Store(&v)
	return v, err
}

func (b *systemBus) Set(path dbus.ObjectPath, iface, prop string, val interface{}) error {
	return b.conn.Object(busName, path).Call(propsIface+".Set", 0, iface, prop, dbus.MakeVariant(val)).Err
}

// Gate grants access when the hci0 adapter exists and is powered.
// RequestPermissions powers the adapter on.
type Gate struct {
	bus    PropertyBus
	path   dbus.ObjectPath
	logger *logrus.Logger
	closer func() error
}

// NewGate connects to the system bus.
func NewGate(logger *logrus.Logger) (*Gate, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, device.Errorf(device.KindUnavailable, err, "connect to system bus")
	}
	g := NewGateWithBus(&systemBus{conn: conn}, logger)
	g.closer = conn.Close
	return g, nil
}

// NewGateWithBus creates a gate over an existing property bus.
func NewGateWithBus(bus PropertyBus, logger *logrus.Logger) *Gate {
	if logger == nil {
		logger = logrus.New()
	}
	return &Gate{bus: bus, path: adapterPath, logger: logger}
}

func (g *Gate) HasPermissions() bool {
	powered, err := g.powered()
	if err != nil {
		g.logger.WithError(err).Debug("Adapter power state unavailable")
		return false
	}
	return powered
}

func (g *Gate) RequestPermissions(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if powered, err := g.powered(); err != nil {
		return false, classify(err)
	} else if powered {
		return true, nil
	}

	g.logger.WithField("adapter", string(g.path)).Info("Powering on Bluetooth adapter")
	if err := g.bus.Set(g.path, adapterIface, "Powered", true); err != nil {
		err = classify(err)
		if device.KindOf(err) == device.KindPermissionDenied {
			return false, nil
		}
		return false, err
	}

	return g.powered()
}

// Close releases the bus connection, if the gate owns one.
func (g *Gate) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer()
}

func (g *Gate) powered() (bool, error) {
	v, err := g.bus.Get(g.path, adapterIface, "Powered")
	if err != nil {
		return false, err
	}
	val, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("property Powered is not bool")
	}
	return val, nil
}

func classify(err error) error {
	var dbusErr dbus.Error
	var dbusErrPtr *dbus.Error
	switch {
	case errors.As(err, &dbusErr):
	case errors.As(err, &dbusErrPtr) && dbusErrPtr != nil:
		dbusErr = *dbusErrPtr
	default:
		return device.NormalizeError(err)
	}

	switch {
	case strings.HasSuffix(dbusErr.Name, ".UnknownObject"), strings.HasSuffix(dbusErr.Name, ".ServiceUnknown"):
		return device.Errorf(device.KindUnavailable, err, "bluetooth adapter not found")
	case strings.HasSuffix(dbusErr.Name, ".AccessDenied"), strings.HasSuffix(dbusErr.Name, ".NotPermitted"):
		return device.Errorf(device.KindPermissionDenied, err, "adapter access denied")
	default:
		return device.NormalizeError(err)
	}
}
