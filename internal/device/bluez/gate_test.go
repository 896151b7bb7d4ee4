package bluez

import (
	"context"
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/srg/blerpc/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBus struct {
	props  map[string]interface{}
	getErr error
	setErr error
	sets   int
}

func (b *fakeBus) Get(_ dbus.ObjectPath, iface, prop string) (dbus.Variant, error) {
	if b.getErr != nil {
		return dbus.Variant{}, b.getErr
	}
	return dbus.MakeVariant(b.props[iface+"."+prop]), nil
}

func (b *fakeBus) Set(_ dbus.ObjectPath, iface, prop string, val interface{}) error {
	b.sets++
	if b.setErr != nil {
		return b.setErr
	}
	b.props[iface+"."+prop] = val
	return nil
}

func newFakeBus(powered bool) *fakeBus {
	return &fakeBus{props: map[string]interface{}{adapterIface + ".Powered": powered}}
}

func TestGate_PoweredAdapterGranted(t *testing.T) {
	bus := newFakeBus(true)
	g := NewGateWithBus(bus, nil)

	assert.True(t, g.HasPermissions())
	ok, err := g.RequestPermissions(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Zero(t, bus.sets, "powered adapter MUST NOT be written")
}

func TestGate_RequestPowersOnAdapter(t *testing.T) {
	bus := newFakeBus(false)
	g := NewGateWithBus(bus, nil)

	assert.False(t, g.HasPermissions())
	ok, err := g.RequestPermissions(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, g.HasPermissions())
}

func TestGate_AccessDeniedIsNotGranted(t *testing.T) {
	bus := newFakeBus(false)
	bus.setErr = dbus.Error{Name: "org.bluez.Error.NotPermitted"}
	g := NewGateWithBus(bus, nil)

	ok, err := g.RequestPermissions(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGate_MissingAdapterIsUnavailable(t *testing.T) {
	bus := newFakeBus(false)
	bus.getErr = dbus.Error{Name: "org.freedesktop.DBus.Error.UnknownObject"}
	g := NewGateWithBus(bus, nil)

	assert.False(t, g.HasPermissions())
	_, err := g.RequestPermissions(context.Background())
	assert.True(t, errors.Is(err, device.ErrUnavailable), "missing adapter MUST map to unavailable, got %v", err)
}

func TestGate_CancelledContext(t *testing.T) {
	g := NewGateWithBus(newFakeBus(false), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.RequestPermissions(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, g.Close())
}
