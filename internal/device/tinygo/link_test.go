package tinygo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry_DisconnectedClosesLink(t *testing.T) {
	reg := newRegistry()
	l := newLink("AA:BB:CC:DD:EE:01", nil, reg)
	reg.add(l)

	reg.disconnected("11:22:33:44:55:66")
	select {
	case <-l.Disconnected():
		t.Fatal("unrelated address MUST NOT close the link")
	default:
	}

	reg.disconnected("AA:BB:CC:DD:EE:01")
	select {
	case <-l.Disconnected():
	default:
		t.Fatal("link MUST close when the adapter reports disconnection")
	}

	assert.NotPanics(t, func() { reg.disconnected("AA:BB:CC:DD:EE:01") })
}

func TestLink_CloseIsIdempotent(t *testing.T) {
	reg := newRegistry()
	l := newLink("AA:BB:CC:DD:EE:02", nil, reg)
	reg.add(l)

	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
	assert.Empty(t, reg.links, "closed links MUST leave the registry")
	assert.Equal(t, "AA:BB:CC:DD:EE:02", l.Address())
}

func TestRegistry_ReplacedLinkNotRemoved(t *testing.T) {
	reg := newRegistry()
	old := newLink("AA", nil, reg)
	reg.add(old)
	current := newLink("AA", nil, reg)
	reg.add(current)

	reg.remove(old)
	assert.Same(t, current, reg.links["AA"])
}
