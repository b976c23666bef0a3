package hostnet

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/fastvm/internal/vmerr"
)

type staticInventory struct {
	ifaces []Interface
	err    error
}

func (s staticInventory) Interfaces() ([]Interface, error) { return s.ifaces, s.err }

var host = staticInventory{ifaces: []Interface{
	{Name: "lo", Type: "device"},
	{Name: "eth0", Type: "device", Up: true},
	{Name: "virbr0", Type: "bridge"},
	{Name: "br0", Type: "bridge", Up: true},
	{Name: "veth1", Type: "veth", Master: "br0"},
}}

func TestBridgesAndPhysical(t *testing.T) {
	bridges, err := Bridges(host)
	require.NoError(t, err)
	require.Len(t, bridges, 2)
	assert.Equal(t, "br0", bridges[0].Name)
	assert.Equal(t, "virbr0", bridges[1].Name)

	phys, err := Physical(host)
	require.NoError(t, err)
	require.Len(t, phys, 1)
	assert.Equal(t, "eth0", phys[0].Name)
}

func TestRequire(t *testing.T) {
	assert.NoError(t, RequireBridge(host, "br0"))
	assert.True(t, vmerr.Is(RequireBridge(host, "br9"), vmerr.KindExternal))
	assert.True(t, vmerr.Is(RequireBridge(host, "eth0"), vmerr.KindExternal))

	assert.NoError(t, RequireInterface(host, "eth0"))
	assert.True(t, vmerr.Is(RequireInterface(host, "wlan0"), vmerr.KindExternal))
	assert.True(t, vmerr.Is(RequireInterface(host, "br0"), vmerr.KindExternal))

	broken := staticInventory{err: errors.New("netlink socket")}
	assert.True(t, vmerr.Is(RequireBridge(broken, "br0"), vmerr.KindExternal))
}
