package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"evalgo.org/fastvm/internal/vmerr"
)

func TestNetworkJSON(t *testing.T) {
	in := []Network{
		{Model: NICVirtio, MAC: "52:54:00:12:34:56", Backend: NATBackend{PortForwards: []PortForward{{HostPort: 8081, GuestPort: 80, Protocol: "tcp"}}}},
		{Model: NICE1000, Backend: BridgeBackend{BridgeName: "br0"}},
		{Model: NICRTL8139, Backend: MacvtapBackend{ParentInterface: "eth0"}},
		{Backend: IsolatedBackend{}},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"nat"`)
	assert.Contains(t, string(data), `"bridge_name":"br0"`)
	assert.Contains(t, string(data), `"parent_interface":"eth0"`)

	var out []Network
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestNetworkUnknownType(t *testing.T) {
	var n Network
	err := json.Unmarshal([]byte(`{"type":"vde"}`), &n)
	assert.Error(t, err)
}

func TestVMCreateYAML(t *testing.T) {
	doc := `
name: web
memory: 2048
cpus: 2
disk_size: 20
networks:
  - type: nat
    port_forwards:
      - host_port: 2222
        guest_port: 22
        protocol: tcp
  - type: bridge
    bridge_name: br0
boot_order: [disk, cdrom]
`
	var req VMCreate
	require.NoError(t, yaml.Unmarshal([]byte(doc), &req))
	require.Len(t, req.Networks, 2)
	assert.Equal(t, NetworkNAT, req.Networks[0].Type())
	assert.Equal(t, BridgeBackend{BridgeName: "br0"}, req.Networks[1].Backend)
	assert.NoError(t, req.Validate())
}

func TestVMCreateValidate(t *testing.T) {
	valid := func() VMCreate {
		r := VMCreate{Name: "vm", Networks: []Network{{Backend: NATBackend{}}}}
		r.ApplyDefaults()
		return r
	}

	tests := []struct {
		name   string
		mutate func(r *VMCreate)
		field  string
	}{
		{"ok", func(r *VMCreate) {}, ""},
		{"missing name", func(r *VMCreate) { r.Name = "" }, "name"},
		{"memory too small", func(r *VMCreate) { r.MemoryMB = 256 }, "memory"},
		{"too many cpus", func(r *VMCreate) { r.VCPUs = 64 }, "cpus"},
		{"disk too large", func(r *VMCreate) { r.DiskSizeGB = 501 }, "disk_size"},
		{"bad display", func(r *VMCreate) { r.Display = "rdp" }, "display_type"},
		{"bridge without name", func(r *VMCreate) {
			r.Networks = []Network{{Backend: BridgeBackend{}}}
		}, "networks[0].bridge_name"},
		{"macvtap without parent", func(r *VMCreate) {
			r.Networks = []Network{{Backend: MacvtapBackend{}}}
		}, "networks[0].parent_interface"},
		{"forward with sctp", func(r *VMCreate) {
			r.Networks = []Network{{Backend: NATBackend{PortForwards: []PortForward{{HostPort: 1, GuestPort: 1, Protocol: "sctp"}}}}}
		}, "networks[0].port_forwards[0].protocol"},
		{"bad mac", func(r *VMCreate) { r.Networks[0].MAC = "zz" }, "networks[0].mac"},
		{"bad model", func(r *VMCreate) { r.Networks[0].Model = "ne2k" }, "networks[0].model"},
		{"eui-64 mac", func(r *VMCreate) { r.Networks[0].MAC = "52:54:00:aa:bb:cc:dd:ee" }, "networks[0].mac"},
		{"multicast mac", func(r *VMCreate) { r.Networks[0].MAC = "01:00:5e:00:00:01" }, "networks[0].mac"},
		{"same mac twice", func(r *VMCreate) {
			r.Networks = []Network{
				{MAC: "52:54:00:aa:bb:cc", Backend: NATBackend{}},
				{MAC: "52:54:00:AA:BB:CC", Backend: IsolatedBackend{}},
			}
		}, "networks[1].mac"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			err := r.Validate()
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, vmerr.Is(err, vmerr.KindValidation))
			var verr *vmerr.Error
			require.ErrorAs(t, err, &verr)
			assert.Contains(t, verr.Fields, tt.field)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	r := VMCreate{Name: "vm", Networks: []Network{{Backend: IsolatedBackend{}}}}
	r.ApplyDefaults()
	assert.Equal(t, 2048, r.MemoryMB)
	assert.Equal(t, 2, r.VCPUs)
	assert.Equal(t, 20, r.DiskSizeGB)
	assert.Equal(t, DisplaySpice, r.Display)
	assert.Equal(t, NICVirtio, r.Networks[0].Model)
}

func TestCheckRuntime(t *testing.T) {
	vm := &VM{ID: "a", Status: StatusStopped}
	assert.NoError(t, vm.CheckRuntime())

	vm.Runtime = &Runtime{PID: 10, ConsolePort: 5930}
	assert.Error(t, vm.CheckRuntime())

	vm.Status = StatusRunning
	assert.NoError(t, vm.CheckRuntime())

	vm.Runtime.PID = 0
	assert.Error(t, vm.CheckRuntime())

	vm.Status = StatusStarting
	assert.Error(t, vm.CheckRuntime())
}

func TestVMCopyIsDeep(t *testing.T) {
	vm := &VM{
		ID:       "a",
		Networks: []Network{{MAC: "52:54:00:00:00:01", Backend: NATBackend{PortForwards: []PortForward{{HostPort: 1, GuestPort: 2, Protocol: "tcp"}}}}},
		Volumes:  []string{"v1"},
		Status:   StatusRunning,
		Runtime:  &Runtime{PID: 1, ConsolePort: 5930, Macvtaps: []string{"fvm0"}},
	}
	cp := vm.Copy()
	cp.Volumes[0] = "v2"
	cp.Networks[0].Backend.(NATBackend).PortForwards[0].HostPort = 99
	cp.Runtime.Macvtaps[0] = "other"

	assert.Equal(t, "v1", vm.Volumes[0])
	assert.Equal(t, 1, vm.Networks[0].Backend.(NATBackend).PortForwards[0].HostPort)
	assert.Equal(t, "fvm0", vm.Runtime.Macvtaps[0])
	assert.Equal(t, []string{"52:54:00:00:00:01"}, vm.MACs())
}
