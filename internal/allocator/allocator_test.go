package allocator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/fastvm/internal/config"
	"evalgo.org/fastvm/internal/hostnet"
	"evalgo.org/fastvm/internal/registry"
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

type inventory []hostnet.Interface

func (i inventory) Interfaces() ([]hostnet.Interface, error) { return i, nil }

var testHost = inventory{
	{Name: "eth0", Type: "device"},
	{Name: "br0", Type: "bridge"},
}

func testAllocator(t *testing.T) *Allocator {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.VMsDir = filepath.Join(cfg.Storage.DataDir, "vms")
	cfg.Storage.LogsDir = filepath.Join(cfg.Storage.DataDir, "logs")
	a := New(cfg, testHost)
	a.PortUsable = func(int) bool { return true }
	return a
}

func baseVM() *models.VM {
	return &models.VM{
		ID:        "11111111-2222-3333-4444-555555555555",
		Name:      "web",
		MemoryMB:  2048,
		VCPUs:     2,
		CPUModel:  "host",
		Display:   models.DisplaySpice,
		OSType:    models.OSLinux,
		DiskPath:  "/data/vms/x/disk.qcow2",
		BootOrder: []models.BootDevice{models.BootCDROM, models.BootDisk},
		Networks: []models.Network{{
			Model:   models.NICVirtio,
			MAC:     "52:54:00:00:00:01",
			Backend: models.NATBackend{PortForwards: []models.PortForward{{HostPort: 8081, GuestPort: 80, Protocol: "tcp"}}},
		}},
	}
}

func argPairs(args []string, flag string) []string {
	var out []string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			out = append(out, args[i+1])
		}
	}
	return out
}

func TestBuildNAT(t *testing.T) {
	a := testAllocator(t)
	args, err := a.Build(LaunchSpec{VM: baseVM(), Port: 5930})
	require.NoError(t, err)

	assert.Equal(t, "qemu-system-x86_64", args[0])
	assert.Equal(t, []string{"q35,accel=kvm"}, argPairs(args, "-machine"))
	assert.Equal(t, []string{"2048"}, argPairs(args, "-m"))
	assert.Equal(t, []string{"host"}, argPairs(args, "-cpu"))
	assert.Contains(t, argPairs(args, "-smp")[0], "cpus=2")
	assert.Equal(t, []string{"user,id=net0,hostfwd=tcp::8081-:80"}, argPairs(args, "-netdev"))
	assert.Contains(t, argPairs(args, "-device"), "virtio-net-pci,netdev=net0,mac=52:54:00:00:00:01")
	assert.Equal(t, []string{"port=5930,addr=127.0.0.1,disable-ticketing=on"}, argPairs(args, "-spice"))
	// no media, so cdrom is skipped in the boot order
	assert.Equal(t, []string{"order=c"}, argPairs(args, "-boot"))
	assert.Empty(t, argPairs(args, "-tpmdev"))
}

func TestBuildMediaVolumesAndBootOrder(t *testing.T) {
	a := testAllocator(t)
	vm := baseVM()
	vm.ISOPath = "/isos/install,1.iso"
	vm.SecondaryISOPath = "/isos/drivers.iso"
	vm.Volumes = []string{"v1"}
	vm.BootOrder = []models.BootDevice{models.BootCDROM, models.BootNetwork, models.BootDisk, models.BootCDROM}

	args, err := a.Build(LaunchSpec{VM: vm, Port: 5930, Volumes: []*models.Volume{{ID: "v1", Path: "/vols/v1.raw", Format: models.FormatRaw}}})
	require.NoError(t, err)

	drives := argPairs(args, "-drive")
	require.Len(t, drives, 4)
	assert.True(t, strings.HasPrefix(drives[0], "file=/data/vms/x/disk.qcow2"))
	assert.Equal(t, "file=/vols/v1.raw,format=raw,if=virtio", drives[1])
	assert.Contains(t, drives[2], "file=/isos/install,,1.iso,media=cdrom")
	assert.Contains(t, drives[3], "index=3")
	assert.Equal(t, []string{"order=dnc"}, argPairs(args, "-boot"))

	vm.Volumes = []string{"gone"}
	_, err = a.Build(LaunchSpec{VM: vm, Port: 5930})
	assert.True(t, vmerr.Is(err, vmerr.KindNotFound))
}

func TestBuildNetworkVariants(t *testing.T) {
	a := testAllocator(t)
	vm := baseVM()
	vm.Networks = []models.Network{
		{Model: models.NICE1000, MAC: "52:54:00:00:00:02", Backend: models.BridgeBackend{BridgeName: "br0"}},
		{Model: models.NICRTL8139, MAC: "52:54:00:00:00:03", Backend: models.MacvtapBackend{ParentInterface: "eth0"}},
		{Model: models.NICVirtio, MAC: "52:54:00:00:00:04", Backend: models.IsolatedBackend{}},
	}

	_, err := a.Build(LaunchSpec{VM: vm, Port: 5930})
	assert.Error(t, err, "macvtap needs an open tap")

	args, err := a.Build(LaunchSpec{VM: vm, Port: 5930, TapFDs: map[int]int{1: TapFD(0)}})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"bridge,id=net0,br=br0",
		"tap,id=net1,fd=3",
		"user,id=net2,restrict=on",
	}, argPairs(args, "-netdev"))
	devices := argPairs(args, "-device")
	assert.Contains(t, devices, "e1000,netdev=net0,mac=52:54:00:00:00:02")
	assert.Contains(t, devices, "rtl8139,netdev=net1,mac=52:54:00:00:00:03")
}

func TestBuildRejectsBadForwardProtocol(t *testing.T) {
	a := testAllocator(t)
	vm := baseVM()
	vm.Networks[0].Backend = models.NATBackend{PortForwards: []models.PortForward{{HostPort: 1, GuestPort: 1, Protocol: "icmp"}}}
	_, err := a.Build(LaunchSpec{VM: vm, Port: 5930})
	assert.True(t, vmerr.Is(err, vmerr.KindValidation))
}

func TestBuildVNCAndWindows(t *testing.T) {
	a := testAllocator(t)
	vm := baseVM()
	vm.Display = models.DisplayVNC
	vm.OSType = models.OSWindows

	args, err := a.Build(LaunchSpec{VM: vm, Port: 5903})
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:3"}, argPairs(args, "-vnc"))
	assert.Empty(t, argPairs(args, "-spice"))
	assert.Equal(t, []string{"emulator,id=tpm0,chardev=chrtpm"}, argPairs(args, "-tpmdev"))

	var pflash int
	for _, d := range argPairs(args, "-drive") {
		if strings.HasPrefix(d, "if=pflash") {
			pflash++
		}
	}
	assert.Equal(t, 2, pflash)

	_, err = a.Build(LaunchSpec{VM: vm, Port: 5800})
	assert.True(t, vmerr.Is(err, vmerr.KindValidation))
}

func TestResolveNetworks(t *testing.T) {
	a := testAllocator(t)
	vm := baseVM()
	vm.Networks = append(vm.Networks,
		models.Network{Backend: models.BridgeBackend{BridgeName: "br0"}},
		models.Network{Backend: models.MacvtapBackend{ParentInterface: "eth0"}},
	)
	assert.NoError(t, a.ResolveNetworks(vm))

	vm.Networks = []models.Network{{Backend: models.BridgeBackend{BridgeName: "br-missing"}}}
	err := a.ResolveNetworks(vm)
	assert.True(t, vmerr.Is(err, vmerr.KindExternal))

	vm.Networks = []models.Network{{Backend: models.MacvtapBackend{ParentInterface: "eth9"}}}
	err = a.ResolveNetworks(vm)
	assert.True(t, vmerr.Is(err, vmerr.KindExternal))
}

func TestSeparateConsoleRanges(t *testing.T) {
	a := testAllocator(t)
	r, err := registry.Open(t.TempDir())
	require.NoError(t, err)

	spice := baseVM()
	spice.ID = models.NewID()
	spice.Status = models.StatusStopped
	vnc := baseVM()
	vnc.ID = models.NewID()
	vnc.Name = "vnc"
	vnc.Display = models.DisplayVNC
	_, err = r.Create(spice)
	require.NoError(t, err)
	_, err = r.Create(vnc)
	require.NoError(t, err)

	ports := map[string]int{}
	for _, id := range []string{spice.ID, vnc.ID} {
		_, err := r.Update(context.Background(), id, func(tx *registry.Txn) error {
			port, err := a.ClaimConsolePort(tx)
			ports[id] = port
			return err
		})
		require.NoError(t, err)
	}
	assert.Equal(t, 5930, ports[spice.ID])
	assert.Equal(t, 5900, ports[vnc.ID])
}

func TestCheckArtifacts(t *testing.T) {
	a := testAllocator(t)
	dir := t.TempDir()
	vm := baseVM()
	vm.DiskPath = filepath.Join(dir, "disk.qcow2")
	vm.ISOPath = filepath.Join(dir, "missing.iso")

	err := a.CheckArtifacts(vm)
	var verr *vmerr.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, vmerr.KindValidation, verr.Kind)
	assert.Contains(t, verr.Fields, "disk_path")
	assert.Contains(t, verr.Fields, "iso_path")

	require.NoError(t, os.WriteFile(vm.DiskPath, nil, 0o644))
	vm.ISOPath = ""
	assert.NoError(t, a.CheckArtifacts(vm))
}

func TestDeriveCloneUsesFreshMACs(t *testing.T) {
	a := testAllocator(t)
	src := baseVM()
	src.Networks = append(src.Networks, models.Network{Model: models.NICE1000, MAC: "52:54:00:00:00:09", Backend: models.IsolatedBackend{}})
	src.Volumes = []string{"v1"}
	taken := map[string]string{"52:54:00:00:00:01": src.ID, "52:54:00:00:00:09": src.ID}

	mem := 4096
	clone, err := a.DeriveClone(src, &models.VMClone{Name: "copy", MemoryMB: &mem}, taken)
	require.NoError(t, err)

	assert.NotEqual(t, src.ID, clone.ID)
	assert.Equal(t, 4096, clone.MemoryMB)
	assert.Equal(t, src.VCPUs, clone.VCPUs)
	assert.Empty(t, clone.Volumes)
	assert.Equal(t, a.DiskPath(clone.ID), clone.DiskPath)
	require.Len(t, clone.Networks, 2)
	for _, n := range clone.Networks {
		assert.True(t, strings.HasPrefix(n.MAC, "52:54:00:"))
		assert.NotContains(t, src.MACs(), n.MAC)
		assert.Equal(t, clone.ID, taken[n.MAC])
	}
	assert.NotEqual(t, clone.Networks[0].MAC, clone.Networks[1].MAC)
	// the source is untouched
	assert.Equal(t, "52:54:00:00:00:01", src.Networks[0].MAC)
}

func TestAssignMACsRejectsDuplicates(t *testing.T) {
	taken := map[string]string{"52:54:00:aa:aa:aa": "other"}
	nets := []models.Network{{MAC: "52:54:00:AA:AA:AA", Backend: models.NATBackend{}}}
	err := AssignMACs(nets, "me", taken)
	assert.True(t, vmerr.Is(err, vmerr.KindConflict))
}

func TestAssignMACsRejectsRepeatWithinVM(t *testing.T) {
	taken := map[string]string{"52:54:00:aa:bb:cc": "me"}

	// keeping an address the vm already holds is fine
	keep := []models.Network{{MAC: "52:54:00:aa:bb:cc", Backend: models.NATBackend{}}}
	require.NoError(t, AssignMACs(keep, "me", taken))

	nets := []models.Network{
		{MAC: "52:54:00:aa:bb:cc", Backend: models.NATBackend{}},
		{MAC: "52:54:00:AA:BB:CC", Backend: models.IsolatedBackend{}},
	}
	err := AssignMACs(nets, "me", taken)
	assert.True(t, vmerr.Is(err, vmerr.KindConflict))

	fresh := []models.Network{{Backend: models.NATBackend{}}, {Backend: models.NATBackend{}}}
	require.NoError(t, AssignMACs(fresh, "new", map[string]string{}))
	assert.NotEqual(t, fresh[0].MAC, fresh[1].MAC)
}

func TestMacvtapName(t *testing.T) {
	a := "11111111-2222-3333-4444-555555555555"
	b := "11111111-9999-3333-4444-555555555555"

	name := MacvtapName(a, 3)
	assert.Len(t, name, 15)
	assert.True(t, strings.HasPrefix(name, "fvt"))
	assert.Equal(t, name, MacvtapName(a, 3))

	// ids sharing a prefix get distinct links
	assert.NotEqual(t, name, MacvtapName(b, 3))
	assert.NotEqual(t, name, MacvtapName(a, 4))
	assert.NotEqual(t, MacvtapName(a, 1), MacvtapName(a, 11))
}
