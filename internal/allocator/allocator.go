// Package allocator derives everything a VM needs to run from its record:
// file locations, a console port, hardware addresses and the hypervisor
// argument vector. It keeps no state of its own; ports are claimed through
// the registry transaction of the VM being started.
package allocator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"evalgo.org/fastvm/internal/config"
	"evalgo.org/fastvm/internal/hostnet"
	"evalgo.org/fastvm/internal/registry"
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// Allocator computes launch resources for VMs.
type Allocator struct {
	hv      config.HypervisorConfig
	storage config.StorageConfig
	console config.ConsoleConfig
	host    hostnet.Inventory

	// PortUsable reports whether nothing else on the host listens on a port.
	PortUsable func(port int) bool
}

// New returns an Allocator for the given configuration and host inventory.
func New(cfg *config.Config, host hostnet.Inventory) *Allocator {
	return &Allocator{
		hv:         cfg.Hypervisor,
		storage:    cfg.Storage,
		console:    cfg.Console,
		host:       host,
		PortUsable: PortFree,
	}
}

// VMDir holds the private artifacts of a VM: disk, firmware vars, TPM state, log.
func (a *Allocator) VMDir(vmID string) string {
	return filepath.Join(a.storage.VMsDir, vmID)
}

func (a *Allocator) DiskPath(vmID string) string {
	return filepath.Join(a.VMDir(vmID), "disk.qcow2")
}

func (a *Allocator) VarsPath(vmID string) string {
	return filepath.Join(a.VMDir(vmID), "OVMF_VARS.fd")
}

func (a *Allocator) TPMDir(vmID string) string {
	return filepath.Join(a.VMDir(vmID), "tpm")
}

func (a *Allocator) TPMSocket(vmID string) string {
	return filepath.Join(a.TPMDir(vmID), "swtpm.sock")
}

func (a *Allocator) LogPath(vmID string) string {
	return filepath.Join(a.storage.LogsDir, vmID+".log")
}

func (a *Allocator) ImagePath(imageID string) string {
	return filepath.Join(a.storage.ImagesDir, imageID+".qcow2")
}

func (a *Allocator) VolumePath(volID string, format models.VolumeFormat) string {
	return filepath.Join(a.storage.VolumesDir, volID+"."+string(format))
}

func (a *Allocator) SnapshotPath(vmID, snapID string) string {
	return filepath.Join(a.storage.SnapshotsDir, vmID, snapID+".qcow2")
}

// PortRange returns the reserved console range of a display protocol.
// SPICE and VNC never share a range.
func (a *Allocator) PortRange(display models.DisplayType) (int, int) {
	if display == models.DisplayVNC {
		return a.console.VNCPortMin, a.console.VNCPortMax
	}
	return a.console.SpicePortMin, a.console.SpicePortMax
}

// ClaimConsolePort reserves the lowest free port of the VM's display range
// inside its registry transaction.
func (a *Allocator) ClaimConsolePort(tx *registry.Txn) (int, error) {
	lo, hi := a.PortRange(tx.VM().Display)
	return tx.ClaimPort(lo, hi, a.PortUsable)
}

// PortFree reports whether a loopback listener can be opened on port.
func PortFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	l.Close()
	return true
}

// CheckArtifacts verifies that the primary disk and referenced removable
// media exist.
func (a *Allocator) CheckArtifacts(vm *models.VM) error {
	fields := map[string]string{}
	if _, err := os.Stat(vm.DiskPath); err != nil {
		fields["disk_path"] = "primary disk is missing"
	}
	for key, path := range map[string]string{"iso_path": vm.ISOPath, "secondary_iso_path": vm.SecondaryISOPath} {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			fields[key] = "removable media is missing"
		}
	}
	if len(fields) > 0 {
		return vmerr.Invalid(fmt.Sprintf("vm %s cannot start", vm.ID), fields)
	}
	return nil
}

// ResolveNetworks checks bridge and macvtap targets against the live host
// inventory. There is no fallback to NAT.
func (a *Allocator) ResolveNetworks(vm *models.VM) error {
	for i, n := range vm.Networks {
		switch b := n.Backend.(type) {
		case models.BridgeBackend:
			if err := hostnet.RequireBridge(a.host, b.BridgeName); err != nil {
				return fmt.Errorf("network %d: %w", i, err)
			}
		case models.MacvtapBackend:
			if err := hostnet.RequireInterface(a.host, b.ParentInterface); err != nil {
				return fmt.Errorf("network %d: %w", i, err)
			}
		case models.NATBackend, models.IsolatedBackend:
		default:
			return vmerr.New(vmerr.KindValidation, "network %d has unsupported backend %T", i, b)
		}
	}
	return nil
}

// PrepareFirmware gives a windows VM its own copy of the UEFI variable store.
func (a *Allocator) PrepareFirmware(vm *models.VM) error {
	if vm.OSType != models.OSWindows {
		return nil
	}
	if _, err := os.Stat(a.hv.OVMFCode); err != nil {
		return vmerr.Wrap(vmerr.KindExternal, err, "uefi firmware not available")
	}
	if err := os.MkdirAll(a.TPMDir(vm.ID), 0o755); err != nil {
		return vmerr.Wrap(vmerr.KindInternal, err, "create tpm state directory")
	}
	vars := a.VarsPath(vm.ID)
	if _, err := os.Stat(vars); err == nil {
		return nil
	}
	if err := copyFile(a.hv.OVMFVars, vars); err != nil {
		return vmerr.Wrap(vmerr.KindExternal, err, "uefi variable template not available")
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// MacvtapName is the host link name of a VM's nth macvtap interface. It
// hashes the full id and index so VMs sharing an id prefix never collide,
// and fits the kernel's 15 byte limit.
func MacvtapName(vmID string, index int) string {
	sum := sha256.Sum256([]byte(vmID + "/" + strconv.Itoa(index)))
	return "fvt" + hex.EncodeToString(sum[:6])
}
