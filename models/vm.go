package models

import (
	"fmt"
	"time"
)

// VMStatus is the lifecycle status of a VM.
// Only stopped and running are ever persisted; starting and stopping exist
// inside a registry transaction while a transition is in flight.
type VMStatus string

const (
	StatusStopped  VMStatus = "stopped"
	StatusStarting VMStatus = "starting"
	StatusRunning  VMStatus = "running"
	StatusStopping VMStatus = "stopping"
)

// DisplayType selects the remote-display protocol exposed by the hypervisor.
type DisplayType string

const (
	DisplaySpice DisplayType = "spice"
	DisplayVNC   DisplayType = "vnc"
)

// OSType gates firmware and TPM stanzas.
type OSType string

const (
	OSLinux   OSType = "linux"
	OSWindows OSType = "windows"
	OSOther   OSType = "other"
)

// BootDevice is one entry of a VM boot order.
type BootDevice string

const (
	BootDisk    BootDevice = "disk"
	BootCDROM   BootDevice = "cdrom"
	BootNetwork BootDevice = "network"
)

// VM is the durable record of a virtual machine.
type VM struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// MemoryMB is the guest RAM in megabytes
	MemoryMB int `json:"memory"`

	VCPUs      int         `json:"cpus"`
	DiskSizeGB int         `json:"disk_size"`
	CPUModel   string      `json:"cpu_model"`
	Display    DisplayType `json:"display_type"`
	OSType     OSType      `json:"os_type"`

	// ISOPath and SecondaryISOPath are removable media (installer, drivers)
	ISOPath          string `json:"iso_path,omitempty"`
	SecondaryISOPath string `json:"secondary_iso_path,omitempty"`

	Networks  []Network    `json:"networks"`
	BootOrder []BootDevice `json:"boot_order"`

	// Volumes are ids of attached volumes, in attach order
	Volumes []string `json:"volumes"`

	// DiskPath is the primary disk image, exclusively owned by this VM
	DiskPath string `json:"disk_path"`

	// BaseImage is the id of the shared read-only image the disk is layered on
	BaseImage string `json:"base_image,omitempty"`

	Status  VMStatus `json:"status"`
	Runtime *Runtime `json:"runtime,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Runtime holds the fields that are only meaningful while a VM runs.
type Runtime struct {
	PID         int         `json:"pid"`
	ConsolePort int         `json:"console_port"`
	Protocol    DisplayType `json:"protocol"`
	StartedAt   time.Time   `json:"started_at"`

	// Macvtaps are host links created for this run and removed on stop
	Macvtaps []string `json:"macvtaps,omitempty"`
}

// IsRunning reports whether the VM is committed as running.
func (vm *VM) IsRunning() bool {
	return vm.Status == StatusRunning
}

// CheckRuntime verifies that runtime fields are present iff the VM runs.
func (vm *VM) CheckRuntime() error {
	switch vm.Status {
	case StatusRunning:
		if vm.Runtime == nil || vm.Runtime.PID <= 0 || vm.Runtime.ConsolePort <= 0 {
			return fmt.Errorf("vm %s is running without pid or console port", vm.ID)
		}
	case StatusStopped:
		if vm.Runtime != nil {
			return fmt.Errorf("vm %s is stopped but still carries runtime state", vm.ID)
		}
	default:
		return fmt.Errorf("vm %s has non-persistable status %q", vm.ID, vm.Status)
	}
	return nil
}

// Copy returns a deep copy so callers never share slices with the registry.
func (vm *VM) Copy() *VM {
	if vm == nil {
		return nil
	}
	out := *vm
	out.Networks = make([]Network, len(vm.Networks))
	for i, n := range vm.Networks {
		out.Networks[i] = n.Copy()
	}
	out.BootOrder = append([]BootDevice(nil), vm.BootOrder...)
	out.Volumes = append([]string(nil), vm.Volumes...)
	if vm.Runtime != nil {
		rt := *vm.Runtime
		rt.Macvtaps = append([]string(nil), vm.Runtime.Macvtaps...)
		out.Runtime = &rt
	}
	return &out
}

// HasVolume reports whether volID is attached.
func (vm *VM) HasVolume(volID string) bool {
	for _, id := range vm.Volumes {
		if id == volID {
			return true
		}
	}
	return false
}

// MACs returns the hardware addresses of every interface.
func (vm *VM) MACs() []string {
	macs := make([]string, 0, len(vm.Networks))
	for _, n := range vm.Networks {
		if n.MAC != "" {
			macs = append(macs, n.MAC)
		}
	}
	return macs
}
