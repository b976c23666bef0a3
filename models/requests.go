package models

// VMCreate is the declarative description of a new VM.
type VMCreate struct {
	Name             string       `json:"name" yaml:"name" validate:"required,min=1,max=50"`
	MemoryMB         int          `json:"memory" yaml:"memory" validate:"min=512,max=32768"`
	VCPUs            int          `json:"cpus" yaml:"cpus" validate:"min=1,max=16"`
	DiskSizeGB       int          `json:"disk_size" yaml:"disk_size" validate:"min=5,max=500"`
	CPUModel         string       `json:"cpu_model" yaml:"cpu_model"`
	Display          DisplayType  `json:"display_type" yaml:"display_type" validate:"omitempty,oneof=spice vnc"`
	OSType           OSType       `json:"os_type" yaml:"os_type" validate:"omitempty,oneof=linux windows other"`
	ISOPath          string       `json:"iso_path" yaml:"iso_path"`
	SecondaryISOPath string       `json:"secondary_iso_path" yaml:"secondary_iso_path"`
	Networks         []Network    `json:"networks" yaml:"networks"`
	BootOrder        []BootDevice `json:"boot_order" yaml:"boot_order" validate:"dive,oneof=disk cdrom network"`
}

// VMUpdate changes the hardware description of a stopped VM.
// Nil fields are left untouched.
type VMUpdate struct {
	Name             *string      `json:"name" validate:"omitempty,min=1,max=50"`
	MemoryMB         *int         `json:"memory" validate:"omitempty,min=512,max=32768"`
	VCPUs            *int         `json:"cpus" validate:"omitempty,min=1,max=16"`
	CPUModel         *string      `json:"cpu_model"`
	Display          *DisplayType `json:"display_type" validate:"omitempty,oneof=spice vnc"`
	OSType           *OSType      `json:"os_type" validate:"omitempty,oneof=linux windows other"`
	ISOPath          *string      `json:"iso_path"`
	SecondaryISOPath *string      `json:"secondary_iso_path"`
	Networks         []Network    `json:"networks"`
	BootOrder        []BootDevice `json:"boot_order" validate:"omitempty,dive,oneof=disk cdrom network"`
}

// VMClone names the copy and optionally resizes it.
type VMClone struct {
	Name     string `json:"name" validate:"required,min=1,max=50"`
	MemoryMB *int   `json:"memory" validate:"omitempty,min=512,max=32768"`
	VCPUs    *int   `json:"cpus" validate:"omitempty,min=1,max=16"`
}

// VMDelete records what a deletion reclaims besides the VM's own disk.
type VMDelete struct {
	ReclaimVolumes   bool `json:"reclaim_volumes" query:"reclaim_volumes"`
	ReclaimSnapshots bool `json:"reclaim_snapshots" query:"reclaim_snapshots"`
}

// VolumeCreate describes a new standalone volume.
type VolumeCreate struct {
	Name   string       `json:"name" validate:"required,min=1,max=50"`
	SizeGB int          `json:"size_gb" validate:"min=1,max=2000"`
	Format VolumeFormat `json:"format" validate:"omitempty,oneof=qcow2 raw"`
}

// SnapshotCreate names a new snapshot.
type SnapshotCreate struct {
	Name        string `json:"name" validate:"required,min=1,max=64"`
	Description string `json:"description" validate:"max=256"`
}
