package models

import "time"

// VolumeFormat is the on-disk format of a volume.
type VolumeFormat string

const (
	FormatQcow2 VolumeFormat = "qcow2"
	FormatRaw   VolumeFormat = "raw"
)

// Volume is a standalone data disk. Its backing file is owned by the volume
// until the volume is deleted; VMs only reference it.
type Volume struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	SizeGB int          `json:"size_gb"`
	Format VolumeFormat `json:"format"`
	Path   string       `json:"path"`

	// AttachedTo is the id of the VM holding the volume, if any
	AttachedTo *string `json:"attached_to"`

	CreatedAt time.Time `json:"created_at"`
}

// Attached reports whether the volume is attached to some VM.
func (v *Volume) Attached() bool {
	return v.AttachedTo != nil && *v.AttachedTo != ""
}

// Copy returns an independent copy of the record.
func (v *Volume) Copy() *Volume {
	if v == nil {
		return nil
	}
	out := *v
	if v.AttachedTo != nil {
		id := *v.AttachedTo
		out.AttachedTo = &id
	}
	return &out
}
