package models

import "time"

// Snapshot is a point-in-time copy of a VM's primary disk.
type Snapshot struct {
	ID          string    `json:"id"`
	VMID        string    `json:"vm_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Path is the standalone image holding the captured disk state
	Path string `json:"path"`
}

// BaseImage is a read-only image shared as the backing file of cloned disks.
// It is kept while any VM disk or other base image still layers on it.
type BaseImage struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Backing   string    `json:"backing,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
