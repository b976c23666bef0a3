package api

import (
	"evalgo.org/fastvm/internal/hostnet"
	"evalgo.org/fastvm/internal/integrity"
	"evalgo.org/fastvm/internal/scheduler"
	"evalgo.org/fastvm/models"
)

// MessageResponse represents a simple message response.
type MessageResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}

// VMsResponse represents a paginated list of VMs.
type VMsResponse struct {
	Count  int          `json:"count"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
	VMs    []*models.VM `json:"vms"`
}

// VolumesResponse represents a paginated list of volumes.
type VolumesResponse struct {
	Count   int              `json:"count"`
	Total   int              `json:"total"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
	Volumes []*models.Volume `json:"volumes"`
}

// SnapshotsResponse lists the snapshots of one VM.
type SnapshotsResponse struct {
	VMID      string             `json:"vm_id"`
	Count     int                `json:"count"`
	Snapshots []*models.Snapshot `json:"snapshots"`
}

// LogsResponse carries the tail of a VM's hypervisor log.
type LogsResponse struct {
	VMID  string   `json:"vm_id"`
	Lines []string `json:"lines"`
}

// DisconnectResponse reports how many console sessions were closed.
type DisconnectResponse struct {
	VMID         string `json:"vm_id"`
	Disconnected int    `json:"disconnected"`
}

// InterfacesResponse lists host network links.
type InterfacesResponse struct {
	Count      int                 `json:"count"`
	Interfaces []hostnet.Interface `json:"interfaces"`
}

// VMMetricsHistoryResponse is the ring of one VM.
type VMMetricsHistoryResponse struct {
	VMID    string                `json:"vm_id"`
	Samples []models.MetricSample `json:"samples"`
}

// IntegrityRepairResponse pairs a repair with the scan it acted on.
type IntegrityRepairResponse struct {
	Scan   *integrity.ScanReport   `json:"scan"`
	Repair *integrity.RepairResult `json:"repair"`
}

// MaintenanceJobsResponse lists the background maintenance jobs.
type MaintenanceJobsResponse struct {
	Count int                   `json:"count"`
	Jobs  []scheduler.JobStatus `json:"jobs"`
}
