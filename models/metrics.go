package models

import "time"

// HostScope is the scope name of host-wide samples.
const HostScope = "host"

// MetricSample is one telemetry reading for the host or a single VM.
type MetricSample struct {
	Timestamp time.Time `json:"t"`
	Scope     string    `json:"scope"`

	CPUPercent    float64 `json:"cpu"`
	MemoryUsedMB  float64 `json:"mem_mb"`
	MemoryPercent float64 `json:"mem"`

	// Disk I/O rates in MB/s over the last sampling interval
	DiskReadMBps  float64 `json:"io_r"`
	DiskWriteMBps float64 `json:"io_w"`
}

// MetricsFrame is one tick of the sampler: the host sample and the latest
// sample of every VM that was running during the tick.
type MetricsFrame struct {
	Type string                  `json:"type"`
	Host MetricSample            `json:"host"`
	VMs  map[string]MetricSample `json:"vms"`
}

// MetricsHistory is a one-shot read of every retained ring.
type MetricsHistory struct {
	Host []MetricSample            `json:"host"`
	VMs  map[string][]MetricSample `json:"vms"`
}

// HostSnapshot is the current host utilisation, including capacity figures.
type HostSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	CPUCount      int     `json:"cpu_count"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskTotalGB   float64 `json:"disk_total_gb"`
	DiskUsedGB    float64 `json:"disk_used_gb"`
	DiskPercent   float64 `json:"disk_percent"`
}
