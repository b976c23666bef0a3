package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"evalgo.org/fastvm/models"
)

// Catalog lists every VM record.
type Catalog interface {
	List() []*models.VM
}

// Collector exposes the latest frame and engine gauges to prometheus. It
// reads what the pipeline already sampled and never samples on scrape.
type Collector struct {
	pipeline *Pipeline
	catalog  Catalog
	sessions func() int

	hostCPU       *prometheus.Desc
	hostMemory    *prometheus.Desc
	hostDiskRead  *prometheus.Desc
	hostDiskWrite *prometheus.Desc
	vmCPU         *prometheus.Desc
	vmMemory      *prometheus.Desc
	vmMemoryPct   *prometheus.Desc
	vmDiskRead    *prometheus.Desc
	vmDiskWrite   *prometheus.Desc
	vmStatus      *prometheus.Desc
	consoles      *prometheus.Desc
	subscribers   *prometheus.Desc
}

// NewCollector creates a Collector. sessions may be nil.
func NewCollector(p *Pipeline, catalog Catalog, sessions func() int) *Collector {
	vmLabels := []string{"vm_id", "name"}
	return &Collector{
		pipeline:      p,
		catalog:       catalog,
		sessions:      sessions,
		hostCPU:       prometheus.NewDesc("fastvm_host_cpu_percent", "Host CPU usage percentage", nil, nil),
		hostMemory:    prometheus.NewDesc("fastvm_host_memory_percent", "Host memory usage percentage", nil, nil),
		hostDiskRead:  prometheus.NewDesc("fastvm_host_disk_read_mbps", "Host disk read rate in MB/s", nil, nil),
		hostDiskWrite: prometheus.NewDesc("fastvm_host_disk_write_mbps", "Host disk write rate in MB/s", nil, nil),
		vmCPU:         prometheus.NewDesc("fastvm_vm_cpu_percent", "Hypervisor process CPU usage percentage", vmLabels, nil),
		vmMemory:      prometheus.NewDesc("fastvm_vm_memory_used_mb", "Hypervisor process resident memory in MB", vmLabels, nil),
		vmMemoryPct:   prometheus.NewDesc("fastvm_vm_memory_percent", "Resident memory as a percentage of configured guest memory", vmLabels, nil),
		vmDiskRead:    prometheus.NewDesc("fastvm_vm_disk_read_mbps", "Hypervisor process disk read rate in MB/s", vmLabels, nil),
		vmDiskWrite:   prometheus.NewDesc("fastvm_vm_disk_write_mbps", "Hypervisor process disk write rate in MB/s", vmLabels, nil),
		vmStatus:      prometheus.NewDesc("fastvm_vms", "Number of VMs by status", []string{"status"}, nil),
		consoles:      prometheus.NewDesc("fastvm_console_sessions", "Open console sessions", nil, nil),
		subscribers:   prometheus.NewDesc("fastvm_telemetry_subscribers", "Connected telemetry subscribers", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.hostCPU, c.hostMemory, c.hostDiskRead, c.hostDiskWrite,
		c.vmCPU, c.vmMemory, c.vmMemoryPct, c.vmDiskRead, c.vmDiskWrite,
		c.vmStatus, c.consoles, c.subscribers,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	vms := c.catalog.List()
	names := make(map[string]string, len(vms))
	counts := map[models.VMStatus]int{models.StatusStopped: 0, models.StatusRunning: 0}
	for _, vm := range vms {
		names[vm.ID] = vm.Name
		counts[vm.Status]++
	}
	for status, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.vmStatus, prometheus.GaugeValue, float64(n), string(status))
	}

	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(c.consoles, prometheus.GaugeValue, float64(c.sessions()))
	}
	if hub := c.pipeline.Hub(); hub != nil {
		ch <- prometheus.MustNewConstMetric(c.subscribers, prometheus.GaugeValue, float64(hub.Count()))
	}

	frame, ok := c.pipeline.Latest()
	if !ok {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.hostCPU, prometheus.GaugeValue, frame.Host.CPUPercent)
	ch <- prometheus.MustNewConstMetric(c.hostMemory, prometheus.GaugeValue, frame.Host.MemoryPercent)
	ch <- prometheus.MustNewConstMetric(c.hostDiskRead, prometheus.GaugeValue, frame.Host.DiskReadMBps)
	ch <- prometheus.MustNewConstMetric(c.hostDiskWrite, prometheus.GaugeValue, frame.Host.DiskWriteMBps)

	for id, s := range frame.VMs {
		name, known := names[id]
		if !known {
			// deleted since the tick
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.vmCPU, prometheus.GaugeValue, s.CPUPercent, id, name)
		ch <- prometheus.MustNewConstMetric(c.vmMemory, prometheus.GaugeValue, s.MemoryUsedMB, id, name)
		ch <- prometheus.MustNewConstMetric(c.vmMemoryPct, prometheus.GaugeValue, s.MemoryPercent, id, name)
		ch <- prometheus.MustNewConstMetric(c.vmDiskRead, prometheus.GaugeValue, s.DiskReadMBps, id, name)
		ch <- prometheus.MustNewConstMetric(c.vmDiskWrite, prometheus.GaugeValue, s.DiskWriteMBps, id, name)
	}
}
