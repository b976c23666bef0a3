package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"evalgo.org/fastvm/models"
)

// ErrProcessGone is returned by Source.VM when the VM's process exited
// between listing and sampling.
var ErrProcessGone = errors.New("process gone")

// Source reads raw utilisation figures.
type Source interface {
	Host(ctx context.Context) (models.MetricSample, error)
	VM(ctx context.Context, vm *models.VM) (models.MetricSample, error)
	HostSnapshot(ctx context.Context) (models.HostSnapshot, error)
	// Forget drops any per-VM state kept between samples.
	Forget(vmID string)
}

const mb = 1024 * 1024

type ioCounters struct {
	read, write uint64
	at          time.Time
}

type vmState struct {
	proc *process.Process
	prev ioCounters
}

// HostSource samples the local host and hypervisor processes with gopsutil.
// CPU and I/O figures are rates since the previous call for the same scope.
type HostSource struct {
	// DiskPath is the filesystem reported by HostSnapshot.
	DiskPath string

	mu     sync.Mutex
	hostIO ioCounters
	vms    map[string]*vmState
	primed bool
}

// NewHostSource creates a HostSource reporting usage of the filesystem
// holding diskPath.
func NewHostSource(diskPath string) *HostSource {
	return &HostSource{DiskPath: diskPath, vms: make(map[string]*vmState)}
}

func (s *HostSource) Host(ctx context.Context) (models.MetricSample, error) {
	now := time.Now().UTC()
	sample := models.MetricSample{Timestamp: now, Scope: models.HostScope}

	pct, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return sample, fmt.Errorf("host cpu: %w", err)
	}
	if len(pct) > 0 {
		sample.CPUPercent = round1(pct[0])
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return sample, fmt.Errorf("host memory: %w", err)
	}
	sample.MemoryUsedMB = round1(float64(vm.Used) / mb)
	sample.MemoryPercent = round1(vm.UsedPercent)

	counters, err := disk.IOCountersWithContext(ctx)
	if err == nil {
		var cur ioCounters
		for _, c := range counters {
			cur.read += c.ReadBytes
			cur.write += c.WriteBytes
		}
		cur.at = now

		s.mu.Lock()
		if s.primed {
			sample.DiskReadMBps, sample.DiskWriteMBps = rates(s.hostIO, cur)
		}
		s.hostIO = cur
		s.primed = true
		s.mu.Unlock()
	}
	return sample, nil
}

func (s *HostSource) VM(ctx context.Context, vm *models.VM) (models.MetricSample, error) {
	sample := models.MetricSample{Timestamp: time.Now().UTC(), Scope: vm.ID}
	if vm.Runtime == nil {
		return sample, ErrProcessGone
	}
	pid := int32(vm.Runtime.PID)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.vms[vm.ID]
	if st == nil || st.proc.Pid != pid {
		p, err := process.NewProcessWithContext(ctx, pid)
		if err != nil {
			delete(s.vms, vm.ID)
			return sample, ErrProcessGone
		}
		st = &vmState{proc: p}
		s.vms[vm.ID] = st
	}

	cpuPct, err := st.proc.PercentWithContext(ctx, 0)
	if err != nil {
		delete(s.vms, vm.ID)
		return sample, ErrProcessGone
	}
	sample.CPUPercent = round1(cpuPct)

	memInfo, err := st.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		delete(s.vms, vm.ID)
		return sample, ErrProcessGone
	}
	sample.MemoryUsedMB = round1(float64(memInfo.RSS) / mb)
	if vm.MemoryMB > 0 {
		sample.MemoryPercent = round1(sample.MemoryUsedMB / float64(vm.MemoryMB) * 100)
	}

	// io counters need privileges over the process; rates stay zero without
	if io, err := st.proc.IOCountersWithContext(ctx); err == nil {
		cur := ioCounters{read: io.ReadBytes, write: io.WriteBytes, at: sample.Timestamp}
		if !st.prev.at.IsZero() {
			sample.DiskReadMBps, sample.DiskWriteMBps = rates(st.prev, cur)
		}
		st.prev = cur
	}
	return sample, nil
}

func (s *HostSource) HostSnapshot(ctx context.Context) (models.HostSnapshot, error) {
	var snap models.HostSnapshot

	pct, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false)
	if err != nil {
		return snap, fmt.Errorf("host cpu: %w", err)
	}
	if len(pct) > 0 {
		snap.CPUPercent = round1(pct[0])
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		snap.CPUCount = n
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return snap, fmt.Errorf("host memory: %w", err)
	}
	snap.MemoryTotalGB = round1(float64(vm.Total) / (1024 * mb))
	snap.MemoryUsedGB = round1(float64(vm.Used) / (1024 * mb))
	snap.MemoryPercent = round1(vm.UsedPercent)

	path := s.DiskPath
	if path == "" {
		path = "/"
	}
	du, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return snap, fmt.Errorf("disk usage of %s: %w", path, err)
	}
	snap.DiskTotalGB = round1(float64(du.Total) / (1024 * mb))
	snap.DiskUsedGB = round1(float64(du.Used) / (1024 * mb))
	snap.DiskPercent = round1(du.UsedPercent)
	return snap, nil
}

func (s *HostSource) Forget(vmID string) {
	s.mu.Lock()
	delete(s.vms, vmID)
	s.mu.Unlock()
}

// rates returns read and write MB/s between two counter readings. Counter
// resets yield zero rather than a negative rate.
func rates(prev, cur ioCounters) (float64, float64) {
	secs := cur.at.Sub(prev.at).Seconds()
	if secs <= 0 {
		return 0, 0
	}
	delta := func(a, b uint64) float64 {
		if b < a {
			return 0
		}
		return float64(b-a) / mb / secs
	}
	return round2(delta(prev.read, cur.read)), round2(delta(prev.write, cur.write))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }
