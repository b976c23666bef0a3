package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/shirou/gopsutil/v4/disk"

	"evalgo.org/fastvm/internal/hostnet"
)

// kvmDevice is the accelerator device node.
var kvmDevice = "/dev/kvm"

// Bridges lists the host bridges a VM can attach to right now.
func (e *Engine) Bridges() ([]hostnet.Interface, error) {
	return hostnet.Bridges(e.host)
}

// Interfaces lists the physical interfaces usable as macvtap parents.
func (e *Engine) Interfaces() ([]hostnet.Interface, error) {
	return hostnet.Physical(e.host)
}

// Check is the result of one health probe.
type Check struct {
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// Health is the overall host readiness.
type Health struct {
	Status string           `json:"status"`
	Checks map[string]Check `json:"checks"`
}

// Healthy reports whether every check passed.
func (h Health) Healthy() bool {
	return h.Status == "healthy"
}

// Health checks the hypervisor and image binaries, the accelerator, free
// space in the data directory and the history store. A catalog write that
// failed earlier is retried and reported until it succeeds.
func (e *Engine) Health(ctx context.Context) Health {
	checks := map[string]Check{
		"hypervisor": binaryCheck(e.cfg.Hypervisor.Binary),
		"image_tool": binaryCheck(e.cfg.Hypervisor.ImgBinary),
		"kvm":        fileCheck(kvmDevice),
		"disk":       e.diskCheck(ctx),
		"history":    e.historyCheck(),
		"catalog":    e.catalogCheck(),
	}
	h := Health{Status: "healthy", Checks: checks}
	for _, c := range checks {
		if !c.OK {
			h.Status = "degraded"
			break
		}
	}
	return h
}

// Preflight logs every failed health check. The server starts regardless;
// VMs fail individually with a precise error when a dependency is missing.
func (e *Engine) Preflight(ctx context.Context) {
	for name, c := range e.Health(ctx).Checks {
		if !c.OK {
			e.log.WithField("check", name).Warn("preflight: " + c.Detail)
		}
	}
}

func binaryCheck(name string) Check {
	path, err := exec.LookPath(name)
	if err != nil {
		return Check{Detail: fmt.Sprintf("%s not found in PATH", name)}
	}
	return Check{OK: true, Detail: path}
}

func fileCheck(path string) Check {
	if _, err := os.Stat(path); err != nil {
		return Check{Detail: fmt.Sprintf("%s not available", path)}
	}
	return Check{OK: true, Detail: path}
}

func (e *Engine) diskCheck(ctx context.Context) Check {
	usage, err := disk.UsageWithContext(ctx, e.cfg.Storage.DataDir)
	if err != nil {
		return Check{Detail: err.Error()}
	}
	freeGB := float64(usage.Free) / (1 << 30)
	detail := fmt.Sprintf("%.1f GB free", freeGB)
	if freeGB < float64(e.cfg.Storage.MinFreeGB) {
		return Check{Detail: detail + fmt.Sprintf(", below %d GB", e.cfg.Storage.MinFreeGB)}
	}
	return Check{OK: true, Detail: detail}
}

func (e *Engine) catalogCheck() Check {
	if err := e.reg.Flush(); err != nil {
		return Check{Detail: err.Error()}
	}
	return Check{OK: true, Detail: e.cfg.Storage.CatalogDir}
}

func (e *Engine) historyCheck() Check {
	if err := e.store.Ping(); err != nil {
		return Check{Detail: err.Error()}
	}
	return Check{OK: true}
}
