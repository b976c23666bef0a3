// Package enginetest provides in-process stand-ins for the hypervisor, the
// image tool, the host network and the telemetry source, so an engine can
// run in tests without touching the host.
package enginetest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"evalgo.org/fastvm/internal/config"
	"evalgo.org/fastvm/internal/diskimg"
	"evalgo.org/fastvm/internal/hostnet"
	"evalgo.org/fastvm/internal/supervisor"
	"evalgo.org/fastvm/models"
)

// Greeting is the first thing a fake display sends on every connection.
const Greeting = "REDQ"

// Config returns a configuration rooted in a temporary directory with short
// supervision timings and console ports from portMin to portMin+69.
func Config(t testing.TB, portMin int) *config.Config {
	t.Helper()
	cfg := config.Default()
	s := &cfg.Storage
	s.DataDir = t.TempDir()
	s.CatalogDir = filepath.Join(s.DataDir, "catalog")
	s.VMsDir = filepath.Join(s.DataDir, "vms")
	s.ImagesDir = filepath.Join(s.DataDir, "images")
	s.VolumesDir = filepath.Join(s.DataDir, "volumes")
	s.SnapshotsDir = filepath.Join(s.DataDir, "snapshots")
	s.LogsDir = filepath.Join(s.DataDir, "logs")
	s.MinFreeGB = 0

	cfg.Hypervisor.Binary = "sh"
	cfg.Hypervisor.ImgBinary = "sh"
	cfg.Hypervisor.GracePeriod = 200 * time.Millisecond
	cfg.Hypervisor.KillTimeout = 200 * time.Millisecond
	cfg.Hypervisor.ProbeTimeout = 2 * time.Second
	cfg.Hypervisor.StopOnExit = true
	cfg.Console.SpicePortMin, cfg.Console.SpicePortMax = portMin, portMin+69
	cfg.Console.CleanupTimeout = time.Second
	cfg.Telemetry.Interval = time.Hour
	return cfg
}

// Process is a fake hypervisor. It serves a display that greets and echoes
// on its console port and exits on SIGTERM or SIGKILL.
type Process struct {
	pid  int
	ln   net.Listener
	done chan struct{}
	once sync.Once
}

func (p *Process) Pid() int                { return p.pid }
func (p *Process) Exited() <-chan struct{} { return p.done }
func (p *Process) Output() string          { return "" }

func (p *Process) Signal(sig os.Signal) error {
	select {
	case <-p.done:
		return os.ErrProcessDone
	default:
	}
	if sig == syscall.SIGTERM || sig == os.Kill {
		p.once.Do(func() {
			p.ln.Close()
			close(p.done)
		})
	}
	return nil
}

// Launcher starts fake hypervisors and records their argv.
type Launcher struct {
	mu      sync.Mutex
	nextPid int
	argv    [][]string
}

func NewLauncher() *Launcher {
	return &Launcher{nextPid: 200000}
}

func (l *Launcher) Launch(_ context.Context, args []string, _ supervisor.LaunchOptions) (supervisor.Process, error) {
	var port int
	fmt.Sscanf(ArgAfter(args, "-spice"), "port=%d", &port)
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, err
	}
	go serveDisplay(ln)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextPid++
	l.argv = append(l.argv, args)
	return &Process{pid: l.nextPid, ln: ln, done: make(chan struct{})}, nil
}

func serveDisplay(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer c.Close()
			if _, err := c.Write([]byte(Greeting)); err != nil {
				return
			}
			_, _ = io.Copy(c, c)
		}()
	}
}

// Launches returns the argv of every launch so far.
func (l *Launcher) Launches() [][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]string(nil), l.argv...)
}

// ArgAfter returns the argument following flag.
func ArgAfter(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

// Images performs image operations on plain files. An overlay records its
// backing file as "overlay:<path>"; a conversion copies bytes and info reads
// the backing file back.
type Images struct{}

func (Images) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	switch args[0] {
	case "create":
		for i, a := range args {
			if a == "-b" {
				return nil, os.WriteFile(args[len(args)-1], []byte("overlay:"+args[i+1]), 0o644)
			}
		}
		return nil, os.WriteFile(args[len(args)-2], nil, 0o644)
	case "convert":
		data, err := os.ReadFile(args[len(args)-2])
		if err != nil {
			return []byte(err.Error()), err
		}
		return nil, os.WriteFile(args[len(args)-1], data, 0o644)
	case "info":
		data, err := os.ReadFile(args[len(args)-1])
		if err != nil {
			return []byte(err.Error()), err
		}
		info := diskimg.Info{Format: "qcow2", ActualSize: int64(len(data))}
		if backing, ok := strings.CutPrefix(string(data), "overlay:"); ok {
			info.BackingFilename = backing
		}
		return json.Marshal(info)
	}
	return nil, fmt.Errorf("unexpected image command %v", args)
}

// Host has one bridge br0 and one physical interface eth0.
type Host struct{}

func (Host) Interfaces() ([]hostnet.Interface, error) {
	return []hostnet.Interface{
		{Name: "br0", Type: "bridge", Up: true},
		{Name: "eth0", Type: "device", Up: true},
		{Name: "lo", Type: "device", Up: true},
	}, nil
}

func (Host) CreateMacvtap(name, _, _ string) (*hostnet.Tap, error) {
	return nil, fmt.Errorf("macvtap %s is not available", name)
}

func (Host) DeleteLink(string) error { return nil }

// Source reports fixed readings: 4 cpus and 16 GB on the host, and each VM
// using its configured memory.
type Source struct{}

func (Source) Host(context.Context) (models.MetricSample, error) {
	return models.MetricSample{Timestamp: time.Now(), Scope: models.HostScope, CPUPercent: 10, MemoryUsedMB: 1024}, nil
}

func (Source) VM(_ context.Context, vm *models.VM) (models.MetricSample, error) {
	return models.MetricSample{Timestamp: time.Now(), Scope: vm.ID, CPUPercent: 1, MemoryUsedMB: float64(vm.MemoryMB)}, nil
}

func (Source) HostSnapshot(context.Context) (models.HostSnapshot, error) {
	return models.HostSnapshot{CPUCount: 4, MemoryTotalGB: 16}, nil
}

func (Source) Forget(string) {}
