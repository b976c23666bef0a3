// Package engine is the boundary the HTTP layer talks to. It composes the
// registry, allocator, supervisor, console proxy and telemetry pipeline and
// exposes every VM, volume, snapshot, console and telemetry operation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/allocator"
	"evalgo.org/fastvm/internal/config"
	"evalgo.org/fastvm/internal/console"
	"evalgo.org/fastvm/internal/diskimg"
	"evalgo.org/fastvm/internal/hostnet"
	"evalgo.org/fastvm/internal/integrity"
	"evalgo.org/fastvm/internal/logging"
	"evalgo.org/fastvm/internal/registry"
	"evalgo.org/fastvm/internal/scheduler"
	"evalgo.org/fastvm/internal/supervisor"
	"evalgo.org/fastvm/internal/telemetry"
)

// Deps are the host-facing collaborators. Nil fields use the real
// implementations.
type Deps struct {
	Launcher supervisor.Launcher
	Host     hostnet.Host
	Images   diskimg.Runner
	Source   telemetry.Source
}

// Engine owns every component of one host.
type Engine struct {
	cfg *config.Config
	log *logrus.Entry

	reg      *registry.Registry
	alloc    *allocator.Allocator
	images   *diskimg.Tool
	sup      *supervisor.Supervisor
	consoles *console.Proxy
	pipeline *telemetry.Pipeline
	store    *telemetry.Store
	host     hostnet.Inventory
	audit    *integrity.Service
	sched    *scheduler.Scheduler

	// macMu serializes address assignment so two creates never pick the
	// same fresh MAC
	macMu sync.Mutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the catalog and history store and wires the components. Call
// Start to reconcile and begin sampling.
func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if deps.Launcher == nil {
		deps.Launcher = supervisor.ExecLauncher{}
	}
	if deps.Host == nil {
		deps.Host = hostnet.Netlink{}
	}
	if deps.Images == nil {
		deps.Images = diskimg.ExecRunner{}
	}
	if deps.Source == nil {
		deps.Source = telemetry.NewHostSource(cfg.Storage.DataDir)
	}

	for _, dir := range cfg.Storage.Dirs() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
		}
	}

	reg, err := registry.Open(cfg.Storage.CatalogDir)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	store, err := telemetry.OpenStore(cfg.HistoryPath())
	if err != nil {
		return nil, err
	}

	alloc := allocator.New(cfg, deps.Host)
	sup := supervisor.New(reg, alloc, deps.Launcher, deps.Host, deps.Images, supervisor.OptionsFrom(cfg.Hypervisor))
	consoles := console.New(reg, console.OptionsFrom(cfg.Console))
	sup.SetConsoles(consoles)

	hub := telemetry.NewHub(cfg.Telemetry.MaxPushFailures)
	pipeline := telemetry.New(deps.Source, reg, hub, store, telemetry.OptionsFrom(cfg.Telemetry))

	e := &Engine{
		cfg:      cfg,
		log:      logging.For("engine"),
		reg:      reg,
		alloc:    alloc,
		images:   diskimg.New(cfg.Hypervisor.ImgBinary, deps.Images),
		sup:      sup,
		consoles: consoles,
		pipeline: pipeline,
		store:    store,
		host:     deps.Host,
		audit:    integrity.NewService(reg, cfg.Storage),
		sched:    scheduler.New(),
	}
	e.audit.Images = e.images
	if err := e.scheduleMaintenance(); err != nil {
		return nil, err
	}
	return e, nil
}

// Start reconciles the catalog with live processes, then runs the telemetry
// hub and sampler until Close. A reconcile failure is logged; the VMs it
// could not check keep their recorded state until the next start.
func (e *Engine) Start(ctx context.Context) {
	if err := e.sup.Reconcile(ctx); err != nil {
		e.log.WithError(err).Error("reconciliation incomplete")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(3)
	go func() {
		defer e.wg.Done()
		e.pipeline.Hub().Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.sched.Run(runCtx)
	}()
	go func() {
		defer e.wg.Done()
		e.pipeline.Run(runCtx)
	}()
	e.log.WithField("vms", len(e.reg.List())).Info("engine started")
}

// Close ends every console session, stops the VMs when configured to and
// releases the stores. Running VMs are otherwise left running and adopted
// by the next Start.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	e.consoles.CloseAll()
	if e.cfg.Hypervisor.StopOnExit {
		if err := e.sup.StopAll(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop vms: %w", err))
		}
	}
	if e.cancel != nil {
		e.cancel()
		e.wg.Wait()
	}
	if err := e.reg.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close history store: %w", err))
	}
	return errors.Join(errs...)
}

// Collector exposes the latest samples and engine gauges to prometheus.
func (e *Engine) Collector() prometheus.Collector {
	return telemetry.NewCollector(e.pipeline, e.reg, e.consoles.Count)
}

// Config returns the engine configuration.
func (e *Engine) Config() *config.Config {
	return e.cfg
}
