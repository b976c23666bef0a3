// Package telemetry samples host and VM utilisation on a fixed tick, keeps
// a bounded history per scope and pushes every tick to live subscribers.
package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/config"
	"evalgo.org/fastvm/internal/logging"
	"evalgo.org/fastvm/models"
)

// FrameType is the type field of pushed frames.
const FrameType = "metrics"

// VMLister lists VMs committed as running.
type VMLister interface {
	Running() []*models.VM
	Exists(id string) bool
}

// Options tune sampling and retention.
type Options struct {
	Interval time.Duration
	Capacity int

	// Retention and CleanupInterval apply to the history store.
	Retention       time.Duration
	CleanupInterval time.Duration
}

// OptionsFrom reads telemetry settings from the configuration.
func OptionsFrom(cfg config.TelemetryConfig) Options {
	return Options{
		Interval:        cfg.Interval,
		Capacity:        cfg.Capacity,
		Retention:       cfg.HistoryRetention,
		CleanupInterval: cfg.CleanupInterval,
	}
}

// Pipeline owns the rings. Only Tick mutates them; readers get copies.
type Pipeline struct {
	src   Source
	vms   VMLister
	hub   *Hub
	store *Store
	opts  Options
	log   *logrus.Entry

	// write orders a tick's ring and store writes against Forget
	write sync.Mutex

	mu     sync.RWMutex
	host   *Ring[models.MetricSample]
	rings  map[string]*Ring[models.MetricSample]
	latest *models.MetricsFrame
}

// New creates a Pipeline. store may be nil, in which case extended history
// is served from the rings.
func New(src Source, vms VMLister, hub *Hub, store *Store, opts Options) *Pipeline {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 120
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = time.Hour
	}
	return &Pipeline{
		src:   src,
		vms:   vms,
		hub:   hub,
		store: store,
		opts:  opts,
		log:   logging.For("telemetry"),
		host:  NewRing[models.MetricSample](opts.Capacity),
		rings: make(map[string]*Ring[models.MetricSample]),
	}
}

// Hub returns the subscriber hub.
func (p *Pipeline) Hub() *Hub { return p.hub }

// Run samples on every tick until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	tick := time.NewTicker(p.opts.Interval)
	defer tick.Stop()

	var cleanup <-chan time.Time
	if p.store != nil {
		t := time.NewTicker(p.opts.CleanupInterval)
		defer t.Stop()
		cleanup = t.C
	}

	p.log.WithFields(logrus.Fields{"interval": p.opts.Interval, "capacity": p.opts.Capacity}).Info("telemetry sampler started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if _, err := p.Tick(ctx); err != nil && ctx.Err() == nil {
				p.log.WithError(err).Warn("telemetry tick failed")
			}
		case <-cleanup:
			p.cleanup()
		}
	}
}

// Tick takes one host sample, then one sample per running VM, appends them
// to the rings and pushes the frame. Samples of VMs deleted while the tick
// ran are dropped.
func (p *Pipeline) Tick(ctx context.Context) (models.MetricsFrame, error) {
	host, err := p.src.Host(ctx)
	if err != nil {
		return models.MetricsFrame{}, err
	}
	frame := models.MetricsFrame{Type: FrameType, Host: host, VMs: make(map[string]models.MetricSample)}

	for _, vm := range p.vms.Running() {
		sample, err := p.src.VM(ctx, vm)
		if errors.Is(err, ErrProcessGone) {
			// the process exited between listing and sampling
			continue
		}
		if err != nil {
			p.log.WithError(err).WithField("vm", vm.ID).Warn("vm sample failed")
			continue
		}
		frame.VMs[vm.ID] = sample
	}

	p.write.Lock()
	p.mu.Lock()
	p.host.Push(frame.Host)
	for id, sample := range frame.VMs {
		if !p.vms.Exists(id) {
			delete(frame.VMs, id)
			continue
		}
		r := p.rings[id]
		if r == nil {
			r = NewRing[models.MetricSample](p.opts.Capacity)
			p.rings[id] = r
		}
		r.Push(sample)
	}
	p.latest = &frame
	p.mu.Unlock()

	if p.store != nil {
		if err := p.store.Append(frame); err != nil {
			p.log.WithError(err).Warn("failed to persist metrics")
		}
	}
	p.write.Unlock()

	if p.hub != nil {
		if err := p.hub.Publish(frame); err != nil {
			p.log.WithError(err).Warn("failed to push metrics")
		}
	}
	return frame, nil
}

func (p *Pipeline) cleanup() {
	n, err := p.store.Cleanup(time.Now().Add(-p.opts.Retention))
	if err != nil {
		p.log.WithError(err).Warn("metrics history cleanup failed")
		return
	}
	if n > 0 {
		p.log.WithField("deleted", n).Debug("metrics history cleaned")
	}
}

// History returns a copy of every ring.
func (p *Pipeline) History() models.MetricsHistory {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := models.MetricsHistory{Host: p.host.Snapshot(), VMs: make(map[string][]models.MetricSample, len(p.rings))}
	for id, r := range p.rings {
		out.VMs[id] = r.Snapshot()
	}
	return out
}

// VMHistory returns a copy of one VM's ring, empty when unknown.
func (p *Pipeline) VMHistory(vmID string) []models.MetricSample {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if r := p.rings[vmID]; r != nil {
		return r.Snapshot()
	}
	return []models.MetricSample{}
}

// Latest returns the most recent frame.
func (p *Pipeline) Latest() (models.MetricsFrame, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.latest == nil {
		return models.MetricsFrame{}, false
	}
	return *p.latest, true
}

// CurrentHost reads host utilisation and capacity now.
func (p *Pipeline) CurrentHost(ctx context.Context) (models.HostSnapshot, error) {
	return p.src.HostSnapshot(ctx)
}

// CurrentVM returns the VM's latest sample if it is fresh, otherwise it
// samples the process directly.
func (p *Pipeline) CurrentVM(ctx context.Context, vm *models.VM) (models.MetricSample, error) {
	p.mu.RLock()
	var last models.MetricSample
	var ok bool
	if r := p.rings[vm.ID]; r != nil {
		last, ok = r.Last()
	}
	p.mu.RUnlock()

	if ok && time.Since(last.Timestamp) < 2*p.opts.Interval {
		return last, nil
	}
	return p.src.VM(ctx, vm)
}

// Extended returns history newer than since from the store, or from the
// rings when no store is configured.
func (p *Pipeline) Extended(since time.Time, vmID string) (models.MetricsHistory, error) {
	if p.store != nil {
		return p.store.Range(since, vmID)
	}
	all := p.History()
	out := models.MetricsHistory{Host: newer(all.Host, since), VMs: make(map[string][]models.MetricSample)}
	for id, samples := range all.VMs {
		if vmID != "" && id != vmID {
			continue
		}
		out.VMs[id] = newer(samples, since)
	}
	return out, nil
}

// Forget drops the ring and the stored history of a deleted VM. The VM
// must already be gone from the lister.
func (p *Pipeline) Forget(vmID string) {
	p.write.Lock()
	defer p.write.Unlock()

	p.mu.Lock()
	delete(p.rings, vmID)
	p.mu.Unlock()
	p.src.Forget(vmID)

	if p.store != nil {
		if err := p.store.DeleteVM(vmID); err != nil {
			p.log.WithError(err).WithField("vm", vmID).Warn("failed to delete stored metrics")
		}
	}
}

func newer(samples []models.MetricSample, since time.Time) []models.MetricSample {
	out := []models.MetricSample{}
	for _, s := range samples {
		if s.Timestamp.After(since) {
			out = append(out, s)
		}
	}
	return out
}
