// Package registry is the durable catalog of VMs, volumes, snapshots and
// base images, and the only place their state changes.
//
// Reads return copies of committed records. Every change to a VM goes through
// Update, which runs inside that VM's critical section against a draft copy;
// only the draft's final state is committed, so observers never see the
// transient starting or stopping statuses. Changes on different VMs run in
// parallel; the catalog lock is held only while a commit is applied and
// catalog files are written in commit order by a single writer.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"evalgo.org/fastvm/internal/logging"
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// Registry holds the catalog in memory and mirrors it to JSON files.
type Registry struct {
	dir string
	log *logrus.Entry

	mu    sync.RWMutex
	cat   *catalog
	ports map[int]string // console port -> owning VM id

	locksMu sync.Mutex
	locks   map[string]chan struct{}

	saveMu sync.Mutex
	dirty  bool
}

// Open loads the catalog from dir, creating it if needed, and rebuilds the
// console port table from the VMs recorded as running.
func Open(dir string) (*Registry, error) {
	cat, err := loadCatalog(dir)
	if err != nil {
		return nil, err
	}
	r := &Registry{
		dir:   dir,
		log:   logging.For("registry"),
		cat:   cat,
		ports: make(map[int]string),
		locks: make(map[string]chan struct{}),
	}
	for id, vm := range cat.VMs {
		if vm.Status != models.StatusRunning {
			// a crash mid-transition can only have left a stable status on disk,
			// anything else is treated as stopped
			vm.Status = models.StatusStopped
			vm.Runtime = nil
			continue
		}
		if vm.Runtime == nil {
			vm.Status = models.StatusStopped
			continue
		}
		if owner, taken := r.ports[vm.Runtime.ConsolePort]; taken {
			r.log.WithFields(logrus.Fields{"vm": id, "other": owner, "port": vm.Runtime.ConsolePort}).
				Warn("console port recorded twice, leaving for reconciliation")
			continue
		}
		r.ports[vm.Runtime.ConsolePort] = id
	}
	if err := r.persist(); err != nil {
		return nil, err
	}
	return r, nil
}

// lock enters the critical section of id. The returned func leaves it.
func (r *Registry) lock(ctx context.Context, id string) (func(), error) {
	r.locksMu.Lock()
	ch, ok := r.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		r.locks[id] = ch
	}
	r.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, vmerr.Wrap(vmerr.KindTimeout, ctx.Err(), "waiting for vm %s", id)
	}
}

// Create inserts a new VM record. Names are unique.
func (r *Registry) Create(vm *models.VM) (*models.VM, error) {
	if err := vm.CheckRuntime(); err != nil {
		return nil, vmerr.Wrap(vmerr.KindValidation, err, "invalid vm record")
	}

	r.mu.Lock()
	if _, exists := r.cat.VMs[vm.ID]; exists {
		r.mu.Unlock()
		return nil, vmerr.Conflict("vm %s already exists", vm.ID)
	}
	if other := r.findByName(vm.Name); other != nil {
		r.mu.Unlock()
		return nil, vmerr.Conflict("a vm named %q already exists", vm.Name)
	}
	stored := vm.Copy()
	r.cat.VMs[vm.ID] = stored
	out := stored.Copy()
	r.commitLocked()
	return out, nil
}

func (r *Registry) findByName(name string) *models.VM {
	for _, vm := range r.cat.VMs {
		if strings.EqualFold(vm.Name, name) {
			return vm
		}
	}
	return nil
}

// Get returns a copy of the committed VM record.
func (r *Registry) Get(id string) (*models.VM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vm, ok := r.cat.VMs[id]
	if !ok {
		return nil, vmerr.NotFound("vm", id)
	}
	return vm.Copy(), nil
}

// Exists reports whether a VM record is committed under id.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.cat.VMs[id]
	return ok
}

// List returns every VM, oldest first.
func (r *Registry) List() []*models.VM {
	r.mu.RLock()
	out := make([]*models.VM, 0, len(r.cat.VMs))
	for _, vm := range r.cat.VMs {
		out = append(out, vm.Copy())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Running returns the VMs committed as running.
func (r *Registry) Running() []*models.VM {
	var out []*models.VM
	for _, vm := range r.List() {
		if vm.IsRunning() {
			out = append(out, vm)
		}
	}
	return out
}

// MACs returns every hardware address held by any VM.
func (r *Registry) MACs() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	macs := make(map[string]string)
	for id, vm := range r.cat.VMs {
		for _, mac := range vm.MACs() {
			macs[strings.ToLower(mac)] = id
		}
	}
	return macs
}

// PortOwner returns the VM holding a console port.
func (r *Registry) PortOwner(port int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.ports[port]
	return id, ok
}

// Update runs fn inside the critical section of VM id against a draft copy
// of its record. If fn succeeds the draft and every change staged on tx are
// committed together; otherwise nothing is, and claimed ports are returned.
// The returned VM is nil when tx deleted it.
func (r *Registry) Update(ctx context.Context, id string, fn func(tx *Txn) error) (*models.VM, error) {
	unlock, err := r.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	tx := &Txn{r: r, id: id, draft: current}
	if err := fn(tx); err != nil {
		tx.rollback()
		return nil, err
	}
	return tx.commit()
}

// View runs fn inside the critical section of id without changing anything.
func (r *Registry) View(ctx context.Context, id string, fn func(vm *models.VM) error) error {
	unlock, err := r.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	vm, err := r.Get(id)
	if err != nil {
		return err
	}
	return fn(vm)
}

// CreateVolume inserts a new detached volume.
func (r *Registry) CreateVolume(vol *models.Volume) (*models.Volume, error) {
	r.mu.Lock()
	for _, other := range r.cat.Volumes {
		if strings.EqualFold(other.Name, vol.Name) {
			r.mu.Unlock()
			return nil, vmerr.Conflict("a volume named %q already exists", vol.Name)
		}
	}
	stored := vol.Copy()
	stored.AttachedTo = nil
	r.cat.Volumes[vol.ID] = stored
	out := stored.Copy()
	r.commitLocked()
	return out, nil
}

func (r *Registry) GetVolume(id string) (*models.Volume, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vol, ok := r.cat.Volumes[id]
	if !ok {
		return nil, vmerr.NotFound("volume", id)
	}
	return vol.Copy(), nil
}

func (r *Registry) ListVolumes() []*models.Volume {
	r.mu.RLock()
	out := make([]*models.Volume, 0, len(r.cat.Volumes))
	for _, vol := range r.cat.Volumes {
		out = append(out, vol.Copy())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DeleteVolume removes a detached volume record and returns it so the
// caller can remove its file.
func (r *Registry) DeleteVolume(id string) (*models.Volume, error) {
	r.mu.Lock()
	vol, ok := r.cat.Volumes[id]
	if !ok {
		r.mu.Unlock()
		return nil, vmerr.NotFound("volume", id)
	}
	if vol.Attached() {
		r.mu.Unlock()
		return nil, vmerr.Conflict("volume %s is attached to vm %s", id, *vol.AttachedTo)
	}
	delete(r.cat.Volumes, id)
	r.commitLocked()
	return vol.Copy(), nil
}

// GetSnapshot returns a snapshot of vmID.
func (r *Registry) GetSnapshot(vmID, snapID string) (*models.Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.cat.Snapshots[snapID]
	if !ok || s.VMID != vmID {
		return nil, vmerr.NotFound("snapshot", snapID)
	}
	cp := *s
	return &cp, nil
}

// ListSnapshots returns the snapshots of vmID, oldest first. Snapshots kept
// after their VM was deleted are still listed.
func (r *Registry) ListSnapshots(vmID string) []*models.Snapshot {
	r.mu.RLock()
	var out []*models.Snapshot
	for _, s := range r.cat.Snapshots {
		if s.VMID == vmID {
			cp := *s
			out = append(out, &cp)
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DeleteSnapshot removes a snapshot record inside the critical section of
// its VM, which may no longer exist.
func (r *Registry) DeleteSnapshot(ctx context.Context, vmID, snapID string) (*models.Snapshot, error) {
	unlock, err := r.lock(ctx, vmID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	r.mu.Lock()
	s, ok := r.cat.Snapshots[snapID]
	if !ok || s.VMID != vmID {
		r.mu.Unlock()
		return nil, vmerr.NotFound("snapshot", snapID)
	}
	delete(r.cat.Snapshots, snapID)
	r.commitLocked()
	return s, nil
}

// Snapshots returns every snapshot record, including those of deleted VMs.
func (r *Registry) Snapshots() []*models.Snapshot {
	r.mu.RLock()
	out := make([]*models.Snapshot, 0, len(r.cat.Snapshots))
	for _, s := range r.cat.Snapshots {
		cp := *s
		out = append(out, &cp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Registry) Images() []*models.BaseImage {
	r.mu.RLock()
	out := make([]*models.BaseImage, 0, len(r.cat.Images))
	for _, img := range r.cat.Images {
		cp := *img
		out = append(out, &cp)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PruneImages drops base images no VM disk or other base image layers on
// and returns them so the caller can remove their files.
func (r *Registry) PruneImages() []*models.BaseImage {
	r.mu.Lock()
	var pruned []*models.BaseImage
	for {
		used := make(map[string]bool)
		for _, vm := range r.cat.VMs {
			if vm.BaseImage != "" {
				used[vm.BaseImage] = true
			}
		}
		for _, img := range r.cat.Images {
			if img.Backing != "" {
				used[img.Backing] = true
			}
		}
		removed := false
		for id, img := range r.cat.Images {
			if !used[id] {
				delete(r.cat.Images, id)
				pruned = append(pruned, img)
				removed = true
			}
		}
		if !removed {
			break
		}
	}
	if len(pruned) == 0 {
		r.mu.Unlock()
		return nil
	}
	r.commitLocked()
	return pruned
}

// commitLocked is called with r.mu held for writing and releases it. The
// encoded catalog is written under saveMu, taken before r.mu is released so
// files are written in commit order while readers proceed.
func (r *Registry) commitLocked() {
	enc, err := r.cat.encode()
	r.saveMu.Lock()
	r.mu.Unlock()
	defer r.saveMu.Unlock()
	if err == nil {
		err = enc.write(r.dir)
	}
	if err != nil {
		r.dirty = true
		r.log.WithError(err).Error("failed to write catalog, will retry on next commit")
		return
	}
	r.dirty = false
}

// persist writes the whole catalog.
func (r *Registry) persist() error {
	r.mu.RLock()
	enc, err := r.cat.encode()
	r.saveMu.Lock()
	r.mu.RUnlock()
	defer r.saveMu.Unlock()
	if err != nil {
		return err
	}
	if err := enc.write(r.dir); err != nil {
		r.dirty = true
		return err
	}
	r.dirty = false
	return nil
}

// Flush retries a catalog write that failed earlier.
func (r *Registry) Flush() error {
	r.saveMu.Lock()
	dirty := r.dirty
	r.saveMu.Unlock()
	if !dirty {
		return nil
	}
	if err := r.persist(); err != nil {
		return fmt.Errorf("flush catalog: %w", err)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}
