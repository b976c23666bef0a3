package registry

import (
	"evalgo.org/fastvm/internal/vmerr"
	"evalgo.org/fastvm/models"
)

// Txn stages changes to one VM and the records it touches. It is only valid
// inside the Update callback that received it.
type Txn struct {
	r     *Registry
	id    string
	draft *models.VM

	claimed []int
	attach  []string
	detach  []string

	deleted          bool
	reclaimVolumes   bool
	reclaimSnapshots bool

	addSnapshots []*models.Snapshot
	delSnapshots []string
	creates      []*models.VM
	images       []*models.BaseImage
}

// VM returns the draft record. Changes to it are committed when the
// callback returns nil.
func (tx *Txn) VM() *models.VM {
	return tx.draft
}

// ClaimPort reserves the lowest port in [lo, hi] that no VM holds and that
// usable accepts. The reservation is dropped if the transaction fails, and
// any other port held by this VM is released on commit.
func (tx *Txn) ClaimPort(lo, hi int, usable func(port int) bool) (int, error) {
	r := tx.r
	r.mu.Lock()
	defer r.mu.Unlock()
	for port := lo; port <= hi; port++ {
		if _, held := r.ports[port]; held {
			continue
		}
		if usable != nil && !usable(port) {
			continue
		}
		r.ports[port] = tx.id
		tx.claimed = append(tx.claimed, port)
		return port, nil
	}
	return 0, vmerr.New(vmerr.KindResourceExhausted, "no free console port in %d-%d", lo, hi)
}

// Volume returns a committed volume record.
func (tx *Txn) Volume(id string) (*models.Volume, error) {
	return tx.r.GetVolume(id)
}

// AttachVolume stages attaching a detached volume to this VM.
func (tx *Txn) AttachVolume(volID string) error {
	vol, err := tx.r.GetVolume(volID)
	if err != nil {
		return err
	}
	if vol.Attached() {
		if *vol.AttachedTo == tx.id {
			return vmerr.Conflict("volume %s is already attached to vm %s", volID, tx.id)
		}
		return vmerr.Conflict("volume %s is attached to vm %s", volID, *vol.AttachedTo)
	}
	tx.draft.Volumes = append(tx.draft.Volumes, volID)
	tx.attach = append(tx.attach, volID)
	return nil
}

// DetachVolume stages detaching a volume from this VM.
func (tx *Txn) DetachVolume(volID string) error {
	if !tx.draft.HasVolume(volID) {
		return vmerr.NotFound("attached volume", volID)
	}
	kept := make([]string, 0, len(tx.draft.Volumes))
	for _, id := range tx.draft.Volumes {
		if id != volID {
			kept = append(kept, id)
		}
	}
	tx.draft.Volumes = kept
	tx.detach = append(tx.detach, volID)
	return nil
}

// Delete stages removal of the VM. Attached volumes are detached, or
// removed from the catalog when reclaimVolumes is set; snapshots are kept
// unless reclaimSnapshots is set.
func (tx *Txn) Delete(reclaimVolumes, reclaimSnapshots bool) {
	tx.deleted = true
	tx.reclaimVolumes = reclaimVolumes
	tx.reclaimSnapshots = reclaimSnapshots
}

func (tx *Txn) AddSnapshot(s *models.Snapshot) {
	cp := *s
	tx.addSnapshots = append(tx.addSnapshots, &cp)
}

func (tx *Txn) RemoveSnapshot(id string) {
	tx.delSnapshots = append(tx.delSnapshots, id)
}

// CreateVM stages a new VM committed together with this one, as a clone.
func (tx *Txn) CreateVM(vm *models.VM) {
	tx.creates = append(tx.creates, vm.Copy())
}

// AddImage stages a new base image record.
func (tx *Txn) AddImage(img *models.BaseImage) {
	cp := *img
	tx.images = append(tx.images, &cp)
}

func (tx *Txn) rollback() {
	if len(tx.claimed) == 0 {
		return
	}
	r := tx.r
	r.mu.Lock()
	for _, port := range tx.claimed {
		if r.ports[port] == tx.id {
			delete(r.ports, port)
		}
	}
	r.mu.Unlock()
	tx.claimed = nil
}

// commit applies the draft and staged changes atomically under the catalog
// lock, revalidating what may have changed since it was staged.
func (tx *Txn) commit() (*models.VM, error) {
	r := tx.r
	draft := tx.draft
	if !tx.deleted {
		draft.UpdatedAt = now()
		if err := draft.CheckRuntime(); err != nil {
			tx.rollback()
			return nil, vmerr.Wrap(vmerr.KindInternal, err, "refusing to commit vm %s", tx.id)
		}
	}

	r.mu.Lock()
	if err := tx.checkLocked(); err != nil {
		r.mu.Unlock()
		tx.rollback()
		return nil, err
	}

	for _, volID := range tx.attach {
		id := tx.id
		r.cat.Volumes[volID].AttachedTo = &id
	}
	for _, volID := range tx.detach {
		if vol, ok := r.cat.Volumes[volID]; ok {
			vol.AttachedTo = nil
		}
	}
	for _, s := range tx.addSnapshots {
		r.cat.Snapshots[s.ID] = s
	}
	for _, id := range tx.delSnapshots {
		delete(r.cat.Snapshots, id)
	}
	for _, img := range tx.images {
		r.cat.Images[img.ID] = img
	}
	for _, vm := range tx.creates {
		r.cat.VMs[vm.ID] = vm
	}

	keepPort := 0
	if !tx.deleted && draft.Runtime != nil {
		keepPort = draft.Runtime.ConsolePort
	}
	for port, owner := range r.ports {
		if owner == tx.id && port != keepPort {
			delete(r.ports, port)
		}
	}

	var out *models.VM
	if tx.deleted {
		tx.applyDeleteLocked()
	} else {
		r.cat.VMs[tx.id] = draft
		out = draft.Copy()
	}
	r.commitLocked()
	return out, nil
}

func (tx *Txn) checkLocked() error {
	r := tx.r
	if !tx.deleted && tx.draft.Runtime != nil {
		if owner := r.ports[tx.draft.Runtime.ConsolePort]; owner != tx.id {
			return vmerr.New(vmerr.KindInternal, "vm %s runs on console port %d it does not hold", tx.id, tx.draft.Runtime.ConsolePort)
		}
	}
	for _, volID := range tx.attach {
		vol, ok := r.cat.Volumes[volID]
		if !ok {
			return vmerr.NotFound("volume", volID)
		}
		if vol.Attached() {
			return vmerr.Conflict("volume %s is attached to vm %s", volID, *vol.AttachedTo)
		}
	}
	for _, vm := range tx.creates {
		if _, exists := r.cat.VMs[vm.ID]; exists {
			return vmerr.Conflict("vm %s already exists", vm.ID)
		}
		if other := r.findByName(vm.Name); other != nil {
			return vmerr.Conflict("a vm named %q already exists", vm.Name)
		}
		if err := vm.CheckRuntime(); err != nil {
			return vmerr.Wrap(vmerr.KindValidation, err, "invalid vm record")
		}
	}
	if !tx.deleted {
		if other := r.findByName(tx.draft.Name); other != nil && other.ID != tx.id {
			return vmerr.Conflict("a vm named %q already exists", tx.draft.Name)
		}
	}
	return nil
}

func (tx *Txn) applyDeleteLocked() {
	r := tx.r
	for _, volID := range tx.draft.Volumes {
		vol, ok := r.cat.Volumes[volID]
		if !ok {
			continue
		}
		if tx.reclaimVolumes {
			delete(r.cat.Volumes, volID)
		} else {
			vol.AttachedTo = nil
		}
	}
	if tx.reclaimSnapshots {
		for id, s := range r.cat.Snapshots {
			if s.VMID == tx.id {
				delete(r.cat.Snapshots, id)
			}
		}
	}
	delete(r.cat.VMs, tx.id)

	r.locksMu.Lock()
	delete(r.locks, tx.id)
	r.locksMu.Unlock()
}
